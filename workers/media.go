package workers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"review_scrooper/httputil"
	"review_scrooper/models"
)

const maxImageSize = 50 * 1024 * 1024

// Uploader stores mirrored files in S3-compatible storage.
type Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
	PublicURL(key string) string
}

// MediaWorker downloads review images, hashes them, and uploads them so the
// harvested reviews survive CDN link expiry.
type MediaWorker struct {
	httpClient *http.Client
	uploader   Uploader
	logFunc    LogFunc
	// Delay is the pause between downloads.
	Delay time.Duration
}

func NewMediaWorker(client *http.Client, uploader Uploader) *MediaWorker {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &MediaWorker{
		httpClient: client,
		uploader:   uploader,
		logFunc:    NoOpLogger,
		Delay:      200 * time.Millisecond,
	}
}

func (w *MediaWorker) SetLogger(fn LogFunc) {
	w.logFunc = fn
}

type MediaResult struct {
	OriginalURL string
	S3Key       string
	PublicURL   string
	ContentHash string
	Size        int64
	Error       error
}

type MirrorStats struct {
	Uploaded int
	Failed   int
	// Mirrored maps original image URLs to their public copies.
	Mirrored map[string]string
}

// Mirror uploads every distinct image referenced by reviews. Failures are
// counted and logged, never returned.
func (w *MediaWorker) Mirror(ctx context.Context, listingID string, reviews []models.Review) MirrorStats {
	stats := MirrorStats{Mirrored: make(map[string]string)}

	var urls []string
	seen := make(map[string]bool)
	for _, r := range reviews {
		for _, u := range r.Images {
			if !seen[u] {
				seen[u] = true
				urls = append(urls, u)
			}
		}
	}

	for i, u := range urls {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && w.Delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(w.Delay):
			}
		}

		result := w.Process(ctx, u)
		if result.Error != nil {
			stats.Failed++
			log.Printf("Media worker: failed %s: %v", u, result.Error)
			w.logFunc(models.LogLevelWarn, listingID, fmt.Sprintf("image mirror failed for %s: %v", u, result.Error))
			continue
		}
		stats.Uploaded++
		stats.Mirrored[u] = result.PublicURL
	}

	if stats.Uploaded > 0 || stats.Failed > 0 {
		log.Printf("Media worker: listing %s uploaded %d, failed %d", listingID, stats.Uploaded, stats.Failed)
	}
	return stats
}

// Process downloads one image, computes its hash, and uploads it under a
// content-addressed key.
func (w *MediaWorker) Process(ctx context.Context, imageURL string) MediaResult {
	result := MediaResult{OriginalURL: imageURL}

	req, err := http.NewRequestWithContext(ctx, "GET", imageURL, nil)
	if err != nil {
		result.Error = fmt.Errorf("create request: %w", err)
		return result
	}
	httputil.SetBrowserHeaders(req, "image/*,*/*")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("download: %w", err)
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Errorf("download status: %d", resp.StatusCode)
		return result
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize))
	if err != nil {
		result.Error = fmt.Errorf("read body: %w", err)
		return result
	}
	result.Size = int64(len(data))

	hash := sha256.Sum256(data)
	result.ContentHash = hex.EncodeToString(hash[:])

	contentType := resp.Header.Get("Content-Type")
	ext := guessExtension(imageURL, contentType)
	result.S3Key = fmt.Sprintf("media/%s/%s%s", result.ContentHash[:2], result.ContentHash, ext)

	if w.uploader == nil {
		return result
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}
	if err := w.uploader.Upload(ctx, result.S3Key, bytes.NewReader(data), contentType); err != nil {
		result.Error = fmt.Errorf("upload: %w", err)
		return result
	}
	result.PublicURL = w.uploader.PublicURL(result.S3Key)
	return result
}

// guessExtension determines file extension from URL or content-type
func guessExtension(rawURL, contentType string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	ext := strings.ToLower(path.Ext(rawURL))
	if isImageExt(ext) {
		return ext
	}

	switch strings.TrimSpace(strings.Split(contentType, ";")[0]) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tiff":
		return true
	}
	return false
}

// NoOpUploader keeps nothing; PublicURL echoes the key.
type NoOpUploader struct{}

func (u *NoOpUploader) Upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	io.Copy(io.Discard, data)
	return nil
}

func (u *NoOpUploader) PublicURL(key string) string {
	return key
}

func NewNoOpUploader() *NoOpUploader {
	return &NoOpUploader{}
}
