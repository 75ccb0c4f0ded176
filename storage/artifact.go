package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"review_scrooper/models"
)

const (
	DefaultListingIDPattern = `/rooms/(\d+)`
	DefaultOutputPrefix     = "airbnb_reviews"
	unknownListing          = "unknown"
)

// Artifacts names and writes the per-listing JSON review files.
type Artifacts struct {
	Dir       string
	Prefix    string
	idPattern *regexp.Regexp
}

func NewArtifacts(dir, prefix, idPattern string) (*Artifacts, error) {
	if prefix == "" {
		prefix = DefaultOutputPrefix
	}
	if idPattern == "" {
		idPattern = DefaultListingIDPattern
	}
	re, err := regexp.Compile(idPattern)
	if err != nil {
		return nil, fmt.Errorf("listing id pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("listing id pattern %q has no capture group", idPattern)
	}
	return &Artifacts{Dir: dir, Prefix: prefix, idPattern: re}, nil
}

// ListingID extracts the listing id from a page URL, or "unknown".
func (a *Artifacts) ListingID(url string) string {
	if m := a.idPattern.FindStringSubmatch(url); m != nil && m[1] != "" {
		return m[1]
	}
	return unknownListing
}

func (a *Artifacts) Filename(url string) string {
	return fmt.Sprintf("%s_%s.json", a.Prefix, a.ListingID(url))
}

func (a *Artifacts) Path(url string) string {
	return filepath.Join(a.Dir, a.Filename(url))
}

// Write stores the reviews for url and returns the file path.
func (a *Artifacts) Write(url string, reviews []models.Review) (string, error) {
	if a.Dir != "" {
		if err := os.MkdirAll(a.Dir, 0755); err != nil {
			return "", fmt.Errorf("create output dir: %w", err)
		}
	}
	path := a.Path(url)
	if err := WriteReviews(path, reviews); err != nil {
		return "", err
	}
	return path, nil
}

// EncodeReviews renders reviews as a 2-space indented JSON array with
// non-ASCII and markup characters left unescaped.
func EncodeReviews(reviews []models.Review) ([]byte, error) {
	if reviews == nil {
		reviews = []models.Review{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reviews); err != nil {
		return nil, fmt.Errorf("encode reviews: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteReviews replaces path atomically.
func WriteReviews(path string, reviews []models.Review) error {
	data, err := EncodeReviews(reviews)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func ReadReviews(path string) ([]models.Review, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reviews []models.Review
	if err := json.Unmarshal(data, &reviews); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return reviews, nil
}
