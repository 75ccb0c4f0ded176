package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// DefaultMaxSize applies when Setup or NewRotatingWriter get a size <= 0.
const DefaultMaxSize = 2 * 1024 * 1024

// RotatingWriter appends harvest logs to a file and moves it to <path>.1
// once it grows past maxSize. Only one backup is kept.
type RotatingWriter struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	size    int64
	maxSize int64
}

// Setup sends the standard logger to stdout and a rotating file at logPath.
func Setup(logPath string, maxSize int64) (*RotatingWriter, error) {
	rw, err := NewRotatingWriter(logPath, maxSize)
	if err != nil {
		return nil, err
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rw))
	return rw, nil
}

// NewRotatingWriter opens logPath for appending. A file already larger than
// maxSize is truncated first.
func NewRotatingWriter(logPath string, maxSize int64) (*RotatingWriter, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	if info, err := os.Stat(logPath); err == nil && info.Size() > maxSize {
		if err := os.Truncate(logPath, 0); err != nil {
			return nil, fmt.Errorf("truncate log: %w", err)
		}
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}

	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	return &RotatingWriter{
		file:    f,
		path:    logPath,
		size:    size,
		maxSize: maxSize,
	}, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.file.Write(p)
	w.size += int64(n)
	if w.size > w.maxSize {
		if rerr := w.rotate(); rerr != nil && err == nil {
			err = rerr
		}
	}
	return n, err
}

// rotate moves the file to <path>.1 and starts an empty one.
func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close log: %w", err)
	}
	if err := os.Rename(w.path, w.path+".1"); err != nil && !os.IsNotExist(err) {
		return w.reopen(os.O_APPEND, fmt.Errorf("rotate log: %w", err))
	}
	return w.reopen(os.O_TRUNC, nil)
}

func (w *RotatingWriter) reopen(mode int, cause error) error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|mode, 0644)
	if err != nil {
		return fmt.Errorf("reopen log: %w", err)
	}
	w.file = f
	if mode == os.O_TRUNC {
		w.size = 0
	}
	return cause
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
