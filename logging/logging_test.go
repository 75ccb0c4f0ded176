package logging

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriterKeepsOneBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvest.log")
	w, err := NewRotatingWriter(path, 32)
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer w.Close()

	w.Write([]byte(strings.Repeat("a", 20) + "\n"))
	w.Write([]byte(strings.Repeat("b", 20) + "\n"))
	w.Write([]byte("tail\n"))

	backup, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatalf("expected backup file: %v", err)
	}
	if !strings.Contains(string(backup), "bbbb") {
		t.Fatalf("backup missing rotated content: %q", backup)
	}

	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if string(current) != "tail\n" {
		t.Fatalf("unexpected current log %q", current)
	}
}

func TestNewRotatingWriterTruncatesOversizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvest.log")
	if err := os.WriteFile(path, []byte(strings.Repeat("x", 100)), 0644); err != nil {
		t.Fatalf("seed log: %v", err)
	}

	w, err := NewRotatingWriter(path, 50)
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer w.Close()

	info, err := os.Stat(path)
	if err != nil || info.Size() != 0 {
		t.Fatalf("expected truncated log, got %v %v", info, err)
	}
}

func TestSetupWritesStandardLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvest.log")
	w, err := Setup(path, 0)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer func() {
		log.SetOutput(os.Stderr)
		w.Close()
	}()

	if w.maxSize != DefaultMaxSize {
		t.Fatalf("expected default size, got %d", w.maxSize)
	}

	log.Print("harvest started")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "harvest started") {
		t.Fatalf("log line not written to file: %q", data)
	}
}
