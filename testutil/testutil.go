// Package testutil provides shared test utilities for logkeeper tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TempDir creates a temporary directory for testing and returns a cleanup function.
func TempDir(t *testing.T) (string, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "logkeeper-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	return dir, func() {
		_ = os.RemoveAll(dir)
	}
}

// TempFile creates a temporary file with the given content and returns its path.
func TempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

// MakeSegment creates a directory named name under root holding the given
// files, and stamps it with a modification time offset from a fixed epoch so
// that listing order follows the order of creation in the test.
func MakeSegment(t *testing.T, root, name string, order int, files ...string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create segment %s: %v", name, err)
	}
	for _, f := range files {
		TempFile(t, dir, f, "data")
	}
	Stamp(t, dir, order)
	return dir
}

// Stamp sets the modification time of path to the fixed epoch plus order minutes.
func Stamp(t *testing.T, path string, order int) {
	t.Helper()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(order) * time.Minute)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("failed to stamp %s: %v", path, err)
	}
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
