package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nasdesk/nasdesk/internal/models"
)

// TestExpandGlobPatterns tests wildcard expansion of upload arguments
func TestExpandGlobPatterns(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.jpg", "b.jpg", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := expandGlobPatterns([]string{
		filepath.Join(dir, "*.jpg"),
		filepath.Join(dir, "a.jpg"),
		filepath.Join(dir, "c.txt"),
	})
	if err != nil {
		t.Fatalf("expandGlobPatterns() error = %v", err)
	}
	want := []string{filepath.Join(dir, "a.jpg"), filepath.Join(dir, "b.jpg"), filepath.Join(dir, "c.txt")}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	if _, err := expandGlobPatterns([]string{filepath.Join(dir, "*.png")}); err == nil {
		t.Error("pattern without matches succeeded")
	}
	if _, err := expandGlobPatterns([]string{filepath.Join(dir, "[")}); err == nil {
		t.Error("malformed pattern succeeded")
	}
}

func TestCheckUploadSources(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	os.WriteFile(file, []byte("a"), 0644)

	if err := checkUploadSources([]string{file}); err != nil {
		t.Errorf("checkUploadSources(file) error = %v", err)
	}
	if err := checkUploadSources([]string{file, dir}); err == nil || !strings.Contains(err.Error(), "is a folder") {
		t.Errorf("folder error = %v", err)
	}
	if err := checkUploadSources([]string{filepath.Join(dir, "missing")}); err == nil || !strings.Contains(err.Error(), "file not found") {
		t.Errorf("missing error = %v", err)
	}
}

func TestPrintEntries(t *testing.T) {
	entries := []models.FileEntry{
		{Name: "photos", Path: "/photos", IsDir: true},
		{Name: "a.jpg", Path: "/photos/a.jpg", Size: 2048, HasSize: true, ModTime: time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)},
	}
	var out bytes.Buffer
	printEntries(&out, entries)

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines:\n%s", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[0], "TYPE") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "photos/") {
		t.Errorf("folder line = %q", lines[1])
	}
	if !strings.HasSuffix(lines[2], "a.jpg") {
		t.Errorf("file line = %q", lines[2])
	}
}
