package diskspace

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
)

// freeBytes returns the free space next to path, or 0 if unknown.
func freeBytes(path string) int64 {
	n, err := availableBytes(filepath.Dir(path))
	if err != nil {
		return 0
	}
	return n
}

func TestCheckAvailableSpace(t *testing.T) {
	target := filepath.Join(t.TempDir(), "photo.jpg.part")

	t.Run("small file", func(t *testing.T) {
		if err := CheckAvailableSpace(target, 1024, 0.05); err != nil {
			t.Errorf("CheckAvailableSpace() error = %v", err)
		}
	})

	t.Run("zero or unknown size", func(t *testing.T) {
		if err := CheckAvailableSpace(target, 0, 0.05); err != nil {
			t.Errorf("CheckAvailableSpace(0) error = %v", err)
		}
		if err := CheckAvailableSpace(target, -1, 0.05); err != nil {
			t.Errorf("CheckAvailableSpace(-1) error = %v", err)
		}
	})

	t.Run("more than the disk holds", func(t *testing.T) {
		available := freeBytes(target)
		if available == 0 {
			t.Skip("free space not available on this filesystem")
		}
		err := CheckAvailableSpace(target, available*2, 0)
		if !IsInsufficientSpaceError(err) {
			t.Fatalf("CheckAvailableSpace() error = %v, want InsufficientSpaceError", err)
		}
		var spaceErr *InsufficientSpaceError
		errors.As(err, &spaceErr)
		if spaceErr.RequiredBytes != available*2 {
			t.Errorf("RequiredBytes = %d, want %d", spaceErr.RequiredBytes, available*2)
		}
	})

	t.Run("buffer counts", func(t *testing.T) {
		available := freeBytes(target)
		if available < 1024 {
			t.Skip("free space not available on this filesystem")
		}
		// Fits on its own, not with a 100% buffer
		if err := CheckAvailableSpace(target, available*3/4, 1.0); !IsInsufficientSpaceError(err) {
			t.Errorf("CheckAvailableSpace() with buffer error = %v, want InsufficientSpaceError", err)
		}
	})

	t.Run("missing directory passes", func(t *testing.T) {
		missing := filepath.Join(t.TempDir(), "nope", "deeper", "file")
		if err := CheckAvailableSpace(missing, 1<<40, 0); err != nil {
			t.Errorf("CheckAvailableSpace() on unknown filesystem error = %v", err)
		}
	})
}

func TestInsufficientSpaceErrorMessage(t *testing.T) {
	err := &InsufficientSpaceError{Path: "/tmp/big.iso", RequiredBytes: 1536, AvailableBytes: 1024}
	msg := err.Error()
	for _, want := range []string{"big.iso", "1.5 KB", "1.0 KB"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
	if !IsInsufficientSpaceError(fmt.Errorf("download: %w", err)) {
		t.Error("IsInsufficientSpaceError() should see through wrapping")
	}
}
