// Package diskspace checks free space on the filesystem a download lands on.
package diskspace

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/nasdesk/nasdesk/internal/models"
)

// InsufficientSpaceError indicates that there is not enough disk space available.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("not enough disk space for %s: need %s, %s available",
		filepath.Base(e.Path), models.FormatFileSize(e.RequiredBytes), models.FormatFileSize(e.AvailableBytes))
}

// CheckAvailableSpace returns an InsufficientSpaceError when the filesystem
// holding targetPath has less than requiredBytes plus bufferPercent free.
// targetPath need not exist, its directory must. When free space cannot be
// determined the check passes and the write fails on its own if it must.
func CheckAvailableSpace(targetPath string, requiredBytes int64, bufferPercent float64) error {
	if requiredBytes <= 0 {
		return nil
	}

	available, err := availableBytes(filepath.Dir(targetPath))
	if err != nil {
		return nil
	}

	required := requiredBytes + int64(float64(requiredBytes)*bufferPercent)
	if available < required {
		return &InsufficientSpaceError{
			Path:           targetPath,
			RequiredBytes:  required,
			AvailableBytes: available,
		}
	}
	return nil
}

// IsInsufficientSpaceError checks if an error is an InsufficientSpaceError
func IsInsufficientSpaceError(err error) bool {
	var spaceErr *InsufficientSpaceError
	return errors.As(err, &spaceErr)
}
