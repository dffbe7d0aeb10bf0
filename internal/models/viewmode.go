package models

import (
	"fmt"
	"strings"

	"github.com/nasdesk/nasdesk/internal/constants"
)

// ViewMode is how the browser presents a folder. Thumbnails are cached per mode.
type ViewMode string

const (
	ViewList        ViewMode = "list"
	ViewTile        ViewMode = "tile"
	ViewSmallIcons  ViewMode = "small"
	ViewMediumIcons ViewMode = "medium"
	ViewLargeIcons  ViewMode = "large"
)

// ParseViewMode accepts the mode names used on the command line.
func ParseViewMode(s string) (ViewMode, error) {
	switch ViewMode(strings.ToLower(strings.TrimSpace(s))) {
	case ViewList, "":
		return ViewList, nil
	case ViewTile:
		return ViewTile, nil
	case ViewSmallIcons:
		return ViewSmallIcons, nil
	case ViewMediumIcons:
		return ViewMediumIcons, nil
	case ViewLargeIcons:
		return ViewLargeIcons, nil
	default:
		return "", fmt.Errorf("unknown view mode %q (want list, tile, small, medium or large)", s)
	}
}

// ThumbnailSize is the edge length in pixels of thumbnails rendered for this mode.
func (m ViewMode) ThumbnailSize() int {
	switch m {
	case ViewMediumIcons:
		return constants.ThumbnailSizeMedium
	case ViewLargeIcons:
		return constants.ThumbnailSizeLarge
	default:
		return constants.ThumbnailSizeSmall
	}
}
