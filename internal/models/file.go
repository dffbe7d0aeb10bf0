package models

import (
	"path"
	"sort"
	"strings"
	"time"
)

// FileEntry is one child of a listed NAS folder, or one top-level share.
// Size and ModTime are only known when the listing carried "additional" metadata.
type FileEntry struct {
	Name    string
	Path    string
	IsDir   bool
	Size    int64
	HasSize bool
	ModTime time.Time // zero when unknown
}

// ShareEntry is a top-level shared folder.
type ShareEntry = FileEntry

// SizeDisplay returns the human-readable size, or "" for folders and unknown sizes.
func (e FileEntry) SizeDisplay() string {
	if e.IsDir || !e.HasSize {
		return ""
	}
	return FormatFileSize(e.Size)
}

// ModTimeDisplay returns the local modification time, or "" when unknown.
func (e FileEntry) ModTimeDisplay() string {
	return FormatModTime(e.ModTime)
}

// TypeDisplay returns the friendly type label for this entry.
func (e FileEntry) TypeDisplay() string {
	return FileTypeName(e.Name, e.IsDir)
}

// SortEntries orders folders before files, then by case-insensitive name.
func SortEntries(entries []FileEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
}

// JoinRemote joins NAS path elements. NAS paths always use forward slashes.
func JoinRemote(dir, name string) string {
	if dir == "" {
		dir = "/"
	}
	return path.Join(dir, name)
}

// CleanRemote normalizes a NAS path to an absolute, slash-separated form.
func CleanRemote(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// RemoteBase returns the last element of a NAS path.
func RemoteBase(p string) string {
	return path.Base(CleanRemote(p))
}

// RemoteDir returns the parent of a NAS path.
func RemoteDir(p string) string {
	return path.Dir(CleanRemote(p))
}
