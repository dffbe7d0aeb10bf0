package models

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatFileSize renders a byte count with one decimal in 1024-based units.
// FormatFileSize(0) == "0 B", FormatFileSize(1536) == "1.5 KB".
func FormatFileSize(size int64) string {
	if size == 0 {
		return "0 B"
	}
	value := float64(size)
	i := 0
	for value >= 1024 && i < len(sizeUnits)-1 {
		value /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s", value, sizeUnits[i])
}

// FormatModTime renders t in local time, or "" for the zero time.
func FormatModTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

type fileType struct {
	category string
	label    string
}

var fileTypes = map[string]fileType{
	".png": {"Image", "PNG"}, ".jpg": {"Image", "JPG"}, ".jpeg": {"Image", "JPEG"},
	".gif": {"Image", "GIF"}, ".bmp": {"Image", "BMP"}, ".svg": {"Image", "SVG"},
	".webp": {"Image", "WebP"}, ".ico": {"Image", "ICO"},

	".txt": {"Text", "TXT"}, ".rtf": {"Text", "RTF"}, ".md": {"Document", "Markdown"},
	".doc": {"Word", "DOC"}, ".docx": {"Word", "DOCX"}, ".pdf": {"PDF", "PDF"},
	".xls": {"Excel", "XLS"}, ".xlsx": {"Excel", "XLSX"},
	".ppt": {"PowerPoint", "PPT"}, ".pptx": {"PowerPoint", "PPTX"},
	".odt": {"Document", "ODT"}, ".ods": {"Spreadsheet", "ODS"}, ".odp": {"Presentation", "ODP"},

	".py": {"Code", "Python"}, ".js": {"Code", "JavaScript"}, ".php": {"Code", "PHP"},
	".java": {"Code", "Java"}, ".cpp": {"Code", "C++"}, ".c": {"Code", "C"},
	".cs": {"Code", "C#"}, ".go": {"Code", "Go"},
	".html": {"Web", "HTML"}, ".htm": {"Web", "HTM"}, ".css": {"Style", "CSS"},
	".xml": {"Data", "XML"}, ".json": {"Data", "JSON"}, ".csv": {"Data", "CSV"},
	".sql": {"Database", "SQL"},
	".sh": {"Script", "Shell"}, ".bat": {"Script", "BAT"}, ".ps1": {"Script", "PowerShell"},

	".zip": {"Archive", "ZIP"}, ".rar": {"Archive", "RAR"}, ".7z": {"Archive", "7Z"},
	".tar": {"Archive", "TAR"}, ".gz": {"Archive", "GZ"}, ".bz2": {"Archive", "BZ2"},
	".xz": {"Archive", "XZ"},

	".mp3": {"Audio", "MP3"}, ".wav": {"Audio", "WAV"}, ".flac": {"Audio", "FLAC"},
	".aac": {"Audio", "AAC"}, ".ogg": {"Audio", "OGG"}, ".wma": {"Audio", "WMA"},

	".mp4": {"Video", "MP4"}, ".avi": {"Video", "AVI"}, ".mkv": {"Video", "MKV"},
	".mov": {"Video", "MOV"}, ".wmv": {"Video", "WMV"}, ".flv": {"Video", "FLV"},
	".webm": {"Video", "WebM"}, ".m4v": {"Video", "M4V"},

	".exe": {"Program", "EXE"}, ".msi": {"Installer", "MSI"}, ".deb": {"Installer", "DEB"},
	".rpm": {"Installer", "RPM"}, ".dmg": {"Installer", "DMG"}, ".app": {"Application", "APP"},

	".db": {"Database", "DB"}, ".sqlite": {"Database", "SQLite"}, ".mdb": {"Database", "MDB"},

	".ini": {"Config", "INI"}, ".conf": {"Config", "CONF"}, ".cfg": {"Config", "CFG"},
	".yaml": {"Config", "YAML"}, ".yml": {"Config", "YML"}, ".toml": {"Config", "TOML"},

	".ttf": {"Font", "TTF"}, ".otf": {"Font", "OTF"}, ".woff": {"Font", "WOFF"}, ".woff2": {"Font", "WOFF2"},

	".iso": {"Disk Image", "ISO"}, ".log": {"Log", "LOG"},
}

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".svg": true, ".webp": true, ".ico": true, ".tiff": true, ".tif": true,
}

var videoExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".mkv": true, ".wmv": true, ".flv": true,
	".webm": true, ".m4v": true, ".3gp": true, ".rmvb": true, ".mpg": true, ".mpeg": true,
}

func ext(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// FileTypeName returns a friendly "[Category] LABEL" string for a file name.
func FileTypeName(name string, isDir bool) string {
	if isDir {
		return "[Folder]"
	}
	e := ext(name)
	if ft, ok := fileTypes[e]; ok {
		return "[" + ft.category + "] " + ft.label
	}
	if e == "" {
		return "[File] Unknown"
	}
	return "[File] " + strings.ToUpper(e[1:])
}

// IsImage reports whether name has an image extension.
func IsImage(name string) bool {
	return imageExtensions[ext(name)]
}

// IsVideo reports whether name has a video extension.
func IsVideo(name string) bool {
	return videoExtensions[ext(name)]
}
