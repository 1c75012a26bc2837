package scan

import (
	"path/filepath"
	"strings"
)

// Extensions that mark a file as media worth protecting during restore.
//
//nolint:gochecknoglobals // extension lookup table
var mediaExtensions = map[string]bool{
	".mkv":  true,
	".mk3d": true,
	".mp4":  true,
	".avi":  true,
	".m4v":  true,
	".mov":  true,
	".qt":   true,
	".wmv":  true,
	".asf":  true,
	".flv":  true,
	".webm": true,
	".m4a":  true,
	".mp3":  true,
	".aac":  true,
	".ogg":  true,
	".opus": true,
	".m2ts": true,
	".mts":  true,
	".m2v":  true,
	".3gp":  true,
}

// IsMediaFile reports whether name carries a recognized media extension.
func IsMediaFile(name string) bool {
	return mediaExtensions[strings.ToLower(filepath.Ext(name))]
}
