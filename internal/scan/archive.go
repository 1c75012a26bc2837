package scan

import (
	"path/filepath"
	"strings"
)

// Minimum number of .rNN part files for a listing to count as segmented.
const archivePartThreshold = 3

// ArchiveLocked reports whether a managed root's file listing looks like a
// segmented rar archive. The lock is engaged when at least one filename ends
// in ".rar" and at least three match the part pattern "*.r[0-9][0-9]".
//
// Extracted members of such an archive are not torrent-managed files; linking
// against them would bridge identities to data the client deletes on cleanup.
func ArchiveLocked(files []string) bool {
	hasHeader := false
	parts := 0

	for _, name := range files {
		if strings.HasSuffix(name, ".rar") {
			hasHeader = true
		}
		if ok, _ := filepath.Match("*.r[0-9][0-9]", name); ok {
			parts++
		}
	}

	return hasHeader && parts >= archivePartThreshold
}
