package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
)

// FollowUpFilename is the operator-facing audit trail written under the new
// root for every file that needed fallback handling during restore.
const FollowUpFilename = "RECHECK_THESE.txt"

// Follow-up reasons.
const (
	// ReasonManagedMissing means the recorded managed file no longer exists
	// and no live file with the same basename was found.
	ReasonManagedMissing = "qbit_file_missing"
	// ReasonLinkFailed means both the hard link and the copy fallback failed.
	ReasonLinkFailed = "link_failed"
	// ReasonCopyFailed means copying from the original path failed.
	ReasonCopyFailed = "copy_failed"
	// ReasonOriginalMissing means the original path is gone and the file has
	// no managed copy to fall back to.
	ReasonOriginalMissing = "original_missing"
)

// FollowUp records one file that required non-ideal handling.
type FollowUp struct {
	Filename     string
	OriginalPath string
	TargetRoot   string
	Reason       string
}

// AppendFollowUps appends the given cases to the follow-up artifact under
// newRoot, one tab-separated line per file. The artifact is append-only so
// repeated restores into the same root never lose earlier entries.
func AppendFollowUps(newRoot string, items []FollowUp) error {
	path := filepath.Join(newRoot, FollowUpFilename)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, item := range items {
		line := fmt.Sprintf("%s\t%s\t%s\t%s\n", item.Filename, item.OriginalPath, item.TargetRoot, item.Reason)
		if _, err = f.WriteString(line); err != nil {
			return err
		}
	}

	return nil
}
