// Package snapshot records a media tree's file identities and replays them
// into a new root, preferring hard links to torrent-managed copies over
// copies of the originals.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileEntry records one file at snapshot time.
type FileEntry struct {
	// Path is the absolute path of the original file.
	Path string `json:"path"`
	// Inode is the file's identity, or scan.MissingIdentity if it could not
	// be stat-ed.
	Inode int64 `json:"inode"`
	// QbitFile is the absolute path of the torrent-managed copy sharing the
	// identity, when one was resolved.
	QbitFile *string `json:"qbit_file"`
}

// DirEntry records one directory of the snapshotted tree.
type DirEntry struct {
	Basename string               `json:"basename"`
	Dirs     []string             `json:"dirs"`
	Files    map[string]FileEntry `json:"files"`
}

// Snapshot maps each absolute directory path of the original tree to its
// recorded contents, including the root itself.
type Snapshot map[string]DirEntry

// SnapshotError reports a violated snapshot precondition. Preconditions are
// fatal: they mean no safe target could be established, so nothing has been
// mutated yet.
type SnapshotError struct {
	Reason string
}

func (e *SnapshotError) Error() string {
	return "snapshot: " + e.Reason
}

// RestoreError reports a condition that aborts a restore, such as a missing
// snapshot document or an operator declining to proceed past an unresolved
// media file.
type RestoreError struct {
	Reason string
}

func (e *RestoreError) Error() string {
	return "restore: " + e.Reason
}

// Write persists the snapshot as indented JSON. The document is written to a
// temporary file and renamed into place so a crash never leaves a partial
// snapshot behind.
func (s Snapshot) Write(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, path)
}

// Load reads a snapshot document back in full.
func Load(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &RestoreError{Reason: fmt.Sprintf("snapshot document not found: %s", path)}
		}
		return nil, err
	}

	var s Snapshot
	if err = json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("corrupted snapshot document %s: %w", path, err)
	}

	return s, nil
}
