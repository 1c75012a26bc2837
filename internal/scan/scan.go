// Package scan builds file-identity indexes over torrent-managed content.
//
// The identity of a file is its inode number, which proves that two paths
// reference the same underlying data. An index maps absolute file paths to
// inodes and can be inverted to resolve a library file back to the managed
// copy it is hard-linked against.
package scan

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
)

// MissingIdentity is the sentinel inode recorded for files that could not be
// stat-ed, and for archive-locked roots as a whole. It never collides with a
// real inode number.
const MissingIdentity int64 = -1

// Inode returns the inode number for path.
func Inode(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}

	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, fmt.Errorf("no inode information for %s", path)
	}

	return int64(st.Ino), nil
}

// BuildIndex walks root and maps every regular file's absolute path to its
// inode. A single-file root produces a one-entry index.
//
// If archiveLocked is set, the index contains only {root: MissingIdentity}.
// This deliberately makes every file under the root unresolvable by identity,
// so restores fall back to basename matching or copying instead of linking
// into an archive that will be cleaned up after extraction.
//
// Files that vanish between listing and stat are skipped; permission failures
// are logged and skipped. Neither is fatal.
func BuildIndex(root string, archiveLocked bool, logger zerolog.Logger) (map[string]int64, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int64)

	if archiveLocked {
		index[abs] = MissingIdentity
		return index, nil
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		ino, err := Inode(abs)
		if err != nil {
			return nil, err
		}
		index[abs] = ino
		return index, nil
	}

	walkErr := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("skipping unreadable entry during identity scan")
			return nil
		}
		if d.IsDir() {
			return nil
		}

		ino, statErr := Inode(path)
		switch {
		case statErr == nil:
			index[path] = ino
		case errors.Is(statErr, fs.ErrNotExist):
			logger.Debug().Str("path", path).Msg("file vanished during identity scan")
		case errors.Is(statErr, fs.ErrPermission):
			logger.Warn().Str("path", path).Msg("permission denied during identity scan")
		default:
			return statErr
		}

		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	return index, nil
}

// InvertIndex flips a path->inode index to inode->path. Entries carrying
// MissingIdentity are dropped. On duplicate inodes the last path wins, which
// is acceptable: true collisions across the same managed roots do not occur.
func InvertIndex(index map[string]int64) map[int64]string {
	inverted := make(map[int64]string, len(index))
	for path, ino := range index {
		if ino == MissingIdentity {
			continue
		}
		inverted[ino] = path
	}
	return inverted
}

// BasenameIndex maps each indexed file's base name to its absolute path.
// Used to re-resolve managed files that moved between snapshot and restore.
func BasenameIndex(index map[string]int64) map[string]string {
	names := make(map[string]string, len(index))
	for path := range index {
		names[filepath.Base(path)] = path
	}
	return names
}

// ListFilenames returns the base names of all regular files under root.
// A single-file root yields one name.
func ListFilenames(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		return []string{filepath.Base(root)}, nil
	}

	var names []string
	err = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			names = append(names, d.Name())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return names, nil
}
