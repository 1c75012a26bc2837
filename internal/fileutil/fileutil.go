// Package fileutil provides common file operation utilities.
package fileutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// CopyFile copies a file from src to dst, creating parent directories as needed.
func CopyFile(src, dst string) (retErr error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := srcFile.Close(); closeErr != nil && retErr == nil {
			retErr = closeErr
		}
	}()

	if err = os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return err
	}

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := dstFile.Close(); closeErr != nil && retErr == nil {
			retErr = closeErr
		}
	}()

	_, err = io.Copy(dstFile, srcFile)
	return err
}

// LinkOrCopy hard-links src to dst, falling back to a copy when linking fails
// (cross-device destination, permissions). The fallback is logged so restores
// can tell links from copies after the fact.
func LinkOrCopy(src, dst string, logger zerolog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return err
	}

	if err := os.Link(src, dst); err != nil {
		logger.Warn().Err(err).Str("src", src).Str("dst", dst).Msg("hardlink failed, falling back to copy")
		return CopyFile(src, dst)
	}

	logger.Debug().Str("src", src).Str("dst", dst).Msg("linked")
	return nil
}

// DescendsFrom reports whether path is root itself or lies beneath it. The
// comparison is separator-aware, so a sibling directory whose name merely
// starts with root does not count.
func DescendsFrom(path, root string) bool {
	if root == "" {
		return false
	}
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

// SafeJoin joins base with a relative path, rejecting absolute paths and any
// path that would escape base via parent traversal.
func SafeJoin(base, path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("path must be relative: %s", path)
	}

	joined := filepath.Join(base, path)

	cleanBase := filepath.Clean(base)
	if joined != cleanBase && !strings.HasPrefix(joined, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory: %s", path)
	}

	return joined, nil
}
