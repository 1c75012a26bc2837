package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/mediashift/mediashift/internal/fileutil"
	"github.com/mediashift/mediashift/internal/qbit"
	"github.com/mediashift/mediashift/internal/scan"
)

// Engine snapshots and restores directory trees against a set of
// torrent-managed roots.
type Engine struct {
	logger zerolog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an Engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{logger: zerolog.Nop()}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Save walks originalRoot and records, per file, its identity and the
// torrent-managed copy sharing that identity, then persists the snapshot to
// outPath. The filesystem is not otherwise touched.
func (e *Engine) Save(originalRoot string, roots []qbit.RecordInfo, outPath string) (Snapshot, error) {
	if len(roots) == 0 {
		return nil, &SnapshotError{Reason: "at least one managed root must be provided"}
	}

	original, err := filepath.Abs(originalRoot)
	if err != nil {
		return nil, err
	}
	if _, err = os.Stat(original); err != nil {
		return nil, &SnapshotError{Reason: fmt.Sprintf("original location does not exist: %s", original)}
	}

	combined := make(map[string]int64)
	for _, root := range roots {
		if _, err = os.Stat(root.ContentPath); err != nil {
			return nil, &SnapshotError{
				Reason: fmt.Sprintf("torrent content path missing for %s: %s", root.Record.Hash, root.ContentPath),
			}
		}

		index, indexErr := scan.BuildIndex(root.ContentPath, root.ArchiveLocked, e.logger)
		if indexErr != nil {
			return nil, indexErr
		}
		for path, ino := range index {
			combined[path] = ino
		}

		e.logger.Debug().
			Str("hash", root.Record.Hash).
			Str("name", root.Record.Name).
			Bool("archive_locked", root.ArchiveLocked).
			Msg("indexed managed root")
	}

	inverted := scan.InvertIndex(combined)
	e.logger.Debug().Int("identities", len(inverted)).Msg("identity index built")

	snap := make(Snapshot)
	if err = e.record(original, snap, inverted); err != nil {
		return nil, err
	}

	if err = snap.Write(outPath); err != nil {
		return nil, err
	}
	e.logger.Info().Str("path", outPath).Int("dirs", len(snap)).Msg("snapshot saved")

	return snap, nil
}

// record walks dir depth-first, adding one DirEntry per directory.
func (e *Engine) record(dir string, snap Snapshot, inverted map[int64]string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	de := DirEntry{
		Basename: filepath.Base(dir),
		Dirs:     []string{},
		Files:    make(map[string]FileEntry),
	}

	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(dir, name)

		if entry.IsDir() {
			de.Dirs = append(de.Dirs, name)
			continue
		}

		fe := FileEntry{Path: path, Inode: scan.MissingIdentity}

		ino, statErr := scan.Inode(path)
		switch {
		case statErr == nil:
			fe.Inode = ino
			if managed, ok := inverted[ino]; ok {
				fe.QbitFile = &managed
			}
		case errors.Is(statErr, fs.ErrNotExist):
			e.logger.Debug().Str("path", path).Msg("file vanished during snapshot")
		default:
			return statErr
		}

		de.Files[name] = fe
	}

	snap[dir] = de

	for _, sub := range de.Dirs {
		if err = e.record(filepath.Join(dir, sub), snap, inverted); err != nil {
			return err
		}
	}

	return nil
}

// Options controls restore behavior.
type Options struct {
	// RelinkIfMissing substitutes a live managed file with the same basename
	// when the recorded managed path no longer exists.
	RelinkIfMissing bool
	// VerifyMissingMedia consults the Confirm policy before copying a media
	// file that has no resolvable managed copy.
	VerifyMissingMedia bool
	// Confirm decides whether to proceed past an unresolved media file.
	// A nil policy auto-accepts, keeping the engine non-interactive.
	Confirm func(filename string) bool
}

// DefaultOptions returns the restore defaults: relink and verify enabled,
// auto-accepting policy.
func DefaultOptions() Options {
	return Options{
		RelinkIfMissing:    true,
		VerifyMissingMedia: true,
	}
}

// Report summarizes a restore run.
type Report struct {
	// Linked counts files hard-linked to a managed copy.
	Linked int
	// Copied counts files copied from their original path.
	Copied int
	// FollowUps lists every file that needed a fallback path. They are also
	// appended to the follow-up artifact under the new root.
	FollowUps []FollowUp
}

// Restore replays a snapshot into newRoot. Managed files are hard-linked
// (copy fallback); everything else is copied from its original path.
// Per-file failures are recorded as follow-ups and never abort the batch:
// one bad file must not block the rest.
func (e *Engine) Restore(originalRoot, newRoot, snapPath string, roots []qbit.RecordInfo, opts Options) (*Report, error) {
	if len(roots) == 0 {
		return nil, &RestoreError{Reason: "at least one managed root must be provided"}
	}

	snap, err := Load(snapPath)
	if err != nil {
		return nil, err
	}

	original, err := filepath.Abs(originalRoot)
	if err != nil {
		return nil, err
	}
	target, err := filepath.Abs(newRoot)
	if err != nil {
		return nil, err
	}

	// Basenames are resolved against the index as it exists now, not at
	// snapshot time: managed files may have moved in between.
	combined := make(map[string]int64)
	for _, root := range roots {
		index, indexErr := scan.BuildIndex(root.ContentPath, root.ArchiveLocked, e.logger)
		if indexErr != nil {
			e.logger.Warn().Err(indexErr).Str("path", root.ContentPath).Msg("managed root unavailable during restore")
			continue
		}
		for path, ino := range index {
			combined[path] = ino
		}
	}
	basenames := scan.BasenameIndex(combined)

	report := &Report{}

	dirs := make([]string, 0, len(snap))
	for dir := range snap {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		// Snapshot documents come from disk, so the recorded dir may not sit
		// under the original root. Anything SafeJoin rejects lands flat under
		// the target instead of escaping it.
		targetRoot := filepath.Join(target, filepath.Base(dir))
		if rel, relErr := filepath.Rel(original, dir); relErr == nil {
			if joined, joinErr := fileutil.SafeJoin(target, rel); joinErr == nil {
				targetRoot = joined
			}
		}

		if err = os.MkdirAll(targetRoot, 0750); err != nil {
			return nil, err
		}

		content := snap[dir]
		names := make([]string, 0, len(content.Files))
		for name := range content.Files {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			if err = e.restoreFile(name, content.Files[name], targetRoot, basenames, opts, report); err != nil {
				return nil, err
			}
		}
	}

	e.logger.Info().
		Str("path", target).
		Int("linked", report.Linked).
		Int("copied", report.Copied).
		Int("follow_ups", len(report.FollowUps)).
		Msg("restore completed")

	if len(report.FollowUps) > 0 {
		if err = AppendFollowUps(target, report.FollowUps); err != nil {
			return nil, err
		}
		e.logger.Warn().
			Int("count", len(report.FollowUps)).
			Str("artifact", filepath.Join(target, FollowUpFilename)).
			Msg("some files needed fallback handling during restore")
	}

	return report, nil
}

// restoreFile places one recorded file under targetRoot, preferring a link to
// its managed copy.
func (e *Engine) restoreFile(
	name string,
	entry FileEntry,
	targetRoot string,
	basenames map[string]string,
	opts Options,
	report *Report,
) error {
	targetPath := filepath.Join(targetRoot, name)

	if entry.QbitFile != nil {
		managed := *entry.QbitFile

		if !exists(managed) && opts.RelinkIfMissing {
			if remap, ok := basenames[filepath.Base(managed)]; ok {
				e.logger.Info().Str("from", managed).Str("to", remap).Msg("relinking against live managed file")
				managed = remap
			}
		}

		if exists(managed) {
			linkErr := fileutil.LinkOrCopy(managed, targetPath, e.logger)
			if linkErr == nil {
				report.Linked++
				return nil
			}

			e.logger.Error().Err(linkErr).Str("src", managed).Str("dst", targetPath).Msg("failed to link or copy managed file")
			report.FollowUps = append(report.FollowUps, FollowUp{
				Filename:     name,
				OriginalPath: entry.Path,
				TargetRoot:   targetRoot,
				Reason:       ReasonLinkFailed,
			})
		} else {
			e.logger.Warn().Str("path", managed).Msg("recorded managed file missing and not relinked")
			report.FollowUps = append(report.FollowUps, FollowUp{
				Filename:     name,
				OriginalPath: entry.Path,
				TargetRoot:   targetRoot,
				Reason:       ReasonManagedMissing,
			})
		}
	}

	if scan.IsMediaFile(name) && opts.VerifyMissingMedia && opts.Confirm != nil {
		if !opts.Confirm(name) {
			return &RestoreError{Reason: fmt.Sprintf("aborted due to missing media linkage: %s", name)}
		}
	}

	if exists(entry.Path) {
		if copyErr := fileutil.CopyFile(entry.Path, targetPath); copyErr != nil {
			e.logger.Error().Err(copyErr).Str("src", entry.Path).Str("dst", targetPath).Msg("failed to copy original file")
			report.FollowUps = append(report.FollowUps, FollowUp{
				Filename:     name,
				OriginalPath: entry.Path,
				TargetRoot:   targetRoot,
				Reason:       ReasonCopyFailed,
			})
			return nil
		}
		report.Copied++
		return nil
	}

	e.logger.Error().Str("path", entry.Path).Msg("original file missing, cannot restore")
	report.FollowUps = append(report.FollowUps, FollowUp{
		Filename:     name,
		OriginalPath: entry.Path,
		TargetRoot:   targetRoot,
		Reason:       ReasonOriginalMissing,
	})

	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
