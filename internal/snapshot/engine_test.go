package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediashift/mediashift/internal/qbit"
	"github.com/mediashift/mediashift/internal/scan"
)

// fixture is a torrent content dir and a library tree where the media file
// is a hard link into the torrent content and the nfo is a plain file owned
// by the library alone.
type fixture struct {
	torrentDir string
	mediaDir   string
	snapPath   string
	root       qbit.RecordInfo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	base := t.TempDir()
	f := &fixture{
		torrentDir: filepath.Join(base, "torrents", "Show.S01"),
		mediaDir:   filepath.Join(base, "media", "Show"),
		snapPath:   filepath.Join(base, "snapshot.json"),
	}

	require.NoError(t, os.MkdirAll(f.torrentDir, 0750))
	require.NoError(t, os.MkdirAll(filepath.Join(f.mediaDir, "Season 01"), 0750))

	writeF(t, filepath.Join(f.torrentDir, "episode.mkv"), "episode-data")
	require.NoError(t, os.Link(
		filepath.Join(f.torrentDir, "episode.mkv"),
		filepath.Join(f.mediaDir, "Season 01", "episode.mkv")))
	writeF(t, filepath.Join(f.mediaDir, "Season 01", "episode.nfo"), "metadata")

	f.root = qbit.RecordInfo{
		Record:      qbit.Record{Hash: "aaa", Name: "Show.S01"},
		ContentPath: f.torrentDir,
	}

	return f
}

func writeF(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func inodeOf(t *testing.T, path string) int64 {
	t.Helper()

	ino, err := scan.Inode(path)
	require.NoError(t, err)
	return ino
}

func TestSaveRecordsManagedLinkage(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine()

	snap, err := engine.Save(f.mediaDir, []qbit.RecordInfo{f.root}, f.snapPath)
	require.NoError(t, err)

	seasonDir := filepath.Join(f.mediaDir, "Season 01")
	require.Contains(t, snap, f.mediaDir)
	require.Contains(t, snap, seasonDir)

	files := snap[seasonDir].Files
	require.Contains(t, files, "episode.mkv")
	require.Contains(t, files, "episode.nfo")

	episode := files["episode.mkv"]
	require.NotNil(t, episode.QbitFile)
	assert.Equal(t, filepath.Join(f.torrentDir, "episode.mkv"), *episode.QbitFile)
	assert.Equal(t, inodeOf(t, episode.Path), episode.Inode)

	assert.Nil(t, files["episode.nfo"].QbitFile)

	// Written document loads back identically.
	loaded, err := Load(f.snapPath)
	require.NoError(t, err)
	assert.Equal(t, snap, loaded)
}

func TestSaveArchiveLockedRoot(t *testing.T) {
	f := newFixture(t)
	f.root.ArchiveLocked = true
	engine := NewEngine()

	snap, err := engine.Save(f.mediaDir, []qbit.RecordInfo{f.root}, f.snapPath)
	require.NoError(t, err)

	// A locked root contributes no identities, so even the hard-linked file
	// has no managed copy recorded.
	files := snap[filepath.Join(f.mediaDir, "Season 01")].Files
	assert.Nil(t, files["episode.mkv"].QbitFile)
}

func TestSavePreconditions(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine()

	var snapErr *SnapshotError

	_, err := engine.Save(f.mediaDir, nil, f.snapPath)
	require.ErrorAs(t, err, &snapErr)

	_, err = engine.Save(filepath.Join(f.mediaDir, "missing"), []qbit.RecordInfo{f.root}, f.snapPath)
	require.ErrorAs(t, err, &snapErr)

	gone := f.root
	gone.ContentPath = filepath.Join(f.torrentDir, "missing")
	_, err = engine.Save(f.mediaDir, []qbit.RecordInfo{gone}, f.snapPath)
	require.ErrorAs(t, err, &snapErr)
}

func TestRestoreLinksManagedAndCopiesRest(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine()

	_, err := engine.Save(f.mediaDir, []qbit.RecordInfo{f.root}, f.snapPath)
	require.NoError(t, err)

	newRoot := filepath.Join(t.TempDir(), "archive", "Show")
	report, err := engine.Restore(f.mediaDir, newRoot, f.snapPath, []qbit.RecordInfo{f.root}, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Linked)
	assert.Equal(t, 1, report.Copied)
	assert.Empty(t, report.FollowUps)

	restored := filepath.Join(newRoot, "Season 01", "episode.mkv")
	assert.Equal(t, inodeOf(t, filepath.Join(f.torrentDir, "episode.mkv")), inodeOf(t, restored))

	data, err := os.ReadFile(filepath.Join(newRoot, "Season 01", "episode.nfo"))
	require.NoError(t, err)
	assert.Equal(t, "metadata", string(data))

	// Nothing needed fallback handling, so no artifact is written.
	_, err = os.Stat(filepath.Join(newRoot, FollowUpFilename))
	assert.True(t, os.IsNotExist(err))
}

func TestRestoreRelinksMovedContent(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine()

	_, err := engine.Save(f.mediaDir, []qbit.RecordInfo{f.root}, f.snapPath)
	require.NoError(t, err)

	// Simulate the torrent being moved: recorded managed paths are stale,
	// the live root has the same basenames elsewhere.
	movedDir := filepath.Join(t.TempDir(), "moved", "Show.S01")
	require.NoError(t, os.MkdirAll(filepath.Dir(movedDir), 0750))
	require.NoError(t, os.Rename(f.torrentDir, movedDir))

	movedRoot := f.root
	movedRoot.ContentPath = movedDir

	newRoot := filepath.Join(t.TempDir(), "archive", "Show")
	report, err := engine.Restore(f.mediaDir, newRoot, f.snapPath, []qbit.RecordInfo{movedRoot}, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Linked)
	assert.Empty(t, report.FollowUps)

	restored := filepath.Join(newRoot, "Season 01", "episode.mkv")
	assert.Equal(t, inodeOf(t, filepath.Join(movedDir, "episode.mkv")), inodeOf(t, restored))
}

func TestRestoreContinuesPastBrokenFile(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine()

	_, err := engine.Save(f.mediaDir, []qbit.RecordInfo{f.root}, f.snapPath)
	require.NoError(t, err)

	// The managed copy disappears and so does the original: this file cannot
	// be restored, but the rest of the tree must be.
	require.NoError(t, os.Remove(filepath.Join(f.torrentDir, "episode.mkv")))
	require.NoError(t, os.Remove(filepath.Join(f.mediaDir, "Season 01", "episode.mkv")))

	newRoot := filepath.Join(t.TempDir(), "archive", "Show")
	report, err := engine.Restore(f.mediaDir, newRoot, f.snapPath, []qbit.RecordInfo{f.root}, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Linked)
	assert.Equal(t, 1, report.Copied)
	require.Len(t, report.FollowUps, 2)

	reasons := []string{report.FollowUps[0].Reason, report.FollowUps[1].Reason}
	assert.Contains(t, reasons, ReasonManagedMissing)
	assert.Contains(t, reasons, ReasonOriginalMissing)

	data, err := os.ReadFile(filepath.Join(newRoot, FollowUpFilename))
	require.NoError(t, err)
	assert.Contains(t, string(data), "episode.mkv")
}

func TestRestoreForeignDirStaysUnderNewRoot(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine()

	snap, err := engine.Save(f.mediaDir, []qbit.RecordInfo{f.root}, f.snapPath)
	require.NoError(t, err)

	// A document recording a directory outside the original root must still
	// restore it under the new root, never beside or above it.
	outside := filepath.Join(t.TempDir(), "Extras")
	require.NoError(t, os.MkdirAll(outside, 0750))
	writeF(t, filepath.Join(outside, "bonus.txt"), "bonus")

	snap[outside] = DirEntry{
		Basename: "Extras",
		Dirs:     []string{},
		Files: map[string]FileEntry{
			"bonus.txt": {
				Path:  filepath.Join(outside, "bonus.txt"),
				Inode: inodeOf(t, filepath.Join(outside, "bonus.txt")),
			},
		},
	}
	require.NoError(t, snap.Write(f.snapPath))

	newRoot := filepath.Join(t.TempDir(), "archive", "Show")
	_, err = engine.Restore(f.mediaDir, newRoot, f.snapPath, []qbit.RecordInfo{f.root}, DefaultOptions())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(newRoot, "Extras", "bonus.txt"))
	require.NoError(t, err)
	assert.Equal(t, "bonus", string(data))
}

func TestRestoreConfirmDeclined(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine()

	_, err := engine.Save(f.mediaDir, []qbit.RecordInfo{f.root}, f.snapPath)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(f.torrentDir, "episode.mkv")))

	opts := DefaultOptions()
	opts.RelinkIfMissing = false
	opts.Confirm = func(string) bool { return false }

	newRoot := filepath.Join(t.TempDir(), "archive", "Show")
	_, err = engine.Restore(f.mediaDir, newRoot, f.snapPath, []qbit.RecordInfo{f.root}, opts)
	require.Error(t, err)

	var restoreErr *RestoreError
	require.ErrorAs(t, err, &restoreErr)
	assert.Contains(t, restoreErr.Error(), "episode.mkv")
}

func TestRestoreMissingSnapshot(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine()

	newRoot := filepath.Join(t.TempDir(), "archive", "Show")
	_, err := engine.Restore(f.mediaDir, newRoot, filepath.Join(t.TempDir(), "nope.json"),
		[]qbit.RecordInfo{f.root}, DefaultOptions())
	require.Error(t, err)

	var restoreErr *RestoreError
	assert.ErrorAs(t, err, &restoreErr)
}

func TestLoadCorruptedSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupted snapshot document")
}

func TestSaveIsIdempotent(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine()

	first, err := engine.Save(f.mediaDir, []qbit.RecordInfo{f.root}, f.snapPath)
	require.NoError(t, err)

	second, err := engine.Save(f.mediaDir, []qbit.RecordInfo{f.root}, f.snapPath)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
