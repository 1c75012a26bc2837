package fileutil

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.mkv")
	dst := filepath.Join(dir, "dst.mkv")
	require.NoError(t, os.WriteFile(src, []byte("content"), 0600))

	require.NoError(t, CopyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
}

func TestCopyFileMissingSource(t *testing.T) {
	dir := t.TempDir()
	err := CopyFile(filepath.Join(dir, "nope"), filepath.Join(dir, "dst"))
	require.Error(t, err)
}

func TestLinkOrCopyLinks(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.mkv")
	dst := filepath.Join(dir, "dst.mkv")
	require.NoError(t, os.WriteFile(src, []byte("content"), 0600))

	require.NoError(t, LinkOrCopy(src, dst, zerolog.Nop()))

	srcInfo, err := os.Stat(src)
	require.NoError(t, err)
	dstInfo, err := os.Stat(dst)
	require.NoError(t, err)

	srcStat, ok := srcInfo.Sys().(*syscall.Stat_t)
	require.True(t, ok)
	dstStat, ok := dstInfo.Sys().(*syscall.Stat_t)
	require.True(t, ok)
	assert.Equal(t, srcStat.Ino, dstStat.Ino)
}

func TestLinkOrCopyFallsBack(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	src := filepath.Join(srcDir, "src.mkv")
	require.NoError(t, os.WriteFile(src, []byte("content"), 0600))

	// A destination that already exists makes the link fail, forcing the
	// copy path to overwrite it.
	dst := filepath.Join(dstDir, "dst.mkv")
	require.NoError(t, os.WriteFile(dst, []byte("stale"), 0600))

	require.NoError(t, LinkOrCopy(src, dst, zerolog.Nop()))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
}

func TestDescendsFrom(t *testing.T) {
	tests := []struct {
		name string
		path string
		root string
		want bool
	}{
		{"inside root", "/data/archive/tv/Show", "/data/archive", true},
		{"root itself", "/data/archive", "/data/archive", true},
		{"sibling sharing prefix", "/data/archive2/tv/Show", "/data/archive", false},
		{"outside root", "/data/media/tv/Show", "/data/archive", false},
		{"empty root", "/data/archive/tv/Show", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DescendsFrom(tt.path, tt.root))
		})
	}
}

func TestSafeJoin(t *testing.T) {
	got, err := SafeJoin("/base", "sub/file.mkv")
	require.NoError(t, err)
	assert.Equal(t, "/base/sub/file.mkv", got)
}

func TestSafeJoinRejectsTraversal(t *testing.T) {
	_, err := SafeJoin("/base", "../escape")
	require.Error(t, err)

	_, err = SafeJoin("/base", "sub/../../escape")
	require.Error(t, err)
}

func TestSafeJoinRejectsAbsolute(t *testing.T) {
	_, err := SafeJoin("/base", "/etc/passwd")
	require.Error(t, err)
}
