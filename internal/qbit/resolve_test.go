package qbit_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediashift/mediashift/internal/qbit"
	"github.com/mediashift/mediashift/internal/testsupport"
)

func writeTorrentContent(t *testing.T, dir string, names ...string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(dir, 0750))
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("data"), 0600))
	}
}

func TestResolveAnnotatesContent(t *testing.T) {
	server := testsupport.NewQBittorrentServer()
	defer server.Close()

	root := t.TempDir()
	plainDir := filepath.Join(root, "Show.S01")
	writeTorrentContent(t, plainDir, "episode.mkv")
	rarDir := filepath.Join(root, "Show.S02")
	writeTorrentContent(t, rarDir, "show.rar", "show.r00", "show.r01", "show.r02")

	server.AddTorrent(&testsupport.FakeTorrent{
		Hash: "aaa", Name: "Show.S01", Category: "tv", State: "uploading", ContentPath: plainDir,
	})
	server.AddTorrent(&testsupport.FakeTorrent{
		Hash: "bbb", Name: "Show.S02", Category: "tv", State: "uploading", ContentPath: rarDir,
	})

	client := newConnectedClient(t, server)
	resolver := qbit.NewResolver(client)

	infos, err := resolver.Resolve(context.Background(), []string{"aaa", "bbb"})
	require.NoError(t, err)
	require.Len(t, infos, 2)

	assert.Equal(t, plainDir, infos["aaa"].ContentPath)
	assert.False(t, infos["aaa"].ArchiveLocked)
	assert.True(t, infos["bbb"].ArchiveLocked)
}

func TestResolveToleratesMissingContent(t *testing.T) {
	server := testsupport.NewQBittorrentServer()
	defer server.Close()

	server.AddTorrent(&testsupport.FakeTorrent{
		Hash: "aaa", Name: "Gone", Category: "tv", State: "uploading",
		ContentPath: filepath.Join(t.TempDir(), "does-not-exist"),
	})

	client := newConnectedClient(t, server)
	resolver := qbit.NewResolver(client)

	infos, err := resolver.Resolve(context.Background(), []string{"aaa"})
	require.NoError(t, err)
	assert.False(t, infos["aaa"].ArchiveLocked)
}

func TestResolveConcurrent(t *testing.T) {
	server := testsupport.NewQBittorrentServer()
	defer server.Close()

	faker := gofakeit.New(1)

	root := t.TempDir()
	var hashes []string
	for i := range 8 {
		hash := fmt.Sprintf("%040x", i)
		name := fmt.Sprintf("%s.S%02d.1080p.BluRay.x264-GRP", faker.MovieName(), i+1)
		dir := filepath.Join(root, hash)
		writeTorrentContent(t, dir, "episode.mkv")
		server.AddTorrent(&testsupport.FakeTorrent{
			Hash: hash, Name: name, Category: "tv", State: "uploading", ContentPath: dir,
		})
		hashes = append(hashes, hash)
	}

	client := newConnectedClient(t, server)
	resolver := qbit.NewResolver(client,
		qbit.WithSequentialThreshold(2),
		qbit.WithMaxWorkers(4))

	infos, err := resolver.Resolve(context.Background(), hashes)
	require.NoError(t, err)
	require.Len(t, infos, len(hashes))
	for _, hash := range hashes {
		assert.Equal(t, filepath.Join(root, hash), infos[hash].ContentPath)
		assert.False(t, infos[hash].ArchiveLocked)
	}
}

func TestResolveFailsOnUnknownHash(t *testing.T) {
	server := testsupport.NewQBittorrentServer()
	defer server.Close()

	dir := filepath.Join(t.TempDir(), "known")
	writeTorrentContent(t, dir, "episode.mkv")
	server.AddTorrent(&testsupport.FakeTorrent{
		Hash: "known", Name: "Known", Category: "tv", State: "uploading", ContentPath: dir,
	})

	client := newConnectedClient(t, server)
	resolver := qbit.NewResolver(client, qbit.WithSequentialThreshold(1))

	_, err := resolver.Resolve(context.Background(), []string{"known", "unknown"})
	require.Error(t, err)

	var notFound *qbit.RecordNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestResolveEmpty(t *testing.T) {
	server := testsupport.NewQBittorrentServer()
	defer server.Close()

	client := newConnectedClient(t, server)
	resolver := qbit.NewResolver(client)

	_, err := resolver.Resolve(context.Background(), nil)
	require.Error(t, err)
}
