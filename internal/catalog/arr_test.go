package catalog_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediashift/mediashift/internal/catalog"
	"github.com/mediashift/mediashift/internal/testsupport"
)

func newSonarr(t *testing.T, server *testsupport.ArrServer, opts ...catalog.Option) catalog.Service {
	t.Helper()

	return catalog.NewSonarr(catalog.ArrConfig{
		URL:         server.URL,
		APIKey:      "test-key",
		ArchiveRoot: "/data/archive",
		HTTPTimeout: 5 * time.Second,
	}, opts...)
}

func newRadarr(t *testing.T, server *testsupport.ArrServer, opts ...catalog.Option) catalog.Service {
	t.Helper()

	return catalog.NewRadarr(catalog.ArrConfig{
		URL:         server.URL,
		APIKey:      "test-key",
		ArchiveRoot: "/data/archive",
		HTTPTimeout: 5 * time.Second,
	}, opts...)
}

func TestFindIDByTitle(t *testing.T) {
	server := testsupport.NewSonarrServer()
	defer server.Close()

	server.AddItem(&testsupport.FakeItem{ID: 1, Title: "Breaking Bad", Path: "/data/media/tv/Breaking Bad"})
	server.AddItem(&testsupport.FakeItem{ID: 2, Title: "Better Call Saul", Path: "/data/media/tv/Better Call Saul"})

	sonarr := newSonarr(t, server)

	id, err := sonarr.FindIDByTitle(context.Background(), "Breaking Bad")
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	// Release-name noise still lands on the right entry.
	id, err = sonarr.FindIDByTitle(context.Background(), "breaking bad")
	require.NoError(t, err)
	assert.Equal(t, 1, id)
}

func TestFindIDByTitleAlternate(t *testing.T) {
	server := testsupport.NewSonarrServer()
	defer server.Close()

	server.AddItem(&testsupport.FakeItem{
		ID:              3,
		Title:           "Money Heist",
		AlternateTitles: []string{"La Casa de Papel"},
		Path:            "/data/media/tv/Money Heist",
	})

	sonarr := newSonarr(t, server)

	id, err := sonarr.FindIDByTitle(context.Background(), "La Casa de Papel")
	require.NoError(t, err)
	assert.Equal(t, 3, id)
}

func TestFindIDByTitleNotFound(t *testing.T) {
	server := testsupport.NewSonarrServer()
	defer server.Close()

	server.AddItem(&testsupport.FakeItem{ID: 1, Title: "Breaking Bad", Path: "/tv/Breaking Bad"})

	sonarr := newSonarr(t, server)

	_, err := sonarr.FindIDByTitle(context.Background(), "Completely Unrelated Documentary")
	require.Error(t, err)

	var notFound *catalog.TitleNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "sonarr", notFound.App)
}

func TestGetPath(t *testing.T) {
	server := testsupport.NewSonarrServer()
	defer server.Close()

	server.AddItem(&testsupport.FakeItem{ID: 1, Title: "Show", Path: "/data/media/tv/Show"})

	sonarr := newSonarr(t, server)

	path, err := sonarr.GetPath(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "/data/media/tv/Show", path)
}

func TestGetSeasons(t *testing.T) {
	server := testsupport.NewSonarrServer()
	defer server.Close()

	server.AddItem(&testsupport.FakeItem{
		ID: 1, Title: "Show", Path: "/tv/Show",
		Seasons: []testsupport.FakeSeason{
			{SeasonNumber: 0, Monitored: false, EpisodeFileCount: 0},
			{SeasonNumber: 1, Monitored: true, EpisodeFileCount: 10},
			{SeasonNumber: 2, Monitored: true, EpisodeFileCount: 0},
		},
	})

	sonarr := newSonarr(t, server)

	seasons, err := sonarr.GetSeasons(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, seasons, 3)
	assert.Equal(t, catalog.Season{Number: 1, Monitored: true, EpisodeFileCount: 10}, seasons[1])
}

func TestGetSeasonsNotEpisodic(t *testing.T) {
	server := testsupport.NewRadarrServer()
	defer server.Close()

	radarr := newRadarr(t, server)

	_, err := radarr.GetSeasons(context.Background(), 1)
	require.ErrorIs(t, err, catalog.ErrNotEpisodic)
}

func TestUpdatePath(t *testing.T) {
	server := testsupport.NewSonarrServer()
	defer server.Close()

	server.AddItem(&testsupport.FakeItem{ID: 1, Title: "Show", Path: "/data/media/tv/Show"})

	sonarr := newSonarr(t, server)

	updated, err := sonarr.UpdatePath(context.Background(), 1, "/data/archive/tv")
	require.NoError(t, err)
	assert.True(t, updated)

	updates := server.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, testsupport.PathUpdate{ID: 1, Path: "/data/archive/tv/Show"}, updates[0])
}

func TestUpdatePathArchiveRootSibling(t *testing.T) {
	server := testsupport.NewSonarrServer()
	defer server.Close()

	// "/data/archive2" is a different directory than "/data/archive"; the
	// idempotence guard must not trip on the shared string prefix.
	server.AddItem(&testsupport.FakeItem{ID: 1, Title: "Show", Path: "/data/archive2/tv/Show"})

	sonarr := newSonarr(t, server)

	updated, err := sonarr.UpdatePath(context.Background(), 1, "/data/archive/tv")
	require.NoError(t, err)
	assert.True(t, updated)

	updates := server.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, testsupport.PathUpdate{ID: 1, Path: "/data/archive/tv/Show"}, updates[0])
}

func TestUpdatePathAlreadyArchived(t *testing.T) {
	server := testsupport.NewSonarrServer()
	defer server.Close()

	server.AddItem(&testsupport.FakeItem{ID: 1, Title: "Show", Path: "/data/archive/tv/Show"})

	sonarr := newSonarr(t, server)

	updated, err := sonarr.UpdatePath(context.Background(), 1, "/data/archive/tv")
	require.NoError(t, err)
	assert.False(t, updated)
	assert.Empty(t, server.Updates())
}

func TestTestConnection(t *testing.T) {
	server := testsupport.NewSonarrServer()
	defer server.Close()

	sonarr := newSonarr(t, server)
	require.NoError(t, sonarr.TestConnection(context.Background()))
}

func TestType(t *testing.T) {
	qserver := testsupport.NewSonarrServer()
	defer qserver.Close()

	assert.Equal(t, "sonarr", newSonarr(t, qserver).Type())
	assert.True(t, newSonarr(t, qserver).Episodic())
	assert.Equal(t, "radarr", newRadarr(t, qserver).Type())
	assert.False(t, newRadarr(t, qserver).Episodic())
}
