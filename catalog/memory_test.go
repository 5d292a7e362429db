package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedCatalog fills m with two artists, one album, three tracks and two users.
func seedCatalog(t *testing.T, m *MemoryRepository) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.InsertArtist(ctx, Artist{ID: "a1", Name: "Nina"}))
	require.NoError(t, m.InsertArtist(ctx, Artist{ID: "a2", Name: "Miles"}))
	require.NoError(t, m.InsertGenre(ctx, Genre{ID: "g1", Name: "Jazz"}))
	require.NoError(t, m.InsertAlbum(ctx, Album{ID: "al1", ArtistID: "a1", Title: "Pastel Blues"}))
	require.NoError(t, m.InsertTrack(ctx, Track{ID: "t1", ArtistID: "a1", AlbumID: "al1", GenreID: "g1", Title: "Be My Husband", Type: TrackAlbum, DurationSec: 170}))
	require.NoError(t, m.InsertTrack(ctx, Track{ID: "t2", ArtistID: "a1", AlbumID: "al1", Title: "Sinnerman", Type: TrackAlbum, DurationSec: 620}))
	require.NoError(t, m.InsertTrack(ctx, Track{ID: "t3", ArtistID: "a2", Title: "So What", Type: TrackSingle, DurationSec: 545}))
	m.PutUser(User{ID: "u1", Username: "ana", Role: "listener", Active: true})
	m.PutUser(User{ID: "u2", Username: "ben", Role: "listener", Active: true})
}

func TestMemoryRepositoryJoinsArtistNames(t *testing.T) {
	m := NewMemoryRepository()
	seedCatalog(t, m)
	ctx := context.Background()

	tr, err := m.Track(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Nina", tr.ArtistName)

	require.NoError(t, m.UpdateArtist(ctx, Artist{ID: "a1", Name: "Nina Simone"}))
	al, err := m.Album(ctx, "al1")
	require.NoError(t, err)
	assert.Equal(t, "Nina Simone", al.ArtistName)
}

func TestMemoryRepositoryTrackFilter(t *testing.T) {
	m := NewMemoryRepository()
	seedCatalog(t, m)
	ctx := context.Background()

	byArtist, err := m.Tracks(ctx, TrackFilter{Query: "nina"})
	require.NoError(t, err)
	assert.Len(t, byArtist, 2)

	singles, err := m.Tracks(ctx, TrackFilter{Type: "single"})
	require.NoError(t, err)
	require.Len(t, singles, 1)
	assert.Equal(t, "t3", singles[0].ID)

	paged, err := m.Tracks(ctx, TrackFilter{Page: Page{Limit: 1, Offset: 1}})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "t2", paged[0].ID)

	empty, err := m.Tracks(ctx, TrackFilter{Page: Page{Offset: 50}})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryRepositoryReferences(t *testing.T) {
	m := NewMemoryRepository()
	seedCatalog(t, m)
	ctx := context.Background()

	assert.ErrorIs(t, m.InsertArtist(ctx, Artist{ID: "a1", Name: "dup"}), ErrConflict)
	assert.ErrorIs(t, m.InsertAlbum(ctx, Album{ID: "al2", ArtistID: "ghost"}), ErrConflict)
	assert.ErrorIs(t, m.InsertTrack(ctx, Track{ID: "t9", ArtistID: "a1", AlbumID: "ghost"}), ErrConflict)
	assert.ErrorIs(t, m.InsertGenre(ctx, Genre{ID: "g2", Name: "Jazz"}), ErrConflict)
	assert.ErrorIs(t, m.UpdateTrack(ctx, Track{ID: "missing", ArtistID: "a1"}), ErrNotFound)
	assert.ErrorIs(t, m.Follow(ctx, "u1", "ghost"), ErrConflict)
	assert.ErrorIs(t, m.Unfollow(ctx, "u1", "u2"), ErrNotFound)
	assert.ErrorIs(t, m.UpdateUser(ctx, User{ID: "u1", Username: "ben"}), ErrConflict)
}

func TestMemoryRepositoryDeleteCascades(t *testing.T) {
	m := NewMemoryRepository()
	seedCatalog(t, m)
	ctx := context.Background()

	require.NoError(t, m.DeleteGenre(ctx, "g1"))
	tr, err := m.Track(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, tr.GenreID)

	require.NoError(t, m.DeleteAlbum(ctx, "al1"))
	tr, err = m.Track(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, tr.AlbumID)

	require.NoError(t, m.InsertPlay(ctx, Play{ID: "p1", UserID: "u1", TrackID: "t1", Completed: true}))
	require.NoError(t, m.DeleteArtist(ctx, "a1"))
	_, err = m.Track(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)
	history, err := m.History(ctx, "u1", Page{})
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestMemoryRepositoryFollows(t *testing.T) {
	m := NewMemoryRepository()
	seedCatalog(t, m)
	ctx := context.Background()

	require.NoError(t, m.Follow(ctx, "u1", "u2"))
	require.NoError(t, m.Follow(ctx, "u1", "u2"))

	followers, err := m.Followers(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, followers, 1)
	assert.Equal(t, "ana", followers[0].Username)

	following, err := m.Following(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, following)

	require.NoError(t, m.Unfollow(ctx, "u1", "u2"))
	followers, err = m.Followers(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, followers)
}

func TestMemoryRepositoryPlaysAndRecommendations(t *testing.T) {
	m := NewMemoryRepository()
	seedCatalog(t, m)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	plays := []Play{
		{ID: "p1", UserID: "u1", TrackID: "t3", Completed: true, PlayedAt: base},
		{ID: "p2", UserID: "u1", TrackID: "t1", Completed: true, PlayedAt: base.Add(time.Minute)},
		{ID: "p3", UserID: "u1", TrackID: "t2", Completed: true, PlayedAt: base.Add(2 * time.Minute)},
		{ID: "p4", UserID: "u1", TrackID: "t3", Completed: false, PlayedAt: base.Add(3 * time.Minute)},
		{ID: "p5", UserID: "u2", TrackID: "t3", Completed: true, PlayedAt: base.Add(4 * time.Minute)},
	}
	for _, p := range plays {
		require.NoError(t, m.InsertPlay(ctx, p))
	}
	assert.ErrorIs(t, m.InsertPlay(ctx, Play{ID: "p6", UserID: "ghost", TrackID: "t1"}), ErrConflict)

	history, err := m.History(ctx, "u1", Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "p4", history[0].ID)
	assert.Equal(t, "p3", history[1].ID)

	recs, err := m.RecommendedArtists(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, recs)

	require.NoError(t, m.RefreshRecommendations(ctx, "u1"))
	recs, err = m.RecommendedArtists(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a1", recs[0].ID)
	assert.Equal(t, "a2", recs[1].ID)

	require.NoError(t, m.UpdateArtist(ctx, Artist{ID: "a1", Name: "Nina Simone"}))
	recs, err = m.RecommendedArtists(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Equal(t, "Nina Simone", recs[0].Name, "names resolve on read")

	top, err := m.TopTracks(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "t3", top[0].ID)
	assert.Equal(t, int64(2), top[0].Plays)
	assert.Equal(t, "Miles", top[0].ArtistName)
}
