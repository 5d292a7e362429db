package invalidation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/match"
)

func requests(p Plan) map[string]bool {
	out := make(map[string]bool, len(p.Requests))
	for _, r := range p.Requests {
		out[Request{Kind: r.Kind, ID: r.ID}.String()] = true
	}
	return out
}

func TestPlanForCascadeTable(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want []string
		keys []string
	}{
		{
			name: "ArtistCreate",
			ev:   Event{Entity: EntityArtist, Op: OpCreate, ID: "a1"},
			want: []string{"artist:a1", "artist-requests", "stats"},
		},
		{
			name: "ArtistUpdate",
			ev:   Event{Entity: EntityArtist, Op: OpUpdate, ID: "a1"},
			want: []string{"artist:a1", "artist-requests", "stats", "album", "track"},
		},
		{
			name: "ArtistDelete",
			ev:   Event{Entity: EntityArtist, Op: OpDelete, ID: "a1"},
			want: []string{"artist:a1", "artist-requests", "stats", "album", "track"},
		},
		{
			name: "AlbumCreate",
			ev:   Event{Entity: EntityAlbum, Op: OpCreate, ID: "b1", New: Refs{ArtistID: "a1"}},
			want: []string{"artist:a1", "album", "stats"},
		},
		{
			name: "AlbumUpdate",
			ev:   Event{Entity: EntityAlbum, Op: OpUpdate, ID: "b1", Old: Refs{ArtistID: "a1"}, New: Refs{ArtistID: "a1"}},
			want: []string{"artist:a1", "album:b1"},
		},
		{
			name: "AlbumDelete",
			ev:   Event{Entity: EntityAlbum, Op: OpDelete, ID: "b1", Old: Refs{ArtistID: "a1"}},
			want: []string{"artist:a1", "album:b1", "track"},
		},
		{
			name: "TrackCreateAlbumed",
			ev:   Event{Entity: EntityTrack, Op: OpCreate, ID: "t1", New: Refs{ArtistID: "a1", AlbumID: "b1"}},
			want: []string{"artist:a1", "track", "stats", "album:b1"},
		},
		{
			name: "TrackCreateSingle",
			ev:   Event{Entity: EntityTrack, Op: OpCreate, ID: "t1", New: Refs{ArtistID: "a1"}},
			want: []string{"artist:a1", "track", "stats"},
		},
		{
			name: "TrackUpdateMovesAlbum",
			ev: Event{Entity: EntityTrack, Op: OpUpdate, ID: "t1",
				Old: Refs{ArtistID: "a1", AlbumID: "b1"}, New: Refs{ArtistID: "a1", AlbumID: "b2"}},
			want: []string{"artist:a1", "track:t1", "album:b1", "album:b2"},
		},
		{
			name: "TrackDelete",
			ev:   Event{Entity: EntityTrack, Op: OpDelete, ID: "t1", Old: Refs{ArtistID: "a1", AlbumID: "b1"}},
			want: []string{"artist:a1", "track:t1", "album:b1"},
		},
		{
			name: "GenreUpdate",
			ev:   Event{Entity: EntityGenre, Op: OpUpdate, ID: "g1"},
			want: []string{"genre:g1", "track", "stats"},
		},
		{
			name: "UserUpdate",
			ev:   Event{Entity: EntityUser, Op: OpUpdate, ID: "u1"},
			want: []string{"user:u1", "stats"},
		},
		{
			name: "UserCreate",
			ev:   Event{Entity: EntityUser, Op: OpCreate, ID: "u1"},
			want: []string{},
		},
		{
			name: "Follow",
			ev:   Event{Entity: EntityFollow, Op: OpCreate, New: Refs{FollowerID: "u1", FolloweeID: "u2"}},
			want: []string{"user:u1", "user:u2"},
			keys: []string{
				"/api/users/u1/following", "/api/users/u1/followers",
				"/api/users/u2/following", "/api/users/u2/followers",
			},
		},
		{
			name: "CompletedPlay",
			ev:   Event{Entity: EntityHistory, Op: OpCreate, ID: "h1", New: Refs{UserID: "u1", ArtistID: "a1"}, PlayCompleted: true},
			want: []string{"history:u1"},
			keys: []string{"/api/users/u1/recommended-artists", "/api/top-tracks", "/api/top-albums", "/api/top-artists"},
		},
		{
			name: "PartialPlay",
			ev:   Event{Entity: EntityHistory, Op: OpCreate, ID: "h1", New: Refs{UserID: "u1"}},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := PlanFor(tt.ev)
			got := requests(plan)
			assert.Len(t, got, len(tt.want), "%v", plan.Requests)
			for _, w := range tt.want {
				assert.True(t, got[w], "missing %s in %v", w, plan.Requests)
			}
			assert.ElementsMatch(t, tt.keys, plan.Keys)
		})
	}
}

func TestPlanForOwnerChangePurgesBothArtists(t *testing.T) {
	plan := PlanFor(Event{Entity: EntityAlbum, Op: OpUpdate, ID: "b1",
		Old: Refs{ArtistID: "a1"}, New: Refs{ArtistID: "a2"}})

	got := requests(plan)
	assert.True(t, got["artist:a1"])
	assert.True(t, got["artist:a2"])
}

func TestPlanForMissingOwnerFallsBackToCollection(t *testing.T) {
	plan := PlanFor(Event{Entity: EntityTrack, Op: OpDelete, ID: "t1"})

	got := requests(plan)
	assert.True(t, got["artist"], "%v", plan.Requests)
	assert.False(t, got["album"], "album target is optional")
}

func TestPlanForDeactivationRevokes(t *testing.T) {
	plan := PlanFor(Event{Entity: EntityUser, Op: OpUpdate, ID: "u1", Deactivated: true})
	assert.Equal(t, []string{"u1"}, plan.Revoke)

	plan = PlanFor(Event{Entity: EntityUser, Op: OpUpdate, ID: "u1"})
	assert.Empty(t, plan.Revoke)
}

func TestCascadeSearchOnRenames(t *testing.T) {
	for _, entity := range []Entity{EntityArtist, EntityAlbum, EntityTrack, EntityGenre} {
		plan := PlanFor(Event{Entity: entity, Op: OpUpdate, ID: "x1", Old: Refs{ArtistID: "a1"}})
		search := false
		for _, r := range plan.Requests {
			search = search || r.CascadeSearch
		}
		assert.True(t, search, "%s update must purge search results", entity)
	}
}

func purges(plan Plan, key string) bool {
	for _, p := range plan.Patterns() {
		if match.Match(key, p.Glob) {
			return true
		}
	}
	return false
}

func TestPlanForPurgesChartAndRecommendationViews(t *testing.T) {
	charts := []string{"/api/top-tracks", "/api/top-tracks?limit=5", "/api/top-albums", "/api/top-artists"}
	recs := []string{"/api/users/u1/recommended-artists", "/api/users/u2/recommended-artists?limit=3"}

	tests := []struct {
		name string
		ev   Event
		recs bool
	}{
		{name: "ArtistUpdate", ev: Event{Entity: EntityArtist, Op: OpUpdate, ID: "a1"}, recs: true},
		{name: "ArtistDelete", ev: Event{Entity: EntityArtist, Op: OpDelete, ID: "a1"}, recs: true},
		{name: "AlbumUpdate", ev: Event{Entity: EntityAlbum, Op: OpUpdate, ID: "b1", Old: Refs{ArtistID: "a1"}}},
		{name: "AlbumDelete", ev: Event{Entity: EntityAlbum, Op: OpDelete, ID: "b1", Old: Refs{ArtistID: "a1"}}},
		{name: "TrackCreate", ev: Event{Entity: EntityTrack, Op: OpCreate, ID: "t1", New: Refs{ArtistID: "a1"}}},
		{name: "TrackUpdate", ev: Event{Entity: EntityTrack, Op: OpUpdate, ID: "t1", Old: Refs{ArtistID: "a1"}}},
		{name: "TrackDelete", ev: Event{Entity: EntityTrack, Op: OpDelete, ID: "t1", Old: Refs{ArtistID: "a1"}}},
		{name: "GenreDelete", ev: Event{Entity: EntityGenre, Op: OpDelete, ID: "g1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := PlanFor(tt.ev)
			for _, key := range charts {
				assert.True(t, purges(plan, key), "%s must purge %s", tt.name, key)
			}
			for _, key := range recs {
				assert.Equal(t, tt.recs, purges(plan, key), "%s vs %s", tt.name, key)
			}
		})
	}
}

func TestPlanForLeavesChartsOnUserUpdate(t *testing.T) {
	plan := PlanFor(Event{Entity: EntityUser, Op: OpUpdate, ID: "u1"})
	assert.False(t, purges(plan, "/api/top-tracks"))
	assert.Empty(t, plan.Extra)
}
