// Package invalidation turns entity mutations into the set of cache keys that
// may now be stale and deletes them from the store.
//
// Cache keys are request paths, so a mutation is mapped to glob patterns over
// those paths. The mapping over-approximates: purging keys that were still
// fresh costs a cache miss, leaving a stale key serves wrong data.
package invalidation

import "strings"

// Kind is the cache-facing name of an entity family.
type Kind string

// Entity kinds that own cached endpoints.
const (
	KindUser           Kind = "user"
	KindArtist         Kind = "artist"
	KindAlbum          Kind = "album"
	KindTrack          Kind = "track"
	KindGenre          Kind = "genre"
	KindHistory        Kind = "history"
	KindStats          Kind = "stats"
	KindArtistRequests Kind = "artist-requests"
)

// Kinds lists every known kind.
var Kinds = []Kind{
	KindUser, KindArtist, KindAlbum, KindTrack, KindGenre, KindHistory, KindStats, KindArtistRequests,
}

// collections maps kinds whose route segment is not a plain plural.
var collections = map[Kind]string{
	KindHistory:        "history",
	KindStats:          "stats",
	KindArtistRequests: "artist-requests",
}

// Collection returns the route segment of the kind's listing endpoints.
func (k Kind) Collection() string {
	if c, ok := collections[k]; ok {
		return c
	}
	return string(k) + "s"
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// hasGlobMeta reports whether s would be interpreted as a pattern by SCAN MATCH.
func hasGlobMeta(s string) bool {
	return strings.ContainsAny(s, `*?[]\`)
}
