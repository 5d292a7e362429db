// Package catalog is the music catalog the response cache sits in front of:
// artists, albums, tracks, genres, users, follows and play history. Reads
// are plain queries cached by the HTTP layer; every write goes through the
// mutation interceptor so the affected cache keys are purged.
package catalog

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("catalog: not found")
	// ErrConflict is returned when a write violates a uniqueness or
	// reference constraint.
	ErrConflict = errors.New("catalog: conflict")
)

// Track types as they appear in /api/tracks/type/:type.
const (
	TrackSingle = "SINGLE"
	TrackAlbum  = "ALBUM"
	TrackEP     = "EP"
)

// Artist is a performer.
type Artist struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Verified bool   `json:"verified"`
}

// ArtistDetail is an artist with their albums.
type ArtistDetail struct {
	Artist
	Albums []Album `json:"albums"`
}

// Album is a release by one artist.
type Album struct {
	ID         string `json:"id"`
	ArtistID   string `json:"artistId"`
	ArtistName string `json:"artistName,omitempty"`
	Title      string `json:"title"`
}

// AlbumDetail is an album with its tracks.
type AlbumDetail struct {
	Album
	Tracks []Track `json:"tracks"`
}

// Track is a playable recording. AlbumID and GenreID may be empty.
type Track struct {
	ID          string `json:"id"`
	ArtistID    string `json:"artistId"`
	ArtistName  string `json:"artistName,omitempty"`
	AlbumID     string `json:"albumId,omitempty"`
	GenreID     string `json:"genreId,omitempty"`
	Title       string `json:"title"`
	Type        string `json:"type"`
	DurationSec int    `json:"durationSec"`
}

// TrackStat is a track with its completed play count.
type TrackStat struct {
	Track
	Plays int64 `json:"plays"`
}

// Genre classifies tracks.
type Genre struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// User is a listener account.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Profile  string `json:"profile"`
	Active   bool   `json:"active"`
}

// Play is one playback event.
type Play struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	TrackID   string    `json:"trackId"`
	Completed bool      `json:"completed"`
	PlayedAt  time.Time `json:"playedAt"`
}

// Page selects a window of a listing.
type Page struct {
	Limit  uint64
	Offset uint64
}

// DefaultPageSize applies when a listing is requested without a limit.
const DefaultPageSize = 20

// MaxPageSize caps listing windows.
const MaxPageSize = 100

// Normalize fills in the default limit and caps it.
func (p Page) Normalize() Page {
	if p.Limit == 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	return p
}

// TrackFilter narrows a track listing. Zero values match everything.
type TrackFilter struct {
	Type  string
	Query string
	Page  Page
}
