package catalog

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
)

type follow struct{ follower, followee string }

// MemoryRepository is a Repository held in process memory. It enforces the
// same references and cascades as the SQL schema and serves local runs
// without a database.
type MemoryRepository struct {
	mu      sync.RWMutex
	artists map[string]Artist
	albums  map[string]Album
	tracks  map[string]Track
	genres  map[string]Genre
	users   map[string]User
	follows map[follow]struct{}
	plays   []Play
	recs    map[string]map[string]int64 // user -> artist -> score
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		artists: make(map[string]Artist),
		albums:  make(map[string]Album),
		tracks:  make(map[string]Track),
		genres:  make(map[string]Genre),
		users:   make(map[string]User),
		follows: make(map[follow]struct{}),
		recs:    make(map[string]map[string]int64),
	}
}

// PutUser stores u as is. Accounts are created outside the catalog.
func (m *MemoryRepository) PutUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func window[T any](items []T, p Page) []T {
	p = p.Normalize()
	if p.Offset >= uint64(len(items)) {
		return []T{}
	}
	end := min(p.Offset+p.Limit, uint64(len(items)))
	return items[p.Offset:end]
}

func sortedValues[K comparable, V any](m map[K]V, less func(a, b V) int) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	slices.SortFunc(out, less)
	return out
}

// Artist returns the artist with id or ErrNotFound.
func (m *MemoryRepository) Artist(_ context.Context, id string) (Artist, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.artists[id]
	if !ok {
		return Artist{}, ErrNotFound
	}
	return a, nil
}

// Artists returns a page of artists ordered by name.
func (m *MemoryRepository) Artists(_ context.Context, page Page) ([]Artist, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := sortedValues(m.artists, func(a, b Artist) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return window(all, page), nil
}

// ArtistAlbums returns the albums of artistID ordered by title.
func (m *MemoryRepository) ArtistAlbums(_ context.Context, artistID string) ([]Album, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Album{}
	for _, a := range m.albums {
		if a.ArtistID == artistID {
			out = append(out, m.albumView(a))
		}
	}
	slices.SortFunc(out, compareAlbums)
	return out, nil
}

func compareAlbums(a, b Album) int {
	return cmp.Or(cmp.Compare(a.Title, b.Title), cmp.Compare(a.ID, b.ID))
}

// InsertArtist stores a new artist or returns ErrConflict.
func (m *MemoryRepository) InsertArtist(_ context.Context, a Artist) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.artists[a.ID]; dup {
		return ErrConflict
	}
	m.artists[a.ID] = a
	return nil
}

// UpdateArtist replaces an existing artist.
func (m *MemoryRepository) UpdateArtist(_ context.Context, a Artist) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.artists[a.ID]; !ok {
		return ErrNotFound
	}
	m.artists[a.ID] = a
	return nil
}

// DeleteArtist removes an artist with their albums, tracks and scores.
func (m *MemoryRepository) DeleteArtist(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.artists[id]; !ok {
		return ErrNotFound
	}
	delete(m.artists, id)
	for albumID, a := range m.albums {
		if a.ArtistID == id {
			m.deleteAlbumLocked(albumID)
		}
	}
	for trackID, t := range m.tracks {
		if t.ArtistID == id {
			m.deleteTrackLocked(trackID)
		}
	}
	for _, scores := range m.recs {
		delete(scores, id)
	}
	return nil
}

func (m *MemoryRepository) albumView(a Album) Album {
	a.ArtistName = m.artists[a.ArtistID].Name
	return a
}

// Album returns the album with id or ErrNotFound.
func (m *MemoryRepository) Album(_ context.Context, id string) (Album, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.albums[id]
	if !ok {
		return Album{}, ErrNotFound
	}
	return m.albumView(a), nil
}

// AlbumTracks returns the tracks on albumID.
func (m *MemoryRepository) AlbumTracks(_ context.Context, albumID string) ([]Track, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterTracks(func(t Track) bool { return t.AlbumID == albumID }), nil
}

// InsertAlbum stores a new album after checking its artist and genre.
func (m *MemoryRepository) InsertAlbum(_ context.Context, a Album) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.albums[a.ID]; dup {
		return ErrConflict
	}
	if _, ok := m.artists[a.ArtistID]; !ok {
		return ErrConflict
	}
	a.ArtistName = ""
	m.albums[a.ID] = a
	return nil
}

// UpdateAlbum replaces an existing album.
func (m *MemoryRepository) UpdateAlbum(_ context.Context, a Album) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.albums[a.ID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.artists[a.ArtistID]; !ok {
		return ErrConflict
	}
	a.ArtistName = ""
	m.albums[a.ID] = a
	return nil
}

// DeleteAlbum removes an album and its tracks.
func (m *MemoryRepository) DeleteAlbum(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.albums[id]; !ok {
		return ErrNotFound
	}
	m.deleteAlbumLocked(id)
	return nil
}

func (m *MemoryRepository) deleteAlbumLocked(id string) {
	delete(m.albums, id)
	for trackID, t := range m.tracks {
		if t.AlbumID == id {
			t.AlbumID = ""
			m.tracks[trackID] = t
		}
	}
}

func (m *MemoryRepository) trackView(t Track) Track {
	t.ArtistName = m.artists[t.ArtistID].Name
	return t
}

func (m *MemoryRepository) filterTracks(keep func(Track) bool) []Track {
	out := []Track{}
	for _, t := range m.tracks {
		if keep(t) {
			out = append(out, m.trackView(t))
		}
	}
	slices.SortFunc(out, func(a, b Track) int {
		return cmp.Or(cmp.Compare(a.Title, b.Title), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// Track returns the track with id or ErrNotFound.
func (m *MemoryRepository) Track(_ context.Context, id string) (Track, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tracks[id]
	if !ok {
		return Track{}, ErrNotFound
	}
	return m.trackView(t), nil
}

// Tracks lists tracks matching filter.
func (m *MemoryRepository) Tracks(_ context.Context, filter TrackFilter) ([]Track, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	query := strings.ToLower(filter.Query)
	out := m.filterTracks(func(t Track) bool {
		if filter.Type != "" && !strings.EqualFold(t.Type, filter.Type) {
			return false
		}
		if query == "" {
			return true
		}
		return strings.Contains(strings.ToLower(t.Title), query) ||
			strings.Contains(strings.ToLower(m.artists[t.ArtistID].Name), query)
	})
	return window(out, filter.Page), nil
}

func (m *MemoryRepository) checkTrackRefs(t Track) error {
	if _, ok := m.artists[t.ArtistID]; !ok {
		return ErrConflict
	}
	if _, ok := m.albums[t.AlbumID]; t.AlbumID != "" && !ok {
		return ErrConflict
	}
	if _, ok := m.genres[t.GenreID]; t.GenreID != "" && !ok {
		return ErrConflict
	}
	return nil
}

// InsertTrack stores a new track after checking its references.
func (m *MemoryRepository) InsertTrack(_ context.Context, t Track) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.tracks[t.ID]; dup {
		return ErrConflict
	}
	if err := m.checkTrackRefs(t); err != nil {
		return err
	}
	t.ArtistName = ""
	m.tracks[t.ID] = t
	return nil
}

// UpdateTrack replaces an existing track.
func (m *MemoryRepository) UpdateTrack(_ context.Context, t Track) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tracks[t.ID]; !ok {
		return ErrNotFound
	}
	if err := m.checkTrackRefs(t); err != nil {
		return err
	}
	t.ArtistName = ""
	m.tracks[t.ID] = t
	return nil
}

// DeleteTrack removes a track.
func (m *MemoryRepository) DeleteTrack(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tracks[id]; !ok {
		return ErrNotFound
	}
	m.deleteTrackLocked(id)
	return nil
}

func (m *MemoryRepository) deleteTrackLocked(id string) {
	delete(m.tracks, id)
	m.plays = slices.DeleteFunc(m.plays, func(p Play) bool { return p.TrackID == id })
}

// Genres returns every genre ordered by name.
func (m *MemoryRepository) Genres(_ context.Context) ([]Genre, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.genres, func(a, b Genre) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	}), nil
}

func (m *MemoryRepository) genreNameTaken(g Genre) bool {
	for _, other := range m.genres {
		if other.ID != g.ID && other.Name == g.Name {
			return true
		}
	}
	return false
}

// InsertGenre stores a new genre with a unique name.
func (m *MemoryRepository) InsertGenre(_ context.Context, g Genre) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.genres[g.ID]; dup || m.genreNameTaken(g) {
		return ErrConflict
	}
	m.genres[g.ID] = g
	return nil
}

// UpdateGenre renames an existing genre.
func (m *MemoryRepository) UpdateGenre(_ context.Context, g Genre) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.genres[g.ID]; !ok {
		return ErrNotFound
	}
	if m.genreNameTaken(g) {
		return ErrConflict
	}
	m.genres[g.ID] = g
	return nil
}

// DeleteGenre removes a genre and clears it from albums.
func (m *MemoryRepository) DeleteGenre(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.genres[id]; !ok {
		return ErrNotFound
	}
	delete(m.genres, id)
	for trackID, t := range m.tracks {
		if t.GenreID == id {
			t.GenreID = ""
			m.tracks[trackID] = t
		}
	}
	return nil
}

// User returns the user with id or ErrNotFound.
func (m *MemoryRepository) User(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

// UpdateUser replaces the profile fields of an existing user.
func (m *MemoryRepository) UpdateUser(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	for _, other := range m.users {
		if other.ID != u.ID && other.Username == u.Username {
			return ErrConflict
		}
	}
	stored.Username = u.Username
	stored.Profile = u.Profile
	m.users[u.ID] = stored
	return nil
}

// DeactivateUser marks a user inactive.
func (m *MemoryRepository) DeactivateUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Active = false
	m.users[id] = u
	return nil
}

// Follow records that followerID follows followeeID.
func (m *MemoryRepository) Follow(_ context.Context, followerID, followeeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[followerID]; !ok {
		return ErrConflict
	}
	if _, ok := m.users[followeeID]; !ok {
		return ErrConflict
	}
	m.follows[follow{followerID, followeeID}] = struct{}{}
	return nil
}

// Unfollow removes a follow edge.
func (m *MemoryRepository) Unfollow(_ context.Context, followerID, followeeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	edge := follow{followerID, followeeID}
	if _, ok := m.follows[edge]; !ok {
		return ErrNotFound
	}
	delete(m.follows, edge)
	return nil
}

func (m *MemoryRepository) edges(pick func(follow) (string, bool)) []User {
	out := []User{}
	for edge := range m.follows {
		if id, ok := pick(edge); ok {
			out = append(out, m.users[id])
		}
	}
	slices.SortFunc(out, func(a, b User) int {
		return cmp.Or(cmp.Compare(a.Username, b.Username), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// Followers returns the users following userID.
func (m *MemoryRepository) Followers(_ context.Context, userID string) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.edges(func(f follow) (string, bool) { return f.follower, f.followee == userID }), nil
}

// Following returns the users userID follows.
func (m *MemoryRepository) Following(_ context.Context, userID string) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.edges(func(f follow) (string, bool) { return f.followee, f.follower == userID }), nil
}

// InsertPlay appends a play after checking its user and track.
func (m *MemoryRepository) InsertPlay(_ context.Context, p Play) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[p.UserID]; !ok {
		return ErrConflict
	}
	if _, ok := m.tracks[p.TrackID]; !ok {
		return ErrConflict
	}
	m.plays = append(m.plays, p)
	return nil
}

// History returns the plays of userID, newest first.
func (m *MemoryRepository) History(_ context.Context, userID string, page Page) ([]Play, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Play{}
	for _, p := range m.plays {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	slices.SortStableFunc(out, func(a, b Play) int { return b.PlayedAt.Compare(a.PlayedAt) })
	return window(out, page), nil
}

// completedPlays counts completed plays per track, optionally for one user.
func (m *MemoryRepository) completedPlays(userID string) map[string]int64 {
	counts := make(map[string]int64)
	for _, p := range m.plays {
		if p.Completed && (userID == "" || p.UserID == userID) {
			counts[p.TrackID]++
		}
	}
	return counts
}

// RefreshRecommendations stores per-artist scores for userID. Names are
// resolved on read so renames show without a refresh.
func (m *MemoryRepository) RefreshRecommendations(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	scores := make(map[string]int64)
	for trackID, n := range m.completedPlays(userID) {
		scores[m.tracks[trackID].ArtistID] += n
	}
	m.recs[userID] = scores
	return nil
}

// RecommendedArtists ranks by score, then name.
func (m *MemoryRepository) RecommendedArtists(_ context.Context, userID string, limit uint64) ([]Artist, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	scores := m.recs[userID]
	out := make([]Artist, 0, len(scores))
	for artistID := range scores {
		if a, ok := m.artists[artistID]; ok {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b Artist) int {
		return cmp.Or(cmp.Compare(scores[b.ID], scores[a.ID]), cmp.Compare(a.Name, b.Name))
	})
	return window(out, Page{Limit: limit}), nil
}

// TopTracks returns the most played tracks by completed plays.
func (m *MemoryRepository) TopTracks(_ context.Context, limit uint64) ([]TrackStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []TrackStat{}
	for trackID, n := range m.completedPlays("") {
		out = append(out, TrackStat{Track: m.trackView(m.tracks[trackID]), Plays: n})
	}
	slices.SortFunc(out, func(a, b TrackStat) int {
		return cmp.Or(cmp.Compare(b.Plays, a.Plays), cmp.Compare(a.ID, b.ID))
	})
	return window(out, Page{Limit: limit}), nil
}

var (
	_ Repository = (*MemoryRepository)(nil)
	_ Repository = (*SQLRepository)(nil)
)
