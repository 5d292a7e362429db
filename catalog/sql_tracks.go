package catalog

import (
	"context"
	"database/sql"
	"slices"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

var trackColumns = []string{
	"t.id", "t.artist_id", "ar.name", "COALESCE(t.album_id, '')", "COALESCE(t.genre_id, '')",
	"t.title", "t.type", "t.duration_sec",
}

func trackDest(t *Track) []any {
	return []any{&t.ID, &t.ArtistID, &t.ArtistName, &t.AlbumID, &t.GenreID, &t.Title, &t.Type, &t.DurationSec}
}

func scanTrack(rows *sql.Rows) (Track, error) {
	var t Track
	err := rows.Scan(trackDest(&t)...)
	return t, err
}

func (r *SQLRepository) tracks(extra ...string) sq.SelectBuilder {
	return r.sb.Select(slices.Concat(trackColumns, extra)...).
		From("tracks t").
		Join("artists ar ON ar.id = t.artist_id")
}

// Track returns one track.
func (r *SQLRepository) Track(ctx context.Context, id string) (Track, error) {
	var t Track
	err := r.queryRow(ctx, r.tracks().Where(sq.Eq{"t.id": id}), trackDest(&t)...)
	return t, err
}

// AlbumTracks lists an album's tracks.
func (r *SQLRepository) AlbumTracks(ctx context.Context, albumID string) ([]Track, error) {
	return queryAll(ctx, r.db, r.tracks().Where(sq.Eq{"t.album_id": albumID}).OrderBy("t.title", "t.id"), scanTrack)
}

// Tracks lists tracks matching filter. Query matches titles and artist
// names case-insensitively.
func (r *SQLRepository) Tracks(ctx context.Context, filter TrackFilter) ([]Track, error) {
	q := r.tracks()
	if filter.Type != "" {
		q = q.Where(sq.Eq{"t.type": strings.ToUpper(filter.Type)})
	}
	if filter.Query != "" {
		like := "%" + escapeLike(filter.Query) + "%"
		q = q.Where(sq.Or{sq.ILike{"t.title": like}, sq.ILike{"ar.name": like}})
	}
	q = paginate(q.OrderBy("t.title", "t.id"), filter.Page)
	return queryAll(ctx, r.db, q, scanTrack)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// InsertTrack adds a track.
func (r *SQLRepository) InsertTrack(ctx context.Context, t Track) error {
	_, err := r.exec(ctx, r.sb.Insert("tracks").
		Columns("id", "artist_id", "album_id", "genre_id", "title", "type", "duration_sec").
		Values(t.ID, t.ArtistID, nullable(t.AlbumID), nullable(t.GenreID), t.Title, t.Type, t.DurationSec))
	return err
}

// UpdateTrack rewrites a track, including its artist and album.
func (r *SQLRepository) UpdateTrack(ctx context.Context, t Track) error {
	return r.execOne(ctx, r.sb.Update("tracks").
		Set("artist_id", t.ArtistID).
		Set("album_id", nullable(t.AlbumID)).
		Set("genre_id", nullable(t.GenreID)).
		Set("title", t.Title).
		Set("type", t.Type).
		Set("duration_sec", t.DurationSec).
		Where(sq.Eq{"id": t.ID}))
}

// DeleteTrack removes a track and its plays.
func (r *SQLRepository) DeleteTrack(ctx context.Context, id string) error {
	return r.execOne(ctx, r.sb.Delete("tracks").Where(sq.Eq{"id": id}))
}

// Genres lists every genre.
func (r *SQLRepository) Genres(ctx context.Context) ([]Genre, error) {
	q := r.sb.Select("id", "name").From("genres").OrderBy("name", "id")
	return queryAll(ctx, r.db, q, func(rows *sql.Rows) (Genre, error) {
		var g Genre
		err := rows.Scan(&g.ID, &g.Name)
		return g, err
	})
}

// InsertGenre adds a genre.
func (r *SQLRepository) InsertGenre(ctx context.Context, g Genre) error {
	_, err := r.exec(ctx, r.sb.Insert("genres").Columns("id", "name").Values(g.ID, g.Name))
	return err
}

// UpdateGenre renames a genre.
func (r *SQLRepository) UpdateGenre(ctx context.Context, g Genre) error {
	return r.execOne(ctx, r.sb.Update("genres").Set("name", g.Name).Where(sq.Eq{"id": g.ID}))
}

// DeleteGenre removes a genre. Tracks keep playing without one.
func (r *SQLRepository) DeleteGenre(ctx context.Context, id string) error {
	return r.execOne(ctx, r.sb.Delete("genres").Where(sq.Eq{"id": id}))
}
