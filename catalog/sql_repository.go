package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gaborage/tunecache/database"
)

// PostgreSQL error codes mapped to ErrConflict.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// SQLRepository implements Repository with squirrel-built statements.
type SQLRepository struct {
	db database.Interface
	sb sq.StatementBuilderType
}

// NewSQLRepository returns a repository on db.
func NewSQLRepository(db database.Interface) *SQLRepository {
	return &SQLRepository{db: db, sb: database.Builder()}
}

// translate maps driver errors onto the package sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgUniqueViolation || pgErr.Code == pgForeignKeyViolation) {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

// nullable stores empty optional references as NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *SQLRepository) exec(ctx context.Context, q sq.Sqlizer) (int64, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build statement: %w", err)
	}
	res, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, translate(err)
	}
	return res.RowsAffected()
}

// execOne is exec for statements that must touch a row.
func (r *SQLRepository) execOne(ctx context.Context, q sq.Sqlizer) error {
	n, err := r.exec(ctx, q)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLRepository) queryRow(ctx context.Context, q sq.Sqlizer, dest ...any) error {
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return translate(r.db.QueryRow(ctx, query, args...).Scan(dest...))
}

// queryAll runs q and scans every row with scan.
func queryAll[T any](ctx context.Context, db database.Querier, q sq.Sqlizer, scan func(*sql.Rows) (T, error)) ([]T, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func paginate(b sq.SelectBuilder, p Page) sq.SelectBuilder {
	p = p.Normalize()
	b = b.Limit(p.Limit)
	if p.Offset > 0 {
		b = b.Offset(p.Offset)
	}
	return b
}

// Artists

var artistColumns = []string{"ar.id", "ar.name", "ar.verified"}

func scanArtist(rows *sql.Rows) (Artist, error) {
	var a Artist
	err := rows.Scan(&a.ID, &a.Name, &a.Verified)
	return a, err
}

// Artist returns one artist.
func (r *SQLRepository) Artist(ctx context.Context, id string) (Artist, error) {
	var a Artist
	q := r.sb.Select(artistColumns...).From("artists ar").Where(sq.Eq{"ar.id": id})
	err := r.queryRow(ctx, q, &a.ID, &a.Name, &a.Verified)
	return a, err
}

// Artists lists artists by name.
func (r *SQLRepository) Artists(ctx context.Context, page Page) ([]Artist, error) {
	q := paginate(r.sb.Select(artistColumns...).From("artists ar").OrderBy("ar.name", "ar.id"), page)
	return queryAll(ctx, r.db, q, scanArtist)
}

// InsertArtist adds an artist.
func (r *SQLRepository) InsertArtist(ctx context.Context, a Artist) error {
	_, err := r.exec(ctx, r.sb.Insert("artists").
		Columns("id", "name", "verified").
		Values(a.ID, a.Name, a.Verified))
	return err
}

// UpdateArtist renames an artist.
func (r *SQLRepository) UpdateArtist(ctx context.Context, a Artist) error {
	return r.execOne(ctx, r.sb.Update("artists").
		Set("name", a.Name).
		Set("verified", a.Verified).
		Where(sq.Eq{"id": a.ID}))
}

// DeleteArtist removes an artist. Releases go with it through ON DELETE CASCADE.
func (r *SQLRepository) DeleteArtist(ctx context.Context, id string) error {
	return r.execOne(ctx, r.sb.Delete("artists").Where(sq.Eq{"id": id}))
}

// Albums

var albumColumns = []string{"al.id", "al.artist_id", "ar.name", "al.title"}

func scanAlbum(rows *sql.Rows) (Album, error) {
	var a Album
	err := rows.Scan(&a.ID, &a.ArtistID, &a.ArtistName, &a.Title)
	return a, err
}

func (r *SQLRepository) albums() sq.SelectBuilder {
	return r.sb.Select(albumColumns...).From("albums al").Join("artists ar ON ar.id = al.artist_id")
}

// Album returns one album with its artist name.
func (r *SQLRepository) Album(ctx context.Context, id string) (Album, error) {
	var a Album
	err := r.queryRow(ctx, r.albums().Where(sq.Eq{"al.id": id}), &a.ID, &a.ArtistID, &a.ArtistName, &a.Title)
	return a, err
}

// ArtistAlbums lists an artist's albums.
func (r *SQLRepository) ArtistAlbums(ctx context.Context, artistID string) ([]Album, error) {
	return queryAll(ctx, r.db, r.albums().Where(sq.Eq{"al.artist_id": artistID}).OrderBy("al.title", "al.id"), scanAlbum)
}

// InsertAlbum adds an album.
func (r *SQLRepository) InsertAlbum(ctx context.Context, a Album) error {
	_, err := r.exec(ctx, r.sb.Insert("albums").
		Columns("id", "artist_id", "title").
		Values(a.ID, a.ArtistID, a.Title))
	return err
}

// UpdateAlbum retitles an album or moves it to another artist.
func (r *SQLRepository) UpdateAlbum(ctx context.Context, a Album) error {
	return r.execOne(ctx, r.sb.Update("albums").
		Set("artist_id", a.ArtistID).
		Set("title", a.Title).
		Where(sq.Eq{"id": a.ID}))
}

// DeleteAlbum removes an album. Its tracks become singles through ON DELETE SET NULL.
func (r *SQLRepository) DeleteAlbum(ctx context.Context, id string) error {
	return r.execOne(ctx, r.sb.Delete("albums").Where(sq.Eq{"id": id}))
}
