package catalog

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"

	"github.com/gaborage/tunecache/database"
)

var userColumns = []string{"u.id", "u.username", "u.role", "u.profile", "u.active"}

func scanUser(rows *sql.Rows) (User, error) {
	var u User
	err := rows.Scan(&u.ID, &u.Username, &u.Role, &u.Profile, &u.Active)
	return u, err
}

// User returns one user.
func (r *SQLRepository) User(ctx context.Context, id string) (User, error) {
	var u User
	q := r.sb.Select(userColumns...).From("users u").Where(sq.Eq{"u.id": id})
	err := r.queryRow(ctx, q, &u.ID, &u.Username, &u.Role, &u.Profile, &u.Active)
	return u, err
}

// UpdateUser rewrites the editable profile fields.
func (r *SQLRepository) UpdateUser(ctx context.Context, u User) error {
	return r.execOne(ctx, r.sb.Update("users").
		Set("username", u.Username).
		Set("profile", u.Profile).
		Where(sq.Eq{"id": u.ID}))
}

// DeactivateUser marks an account inactive.
func (r *SQLRepository) DeactivateUser(ctx context.Context, id string) error {
	return r.execOne(ctx, r.sb.Update("users").Set("active", false).Where(sq.Eq{"id": id}))
}

// Follow records an edge. Following twice is a no-op.
func (r *SQLRepository) Follow(ctx context.Context, followerID, followeeID string) error {
	_, err := r.exec(ctx, r.sb.Insert("follows").
		Columns("follower_id", "followee_id").
		Values(followerID, followeeID).
		Suffix("ON CONFLICT DO NOTHING"))
	return err
}

// Unfollow removes an edge.
func (r *SQLRepository) Unfollow(ctx context.Context, followerID, followeeID string) error {
	return r.execOne(ctx, r.sb.Delete("follows").
		Where(sq.Eq{"follower_id": followerID, "followee_id": followeeID}))
}

// Followers lists the users following userID.
func (r *SQLRepository) Followers(ctx context.Context, userID string) ([]User, error) {
	q := r.sb.Select(userColumns...).From("follows f").
		Join("users u ON u.id = f.follower_id").
		Where(sq.Eq{"f.followee_id": userID}).
		OrderBy("u.username", "u.id")
	return queryAll(ctx, r.db, q, scanUser)
}

// Following lists the users userID follows.
func (r *SQLRepository) Following(ctx context.Context, userID string) ([]User, error) {
	q := r.sb.Select(userColumns...).From("follows f").
		Join("users u ON u.id = f.followee_id").
		Where(sq.Eq{"f.follower_id": userID}).
		OrderBy("u.username", "u.id")
	return queryAll(ctx, r.db, q, scanUser)
}

// InsertPlay records a playback event.
func (r *SQLRepository) InsertPlay(ctx context.Context, p Play) error {
	_, err := r.exec(ctx, r.sb.Insert("plays").
		Columns("id", "user_id", "track_id", "completed", "played_at").
		Values(p.ID, p.UserID, p.TrackID, p.Completed, p.PlayedAt))
	return err
}

// History lists a user's plays, newest first.
func (r *SQLRepository) History(ctx context.Context, userID string, page Page) ([]Play, error) {
	q := r.sb.Select("id", "user_id", "track_id", "completed", "played_at").
		From("plays").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("played_at DESC", "id")
	return queryAll(ctx, r.db, paginate(q, page), func(rows *sql.Rows) (Play, error) {
		var p Play
		err := rows.Scan(&p.ID, &p.UserID, &p.TrackID, &p.Completed, &p.PlayedAt)
		return p, err
	})
}

// RefreshRecommendations rebuilds the user's materialized recommendations
// from their completed plays, scoring artists by play count.
func (r *SQLRepository) RefreshRecommendations(ctx context.Context, userID string) error {
	del, delArgs, err := r.sb.Delete("user_recommendations").Where(sq.Eq{"user_id": userID}).ToSql()
	if err != nil {
		return err
	}
	scores := r.sb.Select("p.user_id", "t.artist_id", "COUNT(*)").
		From("plays p").
		Join("tracks t ON t.id = p.track_id").
		Where(sq.Eq{"p.user_id": userID, "p.completed": true}).
		GroupBy("p.user_id", "t.artist_id")
	ins, insArgs, err := r.sb.Insert("user_recommendations").
		Columns("user_id", "artist_id", "score").
		Select(scores).
		ToSql()
	if err != nil {
		return err
	}

	return database.WithTx(ctx, r.db, func(tx database.Tx) error {
		if _, err := tx.Exec(ctx, del, delArgs...); err != nil {
			return translate(err)
		}
		_, err := tx.Exec(ctx, ins, insArgs...)
		return translate(err)
	})
}

// RecommendedArtists returns the user's highest scored artists.
func (r *SQLRepository) RecommendedArtists(ctx context.Context, userID string, limit uint64) ([]Artist, error) {
	q := r.sb.Select(artistColumns...).From("user_recommendations rec").
		Join("artists ar ON ar.id = rec.artist_id").
		Where(sq.Eq{"rec.user_id": userID}).
		OrderBy("rec.score DESC", "ar.name").
		Limit(Page{Limit: limit}.Normalize().Limit)
	return queryAll(ctx, r.db, q, scanArtist)
}

// TopTracks ranks tracks by completed plays across all users.
func (r *SQLRepository) TopTracks(ctx context.Context, limit uint64) ([]TrackStat, error) {
	q := r.tracks("COUNT(p.id) AS plays").
		Join("plays p ON p.track_id = t.id AND p.completed").
		GroupBy(trackColumns...).
		OrderBy("plays DESC", "t.id").
		Limit(Page{Limit: limit}.Normalize().Limit)
	return queryAll(ctx, r.db, q, func(rows *sql.Rows) (TrackStat, error) {
		var s TrackStat
		err := rows.Scan(append(trackDest(&s.Track), &s.Plays)...)
		return s, err
	})
}
