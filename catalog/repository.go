package catalog

import "context"

// Repository is the data access the Service needs.
type Repository interface {
	Artist(ctx context.Context, id string) (Artist, error)
	Artists(ctx context.Context, page Page) ([]Artist, error)
	ArtistAlbums(ctx context.Context, artistID string) ([]Album, error)
	InsertArtist(ctx context.Context, a Artist) error
	UpdateArtist(ctx context.Context, a Artist) error
	DeleteArtist(ctx context.Context, id string) error

	Album(ctx context.Context, id string) (Album, error)
	AlbumTracks(ctx context.Context, albumID string) ([]Track, error)
	InsertAlbum(ctx context.Context, a Album) error
	UpdateAlbum(ctx context.Context, a Album) error
	DeleteAlbum(ctx context.Context, id string) error

	Track(ctx context.Context, id string) (Track, error)
	Tracks(ctx context.Context, filter TrackFilter) ([]Track, error)
	InsertTrack(ctx context.Context, t Track) error
	UpdateTrack(ctx context.Context, t Track) error
	DeleteTrack(ctx context.Context, id string) error

	Genres(ctx context.Context) ([]Genre, error)
	InsertGenre(ctx context.Context, g Genre) error
	UpdateGenre(ctx context.Context, g Genre) error
	DeleteGenre(ctx context.Context, id string) error

	User(ctx context.Context, id string) (User, error)
	UpdateUser(ctx context.Context, u User) error
	DeactivateUser(ctx context.Context, id string) error
	Follow(ctx context.Context, followerID, followeeID string) error
	Unfollow(ctx context.Context, followerID, followeeID string) error
	Followers(ctx context.Context, userID string) ([]User, error)
	Following(ctx context.Context, userID string) ([]User, error)

	InsertPlay(ctx context.Context, p Play) error
	History(ctx context.Context, userID string, page Page) ([]Play, error)
	RefreshRecommendations(ctx context.Context, userID string) error
	RecommendedArtists(ctx context.Context, userID string, limit uint64) ([]Artist, error)
	TopTracks(ctx context.Context, limit uint64) ([]TrackStat, error)
}
