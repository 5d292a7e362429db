package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gaborage/tunecache/invalidation"
	"github.com/gaborage/tunecache/logger"
	"github.com/gaborage/tunecache/mutation"
	"github.com/gaborage/tunecache/throttle"
)

var (
	// ErrInvalid is returned for writes that are well formed but not allowed.
	ErrInvalid = errors.New("catalog: invalid request")
	// ErrSessionsNotRevoked is returned when a deactivation committed but the
	// user's sessions could not all be revoked.
	ErrSessionsNotRevoked = errors.New("catalog: account deactivated but sessions not revoked")
)

// DefaultRecommendedLimit is the size of a recommended-artists listing.
const DefaultRecommendedLimit = 10

// Service is the catalog's use-case layer. Reads go straight to the
// repository; writes run through the mutation interceptor.
type Service struct {
	repo    Repository
	mut     *mutation.Interceptor
	refresh *throttle.Limiter
	log     logger.Logger
	newID   func() string
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRecommendationRefresh rebuilds a user's recommendations after a
// completed play, at most once per limiter interval per user.
func WithRecommendationRefresh(l *throttle.Limiter) Option {
	return func(s *Service) { s.refresh = l }
}

// WithIDGenerator replaces uuid.NewString for new entity ids.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// WithClock replaces time.Now for play timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
func NewService(repo Repository, mut *mutation.Interceptor, log logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.Nop()
	}
	s := &Service{
		repo:  repo,
		mut:   mut,
		log:   log,
		newID: uuid.NewString,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) run(ctx context.Context, spec mutation.Spec) error {
	out, err := s.mut.Run(ctx, spec)
	if err != nil && out.State == mutation.StateDone {
		return fmt.Errorf("%w: %w", ErrSessionsNotRevoked, err)
	}
	return err
}

func (s *Service) id(given string) string {
	if given != "" {
		return given
	}
	return s.newID()
}

// Reads

// Artist returns an artist with their albums.
func (s *Service) Artist(ctx context.Context, id string) (ArtistDetail, error) {
	a, err := s.repo.Artist(ctx, id)
	if err != nil {
		return ArtistDetail{}, err
	}
	albums, err := s.repo.ArtistAlbums(ctx, id)
	if err != nil {
		return ArtistDetail{}, err
	}
	return ArtistDetail{Artist: a, Albums: albums}, nil
}

// Artists lists artists.
func (s *Service) Artists(ctx context.Context, page Page) ([]Artist, error) {
	return s.repo.Artists(ctx, page)
}

// Album returns an album with its tracks.
func (s *Service) Album(ctx context.Context, id string) (AlbumDetail, error) {
	a, err := s.repo.Album(ctx, id)
	if err != nil {
		return AlbumDetail{}, err
	}
	tracks, err := s.repo.AlbumTracks(ctx, id)
	if err != nil {
		return AlbumDetail{}, err
	}
	return AlbumDetail{Album: a, Tracks: tracks}, nil
}

// Track returns one track.
func (s *Service) Track(ctx context.Context, id string) (Track, error) {
	return s.repo.Track(ctx, id)
}

// Tracks lists tracks.
func (s *Service) Tracks(ctx context.Context, filter TrackFilter) ([]Track, error) {
	return s.repo.Tracks(ctx, filter)
}

// Genres lists genres.
func (s *Service) Genres(ctx context.Context) ([]Genre, error) {
	return s.repo.Genres(ctx)
}

// User returns one user.
func (s *Service) User(ctx context.Context, id string) (User, error) {
	return s.repo.User(ctx, id)
}

// Followers lists who follows a user.
func (s *Service) Followers(ctx context.Context, id string) ([]User, error) {
	if _, err := s.repo.User(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Followers(ctx, id)
}

// Following lists who a user follows.
func (s *Service) Following(ctx context.Context, id string) ([]User, error) {
	if _, err := s.repo.User(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Following(ctx, id)
}

// History lists a user's plays.
func (s *Service) History(ctx context.Context, userID string, page Page) ([]Play, error) {
	return s.repo.History(ctx, userID, page)
}

// RecommendedArtists returns a user's recommendations.
func (s *Service) RecommendedArtists(ctx context.Context, userID string, limit uint64) ([]Artist, error) {
	if limit == 0 {
		limit = DefaultRecommendedLimit
	}
	return s.repo.RecommendedArtists(ctx, userID, limit)
}

// TopTracks ranks tracks by completed plays.
func (s *Service) TopTracks(ctx context.Context, limit uint64) ([]TrackStat, error) {
	return s.repo.TopTracks(ctx, limit)
}

// Artists

// CreateArtist adds an artist, generating an id when none is given.
func (s *Service) CreateArtist(ctx context.Context, a Artist) (Artist, error) {
	a.ID = s.id(a.ID)
	err := s.run(ctx, mutation.Spec{
		Entity: invalidation.EntityArtist,
		Op:     invalidation.OpCreate,
		ID:     a.ID,
		Apply: func(ctx context.Context) (mutation.Applied, error) {
			return mutation.Applied{}, s.repo.InsertArtist(ctx, a)
		},
	})
	return a, err
}

// UpdateArtist rewrites an artist.
func (s *Service) UpdateArtist(ctx context.Context, a Artist) (Artist, error) {
	err := s.run(ctx, mutation.Spec{
		Entity: invalidation.EntityArtist,
		Op:     invalidation.OpUpdate,
		ID:     a.ID,
		Apply: func(ctx context.Context) (mutation.Applied, error) {
			return mutation.Applied{}, s.repo.UpdateArtist(ctx, a)
		},
	})
	return a, err
}

// DeleteArtist removes an artist and their releases.
func (s *Service) DeleteArtist(ctx context.Context, id string) error {
	return s.run(ctx, mutation.Spec{
		Entity: invalidation.EntityArtist,
		Op:     invalidation.OpDelete,
		ID:     id,
		Apply: func(ctx context.Context) (mutation.Applied, error) {
			return mutation.Applied{}, s.repo.DeleteArtist(ctx, id)
		},
	})
}

// Albums

func (s *Service) albumRefs(id string) func(context.Context) (invalidation.Refs, error) {
	return func(ctx context.Context) (invalidation.Refs, error) {
		a, err := s.repo.Album(ctx, id)
		if err != nil {
			return invalidation.Refs{}, err
		}
		return invalidation.Refs{ArtistID: a.ArtistID}, nil
	}
}

// CreateAlbum adds an album.
func (s *Service) CreateAlbum(ctx context.Context, a Album) (Album, error) {
	a.ID = s.id(a.ID)
	err := s.run(ctx, mutation.Spec{
		Entity: invalidation.EntityAlbum,
		Op:     invalidation.OpCreate,
		ID:     a.ID,
		Apply: func(ctx context.Context) (mutation.Applied, error) {
			if err := s.repo.InsertAlbum(ctx, a); err != nil {
				return mutation.Applied{}, err
			}
			return mutation.Applied{Refs: invalidation.Refs{ArtistID: a.ArtistID}}, nil
		},
	})
	return a, err
}

// UpdateAlbum rewrites an album. Moving it to another artist purges both
// artists' caches.
func (s *Service) UpdateAlbum(ctx context.Context, a Album) (Album, error) {
	err := s.run(ctx, mutation.Spec{
		Entity:  invalidation.EntityAlbum,
		Op:      invalidation.OpUpdate,
		ID:      a.ID,
		Capture: s.albumRefs(a.ID),
		Apply: func(ctx context.Context) (mutation.Applied, error) {
			if err := s.repo.UpdateAlbum(ctx, a); err != nil {
				return mutation.Applied{}, err
			}
			return mutation.Applied{Refs: invalidation.Refs{ArtistID: a.ArtistID}}, nil
		},
	})
	return a, err
}

// DeleteAlbum removes an album.
func (s *Service) DeleteAlbum(ctx context.Context, id string) error {
	return s.run(ctx, mutation.Spec{
		Entity:  invalidation.EntityAlbum,
		Op:      invalidation.OpDelete,
		ID:      id,
		Capture: s.albumRefs(id),
		Apply: func(ctx context.Context) (mutation.Applied, error) {
			return mutation.Applied{}, s.repo.DeleteAlbum(ctx, id)
		},
	})
}

// Tracks

func trackRefs(t Track) invalidation.Refs {
	return invalidation.Refs{ArtistID: t.ArtistID, AlbumID: t.AlbumID}
}

func (s *Service) capturedTrack(id string) func(context.Context) (invalidation.Refs, error) {
	return func(ctx context.Context) (invalidation.Refs, error) {
		t, err := s.repo.Track(ctx, id)
		if err != nil {
			return invalidation.Refs{}, err
		}
		return trackRefs(t), nil
	}
}

// CreateTrack adds a track.
func (s *Service) CreateTrack(ctx context.Context, t Track) (Track, error) {
	t.ID = s.id(t.ID)
	err := s.run(ctx, mutation.Spec{
		Entity: invalidation.EntityTrack,
		Op:     invalidation.OpCreate,
		ID:     t.ID,
		Apply: func(ctx context.Context) (mutation.Applied, error) {
			if err := s.repo.InsertTrack(ctx, t); err != nil {
				return mutation.Applied{}, err
			}
			return mutation.Applied{Refs: trackRefs(t)}, nil
		},
	})
	return t, err
}

// UpdateTrack rewrites a track.
func (s *Service) UpdateTrack(ctx context.Context, t Track) (Track, error) {
	err := s.run(ctx, mutation.Spec{
		Entity:  invalidation.EntityTrack,
		Op:      invalidation.OpUpdate,
		ID:      t.ID,
		Capture: s.capturedTrack(t.ID),
		Apply: func(ctx context.Context) (mutation.Applied, error) {
			if err := s.repo.UpdateTrack(ctx, t); err != nil {
				return mutation.Applied{}, err
			}
			return mutation.Applied{Refs: trackRefs(t)}, nil
		},
	})
	return t, err
}

// DeleteTrack removes a track.
func (s *Service) DeleteTrack(ctx context.Context, id string) error {
	return s.run(ctx, mutation.Spec{
		Entity:  invalidation.EntityTrack,
		Op:      invalidation.OpDelete,
		ID:      id,
		Capture: s.capturedTrack(id),
		Apply: func(ctx context.Context) (mutation.Applied, error) {
			return mutation.Applied{}, s.repo.DeleteTrack(ctx, id)
		},
	})
}

// Genres

func (s *Service) genre(ctx context.Context, op invalidation.Op, id string, apply func(context.Context) error) error {
	return s.run(ctx, mutation.Spec{
		Entity: invalidation.EntityGenre,
		Op:     op,
		ID:     id,
		Apply: func(ctx context.Context) (mutation.Applied, error) {
			return mutation.Applied{}, apply(ctx)
		},
	})
}

// CreateGenre adds a genre.
func (s *Service) CreateGenre(ctx context.Context, g Genre) (Genre, error) {
	g.ID = s.id(g.ID)
	err := s.genre(ctx, invalidation.OpCreate, g.ID, func(ctx context.Context) error {
		return s.repo.InsertGenre(ctx, g)
	})
	return g, err
}

// UpdateGenre renames a genre.
func (s *Service) UpdateGenre(ctx context.Context, g Genre) (Genre, error) {
	err := s.genre(ctx, invalidation.OpUpdate, g.ID, func(ctx context.Context) error {
		return s.repo.UpdateGenre(ctx, g)
	})
	return g, err
}

// DeleteGenre removes a genre.
func (s *Service) DeleteGenre(ctx context.Context, id string) error {
	return s.genre(ctx, invalidation.OpDelete, id, func(ctx context.Context) error {
		return s.repo.DeleteGenre(ctx, id)
	})
}

// Users

// UpdateUser rewrites a user's profile and returns the stored row.
func (s *Service) UpdateUser(ctx context.Context, u User) (User, error) {
	err := s.run(ctx, mutation.Spec{
		Entity: invalidation.EntityUser,
		Op:     invalidation.OpUpdate,
		ID:     u.ID,
		Apply: func(ctx context.Context) (mutation.Applied, error) {
			return mutation.Applied{}, s.repo.UpdateUser(ctx, u)
		},
	})
	if err != nil {
		return User{}, err
	}
	return s.repo.User(ctx, u.ID)
}

// DeactivateUser disables an account and revokes its sessions. A revocation
// failure is reported as ErrSessionsNotRevoked; the deactivation stands.
func (s *Service) DeactivateUser(ctx context.Context, id string) error {
	return s.run(ctx, mutation.Spec{
		Entity: invalidation.EntityUser,
		Op:     invalidation.OpUpdate,
		ID:     id,
		Apply: func(ctx context.Context) (mutation.Applied, error) {
			if err := s.repo.DeactivateUser(ctx, id); err != nil {
				return mutation.Applied{}, err
			}
			return mutation.Applied{Deactivated: true}, nil
		},
	})
}

func (s *Service) follow(ctx context.Context, op invalidation.Op, follower, followee string, apply func(context.Context) error) error {
	if follower == followee {
		return fmt.Errorf("%w: users cannot follow themselves", ErrInvalid)
	}
	return s.run(ctx, mutation.Spec{
		Entity: invalidation.EntityFollow,
		Op:     op,
		ID:     follower + ":" + followee,
		Apply: func(ctx context.Context) (mutation.Applied, error) {
			if err := apply(ctx); err != nil {
				return mutation.Applied{}, err
			}
			return mutation.Applied{Refs: invalidation.Refs{FollowerID: follower, FolloweeID: followee}}, nil
		},
	})
}

// Follow makes follower follow followee.
func (s *Service) Follow(ctx context.Context, follower, followee string) error {
	return s.follow(ctx, invalidation.OpCreate, follower, followee, func(ctx context.Context) error {
		return s.repo.Follow(ctx, follower, followee)
	})
}

// Unfollow removes the follow edge.
func (s *Service) Unfollow(ctx context.Context, follower, followee string) error {
	return s.follow(ctx, invalidation.OpDelete, follower, followee, func(ctx context.Context) error {
		return s.repo.Unfollow(ctx, follower, followee)
	})
}

// Plays

// RecordPlay stores a playback event. A completed play refreshes the user's
// recommendations when the throttle allows it and purges the derived views.
func (s *Service) RecordPlay(ctx context.Context, p Play) (Play, error) {
	p.ID = s.id(p.ID)
	if p.PlayedAt.IsZero() {
		p.PlayedAt = s.now().UTC()
	}
	err := s.run(ctx, mutation.Spec{
		Entity: invalidation.EntityHistory,
		Op:     invalidation.OpCreate,
		ID:     p.ID,
		Apply: func(ctx context.Context) (mutation.Applied, error) {
			if err := s.repo.InsertPlay(ctx, p); err != nil {
				return mutation.Applied{}, err
			}
			if p.Completed {
				s.refreshRecommendations(ctx, p.UserID)
			}
			return mutation.Applied{
				Refs:          invalidation.Refs{UserID: p.UserID},
				PlayCompleted: p.Completed,
			}, nil
		},
	})
	return p, err
}

func (s *Service) refreshRecommendations(ctx context.Context, userID string) {
	if s.refresh == nil || !s.refresh.Allow(userID) {
		return
	}
	if err := s.repo.RefreshRecommendations(ctx, userID); err != nil {
		// The play is recorded; the next allowed play retries the refresh.
		s.refresh.Reset(userID)
		s.log.Warn().Err(err).Str("user_id", userID).Msg("Recommendation refresh failed")
	}
}
