package catalog

import (
	"errors"

	"github.com/gaborage/tunecache/server"
)

// Handlers exposes the Service over HTTP.
type Handlers struct {
	svc *Service
}

// NewHandlers creates the HTTP layer for svc.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// Register mounts every catalog route on r. r is expected to be the /api
// group carrying the cache middleware.
func (h *Handlers) Register(hr *server.HandlerRegistry, r server.Router) {
	server.GET(hr, r, "/artists", h.listArtists)
	server.GET(hr, r, "/artists/:id", h.getArtist)
	server.POST(hr, r, "/artists", h.createArtist)
	server.PUT(hr, r, "/artists/:id", h.updateArtist)
	server.DELETE(hr, r, "/artists/:id", h.deleteArtist)

	server.GET(hr, r, "/albums/:id", h.getAlbum)
	server.POST(hr, r, "/albums", h.createAlbum)
	server.PUT(hr, r, "/albums/:id", h.updateAlbum)
	server.DELETE(hr, r, "/albums/:id", h.deleteAlbum)

	server.GET(hr, r, "/tracks", h.listTracks)
	server.GET(hr, r, "/tracks/search", h.searchTracks)
	server.GET(hr, r, "/tracks/type/:type", h.tracksByType)
	server.GET(hr, r, "/tracks/:id", h.getTrack)
	server.POST(hr, r, "/tracks", h.createTrack)
	server.PUT(hr, r, "/tracks/:id", h.updateTrack)
	server.DELETE(hr, r, "/tracks/:id", h.deleteTrack)

	server.GET(hr, r, "/genres", h.listGenres)
	server.POST(hr, r, "/genres", h.createGenre)
	server.PUT(hr, r, "/genres/:id", h.updateGenre)
	server.DELETE(hr, r, "/genres/:id", h.deleteGenre)

	server.GET(hr, r, "/users/:id", h.getUser)
	server.PUT(hr, r, "/users/:id", h.updateUser)
	server.POST(hr, r, "/users/:id/deactivate", h.deactivateUser)
	server.GET(hr, r, "/users/:id/followers", h.followers)
	server.GET(hr, r, "/users/:id/following", h.following)
	server.POST(hr, r, "/users/:id/follow/:target", h.follow)
	server.DELETE(hr, r, "/users/:id/follow/:target", h.unfollow)
	server.GET(hr, r, "/users/:id/recommended-artists", h.recommendedArtists)
	server.POST(hr, r, "/users/:id/plays", h.recordPlay)

	server.GET(hr, r, "/history/:id", h.history)
	server.GET(hr, r, "/top-tracks", h.topTracks)
}

// apiError maps service errors onto HTTP errors. err must be non-nil.
func apiError(err error, resource string) server.IAPIError {
	switch {
	case errors.Is(err, ErrNotFound):
		return server.NewNotFoundError(resource)
	case errors.Is(err, ErrConflict):
		return server.NewConflictError(resource + " conflicts with existing data")
	case errors.Is(err, ErrInvalid):
		return server.NewBadRequestError(err.Error())
	case errors.Is(err, ErrSessionsNotRevoked):
		return server.NewInternalServerError("Account deactivated but active sessions could not be revoked").
			WithDetails("error", err.Error())
	default:
		return server.NewInternalServerError("").WithDetails("error", err.Error())
	}
}

type idRequest struct {
	ID string `param:"id" validate:"required,entity_id"`
}

type pageRequest struct {
	Limit  uint64 `query:"limit" validate:"lte=100"`
	Offset uint64 `query:"offset"`
}

func (p pageRequest) page() Page {
	return Page{Limit: p.Limit, Offset: p.Offset}
}

// Artists

type artistRequest struct {
	ID       string `param:"id" json:"id" validate:"omitempty,entity_id"`
	Name     string `json:"name" validate:"required,max=200"`
	Verified bool   `json:"verified"`
}

func (r artistRequest) artist() Artist {
	return Artist{ID: r.ID, Name: r.Name, Verified: r.Verified}
}

func (h *Handlers) listArtists(req pageRequest, hc server.HandlerContext) ([]Artist, server.IAPIError) {
	out, err := h.svc.Artists(hc.Echo.Request().Context(), req.page())
	if err != nil {
		return nil, apiError(err, "artists")
	}
	return out, nil
}

func (h *Handlers) getArtist(req idRequest, hc server.HandlerContext) (ArtistDetail, server.IAPIError) {
	out, err := h.svc.Artist(hc.Echo.Request().Context(), req.ID)
	if err != nil {
		return ArtistDetail{}, apiError(err, "artist")
	}
	return out, nil
}

func (h *Handlers) createArtist(req artistRequest, hc server.HandlerContext) (server.Result[Artist], server.IAPIError) {
	out, err := h.svc.CreateArtist(hc.Echo.Request().Context(), req.artist())
	if err != nil {
		return server.Result[Artist]{}, apiError(err, "artist")
	}
	return server.Created(out), nil
}

func (h *Handlers) updateArtist(req artistRequest, hc server.HandlerContext) (Artist, server.IAPIError) {
	out, err := h.svc.UpdateArtist(hc.Echo.Request().Context(), req.artist())
	if err != nil {
		return Artist{}, apiError(err, "artist")
	}
	return out, nil
}

func (h *Handlers) deleteArtist(req idRequest, hc server.HandlerContext) (server.NoContentResult, server.IAPIError) {
	if err := h.svc.DeleteArtist(hc.Echo.Request().Context(), req.ID); err != nil {
		return server.NoContent(), apiError(err, "artist")
	}
	return server.NoContent(), nil
}

// Albums

type albumRequest struct {
	ID       string `param:"id" json:"id" validate:"omitempty,entity_id"`
	ArtistID string `json:"artistId" validate:"required,entity_id"`
	Title    string `json:"title" validate:"required,max=200"`
}

func (r albumRequest) album() Album {
	return Album{ID: r.ID, ArtistID: r.ArtistID, Title: r.Title}
}

func (h *Handlers) getAlbum(req idRequest, hc server.HandlerContext) (AlbumDetail, server.IAPIError) {
	out, err := h.svc.Album(hc.Echo.Request().Context(), req.ID)
	if err != nil {
		return AlbumDetail{}, apiError(err, "album")
	}
	return out, nil
}

func (h *Handlers) createAlbum(req albumRequest, hc server.HandlerContext) (server.Result[Album], server.IAPIError) {
	out, err := h.svc.CreateAlbum(hc.Echo.Request().Context(), req.album())
	if err != nil {
		return server.Result[Album]{}, apiError(err, "album")
	}
	return server.Created(out), nil
}

func (h *Handlers) updateAlbum(req albumRequest, hc server.HandlerContext) (Album, server.IAPIError) {
	out, err := h.svc.UpdateAlbum(hc.Echo.Request().Context(), req.album())
	if err != nil {
		return Album{}, apiError(err, "album")
	}
	return out, nil
}

func (h *Handlers) deleteAlbum(req idRequest, hc server.HandlerContext) (server.NoContentResult, server.IAPIError) {
	if err := h.svc.DeleteAlbum(hc.Echo.Request().Context(), req.ID); err != nil {
		return server.NoContent(), apiError(err, "album")
	}
	return server.NoContent(), nil
}

// Tracks

type trackRequest struct {
	ID          string `param:"id" json:"id" validate:"omitempty,entity_id"`
	ArtistID    string `json:"artistId" validate:"required,entity_id"`
	AlbumID     string `json:"albumId" validate:"omitempty,entity_id"`
	GenreID     string `json:"genreId" validate:"omitempty,entity_id"`
	Title       string `json:"title" validate:"required,max=200"`
	Type        string `json:"type" validate:"required,oneof=SINGLE ALBUM EP"`
	DurationSec int    `json:"durationSec" validate:"gte=0"`
}

func (r trackRequest) track() Track {
	return Track{
		ID:          r.ID,
		ArtistID:    r.ArtistID,
		AlbumID:     r.AlbumID,
		GenreID:     r.GenreID,
		Title:       r.Title,
		Type:        r.Type,
		DurationSec: r.DurationSec,
	}
}

type searchRequest struct {
	pageRequest
	Query string `query:"q" validate:"required,max=100"`
}

type typeRequest struct {
	pageRequest
	Type string `param:"type" validate:"required,oneof=SINGLE ALBUM EP"`
}

func (h *Handlers) tracks(hc server.HandlerContext, filter TrackFilter) ([]Track, server.IAPIError) {
	out, err := h.svc.Tracks(hc.Echo.Request().Context(), filter)
	if err != nil {
		return nil, apiError(err, "tracks")
	}
	return out, nil
}

func (h *Handlers) listTracks(req pageRequest, hc server.HandlerContext) ([]Track, server.IAPIError) {
	return h.tracks(hc, TrackFilter{Page: req.page()})
}

func (h *Handlers) searchTracks(req searchRequest, hc server.HandlerContext) ([]Track, server.IAPIError) {
	return h.tracks(hc, TrackFilter{Query: req.Query, Page: req.page()})
}

func (h *Handlers) tracksByType(req typeRequest, hc server.HandlerContext) ([]Track, server.IAPIError) {
	return h.tracks(hc, TrackFilter{Type: req.Type, Page: req.page()})
}

func (h *Handlers) getTrack(req idRequest, hc server.HandlerContext) (Track, server.IAPIError) {
	out, err := h.svc.Track(hc.Echo.Request().Context(), req.ID)
	if err != nil {
		return Track{}, apiError(err, "track")
	}
	return out, nil
}

func (h *Handlers) createTrack(req trackRequest, hc server.HandlerContext) (server.Result[Track], server.IAPIError) {
	out, err := h.svc.CreateTrack(hc.Echo.Request().Context(), req.track())
	if err != nil {
		return server.Result[Track]{}, apiError(err, "track")
	}
	return server.Created(out), nil
}

func (h *Handlers) updateTrack(req trackRequest, hc server.HandlerContext) (Track, server.IAPIError) {
	out, err := h.svc.UpdateTrack(hc.Echo.Request().Context(), req.track())
	if err != nil {
		return Track{}, apiError(err, "track")
	}
	return out, nil
}

func (h *Handlers) deleteTrack(req idRequest, hc server.HandlerContext) (server.NoContentResult, server.IAPIError) {
	if err := h.svc.DeleteTrack(hc.Echo.Request().Context(), req.ID); err != nil {
		return server.NoContent(), apiError(err, "track")
	}
	return server.NoContent(), nil
}

// Genres

type genreRequest struct {
	ID   string `param:"id" json:"id" validate:"omitempty,entity_id"`
	Name string `json:"name" validate:"required,max=100"`
}

func (h *Handlers) listGenres(_ struct{}, hc server.HandlerContext) ([]Genre, server.IAPIError) {
	out, err := h.svc.Genres(hc.Echo.Request().Context())
	if err != nil {
		return nil, apiError(err, "genres")
	}
	return out, nil
}

func (h *Handlers) createGenre(req genreRequest, hc server.HandlerContext) (server.Result[Genre], server.IAPIError) {
	out, err := h.svc.CreateGenre(hc.Echo.Request().Context(), Genre{ID: req.ID, Name: req.Name})
	if err != nil {
		return server.Result[Genre]{}, apiError(err, "genre")
	}
	return server.Created(out), nil
}

func (h *Handlers) updateGenre(req genreRequest, hc server.HandlerContext) (Genre, server.IAPIError) {
	out, err := h.svc.UpdateGenre(hc.Echo.Request().Context(), Genre{ID: req.ID, Name: req.Name})
	if err != nil {
		return Genre{}, apiError(err, "genre")
	}
	return out, nil
}

func (h *Handlers) deleteGenre(req idRequest, hc server.HandlerContext) (server.NoContentResult, server.IAPIError) {
	if err := h.svc.DeleteGenre(hc.Echo.Request().Context(), req.ID); err != nil {
		return server.NoContent(), apiError(err, "genre")
	}
	return server.NoContent(), nil
}

// Users

type userRequest struct {
	ID       string `param:"id" validate:"required,entity_id"`
	Username string `json:"username" validate:"required,min=3,max=50"`
	Profile  string `json:"profile" validate:"max=2000"`
}

type followRequest struct {
	ID     string `param:"id" validate:"required,entity_id"`
	Target string `param:"target" validate:"required,entity_id"`
}

type playRequest struct {
	UserID    string `param:"id" validate:"required,entity_id"`
	TrackID   string `json:"trackId" validate:"required,entity_id"`
	Completed bool   `json:"completed"`
}

type limitRequest struct {
	ID    string `param:"id" validate:"required,entity_id"`
	Limit uint64 `query:"limit" validate:"lte=100"`
}

type historyRequest struct {
	pageRequest
	ID string `param:"id" validate:"required,entity_id"`
}

type topRequest struct {
	Limit uint64 `query:"limit" validate:"lte=100"`
}

func (h *Handlers) getUser(req idRequest, hc server.HandlerContext) (User, server.IAPIError) {
	out, err := h.svc.User(hc.Echo.Request().Context(), req.ID)
	if err != nil {
		return User{}, apiError(err, "user")
	}
	return out, nil
}

func (h *Handlers) updateUser(req userRequest, hc server.HandlerContext) (User, server.IAPIError) {
	out, err := h.svc.UpdateUser(hc.Echo.Request().Context(), User{ID: req.ID, Username: req.Username, Profile: req.Profile})
	if err != nil {
		return User{}, apiError(err, "user")
	}
	return out, nil
}

func (h *Handlers) deactivateUser(req idRequest, hc server.HandlerContext) (server.NoContentResult, server.IAPIError) {
	if err := h.svc.DeactivateUser(hc.Echo.Request().Context(), req.ID); err != nil {
		return server.NoContent(), apiError(err, "user")
	}
	return server.NoContent(), nil
}

func (h *Handlers) followers(req idRequest, hc server.HandlerContext) ([]User, server.IAPIError) {
	out, err := h.svc.Followers(hc.Echo.Request().Context(), req.ID)
	if err != nil {
		return nil, apiError(err, "user")
	}
	return out, nil
}

func (h *Handlers) following(req idRequest, hc server.HandlerContext) ([]User, server.IAPIError) {
	out, err := h.svc.Following(hc.Echo.Request().Context(), req.ID)
	if err != nil {
		return nil, apiError(err, "user")
	}
	return out, nil
}

func (h *Handlers) follow(req followRequest, hc server.HandlerContext) (server.NoContentResult, server.IAPIError) {
	if err := h.svc.Follow(hc.Echo.Request().Context(), req.ID, req.Target); err != nil {
		return server.NoContent(), apiError(err, "user")
	}
	return server.NoContent(), nil
}

func (h *Handlers) unfollow(req followRequest, hc server.HandlerContext) (server.NoContentResult, server.IAPIError) {
	if err := h.svc.Unfollow(hc.Echo.Request().Context(), req.ID, req.Target); err != nil {
		return server.NoContent(), apiError(err, "follow")
	}
	return server.NoContent(), nil
}

func (h *Handlers) recordPlay(req playRequest, hc server.HandlerContext) (server.Result[Play], server.IAPIError) {
	out, err := h.svc.RecordPlay(hc.Echo.Request().Context(), Play{
		UserID:    req.UserID,
		TrackID:   req.TrackID,
		Completed: req.Completed,
	})
	if err != nil {
		return server.Result[Play]{}, apiError(err, "play")
	}
	return server.Created(out), nil
}

func (h *Handlers) history(req historyRequest, hc server.HandlerContext) ([]Play, server.IAPIError) {
	out, err := h.svc.History(hc.Echo.Request().Context(), req.ID, req.page())
	if err != nil {
		return nil, apiError(err, "history")
	}
	return out, nil
}

func (h *Handlers) recommendedArtists(req limitRequest, hc server.HandlerContext) ([]Artist, server.IAPIError) {
	out, err := h.svc.RecommendedArtists(hc.Echo.Request().Context(), req.ID, req.Limit)
	if err != nil {
		return nil, apiError(err, "recommendations")
	}
	return out, nil
}

func (h *Handlers) topTracks(req topRequest, hc server.HandlerContext) ([]TrackStat, server.IAPIError) {
	out, err := h.svc.TopTracks(hc.Echo.Request().Context(), req.Limit)
	if err != nil {
		return nil, apiError(err, "top tracks")
	}
	return out, nil
}
