// Package server provides the HTTP surface: an echo server with the
// middleware chain, typed handlers, the response cache middleware and
// health endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/gaborage/tunecache/config"
	"github.com/gaborage/tunecache/logger"
)

const healthPath = "/health"

// HealthFunc reports the state of one dependency. Details are rendered in
// the response body either way.
type HealthFunc func(ctx context.Context) (details map[string]any, err error)

// Server wraps an echo instance with tunecache defaults.
type Server struct {
	echo   *echo.Echo
	cfg    *config.Config
	logger logger.Logger

	mu     sync.RWMutex
	checks map[string]HealthFunc
}

// New creates a server with the middleware chain, error handler, validator
// and health endpoints installed.
func New(cfg *config.Config, log logger.Logger) *Server {
	details := cfg.App.Env == config.EnvDevelopment

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsonSerializer{}
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		errorHandler(err, c, log, details)
	}
	e.Validator = NewValidator()
	e.Server.ReadTimeout = cfg.Server.Timeout.Read
	e.Server.WriteTimeout = cfg.Server.Timeout.Write

	SetupMiddlewares(e, log, cfg)

	s := &Server{
		echo:   e,
		cfg:    cfg,
		logger: log,
		checks: make(map[string]HealthFunc),
	}
	e.GET(healthPath, s.liveness)
	e.GET(healthPath+"/:name", s.dependency)
	return s
}

// Echo returns the underlying echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// AddHealthCheck exposes check under GET /health/{name}.
func (s *Server) AddHealthCheck(name string, check HealthFunc) {
	s.mu.Lock()
	s.checks[name] = check
	s.mu.Unlock()
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.logger.Info().
		Str("service", s.cfg.App.Name).
		Str("version", s.cfg.App.Version).
		Str("env", s.cfg.App.Env).
		Str("address", addr).
		Msg("Starting server...")

	// echo's own server, so Shutdown reaches it
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) dependency(c echo.Context) error {
	name := c.Param("name")
	s.mu.RLock()
	check, ok := s.checks[name]
	s.mu.RUnlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("unknown health check %q", name))
	}

	details, err := check(c.Request().Context())
	body := map[string]any{"name": name, "status": "up"}
	for k, v := range details {
		body[k] = v
	}
	if err != nil {
		body["status"] = "down"
		body["error"] = err.Error()
		return c.JSON(http.StatusServiceUnavailable, body)
	}
	return c.JSON(http.StatusOK, body)
}

// errorHandler renders unhandled errors in the API envelope.
func errorHandler(err error, c echo.Context, log logger.Logger, details bool) {
	if c.Response().Committed {
		return
	}

	var apiErr IAPIError
	if errors.As(err, &apiErr) {
		_ = formatErrorResponse(c, apiErr, details)
		return
	}

	status := http.StatusInternalServerError
	msg := "An error occurred while processing your request"
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		status = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
		msg = "Request timed out"
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("url.path", c.Request().URL.Path).Msg("Unhandled error")
	}

	base := NewBaseAPIError(statusToErrorCode(status), msg, status)
	if details {
		_ = base.WithDetails("error", err.Error())
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = formatErrorResponse(c, base, details)
}
