package server

import (
	"fmt"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/gaborage/tunecache/logger"
	"github.com/gaborage/tunecache/server/internal/tracking"
)

// LoggerConfig configures the request logging middleware.
type LoggerConfig struct {
	// SkipPaths are route patterns that are never logged, such as health checks.
	SkipPaths []string

	// SlowRequestThreshold marks requests as slow (result_code WARN) even when
	// the status is 2xx. Zero disables the check.
	SlowRequestThreshold time.Duration
}

// RequestLogger emits one summary line per request. Severity follows the
// response status: 5xx at error, 4xx at warn, everything else at info.
func RequestLogger(log logger.Logger, cfg LoggerConfig) echo.MiddlewareFunc {
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if _, ok := skip[route]; ok {
				return next(c)
			}

			start := time.Now()
			err := next(c)
			if err != nil {
				// Let the error handler write the response so the status is final.
				c.Error(err)
			}
			latency := time.Since(start)
			status := c.Response().Status

			level, resultCode := determineSeverity(status, latency, cfg.SlowRequestThreshold, err)
			event := createLogEvent(log, level)
			if err != nil {
				event = event.Err(err)
			}
			if cs, ok := c.Get(tracking.CacheStatusKey).(string); ok {
				event = event.Str("cache", cs)
			}

			req := c.Request()
			event.
				Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
				Str("http.request.method", req.Method).
				Int("http.response.status_code", status).
				Dur("http.server.request.duration", latency).
				Str("url.path", req.URL.Path).
				Str("http.route", route).
				Str("client.address", c.RealIP()).
				Str("result_code", resultCode).
				Msg(fmt.Sprintf("%s %s completed in %s with status %d", req.Method, req.URL.Path, latency, status))

			return nil
		}
	}
}

// determineSeverity maps status, latency and error to a log level and result code.
func determineSeverity(status int, latency, threshold time.Duration, err error) (level, resultCode string) {
	switch {
	case status >= 500 || (err != nil && status == 0):
		return "error", "ERROR"
	case status >= 400:
		return "warn", "WARN"
	case threshold > 0 && latency > threshold:
		return "info", "WARN"
	default:
		return "info", "INFO"
	}
}

func createLogEvent(log logger.Logger, level string) logger.LogEvent {
	switch level {
	case "error":
		return log.Error()
	case "warn":
		return log.Warn()
	default:
		return log.Info()
	}
}
