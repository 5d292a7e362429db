package server

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/gaborage/tunecache/config"
	"github.com/gaborage/tunecache/logger"
	"github.com/gaborage/tunecache/server/internal/tracking"
)

// SetupMiddlewares registers the global middleware chain. The response cache
// is not part of it; it is attached to the API group only. Server spans use
// the global tracer provider and skip health checks.
func SetupMiddlewares(e *echo.Echo, log logger.Logger, cfg *config.Config) {
	isHealth := func(c echo.Context) bool {
		return c.Path() == healthPath || c.Path() == healthPath+"/:name"
	}

	e.Use(middleware.RequestID())
	e.Use(otelecho.Middleware(cfg.App.Name, otelecho.WithSkipper(isHealth)))
	e.Use(tracking.HTTPMetrics(isHealth))
	e.Use(RequestLogger(log, LoggerConfig{
		SkipPaths:            []string{healthPath, healthPath + "/:name"},
		SlowRequestThreshold: time.Second,
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			log.Error().
				Err(err).
				Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
				Str("stack", string(stack)).
				Msg("Panic recovered")
			return err
		},
	}))

	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	}))
	e.Use(middleware.BodyLimit("2M"))
	e.Use(Timeout(cfg.Server.Timeout.Request))
	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{Level: 5}))
}

// Timeout puts a deadline on the request context. Echo's own timeout
// middleware swaps the response writer, which breaks body capture in the
// cache middleware, so the deadline is context-only and handlers observe it
// through ctx.Done.
func Timeout(d time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), d)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if ctxErr := ctx.Err(); ctxErr != nil && err == nil && !c.Response().Committed {
				return ctxErr
			}
			return err
		}
	}
}
