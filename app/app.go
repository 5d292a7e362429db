// Package app wires tunecache together: configuration, logging, the cache
// store, invalidation, sessions, the catalog and the HTTP server, plus the
// process lifecycle around them.
package app

import (
	"fmt"

	"github.com/gaborage/tunecache/cache"
	"github.com/gaborage/tunecache/catalog"
	"github.com/gaborage/tunecache/config"
	"github.com/gaborage/tunecache/database"
	"github.com/gaborage/tunecache/logger"
	"github.com/gaborage/tunecache/mutation"
	"github.com/gaborage/tunecache/server"
	"github.com/gaborage/tunecache/session"
)

// App represents the main application instance.
type App struct {
	cfg    *config.Config
	logger logger.Logger
	server *server.Server
	routes *server.HandlerRegistry

	store      cache.Store
	toggle     *config.CacheToggle
	reader     *cache.Reader
	dispatcher *mutation.Dispatcher
	sessions   *session.Store
	db         database.Interface
	catalog    *catalog.Service

	signals SignalHandler
}

// New creates an application from config.yaml and the environment.
func New() (*App, error) {
	return NewWithOptions(nil)
}

// NewWithOptions creates an application, using the provided dependencies in
// place of the defaults. A missing or unreachable cache store does not fail
// startup: the process runs uncached and says so in the log.
func NewWithOptions(opts *Options) (*App, error) {
	cfg, err := opts.configLoader()()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := opts.logger(cfg)
	log.Info().
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Env).
		Str("version", cfg.App.Version).
		Msg("Starting application")

	b := newBootstrap(cfg, log, opts)
	a, err := b.build()
	if err != nil {
		b.cleanup()
		return nil, err
	}
	return a, nil
}

// Config returns the loaded configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Server returns the HTTP server.
func (a *App) Server() *server.Server { return a.server }

// Routes returns every registered API route.
func (a *App) Routes() []server.Route { return a.routes.Routes() }

// CacheToggle returns the live cache switch.
func (a *App) CacheToggle() *config.CacheToggle { return a.toggle }

// Sessions returns the session store.
func (a *App) Sessions() *session.Store { return a.sessions }

// Catalog returns the catalog service.
func (a *App) Catalog() *catalog.Service { return a.catalog }
