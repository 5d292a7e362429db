package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gaborage/tunecache/cache"
	"github.com/gaborage/tunecache/catalog"
	"github.com/gaborage/tunecache/config"
	"github.com/gaborage/tunecache/invalidation"
	"github.com/gaborage/tunecache/logger"
	"github.com/gaborage/tunecache/mutation"
	"github.com/gaborage/tunecache/server"
	"github.com/gaborage/tunecache/session"
	"github.com/gaborage/tunecache/throttle"
)

// ErrUncoveredRoutes is returned when a cached route has no invalidation
// pattern that could ever purge it.
var ErrUncoveredRoutes = errors.New("app: cached routes not covered by invalidation")

// bootstrap handles the initialization sequence for creating an App
// instance. Resources opened along the way are released by cleanup if a
// later step fails.
type bootstrap struct {
	cfg  *config.Config
	log  logger.Logger
	opts *Options
	app  *App
}

func newBootstrap(cfg *config.Config, log logger.Logger, opts *Options) *bootstrap {
	return &bootstrap{
		cfg:  cfg,
		log:  log,
		opts: opts,
		app:  &App{cfg: cfg, logger: log, signals: opts.signalHandler()},
	}
}

func (b *bootstrap) build() (*App, error) {
	a := b.app
	a.store = b.connectStore()
	b.cacheLayer()

	interceptor := b.interceptor()

	repo, err := b.repository()
	if err != nil {
		return nil, err
	}
	a.catalog = catalog.NewService(repo, interceptor, b.log,
		catalog.WithRecommendationRefresh(throttle.New(b.cfg.Recommend.RefreshInterval)),
	)

	if err := b.httpLayer(); err != nil {
		return nil, err
	}
	b.watchToggle()
	return a, nil
}

// connectStore returns nil when Redis is not configured or unreachable.
func (b *bootstrap) connectStore() cache.Store {
	redisCfg := &b.cfg.Cache.Redis
	if !redisCfg.IsConfigured() {
		b.log.Warn().Msg("No cache.redis.host configured, caching and sessions disabled")
		return nil
	}

	store, err := b.opts.storeConnector()(redisCfg, b.log)
	if err != nil {
		b.log.Warn().Err(err).
			Str("host", redisCfg.Host).
			Int("port", redisCfg.Port).
			Msg("Cache store unavailable, starting with caching disabled")
		return nil
	}
	return store
}

func (b *bootstrap) cacheLayer() {
	a, c := b.app, b.cfg.Cache

	a.toggle = config.NewCacheToggle(c.Enabled, c.File, b.log)
	a.reader = cache.NewReader(a.store, a.toggle, b.log,
		cache.WithOperationTimeout(c.OperationTimeout),
		cache.WithDefaultTTL(c.TTL.Default),
		cache.WithBreaker(uint32(max(c.Breaker.Failures, 1)), c.Breaker.OpenTimeout),
	)
	a.sessions = session.NewStore(a.store, b.log,
		session.WithTTL(b.cfg.Session.TTL),
		session.WithRevokeRetry(b.cfg.Session.RevokeAttempts, b.cfg.Session.RevokeBackoff),
	)
}

func (b *bootstrap) interceptor() *mutation.Interceptor {
	a, inv := b.app, b.cfg.Cache.Invalidation

	engine := invalidation.NewEngine(a.store, b.log,
		invalidation.WithConcurrency(inv.Concurrency),
		invalidation.WithTimeout(inv.Timeout),
	)

	var opts []mutation.Option
	if inv.Async {
		a.dispatcher = mutation.NewDispatcher(engine, b.log, inv.Workers, inv.Queue)
		opts = append(opts, mutation.WithDispatcher(a.dispatcher))
	} else {
		opts = append(opts, mutation.WithSynchronousInvalidation())
	}
	if a.store != nil {
		opts = append(opts, mutation.WithRevoker(a.sessions))
	}
	return mutation.NewInterceptor(engine, b.log, opts...)
}

func (b *bootstrap) repository() (catalog.Repository, error) {
	if b.opts != nil && b.opts.Repository != nil {
		return b.opts.Repository, nil
	}
	if !b.cfg.Database.IsConfigured() {
		b.log.Warn().Msg("No database configured, serving the catalog from memory")
		return catalog.NewMemoryRepository(), nil
	}

	db, err := b.opts.databaseConnector()(&b.cfg.Database, b.log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	b.app.db = db

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.Server.Timeout.Shutdown)
	defer cancel()
	if err := catalog.Migrate(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to migrate catalog schema: %w", err)
	}
	return catalog.NewSQLRepository(db), nil
}

func (b *bootstrap) httpLayer() error {
	a := b.app

	a.server = server.New(b.cfg, b.log)
	a.routes = server.NewHandlerRegistry(b.cfg.App.Env == config.EnvDevelopment)

	policy := server.DefaultTTLPolicy(b.cfg.Cache.TTL.Default, b.cfg.Cache.TTL.Recommended)
	api := a.server.Echo().Group("/api", server.CacheMiddleware(a.reader, policy))
	catalog.NewHandlers(a.catalog).Register(a.routes, api)

	if uncovered := invalidation.Uncovered(a.routes.Paths(http.MethodGet)); len(uncovered) > 0 {
		return fmt.Errorf("%w: %s", ErrUncoveredRoutes, strings.Join(uncovered, ", "))
	}

	a.server.AddHealthCheck("cache", cacheHealth(a.reader, a.toggle))
	if a.db != nil {
		a.server.AddHealthCheck("database", databaseHealth(a.db))
	}
	return nil
}

func (b *bootstrap) watchToggle() {
	if err := b.app.toggle.Watch(); err != nil {
		b.log.Warn().Err(err).
			Str("file", b.cfg.Cache.File).
			Msg("Cache toggle file not watched, cache.enabled changes need a restart")
	}
}

// cleanup releases whatever build opened before failing.
func (b *bootstrap) cleanup() {
	a := b.app
	if a.dispatcher != nil {
		_ = a.dispatcher.Close(context.Background())
	}
	if a.toggle != nil {
		_ = a.toggle.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
