package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/tunecache/cache"
	cachetest "github.com/gaborage/tunecache/cache/testing"
	"github.com/gaborage/tunecache/catalog"
	"github.com/gaborage/tunecache/config"
	"github.com/gaborage/tunecache/database"
	"github.com/gaborage/tunecache/database/postgresql"
	"github.com/gaborage/tunecache/logger"
	"github.com/gaborage/tunecache/server"
	"github.com/gaborage/tunecache/session"
)

var errRefused = errors.New("dial tcp 127.0.0.1:6379: connection refused")

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFile(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Cache.Invalidation.Async = false
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, opts Options) *App {
	t.Helper()
	opts.ConfigLoader = func() (*config.Config, error) { return cfg, nil }
	opts.Logger = logger.Nop()
	a, err := NewWithOptions(&opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func mockStoreConnector(store *cachetest.MockStore) StoreConnector {
	return func(*config.RedisConfig, logger.Logger) (cache.Store, error) { return store, nil }
}

func request(t *testing.T, a *App, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	a.Server().Echo().ServeHTTP(rec, req)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.reader.Flush(ctx))
	return rec
}

func healthStatus(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestNewWithoutRedisRunsUncached(t *testing.T) {
	a := newTestApp(t, testConfig(t), Options{})

	rec := request(t, a, http.MethodGet, "/api/genres", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BYPASS", rec.Header().Get(server.HeaderXCache))

	rec = request(t, a, http.MethodGet, "/health/cache", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "disabled", healthStatus(t, rec)["status"])
}

func TestUnreachableStoreDegrades(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Redis.Host = "redis.internal"
	a := newTestApp(t, cfg, Options{
		StoreConnector: func(*config.RedisConfig, logger.Logger) (cache.Store, error) { return nil, errRefused },
	})

	assert.Nil(t, a.store)
	rec := request(t, a, http.MethodGet, "/health/cache", "")
	assert.Equal(t, "disabled", healthStatus(t, rec)["status"])

	rec = request(t, a, http.MethodPost, "/api/genres", `{"name":"Soul"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAppWithMiniredis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Cache.Redis.Host = mr.Host()
	cfg.Cache.Redis.Port = mr.Server().Addr().Port
	a := newTestApp(t, cfg, Options{})

	rec := request(t, a, http.MethodGet, "/api/genres", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get(server.HeaderXCache))
	assert.True(t, mr.Exists("/api/genres"))
	assert.InDelta(t, cfg.Cache.TTL.Default.Seconds(), mr.TTL("/api/genres").Seconds(), 1)

	rec = request(t, a, http.MethodGet, "/api/genres", "")
	assert.Equal(t, "HIT", rec.Header().Get(server.HeaderXCache))

	rec = request(t, a, http.MethodPost, "/api/genres", `{"name":"Soul"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.False(t, mr.Exists("/api/genres"))

	rec = request(t, a, http.MethodGet, "/health/cache", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := healthStatus(t, rec)
	assert.Equal(t, "up", body["status"])
	assert.Equal(t, true, body["enabled"])

	mr.Close()
	rec = request(t, a, http.MethodGet, "/health/cache", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = request(t, a, http.MethodGet, "/api/genres", "")
	assert.Equal(t, http.StatusOK, rec.Code, "reads fail open")
}

func TestAsyncInvalidationDrainsOnShutdown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Redis.Host = "redis.internal"
	cfg.Cache.Invalidation.Async = true
	store := cachetest.NewMockStore()
	a := newTestApp(t, cfg, Options{StoreConnector: mockStoreConnector(store)})

	request(t, a, http.MethodGet, "/api/artists", "")
	cachetest.AssertCacheHit(t, store, "/api/artists")

	rec := request(t, a, http.MethodPost, "/api/artists", `{"name":"Alice"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx))

	cachetest.AssertKeysPurged(t, store, "/api/artists")
	assert.True(t, store.IsClosed())
}

func TestCacheToggleBypassesAndPersists(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Redis.Host = "redis.internal"
	store := cachetest.NewMockStore()
	a := newTestApp(t, cfg, Options{StoreConnector: mockStoreConnector(store)})

	require.NoError(t, a.CacheToggle().Set(false))

	rec := request(t, a, http.MethodGet, "/api/artists", "")
	assert.Equal(t, "BYPASS", rec.Header().Get(server.HeaderXCache))
	cachetest.AssertStoreEmpty(t, store)

	rec = request(t, a, http.MethodGet, "/health/cache", "")
	assert.Equal(t, "bypassed", healthStatus(t, rec)["status"])

	reloaded, err := config.LoadFile(cfg.Cache.File)
	require.NoError(t, err)
	assert.False(t, reloaded.Cache.Enabled)
}

func TestDeactivationRevokesSessions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Redis.Host = "redis.internal"
	repo := catalog.NewMemoryRepository()
	repo.PutUser(catalog.User{ID: "u1", Username: "ana", Role: "listener", Active: true})
	a := newTestApp(t, cfg, Options{StoreConnector: mockStoreConnector(cachetest.NewMockStore()), Repository: repo})

	ctx := context.Background()
	sid, err := a.Sessions().Create(ctx, "u1", sessionSnapshot())
	require.NoError(t, err)

	rec := request(t, a, http.MethodPost, "/api/users/u1/deactivate", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	ok, err := a.Sessions().Validate(ctx, "u1", sid)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDatabaseBackedCatalog(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	mock.ExpectBegin()
	for _, stmt := range catalog.Statements() {
		mock.ExpectExec(regexp.QuoteMeta(stmt)).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectCommit()

	cfg := testConfig(t)
	cfg.Database.Host = "db.internal"
	cfg.Database.Database = "tunecache"
	cfg.Database.Username = "tunecache"
	a := newTestApp(t, cfg, Options{
		DatabaseConnector: func(*config.DatabaseConfig, logger.Logger) (database.Interface, error) {
			return postgresql.Wrap(db, logger.Nop()), nil
		},
	})

	mock.ExpectQuery(regexp.QuoteMeta("FROM genres ORDER BY name, id")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("g1", "Jazz"))
	rec := request(t, a, http.MethodGet, "/api/genres", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Jazz")

	mock.ExpectPing()
	rec = request(t, a, http.MethodGet, "/health/database", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "postgresql", healthStatus(t, rec)["type"])

	mock.ExpectClose()
	require.NoError(t, a.Shutdown(context.Background()))
	a.db = nil
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseFailureReleasesStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Redis.Host = "redis.internal"
	cfg.Database.Host = "db.internal"
	cfg.Database.Database = "tunecache"
	cfg.Database.Username = "tunecache"
	store := cachetest.NewMockStore()

	_, err := NewWithOptions(&Options{
		ConfigLoader:   func() (*config.Config, error) { return cfg, nil },
		Logger:         logger.Nop(),
		StoreConnector: mockStoreConnector(store),
		DatabaseConnector: func(*config.DatabaseConfig, logger.Logger) (database.Interface, error) {
			return nil, errors.New("connection refused")
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to database")
	assert.True(t, store.IsClosed())
}

func TestConfigLoadFailure(t *testing.T) {
	_, err := NewWithOptions(&Options{
		ConfigLoader: func() (*config.Config, error) { return nil, errors.New("bad yaml") },
	})
	assert.ErrorContains(t, err, "failed to load config")
}

func TestRoutesAreRegistered(t *testing.T) {
	a := newTestApp(t, testConfig(t), Options{})

	var gets []string
	for _, r := range a.Routes() {
		if r.Method == http.MethodGet {
			gets = append(gets, r.Path)
		}
	}
	assert.Contains(t, gets, "/api/users/:id/recommended-artists")
	assert.Contains(t, gets, "/api/top-tracks")
}

type signalOnNotify struct{}

func (signalOnNotify) Notify(c chan<- os.Signal, _ ...os.Signal) { c <- syscall.SIGTERM }
func (signalOnNotify) Stop(chan<- os.Signal)                     {}

func TestRunStopsOnSignal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Redis.Host = "redis.internal"
	store := cachetest.NewMockStore()
	a := newTestApp(t, cfg, Options{StoreConnector: mockStoreConnector(store), SignalHandler: signalOnNotify{}})

	done := make(chan error, 1)
	go func() { done <- a.Run() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the signal")
	}
	assert.True(t, store.IsClosed())
}

func sessionSnapshot() session.Snapshot {
	return session.Snapshot{Role: "listener"}
}
