package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"

	"github.com/gaborage/tunecache/logger"
)

// Reader is the fail-open read-through layer in front of a Store.
// Store failures, timeouts and corrupt entries all surface as misses; nothing
// the store does can fail the request that consulted it. Writes are
// fire-and-forget on a background goroutine.
//
// A Reader built with a nil Store behaves as permanently disabled.
type Reader struct {
	store   Store
	flag    FlagSource
	log     logger.Logger
	timeout time.Duration
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker[struct{}]
	group   singleflight.Group
	pending sync.WaitGroup
}

// ReaderOption configures a Reader.
type ReaderOption func(*readerSettings)

type readerSettings struct {
	timeout         time.Duration
	ttl             time.Duration
	breakerFailures uint32
	breakerOpen     time.Duration
}

// WithOperationTimeout bounds each store round-trip.
func WithOperationTimeout(d time.Duration) ReaderOption {
	return func(s *readerSettings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithDefaultTTL sets the TTL used when a caller passes ttl <= 0.
func WithDefaultTTL(d time.Duration) ReaderOption {
	return func(s *readerSettings) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithBreaker configures the circuit breaker guarding the store.
// failures consecutive errors open it for openTimeout.
func WithBreaker(failures uint32, openTimeout time.Duration) ReaderOption {
	return func(s *readerSettings) {
		if failures > 0 {
			s.breakerFailures = failures
		}
		if openTimeout > 0 {
			s.breakerOpen = openTimeout
		}
	}
}

// NewReader creates a Reader. flag may be nil, meaning always enabled.
func NewReader(store Store, flag FlagSource, log logger.Logger, opts ...ReaderOption) *Reader {
	s := readerSettings{
		timeout:         DefaultOperationTimeout,
		ttl:             DefaultTTL,
		breakerFailures: DefaultBreakerFailures,
		breakerOpen:     DefaultBreakerOpenTimeout,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if flag == nil {
		flag = StaticFlag(true)
	}
	if log == nil {
		log = logger.Nop()
	}

	r := &Reader{
		store:   store,
		flag:    flag,
		log:     log,
		timeout: s.timeout,
		ttl:     s.ttl,
	}
	r.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "cache-store",
		MaxRequests: 1,
		Timeout:     s.breakerOpen,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.breakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Cache circuit breaker state changed")
		},
	})
	return r
}

// Enabled reports whether a store is configured and the cache flag is on.
func (r *Reader) Enabled() bool {
	return r.store != nil && r.flag.CacheEnabled()
}

// DefaultTTL returns the TTL applied when callers do not pick one.
func (r *Reader) DefaultTTL() time.Duration {
	return r.ttl
}

// call runs fn against the store under the operation timeout and the breaker.
func (r *Reader) call(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := r.breaker.Execute(func() (struct{}, error) {
		opCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return struct{}{}, fn(opCtx)
	})
	return err
}

// Get returns the cached bytes for key. The bool is false on a miss, when
// caching is disabled, or when the store misbehaves.
func (r *Reader) Get(ctx context.Context, key string) ([]byte, bool) {
	if !r.Enabled() {
		return nil, false
	}

	var data []byte
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		data, err = r.store.Get(ctx, key)
		return err
	})
	switch {
	case err == nil:
		return data, true
	case errors.Is(err, ErrNotFound):
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		r.log.Debug().Str("cache_key", key).Msg("Cache breaker open, treating read as miss")
	default:
		r.log.Warn().Err(err).Str("cache_key", key).Msg("Cache read failed, treating as miss")
	}
	return nil, false
}

// GetJSON decodes the cached JSON for key into dst. A corrupt entry is
// reported as a miss and deleted in the background.
func (r *Reader) GetJSON(ctx context.Context, key string, dst any) bool {
	data, ok := r.Get(ctx, key)
	if !ok {
		return false
	}
	if err := DecodeJSON(data, dst); err != nil {
		r.log.Warn().Err(err).Str("cache_key", key).Msg("Corrupt cache entry, deleting")
		r.Forget(ctx, key)
		return false
	}
	return true
}

// Set JSON-encodes value and stores it asynchronously.
func (r *Reader) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if !r.Enabled() {
		return
	}
	data, err := EncodeJSON(value)
	if err != nil {
		r.log.Warn().Err(err).Str("cache_key", key).Msg("Cannot encode value for cache")
		return
	}
	r.SetRaw(ctx, key, data, ttl)
}

// SetRaw stores data verbatim, asynchronously. ttl <= 0 selects the default TTL.
// The write is detached from ctx cancellation and bounded by the operation timeout.
func (r *Reader) SetRaw(ctx context.Context, key string, data []byte, ttl time.Duration) {
	if !r.Enabled() {
		return
	}
	if ttl <= 0 {
		ttl = r.ttl
	}

	detached := context.WithoutCancel(ctx)
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		err := r.call(detached, func(ctx context.Context) error {
			return r.store.Set(ctx, key, data, ttl)
		})
		if err != nil {
			r.log.Warn().Err(err).Str("cache_key", key).Msg("Cache write failed")
		}
	}()
}

// Forget deletes keys asynchronously. Failures are logged only.
func (r *Reader) Forget(ctx context.Context, keys ...string) {
	if r.store == nil || len(keys) == 0 {
		return
	}

	detached := context.WithoutCancel(ctx)
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		err := r.call(detached, func(ctx context.Context) error {
			_, err := r.store.Delete(ctx, keys...)
			return err
		})
		if err != nil {
			r.log.Warn().Err(err).Strs("cache_keys", keys).Msg("Cache delete failed")
		}
	}()
}

// Ping checks the store connection. Returns ErrDisabled without a store.
func (r *Reader) Ping(ctx context.Context) error {
	if r.store == nil {
		return ErrDisabled
	}
	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.store.Health(opCtx)
}

// Flush waits for background writes to finish or ctx to expire.
func (r *Reader) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cache flush: %w", ctx.Err())
	}
}

// ReadThrough returns the cached JSON value for key or, on a miss, calls
// load and caches its result asynchronously. Concurrent misses for the same
// key share a single load. Errors from load are returned and never cached.
func ReadThrough[T any](ctx context.Context, r *Reader, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var cached T
	if r.GetJSON(ctx, key, &cached) {
		return cached, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		r.Set(ctx, key, loaded, ttl)
		return loaded, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
