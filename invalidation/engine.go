package invalidation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/gaborage/tunecache/cache"
	"github.com/gaborage/tunecache/logger"
)

// Defaults for Engine.
const (
	DefaultConcurrency = 8
	DefaultTimeout     = 5 * time.Second
)

// exactKind tags exact-key work in logs and metrics.
const exactKind Kind = "exact"

const tracerName = "github.com/gaborage/tunecache/invalidation"

// Engine deletes the keys matched by invalidation plans.
type Engine struct {
	store       cache.Store
	log         logger.Logger
	concurrency int
	timeout     time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithConcurrency limits how many patterns are scanned at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithTimeout bounds a whole Invalidate call.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewEngine creates an Engine. A nil store makes every call a no-op.
func NewEngine(store cache.Store, log logger.Logger, opts ...Option) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	e := &Engine{
		store:       store,
		log:         log,
		concurrency: DefaultConcurrency,
		timeout:     DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result summarizes one Invalidate call.
type Result struct {
	Patterns int
	Deleted  int64
	Failed   []string
}

// Invalidate scans every pattern of plan and deletes what it finds, then
// deletes the exact keys. Patterns run in parallel; one failing pattern does
// not stop the others. Each failure is logged with its pattern and kind, and
// all of them are returned joined. Nothing is retried.
//
// Session revocation listed in plan.Revoke is not handled here.
func (e *Engine) Invalidate(ctx context.Context, plan Plan) (Result, error) {
	var res Result
	if e.store == nil {
		return res, nil
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "cache.invalidate",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	patterns := plan.Patterns()
	for _, k := range plan.Keys {
		// Exact keys also cover their query-string variants.
		if !hasGlobMeta(k) {
			patterns = append(patterns, Pattern{Glob: k + "?*", Kind: exactKind})
		}
	}
	res.Patterns = len(patterns)

	var (
		mu   sync.Mutex
		errs []error
	)
	fail := func(what string, kind Kind, err error) {
		mu.Lock()
		defer mu.Unlock()
		res.Failed = append(res.Failed, what)
		errs = append(errs, fmt.Errorf("invalidate %q (%s): %w", what, kind, err))
	}
	add := func(n int64) {
		mu.Lock()
		defer mu.Unlock()
		res.Deleted += n
	}

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for _, p := range patterns {
		g.Go(func() error {
			n, err := e.purge(ctx, p.Glob)
			cache.RecordInvalidation(ctx, string(p.Kind), n, err)
			add(n)
			if err != nil {
				e.log.Warn().Err(err).
					Str("pattern", p.Glob).
					Str("kind", string(p.Kind)).
					Msg("Cache invalidation pattern failed")
				fail(p.Glob, p.Kind, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(plan.Keys) > 0 {
		n, err := e.store.Delete(ctx, plan.Keys...)
		add(n)
		if err != nil {
			e.log.Warn().Err(err).Strs("cache_keys", plan.Keys).Msg("Cache invalidation of exact keys failed")
			for _, k := range plan.Keys {
				fail(k, exactKind, err)
			}
		}
	}

	e.log.Debug().
		Int("patterns", res.Patterns).
		Int("keys", len(plan.Keys)).
		Int64("deleted", res.Deleted).
		Msg("Cache invalidation finished")

	span.SetAttributes(
		attribute.Int("cache.invalidation.patterns", res.Patterns),
		attribute.Int("cache.invalidation.keys", len(plan.Keys)),
		attribute.Int64("cache.invalidation.deleted", res.Deleted),
		attribute.Int("cache.invalidation.failed", len(res.Failed)),
	)
	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cache invalidation incomplete")
	}
	return res, err
}

// Purge invalidates the given requests.
func (e *Engine) Purge(ctx context.Context, reqs ...Request) error {
	var plan Plan
	for _, r := range reqs {
		plan.Add(r)
	}
	_, err := e.Invalidate(ctx, plan)
	return err
}

func (e *Engine) purge(ctx context.Context, glob string) (int64, error) {
	keys, err := e.store.Scan(ctx, glob)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return e.store.Delete(ctx, keys...)
}
