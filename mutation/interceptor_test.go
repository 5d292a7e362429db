package mutation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	cachetest "github.com/gaborage/tunecache/cache/testing"
	"github.com/gaborage/tunecache/invalidation"
	"github.com/gaborage/tunecache/logger"
)

type recordingInvalidator struct {
	mu    sync.Mutex
	plans []invalidation.Plan
	err   error
	block chan struct{}
}

func (r *recordingInvalidator) Invalidate(ctx context.Context, plan invalidation.Plan) (invalidation.Result, error) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans = append(r.plans, plan)
	return invalidation.Result{Patterns: len(plan.Patterns())}, r.err
}

func (r *recordingInvalidator) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.plans)
}

type fakeRevoker struct {
	users []string
	err   error
}

func (f *fakeRevoker) RevokeAll(_ context.Context, userID string) error {
	f.users = append(f.users, userID)
	return f.err
}

func trackUpdate(apply func(context.Context) (Applied, error)) Spec {
	return Spec{
		Entity: invalidation.EntityTrack,
		Op:     invalidation.OpUpdate,
		ID:     "t1",
		Capture: func(context.Context) (invalidation.Refs, error) {
			return invalidation.Refs{ArtistID: "a1", AlbumID: "b1"}, nil
		},
		Apply: apply,
	}
}

func TestRunStateSequence(t *testing.T) {
	inv := &recordingInvalidator{}
	var states []State
	ic := NewInterceptor(inv, logger.Nop(),
		WithSynchronousInvalidation(),
		WithObserver(func(_ Spec, s State) { states = append(states, s) }),
	)

	out, err := ic.Run(context.Background(), trackUpdate(func(context.Context) (Applied, error) {
		return Applied{Refs: invalidation.Refs{ArtistID: "a1", AlbumID: "b2"}}, nil
	}))
	require.NoError(t, err)

	assert.Equal(t, []State{StatePending, StateExecuting, StateCommitted, StateInvalidating, StateDone}, states)
	assert.Equal(t, StateDone, out.State)
	assert.Equal(t, "t1", out.Event.ID)
	assert.Equal(t, "b1", out.Event.Old.AlbumID)
	assert.Equal(t, "b2", out.Event.New.AlbumID)
	require.Equal(t, 1, inv.count())

	var albums []string
	for _, r := range inv.plans[0].Requests {
		if r.Kind == invalidation.KindAlbum {
			albums = append(albums, r.ID)
		}
	}
	assert.ElementsMatch(t, []string{"b1", "b2"}, albums, "old and new album both purged")
}

func TestRunApplyFailureSkipsInvalidation(t *testing.T) {
	inv := &recordingInvalidator{}
	ic := NewInterceptor(inv, logger.Nop(), WithSynchronousInvalidation())
	boom := errors.New("unique violation")

	out, err := ic.Run(context.Background(), trackUpdate(func(context.Context) (Applied, error) {
		return Applied{}, boom
	}))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateFailed, out.State)
	assert.Zero(t, inv.count())
}

func TestRunCaptureFailureSkipsWrite(t *testing.T) {
	inv := &recordingInvalidator{}
	ic := NewInterceptor(inv, logger.Nop(), WithSynchronousInvalidation())

	applied := false
	spec := trackUpdate(func(context.Context) (Applied, error) {
		applied = true
		return Applied{}, nil
	})
	spec.Capture = func(context.Context) (invalidation.Refs, error) {
		return invalidation.Refs{}, errors.New("row not found")
	}

	out, err := ic.Run(context.Background(), spec)
	require.Error(t, err)
	assert.False(t, applied)
	assert.Equal(t, StateFailed, out.State)
}

func TestRunNoApply(t *testing.T) {
	ic := NewInterceptor(nil, nil)
	out, err := ic.Run(context.Background(), Spec{Entity: invalidation.EntityGenre})
	assert.ErrorIs(t, err, ErrNoApply)
	assert.Equal(t, StateFailed, out.State)
}

func TestRunInvalidationFailureStillDone(t *testing.T) {
	inv := &recordingInvalidator{err: errors.New("connection refused")}
	ic := NewInterceptor(inv, logger.Nop(), WithSynchronousInvalidation())

	out, err := ic.Run(context.Background(), Spec{
		Entity: invalidation.EntityGenre, Op: invalidation.OpCreate, ID: "g1",
		Apply: func(context.Context) (Applied, error) { return Applied{}, nil },
	})
	require.NoError(t, err)
	assert.Equal(t, StateDone, out.State)
}

func TestRunFailOpenWithStoreDown(t *testing.T) {
	store := cachetest.NewMockStore().
		WithFailure(cachetest.OpScan, errors.New("connection refused")).
		WithFailure(cachetest.OpDelete, errors.New("connection refused"))
	engine := invalidation.NewEngine(store, logger.Nop())
	ic := NewInterceptor(engine, logger.Nop(), WithSynchronousInvalidation())

	out, err := ic.Run(context.Background(), Spec{
		Entity: invalidation.EntityArtist, Op: invalidation.OpUpdate, ID: "a1",
		Apply: func(context.Context) (Applied, error) { return Applied{}, nil },
	})
	require.NoError(t, err)
	assert.Equal(t, StateDone, out.State)
}

func TestRunEmptyPlanSkipsInvalidator(t *testing.T) {
	inv := &recordingInvalidator{}
	ic := NewInterceptor(inv, logger.Nop(), WithSynchronousInvalidation())

	_, err := ic.Run(context.Background(), Spec{
		Entity: invalidation.EntityUser, Op: invalidation.OpCreate, ID: "u1",
		Apply: func(context.Context) (Applied, error) { return Applied{}, nil },
	})
	require.NoError(t, err)
	assert.Zero(t, inv.count())
}

func TestRunDeactivationRevokes(t *testing.T) {
	inv := &recordingInvalidator{}
	rev := &fakeRevoker{}
	ic := NewInterceptor(inv, logger.Nop(), WithSynchronousInvalidation(), WithRevoker(rev))

	deactivate := Spec{
		Entity: invalidation.EntityUser, Op: invalidation.OpUpdate, ID: "u1",
		Apply: func(context.Context) (Applied, error) { return Applied{Deactivated: true}, nil },
	}

	_, err := ic.Run(context.Background(), deactivate)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, rev.users)

	rev.err = errors.New("session: revocation failed")
	out, err := ic.Run(context.Background(), deactivate)
	require.Error(t, err)
	assert.ErrorIs(t, err, rev.err)
	assert.Equal(t, StateDone, out.State, "the write itself committed")
	assert.Equal(t, 2, inv.count(), "caches are purged even when revocation fails")
}

func TestRunDetachedFromRequestCancellation(t *testing.T) {
	inv := &recordingInvalidator{block: make(chan struct{})}
	d := NewDispatcher(inv, logger.Nop(), 2, 4)
	ic := NewInterceptor(inv, logger.Nop(), WithDispatcher(d))

	ctx, cancel := context.WithCancel(context.Background())
	out, err := ic.Run(ctx, Spec{
		Entity: invalidation.EntityGenre, Op: invalidation.OpDelete, ID: "g1",
		Apply: func(context.Context) (Applied, error) { return Applied{}, nil },
	})
	require.NoError(t, err)
	assert.Equal(t, StateDone, out.State)

	cancel()
	close(inv.block)

	closeCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	require.NoError(t, d.Close(closeCtx))
	assert.Equal(t, 1, inv.count())
}

func TestRunGoroutineMode(t *testing.T) {
	inv := &recordingInvalidator{}
	ic := NewInterceptor(inv, logger.Nop())

	_, err := ic.Run(context.Background(), Spec{
		Entity: invalidation.EntityGenre, Op: invalidation.OpCreate,
		Apply: func(context.Context) (Applied, error) { return Applied{ID: "g9"}, nil },
	})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return inv.count() == 1 }, time.Second, 5*time.Millisecond)
}

type ctxCheckingInvalidator struct {
	canceled atomic.Bool
}

func (c *ctxCheckingInvalidator) Invalidate(ctx context.Context, _ invalidation.Plan) (invalidation.Result, error) {
	c.canceled.Store(ctx.Err() != nil)
	return invalidation.Result{}, nil
}

func TestSynchronousInvalidationIgnoresCanceledRequest(t *testing.T) {
	inv := &ctxCheckingInvalidator{}
	ic := NewInterceptor(inv, logger.Nop(), WithSynchronousInvalidation())

	ctx, cancel := context.WithCancel(context.Background())
	_, err := ic.Run(ctx, Spec{
		Entity: invalidation.EntityGenre, Op: invalidation.OpCreate,
		Apply: func(context.Context) (Applied, error) {
			cancel()
			return Applied{}, nil
		},
	})
	require.NoError(t, err)
	assert.False(t, inv.canceled.Load())
}

func TestRunTracesMutationAndInvalidation(t *testing.T) {
	original := otel.GetTracerProvider()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(original)
	})

	store := cachetest.NewMockStore()
	store.Seed(time.Hour, "/api/tracks/t1", "/api/artists/a1")
	engine := invalidation.NewEngine(store, logger.Nop())
	ic := NewInterceptor(engine, logger.Nop(), WithSynchronousInvalidation())

	_, err := ic.Run(context.Background(), trackUpdate(func(context.Context) (Applied, error) {
		return Applied{Refs: invalidation.Refs{ArtistID: "a1", AlbumID: "b1"}}, nil
	}))
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	inner, outer := spans[0], spans[1]
	assert.Equal(t, "cache.invalidate", inner.Name())
	assert.Equal(t, "mutation track update", outer.Name())
	assert.Equal(t, outer.SpanContext().SpanID(), inner.Parent().SpanID())
	assert.Contains(t, outer.Attributes(), attribute.String("mutation.state", "done"))
	assert.Contains(t, outer.Attributes(), attribute.String("mutation.id", "t1"))

	boom := errors.New("unique violation")
	_, err = ic.Run(context.Background(), trackUpdate(func(context.Context) (Applied, error) {
		return Applied{}, boom
	}))
	require.ErrorIs(t, err, boom)

	spans = rec.Ended()
	require.Len(t, spans, 3)
	failed := spans[2]
	assert.Equal(t, codes.Error, failed.Status().Code)
	assert.Contains(t, failed.Attributes(), attribute.String("mutation.state", "failed"))
}
