package mutation

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gaborage/tunecache/invalidation"
	"github.com/gaborage/tunecache/logger"
)

// ErrNoApply is returned for a Spec without an Apply function.
var ErrNoApply = errors.New("mutation: spec has no apply function")

const tracerName = "github.com/gaborage/tunecache/mutation"

// Revoker ends every session of a user.
type Revoker interface {
	RevokeAll(ctx context.Context, userID string) error
}

// Applied is what a committed write reports back.
type Applied struct {
	// ID of the written entity. Defaults to Spec.ID.
	ID string
	// Refs after the write.
	Refs invalidation.Refs
	// Deactivated is set when the write disabled a user account.
	Deactivated bool
	// PlayCompleted is set when a history write records a finished play.
	PlayCompleted bool
}

// Spec describes one write.
type Spec struct {
	Entity invalidation.Entity
	Op     invalidation.Op
	ID     string

	// Capture reads the foreign keys of the row before the write. Optional.
	Capture func(ctx context.Context) (invalidation.Refs, error)

	// Apply performs and commits the write.
	Apply func(ctx context.Context) (Applied, error)
}

// Outcome reports how far a mutation got.
type Outcome struct {
	State State
	Event invalidation.Event
	Plan  invalidation.Plan
}

// Interceptor runs writes and the invalidation that must follow them.
type Interceptor struct {
	inv      Invalidator
	dispatch *Dispatcher
	revoker  Revoker
	sync     bool
	log      logger.Logger
	observe  func(Spec, State)
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithDispatcher runs invalidation on d instead of inline.
func WithDispatcher(d *Dispatcher) Option {
	return func(i *Interceptor) { i.dispatch = d }
}

// WithSynchronousInvalidation makes Run wait for invalidation before returning.
func WithSynchronousInvalidation() Option {
	return func(i *Interceptor) { i.sync = true }
}

// WithRevoker enables session revocation on account deactivation.
func WithRevoker(r Revoker) Option {
	return func(i *Interceptor) { i.revoker = r }
}

// WithObserver registers a callback for every state transition.
func WithObserver(fn func(Spec, State)) Option {
	return func(i *Interceptor) { i.observe = fn }
}

// NewInterceptor creates an Interceptor. Without a dispatcher or the
// synchronous option, invalidation runs on its own goroutine per mutation.
func NewInterceptor(inv Invalidator, log logger.Logger, opts ...Option) *Interceptor {
	if log == nil {
		log = logger.Nop()
	}
	i := &Interceptor{inv: inv, log: log}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Interceptor) enter(spec Spec, out *Outcome, s State) {
	out.State = s
	if i.observe != nil {
		i.observe(spec, s)
	}
}

// Run executes spec and schedules the invalidation it implies.
//
// An error from Capture or Apply is returned with the outcome in StateFailed;
// nothing is invalidated. Once Apply has committed, the only error Run can
// return is a failed session revocation, which leaves the outcome in
// StateDone: the write stands but the caller must know the user's sessions
// may still be live.
func (i *Interceptor) Run(ctx context.Context, spec Spec) (out Outcome, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "mutation "+string(spec.Entity)+" "+string(spec.Op),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("mutation.entity", string(spec.Entity)),
			attribute.String("mutation.op", string(spec.Op)),
			attribute.String("mutation.id", spec.ID),
		),
	)
	defer func() {
		span.SetAttributes(attribute.String("mutation.state", out.State.String()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	i.enter(spec, &out, StatePending)

	if spec.Apply == nil {
		i.enter(spec, &out, StateFailed)
		return out, ErrNoApply
	}

	var old invalidation.Refs
	if spec.Capture != nil {
		refs, err := spec.Capture(ctx)
		if err != nil {
			i.enter(spec, &out, StateFailed)
			return out, fmt.Errorf("capture %s %s: %w", spec.Entity, spec.ID, err)
		}
		old = refs
	}

	i.enter(spec, &out, StateExecuting)
	applied, err := spec.Apply(ctx)
	if err != nil {
		i.enter(spec, &out, StateFailed)
		return out, err
	}
	i.enter(spec, &out, StateCommitted)

	id := applied.ID
	if id == "" {
		id = spec.ID
	}
	out.Event = invalidation.Event{
		Entity:        spec.Entity,
		Op:            spec.Op,
		ID:            id,
		Old:           old,
		New:           applied.Refs,
		Deactivated:   applied.Deactivated,
		PlayCompleted: applied.PlayCompleted,
	}
	out.Plan = invalidation.PlanFor(out.Event)

	i.enter(spec, &out, StateInvalidating)
	detached := context.WithoutCancel(ctx)
	revokeErr := i.revoke(detached, out.Plan.Revoke)
	i.invalidate(detached, out.Event, out.Plan)
	i.enter(spec, &out, StateDone)

	return out, revokeErr
}

func (i *Interceptor) revoke(ctx context.Context, users []string) error {
	if len(users) == 0 {
		return nil
	}
	if i.revoker == nil {
		i.log.Warn().Strs("user_ids", users).Msg("No session revoker configured, deactivated sessions remain until TTL")
		return nil
	}

	var errs []error
	for _, u := range users {
		if err := i.revoker.RevokeAll(ctx, u); err != nil {
			i.log.Error().Err(err).Str("user_id", u).Msg("Session revocation failed after deactivation")
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("mutation committed but session revocation failed: %w", errors.Join(errs...))
	}
	return nil
}

func (i *Interceptor) invalidate(ctx context.Context, ev invalidation.Event, plan invalidation.Plan) {
	if i.inv == nil || (len(plan.Requests) == 0 && len(plan.Keys) == 0 && len(plan.Extra) == 0) {
		return
	}

	switch {
	case i.sync:
		if _, err := i.inv.Invalidate(ctx, plan); err != nil {
			i.log.Error().Err(err).
				Str("entity", string(ev.Entity)).
				Str("entity_id", ev.ID).
				Msg("Cache invalidation incomplete, stale reads possible until TTL")
		}
	case i.dispatch != nil:
		i.dispatch.Submit(ctx, ev, plan)
	default:
		go func() {
			if _, err := i.inv.Invalidate(ctx, plan); err != nil {
				i.log.Error().Err(err).
					Str("entity", string(ev.Entity)).
					Str("entity_id", ev.ID).
					Msg("Cache invalidation incomplete, stale reads possible until TTL")
			}
		}()
	}
}
