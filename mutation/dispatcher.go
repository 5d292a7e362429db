package mutation

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/gaborage/tunecache/invalidation"
	"github.com/gaborage/tunecache/logger"
)

// Invalidator executes invalidation plans.
type Invalidator interface {
	Invalidate(ctx context.Context, plan invalidation.Plan) (invalidation.Result, error)
}

type job struct {
	ctx   context.Context
	plan  invalidation.Plan
	event invalidation.Event
}

// Dispatcher runs invalidation plans on a bounded worker pool, detached from
// the request that produced them. A submitted plan always runs: when the
// queue is full or the dispatcher is closed it runs on the caller's goroutine.
type Dispatcher struct {
	inv  Invalidator
	log  logger.Logger
	jobs chan job

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts workers goroutines reading from a queue of the given size.
func NewDispatcher(inv Invalidator, log logger.Logger, workers, queue int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	if log == nil {
		log = logger.Nop()
	}

	d := &Dispatcher{
		inv:  inv,
		log:  log,
		jobs: make(chan job, queue),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	return d
}

// Submit queues plan for ev. ctx only contributes values; its cancellation
// is ignored.
func (d *Dispatcher) Submit(ctx context.Context, ev invalidation.Event, plan invalidation.Plan) {
	j := job{ctx: context.WithoutCancel(ctx), plan: plan, event: ev}

	d.mu.RLock()
	if !d.closed {
		select {
		case d.jobs <- j:
			d.mu.RUnlock()
			return
		default:
		}
	}
	d.mu.RUnlock()

	d.log.Debug().
		Str("entity", string(ev.Entity)).
		Msg("Invalidation queue unavailable, running inline")
	d.run(j, -1)
}

// Close stops accepting work and waits for queued plans to finish or ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.log.Info().Msg("Invalidation dispatcher drained")
		return nil
	case <-ctx.Done():
		d.log.Warn().Msg("Invalidation dispatcher shutdown timed out, some plans may not have completed")
		return fmt.Errorf("mutation: dispatcher drain: %w", ctx.Err())
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for j := range d.jobs {
		d.run(j, id)
	}
}

func (d *Dispatcher) run(j job, workerID int) {
	defer func() {
		if recovered := recover(); recovered != nil {
			d.log.Error().
				Interface("panic", recovered).
				Str("stack", string(debug.Stack())).
				Int("worker_id", workerID).
				Msg("Invalidation panicked")
		}
	}()

	res, err := d.inv.Invalidate(j.ctx, j.plan)
	if err != nil {
		d.log.Error().Err(err).
			Str("entity", string(j.event.Entity)).
			Str("op", string(j.event.Op)).
			Str("entity_id", j.event.ID).
			Strs("failed", res.Failed).
			Msg("Cache invalidation incomplete, stale reads possible until TTL")
		return
	}
	d.log.Debug().
		Str("entity", string(j.event.Entity)).
		Int64("deleted", res.Deleted).
		Int("worker_id", workerID).
		Msg("Cache invalidated")
}
