// Package mutation wraps entity writes so that every committed write is
// followed by cache invalidation, without handlers having to remember it.
//
// Each write moves through Pending, Executing, Committed, Invalidating and
// Done. A failed write ends in Failed and invalidates nothing. A failed
// invalidation is logged and the write still reports Done.
package mutation

// State is the lifecycle position of one mutation.
type State int

// Mutation states.
const (
	StatePending State = iota
	StateExecuting
	StateCommitted
	StateInvalidating
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateExecuting:
		return "executing"
	case StateCommitted:
		return "committed"
	case StateInvalidating:
		return "invalidating"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
