// Package throttle rate-limits expensive work per key: at most one run per
// key within a minimum interval. It is used for derived-data refreshes that
// high-frequency events would otherwise trigger on every event.
package throttle

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter allows one event per key per interval. Idle keys are dropped
// after the expiry window.
type Limiter struct {
	mu          sync.Mutex
	interval    time.Duration
	expiresIn   time.Duration
	now         func() time.Time
	visitors    map[string]*visitor
	lastCleanup time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithExpiry sets how long an idle key is remembered. Defaults to twice the interval.
func WithExpiry(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.expiresIn = d
		}
	}
}

// New creates a Limiter with the given minimum interval between runs per key.
func New(interval time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		interval:  interval,
		expiresIn: 2 * interval,
		now:       time.Now,
		visitors:  make(map[string]*visitor),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastCleanup = l.now()
	return l
}

// Allow reports whether key may run now, and records the run if so.
func (l *Limiter) Allow(key string) bool {
	if l.interval <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Every(l.interval), 1)}
		l.visitors[key] = v
	}
	v.lastSeen = now

	if now.Sub(l.lastCleanup) > l.expiresIn {
		l.cleanupLocked(now)
	}
	return v.limiter.AllowN(now, 1)
}

// Do runs fn if key is allowed and reports whether it ran.
func (l *Limiter) Do(key string, fn func()) bool {
	if !l.Allow(key) {
		return false
	}
	fn()
	return true
}

// Reset forgets key so its next event runs immediately.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.visitors, key)
}

// Len returns the number of keys currently tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

func (l *Limiter) cleanupLocked(now time.Time) {
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.expiresIn {
			delete(l.visitors, key)
		}
	}
	l.lastCleanup = now
}
