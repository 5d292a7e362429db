package cache

import "time"

// TTL policy defaults for cached responses.
const (
	// DefaultTTL applies to generic cached reads.
	DefaultTTL = 600 * time.Second

	// LowChurnTTL applies to slow-moving listings such as recommended artists.
	LowChurnTTL = 1800 * time.Second

	// DefaultOperationTimeout bounds every individual store round-trip issued by the Reader.
	// It is deliberately much shorter than the HTTP request timeout.
	DefaultOperationTimeout = 250 * time.Millisecond

	// DefaultBreakerFailures is the number of consecutive store failures that opens the breaker.
	DefaultBreakerFailures = 5

	// DefaultBreakerOpenTimeout is how long the breaker stays open before probing again.
	DefaultBreakerOpenTimeout = 10 * time.Second
)

// Test-specific durations shared by package tests.
const (
	// TestShortTTL is a very short TTL for expiration tests.
	TestShortTTL = 100 * time.Millisecond

	// TestLongTTL is a TTL that should not expire during tests.
	TestLongTTL = 10 * time.Minute
)
