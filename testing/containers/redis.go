//go:build integration

// Package containers starts throwaway backing services for integration tests.
// Tests are skipped when no Docker daemon is reachable.
package containers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RedisOptions tunes the Redis container.
type RedisOptions struct {
	Image          string
	StartupTimeout time.Duration
}

// DefaultRedisOptions pins the image the cache is tested against.
func DefaultRedisOptions() *RedisOptions {
	return &RedisOptions{
		Image:          "redis:7-alpine",
		StartupTimeout: time.Minute,
	}
}

// Redis is a running Redis container.
type Redis struct {
	container *redis.RedisContainer
	host      string
	port      int
}

// StartRedis runs a Redis container. A nil opts uses DefaultRedisOptions.
func StartRedis(ctx context.Context, t *testing.T, opts *RedisOptions) (*Redis, error) {
	t.Helper()

	if opts == nil {
		opts = DefaultRedisOptions()
	}
	if !dockerAvailable(ctx) {
		t.Skip("Docker is not available; skipping integration test")
	}

	c, err := redis.Run(ctx, opts.Image,
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").WithStartupTimeout(opts.StartupTimeout),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("failed to resolve redis host: %w", err)
	}
	port, err := c.MappedPort(ctx, "6379/tcp")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("failed to resolve redis port: %w", err)
	}

	t.Logf("redis container listening on %s:%d", host, port.Int())
	return &Redis{container: c, host: host, port: port.Int()}, nil
}

// MustStartRedisContainer is StartRedis that fails the test on error.
func MustStartRedisContainer(ctx context.Context, t *testing.T, opts *RedisOptions) *Redis {
	t.Helper()
	r, err := StartRedis(ctx, t, opts)
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	return r
}

func (r *Redis) Host() string { return r.host }

func (r *Redis) Port() int { return r.port }

// Terminate stops and removes the container.
func (r *Redis) Terminate(ctx context.Context) error {
	if r.container == nil {
		return nil
	}
	return r.container.Terminate(ctx)
}

// WithCleanup terminates the container when the test ends.
func (r *Redis) WithCleanup(t *testing.T) *Redis {
	t.Helper()
	t.Cleanup(func() {
		if err := r.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	})
	return r
}

func dockerAvailable(ctx context.Context) bool {
	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()
	_, err = provider.DaemonHost(ctx)
	return err == nil
}
