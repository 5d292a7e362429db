//go:build integration

package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/tunecache/cache"
	"github.com/gaborage/tunecache/testing/containers"
)

// setupRealRedis creates a real Redis container and client for integration testing.
func setupRealRedis(t *testing.T) (*Client, context.Context) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	t.Cleanup(cancel)

	redisContainer := containers.MustStartRedisContainer(ctx, t, nil).WithCleanup(t)

	cfg := DefaultConfig()
	cfg.Host = redisContainer.Host()
	cfg.Port = redisContainer.Port()

	client, err := NewClient(cfg)
	require.NoError(t, err, "Failed to create Redis client")
	t.Cleanup(func() { _ = client.Close() })

	return client, ctx
}

func TestRealRedisTTLExpiration(t *testing.T) {
	client, ctx := setupRealRedis(t)

	key := "/api/tracks?page=1"
	require.NoError(t, client.Set(ctx, key, []byte("[]"), 2*time.Second))

	_, err := client.Get(ctx, key)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := client.Get(ctx, key)
		return errors.Is(err, cache.ErrNotFound)
	}, 5*time.Second, 100*time.Millisecond, "Key should expire after TTL")
}

func TestRealRedisScanLargeKeyspace(t *testing.T) {
	client, ctx := setupRealRedis(t)

	const n = 2000
	for i := range n {
		require.NoError(t, client.Set(ctx, fmt.Sprintf("/api/artists?page=%d", i), []byte("[]"), time.Minute))
	}
	require.NoError(t, client.Set(ctx, "/api/albums?page=1", []byte("[]"), time.Minute))

	keys, err := client.Scan(ctx, "/api/artists*")
	require.NoError(t, err)
	assert.Len(t, keys, n)

	deleted, err := client.Delete(ctx, keys...)
	require.NoError(t, err)
	assert.Equal(t, int64(n), deleted)

	_, err = client.Get(ctx, "/api/albums?page=1")
	assert.NoError(t, err, "unrelated key must survive")
}

func TestRealRedisConcurrentHashFields(t *testing.T) {
	client, ctx := setupRealRedis(t)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, client.HSet(ctx, "sessions:u1", fmt.Sprintf("s%d", i), []byte("rec")))
		}(i)
	}
	wg.Wait()

	all, err := client.HGetAll(ctx, "sessions:u1")
	require.NoError(t, err)
	assert.Len(t, all, 50)
}
