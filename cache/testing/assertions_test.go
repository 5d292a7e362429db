package testing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/tunecache/cache"
)

func TestMockStoreStrings(t *testing.T) {
	ctx := context.Background()
	store := NewMockStore()

	require.NoError(t, store.Set(ctx, "/api/artists/a1", []byte("v"), time.Minute))
	AssertCacheHit(t, store, "/api/artists/a1")
	AssertCacheMiss(t, store, "/api/artists/a2")

	n, err := store.Delete(ctx, "/api/artists/a1", "/api/artists/a2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	AssertStoreEmpty(t, store)

	assert.ErrorIs(t, store.Set(ctx, "k", nil, -1), cache.ErrInvalidTTL)
}

func TestMockStoreExpiration(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMockStore().WithClock(func() time.Time { return now })

	require.NoError(t, store.Set(ctx, "a", []byte("v"), time.Minute))
	require.NoError(t, store.HSet(ctx, "sessions:u1", "s1", []byte("r")))
	ok, err := store.Expire(ctx, "sessions:u1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, store.TTL("sessions:u1"))

	now = now.Add(2 * time.Minute)
	AssertCacheMiss(t, store, "a")
	assert.True(t, store.Has("sessions:u1"))

	now = now.Add(time.Hour)
	assert.False(t, store.Has("sessions:u1"))
}

func TestMockStoreScanGlob(t *testing.T) {
	ctx := context.Background()
	store := NewMockStore()
	store.Seed(time.Minute, "/api/artists", "/api/artists/a1?page=2", "/api/albums", "/api/tracks/search?q=x", "/search-all?q=y")

	keys, err := store.Scan(ctx, "/api/artists*")
	require.NoError(t, err)
	assert.Equal(t, []string{"/api/artists", "/api/artists/a1?page=2"}, keys)

	keys, err = store.Scan(ctx, "/api/*/search*")
	require.NoError(t, err)
	assert.Equal(t, []string{"/api/tracks/search?q=x"}, keys)

	keys, err = store.Scan(ctx, "*search*")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestMockStoreHashes(t *testing.T) {
	ctx := context.Background()
	store := NewMockStore()

	require.NoError(t, store.HSet(ctx, "h", "a", []byte("1")))
	require.NoError(t, store.HSet(ctx, "h", "b", []byte("2")))

	v, err := store.HGet(ctx, "h", "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	_, err = store.HGet(ctx, "h", "z")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	require.NoError(t, store.HDel(ctx, "h", "a", "b"))
	assert.False(t, store.Has("h"))

	all, err := store.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMockStoreHRefresh(t *testing.T) {
	ctx := context.Background()
	store := NewMockStore()

	ok, err := store.HRefresh(ctx, "h", "a", []byte("1"), time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, store.Has("h"), "refresh never creates a hash")

	require.NoError(t, store.HSet(ctx, "h", "a", []byte("1")))
	ok, err = store.HRefresh(ctx, "h", "b", []byte("2"), time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.HRefresh(ctx, "h", "a", []byte("3"), time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	v, err := store.HGet(ctx, "h", "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), v)
	assert.InDelta(t, time.Hour.Seconds(), store.TTL("h").Seconds(), 1)

	_, err = store.HRefresh(ctx, "h", "a", nil, 0)
	assert.ErrorIs(t, err, cache.ErrInvalidTTL)
}

func TestMockStoreFailures(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection refused")
	store := NewMockStore().WithFailureTimes(OpGet, 2, boom)

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, boom)
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, boom)
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrNotFound)
	AssertOperationCount(t, store, OpGet, 3)

	store.WithScanFailure("*play*", boom)
	_, err = store.Scan(ctx, "*play*")
	assert.ErrorIs(t, err, boom)
	_, err = store.Scan(ctx, "*search*")
	assert.NoError(t, err)

	store.WithFailure(OpHealth, boom)
	assert.ErrorIs(t, store.Health(ctx), boom)
	store.WithFailure(OpHealth, nil)
	assert.NoError(t, store.Health(ctx))
}

func TestMockStoreDelayHonorsContext(t *testing.T) {
	store := NewMockStore().WithDelay(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMockStoreClose(t *testing.T) {
	store := NewMockStore()
	require.NoError(t, store.Close())
	assert.True(t, store.IsClosed())
	assert.ErrorIs(t, store.Close(), cache.ErrClosed)

	_, err := store.Get(context.Background(), "k")
	assert.ErrorIs(t, err, cache.ErrClosed)
}

func TestAssertKeys(t *testing.T) {
	store := NewMockStore()
	store.Seed(0, "b", "a")

	AssertKeys(t, store, "a", "b")
	AssertKeysKept(t, store, "a")
	AssertOperationCountAtLeast(t, store, OpGet, 0)

	_, err := store.Delete(context.Background(), "a")
	require.NoError(t, err)
	AssertKeysPurged(t, store, "a")
}
