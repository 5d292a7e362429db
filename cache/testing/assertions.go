package testing

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/gaborage/tunecache/cache"
)

// AssertCacheHit asserts that a key can be read from the store.
//
// Example:
//
//	store := NewMockStore()
//	store.Set(ctx, "/api/artists/a1", []byte("{}"), time.Minute)
//	AssertCacheHit(t, store, "/api/artists/a1")
func AssertCacheHit(t *testing.T, s cache.Store, key string) {
	t.Helper()

	if _, err := s.Get(context.Background(), key); err != nil {
		t.Errorf("expected cache hit for key %q, got error: %v", key, err)
	}
}

// AssertCacheMiss asserts that a key does not exist in the store.
func AssertCacheMiss(t *testing.T, s cache.Store, key string) {
	t.Helper()

	_, err := s.Get(context.Background(), key)
	if !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("expected cache miss (ErrNotFound) for key %q, got: %v", key, err)
	}
}

// AssertOperationCount asserts that op was called exactly expected times.
func AssertOperationCount(t *testing.T, mock *MockStore, op string, expected int64) {
	t.Helper()

	if actual := mock.OperationCount(op); actual != expected {
		t.Errorf("expected %d %s operations, got %d", expected, op, actual)
	}
}

// AssertOperationCountAtLeast asserts that op was called at least minimum times.
func AssertOperationCountAtLeast(t *testing.T, mock *MockStore, op string, minimum int64) {
	t.Helper()

	if actual := mock.OperationCount(op); actual < minimum {
		t.Errorf("expected at least %d %s operations, got %d", minimum, op, actual)
	}
}

// AssertKeysPurged asserts that none of keys survive in the store.
func AssertKeysPurged(t *testing.T, mock *MockStore, keys ...string) {
	t.Helper()

	for _, k := range keys {
		if mock.Has(k) {
			t.Errorf("expected key %q to be purged; remaining keys:\n%s", k, mock.Dump())
		}
	}
}

// AssertKeysKept asserts that every key is still live.
func AssertKeysKept(t *testing.T, mock *MockStore, keys ...string) {
	t.Helper()

	for _, k := range keys {
		if !mock.Has(k) {
			t.Errorf("expected key %q to survive; remaining keys:\n%s", k, mock.Dump())
		}
	}
}

// AssertKeys asserts the exact set of live keys.
func AssertKeys(t *testing.T, mock *MockStore, expected ...string) {
	t.Helper()

	want := slices.Clone(expected)
	slices.Sort(want)
	if got := mock.Keys(); !slices.Equal(got, want) {
		t.Errorf("expected keys %v, got %v", want, got)
	}
}

// AssertStoreEmpty asserts that no live keys remain.
func AssertStoreEmpty(t *testing.T, mock *MockStore) {
	t.Helper()

	if keys := mock.Keys(); len(keys) != 0 {
		t.Errorf("expected empty store, found %d keys: %v", len(keys), keys)
	}
}
