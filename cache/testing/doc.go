// Package testing provides an in-memory cache.Store and assertion helpers
// for unit tests that should not need a Redis server.
//
// # Basic Usage
//
//	store := testing.NewMockStore()
//	store.Seed(time.Minute, "/api/artists", "/api/artists/a1")
//	keys, _ := store.Scan(ctx, "/api/artists*")
//
// # Configurable Behavior
//
// Chain configuration methods to simulate failures or delays:
//
//	store := testing.NewMockStore().
//	    WithFailure(testing.OpGet, errors.New("connection refused")).
//	    WithScanFailure("*search*", errors.New("timeout")).
//	    WithDelay(100 * time.Millisecond)
//
// # Operation Tracking
//
//	AssertOperationCount(t, store, testing.OpScan, 5)
//	AssertKeysPurged(t, store, "/api/artists/a1")
//
// For tests that need actual Redis behavior use miniredis, or the
// testcontainers helpers behind the integration build tag.
package testing
