package testing

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/match"

	"github.com/gaborage/tunecache/cache"
)

// Operation names accepted by the failure and counting helpers.
const (
	OpGet      = "Get"
	OpSet      = "Set"
	OpDelete   = "Delete"
	OpScan     = "Scan"
	OpHSet     = "HSet"
	OpHGet     = "HGet"
	OpHGetAll  = "HGetAll"
	OpHDel     = "HDel"
	OpExpire   = "Expire"
	OpHRefresh = "HRefresh"
	OpHealth   = "Health"
	OpStats    = "Stats"
	OpClose    = "Close"
)

// MockStore is an in-memory cache.Store for tests. Scan uses Redis glob
// semantics, values expire lazily, and every operation can be made to fail
// or block.
//
// Example usage:
//
//	store := NewMockStore()
//	store.Set(ctx, "/api/artists/a1", []byte(`{}`), time.Minute)
//	keys, _ := store.Scan(ctx, "/api/artists*")
type MockStore struct {
	mu      sync.Mutex
	strings map[string]*entry
	hashes  map[string]*hashEntry
	closed  atomic.Bool
	now     func() time.Time

	delay         time.Duration
	failures      map[string]error
	scanFailures  map[string]error
	failRemaining map[string]int

	calls sync.Map // op -> *atomic.Int64

	onDelete func(keys []string)
}

type entry struct {
	value      []byte
	expiration time.Time
}

type hashEntry struct {
	fields     map[string][]byte
	expiration time.Time
}

// NewMockStore creates an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		strings:       make(map[string]*entry),
		hashes:        make(map[string]*hashEntry),
		now:           time.Now,
		failures:      make(map[string]error),
		scanFailures:  make(map[string]error),
		failRemaining: make(map[string]int),
	}
}

var _ cache.Store = (*MockStore)(nil)

// WithDelay delays every operation; the context still bounds the wait.
func (m *MockStore) WithDelay(delay time.Duration) *MockStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = delay
	return m
}

// WithFailure makes every call of op return err. A nil err clears the failure.
func (m *MockStore) WithFailure(op string, err error) *MockStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		delete(m.failRemaining, op)
		return m
	}
	m.failures[op] = err
	delete(m.failRemaining, op)
	return m
}

// WithFailureTimes makes the next n calls of op return err.
func (m *MockStore) WithFailureTimes(op string, n int, err error) *MockStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
	m.failRemaining[op] = n
	return m
}

// WithScanFailure makes Scan fail for one specific pattern only.
func (m *MockStore) WithScanFailure(pattern string, err error) *MockStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanFailures[pattern] = err
	return m
}

// WithClock replaces time.Now for expiration checks.
func (m *MockStore) WithClock(now func() time.Time) *MockStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

// OnDelete registers a callback invoked with the keys of every successful Delete.
func (m *MockStore) OnDelete(fn func(keys []string)) *MockStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDelete = fn
	return m
}

func (m *MockStore) begin(ctx context.Context, op string) error {
	m.counter(op).Add(1)

	m.mu.Lock()
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.closed.Load() && op != OpClose {
		return cache.ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	err, ok := m.failures[op]
	if !ok {
		return nil
	}
	if n, limited := m.failRemaining[op]; limited {
		if n <= 1 {
			delete(m.failures, op)
			delete(m.failRemaining, op)
		} else {
			m.failRemaining[op] = n - 1
		}
	}
	return err
}

func (m *MockStore) counter(op string) *atomic.Int64 {
	c, _ := m.calls.LoadOrStore(op, new(atomic.Int64))
	return c.(*atomic.Int64)
}

// expiredLocked drops key if it has expired. Caller holds m.mu.
func (m *MockStore) expiredLocked(key string) {
	now := m.now()
	if e, ok := m.strings[key]; ok && !e.expiration.IsZero() && !now.Before(e.expiration) {
		delete(m.strings, key)
	}
	if h, ok := m.hashes[key]; ok && !h.expiration.IsZero() && !now.Before(h.expiration) {
		delete(m.hashes, key)
	}
}

func (m *MockStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

// Get implements cache.Store.
func (m *MockStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := m.begin(ctx, OpGet); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiredLocked(key)

	e, ok := m.strings[key]
	if !ok {
		return nil, cache.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

// Set implements cache.Store.
func (m *MockStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := m.begin(ctx, OpSet); err != nil {
		return err
	}
	if ttl < 0 {
		return cache.ErrInvalidTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hashes, key)
	m.strings[key] = &entry{value: append([]byte(nil), value...), expiration: m.expiry(ttl)}
	return nil
}

// Delete implements cache.Store.
func (m *MockStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if err := m.begin(ctx, OpDelete); err != nil {
		return 0, err
	}

	m.mu.Lock()
	var n int64
	for _, k := range keys {
		m.expiredLocked(k)
		if _, ok := m.strings[k]; ok {
			delete(m.strings, k)
			n++
		}
		if _, ok := m.hashes[k]; ok {
			delete(m.hashes, k)
			n++
		}
	}
	hook := m.onDelete
	m.mu.Unlock()

	if hook != nil {
		hook(keys)
	}
	return n, nil
}

// Scan implements cache.Store with Redis glob matching. Results are sorted.
func (m *MockStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	if err := m.begin(ctx, OpScan); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.scanFailures[pattern]; ok {
		return nil, err
	}

	var keys []string
	for _, k := range m.allKeysLocked() {
		if match.Match(k, pattern) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *MockStore) allKeysLocked() []string {
	keys := make([]string, 0, len(m.strings)+len(m.hashes))
	for k := range m.strings {
		keys = append(keys, k)
	}
	for k := range m.hashes {
		keys = append(keys, k)
	}
	live := keys[:0]
	for _, k := range keys {
		m.expiredLocked(k)
		_, s := m.strings[k]
		_, h := m.hashes[k]
		if s || h {
			live = append(live, k)
		}
	}
	sort.Strings(live)
	return live
}

// HSet implements cache.Store.
func (m *MockStore) HSet(ctx context.Context, key, field string, value []byte) error {
	if err := m.begin(ctx, OpHSet); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiredLocked(key)
	if _, ok := m.strings[key]; ok {
		return cache.NewOperationError("hset", key, fmt.Errorf("WRONGTYPE"))
	}
	h, ok := m.hashes[key]
	if !ok {
		h = &hashEntry{fields: make(map[string][]byte)}
		m.hashes[key] = h
	}
	h.fields[field] = append([]byte(nil), value...)
	return nil
}

// HGet implements cache.Store.
func (m *MockStore) HGet(ctx context.Context, key, field string) ([]byte, error) {
	if err := m.begin(ctx, OpHGet); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiredLocked(key)
	h, ok := m.hashes[key]
	if !ok {
		return nil, cache.ErrNotFound
	}
	v, ok := h.fields[field]
	if !ok {
		return nil, cache.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// HGetAll implements cache.Store.
func (m *MockStore) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	if err := m.begin(ctx, OpHGetAll); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiredLocked(key)
	out := make(map[string][]byte)
	if h, ok := m.hashes[key]; ok {
		for f, v := range h.fields {
			out[f] = append([]byte(nil), v...)
		}
	}
	return out, nil
}

// HDel implements cache.Store. The hash disappears with its last field.
func (m *MockStore) HDel(ctx context.Context, key string, fields ...string) error {
	if err := m.begin(ctx, OpHDel); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiredLocked(key)
	h, ok := m.hashes[key]
	if !ok {
		return nil
	}
	for _, f := range fields {
		delete(h.fields, f)
	}
	if len(h.fields) == 0 {
		delete(m.hashes, key)
	}
	return nil
}

// HRefresh implements cache.Store under a single lock.
func (m *MockStore) HRefresh(ctx context.Context, key, field string, value []byte, ttl time.Duration) (bool, error) {
	if err := m.begin(ctx, OpHRefresh); err != nil {
		return false, err
	}
	if ttl <= 0 {
		return false, cache.ErrInvalidTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiredLocked(key)
	h, ok := m.hashes[key]
	if !ok {
		return false, nil
	}
	if _, ok := h.fields[field]; !ok {
		return false, nil
	}
	h.fields[field] = append([]byte(nil), value...)
	h.expiration = m.expiry(ttl)
	return true, nil
}

// Expire implements cache.Store.
func (m *MockStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := m.begin(ctx, OpExpire); err != nil {
		return false, err
	}
	if ttl <= 0 {
		return false, cache.ErrInvalidTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiredLocked(key)
	if e, ok := m.strings[key]; ok {
		e.expiration = m.expiry(ttl)
		return true, nil
	}
	if h, ok := m.hashes[key]; ok {
		h.expiration = m.expiry(ttl)
		return true, nil
	}
	return false, nil
}

// Health implements cache.Store.
func (m *MockStore) Health(ctx context.Context) error {
	return m.begin(ctx, OpHealth)
}

// Stats implements cache.Store.
func (m *MockStore) Stats() (map[string]any, error) {
	if err := m.begin(context.Background(), OpStats); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]any{
		"keys":   len(m.strings),
		"hashes": len(m.hashes),
	}, nil
}

// Close implements cache.Store. A second Close returns cache.ErrClosed.
func (m *MockStore) Close() error {
	if err := m.begin(context.Background(), OpClose); err != nil {
		return err
	}
	if !m.closed.CompareAndSwap(false, true) {
		return cache.ErrClosed
	}
	return nil
}

// Inspection helpers. They bypass failure injection and counters.

// OperationCount returns how many times op was called.
func (m *MockStore) OperationCount(op string) int64 {
	return m.counter(op).Load()
}

// ResetCounts zeroes every operation counter.
func (m *MockStore) ResetCounts() {
	m.calls.Range(func(_, v any) bool {
		v.(*atomic.Int64).Store(0)
		return true
	})
}

// IsClosed reports whether Close succeeded.
func (m *MockStore) IsClosed() bool {
	return m.closed.Load()
}

// Keys returns every live key, sorted.
func (m *MockStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allKeysLocked()
}

// Has reports whether key is live.
func (m *MockStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiredLocked(key)
	_, s := m.strings[key]
	_, h := m.hashes[key]
	return s || h
}

// Value returns the raw value of a string key.
func (m *MockStore) Value(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiredLocked(key)
	e, ok := m.strings[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), e.value...), true
}

// TTL returns the remaining TTL of key, or zero for none or missing.
func (m *MockStore) TTL(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiredLocked(key)
	var exp time.Time
	if e, ok := m.strings[key]; ok {
		exp = e.expiration
	} else if h, ok := m.hashes[key]; ok {
		exp = h.expiration
	}
	if exp.IsZero() {
		return 0
	}
	return exp.Sub(m.now())
}

// Fields returns a copy of a hash.
func (m *MockStore) Fields(key string) map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiredLocked(key)
	h, ok := m.hashes[key]
	if !ok {
		return nil
	}
	return maps.Clone(h.fields)
}

// Seed stores raw values without counting operations.
func (m *MockStore) Seed(ttl time.Duration, keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		m.strings[k] = &entry{value: []byte(`{"seed":"` + strings.ReplaceAll(k, `"`, `'`) + `"}`), expiration: m.expiry(ttl)}
	}
}

// Dump returns a readable listing of the stored keys.
func (m *MockStore) Dump() string {
	var b strings.Builder
	for _, k := range m.Keys() {
		fmt.Fprintf(&b, "%s\n", k)
	}
	return b.String()
}
