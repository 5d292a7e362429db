// Package redis implements cache.Store on top of go-redis.
package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gaborage/tunecache/cache"
	"github.com/gaborage/tunecache/cache/internal/tracking"
)

// Client implements cache.Store using Redis as the backend.
type Client struct {
	client *redis.Client
	config *Config
	ns     string
	closed atomic.Bool
}

var _ cache.Store = (*Client)(nil)

// refreshField rewrites a hash field and its key TTL only while the field exists.
var refreshField = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
  return 1
end
return 0
`)

// NewClient validates the configuration, connects and verifies the
// connection with PING. A failed PING closes the client and returns a
// *cache.ConnectionError.
func NewClient(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &redis.Options{
		Addr:         cfg.Address(),
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: cfg.Host,
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, cache.NewConnectionError("ping", cfg.Address(), err)
	}

	return &Client{
		client: client,
		config: cfg,
		ns:     strconv.Itoa(cfg.Database),
	}, nil
}

func (c *Client) record(ctx context.Context, op string, start time.Time, hit bool, err error) {
	tracking.RecordOperation(ctx, op, time.Since(start), hit, err, c.ns)
}

// Get retrieves a value. Returns cache.ErrNotFound if the key doesn't exist.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	if c.closed.Load() {
		return nil, cache.ErrClosed
	}

	start := time.Now()
	result, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.record(ctx, tracking.OpGet, start, false, nil)
		return nil, cache.ErrNotFound
	}
	c.record(ctx, tracking.OpGet, start, err == nil, err)

	if err != nil {
		return nil, cache.NewOperationError("get", key, err)
	}
	return result, nil
}

// Set stores a value with SET EX. A zero TTL stores without expiration.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.closed.Load() {
		return cache.ErrClosed
	}
	if ttl < 0 {
		return cache.ErrInvalidTTL
	}

	start := time.Now()
	err := c.client.Set(ctx, key, value, ttl).Err()
	c.record(ctx, tracking.OpSet, start, false, err)

	if err != nil {
		return cache.NewOperationError("set", key, err)
	}
	return nil
}

// Delete removes keys in batches of Config.DeleteBatch and returns how many
// existed. Batches already sent stay deleted if a later batch fails.
func (c *Client) Delete(ctx context.Context, keys ...string) (int64, error) {
	if c.closed.Load() {
		return 0, cache.ErrClosed
	}
	if len(keys) == 0 {
		return 0, nil
	}

	batch := c.config.deleteBatch()
	var deleted int64
	for lo := 0; lo < len(keys); lo += batch {
		hi := min(lo+batch, len(keys))

		start := time.Now()
		n, err := c.client.Del(ctx, keys[lo:hi]...).Result()
		c.record(ctx, tracking.OpDelete, start, false, err)
		if err != nil {
			return deleted, cache.NewOperationError("del", keys[lo], err)
		}
		deleted += n
	}
	return deleted, nil
}

// Scan walks the keyspace with SCAN MATCH and returns every matching key.
// Keys may repeat across cursor pages; duplicates are removed.
func (c *Client) Scan(ctx context.Context, pattern string) ([]string, error) {
	if c.closed.Load() {
		return nil, cache.ErrClosed
	}

	start := time.Now()
	seen := make(map[string]struct{})
	var keys []string

	iter := c.client.Scan(ctx, 0, pattern, c.config.scanCount()).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	err := iter.Err()
	c.record(ctx, tracking.OpScan, start, false, err)

	if err != nil {
		return nil, cache.NewOperationError("scan", pattern, err)
	}
	return keys, nil
}

// HSet sets one hash field.
func (c *Client) HSet(ctx context.Context, key, field string, value []byte) error {
	if c.closed.Load() {
		return cache.ErrClosed
	}

	start := time.Now()
	err := c.client.HSet(ctx, key, field, value).Err()
	c.record(ctx, tracking.OpHSet, start, false, err)

	if err != nil {
		return cache.NewOperationError("hset", key, err)
	}
	return nil
}

// HGet reads one hash field. Returns cache.ErrNotFound when absent.
func (c *Client) HGet(ctx context.Context, key, field string) ([]byte, error) {
	if c.closed.Load() {
		return nil, cache.ErrClosed
	}

	start := time.Now()
	result, err := c.client.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		c.record(ctx, tracking.OpHGet, start, false, nil)
		return nil, cache.ErrNotFound
	}
	c.record(ctx, tracking.OpHGet, start, err == nil, err)

	if err != nil {
		return nil, cache.NewOperationError("hget", key, err)
	}
	return result, nil
}

// HGetAll returns every field of a hash.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	if c.closed.Load() {
		return nil, cache.ErrClosed
	}

	start := time.Now()
	result, err := c.client.HGetAll(ctx, key).Result()
	c.record(ctx, tracking.OpHGetAll, start, false, err)

	if err != nil {
		return nil, cache.NewOperationError("hgetall", key, err)
	}

	out := make(map[string][]byte, len(result))
	for f, v := range result {
		out[f] = []byte(v)
	}
	return out, nil
}

// HDel removes hash fields.
func (c *Client) HDel(ctx context.Context, key string, fields ...string) error {
	if c.closed.Load() {
		return cache.ErrClosed
	}
	if len(fields) == 0 {
		return nil
	}

	start := time.Now()
	err := c.client.HDel(ctx, key, fields...).Err()
	c.record(ctx, tracking.OpHDel, start, false, err)

	if err != nil {
		return cache.NewOperationError("hdel", key, err)
	}
	return nil
}

// HRefresh overwrites field and resets the TTL of key in one script call.
// Reports false when the field no longer exists.
func (c *Client) HRefresh(ctx context.Context, key, field string, value []byte, ttl time.Duration) (bool, error) {
	if c.closed.Load() {
		return false, cache.ErrClosed
	}
	if ttl <= 0 {
		return false, cache.ErrInvalidTTL
	}

	start := time.Now()
	n, err := refreshField.Run(ctx, c.client, []string{key}, field, value, ttl.Milliseconds()).Int64()
	c.record(ctx, tracking.OpHRefresh, start, n == 1, err)

	if err != nil {
		return false, cache.NewOperationError("hrefresh", key, err)
	}
	return n == 1, nil
}

// Expire sets the TTL of a key and reports whether the key exists.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if c.closed.Load() {
		return false, cache.ErrClosed
	}
	if ttl <= 0 {
		return false, cache.ErrInvalidTTL
	}

	start := time.Now()
	ok, err := c.client.Expire(ctx, key, ttl).Result()
	c.record(ctx, tracking.OpExpire, start, false, err)

	if err != nil {
		return false, cache.NewOperationError("expire", key, err)
	}
	return ok, nil
}

// Health checks the connection with PING.
func (c *Client) Health(ctx context.Context) error {
	if c.closed.Load() {
		return cache.ErrClosed
	}

	start := time.Now()
	err := c.client.Ping(ctx).Err()
	c.record(ctx, tracking.OpHealth, start, false, err)

	if err != nil {
		return cache.NewConnectionError("ping", c.config.Address(), err)
	}
	return nil
}

// Stats returns connection pool statistics.
func (c *Client) Stats() (map[string]any, error) {
	if c.closed.Load() {
		return nil, cache.ErrClosed
	}

	poolStats := c.client.PoolStats()

	return map[string]any{
		"address":          c.config.Address(),
		"database":         c.config.Database,
		"tls":              c.config.TLS,
		"pool_hits":        poolStats.Hits,
		"pool_misses":      poolStats.Misses,
		"pool_timeouts":    poolStats.Timeouts,
		"pool_total_conns": poolStats.TotalConns,
		"pool_idle_conns":  poolStats.IdleConns,
		"pool_stale_conns": poolStats.StaleConns,
	}, nil
}

// Close releases the connection pool. A second Close returns cache.ErrClosed.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return cache.ErrClosed
	}
	return c.client.Close()
}
