package redis

import (
	"fmt"
	"time"

	"github.com/gaborage/tunecache/cache"
)

// Config holds Redis connection settings.
type Config struct {
	// Host is the Redis server hostname or IP address.
	Host string

	// Port is the Redis server port (default: 6379).
	Port int

	// Username enables ACL authentication when set.
	Username string

	// Password for Redis authentication (optional).
	// Should be provided via environment variable: CACHE_REDIS_PASSWORD
	Password string //nolint:gosec // G117 - config field, loaded from env

	// Database number to use (0-15).
	Database int

	// PoolSize is the maximum number of socket connections (default: 10).
	PoolSize int

	// TLS enables TLS with the system roots.
	TLS bool

	// DialTimeout is the timeout for establishing new connections (default: 5s).
	DialTimeout time.Duration

	// ReadTimeout is the timeout for socket reads (default: 3s). -1 disables it.
	ReadTimeout time.Duration

	// WriteTimeout is the timeout for socket writes (default: 3s). -1 disables it.
	WriteTimeout time.Duration

	// MaxRetries is the maximum number of retries before giving up. -1 disables retries.
	MaxRetries int

	// ScanCount is the COUNT hint passed to SCAN (default: 500).
	ScanCount int64

	// DeleteBatch is the number of keys removed per DEL command (default: 500).
	DeleteBatch int
}

// DefaultConfig returns a configuration pointing at a local Redis.
func DefaultConfig() *Config {
	return &Config{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   3,
		ScanCount:    500,
		DeleteBatch:  500,
	}
}

// Validate performs fail-fast validation of Redis configuration.
func (c *Config) Validate() error {
	if c.Host == "" {
		return cache.NewConfigError("redis.host", "host is required", nil)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return cache.NewConfigError("redis.port", fmt.Sprintf("invalid port: %d", c.Port), nil)
	}

	if c.Database < 0 || c.Database > 15 {
		return cache.NewConfigError("redis.database", fmt.Sprintf("invalid database number: %d (must be 0-15)", c.Database), nil)
	}

	if c.PoolSize <= 0 {
		return cache.NewConfigError("redis.pool_size", fmt.Sprintf("invalid pool size: %d (must be > 0)", c.PoolSize), nil)
	}

	if c.DialTimeout < 0 {
		return cache.NewConfigError("redis.dial_timeout", "dial timeout cannot be negative", nil)
	}

	if c.ReadTimeout < -1 {
		return cache.NewConfigError("redis.read_timeout", "read timeout cannot be less than -1", nil)
	}

	if c.WriteTimeout < -1 {
		return cache.NewConfigError("redis.write_timeout", "write timeout cannot be less than -1", nil)
	}

	if c.ScanCount < 0 || c.DeleteBatch < 0 {
		return cache.NewConfigError("redis.scan", "scan count and delete batch cannot be negative", nil)
	}

	return nil
}

// Address returns the Redis server address in "host:port" format.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) scanCount() int64 {
	if c.ScanCount <= 0 {
		return 500
	}
	return c.ScanCount
}

func (c *Config) deleteBatch() int {
	if c.DeleteBatch <= 0 {
		return 500
	}
	return c.DeleteBatch
}
