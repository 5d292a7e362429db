package config

import (
	"time"

	"github.com/knadh/koanf/v2"
)

// Config is the complete tunecache configuration.
type Config struct {
	App       AppConfig       `koanf:"app" json:"app" yaml:"app"`
	Server    ServerConfig    `koanf:"server" json:"server" yaml:"server"`
	Log       LogConfig       `koanf:"log" json:"log" yaml:"log"`
	Cache     CacheConfig     `koanf:"cache" json:"cache" yaml:"cache"`
	Session   SessionConfig   `koanf:"session" json:"session" yaml:"session"`
	Database  DatabaseConfig  `koanf:"database" json:"database" yaml:"database"`
	Recommend RecommendConfig `koanf:"recommend" json:"recommend" yaml:"recommend"`

	k *koanf.Koanf `json:"-" yaml:"-"`
}

// AppConfig identifies the running service.
type AppConfig struct {
	Name    string `koanf:"name" json:"name" yaml:"name"`
	Version string `koanf:"version" json:"version" yaml:"version"`
	Env     string `koanf:"env" json:"env" yaml:"env"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host" json:"host" yaml:"host"`
	Port    int           `koanf:"port" json:"port" yaml:"port"`
	Timeout TimeoutConfig `koanf:"timeout" json:"timeout" yaml:"timeout"`
}

// TimeoutConfig holds HTTP timeouts. Request bounds handler execution and
// is independent of cache.operation_timeout.
type TimeoutConfig struct {
	Read     time.Duration `koanf:"read" json:"read" yaml:"read"`
	Write    time.Duration `koanf:"write" json:"write" yaml:"write"`
	Request  time.Duration `koanf:"request" json:"request" yaml:"request"`
	Shutdown time.Duration `koanf:"shutdown" json:"shutdown" yaml:"shutdown"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" yaml:"level"`
	Pretty bool   `koanf:"pretty" json:"pretty" yaml:"pretty"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	// Enabled is the startup value of the live toggle.
	Enabled bool `koanf:"enabled" json:"enabled" yaml:"enabled"`
	// File is the YAML file the toggle is watched in and persisted to.
	File             string             `koanf:"file" json:"file" yaml:"file"`
	TTL              CacheTTLConfig     `koanf:"ttl" json:"ttl" yaml:"ttl"`
	OperationTimeout time.Duration      `koanf:"operation_timeout" json:"operation_timeout" yaml:"operation_timeout"`
	Breaker          BreakerConfig      `koanf:"breaker" json:"breaker" yaml:"breaker"`
	Invalidation     InvalidationConfig `koanf:"invalidation" json:"invalidation" yaml:"invalidation"`
	Redis            RedisConfig        `koanf:"redis" json:"redis" yaml:"redis"`
}

// CacheTTLConfig holds the TTL policy.
type CacheTTLConfig struct {
	Default     time.Duration `koanf:"default" json:"default" yaml:"default"`
	Recommended time.Duration `koanf:"recommended" json:"recommended" yaml:"recommended"`
}

// BreakerConfig configures the circuit breaker in front of the store.
type BreakerConfig struct {
	Failures    int           `koanf:"failures" json:"failures" yaml:"failures"`
	OpenTimeout time.Duration `koanf:"open_timeout" json:"open_timeout" yaml:"open_timeout"`
}

// InvalidationConfig controls how purges are executed.
type InvalidationConfig struct {
	// Async runs purges on the dispatcher pool after the response is sent.
	Async       bool          `koanf:"async" json:"async" yaml:"async"`
	Workers     int           `koanf:"workers" json:"workers" yaml:"workers"`
	Queue       int           `koanf:"queue" json:"queue" yaml:"queue"`
	Timeout     time.Duration `koanf:"timeout" json:"timeout" yaml:"timeout"`
	Concurrency int           `koanf:"concurrency" json:"concurrency" yaml:"concurrency"`
}

// RedisConfig holds the store connection. An empty Host disables caching.
type RedisConfig struct {
	Host         string        `koanf:"host" json:"host" yaml:"host"`
	Port         int           `koanf:"port" json:"port" yaml:"port"`
	Username     string        `koanf:"username" json:"username" yaml:"username"`
	Password     string        `koanf:"password" json:"-" yaml:"password"` //nolint:gosec // G117 - loaded from env
	Database     int           `koanf:"database" json:"database" yaml:"database"`
	PoolSize     int           `koanf:"pool_size" json:"pool_size" yaml:"pool_size"`
	TLS          bool          `koanf:"tls" json:"tls" yaml:"tls"`
	DialTimeout  time.Duration `koanf:"dial_timeout" json:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout" json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout" json:"write_timeout" yaml:"write_timeout"`
}

// SessionConfig holds session store settings.
type SessionConfig struct {
	TTL            time.Duration `koanf:"ttl" json:"ttl" yaml:"ttl"`
	RevokeAttempts int           `koanf:"revoke_attempts" json:"revoke_attempts" yaml:"revoke_attempts"`
	RevokeBackoff  time.Duration `koanf:"revoke_backoff" json:"revoke_backoff" yaml:"revoke_backoff"`
}

// DatabaseConfig holds the PostgreSQL connection.
type DatabaseConfig struct {
	Host             string        `koanf:"host" json:"host" yaml:"host"`
	Port             int           `koanf:"port" json:"port" yaml:"port"`
	Database         string        `koanf:"database" json:"database" yaml:"database"`
	Username         string        `koanf:"username" json:"username" yaml:"username"`
	Password         string        `koanf:"password" json:"-" yaml:"password"` //nolint:gosec // G117 - loaded from env
	SSLMode          string        `koanf:"sslmode" json:"sslmode" yaml:"sslmode"`
	ConnectionString string        `koanf:"connectionstring" json:"-" yaml:"connectionstring"`
	MaxConns         int           `koanf:"max_conns" json:"max_conns" yaml:"max_conns"`
	ConnMaxLifetime  time.Duration `koanf:"conn_max_lifetime" json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// RecommendConfig controls the recommendation refresh triggered by plays.
type RecommendConfig struct {
	RefreshInterval time.Duration `koanf:"refresh_interval" json:"refresh_interval" yaml:"refresh_interval"`
}

// IsConfigured reports whether a store host is set.
func (r RedisConfig) IsConfigured() bool {
	return r.Host != ""
}

// IsConfigured reports whether enough is set to open a connection.
func (d DatabaseConfig) IsConfigured() bool {
	return d.ConnectionString != "" || d.Host != ""
}

// Koanf exposes the underlying koanf instance for ad-hoc lookups.
func (c *Config) Koanf() *koanf.Koanf {
	return c.k
}
