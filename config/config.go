package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	envprovider "github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultFile is the YAML file Load reads.
const DefaultFile = "config.yaml"

// Load loads configuration from multiple sources with priority:
// 1. Environment variables (highest priority)
// 2. YAML configuration files
// 3. Default values (lowest priority)
func Load() (*Config, error) {
	return LoadFile(DefaultFile)
}

// LoadFile is Load with an explicit YAML path. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	// Load default configuration first
	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	known := envKeys(k)

	if err := loadYAML(k, path); err != nil {
		return nil, err
	}

	// Load environment-specific YAML (if exists)
	if env := k.String("app.env"); env != "" && path == DefaultFile {
		if err := loadYAML(k, fmt.Sprintf("config.%s.yaml", env)); err != nil {
			return nil, err
		}
	}

	// Load environment variables (highest priority). Only variables naming
	// a known key are picked up so CACHE_TTL_DEFAULT maps to cache.ttl.default
	// and CACHE_OPERATION_TIMEOUT to cache.operation_timeout.
	if err := k.Load(envprovider.Provider("", ".", func(s string) string {
		return known[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Cache.File == "" {
		cfg.Cache.File = path
	}

	// Store the Koanf instance for flexible access
	cfg.k = k

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadYAML(k *koanf.Koanf, path string) error {
	err := k.Load(file.Provider(path), yaml.Parser())
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

// envKeys maps environment variable names to the config keys they override.
func envKeys(k *koanf.Koanf) map[string]string {
	keys := k.Keys()
	known := make(map[string]string, len(keys))
	for _, key := range keys {
		known[envName(key)] = key
	}
	return known
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"app.name":    "tunecache",
		"app.version": "v1.0.0",
		"app.env":     EnvDevelopment,

		"server.host":             "0.0.0.0",
		"server.port":             8080,
		"server.timeout.read":     "15s",
		"server.timeout.write":    "30s",
		"server.timeout.request":  "10s",
		"server.timeout.shutdown": "10s",

		"log.level":  "info",
		"log.pretty": false,

		"cache.enabled":                   true,
		"cache.file":                      "",
		"cache.ttl.default":               "600s",
		"cache.ttl.recommended":           "1800s",
		"cache.operation_timeout":         "250ms",
		"cache.breaker.failures":          5,
		"cache.breaker.open_timeout":      "30s",
		"cache.invalidation.async":        true,
		"cache.invalidation.workers":      4,
		"cache.invalidation.queue":        256,
		"cache.invalidation.timeout":      "5s",
		"cache.invalidation.concurrency":  8,
		"cache.redis.host":                "",
		"cache.redis.port":                6379,
		"cache.redis.username":            "",
		"cache.redis.password":            "",
		"cache.redis.database":            0,
		"cache.redis.pool_size":           10,
		"cache.redis.tls":                 false,
		"cache.redis.dial_timeout":        "5s",
		"cache.redis.read_timeout":        "3s",
		"cache.redis.write_timeout":       "3s",

		"session.ttl":             "24h",
		"session.revoke_attempts": 3,
		"session.revoke_backoff":  "50ms",

		// Database stays disabled until a host or connection string is set
		"database.host":              "",
		"database.port":              5432,
		"database.database":          "",
		"database.username":          "",
		"database.password":          "",
		"database.sslmode":           "disable",
		"database.connectionstring":  "",
		"database.max_conns":         10,
		"database.conn_max_lifetime": "30m",

		"recommend.refresh_interval": "5m",
	}

	return k.Load(confmap.Provider(defaults, "."), nil)
}
