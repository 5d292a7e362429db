package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Environment constants
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

var logLevels = []string{"trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled"}

// Validate checks cfg and returns the first problem found.
func Validate(cfg *Config) error {
	if err := validateApp(&cfg.App); err != nil {
		return fmt.Errorf("app config: %w", err)
	}

	if err := validateServer(&cfg.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateLog(&cfg.Log); err != nil {
		return fmt.Errorf("log config: %w", err)
	}

	if err := validateCache(&cfg.Cache); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}

	if err := validateSession(&cfg.Session); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := validateDatabase(&cfg.Database); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	return positive("recommend.refresh_interval", cfg.Recommend.RefreshInterval)
}

func validateApp(cfg *AppConfig) error {
	if cfg.Name == "" {
		return NewMissingFieldError("app.name")
	}

	validEnvs := []string{EnvDevelopment, EnvStaging, EnvProduction}
	if !slices.Contains(validEnvs, cfg.Env) {
		return NewInvalidFieldError("app.env", fmt.Sprintf("unknown environment %q", cfg.Env), validEnvs)
	}

	return nil
}

func validateServer(cfg *ServerConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return NewInvalidFieldError("server.port", fmt.Sprintf("invalid port %d (must be 1-65535)", cfg.Port), nil)
	}

	for field, d := range map[string]time.Duration{
		"server.timeout.read":     cfg.Timeout.Read,
		"server.timeout.write":    cfg.Timeout.Write,
		"server.timeout.request":  cfg.Timeout.Request,
		"server.timeout.shutdown": cfg.Timeout.Shutdown,
	} {
		if err := positive(field, d); err != nil {
			return err
		}
	}

	return nil
}

func validateLog(cfg *LogConfig) error {
	if !slices.Contains(logLevels, strings.ToLower(cfg.Level)) {
		return NewInvalidFieldError("log.level", fmt.Sprintf("unknown level %q", cfg.Level), logLevels)
	}
	return nil
}

// validateCache does not require a store host: caching degrades to disabled.
func validateCache(cfg *CacheConfig) error {
	if err := positive("cache.ttl.default", cfg.TTL.Default); err != nil {
		return err
	}
	if err := positive("cache.ttl.recommended", cfg.TTL.Recommended); err != nil {
		return err
	}
	if err := positive("cache.operation_timeout", cfg.OperationTimeout); err != nil {
		return err
	}
	if cfg.Breaker.Failures < 0 {
		return NewInvalidFieldError("cache.breaker.failures", "must not be negative", nil)
	}

	inv := cfg.Invalidation
	if inv.Workers <= 0 {
		return NewInvalidFieldError("cache.invalidation.workers", "must be positive", nil)
	}
	if inv.Queue < 0 {
		return NewInvalidFieldError("cache.invalidation.queue", "must not be negative", nil)
	}
	if inv.Concurrency <= 0 {
		return NewInvalidFieldError("cache.invalidation.concurrency", "must be positive", nil)
	}
	if err := positive("cache.invalidation.timeout", inv.Timeout); err != nil {
		return err
	}

	if cfg.Redis.IsConfigured() && (cfg.Redis.Port <= 0 || cfg.Redis.Port > 65535) {
		return NewInvalidFieldError("cache.redis.port", fmt.Sprintf("invalid port %d (must be 1-65535)", cfg.Redis.Port), nil)
	}
	if cfg.Redis.Database < 0 {
		return NewInvalidFieldError("cache.redis.database", "must not be negative", nil)
	}

	return nil
}

func validateSession(cfg *SessionConfig) error {
	if err := positive("session.ttl", cfg.TTL); err != nil {
		return err
	}
	if cfg.RevokeAttempts <= 0 {
		return NewInvalidFieldError("session.revoke_attempts", "must be positive", nil)
	}
	if cfg.RevokeBackoff < 0 {
		return NewInvalidFieldError("session.revoke_backoff", "must not be negative", nil)
	}
	return nil
}

func validateDatabase(cfg *DatabaseConfig) error {
	if !cfg.IsConfigured() || cfg.ConnectionString != "" {
		return nil
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return NewInvalidFieldError("database.port", fmt.Sprintf("invalid port %d (must be 1-65535)", cfg.Port), nil)
	}
	if cfg.Database == "" {
		return NewMissingFieldError("database.database")
	}
	if cfg.Username == "" {
		return NewMissingFieldError("database.username")
	}
	return nil
}

func positive(field string, d time.Duration) error {
	if d <= 0 {
		return NewInvalidFieldError(field, "must be a positive duration", nil)
	}
	return nil
}
