package app

import (
	"fmt"

	"github.com/gaborage/tunecache/cache"
	"github.com/gaborage/tunecache/cache/redis"
	"github.com/gaborage/tunecache/catalog"
	"github.com/gaborage/tunecache/config"
	"github.com/gaborage/tunecache/database"
	"github.com/gaborage/tunecache/database/postgresql"
	"github.com/gaborage/tunecache/logger"
)

// Options contains optional dependencies for creating an App instance
type Options struct {
	ConfigLoader      func() (*config.Config, error)
	Logger            logger.Logger
	StoreConnector    StoreConnector
	DatabaseConnector DatabaseConnector
	// Repository replaces the database-backed catalog entirely.
	Repository    catalog.Repository
	SignalHandler SignalHandler
}

func (o *Options) configLoader() func() (*config.Config, error) {
	if o != nil && o.ConfigLoader != nil {
		return o.ConfigLoader
	}
	return config.Load
}

func (o *Options) storeConnector() StoreConnector {
	if o != nil && o.StoreConnector != nil {
		return o.StoreConnector
	}
	return connectRedis
}

func (o *Options) databaseConnector() DatabaseConnector {
	if o != nil && o.DatabaseConnector != nil {
		return o.DatabaseConnector
	}
	return connectPostgres
}

func (o *Options) signalHandler() SignalHandler {
	if o != nil && o.SignalHandler != nil {
		return o.SignalHandler
	}
	return osSignalHandler{}
}

// redisConfig maps the cache.redis section onto the client configuration.
func redisConfig(cfg *config.RedisConfig) *redis.Config {
	rc := redis.DefaultConfig()
	rc.Host = cfg.Host
	if cfg.Port > 0 {
		rc.Port = cfg.Port
	}
	rc.Username = cfg.Username
	rc.Password = cfg.Password
	rc.Database = cfg.Database
	rc.TLS = cfg.TLS
	if cfg.PoolSize > 0 {
		rc.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		rc.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		rc.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		rc.WriteTimeout = cfg.WriteTimeout
	}
	return rc
}

func connectRedis(cfg *config.RedisConfig, log logger.Logger) (cache.Store, error) {
	rc := redisConfig(cfg)
	client, err := redis.NewClient(rc)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("address", rc.Address()).
		Int("database", rc.Database).
		Bool("tls", rc.TLS).
		Msg("Connected to Redis")
	return client, nil
}

func connectPostgres(cfg *config.DatabaseConfig, log logger.Logger) (database.Interface, error) {
	conn, err := postgresql.NewConnection(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("connect postgresql: %w", err)
	}
	return conn, nil
}

func (o *Options) logger(cfg *config.Config) logger.Logger {
	if o != nil && o.Logger != nil {
		return o.Logger
	}
	return logger.New(cfg.Log.Level, cfg.Log.Pretty)
}
