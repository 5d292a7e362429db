package app

import (
	"context"
	"errors"

	"github.com/gaborage/tunecache/cache"
	"github.com/gaborage/tunecache/database"
	"github.com/gaborage/tunecache/server"
)

const disabledStatus = "disabled"

// cacheHealth reports the store's PING and the live toggle. Running without
// a store is reported as disabled rather than down.
func cacheHealth(reader *cache.Reader, flag cache.FlagSource) server.HealthFunc {
	return func(ctx context.Context) (map[string]any, error) {
		details := map[string]any{"enabled": flag.CacheEnabled()}
		err := reader.Ping(ctx)
		if errors.Is(err, cache.ErrDisabled) {
			details["status"] = disabledStatus
			return details, nil
		}
		if err == nil && !flag.CacheEnabled() {
			details["status"] = "bypassed"
		}
		return details, err
	}
}

func databaseHealth(db database.Interface) server.HealthFunc {
	return func(ctx context.Context) (map[string]any, error) {
		details := map[string]any{"type": db.DatabaseType()}
		if stats, err := db.Stats(); err == nil {
			details["stats"] = stats
		}
		return details, db.Health(ctx)
	}
}
