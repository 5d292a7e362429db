package cache

import (
	"context"

	"github.com/gaborage/tunecache/cache/internal/tracking"
)

// RecordInvalidation exports one purged pattern and its deleted key count to
// the cache meter.
func RecordInvalidation(ctx context.Context, kind string, deleted int64, err error) {
	tracking.RecordInvalidation(ctx, kind, deleted, err)
}
