// Package tracking records OpenTelemetry metrics for store commands and
// invalidation runs. Instruments are created lazily from the global meter provider.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	cacheMeterName = "tunecache/cache"

	// Redis is a database as far as OTel semantic conventions go.
	metricOperationDuration = "db.client.operation.duration" // Histogram in seconds
	metricCacheHit          = "cache.hit"
	metricCacheMiss         = "cache.miss"
	metricInvalidatedKeys   = "cache.invalidation.keys"
	metricInvalidationRuns  = "cache.invalidation.patterns"

	attrDBSystem       = "db.system.name"
	attrDBOperation    = "db.operation.name"
	attrDBNamespace    = "db.namespace"
	attrErrorType      = "error.type"
	attrCacheHitStatus = "cache.hit"
	attrEntityKind     = "tunecache.entity.kind"
)

// Store operation names
const (
	OpGet      = "get"
	OpSet      = "set"
	OpDelete   = "del"
	OpScan     = "scan"
	OpHSet     = "hset"
	OpHGet     = "hget"
	OpHGetAll  = "hgetall"
	OpHDel     = "hdel"
	OpExpire   = "expire"
	OpHRefresh = "hrefresh"
	OpHealth   = "ping"
)

var (
	meterInitMu   sync.Mutex
	meterOnce     sync.Once
	cacheMeter    metric.Meter
	metricsInited bool

	operationDuration   metric.Float64Histogram
	hitCounter          metric.Int64Counter
	missCounter         metric.Int64Counter
	invalidatedKeys     metric.Int64Counter
	invalidatedPatterns metric.Int64Counter
)

func logMetricError(metricName string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: Failed to initialize cache metric %s: %v\n", metricName, err)
	}
}

func initCacheMeter() {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()

	if cacheMeter != nil {
		return
	}
	cacheMeter = otel.Meter(cacheMeterName)

	var err error
	operationDuration, err = cacheMeter.Float64Histogram(
		metricOperationDuration,
		metric.WithDescription("Duration of key-value store commands"),
		metric.WithUnit("s"),
	)
	logMetricError(metricOperationDuration, err)

	hitCounter, err = cacheMeter.Int64Counter(metricCacheHit,
		metric.WithDescription("Number of response cache hits"), metric.WithUnit("{hit}"))
	logMetricError(metricCacheHit, err)

	missCounter, err = cacheMeter.Int64Counter(metricCacheMiss,
		metric.WithDescription("Number of response cache misses"), metric.WithUnit("{miss}"))
	logMetricError(metricCacheMiss, err)

	invalidatedKeys, err = cacheMeter.Int64Counter(metricInvalidatedKeys,
		metric.WithDescription("Keys deleted by invalidation"), metric.WithUnit("{key}"))
	logMetricError(metricInvalidatedKeys, err)

	invalidatedPatterns, err = cacheMeter.Int64Counter(metricInvalidationRuns,
		metric.WithDescription("Patterns scanned by invalidation"), metric.WithUnit("{pattern}"))
	logMetricError(metricInvalidationRuns, err)

	metricsInited = true
}

func ensureInitialized() {
	meterOnce.Do(initCacheMeter)
}

// RecordOperation records the duration of one store command. For OpGet and
// OpHGet the hit flag also feeds the hit/miss counters. A not-found error is a
// miss, not a failure.
func RecordOperation(ctx context.Context, operation string, duration time.Duration, hit bool, err error, namespace string) {
	ensureInitialized()

	attrs := []attribute.KeyValue{
		attribute.String(attrDBSystem, "redis"),
		attribute.String(attrDBOperation, operation),
	}
	if namespace != "" {
		attrs = append(attrs, attribute.String(attrDBNamespace, namespace))
	}
	lookup := operation == OpGet || operation == OpHGet
	if lookup {
		attrs = append(attrs, attribute.Bool(attrCacheHitStatus, hit))
	}
	if err != nil {
		attrs = append(attrs, attribute.String(attrErrorType, classifyError(err)))
	}

	if operationDuration != nil {
		operationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}

	if !lookup {
		return
	}
	if hit && hitCounter != nil {
		hitCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if !hit && missCounter != nil {
		missCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordInvalidation records one scanned pattern and the keys it deleted.
func RecordInvalidation(ctx context.Context, kind string, deleted int64, err error) {
	ensureInitialized()

	attrs := []attribute.KeyValue{attribute.String(attrEntityKind, kind)}
	if err != nil {
		attrs = append(attrs, attribute.String(attrErrorType, classifyError(err)))
	}
	if invalidatedPatterns != nil {
		invalidatedPatterns.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if invalidatedKeys != nil && deleted > 0 {
		invalidatedKeys.Add(ctx, deleted, metric.WithAttributes(attrs...))
	}
}

// classifyError returns a coarse error class for the error.type attribute.
func classifyError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection"), strings.Contains(msg, "refused"):
		return "connection_error"
	case strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "closed"):
		return "closed"
	default:
		return "error"
	}
}

// IsInitialized returns true if cache metrics have been initialized.
func IsInitialized() bool {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()
	return metricsInited
}

// ResetForTesting resets the metric state for testing purposes.
func ResetForTesting() {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()

	cacheMeter = nil
	operationDuration = nil
	hitCounter = nil
	missCounter = nil
	invalidatedKeys = nil
	invalidatedPatterns = nil
	metricsInited = false
	meterOnce = sync.Once{}
}
