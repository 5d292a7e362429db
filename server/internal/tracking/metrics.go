// Package tracking records HTTP server metrics through the OpenTelemetry API.
package tracking

import (
	"context"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	httpMeterName = "tunecache/http-server"

	metricHTTPRequestDuration = "http.server.request.duration" // seconds
	metricHTTPActiveRequests  = "http.server.active_requests"

	attrHTTPRequestMethod  = "http.request.method"
	attrHTTPResponseStatus = "http.response.status_code"
	attrHTTPRoute          = "http.route"
	attrErrorType          = "error.type"
	attrCacheStatus        = "cache.status"

	// CacheStatusKey is the echo context key the cache middleware stores
	// HIT, MISS or BYPASS under.
	CacheStatusKey = "cache.status"
)

var httpDurationBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10,
}

// instruments is nil-safe: an instrument that failed to register is skipped.
type instruments struct {
	duration metric.Float64Histogram
	active   metric.Int64UpDownCounter
}

func newInstruments(m metric.Meter) instruments {
	var in instruments
	in.duration, _ = m.Float64Histogram(metricHTTPRequestDuration,
		metric.WithDescription("Duration of HTTP server requests"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(httpDurationBuckets...),
	)
	in.active, _ = m.Int64UpDownCounter(metricHTTPActiveRequests,
		metric.WithDescription("Number of in-flight HTTP server requests"),
		metric.WithUnit("{request}"),
	)
	return in
}

func (in instruments) addActive(ctx context.Context, delta int64, method attribute.KeyValue) {
	if in.active != nil {
		in.active.Add(ctx, delta, metric.WithAttributes(method))
	}
}

func (in instruments) record(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if in.duration != nil {
		in.duration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
	}
}

// HTTPMetrics returns middleware recording request duration and in-flight
// requests against the global meter provider at the time it is called.
// Durations carry the route and status, plus the cache status on cacheable routes.
func HTTPMetrics(skip func(c echo.Context) bool) echo.MiddlewareFunc {
	in := newInstruments(otel.Meter(httpMeterName))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skip != nil && skip(c) {
				return next(c)
			}

			ctx := c.Request().Context()
			method := attribute.String(attrHTTPRequestMethod, c.Request().Method)
			in.addActive(ctx, 1, method)
			defer in.addActive(ctx, -1, method)

			start := time.Now()
			err := next(c)
			in.record(ctx, time.Since(start), durationAttributes(c, method, err))
			return err
		}
	}
}

func durationAttributes(c echo.Context, method attribute.KeyValue, err error) []attribute.KeyValue {
	route := c.Path()
	if route == "" {
		route = "unknown"
	}
	status := c.Response().Status

	attrs := []attribute.KeyValue{
		method,
		attribute.Int(attrHTTPResponseStatus, status),
		attribute.String(attrHTTPRoute, route),
	}
	if cs, ok := c.Get(CacheStatusKey).(string); ok && cs != "" {
		attrs = append(attrs, attribute.String(attrCacheStatus, cs))
	}
	if errorType := classifyHTTPError(status, err); errorType != "" {
		attrs = append(attrs, attribute.String(attrErrorType, errorType))
	}
	return attrs
}

func classifyHTTPError(status int, err error) string {
	switch {
	case status >= 400:
		return strconv.Itoa(status)
	case err != nil:
		return "handler_error"
	default:
		return ""
	}
}
