package tracking

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupTestMeterProvider(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	prev := otel.GetMeterProvider()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
		otel.SetMeterProvider(prev)
	})
	return reader
}

func durationPoints(t *testing.T, reader *sdkmetric.ManualReader) []metricdata.HistogramDataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		if sm.Scope.Name != httpMeterName {
			continue
		}
		for _, m := range sm.Metrics {
			if m.Name == metricHTTPRequestDuration {
				hist, ok := m.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				return hist.DataPoints
			}
		}
	}
	return nil
}

func attrValue(dp metricdata.HistogramDataPoint[float64], key string) (attribute.Value, bool) {
	return dp.Attributes.Value(attribute.Key(key))
}

func TestHTTPMetricsRecordsRouteAndCacheStatus(t *testing.T) {
	reader := setupTestMeterProvider(t)

	e := echo.New()
	e.Use(HTTPMetrics(nil))
	e.GET("/api/artists/:id", func(c echo.Context) error {
		c.Set(CacheStatusKey, "HIT")
		return c.String(http.StatusOK, "{}")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/artists/7", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	points := durationPoints(t, reader)
	require.Len(t, points, 1)

	route, _ := attrValue(points[0], attrHTTPRoute)
	assert.Equal(t, "/api/artists/:id", route.AsString())
	cs, ok := attrValue(points[0], attrCacheStatus)
	require.True(t, ok)
	assert.Equal(t, "HIT", cs.AsString())
	_, hasErr := attrValue(points[0], attrErrorType)
	assert.False(t, hasErr)
}

func TestHTTPMetricsClassifiesErrors(t *testing.T) {
	reader := setupTestMeterProvider(t)

	e := echo.New()
	e.Use(HTTPMetrics(nil))
	e.GET("/missing", func(c echo.Context) error {
		return c.NoContent(http.StatusNotFound)
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", http.NoBody))

	points := durationPoints(t, reader)
	require.Len(t, points, 1)
	et, ok := attrValue(points[0], attrErrorType)
	require.True(t, ok)
	assert.Equal(t, "404", et.AsString())
}

func TestHTTPMetricsSkipper(t *testing.T) {
	reader := setupTestMeterProvider(t)

	e := echo.New()
	e.Use(HTTPMetrics(func(c echo.Context) bool { return c.Request().URL.Path == "/health" }))
	e.GET("/health", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	assert.Empty(t, durationPoints(t, reader))
}

func TestClassifyHTTPError(t *testing.T) {
	assert.Equal(t, "", classifyHTTPError(http.StatusOK, nil))
	assert.Equal(t, "503", classifyHTTPError(http.StatusServiceUnavailable, nil))
	assert.Equal(t, "handler_error", classifyHTTPError(http.StatusOK, errors.New("boom")))
}
