package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupTestMeterProvider(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	ResetForTesting()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
		ResetForTesting()
	})

	return reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		if sm.Scope.Name != cacheMeterName {
			continue
		}
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum for %s", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRecordOperationDuration(t *testing.T) {
	reader := setupTestMeterProvider(t)

	RecordOperation(context.Background(), OpScan, 3*time.Millisecond, false, nil, "0")

	metrics := collect(t, reader)
	m, ok := metrics[metricOperationDuration]
	require.True(t, ok)
	hist, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)

	attrs := hist.DataPoints[0].Attributes
	v, ok := attrs.Value(attribute.Key(attrDBOperation))
	require.True(t, ok)
	assert.Equal(t, "scan", v.AsString())
	v, ok = attrs.Value(attribute.Key(attrDBNamespace))
	require.True(t, ok)
	assert.Equal(t, "0", v.AsString())
}

func TestRecordOperationHitMiss(t *testing.T) {
	reader := setupTestMeterProvider(t)
	ctx := context.Background()

	RecordOperation(ctx, OpGet, time.Millisecond, true, nil, "")
	RecordOperation(ctx, OpGet, time.Millisecond, true, nil, "")
	RecordOperation(ctx, OpGet, time.Millisecond, false, nil, "")
	RecordOperation(ctx, OpSet, time.Millisecond, false, nil, "")

	metrics := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, metrics[metricCacheHit]))
	assert.Equal(t, int64(1), sumOf(t, metrics[metricCacheMiss]), "set must not count as a miss")
}

func TestRecordInvalidation(t *testing.T) {
	reader := setupTestMeterProvider(t)
	ctx := context.Background()

	RecordInvalidation(ctx, "artist", 4, nil)
	RecordInvalidation(ctx, "artist", 0, nil)
	RecordInvalidation(ctx, "track", 0, errors.New("connection refused"))

	metrics := collect(t, reader)
	assert.Equal(t, int64(3), sumOf(t, metrics[metricInvalidationRuns]))
	assert.Equal(t, int64(4), sumOf(t, metrics[metricInvalidatedKeys]))
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{context.DeadlineExceeded, "timeout"},
		{context.Canceled, "canceled"},
		{errors.New("dial tcp: connection refused"), "connection_error"},
		{errors.New("i/o timeout"), "timeout"},
		{errors.New("redis: client is closed"), "closed"},
		{errors.New("WRONGTYPE"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyError(tt.err), tt.err.Error())
	}
}

func TestIsInitialized(t *testing.T) {
	setupTestMeterProvider(t)
	assert.False(t, IsInitialized())
	RecordOperation(context.Background(), OpHealth, time.Millisecond, false, nil, "")
	assert.True(t, IsInitialized())
}
