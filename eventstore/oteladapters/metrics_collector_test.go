package oteladapters_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/dcbkit/tagged-eventstore-go/eventstore/oteladapters"
)

func Test_MetricsCollector_RecordsThroughOTelInstruments(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })

	collector := oteladapters.NewMetricsCollector(provider.Meter("eventstore-test"))

	collector.RecordDurationContext(ctx, "eventstore_operation_duration_seconds", 25*time.Millisecond,
		map[string]string{"operation": "append", "status": "success"})
	collector.IncrementCounter("eventstore_condition_violations_total",
		map[string]string{"operation": "append"})
	collector.RecordValue("eventstore_open_connections", 3, nil)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	names := make(map[string]bool)
	for _, m := range rm.ScopeMetrics[0].Metrics {
		names[m.Name] = true
	}

	assert.True(t, names["eventstore_operation_duration_seconds"])
	assert.True(t, names["eventstore_condition_violations_total"])
	assert.True(t, names["eventstore_open_connections"])
}

func Test_MetricsCollector_ReusesInstrumentsPerMetricName(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })

	collector := oteladapters.NewMetricsCollector(provider.Meter("eventstore-test"))

	for i := 0; i < 5; i++ {
		collector.IncrementCounterContext(ctx, "eventstore_events_appended_total",
			map[string]string{"operation": "append"})
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)

	sum, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(5), sum.DataPoints[0].Value)
}

func Test_MetricsCollector_IsSafeForConcurrentFirstUse(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })

	collector := oteladapters.NewMetricsCollector(provider.Meter("eventstore-test"))

	// One collector is shared by every store operation; the lazily created
	// instruments must survive concurrent first-time recording.
	const recorders = 8

	var wg sync.WaitGroup
	wg.Add(recorders)

	start := make(chan struct{})

	for i := 0; i < recorders; i++ {
		go func() {
			defer wg.Done()
			<-start

			collector.RecordDurationContext(ctx, "eventstore_operation_duration_seconds", time.Millisecond,
				map[string]string{"operation": "append", "status": "success"})
			collector.IncrementCounterContext(ctx, "eventstore_condition_violations_total",
				map[string]string{"operation": "append"})
			collector.RecordValueContext(ctx, "eventstore_open_connections", 1, nil)
		}()
	}

	close(start)
	wg.Wait()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	counts := make(map[string]int64)

	for _, m := range rm.ScopeMetrics[0].Metrics {
		if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
			for _, dp := range sum.DataPoints {
				counts[m.Name] += dp.Value
			}
		}
	}

	assert.Equal(t, int64(recorders), counts["eventstore_condition_violations_total"])
}
