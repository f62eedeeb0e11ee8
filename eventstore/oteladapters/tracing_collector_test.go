package oteladapters_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/dcbkit/tagged-eventstore-go/eventstore/oteladapters"
)

func Test_TracingCollector_RecordsSpans(t *testing.T) {
	ctx := context.Background()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })

	collector := oteladapters.NewTracingCollector(provider.Tracer("eventstore-test"))

	spanCtx, span := collector.StartSpan(ctx, "eventstore.append",
		map[string]string{"operation": "append", "table": "events"})
	require.NotNil(t, span)
	assert.NotEqual(t, ctx, spanCtx, "the span must be propagated through the returned context")

	span.AddAttribute("events", "3")
	collector.FinishSpan(span, "success", map[string]string{"outcome": "appended"})

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "eventstore.append", ended[0].Name())
	assert.Equal(t, codes.Ok, ended[0].Status().Code)

	attrs := make(map[string]string)
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}

	assert.Equal(t, "append", attrs["operation"])
	assert.Equal(t, "events", attrs["table"])
	assert.Equal(t, "3", attrs["events"])
	assert.Equal(t, "appended", attrs["outcome"])
}

func Test_TracingCollector_ErrorStatus(t *testing.T) {
	ctx := context.Background()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })

	collector := oteladapters.NewTracingCollector(provider.Tracer("eventstore-test"))

	_, span := collector.StartSpan(ctx, "eventstore.read", nil)
	collector.FinishSpan(span, "error", nil)

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
}
