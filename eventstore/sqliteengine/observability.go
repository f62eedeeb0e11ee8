package sqliteengine

import (
	"context"
	"fmt"
	"time"

	"github.com/dcbkit/tagged-eventstore-go/eventstore"
)

const (
	operationRead   = "read"
	operationAppend = "append"

	spanNameRead   = "eventstore.read"
	spanNameAppend = "eventstore.append"

	labelOperation = "operation"
	labelStatus    = "status"
	labelErrorType = "error_type"

	statusSuccess  = "success"
	statusError    = "error"
	statusCanceled = "canceled"

	errorTypeBuildQuery = "build_query"
	errorTypeDatabase   = "database"
	errorTypeScan       = "scan"

	metricOperationDuration      = "eventstore_operation_duration_seconds"
	metricConditionViolations    = "eventstore_condition_violations_total"
	metricSerializationConflicts = "eventstore_serialization_conflicts_total"
)

func (es EventStore) startSpan(ctx context.Context, name, operation string) (context.Context, eventstore.SpanContext) {
	if es.tracingCollector == nil {
		return ctx, nil
	}

	attrs := map[string]string{
		labelOperation: operation,
		"table":        es.eventsTableName,
	}

	return es.tracingCollector.StartSpan(ctx, name, attrs)
}

func (es EventStore) finishSpan(span eventstore.SpanContext, status string) {
	if es.tracingCollector == nil || span == nil {
		return
	}

	es.tracingCollector.FinishSpan(span, status, nil)
}

func (es EventStore) recordSuccess(ctx context.Context, operation string, start time.Time) {
	es.recordDuration(ctx, operation, statusSuccess, time.Since(start))
}

func (es EventStore) recordCanceled(ctx context.Context, operation string, start time.Time) {
	es.recordDuration(ctx, operation, statusCanceled, time.Since(start))
}

func (es EventStore) recordFailure(ctx context.Context, operation, errorType string, start time.Time) {
	if es.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		labelOperation: operation,
		labelStatus:    statusError,
		labelErrorType: errorType,
	}

	es.recordDurationWithLabels(ctx, time.Since(start), labels)
}

func (es EventStore) recordDuration(ctx context.Context, operation, status string, duration time.Duration) {
	if es.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		labelOperation: operation,
		labelStatus:    status,
	}

	es.recordDurationWithLabels(ctx, duration, labels)
}

func (es EventStore) recordDurationWithLabels(ctx context.Context, duration time.Duration, labels map[string]string) {
	if contextual, ok := es.metricsCollector.(eventstore.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metricOperationDuration, duration, labels)

		return
	}

	es.metricsCollector.RecordDuration(metricOperationDuration, duration, labels)
}

func (es EventStore) incrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if es.metricsCollector == nil {
		return
	}

	if contextual, ok := es.metricsCollector.(eventstore.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metric, labels)

		return
	}

	es.metricsCollector.IncrementCounter(metric, labels)
}

func (es EventStore) logQuery(ctx context.Context, operation, query string) {
	es.logDebug(ctx, fmt.Sprintf("%s query: %s", operation, query))
}

func (es EventStore) logOperation(ctx context.Context, operation string, eventCount int, duration time.Duration) {
	es.logDebug(ctx, fmt.Sprintf("%s completed, %d event(s) in %s", operation, eventCount, duration))
}

func (es EventStore) logDebug(ctx context.Context, msg string) {
	if es.contextualLogger != nil {
		es.contextualLogger.DebugContext(ctx, msg)

		return
	}

	if es.logger != nil {
		es.logger.Debug(msg)
	}
}

func (es EventStore) logWarn(ctx context.Context, msg string) {
	if es.contextualLogger != nil {
		es.contextualLogger.WarnContext(ctx, msg)

		return
	}

	if es.logger != nil {
		es.logger.Warn(msg)
	}
}
