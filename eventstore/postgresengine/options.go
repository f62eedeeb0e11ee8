package postgresengine

import (
	"github.com/dcbkit/tagged-eventstore-go/eventstore"
)

// Option configures an EventStore during construction.
type Option func(*EventStore) error

// WithTableName sets a custom events table name.
func WithTableName(tableName string) Option {
	return func(es *EventStore) error {
		if tableName == "" {
			return eventstore.ErrEmptyEventsTableName
		}

		es.eventsTableName = tableName

		return nil
	}
}

// WithLogger sets a logger for operational messages and query logging.
func WithLogger(logger eventstore.Logger) Option {
	return func(es *EventStore) error {
		es.logger = logger

		return nil
	}
}

// WithContextualLogger sets a context-aware logger. When both a plain and
// a contextual logger are configured, the contextual one wins for calls
// that carry a context.
func WithContextualLogger(logger eventstore.ContextualLogger) Option {
	return func(es *EventStore) error {
		es.contextualLogger = logger

		return nil
	}
}

// WithMetrics sets a metrics collector for operation durations and counters.
func WithMetrics(collector eventstore.MetricsCollector) Option {
	return func(es *EventStore) error {
		es.metricsCollector = collector

		return nil
	}
}

// WithTracing sets a tracing collector for operation spans.
func WithTracing(collector eventstore.TracingCollector) Option {
	return func(es *EventStore) error {
		es.tracingCollector = collector

		return nil
	}
}
