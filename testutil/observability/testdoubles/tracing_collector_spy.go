package testdoubles

import (
	"context"
	"sync"

	"github.com/dcbkit/tagged-eventstore-go/eventstore"
)

// SpySpanRecord is one captured span.
type SpySpanRecord struct {
	Name            string
	StartAttributes map[string]string
	Status          string
	Finished        bool
}

// TracingCollectorSpy captures tracing calls for testing.
type TracingCollectorSpy struct {
	spans []SpySpanRecord
	mu    sync.Mutex
}

// NewTracingCollectorSpy creates a spy that records every span.
func NewTracingCollectorSpy() *TracingCollectorSpy {
	return &TracingCollectorSpy{}
}

// StartSpan records a span start and returns a spy span context.
func (s *TracingCollectorSpy) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, eventstore.SpanContext) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.spans = append(s.spans, SpySpanRecord{
		Name:            name,
		StartAttributes: copyLabels(attrs),
	})

	return ctx, &spydSpanContext{spy: s, index: len(s.spans) - 1}
}

// FinishSpan records the final status of the span.
func (s *TracingCollectorSpy) FinishSpan(spanCtx eventstore.SpanContext, status string, _ map[string]string) {
	spyCtx, ok := spanCtx.(*spydSpanContext)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.spans[spyCtx.index].Status = status
	s.spans[spyCtx.index].Finished = true
}

// Spans returns a copy of all captured spans.
func (s *TracingCollectorSpy) Spans() []SpySpanRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	spans := make([]SpySpanRecord, len(s.spans))
	copy(spans, s.spans)

	return spans
}

// Reset clears all captured spans.
func (s *TracingCollectorSpy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.spans = s.spans[:0]
}

// spydSpanContext ties a handed-out span context back to its record.
type spydSpanContext struct {
	spy   *TracingCollectorSpy
	index int
}

func (c *spydSpanContext) SetStatus(status string) {
	c.spy.mu.Lock()
	defer c.spy.mu.Unlock()

	c.spy.spans[c.index].Status = status
}

func (c *spydSpanContext) AddAttribute(key, value string) {
	c.spy.mu.Lock()
	defer c.spy.mu.Unlock()

	if c.spy.spans[c.index].StartAttributes == nil {
		c.spy.spans[c.index].StartAttributes = make(map[string]string)
	}

	c.spy.spans[c.index].StartAttributes[key] = value
}
