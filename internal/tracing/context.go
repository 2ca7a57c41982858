package tracing

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const (
	ctxKeyTraceID ctxKey = iota
	ctxKeyCollector
	ctxKeyParentSpanID
	ctxKeyAnnounceParentSpanID
	ctxKeyDelegateParentTraceID
)

// WithTraceID attaches the active trace's ID to ctx.
func WithTraceID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxKeyTraceID, id)
}

// TraceIDFromContext returns uuid.Nil if no trace is active.
func TraceIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ctxKeyTraceID).(uuid.UUID)
	return id
}

// WithCollector attaches the Collector spans should be emitted through.
func WithCollector(ctx context.Context, c *Collector) context.Context {
	return context.WithValue(ctx, ctxKeyCollector, c)
}

// CollectorFromContext returns nil if tracing isn't active for this run.
func CollectorFromContext(ctx context.Context) *Collector {
	c, _ := ctx.Value(ctxKeyCollector).(*Collector)
	return c
}

// WithParentSpanID attaches the span ID that subsequently emitted spans
// (LLM calls, tool calls) should nest under.
func WithParentSpanID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxKeyParentSpanID, id)
}

// ParentSpanIDFromContext returns uuid.Nil if no parent span is set.
func ParentSpanIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ctxKeyParentSpanID).(uuid.UUID)
	return id
}

// WithAnnounceParentSpanID marks this run as an announce/subagent run
// nested under a parent root span belonging to a different trace.
func WithAnnounceParentSpanID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxKeyAnnounceParentSpanID, id)
}

// AnnounceParentSpanIDFromContext returns uuid.Nil outside an announce run.
func AnnounceParentSpanIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ctxKeyAnnounceParentSpanID).(uuid.UUID)
	return id
}

// WithDelegateParentTraceID marks the originating trace of a delegate-tool
// invocation, so the delegated run's own trace can link back to it.
func WithDelegateParentTraceID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxKeyDelegateParentTraceID, id)
}

// DelegateParentTraceIDFromContext returns uuid.Nil outside a delegated run.
func DelegateParentTraceIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ctxKeyDelegateParentTraceID).(uuid.UUID)
	return id
}
