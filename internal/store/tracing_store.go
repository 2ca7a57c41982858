package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SpanType names the kind of work a SpanData row records.
type SpanType string

const (
	SpanTypeAgent    SpanType = "agent"
	SpanTypeLLMCall  SpanType = "llm_call"
	SpanTypeToolCall SpanType = "tool_call"
)

// SpanStatus is the terminal state of a span.
type SpanStatus string

const (
	SpanStatusCompleted SpanStatus = "completed"
	SpanStatusError     SpanStatus = "error"
)

// SpanLevel mirrors the managed tracing UI's severity filter.
type SpanLevel string

const (
	SpanLevelDefault SpanLevel = "DEFAULT"
	SpanLevelWarning SpanLevel = "WARNING"
	SpanLevelError   SpanLevel = "ERROR"
)

// SpanData is one row of the trace tree: an agent run, an LLM call, or a
// tool call, each optionally parented under another span in the same trace.
type SpanData struct {
	ID           uuid.UUID
	TraceID      uuid.UUID
	ParentSpanID *uuid.UUID
	AgentID      *uuid.UUID
	SpanType     SpanType
	Name         string
	StartTime    time.Time
	EndTime      *time.Time
	DurationMS   int
	Status       SpanStatus
	Level        SpanLevel
	Model        string
	Provider     string
	ToolName     string
	ToolCallID   string
	InputPreview  string
	OutputPreview string
	FinishReason  string
	InputTokens   int
	OutputTokens  int
	Error         string
	Metadata      json.RawMessage
	CreatedAt     time.Time
}

// TracingStore persists spans for the managed-mode trace explorer. Nil in
// standalone mode, where tracing.Collector falls back to structured log
// events and/or an OTLP exporter instead of a queryable store.
type TracingStore interface {
	traceWriter
	SaveSpan(ctx context.Context, span SpanData) error
	SpansByTrace(ctx context.Context, traceID uuid.UUID) ([]SpanData, error)
}
