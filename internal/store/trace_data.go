package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TraceStatus is the lifecycle state of a TraceData row.
type TraceStatus string

const (
	TraceStatusRunning   TraceStatus = "running"
	TraceStatusCompleted TraceStatus = "completed"
	TraceStatusError     TraceStatus = "error"
	TraceStatusCancelled TraceStatus = "cancelled"
)

// TraceData is the root record of one agent run: one per top-level Run call,
// parenting every SpanData emitted during that run (and, for delegated
// runs, linking to the trace that spawned it via ParentTraceID).
type TraceData struct {
	ID            uuid.UUID
	ParentTraceID *uuid.UUID
	RunID         string
	SessionKey    string
	UserID        string
	Channel       string
	AgentID       *uuid.UUID
	Name          string
	InputPreview  string
	OutputPreview string
	Status        TraceStatus
	Error         string
	StartTime     time.Time
	EndTime       *time.Time
	Tags          []string
	CreatedAt     time.Time
}

// TracingStore additionally owns the trace rows these spans belong to.
type traceWriter interface {
	CreateTrace(ctx context.Context, trace *TraceData) error
	FinishTrace(ctx context.Context, id uuid.UUID, status TraceStatus, errMsg, outputPreview string) error
}
