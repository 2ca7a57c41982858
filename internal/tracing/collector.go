package tracing

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/loomhq/loomgate/internal/store"
)

const spanQueueDepth = 256

// Collector buffers trace/span writes off the agent loop's hot path and
// drains them into a TracingStore (managed mode's Postgres-backed trace
// explorer) from a single background worker. Spans are dropped, not
// blocked on, when the queue is full — a slow or down tracing backend must
// never stall a turn.
type Collector struct {
	store   store.TracingStore
	verbose bool

	spans  chan store.SpanData
	traces chan traceOp
	stop   chan struct{}
	done   chan struct{}
}

type traceOpKind int

const (
	traceOpCreate traceOpKind = iota
	traceOpFinish
)

type traceOp struct {
	kind          traceOpKind
	trace         *store.TraceData
	id            uuid.UUID
	status        store.TraceStatus
	errMsg        string
	outputPreview string
}

// NewCollector wraps backing, a managed-mode TracingStore. Pass a nil
// backing only via guarded call sites (cmd/gateway.go checks
// pgStores.Tracing != nil before calling this).
func NewCollector(backing store.TracingStore) *Collector {
	v := os.Getenv("GOCLAW_TRACE_VERBOSE")
	return &Collector{
		store:   backing,
		verbose: v == "true" || v == "1",
		spans:   make(chan store.SpanData, spanQueueDepth),
		traces:  make(chan traceOp, spanQueueDepth),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Verbose reports whether full message/output bodies should be captured in
// span previews instead of the default 500-char summaries.
func (c *Collector) Verbose() bool { return c.verbose }

// Start launches the background drain worker.
func (c *Collector) Start() {
	go c.run()
}

// Stop signals the drain worker to exit after flushing queued writes.
func (c *Collector) Stop() {
	close(c.stop)
	<-c.done
}

func (c *Collector) run() {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			c.drainRemaining()
			return
		case span := <-c.spans:
			c.writeSpan(span)
		case op := <-c.traces:
			c.writeTraceOp(op)
		}
	}
}

func (c *Collector) drainRemaining() {
	for {
		select {
		case span := <-c.spans:
			c.writeSpan(span)
		case op := <-c.traces:
			c.writeTraceOp(op)
		default:
			return
		}
	}
}

func (c *Collector) writeSpan(span store.SpanData) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.SaveSpan(ctx, span); err != nil {
		slog.Warn("tracing: failed to save span", "span_type", span.SpanType, "error", err)
	}
}

func (c *Collector) writeTraceOp(op traceOp) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	switch op.kind {
	case traceOpCreate:
		if err := c.store.CreateTrace(ctx, op.trace); err != nil {
			slog.Warn("tracing: failed to create trace", "error", err)
		}
	case traceOpFinish:
		if err := c.store.FinishTrace(ctx, op.id, op.status, op.errMsg, op.outputPreview); err != nil {
			slog.Warn("tracing: failed to finish trace", "error", err)
		}
	}
}

// CreateTrace enqueues a trace row write, synchronously validating trace
// before handing it to the worker so callers still see a doomed write.
func (c *Collector) CreateTrace(ctx context.Context, trace *store.TraceData) error {
	if trace == nil || trace.ID == uuid.Nil {
		return nil
	}
	select {
	case c.traces <- traceOp{kind: traceOpCreate, trace: trace}:
	default:
		slog.Warn("tracing: trace queue full, dropping CreateTrace", "trace_id", trace.ID)
	}
	return nil
}

// FinishTrace enqueues the terminal trace update.
func (c *Collector) FinishTrace(ctx context.Context, id uuid.UUID, status store.TraceStatus, errMsg, outputPreview string) error {
	if id == uuid.Nil {
		return nil
	}
	select {
	case c.traces <- traceOp{kind: traceOpFinish, id: id, status: status, errMsg: errMsg, outputPreview: outputPreview}:
	default:
		slog.Warn("tracing: trace queue full, dropping FinishTrace", "trace_id", id)
	}
	return nil
}

// EmitSpan enqueues span for async persistence.
func (c *Collector) EmitSpan(span store.SpanData) {
	if span.ID == uuid.Nil {
		span.ID = store.GenNewID()
	}
	select {
	case c.spans <- span:
	default:
		slog.Warn("tracing: span queue full, dropping span", "span_type", span.SpanType, "name", span.Name)
	}
}
