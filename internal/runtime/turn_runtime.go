package runtime

import (
	"context"
	"sync"

	"github.com/loomhq/loomgate/internal/agent"
	"github.com/loomhq/loomgate/internal/quota"
	"github.com/loomhq/loomgate/pkg/protocol"
)

// Runner is the subset of agent.Loop the Runtime drives. Matching it
// against an interface keeps this package testable without a real
// provider/tool registry wired up.
type Runner interface {
	Run(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error)
}

// Runtime wraps an agent.Loop with the spec's per-turn channel contract:
// one TurnEvent stream per call to Stream, session-exclusive execution via
// SessionLockMap, and a CancelToken any caller can trip mid-turn.
//
// The teacher's agent.Loop reports progress through a single OnEvent
// callback fixed at construction time (LoopConfig.OnEvent); Runtime
// supplies that callback once, keyed by RunID, and fans events out to
// whichever Stream call is currently waiting on that RunID.
type Runtime struct {
	loop    Runner
	agentID string
	quotas  *quota.Tracker // nil disables quota enforcement
	locks   *SessionLockMap
	cancel  *CancelMap

	mu       sync.Mutex
	channels map[string]chan TurnEvent // runID -> event channel
}

// NewRuntime wraps loop. Construct the
// underlying agent.Loop with LoopConfig.OnEvent set to the value returned
// by Runtime.EventSink before passing it here.
func NewRuntime(loop Runner) *Runtime {
	return &Runtime{
		loop:     loop,
		locks:    NewSessionLockMap(),
		cancel:   NewCancelMap(),
		channels: make(map[string]chan TurnEvent),
	}
}

// WithQuota enables the pre-turn quota gate for this Runtime, keyed on
// agentID against tracker. Calling this is optional: a Runtime with no
// tracker never blocks a turn on quota.
func (rt *Runtime) WithQuota(agentID string, tracker *quota.Tracker) *Runtime {
	rt.agentID = agentID
	rt.quotas = tracker
	return rt
}

// EventSink returns the callback to install as agent.LoopConfig.OnEvent.
// It translates each AgentEvent into a TurnEvent delivered on the channel
// registered for that event's RunID, dropping events for a RunID with no
// active Stream call (e.g. after a send on a full/abandoned channel).
func (rt *Runtime) EventSink() func(agent.AgentEvent) {
	return func(ev agent.AgentEvent) {
		rt.mu.Lock()
		ch, ok := rt.channels[ev.RunID]
		rt.mu.Unlock()
		if !ok {
			return
		}
		if te, ok := translate(ev); ok {
			select {
			case ch <- te:
			default:
			}
		}
	}
}

func translate(ev agent.AgentEvent) (TurnEvent, bool) {
	base := TurnEvent{RunID: ev.RunID, AgentID: ev.AgentID}
	switch ev.Type {
	case protocol.AgentEventRunStarted:
		base.Kind = TurnStarted
		return base, true
	case protocol.ChatEventThinking:
		base.Kind = TurnThought
		base.Text = payloadString(ev.Payload, "content")
		return base, true
	case protocol.ChatEventChunk:
		base.Kind = TurnAssistantDelta
		base.Text = payloadString(ev.Payload, "content")
		return base, true
	case protocol.AgentEventToolCall:
		base.Kind = TurnToolCall
		base.ToolName = payloadString(ev.Payload, "name")
		base.ToolCallID = payloadString(ev.Payload, "id")
		return base, true
	case protocol.AgentEventToolResult:
		base.Kind = TurnToolResult
		base.ToolName = payloadString(ev.Payload, "name")
		base.ToolCallID = payloadString(ev.Payload, "id")
		base.IsError, _ = ev.Payload.(map[string]interface{})["is_error"].(bool)
		return base, true
	case protocol.AgentEventRunRetrying:
		base.Kind = TurnRetrying
		base.Attempt = 0 // payload carries strings (see loop.go); left to callers that need exact counts
		return base, true
	case protocol.AgentEventRunCompleted, protocol.AgentEventRunFailed:
		// terminal states are emitted directly by Stream once loop.Run returns,
		// with full RunResult/error attached; skip here to avoid duplicates.
		return TurnEvent{}, false
	default:
		return TurnEvent{}, false
	}
}

func payloadString(payload interface{}, key string) string {
	m, ok := payload.(map[string]interface{})
	if !ok {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// Stream acquires the run lock for req.SessionKey, registers a cancel
// token, and drives one turn, returning a channel of TurnEvents that is
// closed once the turn finishes (terminating in exactly one TurnFinal or
// TurnError event, or TurnStopped if Cancel stopped the turn). If the lock
// cannot be acquired, Stream returns the error and no channel.
func (rt *Runtime) Stream(ctx context.Context, req agent.RunRequest) (<-chan TurnEvent, error) {
	if rt.quotas != nil {
		if err := rt.quotas.Allow(rt.agentID); err != nil {
			return nil, err
		}
	}

	release, err := rt.locks.Acquire(ctx, req.SessionKey)
	if err != nil {
		return nil, err
	}

	ch := make(chan TurnEvent, 32)
	rt.mu.Lock()
	rt.channels[req.RunID] = ch
	rt.mu.Unlock()

	token := rt.cancel.Register(req.SessionKey)
	runCtx, stop := context.WithCancel(ctx)

	go func() {
		defer release()
		defer stop()
		defer rt.cancel.Remove(req.SessionKey)
		defer func() {
			rt.mu.Lock()
			delete(rt.channels, req.RunID)
			rt.mu.Unlock()
			close(ch)
		}()

		// Surface out-of-band cancellation (token.Cancel()) as context
		// cancellation the loop's provider/tool calls will observe.
		go func() {
			select {
			case <-runCtx.Done():
			case <-token.Done():
				stop()
			}
		}()

		result, err := rt.loop.Run(runCtx, req)
		if err != nil {
			if runCtx.Err() != nil && token.Cancelled() {
				ch <- TurnEvent{Kind: TurnStopped, RunID: req.RunID}
				return
			}
			ch <- TurnEvent{Kind: TurnError, RunID: req.RunID, Error: err}
			return
		}

		if rt.quotas != nil && result.Usage != nil {
			rt.quotas.Record(rt.agentID, uint64(result.Usage.TotalTokens), 0)
		}

		ch <- TurnEvent{
			Kind:       TurnFinal,
			RunID:      req.RunID,
			Content:    result.Content,
			Iterations: result.Iterations,
			Usage:      result.Usage,
		}
	}()

	return ch, nil
}

// Cancel requests early termination of the turn currently running for
// sessionKey. Returns false if no turn is running.
func (rt *Runtime) Cancel(sessionKey string) bool {
	return rt.cancel.Cancel(sessionKey)
}
