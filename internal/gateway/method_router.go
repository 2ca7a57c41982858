package gateway

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/loomhq/loomgate/internal/agent"
	"github.com/loomhq/loomgate/internal/runtime"
	"github.com/loomhq/loomgate/pkg/protocol"
)

var (
	errNotAuthenticated = fmt.Errorf("not authenticated: send %q first", protocol.MethodConnect)
	errRateLimited      = fmt.Errorf("rate limit exceeded")
)

// MethodHandler answers one RPC call for an already-authenticated client.
type MethodHandler func(ctx context.Context, c *Client, params json.RawMessage) (interface{}, error)

// MethodRouter dispatches incoming RequestFrames to registered handlers,
// enforcing the server's permission policy before the handler runs.
type MethodRouter struct {
	server   *Server
	mu       sync.RWMutex
	handlers map[string]MethodHandler
}

// NewMethodRouter builds a MethodRouter wired to s, with the built-in
// connect/health/status/chat methods already registered.
func NewMethodRouter(s *Server) *MethodRouter {
	r := &MethodRouter{server: s, handlers: make(map[string]MethodHandler)}
	r.registerBuiltins()
	return r
}

// Register adds or replaces the handler for method.
func (r *MethodRouter) Register(method string, h MethodHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = h
}

// Dispatch authorizes and runs the handler for req, returning the
// ResponseFrame to write back to the caller.
func (r *MethodRouter) Dispatch(ctx context.Context, c *Client, req protocol.RequestFrame) *protocol.ResponseFrame {
	r.mu.RLock()
	h, ok := r.handlers[req.Method]
	r.mu.RUnlock()
	if !ok {
		return protocol.NewErrorResponse(req.ID, fmt.Errorf("unknown method %q", req.Method))
	}

	if req.Method != protocol.MethodConnect && r.server.policyEngine != nil {
		if err := r.server.policyEngine.Authorize(req.Method, c.userID); err != nil {
			return protocol.NewErrorResponse(req.ID, err)
		}
	}

	payload, err := h(ctx, c, req.Params)
	if err != nil {
		return protocol.NewErrorResponse(req.ID, err)
	}
	return protocol.NewResponse(req.ID, payload)
}

func (r *MethodRouter) registerBuiltins() {
	r.Register(protocol.MethodConnect, r.handleConnect)
	r.Register(protocol.MethodHealth, r.handleHealth)
	r.Register(protocol.MethodStatus, r.handleStatus)
	r.Register(protocol.MethodChatSend, r.handleChatSend)
	r.Register(protocol.MethodChatAbort, r.handleChatAbort)
	r.Register(protocol.MethodAgentsList, r.handleAgentsList)
}

type connectParams struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}

func (r *MethodRouter) handleConnect(_ context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	var p connectParams
	_ = json.Unmarshal(params, &p)

	token := r.server.cfg.Gateway.Token
	if token != "" {
		given := sha256.Sum256([]byte(p.Token))
		want := sha256.Sum256([]byte(token))
		if subtle.ConstantTimeCompare(given[:], want[:]) != 1 {
			return nil, fmt.Errorf("invalid token")
		}
	}

	c.authed = true
	c.userID = p.UserID
	return map[string]interface{}{
		"protocolVersion": protocol.ProtocolVersion,
		"clientId":        c.id,
	}, nil
}

func (r *MethodRouter) handleHealth(context.Context, *Client, json.RawMessage) (interface{}, error) {
	return map[string]interface{}{"status": "ok"}, nil
}

func (r *MethodRouter) handleStatus(context.Context, *Client, json.RawMessage) (interface{}, error) {
	return map[string]interface{}{
		"agents":   r.server.agents.List(),
		"protocol": protocol.ProtocolVersion,
	}, nil
}

type chatSendParams struct {
	AgentID    string `json:"agentId"`
	SessionKey string `json:"sessionKey"`
	Message    string `json:"message"`
	Stream     bool   `json:"stream"`
}

// handleChatSend drives one turn through the agent's runtime.Runtime when
// one is registered (giving the WS path the same session-lock/cancel/quota
// behavior as channel-originated turns), falling back to a direct Loop.Run
// for agents that have no runtime wired.
func (r *MethodRouter) handleChatSend(ctx context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	var p chatSendParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.AgentID == "" {
		p.AgentID = "default"
	}
	if p.Message == "" {
		return nil, fmt.Errorf("message is required")
	}

	req := agent.RunRequest{
		SessionKey: p.SessionKey,
		Message:    p.Message,
		RunID:      uuid.NewString(),
		UserID:     c.userID,
		Stream:     p.Stream,
	}

	if rt := r.server.Runtime(p.AgentID); rt != nil {
		events, err := rt.Stream(ctx, req)
		if err != nil {
			return nil, err
		}
		var final *runtime.TurnEvent
		for ev := range events {
			ev := ev
			switch ev.Kind {
			case runtime.TurnFinal, runtime.TurnError, runtime.TurnStopped:
				final = &ev
			default:
				if p.Stream {
					c.SendEvent(*translateTurnEvent(ev))
				}
			}
		}
		if final == nil {
			return nil, fmt.Errorf("turn ended without a result")
		}
		switch final.Kind {
		case runtime.TurnError:
			return nil, final.Error
		case runtime.TurnStopped:
			return nil, fmt.Errorf("turn cancelled")
		default:
			return map[string]interface{}{"content": final.Content, "runId": req.RunID}, nil
		}
	}

	loop, err := r.server.agents.Get(p.AgentID)
	if err != nil {
		return nil, err
	}
	result, err := loop.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"content": result.Content, "runId": result.RunID}, nil
}

type chatAbortParams struct {
	AgentID    string `json:"agentId"`
	SessionKey string `json:"sessionKey"`
}

func (r *MethodRouter) handleChatAbort(_ context.Context, _ *Client, params json.RawMessage) (interface{}, error) {
	var p chatAbortParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.AgentID == "" {
		p.AgentID = "default"
	}
	rt := r.server.Runtime(p.AgentID)
	if rt == nil {
		return nil, fmt.Errorf("agent %q has no cancellable runtime", p.AgentID)
	}
	cancelled := rt.Cancel(p.SessionKey)
	return map[string]interface{}{"cancelled": cancelled}, nil
}

func (r *MethodRouter) handleAgentsList(context.Context, *Client, json.RawMessage) (interface{}, error) {
	return map[string]interface{}{"agents": r.server.agents.List()}, nil
}

func translateTurnEvent(ev runtime.TurnEvent) *protocol.EventFrame {
	switch ev.Kind {
	case runtime.TurnAssistantDelta:
		return protocol.NewEvent(protocol.EventChat, map[string]interface{}{
			"type":    protocol.ChatEventChunk,
			"content": ev.Text,
		})
	case runtime.TurnThought:
		return protocol.NewEvent(protocol.EventChat, map[string]interface{}{
			"type":    protocol.ChatEventThinking,
			"content": ev.Text,
		})
	case runtime.TurnToolCall:
		return protocol.NewEvent(protocol.EventAgent, map[string]interface{}{
			"type":    protocol.AgentEventToolCall,
			"payload": map[string]interface{}{"name": ev.ToolName, "id": ev.ToolCallID},
		})
	case runtime.TurnToolResult:
		return protocol.NewEvent(protocol.EventAgent, map[string]interface{}{
			"type":    protocol.AgentEventToolResult,
			"payload": map[string]interface{}{"name": ev.ToolName, "id": ev.ToolCallID, "is_error": ev.IsError},
		})
	case runtime.TurnStarted:
		return protocol.NewEvent(protocol.EventAgent, map[string]interface{}{"type": protocol.AgentEventRunStarted})
	default:
		return protocol.NewEvent(protocol.EventAgent, map[string]interface{}{"type": "unknown"})
	}
}
