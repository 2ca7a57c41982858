package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ErrShutdown is returned by Client.Run when ctx is cancelled rather than
// the connection failing.
var ErrShutdown = errors.New("node: shutdown")

// ClientConfig configures a node client connection.
type ClientConfig struct {
	GatewayURL string // e.g. "ws://gateway:3210/v1/nodes/ws"
	Token      string // sent as a "token" query parameter
	Info       NodeInfo
	Backoff    ReconnectBackoff
}

// Client connects to a gateway as a node, advertising Registry's
// capabilities, and services ToolRequests against it until ctx is
// cancelled or the reconnect policy gives up.
type Client struct {
	cfg ClientConfig
	reg *Registry
}

// NewClient builds a Client that will dispatch incoming tool_requests to
// reg's handlers.
func NewClient(cfg ClientConfig, reg *Registry) *Client {
	if cfg.Backoff == (ReconnectBackoff{}) {
		cfg.Backoff = DefaultReconnectBackoff()
	}
	return &Client{cfg: cfg, reg: reg}
}

// Run connects and services requests, reconnecting with jittered
// exponential backoff on disconnect, until ctx is done or the backoff
// policy's MaxAttempts is exhausted.
func (c *Client) Run(ctx context.Context) error {
	var attempt uint32
	for {
		if ctx.Err() != nil {
			return ErrShutdown
		}

		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ErrShutdown
		}
		if err == nil {
			attempt = 0
			continue
		}

		slog.Warn("node.connection_lost", "node_id", c.cfg.Info.ID, "error", err, "attempt", attempt)
		if c.cfg.Backoff.ShouldGiveUp(attempt) {
			return fmt.Errorf("node: reconnect exhausted after %d attempts: %w", attempt, err)
		}

		delay := c.cfg.Backoff.DelayForAttempt(attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ErrShutdown
		}
		attempt++
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	url := c.cfg.GatewayURL
	if c.cfg.Token != "" {
		sep := "?"
		if containsQuery(url) {
			sep = "&"
		}
		url += sep + "token=" + c.cfg.Token
	}

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("node: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	helloPayload, _ := json.Marshal(NodeHello{Node: c.cfg.Info})
	if err := wsjson.Write(ctx, conn, Envelope{Type: MsgNodeHello, Payload: helloPayload}); err != nil {
		return fmt.Errorf("node: send hello: %w", err)
	}

	var welcome Envelope
	if err := wsjson.Read(ctx, conn, &welcome); err != nil || welcome.Type != MsgGatewayWelcome {
		return fmt.Errorf("node: handshake: expected gateway_welcome")
	}

	var writeMu sync.Mutex
	write := func(env Envelope) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return wsjson.Write(ctx, conn, env)
	}

	cancels := newCancelRegistry()

	for {
		var env Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return fmt.Errorf("node: read: %w", err)
		}

		switch env.Type {
		case MsgToolRequest:
			var req ToolRequest
			if err := json.Unmarshal(env.Payload, &req); err != nil {
				continue
			}
			go c.handleToolRequest(ctx, req, cancels, write)
		case MsgToolCancel:
			var tc ToolCancel
			if err := json.Unmarshal(env.Payload, &tc); err == nil {
				cancels.cancel(tc.RequestID)
			}
		case MsgPing:
			_ = write(Envelope{Type: MsgPong})
		}
	}
}

func (c *Client) handleToolRequest(ctx context.Context, req ToolRequest, cancels *cancelRegistry, write func(Envelope) error) {
	reqCtx, cancel := context.WithCancel(ctx)
	cancels.register(req.RequestID, cancel)
	defer cancels.remove(req.RequestID)

	resp := ToolResponse{RequestID: req.RequestID}

	handler, ok := c.reg.Lookup(req.Tool)
	if !ok {
		resp.Error = &ResponseError{Kind: ErrKindNotFound, Message: "tool not registered: " + req.Tool}
	} else {
		result, respErr := handler(reqCtx, req.Args)
		if respErr != nil {
			resp.Error = respErr
		} else {
			resp.Success = true
			resp.Result = result
		}
	}

	payload, _ := json.Marshal(resp)
	_ = write(Envelope{Type: MsgToolResponse, Payload: payload})
}

func containsQuery(url string) bool {
	for i := len(url) - 1; i >= 0; i-- {
		if url[i] == '?' {
			return true
		}
		if url[i] == '/' {
			return false
		}
	}
	return false
}

// cancelRegistry tracks the cancel funcs for in-flight tool requests so a
// tool_cancel from the gateway can stop the matching handler's context.
type cancelRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newCancelRegistry() *cancelRegistry {
	return &cancelRegistry{cancels: make(map[string]context.CancelFunc)}
}

func (r *cancelRegistry) register(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[id] = cancel
}

func (r *cancelRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, id)
}

func (r *cancelRegistry) cancel(id string) {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	r.mu.Unlock()
	if ok {
		cancel()
	}
}
