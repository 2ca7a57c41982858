package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// GatewayVersion is reported to nodes in GatewayWelcome.
const GatewayVersion = "1.0"

// defaultRequestTimeout bounds how long the gateway waits for a
// tool_response before treating the call as timed out.
const defaultRequestTimeout = 30 * time.Second

var (
	// ErrNoNodeForTool is returned when no connected node advertises a
	// capability prefix matching the requested tool.
	ErrNoNodeForTool = errors.New("node: no connected node provides this tool")
	// ErrNodeDisconnected is returned when the node handling a request
	// drops its connection before replying.
	ErrNodeDisconnected = errors.New("node: disconnected before responding")
)

// connection is one live node WS session tracked by Manager.
type connection struct {
	info NodeInfo
	conn *websocket.Conn

	writeMu sync.Mutex // coder/websocket requires serialized writes per-conn

	mu      sync.Mutex
	pending map[string]chan ToolResponse // request_id -> waiter
}

// Manager is the gateway-side half of the node protocol: it accepts node
// WS connections, performs the hello/welcome handshake, tracks each node's
// advertised capabilities, and dispatches ToolRequests to whichever
// connected node advertises a matching capability prefix, correlating the
// reply by RequestID.
type Manager struct {
	mu    sync.RWMutex
	conns map[string]*connection // node ID -> connection

	requestTimeout time.Duration
}

// NewManager returns a Manager with the package's default per-request
// timeout.
func NewManager() *Manager {
	return &Manager{
		conns:          make(map[string]*connection),
		requestTimeout: defaultRequestTimeout,
	}
}

// HandleUpgrade upgrades r to a WS connection, performs the node_hello /
// gateway_welcome handshake, registers the node, and runs its read loop
// until disconnect. Intended to be wired as the handler for a dedicated
// node-facing route (e.g. "/v1/nodes/ws"), kept separate from the
// gorilla/websocket-based general "/ws" endpoint.
func (m *Manager) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("node.upgrade_failed", "error", err)
		return
	}

	ctx := r.Context()

	var hello Envelope
	if err := wsjson.Read(ctx, c, &hello); err != nil || hello.Type != MsgNodeHello {
		c.Close(websocket.StatusProtocolError, "expected node_hello")
		return
	}
	var helloPayload NodeHello
	if err := json.Unmarshal(hello.Payload, &helloPayload); err != nil || helloPayload.Node.ID == "" {
		c.Close(websocket.StatusProtocolError, "invalid node_hello payload")
		return
	}

	conn := &connection{info: helloPayload.Node, conn: c, pending: make(map[string]chan ToolResponse)}
	m.register(conn)
	defer m.unregister(conn.info.ID)

	welcome, _ := json.Marshal(GatewayWelcome{GatewayVersion: GatewayVersion})
	if err := conn.write(ctx, Envelope{Type: MsgGatewayWelcome, Payload: welcome}); err != nil {
		return
	}

	slog.Info("node.connected", "node_id", conn.info.ID, "capabilities", conn.info.Capabilities)
	m.readLoop(ctx, conn)
	slog.Info("node.disconnected", "node_id", conn.info.ID)
}

func (m *Manager) register(c *connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.conns[c.info.ID]; ok {
		old.conn.Close(websocket.StatusNormalClosure, "superseded by reconnect")
	}
	m.conns[c.info.ID] = c
}

func (m *Manager) unregister(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[nodeID]; ok {
		c.mu.Lock()
		for _, ch := range c.pending {
			close(ch)
		}
		c.mu.Unlock()
		delete(m.conns, nodeID)
	}
}

func (m *Manager) readLoop(ctx context.Context, c *connection) {
	for {
		var env Envelope
		if err := wsjson.Read(ctx, c.conn, &env); err != nil {
			return
		}
		switch env.Type {
		case MsgToolResponse:
			var resp ToolResponse
			if err := json.Unmarshal(env.Payload, &resp); err != nil {
				continue
			}
			c.deliver(resp)
		case MsgPing:
			_ = c.write(ctx, Envelope{Type: MsgPong})
		}
	}
}

func (c *connection) deliver(resp ToolResponse) {
	c.mu.Lock()
	ch, ok := c.pending[resp.RequestID]
	if ok {
		delete(c.pending, resp.RequestID)
	}
	c.mu.Unlock()
	if ok {
		ch <- resp
	}
}

func (c *connection) write(ctx context.Context, env Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsjson.Write(ctx, c.conn, env)
}

// nodeForTool picks a connected node advertising a capability prefix of
// tool (e.g. capability "macos.notes" matches tool "macos.notes.search").
func (m *Manager) nodeForTool(tool string) *connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.conns {
		for _, prefix := range c.info.Capabilities {
			if tool == prefix || (len(tool) > len(prefix) && tool[:len(prefix)] == prefix && tool[len(prefix)] == '.') {
				return c
			}
		}
	}
	return nil
}

// Invoke dispatches tool with args to whichever connected node advertises
// it, blocking until the matching tool_response arrives, ctx is cancelled,
// or the per-request timeout elapses (whichever is first). A response
// larger than MaxToolResponseBytes is treated as ErrKindFailed.
func (m *Manager) Invoke(ctx context.Context, tool, sessionKey string, args json.RawMessage) (json.RawMessage, error) {
	conn := m.nodeForTool(tool)
	if conn == nil {
		return nil, ErrNoNodeForTool
	}

	requestID := fmt.Sprintf("%s-%d", tool, time.Now().UnixNano())
	waiter := make(chan ToolResponse, 1)

	conn.mu.Lock()
	conn.pending[requestID] = waiter
	conn.mu.Unlock()

	payload, _ := json.Marshal(ToolRequest{RequestID: requestID, Tool: tool, Args: args, SessionKey: sessionKey})

	reqCtx, cancel := context.WithTimeout(ctx, m.requestTimeout)
	defer cancel()

	if err := conn.write(reqCtx, Envelope{Type: MsgToolRequest, Payload: payload}); err != nil {
		conn.mu.Lock()
		delete(conn.pending, requestID)
		conn.mu.Unlock()
		return nil, ErrNodeDisconnected
	}

	select {
	case resp, ok := <-waiter:
		if !ok {
			return nil, ErrNodeDisconnected
		}
		if !resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("node: %s: %s", resp.Error.Kind, resp.Error.Message)
			}
			return nil, fmt.Errorf("node: tool call failed")
		}
		if len(resp.Result) > MaxToolResponseBytes {
			return nil, fmt.Errorf("node: %s: response exceeds %d bytes", ErrKindFailed, MaxToolResponseBytes)
		}
		return resp.Result, nil
	case <-reqCtx.Done():
		conn.mu.Lock()
		delete(conn.pending, requestID)
		conn.mu.Unlock()
		cancelPayload, _ := json.Marshal(ToolCancel{RequestID: requestID})
		_ = conn.write(context.Background(), Envelope{Type: MsgToolCancel, Payload: cancelPayload})
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("node: %s: tool call timed out after %s", ErrKindTimeout, m.requestTimeout)
	}
}

// ConnectedNodes returns the IDs of currently connected nodes.
func (m *Manager) ConnectedNodes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	return ids
}
