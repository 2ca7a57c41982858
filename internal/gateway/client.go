package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/loomhq/loomgate/pkg/protocol"
)

// writeWait bounds how long a single WebSocket write may block.
const writeWait = 10 * time.Second

// Client represents one connected WebSocket peer: a CLI, dashboard, or
// channel connector session talking the request/response/event frame
// protocol over a single gorilla/websocket connection.
type Client struct {
	id       string
	conn     *websocket.Conn
	server   *Server
	userID   string
	authed   bool
	sendMu   sync.Mutex
	closed   chan struct{}
	closeOne sync.Once
}

// NewClient wraps conn for use by s, assigning it a random client id.
func NewClient(conn *websocket.Conn, s *Server) *Client {
	return &Client{
		id:     uuid.NewString(),
		conn:   conn,
		server: s,
		closed: make(chan struct{}),
	}
}

// Run reads request frames from the connection until it closes or ctx is
// cancelled, dispatching each to the server's MethodRouter and writing
// back the resulting response frame.
func (c *Client) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		frameType, _ := protocol.ParseFrameType(raw)
		if frameType != protocol.FrameTypeRequest {
			continue
		}

		var req protocol.RequestFrame
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}

		if !c.authed && req.Method != protocol.MethodConnect {
			c.writeResponse(protocol.NewErrorResponse(req.ID, errNotAuthenticated))
			continue
		}

		if c.server.rateLimiter != nil && !c.server.rateLimiter.Allow(c.id) {
			c.writeResponse(protocol.NewErrorResponse(req.ID, errRateLimited))
			continue
		}

		resp := c.server.router.Dispatch(ctx, c, req)
		c.writeResponse(resp)
	}
}

// SendEvent pushes an unsolicited event frame to the client.
func (c *Client) SendEvent(evt protocol.EventFrame) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(evt); err != nil {
		slog.Debug("client: send event failed", "id", c.id, "error", err)
	}
}

func (c *Client) writeResponse(resp *protocol.ResponseFrame) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(resp); err != nil {
		slog.Debug("client: send response failed", "id", c.id, "error", err)
	}
}

// Close terminates the underlying connection. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOne.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}
