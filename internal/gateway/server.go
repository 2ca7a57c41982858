package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loomhq/loomgate/internal/agent"
	"github.com/loomhq/loomgate/internal/bus"
	"github.com/loomhq/loomgate/internal/config"
	httpapi "github.com/loomhq/loomgate/internal/http"
	"github.com/loomhq/loomgate/internal/node"
	"github.com/loomhq/loomgate/internal/permissions"
	"github.com/loomhq/loomgate/internal/runtime"
	"github.com/loomhq/loomgate/internal/store"
	"github.com/loomhq/loomgate/internal/tools"
	"github.com/loomhq/loomgate/pkg/protocol"
)

// Server is the main gateway server handling WebSocket and HTTP connections.
type Server struct {
	cfg      *config.Config
	eventPub bus.EventPublisher
	agents   *agent.Router
	sessions store.SessionStore
	tools    *tools.Registry
	router   *MethodRouter

	policyEngine        *permissions.PolicyEngine
	pairingService      store.PairingStore
	runtimes            map[string]*runtime.Runtime  // agentID -> turn runtime
	mcpHandler          *httpapi.MCPHandler          // MCP server management API
	builtinToolsHandler *httpapi.BuiltinToolsHandler // builtin tool management API
	quotaHandler        *httpapi.QuotaHandler        // quota introspection API
	memoryHandler       *httpapi.MemoryHandler       // proxy to the long-term memory backend
	schedulesHandler    *httpapi.SchedulesHandler    // schedule CRUD + webhook trigger
	deliveriesHandler   *httpapi.DeliveriesHandler   // scheduled-run inbox
	nodeManager         *node.Manager                // tracks connected remote nodes and dispatches node tool calls

	upgrader    websocket.Upgrader
	rateLimiter *RateLimiter
	clients     map[string]*Client
	mu          sync.RWMutex

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a new gateway server.
func NewServer(cfg *config.Config, eventPub bus.EventPublisher, agents *agent.Router, sess store.SessionStore, toolsReg ...*tools.Registry) *Server {
	s := &Server{
		cfg:      cfg,
		eventPub: eventPub,
		agents:   agents,
		sessions: sess,
		clients:  make(map[string]*Client),
		runtimes: make(map[string]*runtime.Runtime),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	if len(toolsReg) > 0 && toolsReg[0] != nil {
		s.tools = toolsReg[0]
	}

	// Initialize rate limiter.
	// rate_limit_rpm > 0  → enabled at that RPM
	// rate_limit_rpm == 0 → disabled (config.Default sets 20)
	// rate_limit_rpm < 0  → disabled explicitly
	s.rateLimiter = NewRateLimiter(cfg.Gateway.RateLimitRPM, 5)

	s.router = NewMethodRouter(s)
	return s
}

// RateLimiter returns the server's rate limiter for use by method handlers.
func (s *Server) RateLimiter() *RateLimiter { return s.rateLimiter }

// checkOrigin validates WebSocket connection origin against the allowed origins whitelist.
// If no origins are configured, all origins are allowed (backward compatibility / dev mode).
// Empty Origin header (non-browser clients like CLI/SDK) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true // no config = allow all (backward compat)
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser clients (CLI, SDK, channels)
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("security.cors_rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux with all routes registered.
// Call this before Start() if you need the mux for additional listeners (e.g. Tailscale).
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// HTTP API endpoints
	mux.HandleFunc("/health", s.handleHealth)

	// MCP server management API
	if s.mcpHandler != nil {
		s.mcpHandler.RegisterRoutes(mux)
	}

	// Builtin tool management API
	if s.builtinToolsHandler != nil {
		s.builtinToolsHandler.RegisterRoutes(mux)
	}

	// Quota introspection API
	if s.quotaHandler != nil {
		s.quotaHandler.RegisterRoutes(mux)
	}

	// Memory backend proxy
	if s.memoryHandler != nil {
		s.memoryHandler.RegisterRoutes(mux)
	}

	// Schedule CRUD + webhook trigger
	if s.schedulesHandler != nil {
		s.schedulesHandler.RegisterRoutes(mux)
	}

	// Scheduled-run inbox
	if s.deliveriesHandler != nil {
		s.deliveriesHandler.RegisterRoutes(mux)
	}

	// Node protocol: remote nodes dial in here, separate from the general
	// gorilla/websocket-based "/ws" endpoint above.
	if s.nodeManager != nil {
		mux.HandleFunc("/v1/nodes/ws", s.nodeManager.HandleUpgrade)
	}

	s.mux = mux
	return mux
}

// Start begins listening for WebSocket and HTTP connections.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// handleWebSocket upgrades HTTP to WebSocket and manages the connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, s)
	s.registerClient(client)

	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run(r.Context())
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.ProtocolVersion)
}

// Router returns the method router for registering additional handlers.
func (s *Server) Router() *MethodRouter { return s.router }

// SetPolicyEngine sets the permission policy engine for RPC method authorization.
func (s *Server) SetPolicyEngine(pe *permissions.PolicyEngine) { s.policyEngine = pe }

// SetPairingService sets the pairing service for channel authentication.
func (s *Server) SetPairingService(ps store.PairingStore) { s.pairingService = ps }

// SetRuntime registers the turn runtime driving agentID's turns. The
// chat.send/chat.abort RPC methods dispatch through this runtime so that
// session locking, cancellation, and quota enforcement apply uniformly
// whether a turn originates from a channel or a WebSocket client.
func (s *Server) SetRuntime(agentID string, rt *runtime.Runtime) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runtimes[agentID] = rt
}

// Runtime returns the turn runtime registered for agentID, or nil.
func (s *Server) Runtime(agentID string) *runtime.Runtime {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runtimes[agentID]
}

// SetBuiltinToolsHandler sets the builtin tool management handler.
func (s *Server) SetBuiltinToolsHandler(h *httpapi.BuiltinToolsHandler) {
	s.builtinToolsHandler = h
}

// SetMCPHandler sets the MCP server management handler.
func (s *Server) SetMCPHandler(h *httpapi.MCPHandler) { s.mcpHandler = h }

// SetQuotaHandler sets the quota introspection handler.
func (s *Server) SetQuotaHandler(h *httpapi.QuotaHandler) { s.quotaHandler = h }

// SetMemoryHandler sets the memory backend proxy handler.
func (s *Server) SetMemoryHandler(h *httpapi.MemoryHandler) { s.memoryHandler = h }

// SetSchedulesHandler sets the schedule CRUD / webhook trigger handler.
func (s *Server) SetSchedulesHandler(h *httpapi.SchedulesHandler) { s.schedulesHandler = h }

// SetDeliveriesHandler sets the scheduled-run inbox handler.
func (s *Server) SetDeliveriesHandler(h *httpapi.DeliveriesHandler) { s.deliveriesHandler = h }

// SetNodeManager enables the node protocol's "/v1/nodes/ws" endpoint,
// backed by mgr.
func (s *Server) SetNodeManager(mgr *node.Manager) { s.nodeManager = mgr }

// NodeManager returns the server's node Manager, or nil if node protocol
// support was never enabled via SetNodeManager.
func (s *Server) NodeManager() *node.Manager { return s.nodeManager }

// BroadcastEvent sends an event to all connected clients.
func (s *Server) BroadcastEvent(event protocol.EventFrame) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		client.SendEvent(event)
	}
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c

	// Subscribe to bus events for this client (skip internal cache events)
	s.eventPub.Subscribe(c.id, func(event bus.Event) {
		if strings.HasPrefix(event.Name, "cache.") {
			return // internal event, don't forward to WS clients
		}
		c.SendEvent(*protocol.NewEvent(event.Name, event.Payload))
	})

	slog.Info("client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	s.eventPub.Unsubscribe(c.id)
	slog.Info("client disconnected", "id", c.id)
}

// StartTestServer creates a listener on :0 (random port) and returns the
// actual address and a start function. Used for integration tests.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}

	s.httpServer = &http.Server{Handler: mux}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}

	return addr, start
}
