package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/loomhq/loomgate/internal/bus"
	"github.com/loomhq/loomgate/internal/providers"
	"github.com/loomhq/loomgate/internal/store"
)

// Tool is the interface every local tool implements. Execute receives the
// raw LLM-supplied arguments and returns a Result; tools read request-scoped
// values (channel, chat ID, sandbox key, workspace) from ctx rather than
// through constructor parameters, so a single *Tool instance is safe to share
// across concurrent turns.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// AsyncCallback is invoked when a tool that returned Result.Async completes
// its work out of band (e.g. a spawned subagent finishing).
type AsyncCallback func(ctx context.Context, result *Result)

// SessionStoreAware is implemented by tools that need access to the session
// store (sessions_list, sessions_history, session_status, sessions_send).
type SessionStoreAware interface {
	SetSessionStore(s store.SessionStore)
}

// BusAware is implemented by tools that publish onto the message bus
// (sessions_send, the spawn/subagent announce path).
type BusAware interface {
	SetMessageBus(b *bus.MessageBus)
}

// PathAllowable is implemented by tools that can be granted extra accessible
// path prefixes beyond the workspace root (read_file, write_file).
type PathAllowable interface {
	AllowPaths(prefixes ...string)
}

// ApprovalAware is implemented by tools that gate execution behind the exec
// approval pipeline (currently only exec).
type ApprovalAware interface {
	SetApprovalManager(mgr *ExecApprovalManager, agentID string)
}

// ChannelSenderAware is implemented by tools that deliver messages back out
// through a live channel connection rather than the inbound bus.
type ChannelSenderAware interface {
	SetChannelSender(sender ChannelSender)
}

// ChannelSender delivers an outbound message on behalf of a tool.
type ChannelSender interface {
	SendMessage(ctx context.Context, channel, chatID, content string) error
}

// Registry holds the set of tools available to an agent loop and mediates
// every Execute call so cross-cutting concerns (rate limiting, credential
// scrubbing, context injection) apply uniformly regardless of which tool ran.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]Tool
	rateLimiter *ToolRateLimiter
	scrub       bool
}

// NewRegistry creates an empty tool registry with credential scrubbing on by default.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
		scrub: true,
	}
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Unregister removes a tool by name. No-op if the tool isn't registered.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns the names of all registered tools, sorted for deterministic output.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// SetRateLimiter installs a per-session rate limiter applied to every Execute call.
func (r *Registry) SetRateLimiter(rl *ToolRateLimiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rateLimiter = rl
}

// SetScrubbing toggles automatic credential redaction of tool output.
func (r *Registry) SetScrubbing(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scrub = enabled
}

// ProviderDefs returns every registered tool as a provider-facing tool definition.
func (r *Registry) ProviderDefs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		defs = append(defs, ToProviderDef(r.tools[name]))
	}
	return defs
}

// Execute runs the named tool, applying the rate limiter and output scrubbing.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	return r.ExecuteWithContext(ctx, name, args, "", "", "", "", nil)
}

// ExecuteWithContext runs the named tool with request-scoped values injected
// into ctx, so the tool (and anything it calls) can read them without the
// caller threading extra parameters through every Tool implementation.
func (r *Registry) ExecuteWithContext(
	ctx context.Context,
	name string,
	args map[string]interface{},
	channel, chatID, peerKind, sessionKey string,
	cb AsyncCallback,
) *Result {
	r.mu.RLock()
	t, ok := r.tools[name]
	limiter := r.rateLimiter
	scrub := r.scrub
	r.mu.RUnlock()

	if !ok {
		return ErrorResult("unknown tool: " + name)
	}

	if limiter != nil && sessionKey != "" {
		if !limiter.Allow(sessionKey) {
			return ErrorResult("tool rate limit exceeded for this session")
		}
	}

	ctx = WithToolChannel(ctx, channel)
	ctx = WithToolChatID(ctx, chatID)
	ctx = WithToolPeerKind(ctx, peerKind)
	ctx = WithToolSandboxKey(ctx, sessionKey)
	if cb != nil {
		ctx = WithToolAsyncCB(ctx, cb)
	}

	result := t.Execute(ctx, args)
	if result == nil {
		result = ErrorResult("tool returned no result")
	}
	if scrub && result.ForLLM != "" {
		result.ForLLM = scrubCredentials(result.ForLLM)
	}
	return result
}

// ToProviderDef converts a Tool into the schema the LLM provider expects.
func ToProviderDef(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

// truncate shortens s to at most max runes, appending an ellipsis if cut.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

// truncateCmd is like truncate but tuned for single-line command logging.
func truncateCmd(s string, max int) string {
	return truncate(s, max)
}
