package node

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
)

// ToolHandler executes one tool call on the node side. ctx is cancelled if
// the gateway sends a ToolCancel for this request or the node is shutting
// down.
type ToolHandler func(ctx context.Context, args json.RawMessage) (json.RawMessage, *ResponseError)

// Registry maps fully-qualified, lowercase-dotted tool names (e.g.
// "macos.notes.search") to their handlers, on the node side of the
// connection.
type Registry struct {
	tools map[string]ToolHandler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]ToolHandler)}
}

// Register adds handler under name, overwriting any existing registration.
func (r *Registry) Register(name string, handler ToolHandler) {
	r.tools[name] = handler
}

// Lookup returns the handler registered for name, if any.
func (r *Registry) Lookup(name string) (ToolHandler, bool) {
	h, ok := r.tools[name]
	return h, ok
}

// Capabilities derives the set of namespace-root prefixes to advertise in
// NodeHello: never a capability without at least one registered tool under
// it, and never a capability finer-grained than its namespace root (so
// "macos.notes.search" and "macos.notes.create" both derive "macos.notes").
func (r *Registry) Capabilities() []string {
	seen := make(map[string]bool)
	for name := range r.tools {
		if prefix, ok := namespaceRoot(name); ok {
			seen[prefix] = true
		}
	}
	caps := make([]string, 0, len(seen))
	for c := range seen {
		caps = append(caps, c)
	}
	sort.Strings(caps)
	return caps
}

func namespaceRoot(toolName string) (string, bool) {
	idx := strings.LastIndex(toolName, ".")
	if idx <= 0 {
		return "", false
	}
	return toolName[:idx], true
}
