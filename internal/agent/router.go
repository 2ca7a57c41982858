package agent

import (
	"fmt"
	"sort"
	"sync"
)

// Router is a concurrency-safe registry mapping agent IDs to their running
// Loop, used by the scheduler and the gateway server to resolve which agent
// handles a given session.
type Router struct {
	mu    sync.RWMutex
	loops map[string]*Loop
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{loops: make(map[string]*Loop)}
}

// Register adds or replaces the Loop for agentID.
func (r *Router) Register(agentID string, loop *Loop) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loops[agentID] = loop
}

// Unregister removes agentID's Loop, if any.
func (r *Router) Unregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.loops, agentID)
}

// Get returns the Loop registered for agentID.
func (r *Router) Get(agentID string) (*Loop, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loop, ok := r.loops[agentID]
	if !ok {
		return nil, fmt.Errorf("agent %q not registered", agentID)
	}
	return loop, nil
}

// List returns every registered agent ID, sorted.
func (r *Router) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.loops))
	for id := range r.loops {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
