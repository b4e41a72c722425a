package agent

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps stable agent type identifiers to implementations.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register binds an agent type to an implementation.
// Registering the same type twice is a configuration bug and fails loudly.
func (r *Registry) Register(agentType string, a Agent) error {
	if agentType == "" {
		return fmt.Errorf("agent: empty agent type")
	}
	if a == nil {
		return fmt.Errorf("agent: nil agent for type %q", agentType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[agentType]; exists {
		return fmt.Errorf("agent: type %q already registered", agentType)
	}
	r.agents[agentType] = a
	return nil
}

// Get returns the implementation for an agent type.
func (r *Registry) Get(agentType string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentType]
	return a, ok
}

// Types returns the registered agent types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for t := range r.agents {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
