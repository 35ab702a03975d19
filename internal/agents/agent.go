package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Agent is a unit of domain logic. Process may return an error or even
// panic; the Runner converts both into a failed Response.
type Agent interface {
	Process(ctx context.Context, req Request) (Response, error)
}

// Func adapts a function to Agent.
type Func func(ctx context.Context, req Request) (Response, error)

// Process calls f.
func (f Func) Process(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Info describes a registered agent.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Model       string `json:"model,omitempty"`
}

type entry struct {
	info  Info
	agent Agent
}

// Registry maps canonical agent names to implementations. Lookups are case-insensitive.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds or replaces an agent.
func (r *Registry) Register(info Info, agent Agent) error {
	if strings.TrimSpace(info.Name) == "" {
		return fmt.Errorf("agent name is required")
	}
	if agent == nil {
		return fmt.Errorf("agent %s: implementation is nil", info.Name)
	}
	key := strings.ToLower(info.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[key]; !exists {
		r.order = append(r.order, info.Name)
	}
	r.entries[key] = entry{info: info, agent: agent}
	return nil
}

// Lookup resolves name to its canonical form and implementation.
func (r *Registry) Lookup(name string) (string, Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", nil, false
	}
	return e.info.Name, e.agent, true
}

// Canonical returns the registered spelling of name.
func (r *Registry) Canonical(name string) (string, bool) {
	canonical, _, ok := r.Lookup(name)
	return canonical, ok
}

// Names returns the known agent set in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Describe returns the catalog of registered agents sorted by name.
func (r *Registry) Describe() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
