package vectorization

import (
	"fmt"
	"sync"
)

// Registry is the embedding provider registration table (SPEC_FULL
// supplemented feature: providers are interchangeable and selected by
// config string), the same shape as internal/transcription.Registry.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its own Name().
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get looks up a provider by name, validated at session start (spec.md
// section 6: invalid combinations are rejected at session start).
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("embedding provider %q is not registered", name)
	}
	return p, nil
}
