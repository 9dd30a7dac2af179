package safety

import (
	"fmt"
	"sync"
)

// Factory builds a checker instance from per-check configuration.
type Factory func(config map[string]any) (Checker, error)

// Registry maps checker kind names to factories. Registration happens at
// startup; lookups are read-mostly and safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a checker kind. Registering an existing kind replaces it.
func (r *Registry) Register(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Has reports whether a kind is registered.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind]
	return ok
}

// New instantiates a checker of the given kind.
func (r *Registry) New(kind string, config map[string]any) (Checker, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no checker registered for kind %q", kind)
	}
	return factory(config)
}
