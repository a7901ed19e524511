package action

import (
	"fmt"
	"sort"
	"sync"
)

// Config represents action-specific configuration (opaque to the runtime).
type Config map[string]any

// Factory constructs an action with the provided configuration.
type Factory func(Config) (Action, error)

// Registry maintains known action factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register installs an action factory. Returns an error if the ID already exists.
func (r *Registry) Register(id string, factory Factory) error {
	if id == "" {
		return fmt.Errorf("action: id is required")
	}
	if factory == nil {
		return fmt.Errorf("action: factory is required for %s", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[id]; exists {
		return fmt.Errorf("action: %s already registered", id)
	}
	r.factories[id] = factory
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(id string, factory Factory) {
	if err := r.Register(id, factory); err != nil {
		panic(err)
	}
}

// Resolve constructs an action by ID.
func (r *Registry) Resolve(id string, cfg Config) (Action, error) {
	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("action: unknown id %s", id)
	}
	act, err := factory(cfg)
	if err != nil {
		return nil, err
	}
	if err := act.Info().Validate(); err != nil {
		return nil, err
	}
	return act, nil
}

// Known reports whether an action ID has a registered factory.
func (r *Registry) Known(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[id]
	return ok
}

// IDs returns a sorted list of registered action identifiers.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
