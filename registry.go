package bdispatch

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

// Registry is an in-memory [Loader] that keeps named units registered from Go code.
type Registry struct {
	mu    sync.RWMutex
	units map[string]any
}

// NewRegistry inits the registry.
func NewRegistry() *Registry {
	return &Registry{units: make(map[string]any)}
}

// Load implements [Loader].
func (r *Registry) Load(_ context.Context, name string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	unit, ok := r.units[name]
	if !ok {
		names := lo.Keys(r.units)
		sort.Strings(names)
		return nil, errors.Newf("no unit named: %q, got: %v", name, names)
	}

	return unit, nil
}

// Register adds a unit under name. The unit is classified when it is loaded, not here.
func (r *Registry) Register(name string, unit any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.units[name]; exists {
		return errors.Newf("unit with name %q already exists", name)
	}

	r.units[name] = unit
	return nil
}

// MustRegister is a convenience method that panics if registering the unit fails.
func (r *Registry) MustRegister(name string, unit any) {
	if err := r.Register(name, unit); err != nil {
		panic("bdispatch: " + err.Error())
	}
}

// HandleFunc registers a synchronous handler function as a bare unit.
func (r *Registry) HandleFunc(name string, fn HandlerFunc) {
	r.MustRegister(name, fn)
}
