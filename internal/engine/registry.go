package engine

import (
	"fmt"
	"sort"
	"sync"

	"kblocks/internal/api"
	"kblocks/pkg/logging"
)

// Well-known engine identifiers.
const (
	Helm      = "helm"
	Wing      = "wing"
	Tofu      = "tofu"
	Terraform = "terraform"
	Custom    = "custom"
	Noop      = "noop"
)

// Registry maps engine keys to adapters. It is filled once at startup.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates a registry holding the noop adapter.
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{Noop: NoopAdapter{}}}
}

// Register adds an adapter under key. Registering a key twice is an error,
// except that the built-in noop adapter may be replaced.
func (r *Registry) Register(key string, a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if key == "" {
		return fmt.Errorf("engine key must not be empty")
	}
	if existing, ok := r.adapters[key]; ok {
		if _, builtin := existing.(NoopAdapter); !builtin {
			return fmt.Errorf("engine %q already registered", key)
		}
	}
	r.adapters[key] = a
	logging.Debug("EngineRegistry", "Registered engine %s", key)
	return nil
}

// Resolve returns the adapter for an engine string such as "wing/k8s".
func (r *Registry) Resolve(engine string) (Adapter, error) {
	key := Key(engine)

	r.mu.RLock()
	a, ok := r.adapters[key]
	r.mu.RUnlock()

	if !ok {
		return nil, &api.EngineError{Engine: engine, Err: fmt.Errorf("no adapter registered for %q", key)}
	}
	return a, nil
}

// Keys lists the registered engine keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
