package embedding

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Constructor builds a provider from options. It validates options eagerly and
// must not perform network calls or load models.
type Constructor func(opts Options) (Provider, error)

// Registry maps backend names to constructors.
//
// It is filled once at startup and sealed; after Seal the set of backends never
// changes and the registry is safe for concurrent Create calls.
type Registry struct {
	mu           sync.RWMutex
	sealed       bool
	constructors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds a backend constructor under name.
func (r *Registry) Register(name string, constructor Constructor) error {
	name = canonicalName(name)
	if name == "" {
		return fmt.Errorf("%w: backend name is required", ErrBackendConfig)
	}
	if constructor == nil {
		return fmt.Errorf("%w: constructor for %q is nil", ErrBackendConfig, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("register %q: %w", name, ErrRegistrySealed)
	}
	if _, ok := r.constructors[name]; ok {
		return fmt.Errorf("%w: backend %q is already registered", ErrBackendConfig, name)
	}

	r.constructors[name] = constructor
	return nil
}

// Seal freezes the registry.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Names returns registered backend names in ascending order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Create constructs the provider registered under name. Unknown names fail with
// ErrUnknownBackend, invalid options with ErrBackendConfig.
func (r *Registry) Create(name string, opts Options) (Provider, error) {
	name = canonicalName(name)

	r.mu.RLock()
	constructor, ok := r.constructors[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %s)", ErrUnknownBackend, name, strings.Join(r.Names(), ", "))
	}

	provider, err := constructor(opts)
	if err != nil {
		if !errors.Is(err, ErrBackendConfig) {
			err = fmt.Errorf("%w: %w", ErrBackendConfig, err)
		}
		return nil, fmt.Errorf("create %s embedder: %w", name, err)
	}
	return provider, nil
}

func canonicalName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
