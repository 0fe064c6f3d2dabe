package destination

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds an adapter for a run.
type Factory func() Adapter

// Registry maps destination names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	labels    map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}, labels: map[string]string{}}
}

// Register adds a factory under name. Names are case-insensitive; registering
// a name twice is an error.
func (r *Registry) Register(name, label string, factory Factory) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return fmt.Errorf("register destination %q: name and factory are required", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[key]; dup {
		return fmt.Errorf("register destination %q: already registered", key)
	}
	r.factories[key] = factory
	r.labels[key] = label
	return nil
}

// Lookup returns the factory for name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[strings.ToLower(strings.TrimSpace(name))]
	return f, ok
}

// Names lists registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Label returns the display label registered for name.
func (r *Registry) Label(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.labels[strings.ToLower(name)]
}

// UnknownDestinationError names a destination not in the registry.
type UnknownDestinationError struct {
	Name string
}

func (e *UnknownDestinationError) Error() string {
	return fmt.Sprintf("unknown destination %q", e.Name)
}

// Resolve builds adapters for a comma-separated list of names, or for every
// registered destination when spec is "all" or empty. Duplicates collapse.
func (r *Registry) Resolve(spec string) ([]Adapter, error) {
	spec = strings.TrimSpace(spec)
	var names []string
	if spec == "" || strings.EqualFold(spec, "all") {
		names = r.Names()
	} else {
		seen := map[string]struct{}{}
		for _, raw := range strings.Split(spec, ",") {
			name := strings.ToLower(strings.TrimSpace(raw))
			if name == "" {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, &UnknownDestinationError{Name: spec}
	}
	adapters := make([]Adapter, 0, len(names))
	for _, name := range names {
		factory, ok := r.Lookup(name)
		if !ok {
			return nil, &UnknownDestinationError{Name: name}
		}
		adapters = append(adapters, factory())
	}
	return adapters, nil
}
