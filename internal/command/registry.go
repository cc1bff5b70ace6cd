package command

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds command descriptors keyed by case-insensitive name.
// First writer wins: a later registration with a colliding name is rejected,
// which is how built-ins (registered first) shadow plugins and never the
// other way around.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Descriptor),
	}
}

// Register adds a descriptor. Names are folded to lower case.
func (r *Registry) Register(d Descriptor) error {
	name := strings.ToLower(strings.TrimSpace(d.Name))
	if name == "" {
		return fmt.Errorf("command name is empty")
	}
	if d.Handler == nil {
		return fmt.Errorf("command %q has no handler", name)
	}
	d.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byName[name]; ok {
		return fmt.Errorf("command %q already registered by %s", name, existing.Source)
	}
	r.byName[name] = d
	return nil
}

// Get looks up a command case-insensitively.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[strings.ToLower(name)]
	return d, ok
}

// All returns all descriptors sorted by name.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.byName))
	for _, d := range r.byName {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns all registered names sorted.
func (r *Registry) Names() []string {
	all := r.All()
	names := make([]string, len(all))
	for i, d := range all {
		names[i] = d.Name
	}
	return names
}
