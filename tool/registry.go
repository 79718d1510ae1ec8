package tool

import (
	"fmt"
	"sync"
)

// Registry is a keyed lookup from tool name to descriptor. Grounded on
// runtime/agents/runtime.Runtime.toolSpecs: a map guarded by a RWMutex,
// safe for concurrent registration and lookup.
type Registry struct {
	mu    sync.RWMutex
	byIdent map[Ident]*Descriptor
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byIdent: make(map[Ident]*Descriptor)}
}

// Register validates and adds a descriptor. Returns an error if the
// descriptor is invalid or its name is already registered.
func (r *Registry) Register(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byIdent[d.Name]; exists {
		return fmt.Errorf("tool: %q already registered", d.Name)
	}
	cp := d
	r.byIdent[d.Name] = &cp
	return nil
}

// Lookup returns the descriptor registered under name, if any.
func (r *Registry) Lookup(name Ident) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byIdent[name]
	return d, ok
}

// Descriptors returns a snapshot of all registered descriptors, order unspecified.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.byIdent))
	for _, d := range r.byIdent {
		out = append(out, *d)
	}
	return out
}
