package agent

import (
	"fmt"
	"slices"
	"sync"
)

// Module is one capability set of the agent (e.g. wifi). It names the
// commands it supports and decodes their success payloads.
type Module interface {
	Name() string
	Commands() []string

	// Decode turns a success payload into a typed result. Commands with
	// no payload return nil.
	Decode(command, payload string) (any, error)
}

// Registry holds the modules selected at startup.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry creates a registry with the given modules.
func NewRegistry(modules ...Module) (*Registry, error) {
	r := &Registry{modules: make(map[string]Module)}
	for _, m := range modules {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a module. Names must be unique.
func (r *Registry) Register(m Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.modules[m.Name()]; ok {
		return fmt.Errorf("agent: module %q already registered", m.Name())
	}
	r.modules[m.Name()] = m
	return nil
}

// Lookup returns a module by name.
func (r *Registry) Lookup(name string) (Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}
	return m, nil
}

// Names returns the registered module names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for n := range r.modules {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
