package arch

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Registry maps architecture names to implementations. Architectures are
// immutable once registered; the registry itself is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	archs map[string]Architecture
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{archs: make(map[string]Architecture)}
}

// Register adds a. Names must be unique.
func (r *Registry) Register(a Architecture) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.archs == nil {
		return errors.New("arch: registry closed")
	}
	if _, ok := r.archs[a.Name()]; ok {
		return errors.Wrap(ErrDuplicate, a.Name())
	}
	r.archs[a.Name()] = a
	return nil
}

// Lookup finds an architecture by name.
func (r *Registry) Lookup(name string) (Architecture, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.archs[name]; ok {
		return a, nil
	}
	return nil, errors.Wrap(ErrUnknown, name)
}

// List returns all architectures ordered by name.
func (r *Registry) List() []Architecture {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Architecture, 0, len(r.archs))
	for _, a := range r.archs {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Close drops every registration. Further Register calls fail.
func (r *Registry) Close() {
	r.mu.Lock()
	r.archs = nil
	r.mu.Unlock()
}
