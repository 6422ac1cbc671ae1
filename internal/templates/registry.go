package templates

import (
	"fmt"
	"sort"
	"sync"

	"assemblyline/internal/pipeline"
)

// Source is anything that can look up a template by id.
type Source interface {
	Name() string
	Lookup(id string) (pipeline.Template, bool)
	IDs() []string
}

// Registry is a static, name-keyed set of templates.
type Registry struct {
	name string

	mu        sync.RWMutex
	templates map[string]pipeline.Template
}

// NewRegistry returns an empty registry labelled name.
func NewRegistry(name string) *Registry {
	return &Registry{name: name, templates: map[string]pipeline.Template{}}
}

// Name identifies the registry in listings and logs.
func (r *Registry) Name() string { return r.name }

// Register adds a template. Ids must be unique within a registry.
func (r *Registry) Register(t pipeline.Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.templates[t.ID]; exists {
		return fmt.Errorf("%s: template %q already registered", r.name, t.ID)
	}
	r.templates[t.ID] = t
	return nil
}

func (r *Registry) mustRegister(t pipeline.Template) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Lookup returns the template registered under id.
func (r *Registry) Lookup(id string) (pipeline.Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	return t, ok
}

// IDs lists registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.templates))
	for id := range r.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
