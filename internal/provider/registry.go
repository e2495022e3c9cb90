package provider

import "fmt"

// Registry resolves providers by name. Registration order is preserved
// and used as the tiebreak order when callers iterate.
type Registry struct {
	ordered []Provider
	byName  map[string]Provider
}

func NewRegistry(providers ...Provider) (*Registry, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("registry: at least one provider is required")
	}
	r := &Registry{byName: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if _, dup := r.byName[p.Name()]; dup {
			return nil, fmt.Errorf("registry: duplicate provider %q", p.Name())
		}
		r.ordered = append(r.ordered, p)
		r.byName[p.Name()] = p
	}
	return r, nil
}

func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.byName[name]
	return p, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ordered))
	for _, p := range r.ordered {
		names = append(names, p.Name())
	}
	return names
}
