package providers

import "fmt"

// Registry dispatches a Kind to its adapter.
type Registry struct {
	adapters map[Kind]Adapter
}

// NewRegistry indexes adapters by their Kind. Later duplicates win.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[Kind]Adapter, len(adapters))}
	for _, a := range adapters {
		if a != nil {
			r.adapters[a.Kind()] = a
		}
	}
	return r
}

// Get returns the adapter registered for k.
func (r *Registry) Get(k Kind) (Adapter, error) {
	if r != nil {
		if a, ok := r.adapters[k]; ok {
			return a, nil
		}
	}
	return nil, fmt.Errorf("providers: no adapter registered for %q", k)
}

// Kinds lists the registered backends in canonical order.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, 0, len(Kinds))
	for _, k := range Kinds {
		if _, ok := r.adapters[k]; ok {
			out = append(out, k)
		}
	}
	return out
}
