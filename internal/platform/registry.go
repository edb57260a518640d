package platform

import (
	"slices"
	"sync"
)

// Registry holds the configured adapters keyed by platform name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Name]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[Name]Adapter),
	}
}

// Register adds an adapter, replacing any previous one for the same platform.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter for name, or nil if none is registered.
func (r *Registry) Get(name Name) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[name]
}

// All returns the registered adapters in AllNames order, followed by any
// other registered names sorted alphabetically.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Adapter, 0, len(r.adapters))
	seen := make(map[Name]bool, len(r.adapters))
	for _, name := range AllNames() {
		if a, ok := r.adapters[name]; ok {
			result = append(result, a)
			seen[name] = true
		}
	}
	var rest []Name
	for name := range r.adapters {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	slices.Sort(rest)
	for _, name := range rest {
		result = append(result, r.adapters[name])
	}
	return result
}

// Searchers returns the registered adapters that support name search.
func (r *Registry) Searchers() map[Name]Searcher {
	out := make(map[Name]Searcher)
	for _, a := range r.All() {
		if s, ok := a.(Searcher); ok {
			out[a.Name()] = s
		}
	}
	return out
}

// Profilers returns the registered adapters that can fetch artist profiles.
func (r *Registry) Profilers() map[Name]Profiler {
	out := make(map[Name]Profiler)
	for _, a := range r.All() {
		if p, ok := a.(Profiler); ok {
			out[a.Name()] = p
		}
	}
	return out
}
