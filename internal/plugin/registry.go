package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the registered provider plugins, keyed by
// "resourceType:provider" — the same resource ID apps address in request
// paths.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Key builds the registry key for a resource type and provider.
func Key(resourceType, provider string) string {
	return resourceType + ":" + provider
}

// Register adds a plugin. Registering the same (resourceType, provider) twice
// replaces the earlier plugin.
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[Key(p.ResourceType(), p.Provider())] = p
}

// Get returns the plugin for a resource type and provider.
func (r *Registry) Get(resourceType, provider string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[Key(resourceType, provider)]
	if !ok {
		return nil, fmt.Errorf("no plugin registered for %q (available: %v)", Key(resourceType, provider), r.keys())
	}
	return p, nil
}

// List returns all registered plugins in deterministic key order.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := r.keys()
	out := make([]Plugin, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.plugins[k])
	}
	return out
}

func (r *Registry) keys() []string {
	keys := make([]string, 0, len(r.plugins))
	for k := range r.plugins {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
