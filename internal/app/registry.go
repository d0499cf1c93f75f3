package app

import (
	"fmt"
	"sync"
)

// Observer is notified with the new snapshot after every replacement.
type Observer func(apps []Config)

// Registry holds the current, ordered set of application configs.
// Every change publishes a fresh slice; published slices are never
// modified, so a snapshot taken by a caller stays valid after a reload.
type Registry struct {
	mu       sync.RWMutex
	apps     []Config
	index    map[string]int
	observer Observer
}

// NewRegistry creates a registry. observer may be nil.
func NewRegistry(apps []Config, observer Observer) *Registry {
	r := &Registry{observer: observer}
	r.publish(apps)
	return r
}

// Get returns a copy of the named config.
func (r *Registry) Get(name string) (Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[name]
	if !ok {
		return Config{}, fmt.Errorf("app '%s' not found", name)
	}
	return r.apps[i].Clone(), nil
}

// Has reports whether name is configured.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.index[name]
	return ok
}

// Snapshot returns the current ordered configs. The slice must not be modified.
func (r *Registry) Snapshot() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.apps
}

// List returns all app names in configuration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.apps))
	for _, cfg := range r.apps {
		names = append(names, cfg.Name)
	}
	return names
}

// Count returns the number of apps.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.apps)
}

// Replace swaps the whole config set and notifies the observer.
func (r *Registry) Replace(apps []Config) {
	r.publish(apps)
	r.notify()
}

func (r *Registry) publish(apps []Config) {
	next := make([]Config, len(apps))
	index := make(map[string]int, len(apps))
	for i, cfg := range apps {
		next[i] = cfg.Clone()
		index[cfg.Name] = i
	}

	r.mu.Lock()
	r.apps = next
	r.index = index
	r.mu.Unlock()
}

func (r *Registry) notify() {
	if r.observer != nil {
		r.observer(r.Snapshot())
	}
}
