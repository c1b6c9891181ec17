// Package sources holds the pluggable fetchers that retrieve media for one
// external platform each, and the registry the worker pool dispatches through.
package sources

import (
	"context"
	"sort"
	"sync"
)

// ProgressFunc receives download progress as a percentage in [0, 100].
type ProgressFunc func(percent float64)

// Adapter fetches the media behind url and returns the local file path.
// Implementations should report incremental progress through progress when
// they can; progress is never nil.
type Adapter interface {
	Fetch(ctx context.Context, url string, progress ProgressFunc) (string, error)
}

// AdapterFunc lets an ordinary function act as an Adapter.
type AdapterFunc func(ctx context.Context, url string, progress ProgressFunc) (string, error)

// Fetch calls f.
func (f AdapterFunc) Fetch(ctx context.Context, url string, progress ProgressFunc) (string, error) {
	return f(ctx, url, progress)
}

// Registry maps source tags to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register binds tag to adapter, replacing any previous binding.
func (r *Registry) Register(tag string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[tag] = adapter
}

// Lookup returns the adapter registered for tag.
func (r *Registry) Lookup(tag string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[tag]
	return a, ok
}

// Tags returns the registered tags in sorted order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.adapters))
	for tag := range r.adapters {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
