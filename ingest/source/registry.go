package source

import (
	"sort"
	"sync"

	"github.com/teranos/jobpulse/errors"
)

// Registry maps feed formats to adapters
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// NewDefaultRegistry registers the rss and json adapters over fetcher
func NewDefaultRegistry(fetcher Fetcher) *Registry {
	r := NewRegistry()
	// formats are distinct, Register cannot fail here
	_ = r.Register(NewRSSAdapter(fetcher))
	_ = r.Register(NewJSONAdapter(fetcher))
	return r
}

// Register adds a; registering a format twice is an error
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[a.Format()]; exists {
		return errors.Newf("adapter for format %q already registered", a.Format())
	}
	r.adapters[a.Format()] = a
	return nil
}

// Get returns the adapter for format
func (r *Registry) Get(format string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[format]
	if !ok {
		err := errors.Wrapf(errors.ErrInvalidRequest, "no adapter for feed format %q", format)
		return nil, errors.WithHintf(err, "known formats: %v", r.formatsLocked())
	}
	return a, nil
}

// Formats lists registered formats, sorted
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.formatsLocked()
}

func (r *Registry) formatsLocked() []string {
	formats := make([]string, 0, len(r.adapters))
	for f := range r.adapters {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	return formats
}
