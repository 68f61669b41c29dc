package llm

import (
	"context"
	"fmt"
	"sync"
)

// Registry is a read-through cache of clients keyed by provider id.
// Clients are constructed lazily on first use and reused after; the
// registry is safe for concurrent callers and is passed around as a
// plain dependency.
type Registry struct {
	mu       sync.Mutex
	profiles map[string]ModelProfile
	clients  map[string]*Client
	factory  func(ctx context.Context, profile ModelProfile) (*Client, error)
}

// NewRegistry builds a registry over the configured profiles.
func NewRegistry(profiles map[string]ModelProfile) *Registry {
	return &Registry{
		profiles: profiles,
		clients:  make(map[string]*Client),
		factory:  NewClient,
	}
}

// Profile returns the profile for a provider id without constructing
// a client.
func (r *Registry) Profile(id string) (ModelProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return ModelProfile{}, fmt.Errorf("unknown provider %q", id)
	}
	if !p.Enabled {
		return ModelProfile{}, fmt.Errorf("provider %q is disabled", id)
	}
	return p, nil
}

// Get returns the cached client for a provider id, constructing it on
// first use. Construction failures are not cached; a later call
// retries.
func (r *Registry) Get(ctx context.Context, id string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[id]; ok {
		return c, nil
	}
	p, ok := r.profiles[id]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", id)
	}
	if !p.Enabled {
		return nil, fmt.Errorf("provider %q is disabled", id)
	}
	c, err := r.factory(ctx, p)
	if err != nil {
		return nil, err
	}
	r.clients[id] = c
	return c, nil
}
