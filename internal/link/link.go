package link

import (
	"context"
	"sync"

	"meshbridge/pkg/metrics"
)

// Link is one attached radio or gateway. Send delivers a text message on
// the given channel and blocks until the transport accepts it, the
// context is done, or the transport reports failure.
type Link interface {
	Name() string
	Send(ctx context.Context, text string, channel int) error
}

// Registry holds the attached links in registration order. Fan-out
// iterates links in that order, so ordering is part of the contract.
type Registry struct {
	mu     sync.RWMutex
	links  []Link
	byName map[string]Link
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Link),
	}
}

// Register adds a link. A link with a name already present replaces the
// previous one in place, keeping its position in the fan-out order.
func (r *Registry) Register(l Link) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[l.Name()]; ok {
		for i, existing := range r.links {
			if existing.Name() == l.Name() {
				r.links[i] = l
				break
			}
		}
	} else {
		r.links = append(r.links, l)
	}
	r.byName[l.Name()] = l

	metrics.SetConnectedLinks(len(r.links))
}

func (r *Registry) Get(name string) (Link, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.byName[name]
	return l, ok
}

// Links returns a snapshot of the registered links in registration
// order.
func (r *Registry) Links() []Link {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Link, len(r.links))
	copy(out, r.links)
	return out
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.links))
	for _, l := range r.links {
		out = append(out, l.Name())
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.links)
}
