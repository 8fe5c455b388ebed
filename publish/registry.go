package publish

import (
	"sync"

	"go.uber.org/zap"
)

// Registry owns one Hub per named channel, created lazily on first use.
// It satisfies depth.SubscriberCounter so depth.Adapter can query any
// channel's subscriber count without depending on the publish package.
type Registry struct {
	mu     sync.Mutex
	logger *zap.Logger
	hubs   map[string]*Hub
}

// NewRegistry builds an empty Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{logger: logger, hubs: make(map[string]*Hub)}
}

// Channel returns the named channel's Hub, creating it if this is the
// first reference.
func (r *Registry) Channel(name string) *Hub {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hubs[name]
	if !ok {
		h = NewHub(name, r.logger)
		r.hubs[name] = h
	}
	return h
}

// NumSubscribers implements depth.SubscriberCounter: a channel that was
// never referenced has zero subscribers, same as one that was created and
// emptied.
func (r *Registry) NumSubscribers(name string) int {
	r.mu.Lock()
	h, ok := r.hubs[name]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	return h.NumSubscribers()
}

// Close closes every channel registered so far.
func (r *Registry) Close() error {
	r.mu.Lock()
	hubs := make([]*Hub, 0, len(r.hubs))
	for _, h := range r.hubs {
		hubs = append(hubs, h)
	}
	r.mu.Unlock()

	for _, h := range hubs {
		h.Close()
	}
	return nil
}
