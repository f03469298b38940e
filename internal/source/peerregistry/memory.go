// Package peerregistry provides an in-memory PeerRegistry implementation,
// grounded on the teacher's validate-then-store config pattern
// (internal/replication/manager.go's SetTenantPlacement / AddFollower).
package peerregistry

import (
	"sync"

	"github.com/waldrift/waldrift/internal/source"
)

// Registry is an in-memory source.PeerRegistry. The peer set in this spec is
// node-local configuration pushed by an operator or config file, not a
// replicated/clustered resource, so no external store is required.
type Registry struct {
	mu    sync.RWMutex
	peers map[source.PeerID]*source.Peer
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{peers: make(map[source.PeerID]*source.Peer)}
}

func (r *Registry) Add(id source.PeerID, cfg source.PeerConfig) (*source.Peer, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.peers[id]; ok {
		return existing, false, nil
	}
	p := &source.Peer{ID: id, Config: cfg}
	r.peers[id] = p
	return p, true, nil
}

func (r *Registry) Remove(id source.PeerID) (source.PeerConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[id]
	if !ok {
		return source.PeerConfig{}, false
	}
	delete(r.peers, id)
	return p.Config, true
}

func (r *Registry) Get(id source.PeerID) (*source.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

func (r *Registry) List() []*source.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*source.Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

func (r *Registry) Replace(id source.PeerID, cfg source.PeerConfig) (*source.Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[id]; !ok {
		return nil, false
	}
	p := &source.Peer{ID: id, Config: cfg}
	r.peers[id] = p
	return p, true
}
