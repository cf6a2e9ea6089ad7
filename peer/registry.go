package peer

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Registry is the set of currently connected peers.
type Registry struct {
	peers []*Peer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add admits p. Adding the same peer twice is a no-op.
func (r *Registry) Add(p *Peer) {
	if r.Get(p.ID) != nil {
		return
	}
	r.peers = append(r.peers, p)

	logrus.WithFields(logrus.Fields{
		"function": "Add",
		"peer":     p.String(),
		"peer_id":  p.ID.String(),
		"count":    len(r.peers),
	}).Debug("Peer admitted")
}

// Remove drops p and reports whether it was present. It does not close the
// connection.
func (r *Registry) Remove(p *Peer) bool {
	for i, q := range r.peers {
		if q.ID == p.ID {
			r.peers = append(r.peers[:i], r.peers[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the peer with id, or nil.
func (r *Registry) Get(id uuid.UUID) *Peer {
	for _, p := range r.peers {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Find returns the first peer whose host or full endpoint equals addr.
func (r *Registry) Find(addr string) *Peer {
	for _, p := range r.peers {
		if p.Host() == addr || p.String() == addr {
			return p
		}
	}
	return nil
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id uuid.UUID) bool {
	return r.Get(id) != nil
}

// All returns a snapshot of the registered peers in admission order.
func (r *Registry) All() []*Peer {
	out := make([]*Peer, len(r.peers))
	copy(out, r.peers)
	return out
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	return len(r.peers)
}

// CloseAll closes and removes every peer, best-effort.
func (r *Registry) CloseAll() {
	for _, p := range r.peers {
		if err := p.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "CloseAll",
				"peer":     p.String(),
				"error":    err.Error(),
			}).Debug("Error closing peer")
		}
	}
	r.peers = nil
}
