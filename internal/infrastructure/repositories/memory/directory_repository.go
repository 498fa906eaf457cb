package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"peercord/internal/core/domain"
	"peercord/internal/core/ports"
)

type MemoryPeerDirectory struct {
	peers map[domain.PeerID]ports.PeerPresence
	mu    sync.RWMutex
}

func NewMemoryPeerDirectory() ports.PeerDirectory {
	return &MemoryPeerDirectory{
		peers: make(map[domain.PeerID]ports.PeerPresence),
	}
}

func (r *MemoryPeerDirectory) Register(ctx context.Context, p ports.PeerPresence) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.peers[p.ID]; exists && existing.SessionID != p.SessionID {
		return domain.ErrIdentityTaken
	}

	r.peers[p.ID] = p
	return nil
}

func (r *MemoryPeerDirectory) Touch(ctx context.Context, id domain.PeerID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.peers[id]
	if !exists {
		return domain.ErrPeerNotFound
	}

	p.LastSeen = at
	r.peers[id] = p
	return nil
}

// Unregister removes the record only while it still belongs to sessionID.
func (r *MemoryPeerDirectory) Unregister(ctx context.Context, id domain.PeerID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.peers[id]
	if !exists {
		return domain.ErrPeerNotFound
	}
	if p.SessionID != sessionID {
		return nil
	}

	delete(r.peers, id)
	return nil
}

func (r *MemoryPeerDirectory) Get(ctx context.Context, id domain.PeerID) (*ports.PeerPresence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.peers[id]
	if !exists {
		return nil, domain.ErrPeerNotFound
	}

	return &p, nil
}

func (r *MemoryPeerDirectory) List(ctx context.Context) ([]ports.PeerPresence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]ports.PeerPresence, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}

	sort.Slice(peers, func(i, j int) bool {
		return peers[i].ID < peers[j].ID
	})

	return peers, nil
}
