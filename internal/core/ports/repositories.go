package ports

import (
	"context"
	"time"

	"peercord/internal/core/domain"
)

// ChatRepository is the append-only local chat history.
type ChatRepository interface {
	Append(ctx context.Context, msg domain.ChatMessage) error
	List(ctx context.Context) ([]domain.ChatMessage, error)
}

// PeerPresence is a broker directory record.
type PeerPresence struct {
	ID          domain.PeerID
	SessionID   string
	ConnectedAt time.Time
	LastSeen    time.Time
}

// PeerDirectory tracks identities registered on the signaling broker.
type PeerDirectory interface {
	Register(ctx context.Context, p PeerPresence) error
	Touch(ctx context.Context, id domain.PeerID, at time.Time) error
	Unregister(ctx context.Context, id domain.PeerID, sessionID string) error
	Get(ctx context.Context, id domain.PeerID) (*PeerPresence, error)
	List(ctx context.Context) ([]PeerPresence, error)
}
