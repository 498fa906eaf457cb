package memory

import (
	"context"
	"sync"

	"peercord/internal/core/domain"
	"peercord/internal/core/ports"
)

// MemoryChatRepository keeps the most recent messages; zero capacity means
// unbounded.
type MemoryChatRepository struct {
	messages []domain.ChatMessage
	capacity int
	mu       sync.RWMutex
}

func NewMemoryChatRepository(capacity int) ports.ChatRepository {
	return &MemoryChatRepository{capacity: capacity}
}

func (r *MemoryChatRepository) Append(ctx context.Context, msg domain.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = append(r.messages, msg)
	if r.capacity > 0 && len(r.messages) > r.capacity {
		r.messages = append(r.messages[:0:0], r.messages[len(r.messages)-r.capacity:]...)
	}
	return nil
}

func (r *MemoryChatRepository) List(ctx context.Context) ([]domain.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ChatMessage, len(r.messages))
	copy(out, r.messages)
	return out, nil
}
