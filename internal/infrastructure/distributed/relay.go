package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"peercord/internal/infrastructure/signal"
)

// RelayChannel is the pub/sub channel shared by broker instances.
const RelayChannel = "peercord:signal:relay"

// envelope wraps a relayed message with the instance that published it.
type envelope struct {
	InstanceID string         `json:"instance_id"`
	SentAt     time.Time      `json:"sent_at"`
	Message    signal.Message `json:"message"`
}

// RedisRelay carries signaling messages between broker instances over Redis
// pub/sub. Every instance receives every message and delivers the ones whose
// target it holds.
type RedisRelay struct {
	client     *redis.Client
	instanceID string
	channel    string
	logger     *zap.SugaredLogger
}

func NewRedisRelay(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *RedisRelay {
	return &RedisRelay{
		client:     client,
		instanceID: instanceID,
		channel:    RelayChannel,
		logger:     logger,
	}
}

func (r *RedisRelay) Publish(ctx context.Context, msg signal.Message) error {
	data, err := json.Marshal(envelope{
		InstanceID: r.instanceID,
		SentAt:     time.Now(),
		Message:    msg,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal relayed message: %w", err)
	}

	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish relayed message: %w", err)
	}

	r.logger.Debugw("relayed message",
		"type", msg.Type,
		"from_peer", msg.From,
		"to_peer", msg.To,
	)
	return nil
}

// Subscribe delivers messages published by other instances until ctx is
// cancelled.
func (r *RedisRelay) Subscribe(ctx context.Context, deliver func(signal.Message)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Receive blocks until the subscription is confirmed.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	r.logger.Infow("subscribed to signal relay", "channel", r.channel, "instance_id", r.instanceID)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warnw("failed to unmarshal relayed message",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}
			if env.InstanceID == r.instanceID {
				continue
			}
			deliver(env.Message)
		}
	}
}
