package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"peercord/internal/core/domain"
	"peercord/internal/core/ports"
	"peercord/pkg/tracing"
)

const (
	peerKeyPrefix  = "peercord:peer:"
	onlineIndexKey = "peercord:peers:online"
)

// registerScript claims an identity unless another session already holds it.
var registerScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "session_id")
if current and current ~= ARGV[1] then
	return 0
end
redis.call("HSET", KEYS[1], "session_id", ARGV[1], "connected_at", ARGV[2], "last_seen", ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[5])
return 1
`)

// unregisterScript removes an identity only while it belongs to the session.
var unregisterScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "session_id")
if not current then
	return -1
end
if current ~= ARGV[1] then
	return 0
end
redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[2])
return 1
`)

// RedisPeerDirectory shares broker presence across instances. Records expire
// after ttl unless touched.
type RedisPeerDirectory struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPeerDirectory(client *redis.Client, ttl time.Duration) ports.PeerDirectory {
	return &RedisPeerDirectory{
		client: client,
		ttl:    ttl,
	}
}

func (r *RedisPeerDirectory) peerKey(id domain.PeerID) string {
	return peerKeyPrefix + string(id)
}

func (r *RedisPeerDirectory) Register(ctx context.Context, p ports.PeerPresence) error {
	ctx, span := tracing.TraceDirectoryOperation(ctx, "register", "redis")
	defer span.End()
	tracing.AddSpanAttributes(ctx, tracing.PeerIDKey.String(string(p.ID)))

	ok, err := registerScript.Run(ctx, r.client,
		[]string{r.peerKey(p.ID), onlineIndexKey},
		p.SessionID,
		p.ConnectedAt.UnixMilli(),
		p.LastSeen.UnixMilli(),
		r.ttl.Milliseconds(),
		string(p.ID),
	).Int()
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to register peer in Redis: %w", err)
	}
	if ok == 0 {
		tracing.RecordError(ctx, domain.ErrIdentityTaken)
		return domain.ErrIdentityTaken
	}
	return nil
}

func (r *RedisPeerDirectory) Touch(ctx context.Context, id domain.PeerID, at time.Time) error {
	key := r.peerKey(id)
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check peer in Redis: %w", err)
	}
	if exists == 0 {
		return domain.ErrPeerNotFound
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "last_seen", at.UnixMilli())
		pipe.PExpire(ctx, key, r.ttl)
		pipe.ZAdd(ctx, onlineIndexKey, redis.Z{Score: float64(at.UnixMilli()), Member: string(id)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to touch peer in Redis: %w", err)
	}
	return nil
}

func (r *RedisPeerDirectory) Unregister(ctx context.Context, id domain.PeerID, sessionID string) error {
	ctx, span := tracing.TraceDirectoryOperation(ctx, "unregister", "redis")
	defer span.End()
	tracing.AddSpanAttributes(ctx, tracing.PeerIDKey.String(string(id)))

	res, err := unregisterScript.Run(ctx, r.client,
		[]string{r.peerKey(id), onlineIndexKey},
		sessionID,
		string(id),
	).Int()
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to unregister peer in Redis: %w", err)
	}
	if res < 0 {
		return domain.ErrPeerNotFound
	}
	return nil
}

func (r *RedisPeerDirectory) Get(ctx context.Context, id domain.PeerID) (*ports.PeerPresence, error) {
	fields, err := r.client.HGetAll(ctx, r.peerKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get peer from Redis: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrPeerNotFound
	}
	return decodePresence(id, fields)
}

// List returns identities seen within the ttl window.
func (r *RedisPeerDirectory) List(ctx context.Context) ([]ports.PeerPresence, error) {
	cutoff := time.Now().Add(-r.ttl).UnixMilli()
	if err := r.client.ZRemRangeByScore(ctx, onlineIndexKey, "-inf", "("+strconv.FormatInt(cutoff, 10)).Err(); err != nil {
		return nil, fmt.Errorf("failed to prune online index: %w", err)
	}

	ids, err := r.client.ZRange(ctx, onlineIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list online peers from Redis: %w", err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, r.peerKey(domain.PeerID(id)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load peers from Redis: %w", err)
	}

	peers := make([]ports.PeerPresence, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// Expired between the index read and the fetch.
			continue
		}
		p, err := decodePresence(domain.PeerID(ids[i]), fields)
		if err != nil {
			continue
		}
		peers = append(peers, *p)
	}

	return peers, nil
}

func decodePresence(id domain.PeerID, fields map[string]string) (*ports.PeerPresence, error) {
	connectedAt, err := strconv.ParseInt(fields["connected_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid connected_at for %s: %w", id, err)
	}
	lastSeen, err := strconv.ParseInt(fields["last_seen"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid last_seen for %s: %w", id, err)
	}
	return &ports.PeerPresence{
		ID:          id,
		SessionID:   fields["session_id"],
		ConnectedAt: time.UnixMilli(connectedAt),
		LastSeen:    time.UnixMilli(lastSeen),
	}, nil
}
