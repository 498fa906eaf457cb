package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"peercord/internal/core/domain"
	"peercord/internal/core/ports"
)

// Runs against a live server when PEERCORD_TEST_REDIS is set.
func newTestDirectory(t *testing.T) ports.PeerDirectory {
	addr := os.Getenv("PEERCORD_TEST_REDIS")
	if addr == "" {
		t.Skip("PEERCORD_TEST_REDIS not set")
	}
	client, err := NewRedisClient(addr, "", 15, 4, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		CloseRedisClient(client)
	})
	return NewRedisPeerDirectory(client, time.Minute)
}

func TestRedisPeerDirectory(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	require.NoError(t, dir.Register(ctx, ports.PeerPresence{ID: "bob-1", SessionID: "s1", ConnectedAt: now, LastSeen: now}))
	assert.ErrorIs(t, dir.Register(ctx, ports.PeerPresence{ID: "bob-1", SessionID: "s2", ConnectedAt: now, LastSeen: now}), domain.ErrIdentityTaken)

	later := now.Add(time.Second)
	require.NoError(t, dir.Touch(ctx, "bob-1", later))

	p, err := dir.Get(ctx, "bob-1")
	require.NoError(t, err)
	assert.Equal(t, "s1", p.SessionID)
	assert.True(t, later.Equal(p.LastSeen))

	list, err := dir.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, dir.Unregister(ctx, "bob-1", "s2"))
	_, err = dir.Get(ctx, "bob-1")
	require.NoError(t, err)

	require.NoError(t, dir.Unregister(ctx, "bob-1", "s1"))
	_, err = dir.Get(ctx, "bob-1")
	assert.ErrorIs(t, err, domain.ErrPeerNotFound)
	assert.ErrorIs(t, dir.Unregister(ctx, "bob-1", "s1"), domain.ErrPeerNotFound)
}
