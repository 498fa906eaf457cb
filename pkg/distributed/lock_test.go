package distributed

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *redis.Client {
	addr := os.Getenv("PEERCORD_TEST_REDIS")
	if addr == "" {
		t.Skip("PEERCORD_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestLock_Exclusive(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	key := "peercord:test:lock:" + t.Name()
	client.Del(ctx, key)

	first := NewLock(client, key, time.Second)
	second := NewLock(client, key, time.Second)

	ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, second.Release(ctx), ErrNotHeld)

	// Renewal keeps the lease past its ttl.
	time.Sleep(1500 * time.Millisecond)
	locked, err := first.IsLocked(ctx)
	require.NoError(t, err)
	assert.True(t, locked)

	require.NoError(t, first.Release(ctx))
	require.NoError(t, second.Acquire(ctx, time.Second))
	require.NoError(t, second.Release(ctx))
}

func TestLock_AcquireTimesOut(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	key := "peercord:test:lock:" + t.Name()
	client.Del(ctx, key)

	holder := NewLock(client, key, 5*time.Second)
	require.NoError(t, holder.Acquire(ctx, time.Second))
	defer holder.Release(ctx)

	assert.ErrorIs(t, NewLock(client, key, time.Second).Acquire(ctx, 200*time.Millisecond), ErrLockTimeout)
}
