package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLoop_RunsTasksInOrder(t *testing.T) {
	idle := 0
	l := NewEventLoop(func() { idle++ })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var got []int
	var wg sync.WaitGroup
	wg.Add(1)
	for i := 0; i < 5; i++ {
		i := i
		require.True(t, l.Post(func() { got = append(got, i) }))
	}
	require.True(t, l.Post(wg.Done))
	wg.Wait()

	var seen []int
	var idleSeen int
	require.NoError(t, l.Call(func() {
		seen = append(seen, got...)
		idleSeen = idle
	}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, seen)
	assert.GreaterOrEqual(t, idleSeen, 1)
}

func TestEventLoop_StoppedRejectsWork(t *testing.T) {
	l := NewEventLoop(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	cancel()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	assert.False(t, l.Post(func() {}))
	assert.ErrorIs(t, l.Call(func() {}), ErrLoopClosed)
}

func TestEventLoop_StopReleasesWaitingCaller(t *testing.T) {
	l := NewEventLoop(nil)
	// Nothing runs the loop, so the call can only return through Stop.
	errs := make(chan error, 1)
	go func() { errs <- l.Call(func() {}) }()

	time.Sleep(10 * time.Millisecond)
	l.Stop()
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrLoopClosed)
	case <-time.After(time.Second):
		t.Fatal("caller was not released")
	}
}
