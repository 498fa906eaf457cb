package services

import (
	"context"
	"errors"
	"sync"
)

var ErrLoopClosed = errors.New("event loop closed")

// EventLoop runs posted tasks one at a time on a single goroutine. All client
// state is owned by the loop; other goroutines reach it only through Post/Call.
type EventLoop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	stopped bool
	idle    func()
}

// NewEventLoop creates a loop. idle, when set, runs after the queue drains.
func NewEventLoop(idle func()) *EventLoop {
	return &EventLoop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		idle: idle,
	}
}

// Run processes tasks until ctx is cancelled or Stop is called.
func (l *EventLoop) Run(ctx context.Context) {
	defer l.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case <-l.wake:
		}

		for {
			task, more := l.next()
			if task == nil {
				break
			}
			task()
			if !more && l.idle != nil {
				l.idle()
			}
		}
	}
}

func (l *EventLoop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 || l.stopped {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, len(l.queue) > 0
}

// Post enqueues fn without waiting. It reports false once the loop has stopped.
func (l *EventLoop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it. Must not be used from a task.
func (l *EventLoop) Call(fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrLoopClosed
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopClosed
	}
}

// Stop discards pending tasks and releases waiting callers.
func (l *EventLoop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	l.queue = nil
	close(l.done)
}

// Done is closed when the loop stops.
func (l *EventLoop) Done() <-chan struct{} {
	return l.done
}
