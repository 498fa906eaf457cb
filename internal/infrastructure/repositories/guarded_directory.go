package repositories

import (
	"context"
	"errors"
	"time"

	"peercord/internal/core/domain"
	"peercord/internal/core/ports"
	"peercord/pkg/circuitbreaker"
)

// guardedDirectory fails fast while the backing store is unhealthy. Lookups
// that find nothing and identity conflicts are answers, not faults, and do
// not trip the breaker.
type guardedDirectory struct {
	inner   ports.PeerDirectory
	breaker *circuitbreaker.CircuitBreaker
}

func isStoreFailure(err error) bool {
	return !errors.Is(err, domain.ErrPeerNotFound) && !errors.Is(err, domain.ErrIdentityTaken)
}

func newGuardedDirectory(inner ports.PeerDirectory, breaker *circuitbreaker.CircuitBreaker) ports.PeerDirectory {
	return &guardedDirectory{inner: inner, breaker: breaker}
}

func (d *guardedDirectory) Register(ctx context.Context, p ports.PeerPresence) error {
	return d.breaker.Execute(ctx, func() error { return d.inner.Register(ctx, p) })
}

func (d *guardedDirectory) Touch(ctx context.Context, id domain.PeerID, at time.Time) error {
	return d.breaker.Execute(ctx, func() error { return d.inner.Touch(ctx, id, at) })
}

func (d *guardedDirectory) Unregister(ctx context.Context, id domain.PeerID, sessionID string) error {
	return d.breaker.Execute(ctx, func() error { return d.inner.Unregister(ctx, id, sessionID) })
}

func (d *guardedDirectory) Get(ctx context.Context, id domain.PeerID) (*ports.PeerPresence, error) {
	return circuitbreaker.ExecuteWithResult(ctx, d.breaker, func() (*ports.PeerPresence, error) {
		return d.inner.Get(ctx, id)
	})
}

func (d *guardedDirectory) List(ctx context.Context) ([]ports.PeerPresence, error) {
	return circuitbreaker.ExecuteWithResult(ctx, d.breaker, func() ([]ports.PeerPresence, error) {
		return d.inner.List(ctx)
	})
}
