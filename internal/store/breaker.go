package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/keyguard/pkg/models"
	"github.com/sony/gobreaker"
)

var _ Store = (*BreakerStore)(nil)

// BreakerStore wraps a Store with a circuit breaker so a dead database fails
// fast with ErrUnavailable instead of stacking up query timeouts.
// Only ErrUnavailable counts as a failure; ErrNotFound and duplicates do not.
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerStore trips after consecutiveFailures unavailable errors in a row
// and probes again once openTimeout has elapsed.
func NewBreakerStore(next Store, name string, consecutiveFailures int, openTimeout time.Duration) *BreakerStore {
	threshold := safeIntToUint32(consecutiveFailures)
	if threshold == 0 {
		threshold = 1
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("store circuit breaker state change",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			return !errors.Is(err, ErrUnavailable)
		},
	}

	return &BreakerStore{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n)
}

// State returns the current breaker state.
func (b *BreakerStore) State() gobreaker.State {
	return b.cb.State()
}

// Ping bypasses the breaker so health checks see the real database state.
func (b *BreakerStore) Ping(ctx context.Context) error {
	return b.next.Ping(ctx)
}

func (b *BreakerStore) Insert(ctx context.Context, c *models.Credential) error {
	_, err := b.execute("insert credential", func() (interface{}, error) {
		return nil, b.next.Insert(ctx, c)
	})
	return err
}

func (b *BreakerStore) FindByDigest(ctx context.Context, digest string) (*models.Credential, error) {
	res, err := b.execute("find credential by digest", func() (interface{}, error) {
		return b.next.FindByDigest(ctx, digest)
	})
	if err != nil {
		return nil, err
	}
	return res.(*models.Credential), nil
}

func (b *BreakerStore) List(ctx context.Context, filter ListFilter) ([]*models.Credential, error) {
	res, err := b.execute("list credentials", func() (interface{}, error) {
		return b.next.List(ctx, filter)
	})
	if err != nil {
		return nil, err
	}
	return res.([]*models.Credential), nil
}

func (b *BreakerStore) SetInactive(ctx context.Context, id int64) (bool, error) {
	res, err := b.execute("revoke credential", func() (interface{}, error) {
		return b.next.SetInactive(ctx, id)
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (b *BreakerStore) execute(op string, fn func() (interface{}, error)) (interface{}, error) {
	res, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return res, err
}
