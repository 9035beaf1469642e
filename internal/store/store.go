package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/keyguard/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrUnavailable marks every failure to reach or complete an operation on the
// backing database: lost connections, timeouts, driver errors, an open breaker.
var ErrUnavailable = errors.New("credential store unavailable")

// DefaultQueryTimeout bounds each store call when no timeout is configured.
const DefaultQueryTimeout = 5 * time.Second

// Store is the credential data access interface. All database operations go through here.
// Each method touches at most one row for writes and is atomic at that granularity.
type Store interface {
	Ping(ctx context.Context) error

	// Insert persists c, assigning c.ID and c.CreatedAt.
	Insert(ctx context.Context, c *models.Credential) error
	// FindByDigest returns ErrNotFound when no row has the digest.
	FindByDigest(ctx context.Context, digest string) (*models.Credential, error)
	// List returns credentials newest first.
	List(ctx context.Context, filter ListFilter) ([]*models.Credential, error)
	// SetInactive reports whether an active row with id existed and was flipped.
	SetInactive(ctx context.Context, id int64) (bool, error)
}

// ListFilter narrows List. With ActiveOnly, revoked rows and rows expired at
// Now are excluded; a zero Now means the store's current time.
type ListFilter struct {
	ActiveOnly bool
	Now        time.Time
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultQueryTimeout
	}
	return context.WithTimeout(ctx, d)
}
