package keys

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/keyguard/internal/store"
	"github.com/kiranshivaraju/keyguard/pkg/models"
)

// UsageTracker records when keys are used. It is best-effort: failures
// never block validation or listing.
type UsageTracker interface {
	RecordUse(ctx context.Context, id int64, at time.Time) error
	Usage(ctx context.Context, ids []int64) (map[int64]models.Usage, error)
}

// Manager orchestrates the key lifecycle for administrators.
type Manager struct {
	store     store.Store
	generator *Generator
	opts      options
}

func NewManager(st store.Store, generator *Generator, opts ...Option) *Manager {
	return &Manager{store: st, generator: generator, opts: buildOptions(opts)}
}

// Create issues a new key. The returned CreatedKey is the only place the
// plaintext secret ever appears.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*models.CreatedKey, error) {
	secret, c, err := m.generator.Generate(ctx, p)
	if err != nil {
		return nil, err
	}
	m.opts.metrics.RecordCreated()
	slog.Info("api key created", "key_id", c.ID, "name", c.Name, "expires_at", c.ExpiresAt)

	return &models.CreatedKey{
		ID:         c.ID,
		Name:       c.Name,
		APIKey:     secret,
		ExpiresAt:  c.ExpiresAt,
		AllowedIPs: c.AllowedIPs,
	}, nil
}

// List returns public views of stored keys, newest first. With activeOnly,
// revoked and expired keys are omitted.
func (m *Manager) List(ctx context.Context, activeOnly bool) ([]models.CredentialView, error) {
	now := m.opts.now()
	creds, err := m.store.List(ctx, store.ListFilter{ActiveOnly: activeOnly, Now: now})
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}

	views := make([]models.CredentialView, 0, len(creds))
	for _, c := range creds {
		views = append(views, c.View(now))
	}
	m.mergeUsage(ctx, views)
	return views, nil
}

func (m *Manager) mergeUsage(ctx context.Context, views []models.CredentialView) {
	if m.opts.usage == nil || len(views) == 0 {
		return
	}
	ids := make([]int64, len(views))
	for i, v := range views {
		ids[i] = v.ID
	}
	usage, err := m.opts.usage.Usage(ctx, ids)
	if err != nil {
		slog.Warn("failed to load api key usage", "error", err)
		return
	}
	for i := range views {
		u, ok := usage[views[i].ID]
		if !ok {
			continue
		}
		lastUsed := u.LastUsedAt
		views[i].LastUsedAt = &lastUsed
		views[i].UseCount = u.Count
	}
}

// Revoke deactivates the key with id. It reports false when no active key
// with that id exists, including when it was already revoked.
func (m *Manager) Revoke(ctx context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, nil
	}
	ok, err := m.store.SetInactive(ctx, id)
	if err != nil {
		return false, fmt.Errorf("revoke api key %d: %w", id, err)
	}
	if ok {
		m.opts.metrics.RecordRevoked()
		slog.Info("api key revoked", "key_id", id)
	}
	return ok, nil
}

// RecordUse notes a successful validation of id. Errors are logged only.
func (m *Manager) RecordUse(ctx context.Context, id int64) {
	if m.opts.usage == nil {
		return
	}
	if err := m.opts.usage.RecordUse(ctx, id, m.opts.now()); err != nil {
		slog.Warn("failed to record api key usage", "key_id", id, "error", err)
	}
}
