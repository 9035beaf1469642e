package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kiranshivaraju/keyguard/internal/store"
	"github.com/kiranshivaraju/keyguard/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreSuite exercises the behaviour every Store backend must share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("InsertAndFind", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		expires := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Microsecond)

		c := &models.Credential{
			Name:         "billing",
			SecretDigest: "digest-1",
			ExpiresAt:    expires,
			AllowedIPs:   []string{"10.0.0.1", "2001:db8::1"},
		}
		require.NoError(t, s.Insert(ctx, c))
		assert.Positive(t, c.ID)
		assert.False(t, c.CreatedAt.IsZero())
		assert.True(t, c.Active)

		got, err := s.FindByDigest(ctx, "digest-1")
		require.NoError(t, err)
		assert.Equal(t, c.ID, got.ID)
		assert.Equal(t, "billing", got.Name)
		assert.Equal(t, "digest-1", got.SecretDigest)
		assert.True(t, got.Active)
		assert.Equal(t, []string{"10.0.0.1", "2001:db8::1"}, got.AllowedIPs)
		assert.WithinDuration(t, expires, got.ExpiresAt, time.Microsecond)
		assert.WithinDuration(t, c.CreatedAt, got.CreatedAt, time.Microsecond)
	})

	t.Run("NilAllowedIPsStoredEmpty", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		c := &models.Credential{Name: "open", SecretDigest: "digest-open", ExpiresAt: time.Now().Add(time.Hour)}
		require.NoError(t, s.Insert(ctx, c))

		got, err := s.FindByDigest(ctx, "digest-open")
		require.NoError(t, err)
		assert.NotNil(t, got.AllowedIPs)
		assert.Empty(t, got.AllowedIPs)
	})

	t.Run("DuplicateDigest", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first := &models.Credential{Name: "a", SecretDigest: "same", ExpiresAt: time.Now().Add(time.Hour)}
		require.NoError(t, s.Insert(ctx, first))

		second := &models.Credential{Name: "b", SecretDigest: "same", ExpiresAt: time.Now().Add(time.Hour)}
		err := s.Insert(ctx, second)
		assert.ErrorIs(t, err, store.ErrDuplicateKey)
	})

	t.Run("FindUnknownDigest", func(t *testing.T) {
		s := newStore(t)

		_, err := s.FindByDigest(context.Background(), "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.NotErrorIs(t, err, store.ErrUnavailable)
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var ids []int64
		for i := 0; i < 3; i++ {
			c := &models.Credential{
				Name:         fmt.Sprintf("key-%d", i),
				SecretDigest: fmt.Sprintf("digest-%d", i),
				ExpiresAt:    time.Now().Add(time.Hour),
			}
			require.NoError(t, s.Insert(ctx, c))
			ids = append(ids, c.ID)
		}

		creds, err := s.List(ctx, store.ListFilter{})
		require.NoError(t, err)
		require.Len(t, creds, 3)
		assert.Equal(t, ids[2], creds[0].ID)
		assert.Equal(t, ids[1], creds[1].ID)
		assert.Equal(t, ids[0], creds[2].ID)
	})

	t.Run("ListEmpty", func(t *testing.T) {
		s := newStore(t)

		creds, err := s.List(context.Background(), store.ListFilter{ActiveOnly: true})
		require.NoError(t, err)
		assert.NotNil(t, creds)
		assert.Empty(t, creds)
	})

	t.Run("ListActiveOnly", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now()

		live := &models.Credential{Name: "live", SecretDigest: "d-live", ExpiresAt: now.Add(time.Hour)}
		revoked := &models.Credential{Name: "revoked", SecretDigest: "d-revoked", ExpiresAt: now.Add(time.Hour)}
		expired := &models.Credential{Name: "expired", SecretDigest: "d-expired", ExpiresAt: now.Add(-time.Minute)}
		for _, c := range []*models.Credential{live, revoked, expired} {
			require.NoError(t, s.Insert(ctx, c))
		}
		ok, err := s.SetInactive(ctx, revoked.ID)
		require.NoError(t, err)
		require.True(t, ok)

		all, err := s.List(ctx, store.ListFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		active, err := s.List(ctx, store.ListFilter{ActiveOnly: true, Now: now})
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, live.ID, active[0].ID)

		// Moving the clock past the live key's expiry empties the active view.
		later, err := s.List(ctx, store.ListFilter{ActiveOnly: true, Now: now.Add(2 * time.Hour)})
		require.NoError(t, err)
		assert.Empty(t, later)
	})

	t.Run("SetInactiveOnce", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		c := &models.Credential{Name: "k", SecretDigest: "d-k", ExpiresAt: time.Now().Add(time.Hour)}
		require.NoError(t, s.Insert(ctx, c))

		ok, err := s.SetInactive(ctx, c.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.SetInactive(ctx, c.ID)
		require.NoError(t, err)
		assert.False(t, ok, "second revoke must not report a change")

		got, err := s.FindByDigest(ctx, "d-k")
		require.NoError(t, err)
		assert.False(t, got.Active)
	})

	t.Run("SetInactiveUnknownID", func(t *testing.T) {
		s := newStore(t)

		ok, err := s.SetInactive(context.Background(), 999999)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Ping", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Ping(context.Background()))
	})
}
