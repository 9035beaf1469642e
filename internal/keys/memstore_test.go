package keys_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kiranshivaraju/keyguard/internal/store"
	"github.com/kiranshivaraju/keyguard/pkg/models"
)

// memStore is an in-memory store.Store for unit tests.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	rows   []*models.Credential
	now    func() time.Time
	err    error // returned by every call when set
}

var _ store.Store = (*memStore)(nil)

func newMemStore(now func() time.Time) *memStore {
	return &memStore{now: now}
}

func (s *memStore) Ping(context.Context) error { return s.err }

func (s *memStore) Insert(_ context.Context, c *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	for _, r := range s.rows {
		if r.SecretDigest == c.SecretDigest {
			return store.ErrDuplicateKey
		}
	}
	s.nextID++
	c.ID = s.nextID
	c.CreatedAt = s.now().Add(time.Duration(s.nextID) * time.Microsecond)
	c.Active = true
	if c.AllowedIPs == nil {
		c.AllowedIPs = []string{}
	}
	row := *c
	row.AllowedIPs = append([]string{}, c.AllowedIPs...)
	s.rows = append(s.rows, &row)
	return nil
}

func (s *memStore) FindByDigest(_ context.Context, digest string) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for _, r := range s.rows {
		if r.SecretDigest == digest {
			cp := *r
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *memStore) List(_ context.Context, f store.ListFilter) ([]*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	now := f.Now
	if now.IsZero() {
		now = s.now()
	}
	out := []*models.Credential{}
	for _, r := range s.rows {
		if f.ActiveOnly && (!r.Active || r.Expired(now)) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *memStore) SetInactive(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	for _, r := range s.rows {
		if r.ID == id && r.Active {
			r.Active = false
			return true, nil
		}
	}
	return false, nil
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
