package store_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/kiranshivaraju/keyguard/internal/store"
	"github.com/kiranshivaraju/keyguard/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupSQLite opens a fresh migrated database in a per-test directory.
func setupSQLite(t *testing.T) *store.DB {
	t.Helper()

	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "keyguard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, store.RunSQLiteMigrations(db.Writer))
	return db
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) store.Store {
		return store.NewSQLiteStore(setupSQLite(t), time.Second)
	})
}

func TestSQLiteStore_MigrationsIdempotent(t *testing.T) {
	db := setupSQLite(t)
	assert.NoError(t, store.RunSQLiteMigrations(db.Writer))
}

func TestSQLiteStore_CreatedAtFromClock(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := store.NewSQLiteStore(setupSQLite(t), time.Second, store.WithSQLiteClock(func() time.Time { return fixed }))
	ctx := context.Background()

	c := &models.Credential{Name: "clocked", SecretDigest: "d-clocked", ExpiresAt: fixed.Add(time.Hour)}
	require.NoError(t, s.Insert(ctx, c))
	assert.Equal(t, fixed, c.CreatedAt)

	// A zero Now in the filter falls back to the store clock.
	active, err := s.List(ctx, store.ListFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
}

func TestSQLiteStore_RowsAreAppendOnly(t *testing.T) {
	db := setupSQLite(t)
	s := store.NewSQLiteStore(db, time.Second)
	ctx := context.Background()

	c := &models.Credential{Name: "guarded", SecretDigest: "d-guarded", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.Insert(ctx, c))

	_, err := db.Writer.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, c.ID)
	assert.Error(t, err)

	ok, err := s.SetInactive(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = db.Writer.ExecContext(ctx, `UPDATE api_keys SET active = 1 WHERE id = ?`, c.ID)
	assert.Error(t, err)
}

// --- driver failure mapping ---

func newMockStore(t *testing.T) (*store.SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return store.NewSQLiteStore(&store.DB{Writer: db, Reader: db}, time.Second), mock
}

func TestSQLiteStore_FindDriverErrorIsUnavailable(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM api_keys WHERE secret_digest").
		WithArgs("d").
		WillReturnError(errors.New("disk I/O error"))

	_, err := s.FindByDigest(context.Background(), "d")
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.NotErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_FindNoRowsIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM api_keys WHERE secret_digest").
		WithArgs("d").
		WillReturnError(sql.ErrNoRows)

	_, err := s.FindByDigest(context.Background(), "d")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_InsertDriverErrorIsUnavailable(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO api_keys").
		WillReturnError(errors.New("database is locked"))

	err := s.Insert(context.Background(), &models.Credential{Name: "x", SecretDigest: "d", ExpiresAt: time.Now()})
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_ListDriverErrorIsUnavailable(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM api_keys").
		WillReturnError(errors.New("connection reset"))

	_, err := s.List(context.Background(), store.ListFilter{})
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_SetInactiveReportsRowsAffected(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE api_keys SET active = 0").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE api_keys SET active = 0").
		WithArgs(int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.SetInactive(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.SetInactive(context.Background(), 8)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_SetInactiveDriverErrorIsUnavailable(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE api_keys SET active = 0").
		WillReturnError(errors.New("disk full"))

	_, err := s.SetInactive(context.Background(), 1)
	assert.ErrorIs(t, err, store.ErrUnavailable)
}
