package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/keyguard/pkg/models"
)

// Compile-time interface satisfaction check.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPostgresStore creates a new PostgresStore. Every query runs under timeout.
func NewPostgresStore(pool *pgxpool.Pool, timeout time.Duration) *PostgresStore {
	return &PostgresStore{pool: pool, timeout: timeout}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

const credentialColumns = `id, name, secret_digest, created_at, expires_at, allowed_ips, active`

func (s *PostgresStore) Insert(ctx context.Context, c *models.Credential) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	ips := c.AllowedIPs
	if ips == nil {
		ips = []string{}
	}

	const query = `INSERT INTO api_keys (name, secret_digest, expires_at, allowed_ips, active)
		 VALUES ($1, $2, $3, $4, TRUE)
		 RETURNING id, created_at`
	err := s.pool.QueryRow(ctx, query, c.Name, c.SecretDigest, c.ExpiresAt, ips).
		Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return unavailable("insert credential", err)
	}
	c.Active = true
	c.AllowedIPs = ips
	return nil
}

func (s *PostgresStore) FindByDigest(ctx context.Context, digest string) (*models.Credential, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	const query = `SELECT ` + credentialColumns + ` FROM api_keys WHERE secret_digest = $1`
	c, err := scanCredential(s.pool.QueryRow(ctx, query, digest))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("find credential by digest", err)
	}
	return c, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*models.Credential, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT ` + credentialColumns + ` FROM api_keys`
	var args []any
	if filter.ActiveOnly {
		if filter.Now.IsZero() {
			query += ` WHERE active AND expires_at > NOW()`
		} else {
			query += ` WHERE active AND expires_at > $1`
			args = append(args, filter.Now)
		}
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list credentials", err)
	}
	defer rows.Close()

	creds := []*models.Credential{}
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, unavailable("scan credential", err)
		}
		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate credentials", err)
	}
	return creds, nil
}

func (s *PostgresStore) SetInactive(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `UPDATE api_keys SET active = FALSE WHERE id = $1 AND active`, id)
	if err != nil {
		return false, unavailable("revoke credential", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanCredential(row pgx.Row) (*models.Credential, error) {
	var c models.Credential
	if err := row.Scan(&c.ID, &c.Name, &c.SecretDigest, &c.CreatedAt, &c.ExpiresAt,
		&c.AllowedIPs, &c.Active); err != nil {
		return nil, err
	}
	if c.AllowedIPs == nil {
		c.AllowedIPs = []string{}
	}
	return &c, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
