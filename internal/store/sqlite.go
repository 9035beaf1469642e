package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/keyguard/pkg/models"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB provides dual reader/writer SQLite connections with WAL mode enabled.
// The writer is limited to a single connection to avoid "database is locked" errors.
type DB struct {
	Writer *sql.DB
	Reader *sql.DB
}

// OpenSQLite opens the database file at path with WAL mode, busy timeout and
// synchronous NORMAL.
func OpenSQLite(path string) (*DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)",
		path,
	)
	return openSQLite(dsn)
}

func openSQLite(dsn string) (*DB, error) {
	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	if err := writer.Ping(); err != nil {
		writer.Close()
		return nil, fmt.Errorf("ping writer: %w", err)
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)

	if err := reader.Ping(); err != nil {
		reader.Close()
		writer.Close()
		return nil, fmt.Errorf("ping reader: %w", err)
	}

	return &DB{Writer: writer, Reader: reader}, nil
}

// Close closes both connections and returns the first error encountered.
func (db *DB) Close() error {
	var firstErr error
	if err := db.Reader.Close(); err != nil {
		firstErr = fmt.Errorf("close reader: %w", err)
	}
	if err := db.Writer.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close writer: %w", err)
	}
	return firstErr
}

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is the single-node Store backend. Timestamps are stored as Unix
// microseconds and allowed IPs as a JSON array.
type SQLiteStore struct {
	db      *DB
	timeout time.Duration
	now     func() time.Time
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithSQLiteClock overrides the clock used for created_at and active-only listing.
func WithSQLiteClock(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) { s.now = now }
}

func NewSQLiteStore(db *DB, timeout time.Duration, opts ...SQLiteOption) *SQLiteStore {
	s := &SQLiteStore{db: db, timeout: timeout, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.db.Reader.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *SQLiteStore) Insert(ctx context.Context, c *models.Credential) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	ips := c.AllowedIPs
	if ips == nil {
		ips = []string{}
	}
	ipsJSON, err := json.Marshal(ips)
	if err != nil {
		return fmt.Errorf("encode allowed ips: %w", err)
	}

	createdAt := s.now().UTC().Truncate(time.Microsecond)
	const query = `INSERT INTO api_keys (name, secret_digest, created_at, expires_at, allowed_ips, active)
		VALUES (?, ?, ?, ?, ?, 1)`
	res, err := s.db.Writer.ExecContext(ctx, query,
		c.Name, c.SecretDigest, createdAt.UnixMicro(), c.ExpiresAt.UnixMicro(), string(ipsJSON))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return unavailable("insert credential", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return unavailable("insert credential", err)
	}

	c.ID = id
	c.CreatedAt = createdAt
	c.ExpiresAt = c.ExpiresAt.UTC().Truncate(time.Microsecond)
	c.AllowedIPs = ips
	c.Active = true
	return nil
}

func (s *SQLiteStore) FindByDigest(ctx context.Context, digest string) (*models.Credential, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	const query = `SELECT ` + credentialColumns + ` FROM api_keys WHERE secret_digest = ?`
	c, err := scanSQLiteCredential(s.db.Reader.QueryRowContext(ctx, query, digest))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("find credential by digest", err)
	}
	return c, nil
}

func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]*models.Credential, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT ` + credentialColumns + ` FROM api_keys`
	var args []any
	if filter.ActiveOnly {
		now := filter.Now
		if now.IsZero() {
			now = s.now()
		}
		query += ` WHERE active = 1 AND expires_at > ?`
		args = append(args, now.UnixMicro())
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list credentials", err)
	}
	defer rows.Close()

	creds := []*models.Credential{}
	for rows.Next() {
		c, err := scanSQLiteCredential(rows)
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

func (s *SQLiteStore) SetInactive(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.Writer.ExecContext(ctx, `UPDATE api_keys SET active = 0 WHERE id = ? AND active = 1`, id)
	if err != nil {
		return false, unavailable("revoke credential", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("revoke credential", err)
	}
	return n == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteCredential(row rowScanner) (*models.Credential, error) {
	var (
		c                  models.Credential
		createdAt, expires int64
		ipsJSON            string
		active             int
	)
	if err := row.Scan(&c.ID, &c.Name, &c.SecretDigest, &createdAt, &expires, &ipsJSON, &active); err != nil {
		return nil, err
	}
	c.CreatedAt = time.UnixMicro(createdAt).UTC()
	c.ExpiresAt = time.UnixMicro(expires).UTC()
	c.Active = active == 1
	if err := json.Unmarshal([]byte(ipsJSON), &c.AllowedIPs); err != nil {
		return nil, fmt.Errorf("decode allowed ips for credential %d: %w", c.ID, err)
	}
	if c.AllowedIPs == nil {
		c.AllowedIPs = []string{}
	}
	return &c, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlitelib.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
