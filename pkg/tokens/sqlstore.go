package tokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultTable is the table SQLStore uses unless overridden.
const DefaultTable = "focus_tokens"

// SQLStore is the durable token store, backed by a single database row. It
// is the source of truth: the cache layer is rebuilt from it, never the
// other way around. The table is created lazily on first use.
//
// The store is driver-agnostic; the caller opens the *sql.DB and registers
// whichever driver the deployment uses.
type SQLStore struct {
	db    *sql.DB
	table string

	ensureOnce sync.Once
	ensureErr  error
}

// SQLOption configures a SQLStore.
type SQLOption func(*SQLStore)

// WithTable overrides the table name.
func WithTable(table string) SQLOption {
	return func(s *SQLStore) {
		if table != "" {
			s.table = table
		}
	}
}

// NewSQLStore creates a durable store on the given database handle.
func NewSQLStore(db *sql.DB, opts ...SQLOption) *SQLStore {
	s := &SQLStore{db: db, table: DefaultTable}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ensureTable creates the token table if it does not exist yet. Guarded by a
// sync.Once so the DDL round-trip happens at most once per process.
func (s *SQLStore) ensureTable(ctx context.Context) error {
	s.ensureOnce.Do(func() {
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			access_token TEXT NOT NULL,
			refresh_token TEXT,
			token_type VARCHAR(32),
			expires_in INTEGER,
			expires_at TIMESTAMP,
			created_at TIMESTAMP,
			updated_at TIMESTAMP
		)`, s.table)
		_, s.ensureErr = s.db.ExecContext(ctx, ddl)
	})
	return s.ensureErr
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context) (*Token, error) {
	if err := s.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("ensuring token table: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT access_token, refresh_token, token_type, expires_in, expires_at, updated_at FROM %s WHERE id = 1`,
		s.table)

	var (
		token        Token
		refreshToken sql.NullString
		tokenType    sql.NullString
		expiresIn    sql.NullInt64
		expiresAt    sql.NullTime
		updatedAt    sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query).Scan(
		&token.AccessToken, &refreshToken, &tokenType, &expiresIn, &expiresAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("reading token row: %w", err)
	}

	token.RefreshToken = refreshToken.String
	token.TokenType = tokenType.String
	token.ExpiresIn = int(expiresIn.Int64)
	token.ExpiresAt = expiresAt.Time
	token.UpdatedAt = updatedAt.Time
	return &token, nil
}

// Save implements Store. The single row is updated in place; the insert path
// only runs the very first time a token is persisted.
func (s *SQLStore) Save(ctx context.Context, token *Token) error {
	if err := s.ensureTable(ctx); err != nil {
		return fmt.Errorf("ensuring token table: %w", err)
	}

	now := time.Now()
	update := fmt.Sprintf(
		`UPDATE %s SET access_token = $1, refresh_token = $2, token_type = $3, expires_in = $4, expires_at = $5, updated_at = $6 WHERE id = 1`,
		s.table)
	res, err := s.db.ExecContext(ctx, update,
		token.AccessToken, token.RefreshToken, token.TokenType, token.ExpiresIn, token.ExpiresAt, now)
	if err != nil {
		return fmt.Errorf("updating token row: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking token update: %w", err)
	}
	if affected > 0 {
		return nil
	}

	insert := fmt.Sprintf(
		`INSERT INTO %s (id, access_token, refresh_token, token_type, expires_in, expires_at, created_at, updated_at)
		 VALUES (1, $1, $2, $3, $4, $5, $6, $7)`,
		s.table)
	if _, err := s.db.ExecContext(ctx, insert,
		token.AccessToken, token.RefreshToken, token.TokenType, token.ExpiresIn, token.ExpiresAt, now, now); err != nil {
		return fmt.Errorf("inserting token row: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *SQLStore) Clear(ctx context.Context) error {
	if err := s.ensureTable(ctx); err != nil {
		return fmt.Errorf("ensuring token table: %w", err)
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = 1`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("clearing token row: %w", err)
	}
	return nil
}

// Ping reports whether the underlying database is reachable. Used by health
// diagnostics.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
