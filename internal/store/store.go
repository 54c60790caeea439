// internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool abstracts pgxpool.Pool so the store can be exercised against a mock
// in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store keeps saved macros in PostgreSQL. It backs the player's
// load-from-store collaborator for shared macro libraries; local files and
// inline macros take precedence over it during RUN resolution.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("store")}, nil
}

// EnsureSchema creates the macros table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS macros (
			name       TEXT PRIMARY KEY,
			body       TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create macros table: %w", err)
	}
	return nil
}

// Put inserts or replaces a macro body.
func (s *Store) Put(ctx context.Context, name, body string) error {
	const query = `
		INSERT INTO macros (name, body, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = now()`
	if _, err := s.pool.Exec(ctx, query, name, body); err != nil {
		return fmt.Errorf("failed to save macro %q: %w", name, err)
	}
	s.log.Debug("Saved macro", zap.String("name", name), zap.Int("bytes", len(body)))
	return nil
}

// Get returns a macro body by name.
func (s *Store) Get(ctx context.Context, name string) (string, error) {
	const query = `SELECT body FROM macros WHERE name = $1`
	var body string
	if err := s.pool.QueryRow(ctx, query, name).Scan(&body); err != nil {
		return "", fmt.Errorf("failed to load macro %q: %w", name, err)
	}
	return body, nil
}

// List returns the names of all stored macros in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	const query = `SELECT name FROM macros ORDER BY name`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list macros: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan macro name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Delete removes a macro. Deleting a missing macro is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	const query = `DELETE FROM macros WHERE name = $1`
	if _, err := s.pool.Exec(ctx, query, name); err != nil {
		return fmt.Errorf("failed to delete macro %q: %w", name, err)
	}
	return nil
}

// Load adapts the store to the loader.Source contract: a missing macro is
// "not here", every other failure propagates.
func (s *Store) Load(ctx context.Context, name string) (string, bool, error) {
	body, err := s.Get(ctx, name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return body, true, nil
}
