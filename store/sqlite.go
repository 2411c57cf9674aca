package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store[S].
//
// Checkpoints live in a single-file database — zero-setup persistence for
// local deployments and development. WAL mode keeps reads concurrent with
// the single writer.
//
// Use ":memory:" as the path for an ephemeral database in tests.
type SQLiteStore[S any] struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the database file and runs migrations.
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore[S]{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore[S]) createTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS dialogue_checkpoints (
			user_key TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create dialogue_checkpoints table: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore[S]) Load(ctx context.Context, key string) (S, error) {
	var state S
	var raw string

	row := s.db.QueryRowContext(ctx,
		"SELECT state FROM dialogue_checkpoints WHERE user_key = ?", key)
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state, ErrNotFound
		}
		return state, fmt.Errorf("failed to load checkpoint for %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return state, fmt.Errorf("failed to decode checkpoint for %s: %w", key, err)
	}
	return state, nil
}

// Save implements Store. The upsert is a single statement, so a concurrent
// reader sees either the old row or the new one.
func (s *SQLiteStore[S]) Save(ctx context.Context, key string, state S) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint for %s: %w", key, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dialogue_checkpoints (user_key, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_key) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at
	`, key, string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save checkpoint for %s: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore[S]) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM dialogue_checkpoints WHERE user_key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint for %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore[S]) Close() error {
	return s.db.Close()
}
