package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store[S].
//
// Server-backed persistence for deployments where multiple runtime
// processes share one checkpoint database. Uses connection pooling; the
// per-key upsert is atomic on the server.
//
// DSN format: "user:password@tcp(host:3306)/dbname?parseTime=true"
type MySQLStore[S any] struct {
	db *sql.DB
}

// NewMySQLStore connects to the database and runs migrations.
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore[S]{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore[S]) createTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS dialogue_checkpoints (
			user_key VARCHAR(255) PRIMARY KEY,
			state LONGTEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create dialogue_checkpoints table: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *MySQLStore[S]) Load(ctx context.Context, key string) (S, error) {
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

// Save implements Store.
func (s *MySQLStore[S]) Save(ctx context.Context, key string, state S) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint for %s: %w", key, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dialogue_checkpoints (user_key, state)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE state = VALUES(state)
	`, key, string(raw))
	if err != nil {
		return fmt.Errorf("failed to save checkpoint for %s: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (s *MySQLStore[S]) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM dialogue_checkpoints WHERE user_key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint for %s: %w", key, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *MySQLStore[S]) Close() error {
	return s.db.Close()
}
