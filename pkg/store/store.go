// Package store is the durable home of runs and results (spec.md §4.2):
// an append-mostly SQLite-backed repository with filter/aggregate query
// primitives, reached only through database/sql (no ORM — see DESIGN.md
// for why the teacher's ent-generated client could not be carried over).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Config holds store configuration.
type Config struct {
	// Path is the SQLite database file path, or ":memory:" for tests.
	Path string

	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns sensible defaults for a single-writer embedded
// database: SQLite tolerates exactly one writer at a time, so the pool is
// intentionally small.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		MaxOpenConns:    4,
		ConnMaxLifetime: time.Hour,
	}
}

// Client wraps a database/sql handle to a SQLite-backed evaluation store.
type Client struct {
	db *sql.DB
}

// NewClient opens (creating if necessary) the database at cfg.Path and
// applies any pending migrations.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	dsn := cfg.Path
	if dsn != ":memory:" {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("store opened", "path", cfg.Path)
	return &Client{db: db}, nil
}

// DB returns the underlying connection for health checks and tests.
func (c *Client) DB() *sql.DB { return c.db }

// Close releases the underlying connection.
func (c *Client) Close() error { return c.db.Close() }
