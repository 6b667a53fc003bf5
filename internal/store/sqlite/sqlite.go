// Package sqlite is the durable store.Store implementation: receipts and
// encrypted secret blobs survive process restarts, mirroring
// internal/store/sqlite/sqlite.go's connection-and-migration shape.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/revittco/agentrun/internal/store"
	_ "modernc.org/sqlite"
)

var _ store.Store = (*DB)(nil)

// DB is the SQLite-backed store.Store implementation.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path and runs migrations, matching the
// teacher's WAL/busy-timeout/foreign-keys pragmas and single-connection
// pool (sqlite serializes writers anyway; one *sql.DB conn avoids
// SQLITE_BUSY contention entirely instead of retrying into it).
func New(ctx context.Context, path string) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}
