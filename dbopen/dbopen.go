// Package dbopen opens the SQLite databases used by mirrord with a fixed set
// of pragmas and brings their schema up to date.
//
// Default pragmas:
//
//	journal_mode = WAL
//	busy_timeout = 5000
//	synchronous  = NORMAL
//
// Schemas are versioned through PRAGMA user_version: migration i (0-based)
// runs once, inside a transaction, when user_version <= i.
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open("data/mirror.db", dbopen.WithMkdirAll(), dbopen.WithMigrations(v1, v2))
//
// In tests:
//
//	db := dbopen.OpenMemory(t, dbopen.WithMigrations(v1, v2))
package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

type config struct {
	busyTimeout int
	synchronous string
	mkdirAll    bool
	migrations  []string
}

// Option customises Open behaviour.
type Option func(*config)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 5000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithSynchronous sets PRAGMA synchronous. Default: "NORMAL".
func WithSynchronous(mode string) Option { return func(c *config) { c.synchronous = mode } }

// WithMkdirAll creates parent directories of the database path before opening.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithMigrations appends ordered schema migrations; see Migrate.
func WithMigrations(steps ...string) Option {
	return func(c *config) { c.migrations = append(c.migrations, steps...) }
}

// Open opens the database at path with the "sqlite" driver, which the caller
// must blank-import (modernc.org/sqlite).
func Open(path string, opts ...Option) (*sql.DB, error) {
	cfg := config{busyTimeout: 5000, synchronous: "NORMAL"}
	for _, o := range opts {
		o(&cfg)
	}

	memory := path == ":memory:"
	if cfg.mkdirAll && !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open: %w", err)
	}
	// Each connection to ":memory:" is its own database.
	if memory {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.synchronous),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: %s: %w", p, err)
		}
	}

	if len(cfg.migrations) > 0 {
		if _, err := Migrate(context.Background(), db, cfg.migrations...); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

// Migrate applies the steps not yet recorded in PRAGMA user_version and
// returns the resulting version. A database newer than len(steps) is an
// error: it was written by a later build.
func Migrate(ctx context.Context, db *sql.DB, steps ...string) (int, error) {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("dbopen: read user_version: %w", err)
	}
	if version > len(steps) {
		return version, fmt.Errorf("dbopen: schema version %d is newer than %d known migrations", version, len(steps))
	}
	for i := version; i < len(steps); i++ {
		err := Tx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, steps[i]); err != nil {
				return err
			}
			// PRAGMA does not take bind parameters.
			_, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1))
			return err
		})
		if err != nil {
			return i, fmt.Errorf("dbopen: migration %d: %w", i+1, err)
		}
	}
	return len(steps), nil
}

// OpenMemory opens an in-memory database for tests, closed on cleanup.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
