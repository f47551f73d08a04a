// Package cache persists the last merged payload per site and a short log of
// refresh runs, so mirrord restarts from known data instead of seeds.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/profilemirror/dbopen"
	"github.com/hazyhaar/profilemirror/mirror/payload"
)

// Migrations is the cache schema history; see dbopen.Migrate.
var Migrations = []string{
	`CREATE TABLE site_payloads (
		site_id       TEXT PRIMARY KEY,
		payload       TEXT NOT NULL,
		source_status TEXT NOT NULL,
		updated_at    INTEGER NOT NULL DEFAULT 0,
		saved_at      INTEGER NOT NULL
	)`,
	`CREATE TABLE refresh_runs (
		id          TEXT PRIMARY KEY,
		site_id     TEXT NOT NULL,
		outcome     TEXT NOT NULL,
		started_at  INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		error       TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX idx_refresh_runs_site ON refresh_runs(site_id, started_at)`,
}

// DefaultKeepRuns is how many runs per site Prune leaves behind.
const DefaultKeepRuns = 50

// Run is one refresh attempt.
type Run struct {
	ID        string
	SiteID    string
	Outcome   string
	StartedAt time.Time
	Duration  time.Duration
	Error     string
}

// Cache wraps an opened database.
type Cache struct {
	db *sql.DB
}

// New brings db up to the current schema and returns a Cache.
func New(ctx context.Context, db *sql.DB) (*Cache, error) {
	if _, err := dbopen.Migrate(ctx, db, Migrations...); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*Cache, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithMigrations(Migrations...))
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error { return c.db.Close() }

const (
	upsertPayload = `INSERT INTO site_payloads (site_id, payload, source_status, updated_at, saved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(site_id) DO UPDATE SET
			payload = excluded.payload,
			source_status = excluded.source_status,
			updated_at = excluded.updated_at,
			saved_at = excluded.saved_at`
	insertRun = `INSERT INTO refresh_runs (id, site_id, outcome, started_at, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?)`
)

func payloadArgs(p payload.SitePayload, now time.Time) ([]any, error) {
	if p.SiteID == "" {
		return nil, errors.New("cache: empty site id")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("cache: encode %s: %w", p.SiteID, err)
	}
	var updated int64
	if !p.UpdatedAt.IsZero() {
		updated = p.UpdatedAt.UnixMilli()
	}
	return []any{p.SiteID, string(data), string(p.SourceStatus), updated, now.UnixMilli()}, nil
}

func runArgs(r Run) []any {
	return []any{r.ID, r.SiteID, r.Outcome, r.StartedAt.UnixMilli(), r.Duration.Milliseconds(), r.Error}
}

// Save upserts p.
func (c *Cache) Save(ctx context.Context, p payload.SitePayload, now time.Time) error {
	args, err := payloadArgs(p, now)
	if err != nil {
		return err
	}
	if _, err := dbopen.Exec(ctx, c.db, upsertPayload, args...); err != nil {
		return fmt.Errorf("cache: save %s: %w", p.SiteID, err)
	}
	return nil
}

// Record saves the merged payload and its run in one transaction.
func (c *Cache) Record(ctx context.Context, p payload.SitePayload, r Run, now time.Time) error {
	args, err := payloadArgs(p, now)
	if err != nil {
		return err
	}
	err = dbopen.Tx(ctx, c.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, upsertPayload, args...); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, insertRun, runArgs(r)...)
		return err
	})
	if err != nil {
		return fmt.Errorf("cache: record %s: %w", p.SiteID, err)
	}
	return nil
}

// LoadAll returns every stored payload ordered by site id. Rows that fail to
// decode are skipped and reported in the returned error list.
func (c *Cache) LoadAll(ctx context.Context) ([]payload.SitePayload, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT site_id, payload FROM site_payloads ORDER BY site_id`)
	if err != nil {
		return nil, fmt.Errorf("cache: load: %w", err)
	}
	defer rows.Close()

	var (
		out  []payload.SitePayload
		errs []error
	)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("cache: scan: %w", err)
		}
		var p payload.SitePayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			errs = append(errs, fmt.Errorf("cache: decode %s: %w", id, err))
			continue
		}
		p.SiteID = id
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cache: load: %w", err)
	}
	return out, errors.Join(errs...)
}

// Delete removes the payload for siteID.
func (c *Cache) Delete(ctx context.Context, siteID string) error {
	_, err := dbopen.Exec(ctx, c.db, `DELETE FROM site_payloads WHERE site_id = ?`, siteID)
	return err
}

// LogRun records a refresh attempt.
func (c *Cache) LogRun(ctx context.Context, r Run) error {
	if _, err := dbopen.Exec(ctx, c.db, insertRun, runArgs(r)...); err != nil {
		return fmt.Errorf("cache: log run: %w", err)
	}
	return nil
}

// Runs returns the runs for siteID, newest first.
func (c *Cache) Runs(ctx context.Context, siteID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultKeepRuns
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, site_id, outcome, started_at, duration_ms, error
		FROM refresh_runs WHERE site_id = ?
		ORDER BY started_at DESC, id DESC LIMIT ?`, siteID, limit)
	if err != nil {
		return nil, fmt.Errorf("cache: runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r         Run
			started   int64
			durMillis int64
		)
		if err := rows.Scan(&r.ID, &r.SiteID, &r.Outcome, &started, &durMillis, &r.Error); err != nil {
			return nil, fmt.Errorf("cache: scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		r.Duration = time.Duration(durMillis) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune keeps the newest keep runs per site.
func (c *Cache) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		keep = DefaultKeepRuns
	}
	res, err := dbopen.Exec(ctx, c.db,
		`DELETE FROM refresh_runs WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY site_id ORDER BY started_at DESC, id DESC
				) AS rn FROM refresh_runs
			) WHERE rn > ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("cache: prune: %w", err)
	}
	return res.RowsAffected()
}
