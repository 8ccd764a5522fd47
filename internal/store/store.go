// Package store provides the durable local store for stocktake.
//
// The store is an embedded SQLite database (WAL mode) holding four record
// collections: items, sessions, count entries and reports. It is the single
// source of truth for the UI and CLI; the reconciler mirrors it to the
// remote backend in the background.
//
// Contract highlights:
//   - Get on a missing id returns (nil, nil) so callers can distinguish
//     "doesn't exist" from "store unavailable".
//   - Every local mutation states the resulting synced value: domain writes
//     go through Add/Update/Delete which leave records dirty, the reconciler
//     persists server-canonical copies through SaveSynced.
//   - Schema upgrades are additive and idempotent; a database written by
//     newer code surfaces ErrVersionConflict instead of failing silently.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrVersionConflict is returned by Open when the on-disk schema version is
// ahead of what this build understands. The host decides whether to upgrade
// the binary or Destroy and recreate the store.
var ErrVersionConflict = errors.New("store: database schema is newer than this build")

// schemaVersion is the schema version this build writes. It only ever
// increases; migrations are additive (new tables, columns and indexes only).
var schemaVersion = len(migrations)

// migrations holds one DDL batch per schema version. Each batch must be
// idempotent (IF NOT EXISTS) because the store may be reopened many times.
var migrations = []string{
	// v1: catalog and counting tables.
	`
	CREATE TABLE IF NOT EXISTS items (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		sku         TEXT NOT NULL,
		category    TEXT NOT NULL,
		unit        TEXT NOT NULL,
		location    TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		image_ref   TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL,
		synced      INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_items_category ON items(category);
	CREATE INDEX IF NOT EXISTS idx_items_synced ON items(synced);

	CREATE TABLE IF NOT EXISTS sessions (
		id          TEXT PRIMARY KEY,
		date        TEXT NOT NULL,
		status      TEXT NOT NULL,
		items_count INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL,
		synced      INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	CREATE INDEX IF NOT EXISTS idx_sessions_synced ON sessions(synced);

	CREATE TABLE IF NOT EXISTS count_entries (
		id                TEXT PRIMARY KEY,
		session_id        TEXT NOT NULL,
		item_id           TEXT NOT NULL,
		quantity          INTEGER NOT NULL DEFAULT 0,
		previous_quantity INTEGER,
		difference        INTEGER,
		comment           TEXT NOT NULL DEFAULT '',
		created_at        TEXT NOT NULL,
		updated_at        TEXT NOT NULL,
		synced            INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_entries_session ON count_entries(session_id);
	CREATE INDEX IF NOT EXISTS idx_entries_item ON count_entries(item_id);
	CREATE INDEX IF NOT EXISTS idx_entries_synced ON count_entries(synced);
	`,

	// v2: report snapshots.
	`
	CREATE TABLE IF NOT EXISTS reports (
		id                        TEXT PRIMARY KEY,
		session_id                TEXT NOT NULL,
		date                      TEXT NOT NULL,
		total_items               INTEGER NOT NULL DEFAULT 0,
		items_with_difference     INTEGER NOT NULL DEFAULT 0,
		positive_difference_count INTEGER NOT NULL DEFAULT 0,
		negative_difference_count INTEGER NOT NULL DEFAULT 0,
		rows_json                 TEXT NOT NULL DEFAULT '[]',
		created_at                TEXT NOT NULL,
		updated_at                TEXT NOT NULL,
		synced                    INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_reports_session ON reports(session_id);
	CREATE INDEX IF NOT EXISTS idx_reports_synced ON reports(synced);
	`,
}

// Store wraps the SQLite connection with collection accessors.
type Store struct {
	conn *sql.DB
	path string
}

// openRetries bounds how often Open retries a transiently failing open
// before giving up. Replaces the original's unbounded reopen loop.
const (
	openRetries   = 3
	openBaseDelay = 100 * time.Millisecond
)

// Open creates or opens the database at path and applies pending schema
// migrations.
//
// Transient open failures (e.g. a lingering lock from a crashed process)
// are retried with exponential backoff. A version conflict is never
// retried: it is returned as ErrVersionConflict for the host to handle.
//
// The caller MUST call Close when done.
//
// Example:
//
//	st, err := store.Open(filepath.Join(home, "stocktake.db"))
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	var lastErr error
	for attempt := 0; attempt < openRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(openBaseDelay << (attempt - 1))
		}

		st, err := openOnce(path)
		if err == nil {
			return st, nil
		}
		if errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("store: open failed after %d attempts: %w", openRetries, lastErr)
}

func openOnce(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	st := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := st.conn.Exec(pragma); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := st.migrate(context.Background()); err != nil {
		_ = st.Close()
		return nil, err
	}

	return st, nil
}

// migrate applies pending schema batches and bumps PRAGMA user_version.
// Safe to re-run: each batch is idempotent DDL.
func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if version > schemaVersion {
		return fmt.Errorf("%w: on disk v%d, supported v%d", ErrVersionConflict, version, schemaVersion)
	}

	for v := version; v < schemaVersion; v++ {
		if _, err := s.conn.ExecContext(ctx, migrations[v]); err != nil {
			return fmt.Errorf("failed to apply schema v%d: %w", v+1, err)
		}
		// PRAGMA does not support placeholders.
		if _, err := s.conn.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d", v+1)); err != nil {
			return fmt.Errorf("failed to record schema v%d: %w", v+1, err)
		}
	}

	return nil
}

// Version reports the schema version currently on disk.
func (s *Store) Version(ctx context.Context) (int, error) {
	var version int
	if err := s.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// RawDB returns the underlying sql.DB connection for integration points
// that expect one.
func (s *Store) RawDB() *sql.DB { return s.conn }

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Printf("[store] warning: failed to checkpoint WAL: %v", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// Destroy removes the database files at path. This is the recovery path for
// ErrVersionConflict; it must only run on an explicit host decision, never
// automatically.
func Destroy(path string) error {
	for _, f := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", f, err)
		}
	}
	return nil
}

// Items returns the item collection.
func (s *Store) Items() *ItemStore { return &ItemStore{s} }

// Sessions returns the session collection.
func (s *Store) Sessions() *SessionStore { return &SessionStore{s} }

// Entries returns the count-entry collection.
func (s *Store) Entries() *EntryStore { return &EntryStore{s} }

// Reports returns the report collection.
func (s *Store) Reports() *ReportStore { return &ReportStore{s} }

// timeFormat is how timestamps are stored. RFC3339Nano survives round trips
// without driver-specific time handling.
const timeFormat = time.RFC3339Nano

func formatTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
