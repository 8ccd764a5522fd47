package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/stocktake/stocktake/internal/model"
)

// SessionStore is the sessions collection.
type SessionStore struct {
	s *Store
}

const sessionColumns = `id, date, status, items_count, created_at, updated_at, synced`

func scanSession(row interface{ Scan(...any) error }) (*model.Session, error) {
	var (
		sess                       model.Session
		date, createdAt, updatedAt string
		synced                     int
	)
	err := row.Scan(&sess.ID, &date, &sess.Status, &sess.ItemsCount, &createdAt, &updatedAt, &synced)
	if err != nil {
		return nil, err
	}
	if sess.Date, err = parseTime(date); err != nil {
		return nil, err
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	sess.Synced = synced != 0
	return &sess, nil
}

// Name identifies the collection in logs and pass results.
func (c *SessionStore) Name() string { return "sessions" }

// Add inserts a new session, marked dirty.
func (c *SessionStore) Add(ctx context.Context, sess *model.Session) error {
	if sess.ID == "" {
		sess.ID = model.NewID()
	}
	sess.StampNew()
	if err := sess.Validate(); err != nil {
		return err
	}

	_, err := c.s.conn.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, formatTime(sess.Date), sess.Status, sess.ItemsCount,
		formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt), boolToInt(sess.Synced))
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}
	return nil
}

// Get returns the session or (nil, nil) when no such id exists.
func (c *SessionStore) Get(ctx context.Context, id string) (*model.Session, error) {
	row := c.s.conn.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return sess, nil
}

// GetAll returns every session, most recent date first.
func (c *SessionStore) GetAll(ctx context.Context) ([]model.Session, error) {
	return c.query(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY date DESC, updated_at DESC`)
}

// GetByStatus returns sessions in the given lifecycle state (indexed lookup).
func (c *SessionStore) GetByStatus(ctx context.Context, status model.SessionStatus) ([]model.Session, error) {
	return c.query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE status = ? ORDER BY date DESC, updated_at DESC`, status)
}

// ListUnsynced returns sessions with pending local edits.
func (c *SessionStore) ListUnsynced(ctx context.Context) ([]model.Session, error) {
	return c.query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE synced = 0 ORDER BY updated_at`)
}

// CountUnsynced reports how many sessions still owe a push.
func (c *SessionStore) CountUnsynced(ctx context.Context) (int, error) {
	var n int
	if err := c.s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE synced = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count unsynced sessions: %w", err)
	}
	return n, nil
}

func (c *SessionStore) query(ctx context.Context, q string, args ...any) ([]model.Session, error) {
	rows, err := c.s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// SessionPatch is a partial update; see ItemPatch for the synced rules.
type SessionPatch struct {
	Date       *time.Time
	Status     *model.SessionStatus
	ItemsCount *int
	Synced     *bool
}

// Update merges the patch over the stored session. Returns (nil, nil) when
// the id does not exist.
func (c *SessionStore) Update(ctx context.Context, id string, patch SessionPatch) (*model.Session, error) {
	tx, err := c.s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin session update: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	if patch.Date != nil {
		sess.Date = *patch.Date
	}
	if patch.Status != nil {
		sess.Status = *patch.Status
	}
	if patch.ItemsCount != nil {
		sess.ItemsCount = *patch.ItemsCount
	}
	sess.Touch()
	sess.Synced = patch.Synced != nil && *patch.Synced

	if err := sess.Validate(); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET date=?, status=?, items_count=?, updated_at=?, synced=?
		WHERE id=?`,
		formatTime(sess.Date), sess.Status, sess.ItemsCount,
		formatTime(sess.UpdatedAt), boolToInt(sess.Synced), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update session %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit session update: %w", err)
	}
	return sess, nil
}

// SaveSynced upserts a server-canonical copy with synced=true.
func (c *SessionStore) SaveSynced(ctx context.Context, sess model.Session) error {
	_, err := c.s.conn.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			date=excluded.date, status=excluded.status,
			items_count=excluded.items_count,
			created_at=excluded.created_at, updated_at=excluded.updated_at,
			synced=1`,
		sess.ID, formatTime(sess.Date), sess.Status, sess.ItemsCount,
		formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save synced session %s: %w", sess.ID, err)
	}
	return nil
}

// Delete removes the session and cascades its count entries in one
// transaction. The cascade is explicit rather than a foreign key so pulls
// are never order-sensitive between sessions and entries.
func (c *SessionStore) Delete(ctx context.Context, id string) error {
	tx, err := c.s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin session delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM count_entries WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("failed to cascade entries of session %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session delete: %w", err)
	}
	return nil
}

// MigrateID renames the session's primary key and repoints its entries and
// reports in the same transaction.
func (c *SessionStore) MigrateID(ctx context.Context, oldID, newID string) error {
	tx, err := c.s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin id migration: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE sessions SET id = ? WHERE id = ?`, newID, oldID)
	if err != nil {
		return fmt.Errorf("failed to migrate session id %s -> %s: %w", oldID, newID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("cannot migrate id of missing session %s", oldID)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE count_entries SET session_id = ? WHERE session_id = ?`, newID, oldID); err != nil {
		return fmt.Errorf("failed to repoint entries %s -> %s: %w", oldID, newID, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE reports SET session_id = ? WHERE session_id = ?`, newID, oldID); err != nil {
		return fmt.Errorf("failed to repoint reports %s -> %s: %w", oldID, newID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit id migration: %w", err)
	}
	return nil
}
