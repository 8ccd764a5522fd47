package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/stocktake/stocktake/internal/model"
)

// EntryStore is the count-entries collection.
type EntryStore struct {
	s *Store
}

const entryColumns = `id, session_id, item_id, quantity, previous_quantity, difference, comment, created_at, updated_at, synced`

func scanEntry(row interface{ Scan(...any) error }) (*model.CountEntry, error) {
	var (
		entry                model.CountEntry
		prev, diff           sql.NullInt64
		createdAt, updatedAt string
		synced               int
	)
	err := row.Scan(&entry.ID, &entry.SessionID, &entry.ItemID, &entry.Quantity,
		&prev, &diff, &entry.Comment, &createdAt, &updatedAt, &synced)
	if err != nil {
		return nil, err
	}
	entry.PreviousQuantity = intPtr(prev)
	entry.Difference = intPtr(diff)
	if entry.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if entry.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	entry.Synced = synced != 0
	return &entry, nil
}

// Name identifies the collection in logs and pass results.
func (c *EntryStore) Name() string { return "count_entries" }

// Add inserts a new count entry, marked dirty.
func (c *EntryStore) Add(ctx context.Context, entry *model.CountEntry) error {
	if entry.ID == "" {
		entry.ID = model.NewID()
	}
	entry.StampNew()
	if err := entry.Validate(); err != nil {
		return err
	}

	_, err := c.s.conn.ExecContext(ctx, `
		INSERT INTO count_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SessionID, entry.ItemID, entry.Quantity,
		nullableInt(entry.PreviousQuantity), nullableInt(entry.Difference),
		entry.Comment, formatTime(entry.CreatedAt), formatTime(entry.UpdatedAt),
		boolToInt(entry.Synced))
	if err != nil {
		return fmt.Errorf("failed to insert count entry %s: %w", entry.ID, err)
	}
	return nil
}

// Get returns the entry or (nil, nil) when no such id exists.
func (c *EntryStore) Get(ctx context.Context, id string) (*model.CountEntry, error) {
	row := c.s.conn.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM count_entries WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get count entry %s: %w", id, err)
	}
	return entry, nil
}

// GetAll returns every count entry.
func (c *EntryStore) GetAll(ctx context.Context) ([]model.CountEntry, error) {
	return c.query(ctx, `SELECT `+entryColumns+` FROM count_entries ORDER BY created_at`)
}

// GetBySession returns the entries of one session (indexed lookup).
func (c *EntryStore) GetBySession(ctx context.Context, sessionID string) ([]model.CountEntry, error) {
	return c.query(ctx, `SELECT `+entryColumns+` FROM count_entries WHERE session_id = ? ORDER BY created_at`, sessionID)
}

// GetBySessionAndItem returns the single (session, item) observation, or
// (nil, nil) when the item has not been counted in that session.
func (c *EntryStore) GetBySessionAndItem(ctx context.Context, sessionID, itemID string) (*model.CountEntry, error) {
	row := c.s.conn.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM count_entries
		WHERE session_id = ? AND item_id = ?`, sessionID, itemID)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get count entry for session %s item %s: %w", sessionID, itemID, err)
	}
	return entry, nil
}

// CountBySession reports how many entries a session has.
func (c *EntryStore) CountBySession(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := c.s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM count_entries WHERE session_id = ?`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count entries of session %s: %w", sessionID, err)
	}
	return n, nil
}

// ListUnsynced returns entries with pending local edits.
func (c *EntryStore) ListUnsynced(ctx context.Context) ([]model.CountEntry, error) {
	return c.query(ctx, `SELECT `+entryColumns+` FROM count_entries WHERE synced = 0 ORDER BY updated_at`)
}

// CountUnsynced reports how many entries still owe a push.
func (c *EntryStore) CountUnsynced(ctx context.Context) (int, error) {
	var n int
	if err := c.s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM count_entries WHERE synced = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count unsynced entries: %w", err)
	}
	return n, nil
}

func (c *EntryStore) query(ctx context.Context, q string, args ...any) ([]model.CountEntry, error) {
	rows, err := c.s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query count entries: %w", err)
	}
	defer rows.Close()

	var entries []model.CountEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan count entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// EntryPatch is a partial update; see ItemPatch for the synced rules.
// SetPreviousQuantity/SetDifference distinguish "leave alone" from
// "set to null".
type EntryPatch struct {
	Quantity            *int
	PreviousQuantity    *int
	SetPreviousQuantity bool
	Difference          *int
	SetDifference       bool
	Comment             *string
	Synced              *bool
}

// Update merges the patch over the stored entry. Returns (nil, nil) when the
// id does not exist.
func (c *EntryStore) Update(ctx context.Context, id string, patch EntryPatch) (*model.CountEntry, error) {
	tx, err := c.s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin entry update: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM count_entries WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load count entry %s: %w", id, err)
	}

	if patch.Quantity != nil {
		entry.Quantity = *patch.Quantity
	}
	if patch.SetPreviousQuantity {
		entry.PreviousQuantity = patch.PreviousQuantity
	}
	if patch.SetDifference {
		entry.Difference = patch.Difference
	}
	if patch.Comment != nil {
		entry.Comment = *patch.Comment
	}
	entry.Touch()
	entry.Synced = patch.Synced != nil && *patch.Synced

	if err := entry.Validate(); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE count_entries SET quantity=?, previous_quantity=?, difference=?,
			comment=?, updated_at=?, synced=?
		WHERE id=?`,
		entry.Quantity, nullableInt(entry.PreviousQuantity), nullableInt(entry.Difference),
		entry.Comment, formatTime(entry.UpdatedAt), boolToInt(entry.Synced), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update count entry %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit entry update: %w", err)
	}
	return entry, nil
}

// SaveSynced upserts a server-canonical copy with synced=true.
func (c *EntryStore) SaveSynced(ctx context.Context, entry model.CountEntry) error {
	_, err := c.s.conn.ExecContext(ctx, `
		INSERT INTO count_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			session_id=excluded.session_id, item_id=excluded.item_id,
			quantity=excluded.quantity,
			previous_quantity=excluded.previous_quantity,
			difference=excluded.difference, comment=excluded.comment,
			created_at=excluded.created_at, updated_at=excluded.updated_at,
			synced=1`,
		entry.ID, entry.SessionID, entry.ItemID, entry.Quantity,
		nullableInt(entry.PreviousQuantity), nullableInt(entry.Difference),
		entry.Comment, formatTime(entry.CreatedAt), formatTime(entry.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save synced count entry %s: %w", entry.ID, err)
	}
	return nil
}

// Delete removes a single entry. Normal flows never call this directly:
// entries leave the store through their session's cascade.
func (c *EntryStore) Delete(ctx context.Context, id string) error {
	if _, err := c.s.conn.ExecContext(ctx, `DELETE FROM count_entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete count entry %s: %w", id, err)
	}
	return nil
}

// MigrateID renames the entry's primary key. Nothing references entries by
// id, so no repointing is needed.
func (c *EntryStore) MigrateID(ctx context.Context, oldID, newID string) error {
	res, err := c.s.conn.ExecContext(ctx, `UPDATE count_entries SET id = ? WHERE id = ?`, newID, oldID)
	if err != nil {
		return fmt.Errorf("failed to migrate entry id %s -> %s: %w", oldID, newID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("cannot migrate id of missing entry %s", oldID)
	}
	return nil
}
