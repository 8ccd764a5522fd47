package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/stocktake/stocktake/internal/model"
)

// ItemStore is the items collection.
type ItemStore struct {
	s *Store
}

const itemColumns = `id, name, sku, category, unit, location, description, image_ref, created_at, updated_at, synced`

func scanItem(row interface{ Scan(...any) error }) (*model.Item, error) {
	var (
		item                 model.Item
		createdAt, updatedAt string
		synced               int
	)
	err := row.Scan(&item.ID, &item.Name, &item.SKU, &item.Category, &item.Unit,
		&item.Location, &item.Description, &item.ImageRef, &createdAt, &updatedAt, &synced)
	if err != nil {
		return nil, err
	}
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if item.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	item.Synced = synced != 0
	return &item, nil
}

// Name identifies the collection in logs and pass results.
func (c *ItemStore) Name() string { return "items" }

// Add inserts a new item. Timestamps are assigned and the record is marked
// dirty for the next push.
func (c *ItemStore) Add(ctx context.Context, item *model.Item) error {
	if item.ID == "" {
		item.ID = model.NewID()
	}
	item.StampNew()
	if err := item.Validate(); err != nil {
		return err
	}

	_, err := c.s.conn.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Name, item.SKU, item.Category, item.Unit, item.Location,
		item.Description, item.ImageRef,
		formatTime(item.CreatedAt), formatTime(item.UpdatedAt), boolToInt(item.Synced))
	if err != nil {
		return fmt.Errorf("failed to insert item %s: %w", item.ID, err)
	}
	return nil
}

// Get returns the item or (nil, nil) when no such id exists.
func (c *ItemStore) Get(ctx context.Context, id string) (*model.Item, error) {
	row := c.s.conn.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item %s: %w", id, err)
	}
	return item, nil
}

// GetAll returns every item, newest first.
func (c *ItemStore) GetAll(ctx context.Context) ([]model.Item, error) {
	return c.query(ctx, `SELECT `+itemColumns+` FROM items ORDER BY created_at DESC`)
}

// GetByCategory returns items in the given category (indexed lookup).
func (c *ItemStore) GetByCategory(ctx context.Context, category model.ItemCategory) ([]model.Item, error) {
	return c.query(ctx, `SELECT `+itemColumns+` FROM items WHERE category = ? ORDER BY created_at DESC`, category)
}

// ListUnsynced returns items with pending local edits.
func (c *ItemStore) ListUnsynced(ctx context.Context) ([]model.Item, error) {
	return c.query(ctx, `SELECT `+itemColumns+` FROM items WHERE synced = 0 ORDER BY updated_at`)
}

// CountUnsynced reports how many items still owe a push.
func (c *ItemStore) CountUnsynced(ctx context.Context) (int, error) {
	var n int
	if err := c.s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE synced = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count unsynced items: %w", err)
	}
	return n, nil
}

func (c *ItemStore) query(ctx context.Context, q string, args ...any) ([]model.Item, error) {
	rows, err := c.s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// ItemPatch is a partial update. Nil fields keep their current value.
// Synced states the resulting flag; nil means dirty (the domain-edit
// default). Only the reconciler passes an explicit true.
type ItemPatch struct {
	Name        *string
	SKU         *string
	Category    *model.ItemCategory
	Unit        *model.ItemUnit
	Location    *string
	Description *string
	ImageRef    *string
	Synced      *bool
}

// Update merges the patch over the stored item, refreshes UpdatedAt and
// persists the result. Returns (nil, nil) when the id does not exist.
func (c *ItemStore) Update(ctx context.Context, id string, patch ItemPatch) (*model.Item, error) {
	tx, err := c.s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin item update: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load item %s: %w", id, err)
	}

	if patch.Name != nil {
		item.Name = *patch.Name
	}
	if patch.SKU != nil {
		item.SKU = *patch.SKU
	}
	if patch.Category != nil {
		item.Category = *patch.Category
	}
	if patch.Unit != nil {
		item.Unit = *patch.Unit
	}
	if patch.Location != nil {
		item.Location = *patch.Location
	}
	if patch.Description != nil {
		item.Description = *patch.Description
	}
	if patch.ImageRef != nil {
		item.ImageRef = *patch.ImageRef
	}
	item.Touch()
	item.Synced = patch.Synced != nil && *patch.Synced

	if err := item.Validate(); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE items SET name=?, sku=?, category=?, unit=?, location=?,
			description=?, image_ref=?, updated_at=?, synced=?
		WHERE id=?`,
		item.Name, item.SKU, item.Category, item.Unit, item.Location,
		item.Description, item.ImageRef,
		formatTime(item.UpdatedAt), boolToInt(item.Synced), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update item %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit item update: %w", err)
	}
	return item, nil
}

// SaveSynced upserts a server-canonical copy with synced=true. Used by the
// reconciler after a successful push or pull; domain code never calls this.
func (c *ItemStore) SaveSynced(ctx context.Context, item model.Item) error {
	_, err := c.s.conn.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, sku=excluded.sku, category=excluded.category,
			unit=excluded.unit, location=excluded.location,
			description=excluded.description, image_ref=excluded.image_ref,
			created_at=excluded.created_at, updated_at=excluded.updated_at,
			synced=1`,
		item.ID, item.Name, item.SKU, item.Category, item.Unit, item.Location,
		item.Description, item.ImageRef,
		formatTime(item.CreatedAt), formatTime(item.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save synced item %s: %w", item.ID, err)
	}
	return nil
}

// Delete removes the item. Count entries keep their item_id: it is a weak
// reference and reports must continue to resolve historical rows.
func (c *ItemStore) Delete(ctx context.Context, id string) error {
	if _, err := c.s.conn.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete item %s: %w", id, err)
	}
	return nil
}

// MigrateID renames the item's primary key and repoints count_entries.item_id
// in the same transaction. Used when the server assigns a replacement id
// during duplicate-key recovery.
func (c *ItemStore) MigrateID(ctx context.Context, oldID, newID string) error {
	tx, err := c.s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin id migration: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE items SET id = ? WHERE id = ?`, newID, oldID)
	if err != nil {
		return fmt.Errorf("failed to migrate item id %s -> %s: %w", oldID, newID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("cannot migrate id of missing item %s", oldID)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE count_entries SET item_id = ? WHERE item_id = ?`, newID, oldID); err != nil {
		return fmt.Errorf("failed to repoint count entries %s -> %s: %w", oldID, newID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit id migration: %w", err)
	}
	return nil
}
