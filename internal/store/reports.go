package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stocktake/stocktake/internal/model"
)

// ReportStore is the reports collection. Reports are immutable snapshots:
// the only post-creation mutation is the synced flag, so there is no patch
// type here.
type ReportStore struct {
	s *Store
}

const reportColumns = `id, session_id, date, total_items, items_with_difference, positive_difference_count, negative_difference_count, rows_json, created_at, updated_at, synced`

func scanReport(row interface{ Scan(...any) error }) (*model.Report, error) {
	var (
		rep                  model.Report
		date, rowsJSON       string
		createdAt, updatedAt string
		synced               int
	)
	err := row.Scan(&rep.ID, &rep.SessionID, &date, &rep.TotalItems,
		&rep.ItemsWithDifference, &rep.PositiveDifferenceCount,
		&rep.NegativeDifferenceCount, &rowsJSON, &createdAt, &updatedAt, &synced)
	if err != nil {
		return nil, err
	}
	if rep.Date, err = parseTime(date); err != nil {
		return nil, err
	}
	if rep.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rep.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(rowsJSON), &rep.Rows); err != nil {
		return nil, fmt.Errorf("failed to decode report rows: %w", err)
	}
	rep.Synced = synced != 0
	return &rep, nil
}

// Name identifies the collection in logs and pass results.
func (c *ReportStore) Name() string { return "reports" }

// Add inserts a new report, marked dirty.
func (c *ReportStore) Add(ctx context.Context, rep *model.Report) error {
	if rep.ID == "" {
		rep.ID = model.NewID()
	}
	rep.StampNew()
	if err := rep.Validate(); err != nil {
		return err
	}

	rowsJSON, err := encodeRows(rep.Rows)
	if err != nil {
		return err
	}

	_, err = c.s.conn.ExecContext(ctx, `
		INSERT INTO reports (`+reportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.ID, rep.SessionID, formatTime(rep.Date), rep.TotalItems,
		rep.ItemsWithDifference, rep.PositiveDifferenceCount,
		rep.NegativeDifferenceCount, rowsJSON,
		formatTime(rep.CreatedAt), formatTime(rep.UpdatedAt), boolToInt(rep.Synced))
	if err != nil {
		return fmt.Errorf("failed to insert report %s: %w", rep.ID, err)
	}
	return nil
}

// Get returns the report or (nil, nil) when no such id exists.
func (c *ReportStore) Get(ctx context.Context, id string) (*model.Report, error) {
	row := c.s.conn.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
	rep, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report %s: %w", id, err)
	}
	return rep, nil
}

// GetAll returns every report, most recent first.
func (c *ReportStore) GetAll(ctx context.Context) ([]model.Report, error) {
	return c.query(ctx, `SELECT `+reportColumns+` FROM reports ORDER BY date DESC, created_at DESC`)
}

// GetBySession returns the reports of one session (indexed lookup).
func (c *ReportStore) GetBySession(ctx context.Context, sessionID string) ([]model.Report, error) {
	return c.query(ctx, `SELECT `+reportColumns+` FROM reports WHERE session_id = ? ORDER BY created_at DESC`, sessionID)
}

// ListUnsynced returns reports with pending local edits.
func (c *ReportStore) ListUnsynced(ctx context.Context) ([]model.Report, error) {
	return c.query(ctx, `SELECT `+reportColumns+` FROM reports WHERE synced = 0 ORDER BY updated_at`)
}

// CountUnsynced reports how many reports still owe a push.
func (c *ReportStore) CountUnsynced(ctx context.Context) (int, error) {
	var n int
	if err := c.s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports WHERE synced = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count unsynced reports: %w", err)
	}
	return n, nil
}

func (c *ReportStore) query(ctx context.Context, q string, args ...any) ([]model.Report, error) {
	rows, err := c.s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var reports []model.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, *rep)
	}
	return reports, rows.Err()
}

// SaveSynced upserts a server-canonical copy with synced=true.
func (c *ReportStore) SaveSynced(ctx context.Context, rep model.Report) error {
	rowsJSON, err := encodeRows(rep.Rows)
	if err != nil {
		return err
	}

	_, err = c.s.conn.ExecContext(ctx, `
		INSERT INTO reports (`+reportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			session_id=excluded.session_id, date=excluded.date,
			total_items=excluded.total_items,
			items_with_difference=excluded.items_with_difference,
			positive_difference_count=excluded.positive_difference_count,
			negative_difference_count=excluded.negative_difference_count,
			rows_json=excluded.rows_json,
			created_at=excluded.created_at, updated_at=excluded.updated_at,
			synced=1`,
		rep.ID, rep.SessionID, formatTime(rep.Date), rep.TotalItems,
		rep.ItemsWithDifference, rep.PositiveDifferenceCount,
		rep.NegativeDifferenceCount, rowsJSON,
		formatTime(rep.CreatedAt), formatTime(rep.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save synced report %s: %w", rep.ID, err)
	}
	return nil
}

// Delete removes the report.
func (c *ReportStore) Delete(ctx context.Context, id string) error {
	if _, err := c.s.conn.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete report %s: %w", id, err)
	}
	return nil
}

// MigrateID renames the report's primary key. Nothing references reports by
// id, so no repointing is needed.
func (c *ReportStore) MigrateID(ctx context.Context, oldID, newID string) error {
	res, err := c.s.conn.ExecContext(ctx, `UPDATE reports SET id = ? WHERE id = ?`, newID, oldID)
	if err != nil {
		return fmt.Errorf("failed to migrate report id %s -> %s: %w", oldID, newID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("cannot migrate id of missing report %s", oldID)
	}
	return nil
}

func encodeRows(rows []model.ReportRow) (string, error) {
	if rows == nil {
		rows = []model.ReportRow{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("failed to encode report rows: %w", err)
	}
	return string(data), nil
}
