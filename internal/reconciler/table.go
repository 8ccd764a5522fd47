package reconciler

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/stocktake/stocktake/internal/remote"
)

// Table reconciles one collection between the local store and the backend.
//
// The mutex serializes push and pull work on the collection so a record is
// only ever touched by one in-flight operation, even when an opportunistic
// single-record push lands while a full pass is running.
type Table[T Record[T]] struct {
	local  LocalCollection[T]
	remote RemoteCollection[T]
	logger *log.Logger

	mu sync.Mutex
}

// NewTable wires one collection's local and remote sides together.
func NewTable[T Record[T]](local LocalCollection[T], rem RemoteCollection[T], logger *log.Logger) *Table[T] {
	return &Table[T]{local: local, remote: rem, logger: logger}
}

// Push makes remote state match local state for every dirty record.
//
// Records are processed independently: a transient failure leaves that
// record dirty for the next pass and is folded into the failed count, it
// never aborts the loop.
func (t *Table[T]) Push(ctx context.Context) CollectionResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	res := CollectionResult{Collection: t.local.Name()}

	records, err := t.local.ListUnsynced(ctx)
	if err != nil {
		res.Err = fmt.Errorf("failed to list unsynced %s: %w", t.local.Name(), err)
		return res
	}
	res.Total = len(records)

	for _, rec := range records {
		if err := t.pushRecord(ctx, rec); err != nil {
			res.Failed++
			t.logger.Printf("WARNING: push %s/%s failed: %v", t.local.Name(), rec.RecordID(), err)
			continue
		}
		res.Synced++
	}

	return res
}

// PushOne pushes a single record if it is still dirty. A clean or missing
// record is a no-op, which makes the opportunistic post-mutation trigger
// idempotent.
func (t *Table[T]) PushOne(ctx context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.local.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load %s/%s: %w", t.local.Name(), id, err)
	}
	if rec == nil || (*rec).IsSynced() {
		return nil
	}
	return t.pushRecord(ctx, *rec)
}

// pushRecord runs one record's probe -> update/create -> persist sequence.
// The sequence is strictly ordered and never overlapped with itself.
func (t *Table[T]) pushRecord(ctx context.Context, rec T) error {
	id := rec.RecordID()

	existing, err := t.remote.FetchById(ctx, id)
	if err != nil {
		// Transient probe failure: skip this record for this pass. It
		// stays dirty and is retried next time.
		return fmt.Errorf("probe failed: %w", err)
	}

	if existing != nil {
		canonical, err := t.remote.Update(ctx, id, rec)
		if remote.IsNotFound(err) {
			// Remote record vanished between probe and update.
			return t.createRecord(ctx, rec)
		}
		if err != nil {
			return fmt.Errorf("update failed: %w", err)
		}
		return t.persistCanonical(ctx, id, *canonical)
	}

	return t.createRecord(ctx, rec)
}

// createRecord creates the record remotely, recovering from duplicate-key
// rejections by letting the server assign a fresh id and migrating the
// local identity to it.
func (t *Table[T]) createRecord(ctx context.Context, rec T) error {
	canonical, err := t.remote.Create(ctx, rec)
	if remote.IsDuplicate(err) {
		t.logger.Printf("duplicate id %s/%s, retrying create without client id", t.local.Name(), rec.RecordID())
		canonical, err = t.remote.Create(ctx, rec.WithID(""))
	}
	if err != nil {
		return fmt.Errorf("create failed: %w", err)
	}
	return t.persistCanonical(ctx, rec.RecordID(), *canonical)
}

// persistCanonical stores the server's copy locally with synced=true,
// migrating the local id first when the server assigned a different one.
func (t *Table[T]) persistCanonical(ctx context.Context, localID string, canonical T) error {
	if serverID := canonical.RecordID(); serverID != localID {
		if err := t.local.MigrateID(ctx, localID, serverID); err != nil {
			return fmt.Errorf("id migration failed: %w", err)
		}
		t.logger.Printf("migrated %s id %s -> %s", t.local.Name(), localID, serverID)
	}
	if err := t.local.SaveSynced(ctx, canonical); err != nil {
		return fmt.Errorf("failed to persist canonical copy: %w", err)
	}
	return nil
}

// Pull merges remote state into the local store.
//
// A record that is locally dirty is left untouched: the user's unpushed
// edit outranks the remote copy and the next push carries it forward. This
// is the central conflict-resolution rule of the whole system.
func (t *Table[T]) Pull(ctx context.Context) CollectionResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	res := CollectionResult{Collection: t.local.Name()}

	records, err := t.remote.FetchAll(ctx)
	if err != nil {
		res.Err = fmt.Errorf("failed to fetch %s: %w", t.remote.Name(), err)
		return res
	}
	res.Total = len(records)

	for _, rec := range records {
		local, err := t.local.Get(ctx, rec.RecordID())
		if err != nil {
			res.Failed++
			t.logger.Printf("WARNING: pull %s/%s failed: %v", t.local.Name(), rec.RecordID(), err)
			continue
		}

		if local != nil && !(*local).IsSynced() {
			// Local wins until successfully pushed.
			res.Skipped++
			continue
		}

		if err := t.local.SaveSynced(ctx, rec); err != nil {
			res.Failed++
			t.logger.Printf("WARNING: pull %s/%s failed: %v", t.local.Name(), rec.RecordID(), err)
			continue
		}
		res.Synced++
	}

	return res
}
