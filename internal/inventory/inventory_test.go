package inventory

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stocktake/stocktake/internal/model"
	"github.com/stocktake/stocktake/internal/store"
)

// recordingNotifier captures sync triggers instead of pushing anywhere.
type recordingNotifier struct {
	mu      sync.Mutex
	changed []string // "collection/id"
	removed []string
}

func (n *recordingNotifier) RecordChanged(collection, id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changed = append(n.changed, collection+"/"+id)
}

func (n *recordingNotifier) RemoveRemote(_ context.Context, collection, id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.removed = append(n.removed, collection+"/"+id)
	return nil
}

func (n *recordingNotifier) changedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.changed)
}

// staticCatalog serves a fixed remote item set, or a fixed error.
type staticCatalog struct {
	items []model.Item
	err   error
}

func (c *staticCatalog) FetchAll(context.Context) ([]model.Item, error) {
	return c.items, c.err
}

func setupService(t *testing.T, catalog RemoteCatalog) (*Service, *recordingNotifier, *store.Store) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	notifier := &recordingNotifier{}
	svc := New(st, notifier, catalog, log.New(io.Discard, "", 0))
	return svc, notifier, st
}

func testItem(sku string) *model.Item {
	return &model.Item{
		Name:     "Item " + sku,
		SKU:      sku,
		Category: model.CategoryBeverage,
		Unit:     model.UnitBottle,
		Location: "cellar",
	}
}

func TestCreateItemRejectsDuplicateSKU(t *testing.T) {
	svc, _, _ := setupService(t, nil)
	ctx := context.Background()

	if err := svc.CreateItem(ctx, testItem("ABC-1")); err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	err := svc.CreateItem(ctx, testItem("abc-1"))
	if !errors.Is(err, ErrDuplicateSKU) {
		t.Errorf("case-variant sku accepted, err = %v", err)
	}

	err = svc.CreateItem(ctx, testItem("  ABC-1  "))
	if !errors.Is(err, ErrDuplicateSKU) {
		t.Errorf("whitespace-variant sku accepted, err = %v", err)
	}
}

func TestCreateItemChecksRemoteCatalog(t *testing.T) {
	catalog := &staticCatalog{items: []model.Item{{
		ID: "srv-1", Name: "Remote", SKU: "REM-1",
		Category: model.CategoryFood, Unit: model.UnitPiece, Location: "bar",
	}}}
	svc, _, _ := setupService(t, catalog)
	ctx := context.Background()

	err := svc.CreateItem(ctx, testItem("rem-1"))
	if !errors.Is(err, ErrDuplicateSKU) {
		t.Errorf("sku known only remotely accepted, err = %v", err)
	}
}

func TestCreateItemWorksWhenCatalogUnreachable(t *testing.T) {
	catalog := &staticCatalog{err: errors.New("connection refused")}
	svc, _, _ := setupService(t, catalog)

	if err := svc.CreateItem(context.Background(), testItem("OFF-1")); err != nil {
		t.Fatalf("offline create failed: %v", err)
	}
}

func TestCreateItemRejectsDuplicateDescription(t *testing.T) {
	svc, _, _ := setupService(t, nil)
	ctx := context.Background()

	first := testItem("D-1")
	first.Description = "House red wine"
	if err := svc.CreateItem(ctx, first); err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	second := testItem("D-2")
	second.Description = "house red wine"
	if err := svc.CreateItem(ctx, second); !errors.Is(err, ErrDuplicateDescription) {
		t.Errorf("duplicate description accepted, err = %v", err)
	}

	// Empty descriptions never collide.
	if err := svc.CreateItem(ctx, testItem("D-3")); err != nil {
		t.Errorf("item without description rejected: %v", err)
	}
	if err := svc.CreateItem(ctx, testItem("D-4")); err != nil {
		t.Errorf("second item without description rejected: %v", err)
	}
}

func TestUpdateItemUniquenessExcludesSelf(t *testing.T) {
	svc, _, _ := setupService(t, nil)
	ctx := context.Background()

	item := testItem("U-1")
	if err := svc.CreateItem(ctx, item); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := svc.CreateItem(ctx, testItem("U-2")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Re-submitting its own sku is fine.
	sku := "u-1"
	if _, err := svc.UpdateItem(ctx, item.ID, store.ItemPatch{SKU: &sku}); err != nil {
		t.Errorf("updating item to its own sku failed: %v", err)
	}

	// Taking another item's sku is not.
	taken := "U-2"
	if _, err := svc.UpdateItem(ctx, item.ID, store.ItemPatch{SKU: &taken}); !errors.Is(err, ErrDuplicateSKU) {
		t.Error("update stole another item's sku")
	}
}

func TestDeleteItemKeepsHistoryAndRemovesRemote(t *testing.T) {
	svc, notifier, st := setupService(t, nil)
	ctx := context.Background()

	item := testItem("DEL-1")
	if err := svc.CreateItem(ctx, item); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	sess, err := svc.CreateSession(ctx, time.Time{})
	if err != nil {
		t.Fatalf("create session failed: %v", err)
	}
	if _, err := svc.AddOrUpdateCountEntry(ctx, sess.ID, item.ID, 5, nil, ""); err != nil {
		t.Fatalf("count failed: %v", err)
	}

	if err := svc.DeleteItem(ctx, item.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, err := svc.GetItem(ctx, item.ID); !errors.Is(err, ErrNotFound) {
		t.Error("deleted item still readable")
	}
	entries, _ := st.Entries().GetBySession(ctx, sess.ID)
	if len(entries) != 1 {
		t.Error("count history vanished with the item")
	}
	if len(notifier.removed) != 1 || notifier.removed[0] != "items/"+item.ID {
		t.Errorf("remote delete not requested: %v", notifier.removed)
	}
}

func TestSessionLifecycle(t *testing.T) {
	svc, _, _ := setupService(t, nil)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, time.Time{})
	if err != nil {
		t.Fatalf("create session failed: %v", err)
	}
	if sess.Status != model.SessionInProgress {
		t.Errorf("new session status = %s, want in_progress", sess.Status)
	}

	a, b := testItem("L-1"), testItem("L-2")
	for _, item := range []*model.Item{a, b} {
		if err := svc.CreateItem(ctx, item); err != nil {
			t.Fatalf("create item failed: %v", err)
		}
	}
	if _, err := svc.AddOrUpdateCountEntry(ctx, sess.ID, a.ID, 10, nil, ""); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if _, err := svc.AddOrUpdateCountEntry(ctx, sess.ID, b.ID, 3, nil, ""); err != nil {
		t.Fatalf("count failed: %v", err)
	}

	done, err := svc.CompleteSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if done.Status != model.SessionCompleted || done.ItemsCount != 2 {
		t.Errorf("completed session = %+v, want completed with 2 items", done)
	}

	// Completed sessions refuse new counts.
	if _, err := svc.AddOrUpdateCountEntry(ctx, sess.ID, a.ID, 11, nil, ""); !errors.Is(err, ErrSessionCompleted) {
		t.Error("completed session accepted a count")
	}

	// Completing twice is a no-op.
	again, err := svc.CompleteSession(ctx, sess.ID)
	if err != nil || again.ItemsCount != 2 {
		t.Errorf("re-complete: %+v, %v", again, err)
	}
}

func TestAddOrUpdateCountEntryUpserts(t *testing.T) {
	svc, _, st := setupService(t, nil)
	ctx := context.Background()

	item := testItem("UP-1")
	if err := svc.CreateItem(ctx, item); err != nil {
		t.Fatalf("create item failed: %v", err)
	}
	sess, _ := svc.CreateSession(ctx, time.Time{})

	prev := 8
	first, err := svc.AddOrUpdateCountEntry(ctx, sess.ID, item.ID, 10, &prev, "")
	if err != nil {
		t.Fatalf("first count failed: %v", err)
	}
	if first.Difference == nil || *first.Difference != 2 {
		t.Errorf("difference = %v, want 2", first.Difference)
	}

	// Recounting the same item revises the entry instead of adding one.
	second, err := svc.AddOrUpdateCountEntry(ctx, sess.ID, item.ID, 6, &prev, "recount")
	if err != nil {
		t.Fatalf("recount failed: %v", err)
	}
	if second.ID != first.ID {
		t.Error("recount created a second entry")
	}
	if second.Difference == nil || *second.Difference != -2 {
		t.Errorf("revised difference = %v, want -2", second.Difference)
	}
	if n, _ := st.Entries().CountBySession(ctx, sess.ID); n != 1 {
		t.Errorf("session has %d entries, want 1", n)
	}

	// No baseline means no difference, not zero.
	item2 := testItem("UP-2")
	if err := svc.CreateItem(ctx, item2); err != nil {
		t.Fatalf("create item failed: %v", err)
	}
	e, err := svc.AddOrUpdateCountEntry(ctx, sess.ID, item2.ID, 4, nil, "")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if e.Difference != nil {
		t.Errorf("difference without baseline = %v, want nil", e.Difference)
	}
}

func TestPreviousSessionComparison(t *testing.T) {
	svc, _, _ := setupService(t, nil)
	ctx := context.Background()

	item := testItem("CMP-1")
	if err := svc.CreateItem(ctx, item); err != nil {
		t.Fatalf("create item failed: %v", err)
	}

	day := func(n int) time.Time {
		return time.Date(2026, 8, n, 12, 0, 0, 0, time.UTC)
	}

	// Older completed session with one count.
	older, _ := svc.CreateSession(ctx, day(1))
	if _, err := svc.AddOrUpdateCountEntry(ctx, older.ID, item.ID, 7, nil, ""); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if _, err := svc.CompleteSession(ctx, older.ID); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	// Newer completed session, but empty: not a usable baseline.
	empty, _ := svc.CreateSession(ctx, day(10))
	if _, err := svc.CompleteSession(ctx, empty.ID); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	// Newest completed session with a count: the baseline.
	newest, _ := svc.CreateSession(ctx, day(5))
	if _, err := svc.AddOrUpdateCountEntry(ctx, newest.ID, item.ID, 12, nil, ""); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if _, err := svc.CompleteSession(ctx, newest.ID); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	target, _ := svc.CreateSession(ctx, day(20))
	cmp, err := svc.PreviousSessionComparison(ctx, target.ID)
	if err != nil {
		t.Fatalf("comparison failed: %v", err)
	}
	if cmp == nil || cmp.Session.ID != newest.ID {
		t.Fatalf("baseline = %+v, want session %s", cmp, newest.ID)
	}
	if got := cmp.QuantityFor(item.ID); got != 12 {
		t.Errorf("baseline quantity = %d, want 12", got)
	}
	if got := cmp.QuantityFor("never-counted"); got != 0 {
		t.Errorf("uncounted item baseline = %d, want 0", got)
	}

	// The target itself is never its own baseline, even once completed.
	if _, err := svc.AddOrUpdateCountEntry(ctx, target.ID, item.ID, 1, nil, ""); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if _, err := svc.CompleteSession(ctx, target.ID); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	cmp, err = svc.PreviousSessionComparison(ctx, target.ID)
	if err != nil {
		t.Fatalf("comparison failed: %v", err)
	}
	if cmp == nil || cmp.Session.ID == target.ID {
		t.Errorf("target chosen as its own baseline: %+v", cmp)
	}
}

func TestPreviousSessionComparisonDateTieBreak(t *testing.T) {
	svc, _, _ := setupService(t, nil)
	ctx := context.Background()

	item := testItem("TIE-1")
	if err := svc.CreateItem(ctx, item); err != nil {
		t.Fatalf("create item failed: %v", err)
	}

	date := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	first, _ := svc.CreateSession(ctx, date)
	second, _ := svc.CreateSession(ctx, date)
	for _, id := range []string{first.ID, second.ID} {
		if _, err := svc.AddOrUpdateCountEntry(ctx, id, item.ID, 1, nil, ""); err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if _, err := svc.CompleteSession(ctx, id); err != nil {
			t.Fatalf("complete failed: %v", err)
		}
		time.Sleep(5 * time.Millisecond) // distinct UpdatedAt
	}

	target, _ := svc.CreateSession(ctx, date.AddDate(0, 0, 1))
	cmp, err := svc.PreviousSessionComparison(ctx, target.ID)
	if err != nil {
		t.Fatalf("comparison failed: %v", err)
	}
	if cmp == nil || cmp.Session.ID != second.ID {
		t.Errorf("tie broken toward %v, want the more recently updated session", cmp)
	}
}

func TestPreviousSessionComparisonNoBaseline(t *testing.T) {
	svc, _, _ := setupService(t, nil)
	ctx := context.Background()

	target, _ := svc.CreateSession(ctx, time.Time{})
	cmp, err := svc.PreviousSessionComparison(ctx, target.ID)
	if err != nil {
		t.Fatalf("comparison failed: %v", err)
	}
	if cmp != nil {
		t.Errorf("baseline from nothing: %+v", cmp)
	}
	if got := cmp.QuantityFor("anything"); got != 0 {
		t.Errorf("nil comparison quantity = %d, want 0", got)
	}
}

func TestCreateReportSnapshot(t *testing.T) {
	svc, _, _ := setupService(t, nil)
	ctx := context.Background()

	up, down, flat := testItem("R-1"), testItem("R-2"), testItem("R-3")
	for _, item := range []*model.Item{up, down, flat} {
		if err := svc.CreateItem(ctx, item); err != nil {
			t.Fatalf("create item failed: %v", err)
		}
	}

	sess, _ := svc.CreateSession(ctx, time.Time{})
	five, ten := 5, 10
	if _, err := svc.AddOrUpdateCountEntry(ctx, sess.ID, up.ID, 8, &five, ""); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if _, err := svc.AddOrUpdateCountEntry(ctx, sess.ID, down.ID, 4, &ten, "breakage"); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if _, err := svc.AddOrUpdateCountEntry(ctx, sess.ID, flat.ID, 5, &five, ""); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if _, err := svc.CompleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	report, err := svc.CreateReport(ctx, sess.ID)
	if err != nil {
		t.Fatalf("create report failed: %v", err)
	}
	if report.TotalItems != 3 || report.ItemsWithDifference != 2 {
		t.Errorf("totals = %d/%d, want 3 total, 2 with difference", report.TotalItems, report.ItemsWithDifference)
	}
	if report.PositiveDifferenceCount != 1 || report.NegativeDifferenceCount != 1 {
		t.Errorf("signs = +%d/-%d, want 1 each", report.PositiveDifferenceCount, report.NegativeDifferenceCount)
	}

	// Renaming the item afterwards does not rewrite the snapshot.
	newName := "Renamed"
	if _, err := svc.UpdateItem(ctx, up.ID, store.ItemPatch{Name: &newName}); err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	got, err := svc.GetReportByID(ctx, report.ID)
	if err != nil {
		t.Fatalf("get report failed: %v", err)
	}
	for _, row := range got.Rows {
		if row.ItemID == up.ID && row.ItemName != "Item R-1" {
			t.Errorf("snapshot name = %q, want name at report time", row.ItemName)
		}
	}
}

func TestMutationsTriggerSync(t *testing.T) {
	svc, notifier, _ := setupService(t, nil)
	ctx := context.Background()

	item := testItem("N-1")
	if err := svc.CreateItem(ctx, item); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	sess, _ := svc.CreateSession(ctx, time.Time{})
	if _, err := svc.AddOrUpdateCountEntry(ctx, sess.ID, item.ID, 1, nil, ""); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if _, err := svc.CompleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if _, err := svc.CreateReport(ctx, sess.ID); err != nil {
		t.Fatalf("report failed: %v", err)
	}

	// item, session, entry, session completion, report.
	if got := notifier.changedCount(); got != 5 {
		t.Errorf("notifier saw %d triggers, want 5: %v", got, notifier.changed)
	}
}
