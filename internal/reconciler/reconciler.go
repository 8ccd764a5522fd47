package reconciler

import (
	"context"
	"log"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/stocktake/stocktake/internal/model"
	"github.com/stocktake/stocktake/internal/remote"
	"github.com/stocktake/stocktake/internal/store"
)

// Collection names as used in results, status maps and change triggers.
const (
	CollectionItems    = "items"
	CollectionSessions = "sessions"
	CollectionEntries  = "count_entries"
	CollectionReports  = "reports"
)

// pushTimeout bounds an opportunistic single-record push fired after a
// domain mutation.
const pushTimeout = 15 * time.Second

// Reconciler orchestrates bidirectional sync across all four collections.
type Reconciler struct {
	logger *log.Logger
	group  singleflight.Group

	items    *Table[model.Item]
	sessions *Table[model.Session]
	entries  *Table[model.CountEntry]
	reports  *Table[model.Report]
}

// New creates a Reconciler over the given store and remote client.
//
// If logger is nil, a default logger writing to stderr is used.
//
// Example:
//
//	st, err := store.Open(dbPath)
//	if err != nil {
//	    return err
//	}
//	rec := reconciler.New(st, remote.NewClient(baseURL, 0), nil)
//	result, _ := rec.FullSync(ctx)
func New(st *store.Store, client *remote.Client, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.New(os.Stderr, "[reconciler] ", log.LstdFlags)
	}
	return &Reconciler{
		logger:   logger,
		items:    NewTable[model.Item](st.Items(), client.Items(), logger),
		sessions: NewTable[model.Session](st.Sessions(), client.Sessions(), logger),
		entries:  NewTable[model.CountEntry](st.Entries(), client.Entries(), logger),
		reports:  NewTable[model.Report](st.Reports(), client.Reports(), logger),
	}
}

// FullSync runs one bidirectional pass: pull every collection, then push
// every collection. Collections succeed or fail independently; the result
// aggregates per-collection counts and is returned, never thrown.
//
// Concurrent callers join the in-flight pass instead of starting a second
// one, so two overlapping passes can never race on the same record.
func (r *Reconciler) FullSync(ctx context.Context) (*Result, error) {
	v, err, shared := r.group.Do("full-sync", func() (any, error) {
		return r.runPass(ctx), nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		r.logger.Printf("joined in-flight full sync")
	}
	return v.(*Result), nil
}

func (r *Reconciler) runPass(ctx context.Context) *Result {
	start := time.Now()
	r.logger.Printf("starting full sync")

	res := &Result{StartedAt: start}

	// Pull first so pushes run against the freshest view of the remote.
	// Sequential: later collections reference earlier ones.
	res.Pull = append(res.Pull, r.items.Pull(ctx))
	res.Pull = append(res.Pull, r.sessions.Pull(ctx))
	res.Pull = append(res.Pull, r.entries.Pull(ctx))
	res.Pull = append(res.Pull, r.reports.Pull(ctx))

	// Pushes are independent across collections and run concurrently.
	// No two operations share a record: each table serializes itself and
	// selects its dirty set exactly once.
	pushes := make([]CollectionResult, 4)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { pushes[0] = r.items.Push(gctx); return nil })
	g.Go(func() error { pushes[1] = r.sessions.Push(gctx); return nil })
	g.Go(func() error { pushes[2] = r.entries.Push(gctx); return nil })
	g.Go(func() error { pushes[3] = r.reports.Push(gctx); return nil })
	_ = g.Wait()
	res.Push = pushes

	res.Duration = time.Since(start)
	r.logger.Printf("full sync complete in %v: synced=%d errors=%d",
		res.Duration.Round(time.Millisecond), res.Synced(), res.Errors())
	return res
}

// PushCollection pushes one collection's dirty records immediately.
func (r *Reconciler) PushCollection(ctx context.Context, collection string) CollectionResult {
	switch collection {
	case CollectionItems:
		return r.items.Push(ctx)
	case CollectionSessions:
		return r.sessions.Push(ctx)
	case CollectionEntries:
		return r.entries.Push(ctx)
	case CollectionReports:
		return r.reports.Push(ctx)
	default:
		return CollectionResult{Collection: collection}
	}
}

// PushRecord pushes a single record if it is dirty.
func (r *Reconciler) PushRecord(ctx context.Context, collection, id string) error {
	switch collection {
	case CollectionItems:
		return r.items.PushOne(ctx, id)
	case CollectionSessions:
		return r.sessions.PushOne(ctx, id)
	case CollectionEntries:
		return r.entries.PushOne(ctx, id)
	case CollectionReports:
		return r.reports.PushOne(ctx, id)
	default:
		return nil
	}
}

// RecordChanged is the fire-and-forget trigger the domain layer calls after
// each mutation. The push runs in the background with its own timeout;
// failures are logged and the record simply stays dirty for the next
// scheduled pass. Sync must never block or fail a local write.
func (r *Reconciler) RecordChanged(collection, id string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()

		if err := r.PushRecord(ctx, collection, id); err != nil {
			r.logger.Printf("opportunistic push %s/%s failed (will retry on next pass): %v", collection, id, err)
		}
	}()
}

// RemoveRemote deletes a record from the backend, tolerating records that
// were never pushed. Used by domain deletes; best-effort.
func (r *Reconciler) RemoveRemote(ctx context.Context, collection, id string) error {
	switch collection {
	case CollectionItems:
		return r.items.remote.Remove(ctx, id)
	case CollectionSessions:
		return r.sessions.remote.Remove(ctx, id)
	case CollectionEntries:
		return r.entries.remote.Remove(ctx, id)
	case CollectionReports:
		return r.reports.remote.Remove(ctx, id)
	default:
		return nil
	}
}
