// Package inventory implements the domain operations on top of the local
// store: catalog management, counting sessions, and report snapshots.
//
// All writes land locally first and succeed offline. After each mutation
// the service notifies the sync layer through a fire-and-forget trigger;
// push failures never surface to the caller, the record simply stays
// dirty until a later pass drains it.
package inventory

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/stocktake/stocktake/internal/model"
	"github.com/stocktake/stocktake/internal/reconciler"
	"github.com/stocktake/stocktake/internal/store"
)

var (
	// ErrNotFound is returned when the referenced record does not exist
	// locally.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateSKU is returned when an item's SKU collides with
	// another known item, ignoring case.
	ErrDuplicateSKU = errors.New("sku already in use")

	// ErrDuplicateDescription is returned when an item's non-empty
	// description collides with another known item's.
	ErrDuplicateDescription = errors.New("description already in use")

	// ErrSessionCompleted is returned when a counting operation targets a
	// completed session.
	ErrSessionCompleted = errors.New("session is completed")
)

// Notifier receives change triggers after local mutations. The reconciler
// implements it; tests substitute a recording fake.
type Notifier interface {
	// RecordChanged schedules a background push of one record. Must not
	// block.
	RecordChanged(collection, id string)

	// RemoveRemote deletes a record from the backend. Best-effort: the
	// caller logs and ignores failures.
	RemoveRemote(ctx context.Context, collection, id string) error
}

// RemoteCatalog is the read side of the backend's item collection, used to
// extend uniqueness checks past the local cache when the backend happens
// to be reachable.
type RemoteCatalog interface {
	FetchAll(ctx context.Context) ([]model.Item, error)
}

// Service exposes the domain operations. All dependencies are injected;
// catalog may be nil to run fully offline.
type Service struct {
	st       *store.Store
	notifier Notifier
	catalog  RemoteCatalog
	logger   *log.Logger
}

// New creates a Service. If logger is nil, a default logger writing to
// stderr is used.
func New(st *store.Store, notifier Notifier, catalog RemoteCatalog, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(os.Stderr, "[inventory] ", log.LstdFlags)
	}
	return &Service{st: st, notifier: notifier, catalog: catalog, logger: logger}
}

// notifyChanged fires the background push trigger for one record.
func (s *Service) notifyChanged(collection, id string) {
	if s.notifier != nil {
		s.notifier.RecordChanged(collection, id)
	}
}

// removeRemote deletes the backend copy of a record, tolerating failure.
// Without it a deleted record would be resurrected by the next pull.
func (s *Service) removeRemote(ctx context.Context, collection, id string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.RemoveRemote(ctx, collection, id); err != nil {
		s.logger.Printf("WARNING: remote delete %s/%s failed: %v", collection, id, err)
	}
}

const (
	collectionItems    = reconciler.CollectionItems
	collectionSessions = reconciler.CollectionSessions
	collectionEntries  = reconciler.CollectionEntries
	collectionReports  = reconciler.CollectionReports
)
