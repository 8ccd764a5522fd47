// Package reconciler keeps the local store and the remote backend in
// agreement.
//
// The reconciler owes a push to every record whose synced flag is false,
// and it merges remote state into the local store under one rule: local
// unsynced data always outranks remote data for the same id. It is designed
// to be resilient; one record's failure never stops a collection, and one
// collection's failure never stops a pass. Failures are counted and
// returned, not thrown.
package reconciler

import "context"

// Record is the contract every syncable entity satisfies.
type Record[T any] interface {
	// RecordID returns the record's primary key.
	RecordID() string

	// WithID returns a copy of the record under a different id. Used with
	// an empty id to let the server assign one during duplicate-key
	// recovery.
	WithID(id string) T

	// IsSynced reports whether the record has pending local edits.
	IsSynced() bool
}

// LocalCollection is the store-side surface the reconciler needs for one
// collection. *store.ItemStore and friends implement it.
type LocalCollection[T Record[T]] interface {
	// Name identifies the collection in logs and pass results.
	Name() string

	// ListUnsynced returns the records that still owe a push. A pass
	// selects its working set exactly once, so no record is ever touched
	// by two in-flight operations.
	ListUnsynced(ctx context.Context) ([]T, error)

	// Get returns the record or (nil, nil) when the id does not exist.
	Get(ctx context.Context, id string) (*T, error)

	// SaveSynced persists a server-canonical copy with synced=true.
	SaveSynced(ctx context.Context, rec T) error

	// MigrateID renames a record's primary key and repoints weak
	// references, preserving referential consistency when the server
	// assigns a replacement id.
	MigrateID(ctx context.Context, oldID, newID string) error
}

// RemoteCollection is the backend-side surface for one collection.
// *remote.Collection implements it.
type RemoteCollection[T Record[T]] interface {
	Name() string

	// FetchAll retrieves every remote record.
	FetchAll(ctx context.Context) ([]T, error)

	// FetchById returns the record or (nil, nil) when absent remotely.
	FetchById(ctx context.Context, id string) (*T, error)

	// Create stores a new record and returns the server's canonical copy,
	// possibly under a server-assigned id.
	Create(ctx context.Context, rec T) (*T, error)

	// Update replaces the record, failing with a not-found kind when the
	// target vanished so the caller can fall back to Create.
	Update(ctx context.Context, id string, rec T) (*T, error)

	// Remove deletes the record; removing an absent record is success.
	Remove(ctx context.Context, id string) error
}
