package domain

import "context"

// Collection names used by the core subsystems.
const (
	CollectionEngines     = "engines"
	CollectionHistory     = "history"
	CollectionPreferences = "preferences"
)

// Record is a schemaless document stored in a collection. Typed layers
// marshal their domain values through JSON into Records at the boundary.
type Record map[string]any

// CollectionSpec declares a collection at store-open time: its primary
// key field and the fields that get secondary indexes.
type CollectionSpec struct {
	Name    string
	Key     string
	Indexes []string
}

// Store is a generic keyed-collection store with secondary-index lookup.
// Schema setup is additive and idempotent: reopening with a superset of
// collections or indexes never drops existing data.
type Store interface {
	// Create inserts a new record. Fails ErrAlreadyExists if the key is taken.
	Create(ctx context.Context, collection string, rec Record) error
	// Get returns the record for key. Fails ErrNotFound if absent.
	Get(ctx context.Context, collection, key string) (Record, error)
	// Update merges partial onto the stored record and returns the merged
	// result. Fails ErrNotFound if absent.
	Update(ctx context.Context, collection, key string, partial Record) (Record, error)
	// Delete removes the record for key. Fails ErrNotFound if absent.
	Delete(ctx context.Context, collection, key string) error
	// GetAll returns every record in the collection.
	GetAll(ctx context.Context, collection string) ([]Record, error)
	// QueryByIndex returns records whose field equals value. Indexes whose
	// value type the backend cannot serve fall back to a full scan; the
	// strategy is fixed per index at open time.
	QueryByIndex(ctx context.Context, collection, field string, value any) ([]Record, error)
	// Count returns the number of records in the collection.
	Count(ctx context.Context, collection string) (int, error)
	// Clear removes every record in the collection.
	Clear(ctx context.Context, collection string) error

	Close() error
}
