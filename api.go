package lockstore

import (
	"context"
	"iter"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/lockstore/backend"
	c "github.com/unkn0wn-root/lockstore/codec"
)

// Key addresses one stored entity. PartitionKey groups related items;
// SortKey orders and filters within a group. Callers encode any hierarchy
// into the sort key (e.g. prefix segments) and keep lock keys disjoint
// from data keys by convention (e.g. a "#lock" suffix).
type Key struct {
	PartitionKey string
	SortKey      string
}

// Item is a stored record. Data is the caller's payload; the store never
// inspects it beyond (de)serializing through the configured Codec.
// TTL is an absolute expiration time in epoch seconds; 0 means no expiry.
// An item whose TTL has passed is treated as absent by every read path.
type Item[V any] struct {
	Key  Key
	Data V
	TTL  int64
}

// Lock is a version-carrying control record guarding optimistic updates.
// Version is opaque: compared by equality only, regenerated on every
// refresh and on every successful SetAtomic. Locks live in the same
// keyspace as items under caller-chosen keys.
type Lock struct {
	Key     Key
	Version uuid.UUID
	TTL     int64
}

// Query selects items under one partition key. SortKeyPrefix narrows by
// sort-key prefix (empty matches all). Results are ordered lexicographically
// by sort key, ascending unless Reverse is set. Limit caps the result count
// after ordering; 0 means unlimited.
type Query struct {
	PartitionKey  string
	SortKeyPrefix string
	Reverse       bool
	Limit         int
}

// Store is the atomic key-value contract: point reads, unconditional and
// lock-guarded writes, range queries and lock lifecycle management, generic
// over the payload type V.
//
// SetAtomic is optimistic: locks obtained via GetLock are validated against
// live storage at commit time and conflicts surface as *RaceError. The store
// performs no retries of its own; backend errors propagate unchanged.
type Store[V any] interface {
	// Get returns the item at key, or ok=false when absent or expired.
	Get(ctx context.Context, key Key) (Item[V], bool, error)

	// GetMany returns one element per requested key, in input order.
	// Missing keys yield a nil element, not an error.
	GetMany(ctx context.Context, keys []Key) ([]*Item[V], error)

	// GetLock returns the live lock at key, creating or refreshing it
	// when absent, expired, or within the refresh window of expiry.
	GetLock(ctx context.Context, key Key) (Lock, error)

	// Set writes items unconditionally. No version check is performed;
	// a concurrent Set can overwrite data guarded by an in-flight
	// lock-guarded update.
	Set(ctx context.Context, items ...Item[V]) error

	// SetAtomic writes items guarded by positionally paired locks
	// (item i is guarded by locks[i]). It fails with ErrLockCountMismatch
	// before any I/O when the slices differ in length, and with *RaceError
	// (writing nothing) when any supplied lock no longer matches live
	// storage. On success every guarding lock advances to a new version.
	SetAtomic(ctx context.Context, items []Item[V], locks []Lock) error

	// Delete removes the given keys. Absent keys are not an error.
	Delete(ctx context.Context, keys ...Key) error

	// Query returns all non-expired items matching q.
	Query(ctx context.Context, q Query) ([]Item[V], error)

	// Stream is Query as a lazy, forward-only, single-pass sequence.
	// A backend failure mid-scan yields a non-nil error as the final
	// element. The sequence is not restartable.
	Stream(ctx context.Context, q Query) iter.Seq2[Item[V], error]

	// Close releases backend resources.
	Close(ctx context.Context) error
}

// Options configure a Store over a raw backend.
// Backend and Codec are required.
type Options[V any] struct {
	Backend backend.Backend
	Codec   c.Codec[V]
	Logger  Logger // nil => NopLogger
}

// New builds a Store implementing the optimistic-locking protocol on top of
// the given backend. Wrap the result with NewCached for a memoizing layer.
func New[V any](opts Options[V]) (Store[V], error) {
	return newStore[V](opts)
}
