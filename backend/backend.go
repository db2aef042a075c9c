// Package backend defines the raw item-store abstraction used by lockstore.
//
// A Backend is a flat associative store keyed by (partition key, sort key)
// pairs with per-record absolute expiry. Implementations MUST be safe for
// concurrent use and MUST treat a record whose ExpiresAt has passed as
// absent on every read path; they MAY physically remove it as a side effect
// of the read.
//
// Backends with a native maximum batch size must chunk batched operations
// internally; chunk boundaries must not be observable to the caller in
// result ordering or correctness.
package backend

import "context"

// RecordKey addresses one record.
type RecordKey struct {
	PartitionKey string
	SortKey      string
}

// Record is one stored entry. Value is opaque to the backend.
// ExpiresAt is epoch seconds; 0 means no expiry.
type Record struct {
	PartitionKey string
	SortKey      string
	Value        []byte
	ExpiresAt    int64
}

func (r Record) Key() RecordKey {
	return RecordKey{PartitionKey: r.PartitionKey, SortKey: r.SortKey}
}

// ScanOptions select records under one partition key, ordered
// lexicographically by sort key (descending when Reverse is set),
// narrowed by sort-key prefix, capped at Limit non-expired records
// (0 = unlimited).
type ScanOptions struct {
	PartitionKey  string
	SortKeyPrefix string
	Reverse       bool
	Limit         int
}

// Backend is the minimal capability set lockstore needs from a store.
type Backend interface {
	// Get returns the record at (pk, sk), or ok=false when absent or expired.
	Get(ctx context.Context, pk, sk string) (Record, bool, error)

	// GetBatch returns one element per requested key, in input order.
	// Absent or expired keys yield a nil element, not an error.
	GetBatch(ctx context.Context, keys []RecordKey) ([]*Record, error)

	// Put writes records unconditionally, replacing existing values.
	Put(ctx context.Context, recs ...Record) error

	// DeleteBatch removes the given keys. Absent keys are not an error.
	DeleteBatch(ctx context.Context, keys []RecordKey) error

	// Scan streams matching records in order to fn. A non-nil return
	// from fn aborts the scan and is propagated unchanged.
	Scan(ctx context.Context, opts ScanOptions, fn func(Record) error) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Chunks invokes fn over successive sub-slices of xs of at most size
// elements. offset is the index of the chunk's first element within xs,
// so callers can place per-element results positionally. size <= 0 means
// a single chunk.
func Chunks[T any](xs []T, size int, fn func(offset int, chunk []T) error) error {
	if len(xs) == 0 {
		return nil
	}
	if size <= 0 || size >= len(xs) {
		return fn(0, xs)
	}
	for off := 0; off < len(xs); off += size {
		end := off + size
		if end > len(xs) {
			end = len(xs)
		}
		if err := fn(off, xs[off:end]); err != nil {
			return err
		}
	}
	return nil
}
