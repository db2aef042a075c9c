// Package lockstore implements a backend-agnostic atomic key-value store
// with optimistic locking and an optional caching decorator.
//
// Items are addressed by (partition key, sort key) pairs. Multi-item updates
// are guarded by lock records stored in the same keyspace: a caller obtains a
// lock via GetLock, computes new item payloads, and submits items plus locks
// to SetAtomic, which validates every lock version against live storage and
// writes all items and advanced locks in one batch only when all validate.
// Conflicting writers are detected (surfaced as *RaceError), not prevented.
//
// This is a two-phase optimistic scheme, not a transactional log: if the
// backend fails partway through the commit phase after validation succeeded,
// partial writes are possible and are not rolled back.
//
// Components:
//   - backend.Backend: minimal raw byte store (point/batched get, put,
//     delete, ordered range scan, per-record expiry). Adapters: memory,
//     bolt (bbolt), redis.
//   - codec.Codec[V]: (de)serializes the caller's payload type at the
//     backend boundary.
//   - NewCached: decorator memoizing point reads in a provider.Provider
//     (strict LRU by default) with narrow, explicit invalidation rules.
//     Locks and range queries always hit live storage.
//
// Typical flow:
//
//	lock, _ := store.GetLock(ctx, lockKey)
//	err := store.SetAtomic(ctx, []lockstore.Item[User]{next}, []lockstore.Lock{lock})
//	if errors.Is(err, lockstore.ErrRaceCondition) {
//	    // re-acquire the lock, recompute, retry
//	}
package lockstore
