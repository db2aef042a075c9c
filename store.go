package lockstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/lockstore/backend"
	c "github.com/unkn0wn-root/lockstore/codec"
)

// Lock TTL policy. A lock lives for lockLifetime from creation or refresh
// and is refreshed in place once less than lockRefreshWindow remains, so
// repeated GetLock calls immediately before a commit cause no version churn
// while long-held locks self-heal without manual TTL bookkeeping.
const (
	lockLifetime      = 24 * time.Hour
	lockRefreshWindow = time.Hour
)

type store[V any] struct {
	be    backend.Backend
	codec c.Codec[V]
	log   Logger
	now   func() time.Time
}

func newStore[V any](opts Options[V]) (*store[V], error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("lockstore: backend is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("lockstore: codec is required")
	}
	s := &store[V]{
		be:    opts.Backend,
		codec: opts.Codec,
		now:   time.Now,
	}
	s.log = coalesce[Logger](opts.Logger, NopLogger{})
	return s, nil
}

func (s *store[V]) Close(ctx context.Context) error { return s.be.Close(ctx) }

func (s *store[V]) decodeRecord(rec backend.Record) (Item[V], error) {
	v, err := s.codec.Decode(rec.Value)
	if err != nil {
		return Item[V]{}, err
	}
	return Item[V]{
		Key:  Key{PartitionKey: rec.PartitionKey, SortKey: rec.SortKey},
		Data: v,
		TTL:  rec.ExpiresAt,
	}, nil
}

func (s *store[V]) encodeItem(it Item[V]) (backend.Record, error) {
	raw, err := s.codec.Encode(it.Data)
	if err != nil {
		return backend.Record{}, err
	}
	return backend.Record{
		PartitionKey: it.Key.PartitionKey,
		SortKey:      it.Key.SortKey,
		Value:        raw,
		ExpiresAt:    it.TTL,
	}, nil
}

func (s *store[V]) Get(ctx context.Context, key Key) (Item[V], bool, error) {
	rec, ok, err := s.be.Get(ctx, key.PartitionKey, key.SortKey)
	if err != nil || !ok {
		return Item[V]{}, false, err
	}
	it, err := s.decodeRecord(rec)
	if err != nil {
		return Item[V]{}, false, err
	}
	return it, true, nil
}

func (s *store[V]) GetMany(ctx context.Context, keys []Key) ([]*Item[V], error) {
	rks := make([]backend.RecordKey, len(keys))
	for i, k := range keys {
		rks[i] = backend.RecordKey{PartitionKey: k.PartitionKey, SortKey: k.SortKey}
	}
	recs, err := s.be.GetBatch(ctx, rks)
	if err != nil {
		return nil, err
	}
	out := make([]*Item[V], len(keys))
	for i, rec := range recs {
		if rec == nil {
			continue
		}
		it, err := s.decodeRecord(*rec)
		if err != nil {
			return nil, err
		}
		out[i] = &it
	}
	return out, nil
}

// GetLock reads the live lock at key and returns it unchanged while more
// than lockRefreshWindow remains before expiry. When the lock is absent,
// expired, or close to expiry it is regenerated with a fresh version and a
// full lifetime, and persisted before returning. At most one write per call.
func (s *store[V]) GetLock(ctx context.Context, key Key) (Lock, error) {
	rec, ok, err := s.be.Get(ctx, key.PartitionKey, key.SortKey)
	if err != nil {
		return Lock{}, err
	}
	now := s.now()
	if ok {
		if ver, err := uuid.FromBytes(rec.Value); err == nil {
			if remaining := rec.ExpiresAt - now.Unix(); remaining >= int64(lockRefreshWindow/time.Second) {
				return Lock{Key: key, Version: ver, TTL: rec.ExpiresAt}, nil
			}
		} else {
			// not a lock payload; overwrite with a fresh one
			s.log.Warn("malformed lock record, regenerating", Fields{
				"pk": key.PartitionKey, "sk": key.SortKey,
			})
		}
	}
	lock, err := s.freshLock(key, now.Add(lockLifetime).Unix())
	if err != nil {
		return Lock{}, err
	}
	if err := s.be.Put(ctx, lockRecord(lock)); err != nil {
		return Lock{}, err
	}
	return lock, nil
}

func (s *store[V]) freshLock(key Key, ttl int64) (Lock, error) {
	ver, err := uuid.NewV7()
	if err != nil {
		return Lock{}, err
	}
	return Lock{Key: key, Version: ver, TTL: ttl}, nil
}

func lockRecord(l Lock) backend.Record {
	return backend.Record{
		PartitionKey: l.Key.PartitionKey,
		SortKey:      l.Key.SortKey,
		Value:        l.Version[:],
		ExpiresAt:    l.TTL,
	}
}

func (s *store[V]) Set(ctx context.Context, items ...Item[V]) error {
	if len(items) == 0 {
		return nil
	}
	recs := make([]backend.Record, len(items))
	for i, it := range items {
		rec, err := s.encodeItem(it)
		if err != nil {
			return err
		}
		recs[i] = rec
	}
	return s.be.Put(ctx, recs...)
}

// SetAtomic validates every supplied lock against live storage and, only if
// all match, writes all items plus a regenerated version for every lock in
// one batch. Validation failures write nothing and surface as *RaceError.
//
// The commit itself is best-effort all-or-nothing: if the backend fails
// partway through the write phase after validation succeeded, partial writes
// are possible and are not rolled back. The protocol detects conflicting
// writers; it does not provide stronger isolation than that.
func (s *store[V]) SetAtomic(ctx context.Context, items []Item[V], locks []Lock) error {
	if len(items) != len(locks) {
		return fmt.Errorf("%w: %d items, %d locks", ErrLockCountMismatch, len(items), len(locks))
	}
	if len(items) == 0 {
		return nil
	}

	// validation phase: one batched read of live lock state
	lockKeys := make([]backend.RecordKey, len(locks))
	for i, l := range locks {
		lockKeys[i] = backend.RecordKey{PartitionKey: l.Key.PartitionKey, SortKey: l.Key.SortKey}
	}
	live, err := s.be.GetBatch(ctx, lockKeys)
	if err != nil {
		return err
	}
	var stale []Key
	validated := make([]backend.Record, len(locks))
	for i, rec := range live {
		if rec == nil {
			stale = append(stale, locks[i].Key)
			continue
		}
		cur, err := uuid.FromBytes(rec.Value)
		if err != nil || cur != locks[i].Version {
			stale = append(stale, locks[i].Key)
			continue
		}
		validated[i] = *rec
	}
	if len(stale) > 0 {
		s.log.Debug("atomic write lost the race", Fields{"stale": len(stale), "batch": len(items)})
		return &RaceError{Keys: stale}
	}

	// commit phase: items plus advanced locks in one batch. The new lock
	// keeps the validated lock's expiry; only the version changes.
	recs := make([]backend.Record, 0, 2*len(items))
	for i, it := range items {
		rec, err := s.encodeItem(it)
		if err != nil {
			return err
		}
		next, err := s.freshLock(locks[i].Key, validated[i].ExpiresAt)
		if err != nil {
			return err
		}
		recs = append(recs, rec, lockRecord(next))
	}
	return s.be.Put(ctx, recs...)
}

func (s *store[V]) Delete(ctx context.Context, keys ...Key) error {
	if len(keys) == 0 {
		return nil
	}
	rks := make([]backend.RecordKey, len(keys))
	for i, k := range keys {
		rks[i] = backend.RecordKey{PartitionKey: k.PartitionKey, SortKey: k.SortKey}
	}
	return s.be.DeleteBatch(ctx, rks)
}

func scanOptions(q Query) backend.ScanOptions {
	return backend.ScanOptions{
		PartitionKey:  q.PartitionKey,
		SortKeyPrefix: q.SortKeyPrefix,
		Reverse:       q.Reverse,
		Limit:         q.Limit,
	}
}

func (s *store[V]) Query(ctx context.Context, q Query) ([]Item[V], error) {
	var out []Item[V]
	err := s.be.Scan(ctx, scanOptions(q), func(rec backend.Record) error {
		it, err := s.decodeRecord(rec)
		if err != nil {
			return err
		}
		out = append(out, it)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// errStopStream aborts a backend scan when the consumer stops iterating.
var errStopStream = errors.New("lockstore: stream stopped")

func (s *store[V]) Stream(ctx context.Context, q Query) iter.Seq2[Item[V], error] {
	return func(yield func(Item[V], error) bool) {
		err := s.be.Scan(ctx, scanOptions(q), func(rec backend.Record) error {
			it, err := s.decodeRecord(rec)
			if err != nil {
				return err
			}
			if !yield(it, nil) {
				return errStopStream
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopStream) {
			yield(Item[V]{}, err)
		}
	}
}
