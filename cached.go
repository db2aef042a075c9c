package lockstore

import (
	"context"
	"fmt"
	"iter"
	"time"

	c "github.com/unkn0wn-root/lockstore/codec"
	"github.com/unkn0wn-root/lockstore/internal/util"
	"github.com/unkn0wn-root/lockstore/internal/wire"
	pr "github.com/unkn0wn-root/lockstore/provider"
	"github.com/unkn0wn-root/lockstore/provider/lru"
)

const defaultCapacity = 1024

// SetCostFunc computes the provider cost of one memo entry.
type SetCostFunc func(storageKey string, raw []byte) int64

// CacheOptions tune the caching decorator.
// Namespace and Codec are required; others have sensible defaults.
type CacheOptions[V any] struct {
	// Required
	Namespace string // logical namespace to avoid collisions, e.g. "user", "order"
	Codec     c.Codec[V]

	Provider       pr.Provider   // nil => strict LRU of Capacity entries
	Capacity       int           // entries for the default provider; 0 => 1024
	MemoTTL        time.Duration // provider-side entry TTL; 0 => none
	Logger         Logger        // nil => NopLogger
	Hooks          Hooks         // nil => NopHooks
	ComputeSetCost SetCostFunc   // default 1
}

// NewCached wraps inner with a memo for point lookups. The decorator
// implements the same Store contract by pure composition, so any backend
// (or another decorator) can be wrapped uniformly.
//
// Consistency contract: only Get/GetMany/Set/SetAtomic/Delete touch the
// memo. GetLock, Query and Stream always consult live storage — locks are
// never cached (optimistic locking requires live state) and range results
// are never treated as authoritative point values. "Not found" is never
// memoized. The memo is private to this instance: writes made through a
// different instance or directly against the backend are not seen until
// the entry is evicted or invalidated, which is accepted by design.
func NewCached[V any](inner Store[V], opts CacheOptions[V]) (Store[V], error) {
	if inner == nil {
		return nil, fmt.Errorf("lockstore: inner store is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("lockstore: codec is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("lockstore: namespace is required")
	}

	d := &cached[V]{
		inner:    inner,
		ns:       opts.Namespace,
		codec:    opts.Codec,
		provider: opts.Provider,
		memoTTL:  opts.MemoTTL,
	}

	d.log = coalesce[Logger](opts.Logger, NopLogger{})
	d.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})

	if opts.ComputeSetCost != nil {
		d.cost = opts.ComputeSetCost
	} else {
		d.cost = func(string, []byte) int64 { return 1 }
	}

	if d.provider == nil {
		p, err := lru.New(lru.Config{
			Capacity: coalesce[int](opts.Capacity, defaultCapacity),
			OnEvict:  d.hooks.Evicted,
		})
		if err != nil {
			return nil, err
		}
		d.provider = p
	}
	return d, nil
}

type cached[V any] struct {
	inner    Store[V]
	ns       string
	codec    c.Codec[V]
	provider pr.Provider
	memoTTL  time.Duration
	log      Logger
	hooks    Hooks
	cost     SetCostFunc
}

func (d *cached[V]) memoKey(k Key) string {
	return util.MemoKey(d.ns, k.PartitionKey, k.SortKey)
}

// lookup returns the memoized item at key, deleting unusable entries
// (corrupt frame, expired item, undecodable payload) so the next read
// falls through to the backend.
func (d *cached[V]) lookup(ctx context.Context, key Key) (Item[V], bool) {
	k := d.memoKey(key)
	raw, ok, err := d.provider.Get(ctx, k)
	if err != nil {
		d.log.Warn("memo read error", Fields{"key": k, "err": err})
		return Item[V]{}, false
	}
	if !ok {
		return Item[V]{}, false
	}
	expiresAt, payload, err := wire.DecodeEntry(raw)
	if err != nil {
		_ = d.provider.Del(ctx, k)
		d.hooks.SelfHeal(k, "corrupt")
		return Item[V]{}, false
	}
	if expiresAt > 0 && expiresAt <= time.Now().Unix() {
		_ = d.provider.Del(ctx, k)
		d.hooks.SelfHeal(k, "expired")
		return Item[V]{}, false
	}
	v, err := d.codec.Decode(payload)
	if err != nil {
		_ = d.provider.Del(ctx, k)
		d.hooks.SelfHeal(k, "value_decode")
		return Item[V]{}, false
	}
	return Item[V]{Key: key, Data: v, TTL: expiresAt}, true
}

// memoize stores it in the memo, best effort. Only existing items are
// memoized; callers never pass "not found".
func (d *cached[V]) memoize(ctx context.Context, it Item[V]) {
	payload, err := d.codec.Encode(it.Data)
	if err != nil {
		d.log.Warn("memo encode error", Fields{"err": err})
		return
	}
	k := d.memoKey(it.Key)
	raw := wire.EncodeEntry(it.TTL, payload)
	ok, err := d.provider.Set(ctx, k, raw, d.cost(k, raw), d.memoTTL)
	if err != nil {
		d.log.Warn("memo write error", Fields{"key": k, "err": err})
		return
	}
	if !ok {
		d.hooks.ProviderSetRejected(k)
	}
}

func (d *cached[V]) invalidate(ctx context.Context, key Key) {
	_ = d.provider.Del(ctx, d.memoKey(key))
}

func (d *cached[V]) Get(ctx context.Context, key Key) (Item[V], bool, error) {
	if it, ok := d.lookup(ctx, key); ok {
		d.hooks.Hit(d.memoKey(key))
		return it, true, nil
	}
	d.hooks.Miss(d.memoKey(key))
	it, ok, err := d.inner.Get(ctx, key)
	if err != nil || !ok {
		return Item[V]{}, false, err
	}
	d.memoize(ctx, it)
	return it, true, nil
}

// GetMany serves what it can from the memo and fetches the rest from the
// backend in a single batched call, reassembling results in input order.
func (d *cached[V]) GetMany(ctx context.Context, keys []Key) ([]*Item[V], error) {
	out := make([]*Item[V], len(keys))
	var missKeys []Key
	var missPos []int
	for i, key := range keys {
		if it, ok := d.lookup(ctx, key); ok {
			d.hooks.Hit(d.memoKey(key))
			v := it
			out[i] = &v
			continue
		}
		d.hooks.Miss(d.memoKey(key))
		missKeys = append(missKeys, key)
		missPos = append(missPos, i)
	}
	if len(missKeys) == 0 {
		return out, nil
	}
	fetched, err := d.inner.GetMany(ctx, missKeys)
	if err != nil {
		return nil, err
	}
	for j, it := range fetched {
		if it == nil {
			continue
		}
		d.memoize(ctx, *it)
		out[missPos[j]] = it
	}
	return out, nil
}

// GetLock always delegates. Locks are never cached: the correctness of
// optimistic locking requires reading live state.
func (d *cached[V]) GetLock(ctx context.Context, key Key) (Lock, error) {
	return d.inner.GetLock(ctx, key)
}

// Set invalidates affected entries before issuing the backend write, so a
// partially-failed batched write can never leave the memo serving a value
// older than the last attempted write for a key whose write may have landed.
// On success the memo is repopulated with the new values.
func (d *cached[V]) Set(ctx context.Context, items ...Item[V]) error {
	for _, it := range items {
		d.invalidate(ctx, it.Key)
	}
	if err := d.inner.Set(ctx, items...); err != nil {
		return err
	}
	for _, it := range items {
		d.memoize(ctx, it)
	}
	return nil
}

// SetAtomic delegates the protocol unchanged (lock validation must hit live
// storage), then populates the memo with the committed values. A commit that
// fails in the backend mid-write leaves the memo untouched; affected entries
// surface staleness only until their next invalidation or eviction.
func (d *cached[V]) SetAtomic(ctx context.Context, items []Item[V], locks []Lock) error {
	if err := d.inner.SetAtomic(ctx, items, locks); err != nil {
		return err
	}
	for _, it := range items {
		d.memoize(ctx, it)
	}
	return nil
}

func (d *cached[V]) Delete(ctx context.Context, keys ...Key) error {
	for _, k := range keys {
		d.invalidate(ctx, k)
	}
	return d.inner.Delete(ctx, keys...)
}

// Query always delegates; range results may be partial or reordered and are
// never used to populate the memo.
func (d *cached[V]) Query(ctx context.Context, q Query) ([]Item[V], error) {
	return d.inner.Query(ctx, q)
}

// Stream always delegates, like Query.
func (d *cached[V]) Stream(ctx context.Context, q Query) iter.Seq2[Item[V], error] {
	return d.inner.Stream(ctx, q)
}

func (d *cached[V]) Close(ctx context.Context) error {
	perr := d.provider.Close(ctx)
	ierr := d.inner.Close(ctx)
	switch {
	case perr != nil && ierr != nil:
		return &CloseError{ProviderErr: perr, InnerErr: ierr}
	case perr != nil:
		return perr
	case ierr != nil:
		return ierr
	}
	return nil
}
