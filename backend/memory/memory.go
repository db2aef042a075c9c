// Package memory provides an in-process backend.Backend backed by one
// ordered tree per partition. It is the reference implementation of the
// backend contract and the default substrate for tests.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/unkn0wn-root/lockstore/backend"
)

const defaultBatchSize = 25

type entry struct {
	sortKey   string
	value     []byte
	expiresAt int64
}

// Backend stores records in memory, ordered by sort key within each
// partition. Safe for concurrent use. Records whose expiry has passed are
// treated as absent and physically removed as a side effect of reads.
type Backend struct {
	mu        sync.Mutex
	parts     map[string]*btree.BTreeG[entry]
	batchSize int
	now       func() time.Time
}

var _ backend.Backend = (*Backend)(nil)

type Options struct {
	// BatchSize is the artificial maximum batch size, exercising the
	// chunking contract real backends are subject to. 0 => 25.
	BatchSize int
}

func New(opts Options) *Backend {
	bs := opts.BatchSize
	if bs <= 0 {
		bs = defaultBatchSize
	}
	return &Backend{
		parts:     make(map[string]*btree.BTreeG[entry]),
		batchSize: bs,
		now:       time.Now,
	}
}

func lessEntry(a, b entry) bool { return a.sortKey < b.sortKey }

func (m *Backend) tree(pk string, create bool) *btree.BTreeG[entry] {
	t, ok := m.parts[pk]
	if !ok && create {
		t = btree.NewG[entry](16, lessEntry)
		m.parts[pk] = t
	}
	return t
}

func (m *Backend) expired(e entry) bool {
	return e.expiresAt > 0 && e.expiresAt <= m.now().Unix()
}

// getLocked returns the live record at (pk, sk), deleting it when expired.
// Caller holds mu.
func (m *Backend) getLocked(pk, sk string) (backend.Record, bool) {
	t := m.tree(pk, false)
	if t == nil {
		return backend.Record{}, false
	}
	e, ok := t.Get(entry{sortKey: sk})
	if !ok {
		return backend.Record{}, false
	}
	if m.expired(e) {
		t.Delete(e)
		return backend.Record{}, false
	}
	return backend.Record{
		PartitionKey: pk,
		SortKey:      sk,
		Value:        append([]byte(nil), e.value...),
		ExpiresAt:    e.expiresAt,
	}, true
}

func (m *Backend) Get(_ context.Context, pk, sk string) (backend.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.getLocked(pk, sk)
	return rec, ok, nil
}

func (m *Backend) GetBatch(_ context.Context, keys []backend.RecordKey) ([]*backend.Record, error) {
	out := make([]*backend.Record, len(keys))
	err := backend.Chunks(keys, m.batchSize, func(off int, chunk []backend.RecordKey) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, k := range chunk {
			if rec, ok := m.getLocked(k.PartitionKey, k.SortKey); ok {
				r := rec
				out[off+i] = &r
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Backend) Put(_ context.Context, recs ...backend.Record) error {
	return backend.Chunks(recs, m.batchSize, func(_ int, chunk []backend.Record) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, r := range chunk {
			t := m.tree(r.PartitionKey, true)
			t.ReplaceOrInsert(entry{
				sortKey:   r.SortKey,
				value:     append([]byte(nil), r.Value...),
				expiresAt: r.ExpiresAt,
			})
		}
		return nil
	})
}

func (m *Backend) DeleteBatch(_ context.Context, keys []backend.RecordKey) error {
	return backend.Chunks(keys, m.batchSize, func(_ int, chunk []backend.RecordKey) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, k := range chunk {
			if t := m.tree(k.PartitionKey, false); t != nil {
				t.Delete(entry{sortKey: k.SortKey})
			}
		}
		return nil
	})
}

func (m *Backend) Scan(_ context.Context, opts backend.ScanOptions, fn func(backend.Record) error) error {
	m.mu.Lock()
	t := m.tree(opts.PartitionKey, false)
	var matched []entry
	var dead []entry
	if t != nil {
		t.AscendGreaterOrEqual(entry{sortKey: opts.SortKeyPrefix}, func(e entry) bool {
			if !strings.HasPrefix(e.sortKey, opts.SortKeyPrefix) {
				return false
			}
			if m.expired(e) {
				dead = append(dead, e)
				return true
			}
			matched = append(matched, e)
			return true
		})
		for _, e := range dead {
			t.Delete(e)
		}
	}
	m.mu.Unlock()

	if opts.Reverse {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	for _, e := range matched {
		rec := backend.Record{
			PartitionKey: opts.PartitionKey,
			SortKey:      e.sortKey,
			Value:        append([]byte(nil), e.value...),
			ExpiresAt:    e.expiresAt,
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *Backend) Close(context.Context) error { return nil }
