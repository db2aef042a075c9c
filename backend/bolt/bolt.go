// Package bolt provides a persistent backend.Backend on top of bbolt.
// Records live in a single bucket under composite keys
// (partitionKey | 0x00 | sortKey); partition keys must not contain NUL.
// Expiry is stored in the value envelope and enforced on read; expired
// records are removed best-effort as a side effect of reads.
package bolt

import (
	"bytes"
	"context"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/unkn0wn-root/lockstore/backend"
	"github.com/unkn0wn-root/lockstore/internal/util"
	"github.com/unkn0wn-root/lockstore/internal/wire"
)

const defaultBucket = "lockstore"

// Backend is a bbolt-backed item store. Safe for concurrent use; bbolt
// serializes writers internally.
type Backend struct {
	db     *bbolt.DB
	bucket []byte
	now    func() time.Time
}

var _ backend.Backend = (*Backend)(nil)

type Options struct {
	// Bucket is the bolt bucket name. "" => "lockstore".
	Bucket string
}

// Open initializes or opens a store at path.
func Open(path string, opts Options) (*Backend, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	bucket := []byte(defaultBucket)
	if opts.Bucket != "" {
		bucket = []byte(opts.Bucket)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Backend{db: db, bucket: bucket, now: time.Now}, nil
}

func (b *Backend) Close(context.Context) error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *Backend) decode(k, v []byte) (backend.Record, bool, error) {
	expiresAt, payload, err := wire.DecodeEntry(v)
	if err != nil {
		return backend.Record{}, false, err
	}
	if expiresAt > 0 && expiresAt <= b.now().Unix() {
		return backend.Record{}, false, nil
	}
	sep := bytes.IndexByte(k, 0)
	if sep < 0 {
		return backend.Record{}, false, wire.ErrCorrupt
	}
	return backend.Record{
		PartitionKey: string(k[:sep]),
		SortKey:      string(k[sep+1:]),
		Value:        append([]byte(nil), payload...),
		ExpiresAt:    expiresAt,
	}, true, nil
}

func (b *Backend) Get(_ context.Context, pk, sk string) (backend.Record, bool, error) {
	key := util.RecordKey(pk, sk)
	var rec backend.Record
	var found, dead bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(b.bucket).Get(key)
		if v == nil {
			return nil
		}
		r, live, err := b.decode(key, v)
		if err != nil {
			return err
		}
		if !live {
			dead = true
			return nil
		}
		rec, found = r, true
		return nil
	})
	if err != nil {
		return backend.Record{}, false, err
	}
	if dead {
		b.reap(key)
	}
	return rec, found, nil
}

// reap physically removes expired keys. Best effort; read results do not
// depend on it.
func (b *Backend) reap(keys ...[]byte) {
	_ = b.db.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(b.bucket)
		for _, k := range keys {
			_ = bk.Delete(k)
		}
		return nil
	})
}

func (b *Backend) GetBatch(_ context.Context, keys []backend.RecordKey) ([]*backend.Record, error) {
	out := make([]*backend.Record, len(keys))
	var dead [][]byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(b.bucket)
		for i, k := range keys {
			key := util.RecordKey(k.PartitionKey, k.SortKey)
			v := bk.Get(key)
			if v == nil {
				continue
			}
			r, live, err := b.decode(key, v)
			if err != nil {
				return err
			}
			if !live {
				dead = append(dead, key)
				continue
			}
			out[i] = &r
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(dead) > 0 {
		b.reap(dead...)
	}
	return out, nil
}

func (b *Backend) Put(_ context.Context, recs ...backend.Record) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(b.bucket)
		for _, r := range recs {
			key := util.RecordKey(r.PartitionKey, r.SortKey)
			if err := bk.Put(key, wire.EncodeEntry(r.ExpiresAt, r.Value)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Backend) DeleteBatch(_ context.Context, keys []backend.RecordKey) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(b.bucket)
		for _, k := range keys {
			if err := bk.Delete(util.RecordKey(k.PartitionKey, k.SortKey)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Backend) Scan(_ context.Context, opts backend.ScanOptions, fn func(backend.Record) error) error {
	prefix := util.RecordKey(opts.PartitionKey, opts.SortKeyPrefix)
	return b.db.View(func(tx *bbolt.Tx) error {
		cur := tx.Bucket(b.bucket).Cursor()
		yielded := 0
		emit := func(k, v []byte) (bool, error) {
			r, live, err := b.decode(k, v)
			if err != nil {
				return false, err
			}
			if !live {
				return true, nil
			}
			if err := fn(r); err != nil {
				return false, err
			}
			yielded++
			if opts.Limit > 0 && yielded >= opts.Limit {
				return false, nil
			}
			return true, nil
		}
		if !opts.Reverse {
			for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
				cont, err := emit(k, v)
				if err != nil {
					return err
				}
				if !cont {
					return nil
				}
			}
			return nil
		}
		// reverse: position one past the prefix range and walk backwards
		k, v := seekLastInPrefix(cur, prefix)
		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Prev() {
			cont, err := emit(k, v)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		return nil
	})
}

// seekLastInPrefix positions cur at the greatest key within prefix.
func seekLastInPrefix(cur *bbolt.Cursor, prefix []byte) ([]byte, []byte) {
	end := prefixSuccessor(prefix)
	if end == nil {
		return cur.Last()
	}
	k, _ := cur.Seek(end)
	if k == nil {
		return cur.Last()
	}
	return cur.Prev()
}

// prefixSuccessor returns the smallest byte string greater than every string
// with the given prefix, or nil when no such string exists (all 0xFF).
func prefixSuccessor(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
