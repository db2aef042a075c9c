// Package redis provides a backend.Backend on top of a redis server.
// Each partition maps to one hash (keyed "<prefix><partitionKey>") whose
// fields are sort keys; values carry the wire envelope with the absolute
// expiry. Range scans read the whole hash and order client-side, so very
// large partitions are better served by the bolt backend.
package redis

import (
	"context"
	"errors"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/lockstore/backend"
	"github.com/unkn0wn-root/lockstore/internal/wire"
)

// batchSize caps commands per pipeline round trip.
const batchSize = 128

var ErrNilClient = errors.New("redis backend: nil client")

type Backend struct {
	rdb         goredis.UniversalClient
	prefix      string
	closeClient bool
	now         func() time.Time
}

var _ backend.Backend = (*Backend)(nil)

type Config struct {
	Client goredis.UniversalClient
	// Prefix namespaces partition hashes. "" => "lockstore:".
	Prefix string
	// CloseClient true only if this backend exclusively owns the client.
	CloseClient bool
}

func New(cfg Config) (*Backend, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "lockstore:"
	}
	return &Backend{
		rdb:         cfg.Client,
		prefix:      prefix,
		closeClient: cfg.CloseClient,
		now:         time.Now,
	}, nil
}

func (b *Backend) hashKey(pk string) string { return b.prefix + pk }

func (b *Backend) live(expiresAt int64) bool {
	return expiresAt == 0 || expiresAt > b.now().Unix()
}

func (b *Backend) Get(ctx context.Context, pk, sk string) (backend.Record, bool, error) {
	v, err := b.rdb.HGet(ctx, b.hashKey(pk), sk).Bytes()
	if err == goredis.Nil {
		return backend.Record{}, false, nil
	}
	if err != nil {
		return backend.Record{}, false, err
	}
	expiresAt, payload, err := wire.DecodeEntry(v)
	if err != nil {
		return backend.Record{}, false, err
	}
	if !b.live(expiresAt) {
		// physically remove as a read side effect; best effort
		_ = b.rdb.HDel(ctx, b.hashKey(pk), sk).Err()
		return backend.Record{}, false, nil
	}
	return backend.Record{
		PartitionKey: pk,
		SortKey:      sk,
		Value:        append([]byte(nil), payload...),
		ExpiresAt:    expiresAt,
	}, true, nil
}

func (b *Backend) GetBatch(ctx context.Context, keys []backend.RecordKey) ([]*backend.Record, error) {
	out := make([]*backend.Record, len(keys))
	err := backend.Chunks(keys, batchSize, func(off int, chunk []backend.RecordKey) error {
		cmds := make([]*goredis.StringCmd, len(chunk))
		_, err := b.rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
			for i, k := range chunk {
				cmds[i] = pipe.HGet(ctx, b.hashKey(k.PartitionKey), k.SortKey)
			}
			return nil
		})
		if err != nil && err != goredis.Nil {
			return err
		}
		for i, cmd := range cmds {
			v, err := cmd.Bytes()
			if err == goredis.Nil {
				continue
			}
			if err != nil {
				return err
			}
			expiresAt, payload, err := wire.DecodeEntry(v)
			if err != nil {
				return err
			}
			if !b.live(expiresAt) {
				k := chunk[i]
				_ = b.rdb.HDel(ctx, b.hashKey(k.PartitionKey), k.SortKey).Err()
				continue
			}
			out[off+i] = &backend.Record{
				PartitionKey: chunk[i].PartitionKey,
				SortKey:      chunk[i].SortKey,
				Value:        append([]byte(nil), payload...),
				ExpiresAt:    expiresAt,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Backend) Put(ctx context.Context, recs ...backend.Record) error {
	return backend.Chunks(recs, batchSize, func(_ int, chunk []backend.Record) error {
		_, err := b.rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
			for _, r := range chunk {
				env := wire.EncodeEntry(r.ExpiresAt, r.Value)
				pipe.HSet(ctx, b.hashKey(r.PartitionKey), r.SortKey, env)
			}
			return nil
		})
		return err
	})
}

func (b *Backend) DeleteBatch(ctx context.Context, keys []backend.RecordKey) error {
	return backend.Chunks(keys, batchSize, func(_ int, chunk []backend.RecordKey) error {
		_, err := b.rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
			for _, k := range chunk {
				pipe.HDel(ctx, b.hashKey(k.PartitionKey), k.SortKey)
			}
			return nil
		})
		return err
	})
}

func (b *Backend) Scan(ctx context.Context, opts backend.ScanOptions, fn func(backend.Record) error) error {
	all, err := b.rdb.HGetAll(ctx, b.hashKey(opts.PartitionKey)).Result()
	if err != nil {
		return err
	}
	type pair struct {
		sk  string
		rec backend.Record
	}
	matched := make([]pair, 0, len(all))
	var dead []string
	for sk, v := range all {
		if len(opts.SortKeyPrefix) > 0 && (len(sk) < len(opts.SortKeyPrefix) || sk[:len(opts.SortKeyPrefix)] != opts.SortKeyPrefix) {
			continue
		}
		expiresAt, payload, err := wire.DecodeEntry([]byte(v))
		if err != nil {
			return err
		}
		if !b.live(expiresAt) {
			dead = append(dead, sk)
			continue
		}
		matched = append(matched, pair{sk: sk, rec: backend.Record{
			PartitionKey: opts.PartitionKey,
			SortKey:      sk,
			Value:        append([]byte(nil), payload...),
			ExpiresAt:    expiresAt,
		}})
	}
	if len(dead) > 0 {
		_ = b.rdb.HDel(ctx, b.hashKey(opts.PartitionKey), dead...).Err()
	}
	sort.Slice(matched, func(i, j int) bool {
		if opts.Reverse {
			return matched[i].sk > matched[j].sk
		}
		return matched[i].sk < matched[j].sk
	})
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	for _, p := range matched {
		if err := fn(p.rec); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying redis client only when this backend owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (b *Backend) Close(context.Context) error {
	if b.closeClient {
		if err := b.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
