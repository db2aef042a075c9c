package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/unkn0wn-root/lockstore/backend"
)

func rec(pk, sk, val string, exp int64) backend.Record {
	return backend.Record{PartitionKey: pk, SortKey: sk, Value: []byte(val), ExpiresAt: exp}
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	m := New(Options{})

	if err := m.Put(ctx, rec("p", "a", "v1", 0)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := m.Get(ctx, "p", "a")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(got.Value) != "v1" {
		t.Fatalf("value mismatch: %q", got.Value)
	}

	// replace
	if err := m.Put(ctx, rec("p", "a", "v2", 0)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, _, _ = m.Get(ctx, "p", "a")
	if string(got.Value) != "v2" {
		t.Fatalf("replace failed: %q", got.Value)
	}

	if err := m.DeleteBatch(ctx, []backend.RecordKey{{PartitionKey: "p", SortKey: "a"}}); err != nil {
		t.Fatalf("DeleteBatch: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "p", "a"); ok {
		t.Fatalf("expected absent after delete")
	}
}

func TestGetBatchOrderAndAbsents(t *testing.T) {
	ctx := context.Background()
	m := New(Options{BatchSize: 2}) // force chunking

	for i := 0; i < 5; i++ {
		if i == 2 {
			continue
		}
		if err := m.Put(ctx, rec("p", fmt.Sprintf("k%d", i), fmt.Sprint(i), 0)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	keys := make([]backend.RecordKey, 5)
	for i := range keys {
		keys[i] = backend.RecordKey{PartitionKey: "p", SortKey: fmt.Sprintf("k%d", i)}
	}
	got, err := m.GetBatch(ctx, keys)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	for i, r := range got {
		if i == 2 {
			if r != nil {
				t.Fatalf("k2 should be absent, got %+v", r)
			}
			continue
		}
		if r == nil || string(r.Value) != fmt.Sprint(i) {
			t.Fatalf("result %d mismatch: %+v", i, r)
		}
	}
}

func TestScanOrderPrefixReverseLimit(t *testing.T) {
	ctx := context.Background()
	m := New(Options{})

	for _, sk := range []string{"b:1", "a:2", "a:1", "c:1"} {
		if err := m.Put(ctx, rec("p", sk, sk, 0)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	collect := func(opts backend.ScanOptions) []string {
		t.Helper()
		var got []string
		if err := m.Scan(ctx, opts, func(r backend.Record) error {
			got = append(got, r.SortKey)
			return nil
		}); err != nil {
			t.Fatalf("Scan: %v", err)
		}
		return got
	}

	eq := func(got []string, want ...string) {
		t.Helper()
		if len(got) != len(want) {
			t.Fatalf("got %v want %v", got, want)
		}
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("got %v want %v", got, want)
			}
		}
	}

	eq(collect(backend.ScanOptions{PartitionKey: "p"}), "a:1", "a:2", "b:1", "c:1")
	eq(collect(backend.ScanOptions{PartitionKey: "p", SortKeyPrefix: "a:"}), "a:1", "a:2")
	eq(collect(backend.ScanOptions{PartitionKey: "p", Reverse: true}), "c:1", "b:1", "a:2", "a:1")
	eq(collect(backend.ScanOptions{PartitionKey: "p", Reverse: true, Limit: 2}), "c:1", "b:1")
	eq(collect(backend.ScanOptions{PartitionKey: "p", SortKeyPrefix: "zz"}))
	eq(collect(backend.ScanOptions{PartitionKey: "other"}))
}

func TestExpiredRecordsAbsentAndReaped(t *testing.T) {
	ctx := context.Background()
	m := New(Options{})
	m.now = func() time.Time { return time.Unix(1000, 0) }

	if err := m.Put(ctx, rec("p", "dead", "x", 999), rec("p", "live", "y", 2000)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, ok, _ := m.Get(ctx, "p", "dead"); ok {
		t.Fatalf("expired record visible")
	}
	// the expired read physically removed the record; even with time
	// rolled back it stays gone
	m.now = func() time.Time { return time.Unix(1, 0) }
	if _, ok, _ := m.Get(ctx, "p", "dead"); ok {
		t.Fatalf("expired record was not physically removed")
	}
	if _, ok, _ := m.Get(ctx, "p", "live"); !ok {
		t.Fatalf("live record missing")
	}
}

func TestScanSkipsExpired(t *testing.T) {
	ctx := context.Background()
	m := New(Options{})
	m.now = func() time.Time { return time.Unix(1000, 0) }

	if err := m.Put(ctx, rec("p", "a", "x", 999), rec("p", "b", "y", 0)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	var got []string
	if err := m.Scan(ctx, backend.ScanOptions{PartitionKey: "p"}, func(r backend.Record) error {
		got = append(got, r.SortKey)
		return nil
	}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 1 || got[0] != "b" {
		t.Fatalf("scan result: %v", got)
	}
}

func TestValueIsolation(t *testing.T) {
	ctx := context.Background()
	m := New(Options{})

	v := []byte("orig")
	if err := m.Put(ctx, backend.Record{PartitionKey: "p", SortKey: "a", Value: v}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v[0] = 'X' // caller mutates its slice after Put

	got, _, _ := m.Get(ctx, "p", "a")
	if string(got.Value) != "orig" {
		t.Fatalf("stored value aliased caller slice: %q", got.Value)
	}
	got.Value[0] = 'Y' // caller mutates the returned slice

	again, _, _ := m.Get(ctx, "p", "a")
	if string(again.Value) != "orig" {
		t.Fatalf("returned value aliased stored slice: %q", again.Value)
	}
}
