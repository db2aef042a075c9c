package lockstore

import (
	"context"
	"errors"
	"testing"

	"github.com/unkn0wn-root/lockstore/backend/memory"
)

func TestSetAtomicLengthMismatchFailsFast(t *testing.T) {
	ctx := context.Background()
	// a backend that errors on every operation proves no I/O happened
	s := newTestStore(t, &failingBackend{opErr: errors.New("should not be reached")})

	err := s.SetAtomic(ctx,
		[]Item[user]{{Key: dataKey("p", 1)}},
		nil,
	)
	if !errors.Is(err, ErrLockCountMismatch) {
		t.Fatalf("expected ErrLockCountMismatch, got %v", err)
	}
}

func TestSetAtomicCommitsAndAdvancesLock(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	key := dataKey("tenant1", 1)
	lkey := Key{PartitionKey: key.PartitionKey, SortKey: key.SortKey + "#lock"}

	lock, err := s.GetLock(ctx, lkey)
	if err != nil {
		t.Fatalf("GetLock: %v", err)
	}
	item := Item[user]{Key: key, Data: user{ID: "1", Name: "ada"}}
	if err := s.SetAtomic(ctx, []Item[user]{item}, []Lock{lock}); err != nil {
		t.Fatalf("SetAtomic: %v", err)
	}

	got, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get after commit: ok=%v err=%v", ok, err)
	}
	if got.Data != item.Data {
		t.Fatalf("committed value mismatch: %+v", got.Data)
	}

	// the guarding lock advanced; same TTL, new version
	after, err := s.GetLock(ctx, lkey)
	if err != nil {
		t.Fatalf("GetLock: %v", err)
	}
	if after.Version == lock.Version {
		t.Fatalf("lock version did not advance")
	}
	if after.TTL != lock.TTL {
		t.Fatalf("lock ttl changed on commit: %d vs %d", after.TTL, lock.TTL)
	}
}

// Two writers derive locks from the same generation; the first commit wins
// and the second observes a race.
func TestSetAtomicRaceExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	key := dataKey("tenant1", 1)
	lkey := Key{PartitionKey: key.PartitionKey, SortKey: key.SortKey + "#lock"}

	lockA, err := s.GetLock(ctx, lkey)
	if err != nil {
		t.Fatalf("GetLock: %v", err)
	}
	lockB, err := s.GetLock(ctx, lkey)
	if err != nil {
		t.Fatalf("GetLock: %v", err)
	}

	winner := Item[user]{Key: key, Data: user{ID: "1", Name: "winner"}}
	if err := s.SetAtomic(ctx, []Item[user]{winner}, []Lock{lockA}); err != nil {
		t.Fatalf("first SetAtomic: %v", err)
	}

	loser := Item[user]{Key: key, Data: user{ID: "1", Name: "loser"}}
	err = s.SetAtomic(ctx, []Item[user]{loser}, []Lock{lockB})
	if !errors.Is(err, ErrRaceCondition) {
		t.Fatalf("expected race condition, got %v", err)
	}
	var race *RaceError
	if !errors.As(err, &race) || len(race.Keys) != 1 || race.Keys[0] != lkey {
		t.Fatalf("race error should name the stale lock key: %+v", err)
	}

	got, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Data.Name != "winner" {
		t.Fatalf("final value is not the winner's: %+v", got.Data)
	}
}

func TestSetAtomicMissingLockIsRace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	key := dataKey("p", 1)
	lkey := Key{PartitionKey: "p", SortKey: "user:001#lock"}
	ghost := Lock{Key: lkey} // never persisted

	err := s.SetAtomic(ctx, []Item[user]{{Key: key}}, []Lock{ghost})
	if !errors.Is(err, ErrRaceCondition) {
		t.Fatalf("expected race condition for absent lock, got %v", err)
	}
}

// One stale lock in a batch fails the whole batch: no item is written.
func TestSetAtomicAllOrNothingOnRace(t *testing.T) {
	ctx := context.Background()
	be := memory.New(memory.Options{})
	s := newTestStore(t, be)

	k1, k2 := dataKey("p", 1), dataKey("p", 2)
	l1 := Key{PartitionKey: "p", SortKey: "user:001#lock"}
	l2 := Key{PartitionKey: "p", SortKey: "user:002#lock"}

	lock1, err := s.GetLock(ctx, l1)
	if err != nil {
		t.Fatalf("GetLock: %v", err)
	}
	lock2, err := s.GetLock(ctx, l2)
	if err != nil {
		t.Fatalf("GetLock: %v", err)
	}

	// advance lock2 behind the caller's back
	if err := s.SetAtomic(ctx, []Item[user]{{Key: k2, Data: user{ID: "sneak"}}}, []Lock{lock2}); err != nil {
		t.Fatalf("interfering SetAtomic: %v", err)
	}

	err = s.SetAtomic(ctx,
		[]Item[user]{{Key: k1, Data: user{ID: "a"}}, {Key: k2, Data: user{ID: "b"}}},
		[]Lock{lock1, lock2},
	)
	if !errors.Is(err, ErrRaceCondition) {
		t.Fatalf("expected race condition, got %v", err)
	}
	if _, ok, _ := s.Get(ctx, k1); ok {
		t.Fatalf("item guarded by a valid lock leaked through a failed batch")
	}
	got, ok, _ := s.Get(ctx, k2)
	if !ok || got.Data.ID != "sneak" {
		t.Fatalf("k2 should hold the interfering writer's value: %+v", got)
	}
}
