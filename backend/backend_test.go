package backend

import (
	"errors"
	"testing"
)

func TestChunksCoversAllElementsInOrder(t *testing.T) {
	xs := make([]int, 10)
	for i := range xs {
		xs[i] = i
	}

	var offsets []int
	var seen []int
	err := Chunks(xs, 3, func(off int, chunk []int) error {
		offsets = append(offsets, off)
		seen = append(seen, chunk...)
		if len(chunk) > 3 {
			t.Fatalf("chunk too large: %d", len(chunk))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Chunks: %v", err)
	}
	if len(seen) != len(xs) {
		t.Fatalf("saw %d elements, want %d", len(seen), len(xs))
	}
	for i, v := range seen {
		if v != i {
			t.Fatalf("element %d out of order: %d", i, v)
		}
	}
	wantOffsets := []int{0, 3, 6, 9}
	if len(offsets) != len(wantOffsets) {
		t.Fatalf("offsets %v, want %v", offsets, wantOffsets)
	}
	for i := range offsets {
		if offsets[i] != wantOffsets[i] {
			t.Fatalf("offsets %v, want %v", offsets, wantOffsets)
		}
	}
}

func TestChunksSingleChunkForNonPositiveSize(t *testing.T) {
	calls := 0
	err := Chunks([]int{1, 2, 3}, 0, func(off int, chunk []int) error {
		calls++
		if off != 0 || len(chunk) != 3 {
			t.Fatalf("expected one full chunk, got off=%d len=%d", off, len(chunk))
		}
		return nil
	})
	if err != nil || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestChunksAbortsOnError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Chunks([]int{1, 2, 3, 4}, 2, func(int, []int) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("expected immediate abort: err=%v calls=%d", err, calls)
	}
}

func TestChunksEmptyInput(t *testing.T) {
	err := Chunks(nil, 2, func(int, []int) error {
		t.Fatalf("fn called for empty input")
		return nil
	})
	if err != nil {
		t.Fatalf("Chunks: %v", err)
	}
}
