package mtv

import (
	"testing"

	"github.com/kohei101/multidimalgorithm/libs/mdserr"
)

type countingHandler struct {
	acquired, released int
}

func (h *countingHandler) ElementBlockAcquired(Block) { h.acquired++ }
func (h *countingHandler) ElementBlockReleased(Block) { h.released++ }

func (h *countingHandler) blockCount() int { return h.acquired - h.released }

func TestBlockCountingAcrossDistinctCategories(t *testing.T) {
	h := &countingHandler{}
	db := New(5, h)

	mustSet := func(p int, v any) {
		t.Helper()
		var err error
		switch val := v.(type) {
		case bool:
			err = Set(db, p, val)
		case float64:
			err = Set(db, p, val)
		case string:
			err = Set(db, p, val)
		}
		if err != nil {
			t.Fatalf("Set(%d, %v) failed: %v", p, v, err)
		}
	}
	mustSet(0, true)
	mustSet(1, 12.2)
	mustSet(4, "foo")
	mustSet(3, "bar")

	if got := db.NonEmptyBlockCount(); got != 3 {
		t.Errorf("NonEmptyBlockCount() = %d, want 3 (bool, numeric, string)", got)
	}
	if h.blockCount() != 3 {
		t.Errorf("handler block_count = %d, want 3", h.blockCount())
	}

	// Clearing the bool and numeric positions collapses them into the
	// existing empty gap, leaving only the merged string block.
	if err := SetEmpty(db, 0, 2); err != nil {
		t.Fatalf("SetEmpty(0,2) failed: %v", err)
	}
	if got := db.NonEmptyBlockCount(); got != 1 {
		t.Errorf("after clearing bool+numeric, NonEmptyBlockCount() = %d, want 1", got)
	}

	// Clearing the remaining string range empties the whole container.
	if err := SetEmpty(db, 3, 2); err != nil {
		t.Fatalf("SetEmpty(3,2) failed: %v", err)
	}
	if got := db.NonEmptyBlockCount(); got != 0 {
		t.Errorf("after clearing the string block, NonEmptyBlockCount() = %d, want 0", got)
	}
	if h.blockCount() != 0 {
		t.Errorf("handler block_count = %d, want 0 once every block is empty", h.blockCount())
	}
	if db.BlockCount() != 1 {
		t.Errorf("BlockCount() = %d, want 1 (a single empty block spanning the container)", db.BlockCount())
	}
}

func TestTransferMovesWholeBlocksBetweenContainers(t *testing.T) {
	src := New(6, nil)
	dst := New(6, nil)

	if err := Set(src, 0, byte('z')); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := Set(src, 1, 10); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := Set(src, 2, int16(5)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got := src.NonEmptyBlockCount(); got != 3 {
		t.Fatalf("src.NonEmptyBlockCount() = %d, want 3 before transfer", got)
	}

	if err := Transfer(src, 0, 2, dst, 0); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	if got := src.NonEmptyBlockCount(); got != 0 {
		t.Errorf("src.NonEmptyBlockCount() after transfer = %d, want 0", got)
	}
	if got := dst.NonEmptyBlockCount(); got != 3 {
		t.Errorf("dst.NonEmptyBlockCount() after transfer = %d, want 3", got)
	}

	gotZ, err := Get[byte](dst, 0)
	if err != nil || gotZ != 'z' {
		t.Errorf("dst.Get[byte](0) = %v, %v, want 'z', nil", gotZ, err)
	}
	gotI, err := Get[int](dst, 1)
	if err != nil || gotI != 10 {
		t.Errorf("dst.Get[int](1) = %v, %v, want 10, nil", gotI, err)
	}
	gotS, err := Get[int16](dst, 2)
	if err != nil || gotS != 5 {
		t.Errorf("dst.Get[int16](2) = %v, %v, want 5, nil", gotS, err)
	}
	if dst.Size() != 6 {
		t.Errorf("dst.Size() = %d, want 6", dst.Size())
	}
}

func TestSetRoundTripsThroughGet(t *testing.T) {
	db := New(10, nil)
	if err := Set(db, 4, "hello"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := Get[string](db, 4)
	if err != nil || got != "hello" {
		t.Errorf("Get[string](4) = %q, %v, want %q, nil", got, err, "hello")
	}
	if _, err := Get[int](db, 4); !mdserr.Is(err, mdserr.TypeMismatch) {
		t.Errorf("expected TypeMismatch reading an int out of a string block, got %v", err)
	}
}

func TestSetOverwritesInPlaceWithinSameCategoryBlock(t *testing.T) {
	h := &countingHandler{}
	db := New(4, h)
	if err := SetRange(db, 0, []int{1, 2, 3, 4}); err != nil {
		t.Fatalf("SetRange failed: %v", err)
	}
	acquiredBefore := h.acquired
	if err := Set(db, 2, 99); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if h.acquired != acquiredBefore {
		t.Errorf("overwriting within an existing same-category block must not acquire a new block")
	}
	if db.NonEmptyBlockCount() != 1 {
		t.Errorf("NonEmptyBlockCount() = %d, want 1", db.NonEmptyBlockCount())
	}
	got, err := Get[int](db, 2)
	if err != nil || got != 99 {
		t.Errorf("Get[int](2) = %v, %v, want 99, nil", got, err)
	}
}

func TestInsertEmptyShiftsSubsequentPositions(t *testing.T) {
	db := New(3, nil)
	if err := SetRange(db, 0, []int{1, 2, 3}); err != nil {
		t.Fatalf("SetRange failed: %v", err)
	}
	if err := InsertEmpty(db, 1, 2); err != nil {
		t.Fatalf("InsertEmpty failed: %v", err)
	}
	if db.Size() != 5 {
		t.Fatalf("Size() = %d, want 5", db.Size())
	}
	want := map[int]int{0: 1, 3: 2, 4: 3}
	for p, v := range want {
		got, err := Get[int](db, p)
		if err != nil || got != v {
			t.Errorf("Get[int](%d) = %v, %v, want %d, nil", p, got, err, v)
		}
	}
	if !db.IsEmpty(1) || !db.IsEmpty(2) {
		t.Errorf("positions 1 and 2 should be the newly inserted empty run")
	}
}

func TestEraseShrinksAndMergesAcrossTheGap(t *testing.T) {
	db := New(5, nil)
	if err := SetRange(db, 0, []int{1, 2, 3, 4, 5}); err != nil {
		t.Fatalf("SetRange failed: %v", err)
	}
	if err := Erase(db, 1, 2); err != nil {
		t.Fatalf("Erase failed: %v", err)
	}
	if db.Size() != 3 {
		t.Fatalf("Size() = %d, want 3", db.Size())
	}
	want := []int{1, 4, 5}
	for i, v := range want {
		got, err := Get[int](db, i)
		if err != nil || got != v {
			t.Errorf("Get[int](%d) = %v, %v, want %d, nil", i, got, err, v)
		}
	}
	if db.NonEmptyBlockCount() != 1 {
		t.Errorf("NonEmptyBlockCount() = %d, want 1 (the int run re-merged across the erased gap)", db.NonEmptyBlockCount())
	}
}

func TestSwapExchangesEqualLengthRanges(t *testing.T) {
	a := New(4, nil)
	b := New(4, nil)
	if err := SetRange(a, 0, []int{1, 2, 3, 4}); err != nil {
		t.Fatalf("SetRange failed: %v", err)
	}
	if err := SetRange(b, 0, []string{"w", "x", "y", "z"}); err != nil {
		t.Fatalf("SetRange failed: %v", err)
	}
	if err := Swap(a, 1, 2, b, 1); err != nil {
		t.Fatalf("Swap failed: %v", err)
	}
	gotA1, _ := Get[string](a, 1)
	gotA2, _ := Get[string](a, 2)
	if gotA1 != "x" || gotA2 != "y" {
		t.Errorf("a[1:3] after swap = %q,%q, want x,y", gotA1, gotA2)
	}
	gotB1, _ := Get[int](b, 1)
	gotB2, _ := Get[int](b, 2)
	if gotB1 != 2 || gotB2 != 3 {
		t.Errorf("b[1:3] after swap = %v,%v, want 2,3", gotB1, gotB2)
	}
}

func TestIteratorWalksEveryPositionInOrder(t *testing.T) {
	db := New(5, nil)
	if err := Set(db, 1, 7); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := Set(db, 2, 8); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	it := NewIterator(db)
	var seen []int
	var empties int
	for it.Next() {
		seen = append(seen, it.Position())
		if it.IsEmpty() {
			empties++
			continue
		}
		v, err := IteratorValue[int](it)
		if err != nil {
			t.Fatalf("IteratorValue at %d failed: %v", it.Position(), err)
		}
		if it.Position() == 1 && v != 7 {
			t.Errorf("position 1 = %d, want 7", v)
		}
		if it.Position() == 2 && v != 8 {
			t.Errorf("position 2 = %d, want 8", v)
		}
	}
	if len(seen) != 5 {
		t.Errorf("iterator visited %d positions, want 5", len(seen))
	}
	if empties != 3 {
		t.Errorf("iterator saw %d empty positions, want 3", empties)
	}
}

func TestSetRangeRejectsOutOfBounds(t *testing.T) {
	db := New(3, nil)
	if err := SetRange(db, 2, []int{1, 2}); !mdserr.Is(err, mdserr.OutOfRange) {
		t.Errorf("expected OutOfRange, got %v", err)
	}
}

func TestRefCountingHandlerTracksLiveBlocks(t *testing.T) {
	h := NewRefCountingHandler()
	db := New(5, h)

	if err := Set(db, 0, true); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := Set(db, 1, 12.2); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if h.BlockCount() != int32(db.NonEmptyBlockCount()) {
		t.Errorf("BlockCount() = %d, want %d", h.BlockCount(), db.NonEmptyBlockCount())
	}

	if err := SetEmpty(db, 0, 2); err != nil {
		t.Fatalf("SetEmpty failed: %v", err)
	}
	if h.BlockCount() != 0 {
		t.Errorf("BlockCount() = %d, want 0 once every block is cleared", h.BlockCount())
	}
}
