package reassembly

import "testing"

func TestInOrderDelivery(t *testing.T) {
	a := New(0)
	a.Add(0, 5)
	if got := a.PeekFront(); got != 5 {
		t.Fatalf("peek = %d, want 5", got)
	}
	if got := a.RemoveFront(); got != 5 {
		t.Fatalf("remove = %d, want 5", got)
	}
	if got := a.RemoveFront(); got != 0 {
		t.Fatalf("second remove = %d, want 0 (nothing left)", got)
	}
}

func TestOutOfOrderThenGapFilled(t *testing.T) {
	a := New(0)
	a.Add(5, 5) // bytes [5,10) arrive first; gap at [0,5)
	if got := a.PeekFront(); got != 0 {
		t.Fatalf("peek with gap = %d, want 0", got)
	}
	a.Add(0, 5) // fills the gap
	if got := a.PeekFront(); got != 10 {
		t.Fatalf("peek after fill = %d, want 10", got)
	}
	if got := a.RemoveFront(); got != 10 {
		t.Fatalf("remove after fill = %d, want 10", got)
	}
}

func TestAdjacentRangesMerge(t *testing.T) {
	a := New(0)
	a.Add(0, 3)
	a.Add(3, 3) // exactly adjacent, must merge into one range
	if len(a.ranges) != 1 {
		t.Fatalf("expected ranges to merge into one, got %d", len(a.ranges))
	}
	if got := a.PeekFront(); got != 6 {
		t.Fatalf("peek = %d, want 6", got)
	}
}

func TestOverlappingRangesMerge(t *testing.T) {
	a := New(0)
	a.Add(0, 5)
	a.Add(3, 5) // overlaps [3,5) with existing
	if len(a.ranges) != 1 {
		t.Fatalf("expected overlap to merge, got %d ranges", len(a.ranges))
	}
	if got := a.PeekFront(); got != 8 {
		t.Fatalf("peek = %d, want 8", got)
	}
}

// TestMergeOrderIndependent checks that adding ranges in any order yields
// the same final set of gaps.
func TestMergeOrderIndependent(t *testing.T) {
	orders := [][][2]int{
		{{0, 3}, {3, 3}, {10, 5}, {6, 4}},
		{{10, 5}, {6, 4}, {3, 3}, {0, 3}},
		{{6, 4}, {0, 3}, {10, 5}, {3, 3}},
	}
	var want []byteRange
	for i, order := range orders {
		a := New(0)
		for _, r := range order {
			a.Add(r[0], r[1])
		}
		if i == 0 {
			want = a.ranges
			continue
		}
		if len(a.ranges) != len(want) {
			t.Fatalf("order %d: got %d ranges, want %d", i, len(a.ranges), len(want))
		}
		for j := range want {
			if a.ranges[j] != want[j] {
				t.Fatalf("order %d: range %d = %+v, want %+v", i, j, a.ranges[j], want[j])
			}
		}
	}
}

func TestRejectsBeyondWindow(t *testing.T) {
	a := New(10)
	a.Add(8, 10) // extends to offset 18, past window of 10
	if !a.IsEmpty() {
		t.Fatalf("expected out-of-window range to be rejected")
	}
}

func TestRemoveFrontAdvancesCoordinateFrame(t *testing.T) {
	a := New(0)
	a.Add(0, 4)
	if got := a.RemoveFront(); got != 4 {
		t.Fatalf("first remove = %d, want 4", got)
	}
	// Offsets are now relative to the new front; offset 0 means the 5th
	// overall byte.
	a.Add(0, 3)
	if got := a.PeekFront(); got != 3 {
		t.Fatalf("peek after front advance = %d, want 3", got)
	}
}

func TestDuplicateRangeIsNoOp(t *testing.T) {
	a := New(0)
	a.Add(0, 5)
	a.Add(0, 5)
	if len(a.ranges) != 1 || a.PeekFront() != 5 {
		t.Fatalf("duplicate add should not grow coverage, got ranges=%v", a.ranges)
	}
}

func TestIsEmpty(t *testing.T) {
	a := New(0)
	if !a.IsEmpty() {
		t.Fatalf("fresh assembler should be empty")
	}
	a.Add(0, 1)
	if a.IsEmpty() {
		t.Fatalf("assembler with a range should not be empty")
	}
}
