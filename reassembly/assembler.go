// Package reassembly implements the out-of-order reassembler: a sparse
// contiguity tracker over the receive stream. It records which byte ranges
// have arrived without storing payload itself — the socket stores bytes in
// a buffer.ByteBuffer and asks the Assembler only "how much of the front is
// now contiguous".
package reassembly

import "sort"

// byteRange is a half-open [start, end) span of absolute stream offsets.
type byteRange struct {
	start, end int
}

// Assembler tracks contiguous byte coverage over the abstract interval
// [0, ∞) of a receive stream. Offsets passed to Add are always relative to
// the current front (the next byte not yet delivered): 0 means "the very
// next expected byte". RemoveFront advances the front and every subsequent
// Add call is relative to the new front, matching the socket's use of
// RCV.NXT as assembler offset zero.
//
// Modeled on tinyrange-cc's tcpRecvBuffer.collectContiguous
// (internal/netstack/tcp.go), which repeatedly scans a list of
// out-of-order segments for one starting exactly at the expected sequence
// number; generalized here to track ranges rather than payload bytes, and
// to merge adjacent/overlapping ranges eagerly rather than scanning to a
// fixed point on every call. Cross-checked against godtoy-netcap's
// reassembly Assembler, which takes the same range-merging approach.
type Assembler struct {
	consumed int // total bytes ever removed via RemoveFront/total front advance
	ranges   []byteRange
	maxWin   int // announced receive window; 0 means unbounded
}

// New returns an empty Assembler. maxWindow, if non-zero, is the receive
// window currently announced to the peer: Add rejects ranges that would
// extend beyond it.
func New(maxWindow int) *Assembler {
	return &Assembler{maxWin: maxWindow}
}

// SetWindow updates the announced receive window used to bound future Add
// calls.
func (a *Assembler) SetWindow(maxWindow int) { a.maxWin = maxWindow }

// Add marks [offset, offset+length) — relative to the current front — as
// received, merging with any overlapping or adjacent ranges. Ranges that
// fall entirely behind the front (already delivered) are ignored; ranges
// extending past the announced window are rejected outright (no partial
// accept).
func (a *Assembler) Add(offset, length int) {
	if length <= 0 {
		return
	}
	if a.maxWin > 0 && offset+length > a.maxWin {
		return
	}
	if offset+length <= 0 {
		return // entirely before the front
	}
	if offset < 0 {
		// Trim the portion already delivered.
		length += offset
		offset = 0
	}

	start := a.consumed + offset
	end := start + length

	insertAt := sort.Search(len(a.ranges), func(i int) bool {
		return a.ranges[i].start >= start
	})

	merged := byteRange{start: start, end: end}
	lo, hi := insertAt, insertAt

	// Merge with the range immediately before, if touching or overlapping.
	if lo > 0 && a.ranges[lo-1].end >= merged.start {
		lo--
		if a.ranges[lo].start < merged.start {
			merged.start = a.ranges[lo].start
		}
	}
	// Merge with every following range that touches or overlaps.
	for hi < len(a.ranges) && a.ranges[hi].start <= merged.end {
		if a.ranges[hi].end > merged.end {
			merged.end = a.ranges[hi].end
		}
		hi++
	}

	tail := append([]byteRange{}, a.ranges[hi:]...)
	a.ranges = append(a.ranges[:lo], merged)
	a.ranges = append(a.ranges, tail...)
}

// PeekFront returns the size of the contiguous prefix starting at the
// current front, without consuming it. Zero if nothing is in order yet.
func (a *Assembler) PeekFront() int {
	if len(a.ranges) == 0 {
		return 0
	}
	front := a.ranges[0]
	if front.start != a.consumed {
		return 0
	}
	return front.end - front.start
}

// RemoveFront consumes and returns the size of the contiguous prefix
// starting at the front. Zero if nothing is in order yet.
func (a *Assembler) RemoveFront() int {
	n := a.PeekFront()
	if n == 0 {
		return 0
	}
	a.consumed += n
	a.ranges = a.ranges[1:]
	return n
}

// IsEmpty reports whether the assembler holds no received ranges at all
// (including out-of-order ones).
func (a *Assembler) IsEmpty() bool { return len(a.ranges) == 0 }

// Front returns the current front offset in the assembler's own absolute
// coordinate space — the number of bytes ever delivered via RemoveFront.
// Nothing else in this module calls it; Add/RemoveFront/PeekFront never
// need it since they work in front-relative coordinates.
func (a *Assembler) Front() int { return a.consumed }
