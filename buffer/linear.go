package buffer

// DefaultCompactThreshold mirrors smoltcp's default: below this occupied
// extent, a Linear buffer will copy its data to offset 0 to reclaim tail
// space rather than rejecting the write. Above it, compaction is skipped
// since the copy would be too large to be worth it on a hot path.
const DefaultCompactThreshold = 32 * 1024

// Linear is a never-wrapping ByteBuffer. Bytes live at
// [readAt, readAt+length) with optional sparse out-of-order writes at
// [readAt+length, readAt+length+unallocatedExtent). Linear lets an
// out-of-order consumer above TCP (e.g. a record-layer parser) peek a
// contiguous buffer without spanning a wrap, at the cost of compaction
// copies.
//
// Grounded on original_source/src/storage/linear_buffer.rs (smoltcp):
// compaction triggers only when tail space is exhausted and the occupied
// extent is below compactThreshold; "free compaction" (reset readAt to 0
// without copying) happens whenever the buffer is fully empty.
type Linear struct {
	storage []byte

	readAt            int
	length            int
	unallocatedExtent int
	compactThreshold  int
}

// NewLinear wraps storage as a Linear buffer using DefaultCompactThreshold.
func NewLinear(storage []byte) *Linear {
	return NewLinearWithThreshold(storage, DefaultCompactThreshold)
}

// NewLinearWithThreshold wraps storage as a Linear buffer with a custom
// compaction threshold.
func NewLinearWithThreshold(storage []byte, compactThreshold int) *Linear {
	return &Linear{storage: storage, compactThreshold: compactThreshold}
}

func (l *Linear) Capacity() int { return len(l.storage) }
func (l *Linear) Len() int      { return l.length }
func (l *Linear) IsEmpty() bool { return l.length == 0 }
func (l *Linear) IsFull() bool  { return l.Window() == 0 }

func (l *Linear) occupiedExtent() int { return l.length + l.unallocatedExtent }

// ensureWritable performs one of two compaction moves: a free reset when
// nothing is occupied, or a copying compaction when tail space is
// exhausted but the occupied extent is still small enough to be worth
// moving.
func (l *Linear) ensureWritable() {
	extent := l.occupiedExtent()
	if extent == 0 {
		l.readAt = 0
		return
	}
	tailSpace := l.Capacity() - l.readAt - extent
	if tailSpace == 0 && l.readAt > 0 && extent < l.compactThreshold {
		copy(l.storage[0:extent], l.storage[l.readAt:l.readAt+extent])
		l.readAt = 0
	}
}

// SetCompactThreshold overrides the compaction threshold after construction.
func (l *Linear) SetCompactThreshold(threshold int) { l.compactThreshold = threshold }

// Window for Linear equals ContiguousWindow: the tail is the only place new
// data can land without a compaction.
func (l *Linear) Window() int { return l.ContiguousWindow() }

func (l *Linear) ContiguousWindow() int {
	free := l.Capacity() - l.readAt - l.occupiedExtent()
	if free < 0 {
		return 0
	}
	return free
}

func (l *Linear) Clear() {
	l.readAt = 0
	l.length = 0
	l.unallocatedExtent = 0
}

func (l *Linear) EnqueueSlice(src []byte) int {
	l.ensureWritable()
	writeAt := l.readAt + l.length
	max := l.ContiguousWindow()
	n := len(src)
	if n > max {
		n = max
	}
	copy(l.storage[writeAt:writeAt+n], src[:n])
	l.length += n
	return n
}

func (l *Linear) DequeueSlice(dst []byte) int {
	n := len(dst)
	if n > l.length {
		n = l.length
	}
	copy(dst[:n], l.storage[l.readAt:l.readAt+n])
	l.readAt += n
	l.length -= n
	if l.occupiedExtent() == 0 {
		l.readAt = 0
	}
	return n
}

func (l *Linear) EnqueueManyWith(f func([]byte) int) int {
	l.ensureWritable()
	writeAt := l.readAt + l.length
	maxSize := l.ContiguousWindow()
	region := l.storage[writeAt : writeAt+maxSize]
	n := f(region)
	if n > len(region) {
		panic("buffer: EnqueueManyWith: f returned more than the region length")
	}
	l.length += n
	return n
}

func (l *Linear) DequeueManyWith(f func([]byte) int) int {
	region := l.storage[l.readAt : l.readAt+l.length]
	n := f(region)
	if n > len(region) {
		panic("buffer: DequeueManyWith: f returned more than the region length")
	}
	l.readAt += n
	l.length -= n
	if l.length+l.unallocatedExtent == 0 {
		l.readAt = 0
	}
	return n
}

func (l *Linear) GetUnallocated(offset, size int) []byte {
	l.ensureWritable()
	startAt := l.readAt + l.length + offset
	if startAt >= l.Capacity() {
		return nil
	}
	if avail := l.Capacity() - startAt; size > avail {
		size = avail
	}
	if end := offset + size; end > l.unallocatedExtent {
		l.unallocatedExtent = end
	}
	return l.storage[startAt : startAt+size]
}

func (l *Linear) WriteUnallocated(offset int, src []byte) int {
	region := l.GetUnallocated(offset, len(src))
	n := copy(region, src)
	return n
}

func (l *Linear) EnqueueUnallocated(n int) {
	if n > l.Window()+l.unallocatedExtent {
		panic("buffer: EnqueueUnallocated: count exceeds reserved window")
	}
	l.length += n
	if n >= l.unallocatedExtent {
		l.unallocatedExtent = 0
	} else {
		l.unallocatedExtent -= n
	}
	l.ensureWritable()
}

func (l *Linear) GetAllocated(offset, size int) []byte {
	if offset < 0 || offset > l.length {
		return nil
	}
	startAt := l.readAt + offset
	max := l.length - offset
	if size > max {
		size = max
	}
	return l.storage[startAt : startAt+size]
}

func (l *Linear) ReadAllocated(offset int, dst []byte) int {
	region := l.GetAllocated(offset, len(dst))
	return copy(dst, region)
}

func (l *Linear) DequeueAllocated(n int) {
	if n > l.length {
		panic("buffer: DequeueAllocated: count exceeds committed length")
	}
	l.length -= n
	l.readAt += n
	if l.occupiedExtent() == 0 {
		l.readAt = 0
	}
}

var _ ByteBuffer = (*Linear)(nil)
