package buffer

// Ring is a classical wrap-around ByteBuffer: Window() reports capacity-len,
// which may be split across the end of storage and the beginning. The
// writer may place out-of-order bytes (via WriteUnallocated/GetUnallocated)
// at arbitrary offsets past the committed tail, up to the total free space,
// and retransmission re-reads committed bytes without copying.
//
// Modeled on tinyrange-cc's tcpSendBuffer/tcpRecvBuffer
// (internal/netstack/tcp.go), which hold committed and out-of-order TCP
// payload directly rather than through a ring index; here the classic
// wrap-around index scheme is used instead, as a single shared-slab
// implementation the socket can also retransmit from without copying.
type Ring struct {
	storage []byte

	readAt            int // index of the first committed byte
	length            int // number of committed bytes
	unallocatedExtent int // bytes written past the tail but not yet committed
}

// NewRing wraps storage as a Ring buffer. storage's length is the buffer's
// fixed capacity; it is never resized.
func NewRing(storage []byte) *Ring {
	return &Ring{storage: storage}
}

func (r *Ring) Capacity() int { return len(r.storage) }
func (r *Ring) Len() int      { return r.length }
func (r *Ring) IsEmpty() bool { return r.length == 0 }
func (r *Ring) IsFull() bool  { return r.Window() == 0 }

// Window reports the total free bytes, which may be split across the wrap.
func (r *Ring) Window() int { return r.Capacity() - r.length }

func (r *Ring) writeIndex() int {
	if r.Capacity() == 0 {
		return 0
	}
	return (r.readAt + r.length) % r.Capacity()
}

// ContiguousWindow reports the largest single run of free bytes starting at
// the write cursor, stopping at the physical end of storage or at the
// (wrapped) read cursor, whichever comes first.
func (r *Ring) ContiguousWindow() int {
	w := r.Window()
	if w == 0 {
		return 0
	}
	toEnd := r.Capacity() - r.writeIndex()
	if toEnd < w {
		return toEnd
	}
	return w
}

func (r *Ring) Clear() {
	r.readAt = 0
	r.length = 0
	r.unallocatedExtent = 0
}

// EnqueueSlice writes as much of src as fits in the total free space,
// wrapping across the end of storage if necessary.
func (r *Ring) EnqueueSlice(src []byte) int {
	total := 0
	for len(src) > 0 {
		chunk := r.ContiguousWindow()
		if chunk == 0 {
			break
		}
		if chunk > len(src) {
			chunk = len(src)
		}
		at := r.writeIndex()
		copy(r.storage[at:at+chunk], src[:chunk])
		r.length += chunk
		total += chunk
		src = src[chunk:]
	}
	return total
}

// DequeueSlice reads as much committed data as fits in dst, wrapping across
// the end of storage if necessary.
func (r *Ring) DequeueSlice(dst []byte) int {
	total := 0
	for len(dst) > 0 && r.length > 0 {
		avail := r.Capacity() - r.readAt
		if avail > r.length {
			avail = r.length
		}
		chunk := avail
		if chunk > len(dst) {
			chunk = len(dst)
		}
		copy(dst[:chunk], r.storage[r.readAt:r.readAt+chunk])
		r.readAt = (r.readAt + chunk) % r.Capacity()
		r.length -= chunk
		total += chunk
		dst = dst[chunk:]
	}
	return total
}

func (r *Ring) EnqueueManyWith(f func([]byte) int) int {
	at := r.writeIndex()
	region := r.storage[at : at+r.ContiguousWindow()]
	n := f(region)
	if n > len(region) {
		panic("buffer: EnqueueManyWith: f returned more than the region length")
	}
	r.length += n
	return n
}

func (r *Ring) DequeueManyWith(f func([]byte) int) int {
	avail := r.Capacity() - r.readAt
	if avail > r.length {
		avail = r.length
	}
	region := r.storage[r.readAt : r.readAt+avail]
	n := f(region)
	if n > len(region) {
		panic("buffer: DequeueManyWith: f returned more than the region length")
	}
	r.readAt = (r.readAt + n) % r.Capacity()
	r.length -= n
	return n
}

// GetUnallocated returns a contiguous view of up to size bytes starting
// offset bytes past the committed tail. The returned slice never spans the
// physical wrap point, so callers that need more must request again with an
// advanced offset (WriteUnallocated does this internally).
func (r *Ring) GetUnallocated(offset, size int) []byte {
	freeTotal := r.Window()
	if offset >= freeTotal {
		return nil
	}
	if max := freeTotal - offset; size > max {
		size = max
	}
	start := (r.readAt + r.length + offset) % r.Capacity()
	if avail := r.Capacity() - start; size > avail {
		size = avail
	}
	if end := offset + size; end > r.unallocatedExtent {
		r.unallocatedExtent = end
	}
	return r.storage[start : start+size]
}

// WriteUnallocated copies src into the unallocated region starting at
// offset, wrapping across the physical end of storage if necessary.
func (r *Ring) WriteUnallocated(offset int, src []byte) int {
	total := 0
	for len(src) > 0 {
		region := r.GetUnallocated(offset, len(src))
		if len(region) == 0 {
			break
		}
		n := copy(region, src)
		total += n
		offset += n
		src = src[n:]
	}
	return total
}

// EnqueueUnallocated commits n previously-written unallocated bytes.
func (r *Ring) EnqueueUnallocated(n int) {
	if n > r.Window() {
		panic("buffer: EnqueueUnallocated: count exceeds available window")
	}
	r.length += n
	if n >= r.unallocatedExtent {
		r.unallocatedExtent = 0
	} else {
		r.unallocatedExtent -= n
	}
}

// GetAllocated returns a contiguous view of up to length bytes inside the
// committed region starting at offset. Out-of-range offsets yield an empty
// slice; ranges crossing the physical wrap point are truncated to the
// contiguous chunk (ReadAllocated composes across the wrap instead).
func (r *Ring) GetAllocated(offset, length int) []byte {
	if offset < 0 || offset >= r.length {
		return nil
	}
	if max := r.length - offset; length > max {
		length = max
	}
	start := (r.readAt + offset) % r.Capacity()
	if avail := r.Capacity() - start; length > avail {
		length = avail
	}
	return r.storage[start : start+length]
}

// ReadAllocated copies committed bytes starting at offset into dst,
// composing across the physical wrap point as needed.
func (r *Ring) ReadAllocated(offset int, dst []byte) int {
	total := 0
	for len(dst) > 0 {
		chunk := r.GetAllocated(offset, len(dst))
		if len(chunk) == 0 {
			break
		}
		n := copy(dst, chunk)
		total += n
		offset += n
		dst = dst[n:]
	}
	return total
}

// DequeueAllocated retires n committed bytes from the head of the buffer.
func (r *Ring) DequeueAllocated(n int) {
	if n > r.length {
		panic("buffer: DequeueAllocated: count exceeds committed length")
	}
	r.readAt = (r.readAt + n) % r.Capacity()
	r.length -= n
}

var _ ByteBuffer = (*Ring)(nil)
