// Package buffer implements the socket byte-buffer abstraction the TCP core
// consumes polymorphically: a single-producer/single-consumer byte queue
// backed by a caller-supplied fixed slab, exposing both contiguous-view
// operations (for zero-copy TX/RX) and random-access operations (for
// out-of-order reassembly and retransmission).
//
// Two implementations satisfy ByteBuffer: Ring (classical wrap-around) and
// Linear (never wraps, compacts on demand). The TCP socket never branches on
// which one it holds.
package buffer

// ByteBuffer is the single contract both Ring and Linear satisfy. Storage
// never grows past its initial capacity: all per-connection buffers are
// caller-provided at socket creation, per the no-steady-state-allocation
// requirement on the TCP core.
type ByteBuffer interface {
	// Capacity returns the total size of the backing storage.
	Capacity() int
	// Len returns the number of bytes currently committed (readable).
	Len() int
	// Window returns the bytes currently writable and advertisable to a
	// remote peer.
	Window() int
	// ContiguousWindow returns the largest single contiguous writable
	// region right now.
	ContiguousWindow() int
	// IsEmpty reports whether Len() == 0.
	IsEmpty() bool
	// IsFull reports whether Window() == 0.
	IsFull() bool

	// EnqueueSlice copies as much of src as fits into the writable region
	// and returns the count written.
	EnqueueSlice(src []byte) int
	// DequeueSlice copies as much committed data as fits into dst and
	// returns the count read.
	DequeueSlice(dst []byte) int

	// EnqueueManyWith calls f with the largest contiguous writable region
	// and commits the count f returns. Panics if that count exceeds the
	// region's length.
	EnqueueManyWith(f func(region []byte) int) int
	// DequeueManyWith calls f with the largest contiguous readable region
	// and retires the count f returns. Panics if that count exceeds the
	// region's length.
	DequeueManyWith(f func(region []byte) int) int

	// WriteUnallocated writes src at offset bytes past the last committed
	// byte, without committing it. Returns the count written.
	WriteUnallocated(offset int, src []byte) int
	// GetUnallocated returns a mutable view of size bytes at offset past
	// the last committed byte, extending the tracked unallocated extent.
	GetUnallocated(offset, size int) []byte
	// EnqueueUnallocated promotes n previously-written unallocated bytes
	// to committed. Panics if n exceeds Window()+pending unallocated extent.
	EnqueueUnallocated(n int)

	// GetAllocated returns an immutable view of up to len bytes inside the
	// committed region starting at offset. Out-of-range yields an empty
	// slice rather than an error.
	GetAllocated(offset, length int) []byte
	// ReadAllocated copies committed bytes starting at offset into dst and
	// returns the count copied.
	ReadAllocated(offset int, dst []byte) int
	// DequeueAllocated retires n bytes from the head of the committed
	// region. Panics if n exceeds Len().
	DequeueAllocated(n int)

	// Clear resets the buffer to empty.
	Clear()
}
