// Package seqnum implements the modular comparison and arithmetic used by
// TCP sequence numbers: a 32-bit counter compared modulo 2^32 rather than as
// a plain integer.
package seqnum

// Value is a TCP sequence (or acknowledgment) number. Comparisons wrap
// around at 2^32 per RFC 793 §3.3: a < b iff (b - a) mod 2^32 lies in the
// open interval (0, 2^31).
type Value uint32

// Size is the length, in bytes, of a sequence-number range. It is kept as
// a distinct type so callers don't accidentally compare a Size to a Value.
type Size uint32

// Add returns v shifted forward by n bytes, wrapping modulo 2^32.
func (v Value) Add(n Size) Value { return v + Value(n) }

// Sub returns v shifted backward by n bytes, wrapping modulo 2^32.
func (v Value) Sub(n Size) Value { return v - Value(n) }

// Diff returns the modular distance from v to w, i.e. the Size such that
// v.Add(result) == w. Only meaningful when w is "ahead of" v in the usual
// TCP sense; callers that need a signed distance should use LessThan first.
func (v Value) Diff(w Value) Size { return Size(w - v) }

// LessThan reports whether v precedes w in sequence-space order.
func (v Value) LessThan(w Value) bool {
	d := uint32(w - v)
	return d != 0 && d < 1<<31
}

// LessThanEq reports whether v precedes or equals w.
func (v Value) LessThanEq(w Value) bool {
	return v == w || v.LessThan(w)
}

// GreaterThan reports whether v follows w in sequence-space order.
func (v Value) GreaterThan(w Value) bool { return w.LessThan(v) }

// GreaterThanEq reports whether v follows or equals w.
func (v Value) GreaterThanEq(w Value) bool { return w.LessThanEq(v) }

// InRange reports whether v lies in the half-open window [start, start+size).
// A zero-length window never contains anything.
func (v Value) InRange(start Value, size Size) bool {
	if size == 0 {
		return false
	}
	return v.GreaterThanEq(start) && v.LessThan(start.Add(size))
}

// Overlaps reports whether the half-open ranges [aStart, aStart+aLen) and
// [bStart, bStart+bLen) share any sequence numbers.
func Overlaps(aStart Value, aLen Size, bStart Value, bLen Size) bool {
	if aLen == 0 || bLen == 0 {
		return false
	}
	aEnd := aStart.Add(aLen)
	bEnd := bStart.Add(bLen)
	return aStart.LessThan(bEnd) && bStart.LessThan(aEnd)
}

// Min returns whichever of a, b is earlier in sequence order.
func Min(a, b Value) Value {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns whichever of a, b is later in sequence order.
func Max(a, b Value) Value {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
