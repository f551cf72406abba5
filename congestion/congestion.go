// Package congestion implements the pluggable congestion controllers a
// socket can be configured with: None, Reno, and CUBIC.
package congestion

import (
	"math"
	"time"
)

// Controller is the feedback interface the socket drives. Implementations
// are only ever called from the single-threaded socket dispatch loop, so
// no internal locking is required or provided.
type Controller interface {
	// Window returns the current congestion window in bytes.
	Window() uint32
	// PreTransmit is called immediately before the socket considers sending
	// new data, giving the controller a chance to note the attempt.
	PreTransmit(now time.Time)
	// PostTransmit is called after every emitted segment, with size set to
	// its payload length (zero for control and pure ACK segments;
	// retransmissions included).
	PostTransmit(now time.Time, size uint32)
	// OnAck is called when bytesAcked new bytes are acknowledged; rtt is
	// the latest RTT sample if one was available this round (hasRTT false
	// otherwise, e.g. the ack covered only a retransmitted segment).
	OnAck(now time.Time, bytesAcked uint32, rtt time.Duration, hasRTT bool)
	// OnDuplicateAck is called for every duplicate ACK, including ones
	// before the fast-retransmit threshold is reached.
	OnDuplicateAck(now time.Time)
	// OnRetransmit is called when the retransmit timer fires.
	OnRetransmit(now time.Time)
	// SetMSS updates the controller's notion of the peer's maximum segment
	// size, used to size cwnd growth steps.
	SetMSS(mss uint16)
}

// None disables congestion control: Window() is always effectively
// unbounded, and all feedback points are no-ops.
type None struct{}

func (None) Window() uint32                               { return math.MaxUint32 }
func (None) PreTransmit(time.Time)                        {}
func (None) PostTransmit(time.Time, uint32)               {}
func (None) OnAck(time.Time, uint32, time.Duration, bool) {}
func (None) OnDuplicateAck(time.Time)                     {}
func (None) OnRetransmit(time.Time)                       {}
func (*None) SetMSS(uint16)                               {}

var _ Controller = (*None)(nil)
