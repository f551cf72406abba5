package congestion

import (
	"math"
	"time"
)

// FastRetransmitThreshold is the number of consecutive duplicate ACKs that
// triggers fast retransmit. tinyrange-cc's tcpCongestionControl lowers this
// to 2 for its synthetic virtual network; this controller keeps the
// standard RFC 5681 value of 3.
const FastRetransmitThreshold = 3

// Reno implements the classic Reno congestion-control variant: slow start
// (cwnd += MSS per ACK) until cwnd >= ssthresh, then congestion avoidance
// (cwnd += MSS^2/cwnd per ACK). On a retransmit timeout, ssthresh =
// max(cwnd/2, 2*MSS) and cwnd resets to one MSS. On the third duplicate
// ACK, fast retransmit fires and cwnd/ssthresh follow the standard
// RFC 5681 fast-recovery halving rather than tinyrange-cc's
// no-reduction shortcut (see DESIGN.md's decision log).
//
// Modeled on tinyrange-cc's tcpCongestionControl
// (internal/netstack/tcp.go). Unlike tinyrange-cc's version, Reno here
// carries no mutex: one interface poll owns the whole socket set
// cooperatively, so there is no concurrent access for a mutex to defend
// against.
type Reno struct {
	cwnd     uint32
	ssthresh uint32
	mss      uint16
	dupAcks  int
}

// NewReno returns a Reno controller with the standard initial window of
// 10 segments (RFC 6928) and an unbounded initial ssthresh.
func NewReno(mss uint16) *Reno {
	return &Reno{
		cwnd:     uint32(initialCwndSegments) * uint32(mss),
		ssthresh: math.MaxUint32,
		mss:      mss,
	}
}

const initialCwndSegments = 10

func (r *Reno) Window() uint32 { return r.cwnd }

func (r *Reno) PreTransmit(time.Time)          {}
func (r *Reno) PostTransmit(time.Time, uint32) {}

func (r *Reno) SetMSS(mss uint16) { r.mss = mss }

func (r *Reno) OnAck(_ time.Time, bytesAcked uint32, _ time.Duration, _ bool) {
	if bytesAcked == 0 {
		return
	}
	r.dupAcks = 0
	mss := uint32(r.mss)
	if r.cwnd < r.ssthresh {
		r.cwnd += mss
	} else {
		inc := (mss * mss) / r.cwnd
		if inc < 1 {
			inc = 1
		}
		r.cwnd += inc
	}
}

// OnDuplicateAck returns nothing; it only updates the controller's own
// window state. The socket keeps its own duplicate-ACK counter and decides
// on its own when fast retransmit fires.
func (r *Reno) OnDuplicateAck(time.Time) {
	r.dupAcks++
	if r.dupAcks == FastRetransmitThreshold {
		r.enterFastRecovery()
	} else if r.dupAcks > FastRetransmitThreshold {
		r.cwnd += uint32(r.mss)
	}
}

func (r *Reno) enterFastRecovery() {
	flightEstimate := r.cwnd
	half := flightEstimate / 2
	if min := 2 * uint32(r.mss); half < min {
		half = min
	}
	r.ssthresh = half
	r.cwnd = half
}

func (r *Reno) OnRetransmit(time.Time) {
	half := r.cwnd / 2
	if min := 2 * uint32(r.mss); half < min {
		half = min
	}
	r.ssthresh = half
	r.cwnd = uint32(r.mss)
	r.dupAcks = 0
}

// DupAcks returns the controller's consecutive-duplicate-ACK count. It is
// reset by OnAck with newly acknowledged bytes and by OnRetransmit.
func (r *Reno) DupAcks() int { return r.dupAcks }

var _ Controller = (*Reno)(nil)
