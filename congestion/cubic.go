package congestion

import (
	"math"
	"time"
)

// CUBIC tuning constants, per RFC 8312's reference values.
const (
	cubicBeta = 0.7
	cubicC    = 0.4
)

// Cubic implements the CUBIC congestion-control variant:
// W(t) = C*(t-K)^3 + W_max, K = cbrt(W_max*(1-beta)/C), with a TCP-friendliness
// fallback that keeps CUBIC from growing slower than Reno would in the
// region where Reno's linear growth is faster.
//
// tinyrange-cc only ships Reno (tcpCongestionControl, internal/netstack/
// tcp.go); Cubic is a second implementation of the same Controller
// interface that tcpCongestionControl models, carrying an embedded Reno
// estimate for the TCP-friendly fallback exactly as the RFC 8312
// reference algorithm does.
type Cubic struct {
	mss uint16

	cwnd     float64
	ssthresh uint32

	wMax        float64
	epochStart  time.Time
	originPoint float64
	k           float64

	dupAcks int
	reno    uint32 // Reno-equivalent cwnd, tracked for the TCP-friendly region
}

// NewCubic returns a Cubic controller with the same standard initial
// window as Reno.
func NewCubic(mss uint16) *Cubic {
	initial := float64(initialCwndSegments) * float64(mss)
	return &Cubic{
		mss:      mss,
		cwnd:     initial,
		ssthresh: math.MaxUint32,
		reno:     uint32(initial),
	}
}

func (c *Cubic) Window() uint32 {
	if c.cwnd < 0 {
		return 0
	}
	return uint32(c.cwnd)
}

func (c *Cubic) PreTransmit(time.Time)          {}
func (c *Cubic) PostTransmit(time.Time, uint32) {}
func (c *Cubic) SetMSS(mss uint16)              { c.mss = mss }

func (c *Cubic) OnAck(now time.Time, bytesAcked uint32, _ time.Duration, _ bool) {
	if bytesAcked == 0 {
		return
	}
	c.dupAcks = 0
	mss := float64(c.mss)

	if uint32(c.cwnd) < c.ssthresh {
		// Slow start behaves exactly like Reno until we leave it.
		c.cwnd += mss
		c.reno = uint32(c.cwnd)
		c.epochStart = time.Time{}
		return
	}

	if c.epochStart.IsZero() {
		c.epochStart = now
		c.wMax = c.cwnd
		c.k = math.Cbrt(c.wMax * (1 - cubicBeta) / cubicC)
		c.originPoint = c.wMax
		c.reno = uint32(c.cwnd)
	}

	t := now.Sub(c.epochStart).Seconds()
	cubicW := cubicC*cube(t-c.k) + c.originPoint

	// TCP-friendly region: a Reno flow under the same conditions would grow
	// roughly 1 MSS per RTT; if that estimate is ahead of CUBIC's own curve,
	// use it instead (RFC 8312 §4.2).
	c.reno += uint32(mss * mss / c.cwnd)
	if float64(c.reno) > cubicW {
		c.cwnd = float64(c.reno)
	} else {
		c.cwnd = cubicW
	}
}

func (c *Cubic) OnDuplicateAck(now time.Time) {
	c.dupAcks++
	if c.dupAcks == FastRetransmitThreshold {
		c.enterFastRecovery(now)
	} else if c.dupAcks > FastRetransmitThreshold {
		c.cwnd += float64(c.mss)
	}
}

func (c *Cubic) enterFastRecovery(now time.Time) {
	c.wMax = c.cwnd
	half := c.cwnd * cubicBeta
	if min := 2 * float64(c.mss); half < min {
		half = min
	}
	c.ssthresh = uint32(half)
	c.cwnd = half
	c.reno = uint32(half)
	c.epochStart = now
	c.k = math.Cbrt(c.wMax * (1 - cubicBeta) / cubicC)
	c.originPoint = c.wMax
}

func (c *Cubic) OnRetransmit(now time.Time) {
	c.wMax = c.cwnd
	half := c.cwnd * cubicBeta
	if min := 2 * float64(c.mss); half < min {
		half = min
	}
	c.ssthresh = uint32(half)
	c.cwnd = float64(c.mss)
	c.reno = uint32(c.mss)
	c.dupAcks = 0
	c.epochStart = time.Time{}
}

func cube(x float64) float64 { return x * x * x }

var _ Controller = (*Cubic)(nil)
