// Package tcp implements the per-connection TCP state machine: the wire
// codec, the timer tagged union, and the Socket itself (segment
// acceptance, processing, transmission policy, window management,
// duplicate-ACK/fast-retransmit, delayed ACK, and keep-alive).
//
// Modeled on tinyrange-cc's tcpConn/NetStack.handleTCP/sendTCPPacket
// (internal/netstack/{tcp,netstack}.go), generalized from its four-state
// SynRcvd/Established/FinWait/Closed reduction to the full RFC 793 state
// graph, and cross-checked against soypat-lneto's ControlBlock state
// handling for the states tinyrange-cc collapses away.
package tcp

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/tinyrange/gotcp/buffer"
	"github.com/tinyrange/gotcp/congestion"
	"github.com/tinyrange/gotcp/reassembly"
	"github.com/tinyrange/gotcp/rtt"
	"github.com/tinyrange/gotcp/seqnum"
)

// State is the socket's position in the RFC 793 state graph, extended
// with the modern Listen/SynReceived handshake split.
type State int

const (
	StateClosed State = iota
	StateListen
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateCloseWait
	StateClosing
	StateLastAck
	StateTimeWait
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN-SENT"
	case StateSynReceived:
		return "SYN-RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN-WAIT-1"
	case StateFinWait2:
		return "FIN-WAIT-2"
	case StateCloseWait:
		return "CLOSE-WAIT"
	case StateClosing:
		return "CLOSING"
	case StateLastAck:
		return "LAST-ACK"
	case StateTimeWait:
		return "TIME-WAIT"
	default:
		return "UNKNOWN"
	}
}

// Endpoint is an IPv4 address/port pair.
type Endpoint struct {
	Addr [4]byte
	Port uint16
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", e.Addr[0], e.Addr[1], e.Addr[2], e.Addr[3], e.Port)
}

// FourTuple identifies a connection: local and remote endpoints.
type FourTuple struct {
	Local, Remote Endpoint
}

// MSL is the maximum segment lifetime; TimeWait lasts 2*MSL.
const MSL = 30 * time.Second

const (
	defaultMSSv4       = 536
	maxWindowScaleBits = 14
)

// PollAction is the tagged union a caller's timer wheel drives off of:
// Now means dispatch immediately, At means wait until the given instant,
// Ingress means the socket has nothing to do until new data arrives.
type PollAction struct {
	Now     bool
	At      time.Time
	Ingress bool
}

// Socket is a single TCP connection endpoint: its mutable state plus the
// operations that act on it.
//
// Not safe for concurrent use: it follows a single-threaded cooperative
// model where one interface poll owns the whole socket set.
type Socket struct {
	state   State
	tuple   FourTuple
	hasTuple bool
	listenEndpoint Endpoint

	iss seqnum.Value // initial send sequence
	irs seqnum.Value // initial receive sequence

	localSeqNo  seqnum.Value // SND.NXT
	remoteSeqNo seqnum.Value // RCV.NXT
	lastAcked   seqnum.Value // SND.UNA

	remoteLastSeq seqnum.Value // highest byte we have transmitted
	remoteLastAck seqnum.Value // highest ACK we have sent
	remoteLastWin uint16

	remoteWinLen   uint32
	remoteWinScale uint8
	hasWinScale    bool
	remoteWinShift uint8 // our own announced shift

	remoteMSS    uint16
	localDupAcks int

	rxBuffer   buffer.ByteBuffer
	txBuffer   buffer.ByteBuffer
	assembler  *reassembly.Assembler
	timer      Timer
	rtte       *rtt.Estimator
	cc         congestion.Controller

	timestampGen  func() uint32
	remoteHasSACK bool
	remoteHasTS   bool
	lastPeerTS    uint32

	nagleEnabled bool
	keepAlive    *time.Duration
	timeout      *time.Duration
	ackDelay     *time.Duration
	hopLimit     uint8

	closeRequested bool
	finSent        bool
	finAcked       bool
	finReceived    bool
	rstPending     bool

	ackPending    bool
	ackDeadline   time.Time
	bytesSinceAck uint32

	lastActivity     time.Time
	challengeLimiter *rate.Limiter
	timeWaitEntered  time.Time

	sentTime map[uint32]time.Time // seq -> send time, for RTT sampling keyed by segment start
}

// NewSocket constructs a Closed socket over caller-provided rx/tx buffers
// and congestion controller. Besides the Socket itself it allocates only
// its small bookkeeping: the assembler, the RTT estimator, the send-time
// map and the challenge-ACK limiter.
func NewSocket(rxBuffer, txBuffer buffer.ByteBuffer, cc congestion.Controller) *Socket {
	return &Socket{
		state:        StateClosed,
		rxBuffer:     rxBuffer,
		txBuffer:     txBuffer,
		assembler:    reassembly.New(rxBuffer.Capacity()),
		rtte:         rtt.New(),
		cc:           cc,
		nagleEnabled:     true,
		hopLimit:         64,
		sentTime:         make(map[uint32]time.Time),
		challengeLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func (s *Socket) State() State       { return s.state }
func (s *Socket) Tuple() (FourTuple, bool) { return s.tuple, s.hasTuple }

// Stats is a point-in-time snapshot of per-socket counters, exposed as a
// public-API convenience rather than as required internal state.
type Stats struct {
	DupAcks          int
	RTO              time.Duration
	HasRTTSample     bool
	CongestionWindow uint32
}

// Stats snapshots the socket's current RTT and congestion-control state.
func (s *Socket) Stats() Stats {
	st := Stats{
		DupAcks:      s.localDupAcks,
		RTO:          s.rtte.RTO(),
		HasRTTSample: s.rtte.HasSample(),
	}
	if s.cc != nil {
		st.CongestionWindow = s.cc.Window()
	}
	return st
}

// winShiftFor computes the smallest shift s such that capacity <= 65535 <<
// s, capped at 14.
func winShiftFor(capacity int) uint8 {
	var shift uint8
	for shift < maxWindowScaleBits && (65535<<shift) < capacity {
		shift++
	}
	return shift
}

// Listen transitions a Closed socket into Listen bound to local.
func (s *Socket) Listen(local Endpoint) error {
	if s.state != StateClosed {
		return fmt.Errorf("%w: listen requires Closed, have %s", ErrInvalidState, s.state)
	}
	s.listenEndpoint = local
	s.remoteWinShift = winShiftFor(s.rxBuffer.Capacity())
	s.state = StateListen
	s.hasTuple = false
	return nil
}

// Connect initiates an active open: Closed -> SynSent, emitting a SYN on
// the next Dispatch.
func (s *Socket) Connect(remote, local Endpoint, iss seqnum.Value, now time.Time) error {
	if s.state != StateClosed {
		return fmt.Errorf("%w: connect requires Closed, have %s", ErrInvalidState, s.state)
	}
	s.tuple = FourTuple{Local: local, Remote: remote}
	s.hasTuple = true
	s.iss = iss
	s.localSeqNo = iss
	s.lastAcked = iss
	s.remoteLastSeq = iss
	s.remoteWinShift = winShiftFor(s.rxBuffer.Capacity())
	s.state = StateSynSent
	s.lastActivity = now
	return nil
}

// Close initiates the active close. Calling it again from a
// non-Established/CloseWait state is a no-op.
func (s *Socket) Close() {
	switch s.state {
	case StateEstablished, StateCloseWait:
		s.closeRequested = true
	case StateSynSent, StateListen:
		s.state = StateClosed
		s.hasTuple = false
	}
}

// Abort emits an RST on the next Dispatch and jumps straight to Closed.
func (s *Socket) Abort() {
	if s.state != StateClosed {
		s.rstPending = true
	}
	s.state = StateClosed
	s.hasTuple = false
}

// Reset restores Closed, preserving user-configurable options (hop_limit,
// keep_alive, timeout, ack_delay, nagle_enabled, congestion controller).
func (s *Socket) Reset() {
	cc := s.cc
	keepAlive, timeout, ackDelay, nagle, hop := s.keepAlive, s.timeout, s.ackDelay, s.nagleEnabled, s.hopLimit
	rx, tx := s.rxBuffer, s.txBuffer
	tsGen := s.timestampGen

	*s = Socket{
		state:            StateClosed,
		rxBuffer:         rx,
		txBuffer:         tx,
		assembler:        reassembly.New(rx.Capacity()),
		rtte:             rtt.New(),
		cc:               cc,
		nagleEnabled:     nagle,
		hopLimit:         hop,
		keepAlive:        keepAlive,
		timeout:          timeout,
		ackDelay:         ackDelay,
		timestampGen:     tsGen,
		sentTime:         make(map[uint32]time.Time),
		challengeLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
	rx.Clear()
	tx.Clear()
}

// SendSlice appends up to len(b) bytes to tx_buffer, bounded by what the
// buffer's EnqueueSlice accepts (the contiguous window for Linear, the
// total free space for Ring).
func (s *Socket) SendSlice(b []byte) (int, error) {
	switch s.state {
	case StateClosed, StateListen, StateSynSent, StateSynReceived:
		return 0, fmt.Errorf("%w: send before established", ErrInvalidState)
	case StateFinWait1, StateFinWait2, StateClosing, StateLastAck, StateTimeWait:
		return 0, ErrConnectionClosing
	}
	if s.closeRequested || s.finSent {
		return 0, ErrConnectionClosing
	}
	n := s.txBuffer.EnqueueSlice(b)
	return n, nil
}

// Recv delivers committed rx bytes to f, which returns the number of bytes
// it consumed and an arbitrary result R. Once the buffer has fully
// drained, it returns ErrFinished if the peer closed cleanly (FIN
// received) or ErrInvalidState if the socket was reset or aborted
// (Closed without a FIN).
func Recv[R any](s *Socket, f func([]byte) (int, R)) (R, error) {
	var zero R
	if s.rxBuffer.IsEmpty() {
		if s.finReceived {
			return zero, ErrFinished
		}
		if s.state == StateClosed {
			return zero, ErrInvalidState
		}
	}
	var result R
	s.rxBuffer.DequeueManyWith(func(region []byte) int {
		c, r := f(region)
		result = r
		return c
	})
	return result, nil
}

// PeekSlice copies committed rx bytes into dst without consuming them.
func (s *Socket) PeekSlice(dst []byte) (int, error) {
	return s.rxBuffer.ReadAllocated(0, dst), nil
}

func (s *Socket) SetKeepAlive(d *time.Duration)  { s.keepAlive = d }
func (s *Socket) SetTimeout(d *time.Duration)    { s.timeout = d }
func (s *Socket) SetAckDelay(d *time.Duration)   { s.ackDelay = d }
func (s *Socket) SetNagleEnabled(v bool)         { s.nagleEnabled = v }
func (s *Socket) SetCongestionControl(cc congestion.Controller) { s.cc = cc }
func (s *Socket) SetTimestampGenerator(f func() uint32) { s.timestampGen = f }

// SetHopLimit sets the IP hop/TTL limit used by the caller's IP layer for
// segments this socket emits. Zero is rejected: an invalid hop limit is a
// caller contract violation, not a network fault, so this panics rather
// than returning an error.
func (s *Socket) SetHopLimit(n uint8) {
	if n == 0 {
		panic("tcp: hop limit must be 1..=255")
	}
	s.hopLimit = n
}

func (s *Socket) HopLimit() uint8 { return s.hopLimit }

// advertisedWindow computes the window field for an outgoing segment:
// scaled and clamped to 16 bits for ordinary segments, raw and clamped
// for SYN/SYN|ACK.
func (s *Socket) advertisedWindow(syn bool) uint16 {
	w := s.rxBuffer.Window()
	if syn {
		if w > 65535 {
			return 65535
		}
		return uint16(w)
	}
	scaled := w >> s.remoteWinShift
	if scaled > 65535 {
		scaled = 65535
	}
	return uint16(scaled)
}

// windowFrozen reports whether window advertisement should be frozen:
// once a FIN has been received, no further window updates are sent, even
// as the rx buffer drains.
func (s *Socket) windowFrozen() bool { return s.finReceived }
