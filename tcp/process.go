package tcp

import (
	"time"

	"github.com/tinyrange/gotcp/seqnum"
)

// Accepts reports whether seg, arriving from src addressed to dst, should
// be routed to this socket. The interface-level Dispatch (iface package)
// calls this across the socket set in insertion order and delivers to
// the first match.
func (s *Socket) Accepts(seg Segment, src, dst Endpoint) bool {
	if s.state == StateListen {
		if s.listenEndpoint.Port != dst.Port {
			return false
		}
		if s.listenEndpoint.Addr != ([4]byte{}) && s.listenEndpoint.Addr != dst.Addr {
			return false
		}
		return seg.Flags.Has(FlagSYN) && !seg.Flags.Has(FlagACK)
	}
	if s.state == StateClosed || !s.hasTuple {
		return false
	}
	if s.tuple.Local != dst || s.tuple.Remote != src {
		return false
	}
	if seg.Flags.Has(FlagRST) || seg.Flags.Has(FlagACK) {
		return true
	}
	segLen := seg.SegmentLen()
	if segLen == 0 {
		return seg.Seq == s.remoteSeqNo || s.windowContains(seg.Seq)
	}
	return seqnum.Overlaps(seg.Seq, segLen, s.remoteSeqNo, seqnum.Size(s.rxBuffer.Window()))
}

func (s *Socket) windowContains(seq seqnum.Value) bool {
	win := seqnum.Size(s.rxBuffer.Window())
	if win == 0 {
		win = 1
	}
	return seq.InRange(s.remoteSeqNo, win)
}

// Process delivers seg (already accepted by Accepts) to the state
// machine, mutating state and recording whatever immediate reply the
// caller should queue. The actual emission is decided by Dispatch on the
// next poll; Process only arranges for it (setting rstPending,
// ackPending, etc.) and handles the rare immediate-RST replies inline
// (an invalid ACK during the handshake).
//
// Modeled on tinyrange-cc's tcpConn.handleSegment (internal/netstack/
// tcp.go), generalized from its 4-state reduction to the full RFC 793
// state graph.
func (s *Socket) Process(now time.Time, seg Segment, src, dst Endpoint) (reply *Segment, err error) {
	s.lastActivity = now
	if seg.Options.HasTimestamps {
		s.lastPeerTS = seg.Options.TSval
	}

	if s.state == StateListen {
		return s.processListen(now, seg, src, dst)
	}

	if seg.Flags.Has(FlagRST) {
		return s.processRST(now, seg)
	}

	switch s.state {
	case StateSynSent:
		return s.processSynSent(now, seg)
	case StateSynReceived:
		return s.processSynReceived(now, seg)
	case StateTimeWait:
		return s.processTimeWait(now, seg)
	default:
		return s.processGeneral(now, seg)
	}
}

func (s *Socket) processListen(now time.Time, seg Segment, src, dst Endpoint) (*Segment, error) {
	if !seg.Flags.Has(FlagSYN) || seg.Flags.Has(FlagACK) {
		return nil, nil
	}
	s.tuple = FourTuple{Local: dst, Remote: src}
	s.hasTuple = true
	s.irs = seg.Seq
	s.remoteSeqNo = seg.Seq.Add(1)
	s.iss = seqnum.Value(now.UnixNano())
	s.localSeqNo = s.iss
	s.lastAcked = s.iss
	s.remoteLastSeq = s.iss

	opts := seg.Options
	if opts.HasWindowScale {
		s.remoteWinScale = opts.WindowScale
		s.hasWinScale = true
	}
	s.remoteHasSACK = opts.SACKPermitted
	if opts.HasTimestamps {
		s.remoteHasTS = true
		s.lastPeerTS = opts.TSval
	}
	s.remoteMSS = negotiateMSS(opts)
	s.remoteWinLen = uint32(seg.Window)

	s.state = StateSynReceived
	s.lastActivity = now
	return nil, nil
}

func negotiateMSS(opts Options) uint16 {
	peer := uint16(defaultMSSv4)
	if opts.HasMSS && opts.MSS > 0 {
		peer = opts.MSS
	}
	if peer > defaultMSSv4 {
		return defaultMSSv4
	}
	return peer
}

func (s *Socket) processSynSent(now time.Time, seg Segment) (*Segment, error) {
	if seg.Flags.Has(FlagACK) {
		if seg.Ack != s.iss.Add(1) {
			return s.invalidAckRST(seg), nil
		}
		if seg.Flags.Has(FlagSYN) {
			s.irs = seg.Seq
			s.remoteSeqNo = seg.Seq.Add(1)
			s.lastAcked = seg.Ack
			s.remoteMSS = negotiateMSS(seg.Options)
			s.remoteWinLen = uint32(seg.Window)
			s.state = StateEstablished
			s.ackPending = true
			return nil, nil
		}
		return s.invalidAckRST(seg), nil
	}
	if seg.Flags.Has(FlagSYN) {
		// Simultaneous open.
		s.irs = seg.Seq
		s.remoteSeqNo = seg.Seq.Add(1)
		s.remoteMSS = negotiateMSS(seg.Options)
		s.remoteWinLen = uint32(seg.Window)
		s.state = StateSynReceived
		return nil, nil
	}
	return nil, nil
}

func (s *Socket) processSynReceived(now time.Time, seg Segment) (*Segment, error) {
	if seg.Flags.Has(FlagACK) {
		if seg.Ack != s.iss.Add(1) {
			return s.invalidAckRST(seg), nil
		}
		// This ACK covers our SYN; it is not a duplicate ACK and no
		// tx_buffer bytes are acknowledged by it.
		s.lastAcked = seg.Ack
		s.state = StateEstablished
		s.remoteWinLen = uint32(seg.Window)
		if len(seg.Payload) > 0 {
			s.handleData(now, seg)
		}
		if seg.Flags.Has(FlagFIN) {
			s.handleFIN(now, seg)
		}
	}
	return nil, nil
}

func (s *Socket) invalidAckRST(seg Segment) *Segment {
	return &Segment{
		SrcPort: seg.DstPort,
		DstPort: seg.SrcPort,
		Seq:     seg.Ack,
		Flags:   FlagRST,
		Window:  0,
	}
}

func (s *Socket) processRST(now time.Time, seg Segment) (*Segment, error) {
	if !s.windowContains(seg.Seq) && seg.Seq != s.remoteSeqNo {
		return s.maybeChallengeACK(now), nil
	}
	s.state = StateClosed
	s.hasTuple = false
	return nil, nil
}

// maybeChallengeACK schedules a challenge ACK for an out-of-window RST,
// rate-limited to at most one per second.
func (s *Socket) maybeChallengeACK(now time.Time) *Segment {
	if !s.challengeLimiter.AllowN(now, 1) {
		return nil
	}
	s.ackPending = true
	return nil
}

func (s *Socket) processTimeWait(now time.Time, seg Segment) (*Segment, error) {
	s.ackPending = true
	return nil, nil
}

// processGeneral handles Established, FinWait1, FinWait2, CloseWait,
// Closing, and LastAck: the bulk of the state machine's transition
// rules.
func (s *Socket) processGeneral(now time.Time, seg Segment) (*Segment, error) {
	prevWin := uint16(s.remoteWinLen)
	prevAcked := s.lastAcked

	if seg.Flags.Has(FlagACK) {
		s.handleAck(now, seg)
	}

	if len(seg.Payload) > 0 {
		s.handleData(now, seg)
	}

	if seg.Flags.Has(FlagFIN) {
		s.handleFIN(now, seg)
	}

	s.detectDuplicateAck(seg, prevAcked, prevWin, now)
	return nil, nil
}

func (s *Socket) handleAck(now time.Time, seg Segment) {
	if seg.Ack.GreaterThan(s.lastAcked) && seg.Ack.LessThanEq(s.localSeqNo) {
		bytesAcked := s.lastAcked.Diff(seg.Ack)
		n := int(bytesAcked)
		if n > s.txBuffer.Len() {
			n = s.txBuffer.Len() // our FIN's sequence number has no byte in tx_buffer
		}
		s.txBuffer.DequeueAllocated(n)

		sentAt, ok := s.sentTime[uint32(s.lastAcked)]
		if ok {
			delete(s.sentTime, uint32(s.lastAcked))
		}
		s.lastAcked = seg.Ack
		s.localDupAcks = 0

		if ok {
			s.rtte.Update(now.Sub(sentAt))
			s.cc.OnAck(now, uint32(bytesAcked), now.Sub(sentAt), true)
		} else {
			s.cc.OnAck(now, uint32(bytesAcked), 0, false)
		}

		if s.lastAcked == s.localSeqNo {
			s.timer.Disarm()
		}

		switch s.state {
		case StateFinWait1:
			if s.finSent && s.lastAcked == s.localSeqNo {
				s.finAcked = true
				s.state = StateFinWait2
			}
		case StateClosing:
			if s.finSent && s.lastAcked == s.localSeqNo {
				s.finAcked = true
				s.enterTimeWait(now)
			}
		case StateLastAck:
			if s.finSent && s.lastAcked == s.localSeqNo {
				s.state = StateClosed
				s.hasTuple = false
			}
		}
	}
	s.remoteWinLen = uint32(seg.Window)
}

// handleData delivers in-window payload bytes to the assembler and, if
// they extend the contiguous prefix, commits them into rx_buffer and
// advances remote_seq_no. Bytes already received are trimmed off the
// front first.
func (s *Socket) handleData(now time.Time, seg Segment) {
	payload := seg.Payload
	offset := 0

	if seg.Seq.LessThan(s.remoteSeqNo) {
		// Partially-before-window: trim the already-received leading bytes.
		trim := int(seg.Seq.Diff(s.remoteSeqNo))
		if trim >= len(payload) {
			return
		}
		payload = payload[trim:]
	} else {
		offset = int(s.remoteSeqNo.Diff(seg.Seq))
	}
	if len(payload) == 0 {
		return
	}
	if offset+len(payload) > s.rxBuffer.Window() {
		payload = payload[:s.rxBuffer.Window()-offset]
	}
	if len(payload) == 0 {
		return
	}

	s.rxBuffer.WriteUnallocated(offset, payload)
	s.assembler.Add(offset, len(payload))

	if offset == 0 {
		if n := s.assembler.RemoveFront(); n > 0 {
			s.rxBuffer.EnqueueUnallocated(n)
			s.remoteSeqNo = s.remoteSeqNo.Add(seqnum.Size(n))
		}
		s.scheduleAck(now, len(payload))
	} else {
		// Out-of-order arrival: flush the ACK immediately.
		s.flushAckNow(now)
	}
}

func (s *Socket) handleFIN(now time.Time, seg Segment) {
	finSeq := seg.Seq.Add(seqnum.Size(len(seg.Payload)))
	if finSeq != s.remoteSeqNo {
		return
	}
	s.remoteSeqNo = s.remoteSeqNo.Add(1)
	s.finReceived = true
	s.flushAckNow(now)

	switch s.state {
	case StateEstablished:
		s.state = StateCloseWait
	case StateFinWait1:
		if s.finAcked {
			s.enterTimeWait(now)
		} else {
			s.state = StateClosing
		}
	case StateFinWait2:
		s.enterTimeWait(now)
	}
}

func (s *Socket) enterTimeWait(now time.Time) {
	s.state = StateTimeWait
	s.timeWaitEntered = now
	s.timer.Arm(TimerTimeWait, now, 2*MSL)
}

// detectDuplicateAck recognizes a duplicate ACK: empty payload, no
// SYN/FIN/RST, ack equal to the previously-last-acked value, and window
// equal to what the peer had most recently advertised before this
// segment arrived. The counter resets on any ACK that advances snd_una
// or changes the window
// (handleAck already applied those effects by the time this runs, so
// prevAcked/prevWin capture the pre-update values).
func (s *Socket) detectDuplicateAck(seg Segment, prevAcked seqnum.Value, prevWin uint16, now time.Time) {
	isDup := len(seg.Payload) == 0 &&
		!seg.Flags.Has(FlagSYN) && !seg.Flags.Has(FlagFIN) && !seg.Flags.Has(FlagRST) &&
		seg.Flags.Has(FlagACK) &&
		seg.Ack == prevAcked &&
		seg.Window == prevWin

	if !isDup {
		s.localDupAcks = 0
		return
	}
	if s.localDupAcks < 255 {
		s.localDupAcks++
	}
	s.cc.OnDuplicateAck(now)
	if s.localDupAcks == congestionFastRetransmitThreshold {
		s.timer.Arm(TimerFastRetransmit, now, 0)
	}
}

const congestionFastRetransmitThreshold = 3

// scheduleAck arranges for a (possibly delayed) pure ACK.
func (s *Socket) scheduleAck(now time.Time, newBytes int) {
	s.bytesSinceAck += uint32(newBytes)
	threshold := uint32(s.remoteMSS) * 2

	if s.ackDelay == nil || s.bytesSinceAck >= threshold || newBytes == 0 {
		s.flushAckNow(now)
		return
	}
	if !s.ackPending {
		s.ackPending = true
		s.ackDeadline = now.Add(*s.ackDelay)
	}
}

func (s *Socket) flushAckNow(now time.Time) {
	s.ackPending = true
	s.ackDeadline = now
	s.bytesSinceAck = 0
}
