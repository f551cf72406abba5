package tcp

import (
	"time"

	"github.com/tinyrange/gotcp/seqnum"
)

// SendFunc is the caller-provided callback Dispatch uses to actually
// transmit a segment; it reports whether the send succeeded.
type SendFunc func(seg Segment) bool

// Dispatch decides at most one segment to emit and, if the caller's send
// succeeds, updates remote_last_seq/ack/win and records the send time for
// RTT sampling, following an ordered decision list. New data segments also
// arm the retransmit timer when it is not already running.
//
// Modeled on tinyrange-cc's NetStack.sendTCPPacket/tcpConn dispatch sites
// (internal/netstack/netstack.go), restructured into an explicit priority
// chain: RST pending, control bit, retransmission, fast retransmission,
// keep-alive, zero-window probe, new data, pure ACK.
func (s *Socket) Dispatch(now time.Time, sendRaw SendFunc) bool {
	if s.state == StateClosed && !s.rstPending {
		return false
	}
	if s.state == StateTimeWait && s.timer.Kind == TimerTimeWait && s.timer.Expired(now) {
		s.state = StateClosed
		s.hasTuple = false
		s.timer.Disarm()
		return false
	}
	send := func(seg Segment) bool {
		s.applyTimestamp(seg.Flags.Has(FlagSYN), &seg)
		return sendRaw(seg)
	}

	if s.rstPending {
		seg := Segment{Seq: s.localSeqNo, Ack: s.remoteSeqNo, Flags: FlagRST | FlagACK}
		s.rstPending = false
		send(seg)
		return true
	}

	if seg, ok := s.controlSegment(now); ok {
		if send(seg) {
			s.recordEmission(now, seg)
		}
		return true
	}

	if s.timer.Kind == TimerRetransmit && s.timer.Expired(now) {
		if seg, ok := s.retransmitSegment(); ok {
			if send(seg) {
				s.recordEmission(now, seg)
				delete(s.sentTime, uint32(seg.Seq)) // Karn: no RTT sample from a retransmission
				s.cc.OnRetransmit(now)
				rto := s.rtte.RTO()
				s.rtte.Backoff()
				s.timer.Rearm(now, rto*2)
			}
			return true
		}
	}
	if s.timer.Kind == TimerFastRetransmit {
		if seg, ok := s.retransmitSegment(); ok {
			if send(seg) {
				s.recordEmission(now, seg)
				delete(s.sentTime, uint32(seg.Seq)) // Karn: no RTT sample from a retransmission
			}
			s.timer.Arm(TimerRetransmit, now, s.rtte.RTO())
			return true
		}
	}

	if s.timer.Kind == TimerKeepalive && s.timer.Expired(now) {
		seg := s.keepaliveSegment()
		if send(seg) {
			s.recordEmission(now, seg)
		}
		delay := time.Second << uint(s.timer.Backoffs+1)
		s.timer.Rearm(now, delay)
		return true
	}

	if s.remoteWinLen == 0 && s.txBuffer.Len() > 0 && s.lastAcked == s.localSeqNo {
		if s.timer.Kind != TimerZeroWindowProbe {
			s.timer.Arm(TimerZeroWindowProbe, now, time.Second)
		} else if s.timer.Expired(now) {
			seg := s.probeSegment()
			if send(seg) {
				s.recordEmission(now, seg)
			}
			delay := time.Second << uint(s.timer.Backoffs+1)
			if max := 60 * time.Second; delay > max {
				delay = max
			}
			s.timer.Rearm(now, delay)
			return true
		}
	}

	if seg, ok := s.newDataSegment(now); ok {
		if send(seg) {
			s.recordEmission(now, seg)
			if !s.timer.Armed() || s.timer.Kind != TimerRetransmit {
				s.timer.Arm(TimerRetransmit, now, s.rtte.RTO())
			}
		}
		return true
	}

	if s.shouldSendPureAck(now) {
		seg := s.ackSegment()
		if send(seg) {
			s.recordEmission(now, seg)
			s.ackPending = false
			s.bytesSinceAck = 0
		}
		return true
	}

	return false
}

// applyTimestamp attaches RFC 1323 timestamps to outgoing segments once
// both a generator is configured and the peer offered timestamps in its
// SYN. Every such segment, SYN|ACK included, echoes the peer's most recent
// TSval. remoteHasTS is only learned from a peer's SYN in Listen, so an
// active opener sends no timestamps.
func (s *Socket) applyTimestamp(isSyn bool, seg *Segment) {
	if s.timestampGen == nil || !s.remoteHasTS {
		return
	}
	seg.Options.HasTimestamps = true
	seg.Options.TSval = s.timestampGen()
	if !isSyn || seg.Flags.Has(FlagACK) {
		seg.Options.TSecr = s.lastPeerTS
	}
}

func (s *Socket) recordEmission(now time.Time, seg Segment) {
	s.remoteLastSeq = seqnum.Max(s.remoteLastSeq, seg.Seq.Add(seg.SegmentLen()))
	s.remoteLastAck = seg.Ack
	s.remoteLastWin = seg.Window
	s.sentTime[uint32(seg.Seq)] = now
	s.cc.PostTransmit(now, uint32(len(seg.Payload)))
}

// controlSegment returns the SYN/SYN|ACK/FIN this socket still owes, if
// any.
func (s *Socket) controlSegment(now time.Time) (Segment, bool) {
	switch s.state {
	case StateSynSent:
		if s.remoteLastSeq == s.iss {
			s.localSeqNo = s.iss.Add(1) // SYN consumes one sequence number
			return s.synSegment(), true
		}
	case StateSynReceived:
		if s.remoteLastSeq == s.iss {
			s.localSeqNo = s.iss.Add(1) // SYN consumes one sequence number
			return s.synAckSegment(), true
		}
	}
	if (s.closeRequested || s.state == StateCloseWait) && s.txBuffer.IsEmpty() && !s.finSent {
		switch s.state {
		case StateEstablished:
			s.state = StateFinWait1
		case StateCloseWait:
			s.state = StateLastAck
		default:
			return Segment{}, false
		}
		seg := s.ackSegment()
		seg.Flags |= FlagFIN
		seg.Seq = s.localSeqNo
		s.localSeqNo = s.localSeqNo.Add(1)
		s.finSent = true
		return seg, true
	}
	return Segment{}, false
}

func (s *Socket) synSegment() Segment {
	return Segment{
		Seq:    s.iss,
		Flags:  FlagSYN,
		Window: s.advertisedWindow(true),
		Options: Options{
			MSS: defaultMSSv4, HasMSS: true,
			WindowScale: s.remoteWinShift, HasWindowScale: true,
			SACKPermitted: true,
		},
	}
}

func (s *Socket) synAckSegment() Segment {
	opts := Options{
		MSS: defaultMSSv4, HasMSS: true,
		SACKPermitted: s.remoteHasSACK,
	}
	if s.hasWinScale {
		opts.WindowScale = s.remoteWinShift
		opts.HasWindowScale = true
	}
	return Segment{
		Seq:    s.iss,
		Ack:    s.remoteSeqNo,
		Flags:  FlagSYN | FlagACK,
		Window: s.advertisedWindow(true),
		Options: opts,
	}
}

// retransmitSegment returns the earliest unacked segment, bounded to
// min(remote_mss, remote_win_len), for the timer-driven or fast-retransmit
// retransmission paths.
func (s *Socket) retransmitSegment() (Segment, bool) {
	size := int(s.remoteMSS)
	if wl := int(s.remoteWinLen); wl < size {
		size = wl
	}
	if size <= 0 {
		size = 1
	}
	avail := int(s.lastAcked.Diff(s.localSeqNo))
	if avail == 0 {
		return Segment{}, false
	}
	if size > avail {
		size = avail
	}
	payload := make([]byte, size)
	n := s.txBuffer.ReadAllocated(0, payload)
	payload = payload[:n]
	return Segment{
		Seq:     s.lastAcked,
		Ack:     s.remoteSeqNo,
		Flags:   FlagACK | FlagPSH,
		Window:  s.advertisedWindow(false),
		Payload: payload,
	}, true
}

func (s *Socket) probeSegment() Segment {
	var b [1]byte
	s.txBuffer.ReadAllocated(0, b[:])
	return Segment{
		Seq:     s.lastAcked,
		Ack:     s.remoteSeqNo,
		Flags:   FlagACK,
		Window:  s.advertisedWindow(false),
		Payload: b[:],
	}
}

// keepaliveSegment builds the 1-byte garbage-sequence probe: seq =
// snd_una-1, payload [0].
func (s *Socket) keepaliveSegment() Segment {
	return Segment{
		Seq:     s.lastAcked.Sub(1),
		Ack:     s.remoteSeqNo,
		Flags:   FlagACK,
		Window:  s.advertisedWindow(false),
		Payload: []byte{0},
	}
}

// newDataSegment applies Nagle, the congestion window, and the receiver
// window to gate whether unsent tx_buffer bytes go out now.
func (s *Socket) newDataSegment(now time.Time) (Segment, bool) {
	if s.state != StateEstablished && s.state != StateCloseWait {
		return Segment{}, false
	}
	unacked := int(s.lastAcked.Diff(s.localSeqNo))
	unsent := s.txBuffer.Len() - unacked
	if unsent <= 0 {
		return Segment{}, false
	}

	cwnd := int(s.cc.Window())
	rwnd := int(s.remoteWinLen)
	inFlight := unacked
	budget := cwnd - inFlight
	if budget > rwnd-inFlight {
		budget = rwnd - inFlight
	}
	if budget <= 0 {
		return Segment{}, false
	}

	size := unsent
	if size > budget {
		size = budget
	}
	if size > int(s.remoteMSS) {
		size = int(s.remoteMSS)
	}
	if size <= 0 {
		return Segment{}, false
	}

	isLast := size == unsent
	if s.nagleEnabled && unacked > 0 && size < int(s.remoteMSS) {
		if !(isLast && s.closeRequested) {
			return Segment{}, false
		}
	}

	payload := make([]byte, size)
	n := s.txBuffer.ReadAllocated(unacked, payload)
	payload = payload[:n]

	flags := FlagACK
	if isLast {
		flags |= FlagPSH
	}
	s.cc.PreTransmit(now)
	seg := Segment{
		Seq:     s.localSeqNo,
		Ack:     s.remoteSeqNo,
		Flags:   flags,
		Window:  s.advertisedWindow(false),
		Payload: payload,
	}
	s.localSeqNo = s.localSeqNo.Add(seqnum.Size(n))
	s.ackPending = false
	return seg, true
}

// shouldSendPureAck reports whether a pure ACK is due.
func (s *Socket) shouldSendPureAck(now time.Time) bool {
	if !s.ackPending {
		return false
	}
	if s.ackDelay == nil {
		return true
	}
	if s.bytesSinceAck >= uint32(s.remoteMSS)*2 {
		return true
	}
	return !now.Before(s.ackDeadline)
}

func (s *Socket) ackSegment() Segment {
	win := s.advertisedWindow(false)
	if s.windowFrozen() {
		win = s.remoteLastWin
	}
	return Segment{
		Seq:    s.localSeqNo,
		Ack:    s.remoteSeqNo,
		Flags:  FlagACK,
		Window: win,
	}
}

// PollAt reports when the caller's timer wheel should next invoke
// Dispatch.
func (s *Socket) PollAt(now time.Time) PollAction {
	if s.rstPending {
		return PollAction{Now: true}
	}
	if s.ackPending && (s.ackDelay == nil || !now.Before(s.ackDeadline)) {
		return PollAction{Now: true}
	}
	if s.timer.Armed() {
		if s.timer.Expired(now) {
			return PollAction{Now: true}
		}
		return PollAction{At: s.timer.Deadline}
	}
	if s.ackPending {
		return PollAction{At: s.ackDeadline}
	}
	if s.keepAlive != nil && !s.lastActivity.IsZero() {
		return PollAction{At: s.lastActivity.Add(*s.keepAlive)}
	}
	return PollAction{Ingress: true}
}

// CheckIdle evaluates the keep-alive and idle-timeout rules; the caller
// should invoke this from the same poll loop that drives Dispatch.
func (s *Socket) CheckIdle(now time.Time) {
	if s.timeout != nil && now.Sub(s.lastActivity) > *s.timeout {
		s.Abort()
		return
	}
	if s.keepAlive != nil && s.state == StateEstablished && s.timer.Kind != TimerKeepalive &&
		now.Sub(s.lastActivity) >= *s.keepAlive {
		s.timer.Arm(TimerKeepalive, now, 0)
	}
}
