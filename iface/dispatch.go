// Package iface implements per-interface dispatch: steering an arriving
// TCP segment to the accepting socket in the set, and synthesizing an RST
// reply for segments no socket claims.
//
// Modeled on tinyrange-cc's NetStack.handleTCP (internal/netstack/
// netstack.go), which performs the same four-tuple lookup and orphan-RST
// synthesis against a map keyed by tcpFourTuple; here the socket set is
// an explicit ordered slice so dispatch order is deterministic, and RST
// synthesis follows two distinct byte layouts depending on whether the
// rejected segment carried an ACK, rather than tinyrange-cc's single
// unconditional RST path.
package iface

import (
	"time"

	"github.com/tinyrange/gotcp/tcp"
)

// Socket is the subset of *tcp.Socket that Dispatch needs, so tests can
// substitute a fake.
type Socket interface {
	Accepts(seg tcp.Segment, src, dst tcp.Endpoint) bool
	Process(now time.Time, seg tcp.Segment, src, dst tcp.Endpoint) (*tcp.Segment, error)
}

var _ Socket = (*tcp.Socket)(nil)

// Set is an ordered collection of sockets, dispatched in insertion
// order.
type Set struct {
	sockets []Socket
}

// Add appends s to the set. Insertion order is significant: it is the
// order Dispatch tries Accepts in.
func (set *Set) Add(s Socket) { set.sockets = append(set.sockets, s) }

// Remove drops s from the set, if present.
func (set *Set) Remove(s Socket) {
	for i, cur := range set.sockets {
		if cur == s {
			set.sockets = append(set.sockets[:i], set.sockets[i+1:]...)
			return
		}
	}
}

// Deliver routes seg (from src, addressed to dst) to the first socket in
// the set whose Accepts returns true. If no socket claims it, an orphan
// RST is synthesized per the byte rules below, unless seg is itself an
// RST (never reply to an RST with an RST) or shadowed (handled
// elsewhere, signalled by the caller via shadowed).
func (set *Set) Deliver(now time.Time, seg tcp.Segment, src, dst tcp.Endpoint, shadowed bool) (reply *tcp.Segment, err error) {
	for _, s := range set.sockets {
		if s.Accepts(seg, src, dst) {
			return s.Process(now, seg, src, dst)
		}
	}
	return OrphanRST(seg, src, dst, shadowed), nil
}

// OrphanRST synthesizes the RST reply for a segment no socket accepted,
// or nil if no reply is warranted (the segment was itself an RST, or a
// raw-socket shadow already handled it).
func OrphanRST(seg tcp.Segment, src, dst tcp.Endpoint, shadowed bool) *tcp.Segment {
	if seg.Flags.Has(tcp.FlagRST) || shadowed {
		return nil
	}
	reply := &tcp.Segment{
		SrcPort: dst.Port,
		DstPort: src.Port,
		Window:  0,
	}
	if seg.Flags.Has(tcp.FlagACK) {
		reply.Seq = seg.Ack
		reply.Flags = tcp.FlagRST
	} else {
		reply.Seq = 0
		reply.Ack = seg.Seq.Add(seg.SegmentLen())
		reply.Flags = tcp.FlagACK | tcp.FlagRST
	}
	return reply
}
