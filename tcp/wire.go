package tcp

import (
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/gotcp/seqnum"
)

// Flags is the set of control bits carried in byte 13 of a TCP header.
type Flags uint8

const (
	FlagFIN Flags = 1 << 0
	FlagSYN Flags = 1 << 1
	FlagRST Flags = 1 << 2
	FlagPSH Flags = 1 << 3
	FlagACK Flags = 1 << 4
	FlagURG Flags = 1 << 5
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

func (f Flags) String() string {
	names := []struct {
		bit  Flags
		name string
	}{
		{FlagFIN, "FIN"}, {FlagSYN, "SYN"}, {FlagRST, "RST"},
		{FlagPSH, "PSH"}, {FlagACK, "ACK"}, {FlagURG, "URG"},
	}
	s := ""
	for _, n := range names {
		if f.Has(n.bit) {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	if s == "" {
		return "NONE"
	}
	return s
}

// TCP option kinds, per RFC 793/1323/2018.
const (
	optEnd           = 0
	optNOP           = 1
	optMSS           = 2
	optWindowScale   = 3
	optSACKPermitted = 4
	optTimestamps    = 8
)

const headerLen = 20

// Options carries the parsed or to-be-encoded TCP options this core
// understands. Anything else (e.g. SACK blocks, reserved for future
// extensions but not generated here) is skipped on parse and never
// emitted.
type Options struct {
	MSS            uint16
	HasMSS         bool
	WindowScale    uint8
	HasWindowScale bool
	SACKPermitted  bool
	TSval, TSecr   uint32
	HasTimestamps  bool
}

// ParseOptions walks a raw TCP options byte slice (already sliced to the
// advertised data offset) extracting the fields this core understands.
//
// Modeled on tinyrange-cc's parseTCPOptions (internal/netstack/tcp.go),
// extended from MSS/WindowScale-only to also recognize SACK-Permitted and
// Timestamps.
func ParseOptions(data []byte) Options {
	var o Options
	i := 0
	for i < len(data) {
		kind := data[i]
		switch kind {
		case optEnd:
			return o
		case optNOP:
			i++
			continue
		case optMSS:
			if i+4 <= len(data) && data[i+1] == 4 {
				o.MSS = binary.BigEndian.Uint16(data[i+2 : i+4])
				o.HasMSS = true
			}
			i = advance(data, i)
		case optWindowScale:
			if i+3 <= len(data) && data[i+1] == 3 {
				o.WindowScale = data[i+2]
				o.HasWindowScale = true
			}
			i = advance(data, i)
		case optSACKPermitted:
			if i+2 <= len(data) && data[i+1] == 2 {
				o.SACKPermitted = true
			}
			i = advance(data, i)
		case optTimestamps:
			if i+10 <= len(data) && data[i+1] == 10 {
				o.TSval = binary.BigEndian.Uint32(data[i+2 : i+6])
				o.TSecr = binary.BigEndian.Uint32(data[i+6 : i+10])
				o.HasTimestamps = true
			}
			i = advance(data, i)
		default:
			i = advance(data, i)
		}
		if i < 0 {
			return o
		}
	}
	return o
}

// advance returns the index of the next option after the one at i, or -1
// if the length byte is missing or invalid (malformed options: stop
// parsing rather than loop forever or read out of bounds).
func advance(data []byte, i int) int {
	if i+1 >= len(data) {
		return -1
	}
	length := int(data[i+1])
	if length < 2 {
		return -1
	}
	return i + length
}

// Encode serializes o into a byte slice padded with NOP to a 4-byte
// boundary, in the conventional MSS / SACK-Permitted / Timestamps /
// Window-Scale order real stacks use.
func (o Options) Encode() []byte {
	var buf []byte
	if o.HasMSS {
		b := make([]byte, 4)
		b[0], b[1] = optMSS, 4
		binary.BigEndian.PutUint16(b[2:4], o.MSS)
		buf = append(buf, b...)
	}
	if o.SACKPermitted {
		buf = append(buf, optSACKPermitted, 2)
	}
	if o.HasTimestamps {
		b := make([]byte, 10)
		b[0], b[1] = optTimestamps, 10
		binary.BigEndian.PutUint32(b[2:6], o.TSval)
		binary.BigEndian.PutUint32(b[6:10], o.TSecr)
		buf = append(buf, b...)
	}
	if o.HasWindowScale {
		buf = append(buf, optWindowScale, 3, o.WindowScale)
	}
	for len(buf)%4 != 0 {
		buf = append(buf, optNOP)
	}
	return buf
}

// Segment is a parsed (or about-to-be-encoded) TCP segment, independent of
// any particular IP version. IP-layer framing is an external collaborator;
// PseudoHeader carries just enough address information for checksum
// computation.
type Segment struct {
	SrcPort, DstPort uint16
	Seq, Ack         seqnum.Value
	Flags            Flags
	Window           uint16
	Urgent           uint16
	Options          Options
	Payload          []byte
}

// SegmentLen is the "SEG.LEN" of RFC 793 §3.3: payload length plus one for
// each of SYN and FIN (they consume a sequence number).
func (s Segment) SegmentLen() seqnum.Size {
	n := seqnum.Size(len(s.Payload))
	if s.Flags.Has(FlagSYN) {
		n++
	}
	if s.Flags.Has(FlagFIN) {
		n++
	}
	return n
}

// PseudoHeader carries the address/protocol fields the TCP checksum is
// computed over but that this core, being IP-version agnostic, does not
// own. Addr must be a 4-byte (IPv4) slice; this core does not implement
// IPv6.
type PseudoHeader struct {
	Src, Dst [4]byte
}

// ParseSegment decodes a wire-format TCP segment (20-60 byte header,
// options, payload). It does not validate the checksum; callers that
// receive segments over an untrusted medium should call VerifyChecksum
// first and drop the segment silently on mismatch.
//
// Modeled on tinyrange-cc's parseTCPHeader (internal/netstack/tcp.go).
func ParseSegment(data []byte) (Segment, error) {
	if len(data) < headerLen {
		return Segment{}, fmt.Errorf("tcp: header too short: %d bytes", len(data))
	}
	dataOff := int(data[12]>>4) * 4
	if dataOff < headerLen || dataOff > len(data) {
		return Segment{}, fmt.Errorf("tcp: invalid data offset: %d", dataOff)
	}
	seg := Segment{
		SrcPort: binary.BigEndian.Uint16(data[0:2]),
		DstPort: binary.BigEndian.Uint16(data[2:4]),
		Seq:     seqnum.Value(binary.BigEndian.Uint32(data[4:8])),
		Ack:     seqnum.Value(binary.BigEndian.Uint32(data[8:12])),
		Flags:   Flags(data[13]),
		Window:  binary.BigEndian.Uint16(data[14:16]),
		Urgent:  binary.BigEndian.Uint16(data[18:20]),
		Payload: data[dataOff:],
	}
	if dataOff > headerLen {
		seg.Options = ParseOptions(data[headerLen:dataOff])
	}
	return seg, nil
}

// Encode serializes seg into a fresh byte slice (header + options,
// NOP-padded to a 4-byte boundary, + payload) and fills in the checksum
// computed over ph.
func (s Segment) Encode(ph PseudoHeader) []byte {
	opts := s.Options.Encode()
	hdrLen := headerLen + len(opts)
	buf := make([]byte, hdrLen+len(s.Payload))

	binary.BigEndian.PutUint16(buf[0:2], s.SrcPort)
	binary.BigEndian.PutUint16(buf[2:4], s.DstPort)
	binary.BigEndian.PutUint32(buf[4:8], uint32(s.Seq))
	binary.BigEndian.PutUint32(buf[8:12], uint32(s.Ack))
	buf[12] = uint8(hdrLen/4) << 4
	buf[13] = uint8(s.Flags)
	binary.BigEndian.PutUint16(buf[14:16], s.Window)
	binary.BigEndian.PutUint16(buf[18:20], s.Urgent)
	copy(buf[headerLen:hdrLen], opts)
	copy(buf[hdrLen:], s.Payload)

	binary.BigEndian.PutUint16(buf[16:18], 0)
	buf[16], buf[17] = 0, 0
	cksum := checksum(ph, buf)
	binary.BigEndian.PutUint16(buf[16:18], cksum)
	return buf
}

// VerifyChecksum reports whether wire (a full encoded segment, as returned
// by Encode or received off the wire) carries a valid TCP checksum for ph.
func VerifyChecksum(ph PseudoHeader, wire []byte) bool {
	return checksum(ph, wire) == 0
}

// checksum computes the one's-complement checksum over the IPv4
// pseudo-header + the TCP header/options/payload in segment.
//
// Modeled on tinyrange-cc's tcpChecksum/pseudoHeaderChecksum/
// checksumWithInitial (internal/netstack/netstack.go).
func checksum(ph PseudoHeader, segment []byte) uint16 {
	var sum uint32
	sum += uint32(binary.BigEndian.Uint16(ph.Src[0:2]))
	sum += uint32(binary.BigEndian.Uint16(ph.Src[2:4]))
	sum += uint32(binary.BigEndian.Uint16(ph.Dst[0:2]))
	sum += uint32(binary.BigEndian.Uint16(ph.Dst[2:4]))
	const tcpProtocolNumber = 6
	sum += uint32(tcpProtocolNumber)
	sum += uint32(len(segment))

	for i := 0; i+1 < len(segment); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(segment[i : i+2]))
	}
	if len(segment)%2 == 1 {
		sum += uint32(segment[len(segment)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
