package pcaplog

import (
	"encoding/binary"
	"time"

	"github.com/tinyrange/gotcp/tcp"
)

// Synthetic link/network framing constants for captured segments. A
// gotcp socket has no MAC addresses or a real Ethernet segment of its
// own, so Capture fabricates a fixed pair purely to produce a
// Wireshark-openable trace; none of it round-trips back into the core.
var (
	synthSrcMAC = [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	synthDstMAC = [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

const (
	ethernetHeaderLen = 14
	ipv4HeaderLen     = 20
	etherTypeIPv4     = 0x0800
	ipProtocolTCP     = 6
)

// Capture is an optional sink used by cmd/tcpecho's send path: segments
// handed to it are mirrored as libpcap records, purely for post-hoc
// inspection. The tcp and iface packages do not use it; this is a
// write-only observational sink, not shared state.
//
// Modeled on tinyrange-cc's NetStack.OpenPacketCapture/writePacketCapture
// (internal/netstack/netstack.go), which wraps the same Writer around
// live Ethernet frames; this adapts it to frame bare tcp.Segment values
// (this core has no Ethernet/IP layer of its own), reimplementing
// tinyrange-cc's buildEthernetHeaderInto/buildIPv4HeaderInto/
// ipv4Checksum byte layout directly since that code lived in its
// internal/netstack tree.
type Capture struct {
	w *Writer
}

// NewCapture wraps w (already past WriteFileHeader) as a segment sink.
func NewCapture(w *Writer) *Capture { return &Capture{w: w} }

// WriteSegment frames seg (with ph giving the IPv4 addresses the checksum
// was computed over) as a synthetic Ethernet+IPv4+TCP packet and appends
// it to the underlying pcap stream.
func (c *Capture) WriteSegment(now time.Time, ph tcp.PseudoHeader, seg tcp.Segment) error {
	tcpWire := seg.Encode(ph)
	frame := make([]byte, ethernetHeaderLen+ipv4HeaderLen+len(tcpWire))

	buildEthernetHeaderInto(frame[:ethernetHeaderLen], synthDstMAC, synthSrcMAC, etherTypeIPv4)
	buildIPv4HeaderInto(frame[ethernetHeaderLen:ethernetHeaderLen+ipv4HeaderLen], ph.Src, ph.Dst, ipProtocolTCP, len(tcpWire))
	copy(frame[ethernetHeaderLen+ipv4HeaderLen:], tcpWire)

	return c.w.WritePacket(CaptureInfo{
		Timestamp:     now,
		CaptureLength: len(frame),
		Length:        len(frame),
	}, frame)
}

func buildEthernetHeaderInto(buf []byte, dstMac, srcMac [6]byte, etherType uint16) {
	copy(buf[0:6], dstMac[:])
	copy(buf[6:12], srcMac[:])
	binary.BigEndian.PutUint16(buf[12:14], etherType)
}

func buildIPv4HeaderInto(packet []byte, src, dst [4]byte, protocol uint8, payloadLen int) {
	totalLen := ipv4HeaderLen + payloadLen
	packet[0] = (4 << 4) | (ipv4HeaderLen / 4)
	packet[1] = 0
	binary.BigEndian.PutUint16(packet[2:4], uint16(totalLen))
	binary.BigEndian.PutUint16(packet[4:6], 0)
	binary.BigEndian.PutUint16(packet[6:8], 0)
	packet[8] = 64
	packet[9] = protocol
	binary.BigEndian.PutUint16(packet[10:12], 0)
	copy(packet[12:16], src[:])
	copy(packet[16:20], dst[:])

	check := ipv4Checksum(packet[:ipv4HeaderLen])
	binary.BigEndian.PutUint16(packet[10:12], check)
}

func ipv4Checksum(data []byte) uint16 {
	var sum uint32
	for i := 0; i < len(data)-1; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if len(data)%2 == 1 {
		sum += uint32(data[len(data)-1]) << 8
	}
	for sum > 0xffff {
		sum = (sum >> 16) + (sum & 0xffff)
	}
	return ^uint16(sum)
}
