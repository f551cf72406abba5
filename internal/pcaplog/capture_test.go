package pcaplog

import (
	"bytes"
	"testing"
	"time"

	"github.com/tinyrange/gotcp/tcp"
)

func TestCaptureWriteSegmentProducesValidFrame(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteFileHeader(65535, LinkTypeEthernet); err != nil {
		t.Fatalf("write header: %v", err)
	}
	c := NewCapture(w)

	ph := tcp.PseudoHeader{Src: [4]byte{10, 0, 0, 1}, Dst: [4]byte{10, 0, 0, 2}}
	seg := tcp.Segment{SrcPort: 1234, DstPort: 80, Flags: tcp.FlagACK, Payload: []byte("hi")}

	if err := c.WriteSegment(time.Unix(1_700_000_000, 0), ph, seg); err != nil {
		t.Fatalf("write segment: %v", err)
	}

	got := buf.Bytes()
	if len(got) <= 24 {
		t.Fatalf("expected a global header plus at least one record, got %d bytes", len(got))
	}
	frame := got[24+16:]
	wantLen := ethernetHeaderLen + ipv4HeaderLen + 20 /* tcp header */ + 2 /* payload */
	if len(frame) != wantLen {
		t.Fatalf("frame length = %d, want %d", len(frame), wantLen)
	}
	if ipv4Checksum(frame[ethernetHeaderLen:ethernetHeaderLen+ipv4HeaderLen]) != 0 {
		t.Fatalf("ipv4 header checksum does not verify")
	}
}
