package tcp

import (
	"testing"

	"github.com/tinyrange/gotcp/seqnum"
)

func TestEncodeParseRoundTrip(t *testing.T) {
	ph := PseudoHeader{Src: [4]byte{10, 0, 0, 1}, Dst: [4]byte{10, 0, 0, 2}}
	seg := Segment{
		SrcPort: 1234,
		DstPort: 80,
		Seq:     seqnum.Value(1000),
		Ack:     seqnum.Value(2000),
		Flags:   FlagACK | FlagPSH,
		Window:  4096,
		Options: Options{MSS: 1460, HasMSS: true},
		Payload: []byte("hello"),
	}
	wire := seg.Encode(ph)
	if !VerifyChecksum(ph, wire) {
		t.Fatalf("checksum did not verify")
	}
	got, err := ParseSegment(wire)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.SrcPort != seg.SrcPort || got.DstPort != seg.DstPort {
		t.Fatalf("ports mismatch: %+v", got)
	}
	if got.Seq != seg.Seq || got.Ack != seg.Ack {
		t.Fatalf("seq/ack mismatch: %+v", got)
	}
	if got.Flags != seg.Flags || got.Window != seg.Window {
		t.Fatalf("flags/window mismatch: %+v", got)
	}
	if string(got.Payload) != "hello" {
		t.Fatalf("payload mismatch: %q", got.Payload)
	}
	if !got.Options.HasMSS || got.Options.MSS != 1460 {
		t.Fatalf("mss option lost: %+v", got.Options)
	}
}

func TestVerifyChecksumDetectsCorruption(t *testing.T) {
	ph := PseudoHeader{Src: [4]byte{1, 1, 1, 1}, Dst: [4]byte{2, 2, 2, 2}}
	seg := Segment{SrcPort: 1, DstPort: 2, Flags: FlagACK, Payload: []byte("x")}
	wire := seg.Encode(ph)
	wire[len(wire)-1] ^= 0xFF
	if VerifyChecksum(ph, wire) {
		t.Fatalf("expected checksum mismatch after corruption")
	}
}

func TestOptionsEncodeIsPadded(t *testing.T) {
	o := Options{SACKPermitted: true}
	enc := o.Encode()
	if len(enc)%4 != 0 {
		t.Fatalf("options not padded to 4 bytes: %d", len(enc))
	}
}

func TestParseOptionsWindowScale(t *testing.T) {
	o := Options{WindowScale: 7, HasWindowScale: true}
	enc := o.Encode()
	got := ParseOptions(enc)
	if !got.HasWindowScale || got.WindowScale != 7 {
		t.Fatalf("window scale not round-tripped: %+v", got)
	}
}

func TestParseSegmentRejectsShortHeader(t *testing.T) {
	_, err := ParseSegment(make([]byte, 10))
	if err == nil {
		t.Fatalf("expected error for short header")
	}
}

func TestSegmentLenCountsSynFin(t *testing.T) {
	s := Segment{Flags: FlagSYN, Payload: nil}
	if s.SegmentLen() != 1 {
		t.Fatalf("SYN should consume 1 sequence number, got %d", s.SegmentLen())
	}
	s2 := Segment{Flags: FlagFIN | FlagACK, Payload: []byte("ab")}
	if s2.SegmentLen() != 3 {
		t.Fatalf("FIN+2 bytes should be len 3, got %d", s2.SegmentLen())
	}
}

func TestFlagsString(t *testing.T) {
	f := FlagSYN | FlagACK
	if f.String() != "SYN|ACK" {
		t.Fatalf("String() = %q, want SYN|ACK", f.String())
	}
	if Flags(0).String() != "NONE" {
		t.Fatalf("zero flags should print NONE")
	}
}
