package iface

import (
	"testing"
	"time"

	"github.com/tinyrange/gotcp/tcp"
)

type fakeSocket struct {
	accept  bool
	reply   *tcp.Segment
	err     error
	handled int
}

func (f *fakeSocket) Accepts(tcp.Segment, tcp.Endpoint, tcp.Endpoint) bool { return f.accept }
func (f *fakeSocket) Process(time.Time, tcp.Segment, tcp.Endpoint, tcp.Endpoint) (*tcp.Segment, error) {
	f.handled++
	return f.reply, f.err
}

func TestDeliverRoutesToFirstAcceptingSocket(t *testing.T) {
	var set Set
	no := &fakeSocket{accept: false}
	yes := &fakeSocket{accept: true}
	set.Add(no)
	set.Add(yes)

	seg := tcp.Segment{Flags: tcp.FlagACK}
	_, err := set.Deliver(time.Now(), seg, tcp.Endpoint{}, tcp.Endpoint{}, false)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if no.handled != 0 {
		t.Fatalf("non-accepting socket should not be processed")
	}
	if yes.handled != 1 {
		t.Fatalf("accepting socket should be processed exactly once")
	}
}

func TestDeliverSynthesizesOrphanRST(t *testing.T) {
	var set Set
	set.Add(&fakeSocket{accept: false})

	seg := tcp.Segment{Seq: 100, Flags: tcp.FlagACK, Ack: 0}
	reply, err := set.Deliver(time.Now(), seg, tcp.Endpoint{Port: 1}, tcp.Endpoint{Port: 2}, false)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if reply == nil {
		t.Fatalf("expected an orphan RST")
	}
	if !reply.Flags.Has(tcp.FlagRST) {
		t.Fatalf("expected RST flag set")
	}
}

func TestOrphanRSTNeverRepliesToRST(t *testing.T) {
	seg := tcp.Segment{Flags: tcp.FlagRST}
	if reply := OrphanRST(seg, tcp.Endpoint{}, tcp.Endpoint{}, false); reply != nil {
		t.Fatalf("should never reply to an RST with an RST")
	}
}

func TestOrphanRSTFormatWithAck(t *testing.T) {
	seg := tcp.Segment{Seq: 500, Ack: 999, Flags: tcp.FlagACK}
	reply := OrphanRST(seg, tcp.Endpoint{}, tcp.Endpoint{}, false)
	if reply == nil {
		t.Fatalf("expected a reply")
	}
	if reply.Seq != 999 || reply.Flags != tcp.FlagRST {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestOrphanRSTFormatWithoutAck(t *testing.T) {
	seg := tcp.Segment{Seq: 500, Flags: tcp.FlagSYN, Payload: []byte("xy")}
	reply := OrphanRST(seg, tcp.Endpoint{}, tcp.Endpoint{}, false)
	if reply == nil {
		t.Fatalf("expected a reply")
	}
	// SYN + 2 bytes payload = segment length 3.
	if reply.Ack != 503 || reply.Flags != tcp.FlagACK|tcp.FlagRST {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestOrphanRSTSuppressedWhenShadowed(t *testing.T) {
	var set Set
	set.Add(&fakeSocket{accept: false})
	seg := tcp.Segment{Flags: tcp.FlagACK}
	reply, _ := set.Deliver(time.Now(), seg, tcp.Endpoint{}, tcp.Endpoint{}, true)
	if reply != nil {
		t.Fatalf("shadowed segments should not get an orphan RST")
	}
}
