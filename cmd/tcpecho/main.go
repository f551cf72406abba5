// Command tcpecho is a minimal runnable demonstration of the whole wired
// stack: YAML config, a tcp.Socket pair in Listen/Connect, iface dispatch,
// the ring buffers, reassembly, RTT/congestion feedback, and optional pcap
// capture. It stands in for tinyrange-cc's cmd/* entry points
// (cmd/cc-helper and friends), which wire VM/container machinery this
// module has no equivalent of.
//
// There is no real Ethernet/IP layer here: L2/L3 framing is out of scope,
// so the two endpoints exchange tcp.Segment values directly over a pair
// of Go channels standing in for the wire. Each socket is driven from
// exactly one goroutine; the two goroutines only ever communicate
// through the channels.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinyrange/gotcp/buffer"
	"github.com/tinyrange/gotcp/congestion"
	"github.com/tinyrange/gotcp/iface"
	"github.com/tinyrange/gotcp/internal/pcaplog"
	"github.com/tinyrange/gotcp/seqnum"
	"github.com/tinyrange/gotcp/tcp"
)

// wireFrame is a segment in flight between the two demo endpoints, tagged
// with the addressing Deliver/Process need.
type wireFrame struct {
	seg      tcp.Segment
	src, dst tcp.Endpoint
}

func newController(name string) (congestion.Controller, error) {
	switch name {
	case "", "none":
		return &congestion.None{}, nil
	case "reno":
		return congestion.NewReno(1460), nil
	case "cubic":
		return congestion.NewCubic(1460), nil
	default:
		return nil, fmt.Errorf("tcpecho: unknown congestion controller %q", name)
	}
}

func openCapture(path string) (*pcaplog.Capture, func(), error) {
	if path == "" {
		return nil, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("tcpecho: create pcap file: %w", err)
	}
	w := pcaplog.NewWriter(f)
	if err := w.WriteFileHeader(65535, pcaplog.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("tcpecho: pcap header: %w", err)
	}
	return pcaplog.NewCapture(w), func() { f.Close() }, nil
}

// endpointLoop drives one socket to completion: it alternates delivering
// inbound frames, letting Dispatch emit outbound ones, and polling idle
// timers, until ctx is cancelled. When echo is true, every received byte
// is written straight back out (the server side echoes; the client side
// does not).
func endpointLoop(
	ctx context.Context,
	logger *slog.Logger,
	name string,
	sock *tcp.Socket,
	set *iface.Set,
	local, remote tcp.Endpoint,
	inbound <-chan wireFrame,
	outbound chan<- wireFrame,
	capture *pcaplog.Capture,
	echo bool,
) error {
	ph := tcp.PseudoHeader{Src: local.Addr, Dst: remote.Addr}
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	send := func(seg tcp.Segment) bool {
		if capture != nil {
			if err := capture.WriteSegment(time.Now(), ph, seg); err != nil {
				logger.Warn("pcap capture failed", "endpoint", name, "err", err)
			}
		}
		select {
		case outbound <- wireFrame{seg: seg, src: local, dst: remote}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-inbound:
			now := time.Now()
			reply, err := set.Deliver(now, frame.seg, frame.src, frame.dst, false)
			if err != nil {
				logger.Warn("process failed", "endpoint", name, "err", err)
				continue
			}
			if reply != nil {
				send(*reply)
			}
			if echo {
				for {
					sent, err := tcp.Recv(sock, func(b []byte) (int, int) {
						if len(b) == 0 {
							return 0, 0
						}
						n, _ := sock.SendSlice(b)
						return len(b), n
					})
					if err != nil || sent == 0 {
						break
					}
					logger.Info("echoed bytes", "n", sent)
				}
			}
		case now := <-ticker.C:
			sock.CheckIdle(now)
			sock.Dispatch(now, send)
		}
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	duration := flag.Duration("duration", 500*time.Millisecond, "how long to run the demo before exiting")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	serverCC, err := newController(cfg.Congestion)
	if err != nil {
		return err
	}
	clientCC, err := newController(cfg.Congestion)
	if err != nil {
		return err
	}

	listenAddr := parseIPv4(cfg.ListenAddr)
	clientAddr := listenAddr
	clientAddr[3]++
	local := tcp.Endpoint{Addr: listenAddr, Port: cfg.ListenPort}
	remote := tcp.Endpoint{Addr: clientAddr, Port: 55000}

	server := tcp.NewSocket(
		buffer.NewRing(make([]byte, cfg.BufferSize)),
		buffer.NewRing(make([]byte, cfg.BufferSize)),
		serverCC,
	)
	server.SetAckDelay(cfg.ackDelay())
	server.SetKeepAlive(cfg.keepAlive())
	server.SetNagleEnabled(cfg.NagleEnabled)
	if err := server.Listen(local); err != nil {
		return fmt.Errorf("tcpecho: listen: %w", err)
	}
	var serverSet iface.Set
	serverSet.Add(server)

	client := tcp.NewSocket(
		buffer.NewRing(make([]byte, cfg.BufferSize)),
		buffer.NewRing(make([]byte, cfg.BufferSize)),
		clientCC,
	)
	client.SetNagleEnabled(cfg.NagleEnabled)
	var clientSet iface.Set
	clientSet.Add(client)

	capture, closeCapture, err := openCapture(cfg.PcapPath)
	if err != nil {
		return err
	}
	defer closeCapture()

	if err := client.Connect(remote, local, seqnum.Value(1), time.Now()); err != nil {
		return fmt.Errorf("tcpecho: connect: %w", err)
	}

	toServer := make(chan wireFrame, 64)
	toClient := make(chan wireFrame, 64)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return endpointLoop(gctx, logger, "client", client, &clientSet, local, remote, toClient, toServer, capture, false)
	})
	group.Go(func() error {
		return endpointLoop(gctx, logger, "server", server, &serverSet, remote, local, toServer, toClient, capture, true)
	})

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("tcpecho demo finished",
		"client_state", client.State().String(),
		"server_state", server.State().String())
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tcpecho: %v\n", err)
		os.Exit(1)
	}
}
