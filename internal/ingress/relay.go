// Package ingress relays the receiver's public UDP port to the loopback
// port of a subprocess engine and counts what passes through.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/smazurov/camrelay/internal/logging"
)

// maxDatagram is the largest UDP payload.
const maxDatagram = 65535

// readTimeout lets Run notice cancellation between datagrams.
const readTimeout = 250 * time.Millisecond

// PacketFunc observes one relayed datagram. frameEnd is the RTP marker bit,
// which for RTP/JPEG flags the last packet of a frame.
type PacketFunc func(bytes int, frameEnd bool)

// Relay forwards datagrams from Listen to Forward unchanged.
type Relay struct {
	logger   logging.Logger
	onPacket PacketFunc

	in  *net.UDPConn
	out *net.UDPConn

	closeOnce sync.Once
	closed    chan struct{}
}

// New binds listen and connects to forward. onPacket may be nil.
func New(listen, forward string, onPacket PacketFunc) (*Relay, error) {
	laddr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, fmt.Errorf("resolve listen address %q: %w", listen, err)
	}
	faddr, err := net.ResolveUDPAddr("udp", forward)
	if err != nil {
		return nil, fmt.Errorf("resolve forward address %q: %w", forward, err)
	}

	in, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", listen, err)
	}
	out, err := net.DialUDP("udp", nil, faddr)
	if err != nil {
		_ = in.Close()
		return nil, fmt.Errorf("dial %s: %w", forward, err)
	}

	if onPacket == nil {
		onPacket = func(int, bool) {}
	}
	return &Relay{
		logger:   logging.GetLogger("ingress"),
		onPacket: onPacket,
		in:       in,
		out:      out,
		closed:   make(chan struct{}),
	}, nil
}

// ListenAddr returns the bound public address.
func (r *Relay) ListenAddr() net.Addr {
	return r.in.LocalAddr()
}

// Run relays until ctx is cancelled or Close is called.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("Ingress relay running", "listen", r.in.LocalAddr().String(), "forward", r.out.RemoteAddr().String())

	buf := make([]byte, maxDatagram)
	var header rtp.Header
	var malformed uint64

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.closed:
			return nil
		default:
		}

		_ = r.in.SetReadDeadline(time.Now().Add(readTimeout))
		n, _, err := r.in.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			select {
			case <-r.closed:
				return nil
			default:
			}
			return fmt.Errorf("read: %w", err)
		}

		pkt := buf[:n]
		if _, err := r.out.Write(pkt); err != nil {
			// The engine may not have bound its port yet; drop and carry on.
			r.logger.Debug("Forward failed", "error", err)
		}

		frameEnd := false
		if _, err := header.Unmarshal(pkt); err == nil {
			frameEnd = header.Marker
		} else {
			malformed++
			if malformed == 1 || malformed%1000 == 0 {
				r.logger.Warn("Malformed RTP packet forwarded", "count", malformed, "error", err)
			}
		}
		r.onPacket(n, frameEnd)
	}
}

// Close releases both sockets. Safe to call more than once.
func (r *Relay) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.closed)
		err = errors.Join(r.in.Close(), r.out.Close())
	})
	return err
}

// FreeLoopbackPort reserves and releases a loopback UDP port for the engine
// to bind. The port is free only until someone else binds it.
func FreeLoopbackPort() (int, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port, nil
}
