package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"time"
	"unicode/utf8"

	"github.com/1ureka/pktpeer/internal/peer"
)

// pollInterval is how often the CLI polls a peer. Polling with a context
// check in between keeps every wait cancellable.
const pollInterval = 5 * time.Millisecond

// received is one dequeued packet with its source.
type received struct {
	Payload []byte
	From    netip.AddrPort
}

// drain dequeues every packet the peer currently has and calls fn for each.
func drain(p *peer.Peer, fn func(received) error) error {
	for {
		pkt, err := p.Packet()
		if errors.Is(err, peer.ErrUnavailable) {
			return nil
		}
		if err != nil {
			return err
		}

		r := received{Payload: pkt}
		if addr := p.PacketAddr(); addr.IsValid() {
			r.From = netip.AddrPortFrom(addr, uint16(p.PacketPort()))
		}
		if err := fn(r); err != nil {
			return err
		}
	}
}

// serve polls p until ctx is done, handing each packet to fn.
func serve(ctx context.Context, p *peer.Peer, fn func(received) error) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if err := drain(p, fn); err != nil {
			return err
		}
		if !p.IsListening() {
			return fmt.Errorf("%w: socket closed", peer.ErrFailed)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// awaitPacket polls p until one packet is available or timeout elapses.
func awaitPacket(ctx context.Context, p *peer.Peer, timeout time.Duration) (received, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		pkt, err := p.Packet()
		if err == nil {
			return received{
				Payload: pkt,
				From:    netip.AddrPortFrom(p.PacketAddr(), uint16(p.PacketPort())),
			}, nil
		}
		if !errors.Is(err, peer.ErrUnavailable) {
			return received{}, err
		}

		select {
		case <-ctx.Done():
			return received{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// printPacket writes one line describing r.
func printPacket(w io.Writer, r received) {
	from := "unknown"
	if r.From.Addr().IsValid() {
		from = r.From.String()
	}
	fmt.Fprintf(w, "%-22s %5d B  %s\n", from, len(r.Payload), preview(r.Payload))
}

// preview renders up to 48 bytes of payload, as text when it is printable.
func preview(b []byte) string {
	const limit = 48

	cut := b
	if len(cut) > limit {
		cut = cut[:limit]
	}

	var s string
	if utf8.Valid(cut) && isPrintable(cut) {
		s = fmt.Sprintf("%q", cut)
	} else {
		s = fmt.Sprintf("%x", cut)
	}
	if len(b) > limit {
		s += "…"
	}
	return s
}

func isPrintable(b []byte) bool {
	for _, c := range b {
		if c < 0x20 && c != '\t' && c != '\n' && c != '\r' {
			return false
		}
	}
	return true
}
