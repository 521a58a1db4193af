package peer

import "github.com/1ureka/pktpeer/internal/transport"

// DefaultMaxPacketSize is the IPv6 minimum MTU (1280) less the IPv6 and UDP
// headers, so a packet of this size never needs fragmenting.
const DefaultMaxPacketSize = 1232

// Option configures a Peer.
type Option func(*Peer)

// WithFamily selects the address family of sockets created by Listen.
func WithFamily(f transport.Family) Option {
	return func(p *Peer) {
		p.family = f
	}
}

// WithMaxPacketSize sets the largest payload PutPacket accepts. Values out of
// range fall back to the default or are capped at transport.MaxDatagramSize.
func WithMaxPacketSize(n int) Option {
	return func(p *Peer) {
		switch {
		case n <= 0:
			p.maxPacketSize = DefaultMaxPacketSize
		case n > transport.MaxDatagramSize:
			p.maxPacketSize = transport.MaxDatagramSize
		default:
			p.maxPacketSize = n
		}
	}
}
