// Package transport is the connectionless socket boundary the packet peer
// drives. A Factory is built once at startup and handed to whoever needs
// sockets; implementations cover kernel UDP, WebRTC DataChannel datagrams and
// an in-process memory network.
package transport

import (
	"errors"
	"net/netip"
)

var (
	// ErrWouldBlock reports that no datagram is ready (receive) or that the
	// socket cannot take more data right now (send). It is not a failure.
	ErrWouldBlock = errors.New("transport: operation would block")
	ErrClosed     = errors.New("transport: socket closed")
	ErrNotBound   = errors.New("transport: socket not bound")
)

// MaxDatagramSize is the largest UDP payload over IPv4 and the size of the
// peer's scratch receive buffer.
const MaxDatagramSize = 65507

// Family is the address family preference for a socket.
type Family uint8

const (
	FamilyAny  Family = iota // dual-stack where supported
	FamilyIPv4               // IPv4 only
	FamilyIPv6               // IPv6 only
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "any"
	}
}

// ParseFamily parses "any", "ipv4" or "ipv6".
func ParseFamily(s string) (Family, error) {
	switch s {
	case "", "any":
		return FamilyAny, nil
	case "ipv4", "v4", "4":
		return FamilyIPv4, nil
	case "ipv6", "v6", "6":
		return FamilyIPv6, nil
	default:
		return FamilyAny, errors.New("transport: unknown address family " + s)
	}
}

// Factory creates unbound sockets.
type Factory interface {
	Create(family Family) (Socket, error)
}

// Socket is one connectionless endpoint.
type Socket interface {
	// Bind attaches the socket to a local port (0 picks one).
	Bind(port int) error

	// TryReceive copies one datagram into buf if one is ready and returns
	// ErrWouldBlock otherwise. It never blocks.
	TryReceive(buf []byte) (n int, from netip.AddrPort, err error)

	// Receive blocks until one datagram arrives or the socket fails.
	Receive(buf []byte) (n int, from netip.AddrPort, err error)

	// SendTo transmits buf as one datagram. ErrWouldBlock means nothing was
	// sent and the call may be retried.
	SendTo(buf []byte, to netip.AddrPort) (int, error)

	// LocalAddr returns the bound address, or the zero value before Bind.
	LocalAddr() netip.AddrPort

	Close() error
}
