package peer

import (
	"errors"
	"fmt"
)

// Every error returned by a Peer matches exactly one of the first four with
// errors.Is.
var (
	// ErrCantCreate means the transport could not create a socket.
	ErrCantCreate = errors.New("peer: can't create socket")
	// ErrUnavailable means the requested data or binding is not present:
	// nothing is queued, or the port could not be bound.
	ErrUnavailable = errors.New("peer: unavailable")
	// ErrUnconfigured means no destination has been set for outgoing packets.
	ErrUnconfigured = errors.New("peer: no destination address")
	// ErrFailed means the socket is missing or failed. A socket failure
	// closes the peer before it is returned.
	ErrFailed = errors.New("peer: failed")

	// ErrInvalidPacket is the one ErrFailed that leaves the socket open:
	// PutPacket refused the payload or destination before any I/O.
	ErrInvalidPacket = fmt.Errorf("%w: invalid packet", ErrFailed)
)
