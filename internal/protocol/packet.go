// Package protocol defines the frame layout used to queue received datagrams
// inside the peer's ring buffer. The layout never leaves process memory, so
// multi-byte fields use the host's native byte order.
package protocol

import "net/netip"

// Address type tags.
const (
	TypeNone uint8 = 0x00 // Source address family unknown; no address bytes follow
	TypeIPv4 uint8 = 0x01 // 4 address bytes follow
	TypeIPv6 uint8 = 0x02 // 16 address bytes follow
)

// Fixed field sizes: Type(1) + Addr(0/4/16) + Port(4) + Length(4).
const (
	typeSize   = 1
	portSize   = 4
	lengthSize = 4

	// MinHeaderSize is the header size of a TypeNone frame.
	MinHeaderSize = typeSize + portSize + lengthSize
	// MaxHeaderSize is the header size of a TypeIPv6 frame.
	MaxHeaderSize = MinHeaderSize + 16
)

// Frame is one received datagram: its source and its payload.
type Frame struct {
	Addr    netip.Addr // zero value when the source family is unknown
	Port    uint32
	Payload []byte
}

// Type returns the address type tag for the frame's source address.
// IPv4-mapped IPv6 addresses are tagged as IPv6; unmap them first to store
// four bytes.
func (f *Frame) Type() uint8 {
	switch {
	case f.Addr.Is4():
		return TypeIPv4
	case f.Addr.Is6():
		return TypeIPv6
	default:
		return TypeNone
	}
}

// Size returns the number of ring bytes the encoded frame occupies.
func (f *Frame) Size() int {
	return HeaderSize(f.Type()) + len(f.Payload)
}

// HeaderSize returns the header length for an address type, or 0 for an
// unknown tag.
func HeaderSize(typ uint8) int {
	n, ok := addrSize(typ)
	if !ok {
		return 0
	}
	return MinHeaderSize + n
}

func addrSize(typ uint8) (int, bool) {
	switch typ {
	case TypeNone:
		return 0, true
	case TypeIPv4:
		return 4, true
	case TypeIPv6:
		return 16, true
	default:
		return 0, false
	}
}
