package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

var (
	ErrFrameTooLarge   = errors.New("frame does not fit in free space")
	ErrUnknownAddrType = errors.New("unknown address type tag")
	ErrTruncated       = errors.New("incomplete frame")
)

// Writer is the byte-level write side of the ring buffer.
type Writer interface {
	Write(p []byte) error
	SpaceLeft() int
}

// Reader is the byte-level read side of the ring buffer.
type Reader interface {
	Read(p []byte) error
	PeekAt(off int, p []byte) error
	Len() int
}

// Encode writes f as one frame. The whole frame is checked against free space
// before the first byte is written, so a failed Encode leaves w untouched.
func Encode(w Writer, f *Frame) error {
	size := f.Size()
	if size > w.SpaceLeft() {
		return fmt.Errorf("%w: need %d bytes, %d free", ErrFrameTooLarge, size, w.SpaceLeft())
	}

	var hdr [MaxHeaderSize]byte
	typ := f.Type()
	hdr[0] = typ

	off := typeSize
	switch typ {
	case TypeIPv4:
		a := f.Addr.As4()
		off += copy(hdr[off:], a[:])
	case TypeIPv6:
		a := f.Addr.As16()
		off += copy(hdr[off:], a[:])
	}

	binary.NativeEndian.PutUint32(hdr[off:], f.Port)
	off += portSize
	binary.NativeEndian.PutUint32(hdr[off:], uint32(len(f.Payload)))
	off += lengthSize

	if err := w.Write(hdr[:off]); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		return w.Write(f.Payload)
	}
	return nil
}

// Decode reads exactly one frame. The header is peeked first and the frame is
// only consumed once it is known to be complete. The returned payload is an
// owned copy.
func Decode(r Reader) (*Frame, error) {
	var hdr [MaxHeaderSize]byte

	if err := r.PeekAt(0, hdr[:typeSize]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	typ := hdr[0]
	n, ok := addrSize(typ)
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownAddrType, typ)
	}

	hdrLen := MinHeaderSize + n
	if err := r.PeekAt(0, hdr[:hdrLen]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	off := typeSize
	f := &Frame{}
	switch typ {
	case TypeIPv4:
		f.Addr = netip.AddrFrom4([4]byte(hdr[off : off+4]))
	case TypeIPv6:
		f.Addr = netip.AddrFrom16([16]byte(hdr[off : off+16]))
	}
	off += n

	f.Port = binary.NativeEndian.Uint32(hdr[off:])
	off += portSize
	size := int(binary.NativeEndian.Uint32(hdr[off:]))

	if r.Len() < hdrLen+size {
		return nil, fmt.Errorf("%w: need %d bytes, %d held", ErrTruncated, hdrLen+size, r.Len())
	}

	if err := r.Read(hdr[:hdrLen]); err != nil {
		return nil, err
	}
	f.Payload = make([]byte, size)
	if err := r.Read(f.Payload); err != nil {
		return nil, err
	}
	return f, nil
}
