package protocol_test

import (
	"bytes"
	"errors"
	"net/netip"
	"testing"

	"github.com/1ureka/pktpeer/internal/protocol"
	"github.com/1ureka/pktpeer/internal/ringbuf"
)

// TestEncodeDecodeRoundTrip verifies that encoding and decoding are inverse
// operations for every address type with various payload sizes.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	testCases := []struct {
		name  string
		frame *protocol.Frame
	}{
		{
			name: "IPv4 with small payload",
			frame: &protocol.Frame{
				Addr:    netip.MustParseAddr("10.0.0.5"),
				Port:    5000,
				Payload: []byte("ping"),
			},
		},
		{
			name: "IPv6 with small payload",
			frame: &protocol.Frame{
				Addr:    netip.MustParseAddr("2001:db8::1"),
				Port:    65535,
				Payload: []byte("hello world"),
			},
		},
		{
			name: "unknown family",
			frame: &protocol.Frame{
				Port:    0,
				Payload: []byte{0xde, 0xad, 0xbe, 0xef},
			},
		},
		{
			name: "IPv4 with empty payload",
			frame: &protocol.Frame{
				Addr:    netip.MustParseAddr("127.0.0.1"),
				Port:    1,
				Payload: []byte{},
			},
		},
		{
			name: "IPv6 with 16KB payload",
			frame: &protocol.Frame{
				Addr:    netip.MustParseAddr("fe80::1"),
				Port:    0xFFFFFFFF,
				Payload: make([]byte, 16*1024),
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := ringbuf.New(64 * 1024)

			if err := protocol.Encode(r, tc.frame); err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if r.Len() != tc.frame.Size() {
				t.Fatalf("encoded size mismatch: got %d, want %d", r.Len(), tc.frame.Size())
			}

			decoded, err := protocol.Decode(r)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if decoded.Addr != tc.frame.Addr {
				t.Errorf("Addr mismatch: got %v, want %v", decoded.Addr, tc.frame.Addr)
			}
			if decoded.Port != tc.frame.Port {
				t.Errorf("Port mismatch: got %d, want %d", decoded.Port, tc.frame.Port)
			}
			if !bytes.Equal(decoded.Payload, tc.frame.Payload) {
				t.Errorf("Payload mismatch: got %d bytes, want %d", len(decoded.Payload), len(tc.frame.Payload))
			}
			if r.Len() != 0 {
				t.Errorf("ring should be empty after decode, holds %d bytes", r.Len())
			}
		})
	}
}

// TestHeaderSizes pins the per-type header overhead.
func TestHeaderSizes(t *testing.T) {
	testCases := []struct {
		typ  uint8
		want int
	}{
		{protocol.TypeNone, 9},
		{protocol.TypeIPv4, 13},
		{protocol.TypeIPv6, 25},
		{0x7f, 0},
	}

	for _, tc := range testCases {
		if got := protocol.HeaderSize(tc.typ); got != tc.want {
			t.Errorf("HeaderSize(0x%02x) = %d, want %d", tc.typ, got, tc.want)
		}
	}

	if protocol.MaxHeaderSize != 25 {
		t.Errorf("MaxHeaderSize = %d, want 25", protocol.MaxHeaderSize)
	}
}

// TestFrameType verifies address type selection.
func TestFrameType(t *testing.T) {
	testCases := []struct {
		addr string
		want uint8
	}{
		{"", protocol.TypeNone},
		{"192.168.1.1", protocol.TypeIPv4},
		{"::1", protocol.TypeIPv6},
		{"::ffff:10.0.0.1", protocol.TypeIPv6},
	}

	for _, tc := range testCases {
		f := &protocol.Frame{}
		if tc.addr != "" {
			f.Addr = netip.MustParseAddr(tc.addr)
		}
		if got := f.Type(); got != tc.want {
			t.Errorf("Type(%q) = %d, want %d", tc.addr, got, tc.want)
		}
	}
}

// TestEncodeTooLarge verifies that a frame that does not fit leaves the ring
// untouched.
func TestEncodeTooLarge(t *testing.T) {
	r := ringbuf.New(ringbuf.MinCapacity)

	f := &protocol.Frame{
		Addr:    netip.MustParseAddr("10.0.0.1"),
		Port:    9,
		Payload: make([]byte, ringbuf.MinCapacity-protocol.HeaderSize(protocol.TypeIPv4)+1),
	}

	err := protocol.Encode(r, f)
	if !errors.Is(err, protocol.ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("failed encode wrote %d bytes", r.Len())
	}

	// Exactly fitting is fine.
	f.Payload = f.Payload[:len(f.Payload)-1]
	if err := protocol.Encode(r, f); err != nil {
		t.Fatalf("exact fit failed: %v", err)
	}
	if r.SpaceLeft() != 0 {
		t.Fatalf("expected full ring, %d bytes free", r.SpaceLeft())
	}
}

// TestDecodeEmpty verifies that decoding an empty ring fails cleanly.
func TestDecodeEmpty(t *testing.T) {
	r := ringbuf.New(0)

	if _, err := protocol.Decode(r); !errors.Is(err, protocol.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

// TestDecodeUnknownType verifies that a corrupt tag is reported and nothing
// is consumed.
func TestDecodeUnknownType(t *testing.T) {
	r := ringbuf.New(0)
	if err := r.Write([]byte{0x7f, 0, 0, 0, 0, 0, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}

	if _, err := protocol.Decode(r); !errors.Is(err, protocol.ErrUnknownAddrType) {
		t.Fatalf("expected ErrUnknownAddrType, got %v", err)
	}
	if r.Len() != 9 {
		t.Fatalf("decode consumed bytes on error: %d left", r.Len())
	}
}

// TestDecodePartialFrame verifies that a header whose payload is not fully
// present is not consumed.
func TestDecodePartialFrame(t *testing.T) {
	r := ringbuf.New(0)
	f := &protocol.Frame{Addr: netip.MustParseAddr("10.0.0.1"), Port: 1, Payload: []byte("abcdef")}
	if err := protocol.Encode(r, f); err != nil {
		t.Fatal(err)
	}

	// Rebuild a ring holding everything but the last payload byte.
	whole := make([]byte, r.Len())
	if err := r.Read(whole); err != nil {
		t.Fatal(err)
	}
	if err := r.Write(whole[:len(whole)-1]); err != nil {
		t.Fatal(err)
	}

	if _, err := protocol.Decode(r); !errors.Is(err, protocol.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	if r.Len() != len(whole)-1 {
		t.Fatalf("decode consumed bytes on error")
	}
}

// TestDecodeFIFO verifies that heterogeneous frames come back in order.
func TestDecodeFIFO(t *testing.T) {
	r := ringbuf.New(4096)
	frames := []*protocol.Frame{
		{Addr: netip.MustParseAddr("10.0.0.1"), Port: 1, Payload: []byte("one")},
		{Addr: netip.MustParseAddr("2001:db8::2"), Port: 2, Payload: []byte("two")},
		{Port: 3, Payload: []byte("three")},
		{Addr: netip.MustParseAddr("10.0.0.4"), Port: 4, Payload: nil},
	}

	for _, f := range frames {
		if err := protocol.Encode(r, f); err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
	}

	for i, want := range frames {
		got, err := protocol.Decode(r)
		if err != nil {
			t.Fatalf("frame %d: Decode failed: %v", i, err)
		}
		if got.Addr != want.Addr || got.Port != want.Port || !bytes.Equal(got.Payload, want.Payload) {
			t.Errorf("frame %d mismatch: got %+v, want %+v", i, got, want)
		}
	}
}

// TestDecodePreservesPayload verifies that the payload is an owned copy.
func TestDecodePreservesPayload(t *testing.T) {
	r := ringbuf.New(0)
	payload := []byte("original")
	if err := protocol.Encode(r, &protocol.Frame{Payload: payload}); err != nil {
		t.Fatal(err)
	}

	payload[0] = 'X'

	decoded, err := protocol.Decode(r)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(decoded.Payload, []byte("original")) {
		t.Errorf("Payload was aliased: got %q", decoded.Payload)
	}
}
