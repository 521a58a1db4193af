// Package peer turns a connectionless socket into a FIFO queue of
// source-addressed packets. Received datagrams are drained into a ring
// buffer whenever the caller asks for packets, so arrival and consumption
// are decoupled without any background goroutine.
//
// A Peer is not safe for concurrent use; callers sharing one must serialize
// every call. Only Stats may be read from other goroutines.
package peer

import (
	"errors"
	"fmt"
	"net/netip"
	"runtime"

	"github.com/1ureka/pktpeer/internal/protocol"
	"github.com/1ureka/pktpeer/internal/ringbuf"
	"github.com/1ureka/pktpeer/internal/transport"
	"github.com/1ureka/pktpeer/internal/util"
)

// Peer is a datagram endpoint with a bounded receive queue.
type Peer struct {
	factory       transport.Factory
	family        transport.Family
	maxPacketSize int

	sock    transport.Socket // nil while unbound
	ring    *ringbuf.Ring
	queued  int    // complete frames in ring
	scratch []byte // one datagram

	lastAddr netip.Addr
	lastPort int

	destAddr netip.Addr
	destPort int

	stats util.Stats
}

// New creates an unbound peer that gets its sockets from factory.
func New(factory transport.Factory, opts ...Option) *Peer {
	p := &Peer{
		factory:       factory,
		maxPacketSize: DefaultMaxPacketSize,
		ring:          ringbuf.New(ringbuf.MinCapacity),
		scratch:       make([]byte, transport.MaxDatagramSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Listen closes any current socket, then creates and binds a new one on port
// (0 picks one). The receive queue is sized to the smallest power of two
// >= recvBufferSize.
func (p *Peer) Listen(port, recvBufferSize int) error {
	p.Close()

	sock, err := p.factory.Create(p.family)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCantCreate, err)
	}
	if err := sock.Bind(port); err != nil {
		sock.Close()
		return fmt.Errorf("%w: bind port %d: %w", ErrUnavailable, port, err)
	}

	p.sock = sock
	p.ring.Resize(recvBufferSize)
	p.queued = 0
	util.LogDebug("peer listening on %s (queue %d bytes)", sock.LocalAddr(), p.ring.Cap())
	return nil
}

// Close releases the socket and empties the queue. It is safe to call on an
// unbound or already closed peer.
func (p *Peer) Close() error {
	var err error
	if p.sock != nil {
		util.LogDebug("peer closing %s", p.sock.LocalAddr())
		err = p.sock.Close()
		p.sock = nil
	}
	p.ring.Resize(ringbuf.MinCapacity)
	p.queued = 0
	return err
}

// IsListening reports whether the peer holds a bound socket.
func (p *Peer) IsListening() bool {
	return p.sock != nil
}

// LocalPort returns the bound port, or 0 when unbound.
func (p *Peer) LocalPort() int {
	if p.sock == nil {
		return 0
	}
	return int(p.sock.LocalAddr().Port())
}

// AvailablePacketCount drains the socket and returns the number of queued
// packets. A socket failure during the drain closes the peer and yields 0.
func (p *Peer) AvailablePacketCount() int {
	if p.sock == nil {
		return 0
	}
	if err := p.poll(false); err != nil {
		return 0
	}
	return p.queued
}

// Packet drains the socket and dequeues the oldest packet. The returned
// payload is owned by the caller. Its source is available from PacketAddr
// and PacketPort until the next call to Packet.
func (p *Peer) Packet() ([]byte, error) {
	if p.sock != nil {
		if err := p.poll(false); err != nil {
			return nil, err
		}
	}
	if p.queued == 0 {
		return nil, ErrUnavailable
	}

	f, err := protocol.Decode(p.ring)
	if err != nil {
		// queued and the ring disagree; nothing after this point is trustworthy.
		return nil, p.fail("decode", err)
	}
	p.queued--

	p.lastAddr = f.Addr
	p.lastPort = int(f.Port)
	return f.Payload, nil
}

// PacketAddr returns the source address of the last dequeued packet. It is
// the zero Addr when the source family was unknown.
func (p *Peer) PacketAddr() netip.Addr {
	return p.lastAddr
}

// PacketPort returns the source port of the last dequeued packet.
func (p *Peer) PacketPort() int {
	return p.lastPort
}

// SetSendAddress sets the destination for subsequent PutPacket calls.
func (p *Peer) SetSendAddress(addr netip.Addr, port int) {
	p.destAddr = addr
	p.destPort = port
}

// MaxPacketSize returns the largest payload PutPacket accepts.
func (p *Peer) MaxPacketSize() int {
	return p.maxPacketSize
}

// PutPacket sends payload as one datagram to the configured destination,
// retrying while the transport would block. A payload over MaxPacketSize or
// an out-of-range destination port fails with ErrInvalidPacket and the
// socket stays open; any other send failure closes the peer.
func (p *Peer) PutPacket(payload []byte) error {
	if !p.destAddr.IsValid() {
		return ErrUnconfigured
	}
	if p.sock == nil {
		return fmt.Errorf("%w: not listening", ErrFailed)
	}
	if len(payload) > p.maxPacketSize {
		return fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrInvalidPacket, len(payload), p.maxPacketSize)
	}
	if p.destPort < 0 || p.destPort > 65535 {
		return fmt.Errorf("%w: destination port %d out of range", ErrInvalidPacket, p.destPort)
	}

	to := netip.AddrPortFrom(p.destAddr, uint16(p.destPort))
	for {
		_, err := p.sock.SendTo(payload, to)
		switch {
		case err == nil:
			p.stats.AddSent(len(payload))
			return nil
		case errors.Is(err, transport.ErrWouldBlock):
			runtime.Gosched()
		default:
			return p.fail("send", err)
		}
	}
}

// Wait blocks until at least one datagram has been received, then drains
// whatever else is ready.
func (p *Peer) Wait() error {
	if p.sock == nil {
		return fmt.Errorf("%w: not listening", ErrFailed)
	}
	return p.poll(true)
}

// Stats returns the peer's traffic counters.
func (p *Peer) Stats() *util.Stats {
	return &p.stats
}

// poll moves every datagram the socket has ready into the ring. With block
// set it first waits for one. Any receive error other than ErrWouldBlock
// closes the peer.
func (p *Peer) poll(block bool) error {
	if block {
		n, from, err := p.sock.Receive(p.scratch)
		switch {
		case err == nil:
			p.enqueue(from, p.scratch[:n])
		case !errors.Is(err, transport.ErrWouldBlock):
			return p.fail("receive", err)
		}
	}

	for {
		n, from, err := p.sock.TryReceive(p.scratch)
		switch {
		case err == nil:
			p.enqueue(from, p.scratch[:n])
		case errors.Is(err, transport.ErrWouldBlock):
			return nil
		default:
			return p.fail("receive", err)
		}
	}
}

// enqueue appends one datagram to the ring, or drops it if the whole frame
// does not fit.
func (p *Peer) enqueue(from netip.AddrPort, payload []byte) {
	f := &protocol.Frame{
		Addr:    from.Addr().Unmap(),
		Port:    uint32(from.Port()),
		Payload: payload,
	}

	if !fits(p.ring, f) {
		p.drop(from, len(payload))
		return
	}
	if err := protocol.Encode(p.ring, f); err != nil {
		p.drop(from, len(payload))
		return
	}

	p.queued++
	p.stats.AddRecv(len(payload))
}

// fits reports whether f can be queued whole. The header is reserved along
// with the payload so a frame is never partially written.
func fits(r *ringbuf.Ring, f *protocol.Frame) bool {
	return f.Size() <= r.SpaceLeft()
}

func (p *Peer) drop(from netip.AddrPort, size int) {
	p.stats.AddDropped()
	util.LogDebug("queue full, dropped %d bytes from %s", size, from)
}

// fail closes the peer after a socket error and wraps err in ErrFailed.
func (p *Peer) fail(op string, err error) error {
	util.LogDebug("peer %s failed: %v", op, err)
	p.Close()
	return fmt.Errorf("%w: %s: %w", ErrFailed, op, err)
}
