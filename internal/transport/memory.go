package transport

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
)

// memoryInboxSize is the per-socket datagram backlog; arrivals beyond it are
// dropped like a full kernel receive queue.
const memoryInboxSize = 1024

// MemoryNetwork is an in-process datagram network. Each host address gets
// its own Factory; sockets bound on any host can reach each other.
type MemoryNetwork struct {
	mu       sync.Mutex
	sockets  map[netip.AddrPort]*memorySocket
	nextPort uint16
}

// NewMemoryNetwork creates an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		sockets:  make(map[netip.AddrPort]*memorySocket),
		nextPort: 49152,
	}
}

// Host returns a Factory whose sockets live at addr.
func (n *MemoryNetwork) Host(addr netip.Addr) Factory {
	return &memoryHost{network: n, addr: addr.Unmap()}
}

// Inject delivers a datagram to the socket bound at to as if sent from from.
// It reports whether a socket was there to take it.
func (n *MemoryNetwork) Inject(from, to netip.AddrPort, payload []byte) bool {
	n.mu.Lock()
	s, ok := n.sockets[to]
	n.mu.Unlock()

	if !ok {
		return false
	}
	return s.deliver(from, payload)
}

func (n *MemoryNetwork) bind(s *memorySocket, port uint16) (netip.AddrPort, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if port == 0 {
		for i := 0; i < 16384; i++ {
			candidate := netip.AddrPortFrom(s.host.addr, n.nextPort)
			n.nextPort++
			if n.nextPort == 0 {
				n.nextPort = 49152
			}
			if _, taken := n.sockets[candidate]; !taken {
				n.sockets[candidate] = s
				return candidate, nil
			}
		}
		return netip.AddrPort{}, errors.New("transport: no free ephemeral port")
	}

	ap := netip.AddrPortFrom(s.host.addr, port)
	if _, taken := n.sockets[ap]; taken {
		return netip.AddrPort{}, fmt.Errorf("transport: address %s already in use", ap)
	}
	n.sockets[ap] = s
	return ap, nil
}

func (n *MemoryNetwork) unbind(ap netip.AddrPort, s *memorySocket) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.sockets[ap] == s {
		delete(n.sockets, ap)
	}
}

type memoryHost struct {
	network *MemoryNetwork
	addr    netip.Addr
}

func (h *memoryHost) Create(family Family) (Socket, error) {
	switch {
	case family == FamilyIPv4 && !h.addr.Is4():
		return nil, fmt.Errorf("transport: host %s has no IPv4 address", h.addr)
	case family == FamilyIPv6 && !h.addr.Is6():
		return nil, fmt.Errorf("transport: host %s has no IPv6 address", h.addr)
	}

	return &memorySocket{
		host:  h,
		inbox: make(chan memoryDatagram, memoryInboxSize),
		done:  make(chan struct{}),
	}, nil
}

type memoryDatagram struct {
	from    netip.AddrPort
	payload []byte
}

type memorySocket struct {
	host  *memoryHost
	inbox chan memoryDatagram

	mu        sync.Mutex
	local     netip.AddrPort
	done      chan struct{}
	closeOnce sync.Once
}

func (s *memorySocket) Bind(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("transport: invalid port %d", port)
	}

	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.local.IsValid() {
		return errors.New("transport: socket already bound")
	}
	ap, err := s.host.network.bind(s, uint16(port))
	if err != nil {
		return err
	}
	s.local = ap
	return nil
}

// deliver copies payload into the inbox; a full inbox or a closed socket
// drops it.
func (s *memorySocket) deliver(from netip.AddrPort, payload []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	d := memoryDatagram{from: from, payload: append([]byte(nil), payload...)}
	select {
	case s.inbox <- d:
		return true
	default:
		return false
	}
}

func (s *memorySocket) TryReceive(buf []byte) (int, netip.AddrPort, error) {
	if err := s.ready(); err != nil {
		return 0, netip.AddrPort{}, err
	}

	select {
	case d := <-s.inbox:
		return copy(buf, d.payload), d.from, nil
	default:
		return 0, netip.AddrPort{}, ErrWouldBlock
	}
}

func (s *memorySocket) Receive(buf []byte) (int, netip.AddrPort, error) {
	if err := s.ready(); err != nil {
		return 0, netip.AddrPort{}, err
	}

	select {
	case d := <-s.inbox:
		return copy(buf, d.payload), d.from, nil
	case <-s.done:
		return 0, netip.AddrPort{}, ErrClosed
	}
}

func (s *memorySocket) SendTo(buf []byte, to netip.AddrPort) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if !to.Addr().IsValid() {
		return 0, errors.New("transport: invalid destination address")
	}

	to = netip.AddrPortFrom(to.Addr().Unmap(), to.Port())
	// Unreachable destinations drop silently, as UDP does.
	s.host.network.Inject(s.LocalAddr(), to, buf)
	return len(buf), nil
}

func (s *memorySocket) LocalAddr() netip.AddrPort {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

func (s *memorySocket) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		local := s.local
		s.mu.Unlock()
		if local.IsValid() {
			s.host.network.unbind(local, s)
		}
	})
	return nil
}

func (s *memorySocket) ready() error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	if !s.LocalAddr().IsValid() {
		return ErrNotBound
	}
	return nil
}
