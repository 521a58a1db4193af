//go:build unix

package transport

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

type udpFactory struct{}

// NewUDP returns a Factory for kernel UDP sockets.
func NewUDP() Factory {
	return udpFactory{}
}

// Create opens a non-blocking datagram socket. FamilyAny prefers a dual-stack
// IPv6 socket and falls back to IPv4 on hosts without IPv6 support.
func (udpFactory) Create(family Family) (Socket, error) {
	domain := unix.AF_INET6
	if family == FamilyIPv4 {
		domain = unix.AF_INET
	}

	fd, err := unix.Socket(domain, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil && family == FamilyAny && errors.Is(err, unix.EAFNOSUPPORT) {
		domain = unix.AF_INET
		fd, err = unix.Socket(domain, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	}
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}

	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("setnonblock", err)
	}

	if domain == unix.AF_INET6 {
		v6only := 0
		if family == FamilyIPv6 {
			v6only = 1
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, v6only); err != nil {
			unix.Close(fd)
			return nil, os.NewSyscallError("setsockopt", err)
		}
	}

	return &udpSocket{fd: fd, domain: domain}, nil
}

// udpSocket starts life as a raw descriptor. Bind hands it to the runtime
// poller as a *net.UDPConn; after that all I/O goes through the RawConn so
// receive can be attempted exactly once without parking.
type udpSocket struct {
	fd     int
	domain int

	conn   *net.UDPConn
	raw    syscall.RawConn
	local  netip.AddrPort
	closed bool
}

func (s *udpSocket) Bind(port int) error {
	switch {
	case s.closed:
		return ErrClosed
	case s.conn != nil:
		return errors.New("transport: socket already bound")
	case port < 0 || port > 65535:
		return fmt.Errorf("transport: invalid port %d", port)
	}

	var sa unix.Sockaddr = &unix.SockaddrInet4{Port: port}
	if s.domain == unix.AF_INET6 {
		sa = &unix.SockaddrInet6{Port: port}
	}
	if err := unix.Bind(s.fd, sa); err != nil {
		return os.NewSyscallError("bind", err)
	}

	// FilePacketConn duplicates the descriptor, so the original is closed
	// whatever the outcome.
	f := os.NewFile(uintptr(s.fd), "udp")
	pc, err := net.FilePacketConn(f)
	f.Close()
	s.fd = -1
	if err != nil {
		s.closed = true
		return err
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		s.closed = true
		return fmt.Errorf("transport: unexpected packet conn %T", pc)
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		s.closed = true
		return err
	}

	s.conn = conn
	s.raw = raw
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		s.local = addr.AddrPort()
	}
	return nil
}

func (s *udpSocket) TryReceive(buf []byte) (int, netip.AddrPort, error) {
	return s.recv(buf, false)
}

func (s *udpSocket) Receive(buf []byte) (int, netip.AddrPort, error) {
	return s.recv(buf, true)
}

func (s *udpSocket) recv(buf []byte, block bool) (int, netip.AddrPort, error) {
	if err := s.ready(); err != nil {
		return 0, netip.AddrPort{}, err
	}

	var (
		n    int
		from unix.Sockaddr
		rerr error
	)
	err := s.raw.Read(func(fd uintptr) bool {
		for {
			n, from, rerr = unix.Recvfrom(int(fd), buf, unix.MSG_DONTWAIT)
			if !errors.Is(rerr, unix.EINTR) {
				break
			}
		}
		// Returning false parks the goroutine until the fd is readable.
		return !block || !errors.Is(rerr, unix.EAGAIN)
	})
	if err != nil {
		return 0, netip.AddrPort{}, s.wrapConnErr(err)
	}

	switch {
	case errors.Is(rerr, unix.EAGAIN):
		return 0, netip.AddrPort{}, ErrWouldBlock
	case rerr != nil:
		return 0, netip.AddrPort{}, os.NewSyscallError("recvfrom", rerr)
	}
	return n, addrPortFromSockaddr(from), nil
}

func (s *udpSocket) SendTo(buf []byte, to netip.AddrPort) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	sa, err := s.sockaddr(to)
	if err != nil {
		return 0, err
	}

	var werr error
	err = s.raw.Write(func(fd uintptr) bool {
		for {
			werr = unix.Sendto(int(fd), buf, 0, sa)
			if !errors.Is(werr, unix.EINTR) {
				break
			}
		}
		return !errors.Is(werr, unix.EAGAIN)
	})
	if err != nil {
		return 0, s.wrapConnErr(err)
	}
	if werr != nil {
		return 0, os.NewSyscallError("sendto", werr)
	}
	return len(buf), nil
}

func (s *udpSocket) LocalAddr() netip.AddrPort {
	return s.local
}

func (s *udpSocket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.conn != nil {
		return s.conn.Close()
	}
	if s.fd >= 0 {
		err := unix.Close(s.fd)
		s.fd = -1
		return err
	}
	return nil
}

func (s *udpSocket) ready() error {
	switch {
	case s.closed:
		return ErrClosed
	case s.raw == nil:
		return ErrNotBound
	}
	return nil
}

func (s *udpSocket) wrapConnErr(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}

// sockaddr converts a destination for this socket's domain. IPv4 targets on
// an IPv6 socket are sent as IPv4-mapped addresses.
func (s *udpSocket) sockaddr(to netip.AddrPort) (unix.Sockaddr, error) {
	addr := to.Addr()
	if !addr.IsValid() {
		return nil, errors.New("transport: invalid destination address")
	}

	if s.domain == unix.AF_INET {
		addr = addr.Unmap()
		if !addr.Is4() {
			return nil, fmt.Errorf("transport: cannot send to %s from an IPv4 socket", addr)
		}
		return &unix.SockaddrInet4{Port: int(to.Port()), Addr: addr.As4()}, nil
	}
	return &unix.SockaddrInet6{Port: int(to.Port()), Addr: addr.As16()}, nil
}

// addrPortFromSockaddr reports IPv4-mapped sources as plain IPv4. Unknown
// families yield the zero AddrPort.
func addrPortFromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr).Unmap(), uint16(sa.Port))
	default:
		return netip.AddrPort{}
	}
}
