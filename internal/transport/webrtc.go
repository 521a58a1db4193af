package transport

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/pktpeer/internal/util"
)

const (
	highWaterMark      = 256 * 1024 // block sends while bufferedAmount exceeds this
	lowWaterMark       = 64 * 1024  // resume sending once bufferedAmount drops below this
	rtcInboxSize       = 256        // inbound datagram backlog
	defaultBindTimeout = 60 * time.Second
)

// STUN servers for ICE candidate gathering. No TURN: the transport is meant
// for direct P2P connectivity.
var stunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Negotiator is the signaling surface of a WebRTC socket.
type Negotiator interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(sdp webrtc.SessionDescription) error
	SetRemoteDescription(sdp webrtc.SessionDescription) error
	OnICECandidate(fn func(*webrtc.ICECandidate))
	AddICECandidate(candidate webrtc.ICECandidateInit) error

	// Ready is closed once the DataChannel is open.
	Ready() <-chan struct{}
}

// Signaler runs the SDP/ICE exchange for one socket and returns once the
// DataChannel is open or the exchange failed.
type Signaler interface {
	Signal(ctx context.Context, n Negotiator) error
}

// WebRTCConfig configures the WebRTC transport.
type WebRTCConfig struct {
	Signaler    Signaler
	ICEServers  []string      // defaults to public STUN servers
	BindTimeout time.Duration // how long Bind may spend signaling
}

type webrtcFactory struct {
	ctx context.Context
	cfg WebRTCConfig
}

// NewWebRTC returns a Factory whose sockets carry datagrams over an
// unordered, zero-retransmit DataChannel. Each bound socket talks to exactly
// one remote peer, found through cfg.Signaler. Sockets are torn down when ctx
// is cancelled.
func NewWebRTC(ctx context.Context, cfg WebRTCConfig) Factory {
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = stunServers
	}
	if cfg.BindTimeout <= 0 {
		cfg.BindTimeout = defaultBindTimeout
	}
	return &webrtcFactory{ctx: ctx, cfg: cfg}
}

func (f *webrtcFactory) Create(family Family) (Socket, error) {
	if f.cfg.Signaler == nil {
		return nil, errors.New("transport: webrtc factory has no signaler")
	}

	var se webrtc.SettingEngine
	switch family {
	case FamilyIPv4:
		se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	case FamilyIPv6:
		se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP6})
	default:
		se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6})
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: f.cfg.ICEServers},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("transport: create peer connection: %w", err)
	}

	ctx, cancel := context.WithCancel(f.ctx)
	s := &rtcSocket{
		factory:     f,
		pc:          pc,
		ctx:         ctx,
		cancel:      cancel,
		openSignal:  make(chan struct{}),
		inbox:       make(chan []byte, rtcInboxSize),
		drainSignal: make(chan struct{}, 1),
		pcState:     webrtc.PeerConnectionStateNew,
	}

	pc.OnConnectionStateChange(s.setConnectionState)

	return s, nil
}

// rtcSocket wraps a single PeerConnection + DataChannel pair. Its lifecycle
// is governed by the DataChannel state and the factory context.
type rtcSocket struct {
	factory *webrtcFactory

	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel
	id uint16

	ctx    context.Context
	cancel context.CancelFunc

	openSignal  chan struct{}
	inbox       chan []byte
	drainSignal chan struct{}

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
	remote  netip.AddrPort
}

// Bind opens the pre-negotiated DataChannel with ID port and blocks while the
// signaler connects it to the remote peer.
func (s *rtcSocket) Bind(port int) error {
	if port < 0 || port > 65534 {
		return fmt.Errorf("transport: invalid DataChannel id %d", port)
	}
	if s.dc != nil {
		return errors.New("transport: socket already bound")
	}

	dc, err := newDataChannel(s.pc, uint16(port))
	if err != nil {
		return fmt.Errorf("transport: create data channel: %w", err)
	}
	s.dc = dc
	s.id = uint16(port)

	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() {
			s.mu.Lock()
			s.remote = s.selectedRemote()
			s.mu.Unlock()
			close(s.openSignal)
		})
	})

	// DC close -> cancel socket context.
	dc.OnClose(func() {
		util.LogDebug("DataChannel %d closed", port)
		s.cancel()
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case s.inbox <- msg.Data:
		default:
			util.LogDebug("DataChannel %d inbox full, dropping %d bytes", port, len(msg.Data))
		}
	})

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case s.drainSignal <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithTimeout(s.ctx, s.factory.cfg.BindTimeout)
	defer cancel()

	if err := s.factory.cfg.Signaler.Signal(ctx, s); err != nil {
		return fmt.Errorf("transport: signaling: %w", err)
	}

	select {
	case <-s.openSignal:
		return nil
	default:
		return errors.New("transport: signaling finished without an open channel")
	}
}

func (s *rtcSocket) TryReceive(buf []byte) (int, netip.AddrPort, error) {
	if err := s.ready(); err != nil {
		return 0, netip.AddrPort{}, err
	}

	select {
	case data := <-s.inbox:
		return copy(buf, data), s.remoteAddr(), nil
	default:
	}

	select {
	case <-s.ctx.Done():
		return 0, netip.AddrPort{}, ErrClosed
	default:
		return 0, netip.AddrPort{}, ErrWouldBlock
	}
}

func (s *rtcSocket) Receive(buf []byte) (int, netip.AddrPort, error) {
	if err := s.ready(); err != nil {
		return 0, netip.AddrPort{}, err
	}

	select {
	case data := <-s.inbox:
		return copy(buf, data), s.remoteAddr(), nil
	case <-s.ctx.Done():
		return 0, netip.AddrPort{}, ErrClosed
	}
}

// SendTo sends one message on the channel. The channel has a single remote,
// so to only needs to be a valid address. Sends wait for the buffered amount
// to drain below the low-water mark when it is above the high-water mark.
func (s *rtcSocket) SendTo(buf []byte, to netip.AddrPort) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if !to.Addr().IsValid() {
		return 0, errors.New("transport: invalid destination address")
	}

	if s.dc.BufferedAmount() > uint64(highWaterMark) {
		select {
		case <-s.drainSignal:
		case <-s.ctx.Done():
			return 0, ErrClosed
		}
	}

	if err := s.dc.Send(buf); err != nil {
		return 0, fmt.Errorf("transport: send: %w", err)
	}
	return len(buf), nil
}

func (s *rtcSocket) LocalAddr() netip.AddrPort {
	if s.dc == nil {
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(netip.IPv4Unspecified(), s.id)
}

// Close shuts down the DataChannel and PeerConnection.
func (s *rtcSocket) Close() error {
	s.cancel()
	if s.dc == nil {
		return s.pc.Close()
	}
	return errors.Join(s.dc.Close(), s.pc.Close())
}

// setConnectionState records the PeerConnection state. A failed or closed
// connection closes the socket, which can happen before the DataChannel
// itself notices that ICE is gone.
func (s *rtcSocket) setConnectionState(state webrtc.PeerConnectionState) {
	util.LogDebug("PeerConnection state: %s", state.String())
	s.mu.Lock()
	s.pcState = state
	s.mu.Unlock()

	switch state {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		s.cancel()
	}
}

func (s *rtcSocket) connectionState() webrtc.PeerConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pcState
}

func (s *rtcSocket) ready() error {
	select {
	case <-s.ctx.Done():
		return ErrClosed
	default:
	}

	switch s.connectionState() {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		return ErrClosed
	}

	select {
	case <-s.openSignal:
		return nil
	default:
		return ErrNotBound
	}
}

func (s *rtcSocket) remoteAddr() netip.AddrPort {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remote
}

// selectedRemote returns the remote side of the selected ICE candidate pair.
// mDNS candidates have no parseable address and yield the zero value.
func (s *rtcSocket) selectedRemote() netip.AddrPort {
	sctp := s.pc.SCTP()
	if sctp == nil {
		return netip.AddrPort{}
	}
	pair, err := sctp.Transport().ICETransport().GetSelectedCandidatePair()
	if err != nil || pair == nil || pair.Remote == nil {
		return netip.AddrPort{}
	}
	addr, err := netip.ParseAddr(pair.Remote.Address)
	if err != nil {
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(addr.Unmap(), pair.Remote.Port)
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// Ready returns a channel that is closed when the DataChannel is open.
func (s *rtcSocket) Ready() <-chan struct{} {
	return s.openSignal
}

// CreateOffer generates an SDP offer.
func (s *rtcSocket) CreateOffer() (webrtc.SessionDescription, error) {
	return s.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (s *rtcSocket) CreateAnswer() (webrtc.SessionDescription, error) {
	return s.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (s *rtcSocket) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return s.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (s *rtcSocket) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return s.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (s *rtcSocket) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	s.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (s *rtcSocket) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return s.pc.AddICECandidate(candidate)
}

// newDataChannel creates a pre-negotiated, unordered DataChannel that never
// retransmits, which gives it datagram semantics. Negotiated mode lets both
// sides create the channel independently without relying on OnDataChannel.
func newDataChannel(pc *webrtc.PeerConnection, id uint16) (*webrtc.DataChannel, error) {
	ordered := false
	negotiated := true
	maxRetransmits := uint16(0)

	return pc.CreateDataChannel("pktpeer", &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
		Negotiated:     &negotiated,
		ID:             &id,
	})
}
