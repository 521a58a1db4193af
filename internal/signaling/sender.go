package signaling

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/1ureka/pktpeer/internal/transport"
)

// sender serializes outgoing signaling messages to the WebSocket.
// Candidates gathered before the local description has been sent are held
// back, since the remote side cannot apply a candidate before the SDP.
type sender struct {
	n    transport.Negotiator
	conn *websocket.Conn

	mu        sync.Mutex
	described bool
	pending   []string
}

// send writes a signaling message to the WebSocket. Callers hold s.mu.
func (s *sender) send(msg message) error {
	return s.conn.WriteJSON(msg)
}

// sendDescription sends an offer or answer, then any candidates that were
// gathered while it was being prepared.
func (s *sender) sendDescription(msg message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.send(msg); err != nil {
		return err
	}
	s.described = true

	pending := s.pending
	s.pending = nil
	for _, c := range pending {
		if err := s.send(message{Type: msgTypeCandidate, Candidate: c}); err != nil {
			return err
		}
	}
	return nil
}

// sendOffer creates an SDP offer, sets it as local description, and sends it.
func (s *sender) sendOffer() error {
	offer, err := s.n.CreateOffer()
	if err != nil {
		return err
	}

	if err := s.n.SetLocalDescription(offer); err != nil {
		return err
	}

	return s.sendDescription(message{Type: msgTypeOffer, SDP: offer.SDP})
}

// sendAnswer creates an SDP answer, sets it as local description, and sends it.
func (s *sender) sendAnswer() error {
	answer, err := s.n.CreateAnswer()
	if err != nil {
		return err
	}

	if err := s.n.SetLocalDescription(answer); err != nil {
		return err
	}

	return s.sendDescription(message{Type: msgTypeAnswer, SDP: answer.SDP})
}

// sendCandidate sends an ICE candidate, or queues it until the local
// description is out.
func (s *sender) sendCandidate(candidate string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.described {
		s.pending = append(s.pending, candidate)
		return nil
	}
	return s.send(message{Type: msgTypeCandidate, Candidate: candidate})
}
