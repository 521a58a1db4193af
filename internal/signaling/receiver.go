package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/pktpeer/internal/transport"
)

// receiver applies inbound signaling messages to a Negotiator. Candidates
// that arrive before the remote description are held until it is set.
type receiver struct {
	n      transport.Negotiator
	conn   *websocket.Conn
	sender *sender

	remoteSet bool
	early     []webrtc.ICECandidateInit
}

// watch reads messages until the WebSocket fails or a message cannot be
// applied. It always returns a non-nil error.
func (r *receiver) watch() error {
	for {
		var msg message
		if err := r.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("failed to read WS message: %w", err)
		}

		switch msg.Type {
		// Offer: only the client receives one; it answers immediately.
		case msgTypeOffer:
			if err := r.setRemote(webrtc.SDPTypeOffer, msg.SDP); err != nil {
				return err
			}
			if err := r.sender.sendAnswer(); err != nil {
				return err
			}

		case msgTypeAnswer:
			if err := r.setRemote(webrtc.SDPTypeAnswer, msg.SDP); err != nil {
				return err
			}

		case msgTypeCandidate:
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
				return fmt.Errorf("failed to parse ICE candidate: %w", err)
			}
			if !r.remoteSet {
				r.early = append(r.early, init)
				continue
			}
			if err := r.n.AddICECandidate(init); err != nil {
				return err
			}
		}
	}
}

// setRemote applies the remote SDP and then any candidates held for it.
func (r *receiver) setRemote(typ webrtc.SDPType, sdp string) error {
	if err := r.n.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: sdp}); err != nil {
		return err
	}
	r.remoteSet = true

	early := r.early
	r.early = nil
	for _, c := range early {
		if err := r.n.AddICECandidate(c); err != nil {
			return err
		}
	}
	return nil
}
