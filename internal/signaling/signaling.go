// Package signaling carries the SDP/ICE exchange for the WebRTC transport
// over a short-lived WebSocket. The host side listens and checks a PIN; the
// client side dials. Either way the WebSocket is closed as soon as the
// DataChannel is open.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/pktpeer/internal/transport"
	"github.com/1ureka/pktpeer/internal/util"
)

// pinLength is the number of digits in a generated PIN.
const pinLength = 6

// Host is the listening side of signaling. It sends the offer.
type Host struct {
	Addr string // listen address, ":0" when empty
	PIN  string // generated when empty

	// OnListen, if set, is called once the WebSocket server is listening.
	OnListen func(port int, pin string)
}

// Signal starts a WebSocket server, waits for a client with the right PIN and
// negotiates n with it.
func (h *Host) Signal(ctx context.Context, n transport.Negotiator) error {
	pin := h.PIN
	if pin == "" {
		pin = generatePIN(pinLength)
	}

	srv := newServer(pin)
	port, err := srv.start(h.Addr)
	if err != nil {
		return err
	}
	defer srv.close()

	if h.OnListen != nil {
		h.OnListen(port, pin)
	}
	util.LogInfo("signaling server listening on port %d", port)

	conn, err := srv.waitForClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to wait for client: %w", err)
	}
	defer conn.Close()
	util.LogDebug("signaling client connected")

	return exchange(ctx, n, conn, true)
}

// Client is the dialing side of signaling. It answers the host's offer.
type Client struct {
	URL string // ws://host:port/ws
	PIN string // appended as the pin query parameter when set
}

// Signal dials the host and negotiates n with it.
func (c *Client) Signal(ctx context.Context, n transport.Negotiator) error {
	target, err := c.target()
	if err != nil {
		return err
	}

	conn, err := connect(ctx, target)
	if err != nil {
		return err
	}
	defer conn.Close()
	util.LogDebug("WS connected: %s", c.URL)

	return exchange(ctx, n, conn, false)
}

func (c *Client) target() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("invalid signaling URL: %w", err)
	}
	if c.PIN != "" {
		q := u.Query()
		q.Set("pin", c.PIN)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// exchange runs the SDP/ICE exchange on conn until n reports ready, the
// WebSocket fails, or ctx is done. The offerer sends the first message.
func exchange(ctx context.Context, n transport.Negotiator, conn *websocket.Conn, offerer bool) error {
	s := &sender{n: n, conn: conn}
	r := &receiver{n: n, conn: conn, sender: s}

	n.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		// Held by the sender until the local description is out. A lost
		// candidate only narrows the pair search.
		_ = s.sendCandidate(string(data))
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.watch() // exits when conn is closed by the caller
	}()

	if offerer {
		if err := s.sendOffer(); err != nil {
			return fmt.Errorf("failed to send offer: %w", err)
		}
	}

	select {
	case <-n.Ready():
		util.LogDebug("DataChannel established, closing WS")
		return nil

	case err := <-errCh:
		// The peer may hang up right after its side opened.
		select {
		case <-n.Ready():
			return nil
		default:
		}
		return fmt.Errorf("signaling failed: %w", err)

	case <-ctx.Done():
		return ctx.Err()
	}
}
