package main

import (
	"bytes"
	"context"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/1ureka/pktpeer/internal/peer"
	"github.com/1ureka/pktpeer/internal/transport"
)

func TestNormalizeWSURL(t *testing.T) {
	testCases := []struct {
		raw, want, pin string
		wantErr        bool
	}{
		{raw: "ws://127.0.0.1:8080", want: "ws://127.0.0.1:8080/ws"},
		{raw: "  wss://abc.devtunnels.ms/anything ", want: "wss://abc.devtunnels.ms/ws"},
		{raw: "https://abc.devtunnels.ms", want: "wss://abc.devtunnels.ms/ws"},
		{raw: "ws://h:1/ws?pin=123456", want: "ws://h:1/ws", pin: "123456"},
		{raw: "not a url", wantErr: true},
	}

	for _, tc := range testCases {
		got, pin, err := normalizeWSURL(tc.raw)
		if tc.wantErr {
			assert.Error(t, err, tc.raw)
			continue
		}
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got)
		assert.Equal(t, tc.pin, pin)
	}
}

func TestResolveAddrPort(t *testing.T) {
	ap, err := resolveAddrPort("10.0.0.5:5000")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddrPort("10.0.0.5:5000"), ap)

	ap, err = resolveAddrPort("[::1]:9")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddrPort("[::1]:9"), ap)

	_, err = resolveAddrPort("no-port")
	require.Error(t, err)
}

func TestNewLimiter(t *testing.T) {
	assert.Equal(t, rate.Inf, newLimiter(0).Limit())
	assert.Equal(t, rate.Limit(50), newLimiter(50).Limit())
	require.NoError(t, newLimiter(0).Wait(context.Background()))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, `"ping"`, preview([]byte("ping")))
	assert.Equal(t, "00ff", preview([]byte{0x00, 0xff}))
	assert.True(t, strings.HasSuffix(preview(bytes.Repeat([]byte("a"), 100)), "…"))
}

func TestPrintPacket(t *testing.T) {
	var buf bytes.Buffer
	printPacket(&buf, received{Payload: []byte("hi"), From: netip.MustParseAddrPort("10.0.0.5:5000")})
	assert.Contains(t, buf.String(), "10.0.0.5:5000")
	assert.Contains(t, buf.String(), `"hi"`)

	buf.Reset()
	printPacket(&buf, received{Payload: []byte("x")})
	assert.Contains(t, buf.String(), "unknown")
}

func TestSelftestMemoryCase(t *testing.T) {
	cases := selftestCases()
	require.Equal(t, "memory", cases[0].name)
	require.NoError(t, cases[0].run(context.Background()))
}

func TestServeEchoes(t *testing.T) {
	net := transport.NewMemoryNetwork()
	p := peer.New(net.Host(netip.MustParseAddr("10.0.0.1")))
	require.NoError(t, p.Listen(9000, 4096))
	defer p.Close()

	client, err := net.Host(netip.MustParseAddr("10.0.0.2")).Create(transport.FamilyAny)
	require.NoError(t, err)
	require.NoError(t, client.Bind(1234))
	defer client.Close()

	to := netip.MustParseAddrPort("10.0.0.1:9000")
	for _, m := range []string{"a", "b"} {
		_, err := client.SendTo([]byte(m), to)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	err = serve(ctx, p, listenHandler(&out, p, true))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"a"`)
	assert.Contains(t, lines[1], `"b"`)
	assert.Contains(t, lines[0], "10.0.0.2:1234")

	buf := make([]byte, 8)
	for _, want := range []string{"a", "b"} {
		n, _, err := client.TryReceive(buf)
		require.NoError(t, err)
		assert.Equal(t, want, string(buf[:n]))
	}
}

func TestListenEchoSkipsOversized(t *testing.T) {
	net := transport.NewMemoryNetwork()
	p := peer.New(net.Host(netip.MustParseAddr("10.0.0.1")))
	require.NoError(t, p.Listen(9000, 8192))
	defer p.Close()

	client, err := net.Host(netip.MustParseAddr("10.0.0.2")).Create(transport.FamilyAny)
	require.NoError(t, err)
	require.NoError(t, client.Bind(1234))
	defer client.Close()

	to := netip.MustParseAddrPort("10.0.0.1:9000")
	big := bytes.Repeat([]byte("x"), p.MaxPacketSize()+68)
	for _, m := range [][]byte{big, []byte("after")} {
		_, err := client.SendTo(m, to)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	require.NoError(t, serve(ctx, p, listenHandler(&out, p, true)))
	assert.True(t, p.IsListening())
	assert.Equal(t, 2, strings.Count(out.String(), "\n"), "both packets must be printed")

	// Only the packet within the limit comes back.
	buf := make([]byte, 64)
	n, _, err := client.TryReceive(buf)
	require.NoError(t, err)
	assert.Equal(t, "after", string(buf[:n]))
	_, _, err = client.TryReceive(buf)
	require.ErrorIs(t, err, transport.ErrWouldBlock)
}

func TestAwaitPacketTimeout(t *testing.T) {
	p := peer.New(transport.NewMemoryNetwork().Host(netip.MustParseAddr("10.0.0.1")))
	require.NoError(t, p.Listen(0, 1024))
	defer p.Close()

	_, err := awaitPacket(context.Background(), p, 20*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
