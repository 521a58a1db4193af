//go:build unix

package peer

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/pktpeer/internal/transport"
)

func TestUDPLoopback(t *testing.T) {
	loopback := netip.MustParseAddr("127.0.0.1")

	a := New(transport.NewUDP(), WithFamily(transport.FamilyIPv4))
	b := New(transport.NewUDP(), WithFamily(transport.FamilyIPv4))
	require.NoError(t, a.Listen(0, 4096))
	require.NoError(t, b.Listen(0, 4096))
	defer a.Close()
	defer b.Close()

	a.SetSendAddress(loopback, b.LocalPort())
	require.NoError(t, a.PutPacket([]byte("over the wire")))

	require.NoError(t, b.Wait())
	pkt, err := b.Packet()
	require.NoError(t, err)
	assert.Equal(t, "over the wire", string(pkt))
	assert.Equal(t, loopback, b.PacketAddr())
	assert.Equal(t, a.LocalPort(), b.PacketPort())

	// Reply to whoever sent it.
	b.SetSendAddress(b.PacketAddr(), b.PacketPort())
	require.NoError(t, b.PutPacket(nil))
	require.NoError(t, a.Wait())
	pkt, err = a.Packet()
	require.NoError(t, err)
	assert.Empty(t, pkt)
}
