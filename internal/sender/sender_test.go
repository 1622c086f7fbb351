package sender

import (
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/peer"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/transport"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/wire"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestPongEncodesPeerList(t *testing.T) {
	server, err := transport.Listen(testLog(), "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	client, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer client.Close()

	s := New(testLog(), server)
	s.Pong(client.LocalAddr().(*net.UDPAddr), 1001, []peer.Peer{
		{PeerID: 1002, AppID: 730, Endpoint: &net.UDPAddr{IP: net.IPv4(10, 0, 0, 5), Port: 27015}},
	})

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	n, err := client.Read(buf)
	require.NoError(t, err)

	env, err := wire.Decode(buf[:n])
	require.NoError(t, err)
	require.Equal(t, wire.VariantAnnounce, env.Variant)
	require.Equal(t, DefaultMasterServerID, env.SourceID)
	require.Equal(t, wire.AnnouncePong, env.Announce.Kind)
	require.Len(t, env.Announce.Peers, 1)
	require.Equal(t, uint64(1002), env.Announce.Peers[0].PeerID)
	a, b, c, d := wire.UnpackIPv4(env.Announce.Peers[0].IP)
	require.Equal(t, [4]byte{10, 0, 0, 5}, [4]byte{a, b, c, d})
}

func TestBroadcastLobbySkipsMissingEndpoints(t *testing.T) {
	server, err := transport.Listen(testLog(), "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	reg := peer.New(testLog())
	s := New(testLog(), server)

	// No peers registered at all: must not panic and must send nothing.
	s.BroadcastLobby(reg, []uint64{1, 2, 3}, 0, DefaultMasterServerID, wire.LobbyMessagePayload{Type: wire.LobbyMsgChat})
}
