package dispatch

import (
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/gameserver"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/lobby"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/peer"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/relay"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/sender"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/transport"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/wire"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

type harness struct {
	d       *Dispatcher
	peers   *peer.Registry
	lobbies *lobby.Manager
	servers *gameserver.Registry
	relays  *relay.Manager
	sock    *transport.Socket
	client  *net.UDPConn
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := testLog()
	sock, err := transport.Listen(log, "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { sock.Close() })

	client, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	h := &harness{
		peers:   peer.New(log),
		lobbies: lobby.New(log),
		servers: gameserver.New(log),
		relays:  relay.New(log),
		sock:    sock,
		client:  client,
	}
	snd := sender.New(log, sock)
	h.d = New(log, h.peers, h.lobbies, h.servers, h.relays, snd)
	return h
}

func (h *harness) readEnvelope(t *testing.T) *wire.Envelope {
	t.Helper()
	h.client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, err := h.client.Read(buf)
	require.NoError(t, err)
	env, err := wire.Decode(buf[:n])
	require.NoError(t, err)
	return env
}

func TestAnnouncePingRegistersAndReplies(t *testing.T) {
	h := newHarness(t)
	clientAddr := h.client.LocalAddr().(*net.UDPAddr)

	h.d.process(mustEncode(t, &wire.Envelope{
		SourceID: 1001, Variant: wire.VariantAnnounce,
		Announce: &wire.AnnouncePayload{Kind: wire.AnnouncePing, AppID: 730},
	}), clientAddr)

	env := h.readEnvelope(t)
	require.Equal(t, wire.VariantAnnounce, env.Variant)
	require.Equal(t, wire.AnnouncePong, env.Announce.Kind)
	require.Empty(t, env.Announce.Peers)

	p, ok := h.peers.Get(1001)
	require.True(t, ok)
	require.Equal(t, uint32(730), p.AppID)
}

func TestLowLevelDisconnectIsObservationalOnly(t *testing.T) {
	h := newHarness(t)
	clientAddr := h.client.LocalAddr().(*net.UDPAddr)
	require.NoError(t, h.peers.Upsert(peer.Peer{PeerID: 1001, AppID: 730, Endpoint: clientAddr}))
	_, _, err := h.lobbies.CreateOrUpdate(lobby.Lobby{RoomID: 5, AppID: 730, Owner: 1001, Joinable: true})
	require.NoError(t, err)

	h.d.process(mustEncode(t, &wire.Envelope{
		SourceID: 1001, Variant: wire.VariantLowLevel,
		LowLevel: &wire.LowLevelPayload{Kind: wire.LowLevelDisconnect},
	}), clientAddr)

	// Disconnect logs only; removal is the reaper's job on its own timeout,
	// not an immediate side effect of this message (spec.md §4.4).
	_, ok := h.peers.Get(1001)
	require.True(t, ok)
	require.NotEmpty(t, h.lobbies.RoomsOf(1001))
}

func TestLobbyQueryReturnsMatches(t *testing.T) {
	h := newHarness(t)
	clientAddr := h.client.LocalAddr().(*net.UDPAddr)
	_, _, err := h.lobbies.CreateOrUpdate(lobby.Lobby{RoomID: 9, AppID: 730, Owner: 1, Joinable: true})
	require.NoError(t, err)

	h.d.process(mustEncode(t, &wire.Envelope{
		SourceID: 2, Variant: wire.VariantLobby,
		Lobby: &wire.LobbyPayload{RoomID: 0, AppID: 730},
	}), clientAddr)

	env := h.readEnvelope(t)
	require.Equal(t, wire.VariantLobby, env.Variant)
	require.Equal(t, uint64(9), env.Lobby.RoomID)
}

func TestLobbyCreateRequiresRegisteredSender(t *testing.T) {
	h := newHarness(t)
	clientAddr := h.client.LocalAddr().(*net.UDPAddr)

	// SourceID 1001 never announced, so it isn't in the peer registry.
	// spec.md §4.3's unknown-sender guard must drop this before it reaches
	// the lobby manager.
	h.d.process(mustEncode(t, &wire.Envelope{
		SourceID: 1001, Variant: wire.VariantLobby,
		Lobby: &wire.LobbyPayload{RoomID: 5000, AppID: 730, Joinable: true},
	}), clientAddr)

	_, _, err := h.lobbies.CreateOrUpdate(lobby.Lobby{RoomID: 5000, AppID: 730})
	require.NoError(t, err)
	require.Empty(t, h.lobbies.RoomsOf(1001))
}

func TestLobbyMessagesJoinRequiresRegisteredSender(t *testing.T) {
	h := newHarness(t)
	clientAddr := h.client.LocalAddr().(*net.UDPAddr)
	_, _, err := h.lobbies.CreateOrUpdate(lobby.Lobby{RoomID: 5000, AppID: 730, Owner: 1, Joinable: true})
	require.NoError(t, err)

	// SourceID 1001 is never registered as a peer; an unregistered sender
	// must not be able to join a lobby.
	h.d.process(mustEncode(t, &wire.Envelope{
		SourceID: 1001, Variant: wire.VariantLobbyMessages,
		LobbyMessage: &wire.LobbyMessagePayload{Type: wire.LobbyMsgJoin, RoomID: 5000},
	}), clientAddr)

	require.Empty(t, h.lobbies.RoomsOf(1001))
}

func TestRelayStreamOrientedRequiresRegisteredSender(t *testing.T) {
	h := newHarness(t)
	clientAddr := h.client.LocalAddr().(*net.UDPAddr)
	require.NoError(t, h.peers.Upsert(peer.Peer{PeerID: 2002, AppID: 730, Endpoint: clientAddr}))

	// SourceID 1001 is unregistered, even though the destination is valid.
	h.d.process(mustEncode(t, &wire.Envelope{
		SourceID: 1001, DestID: 2002, Variant: wire.VariantNetworkingSockets,
		NetworkingSockets: &wire.NetworkingSocketsPayload{Type: wire.NetSockRequest},
	}), clientAddr)

	require.Equal(t, uint64(0), h.relays.Find(1001, 2002, relay.KindStreamOriented))
}

func TestNetworkChanneledRelayRequiresRegisteredDest(t *testing.T) {
	h := newHarness(t)
	clientAddr := h.client.LocalAddr().(*net.UDPAddr)
	require.NoError(t, h.peers.Upsert(peer.Peer{PeerID: 1001, AppID: 730, Endpoint: clientAddr}))

	// Destination 2002 is not registered: dispatcher must drop, not panic or
	// create a dangling relay connection.
	h.d.process(mustEncode(t, &wire.Envelope{
		SourceID: 1001, DestID: 2002, Variant: wire.VariantNetworkChanneled,
		NetworkChanneled: &wire.NetworkChanneledPayload{Type: wire.NetChanData, Payload: []byte("x")},
	}), clientAddr)

	require.Equal(t, uint64(0), h.relays.Find(1001, 2002, relay.KindChanneled))
}

func mustEncode(t *testing.T, env *wire.Envelope) []byte {
	t.Helper()
	data, err := wire.Encode(env)
	require.NoError(t, err)
	return data
}
