// Package sender implements the fan-out helpers the dispatcher calls to turn
// a registry-level effect (peer list, lobby broadcast, relay forward) into
// one or more outbound datagrams. It owns no state of its own beyond the
// source-id the server stamps on server-originated messages.
//
// Grounded on the teacher's internal/app.runPeer publish helper: resolve a
// list of targets, encode once, send to each, log and continue past
// individual send failures rather than aborting the fan-out.
package sender

import (
	"net"

	"github.com/sirupsen/logrus"

	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/peer"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/transport"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/wire"
)

// DefaultMasterServerID is the source-id stamped on every server-originated
// message, per spec.md §6. It's configurable per-instance via
// Sender.MasterServerID; this constant is only the value New initializes
// that field to.
const DefaultMasterServerID uint64 = 0x100001DEADBEEF

// Sender encodes and sends envelopes on behalf of the dispatcher.
type Sender struct {
	log    *logrus.Entry
	socket *transport.Socket

	// MasterServerID is the source-id stamped on every server-originated
	// message (pong, lobby broadcasts, query results). Defaults to
	// DefaultMasterServerID; the caller may override it after New.
	MasterServerID uint64
}

// New creates a Sender bound to socket.
func New(log *logrus.Entry, socket *transport.Socket) *Sender {
	return &Sender{
		log:            log.WithField("subsystem", "sender"),
		socket:         socket,
		MasterServerID: DefaultMasterServerID,
	}
}

func (s *Sender) sendTo(env *wire.Envelope, dest *net.UDPAddr) {
	if dest == nil {
		return
	}
	data, err := wire.Encode(env)
	if err != nil {
		s.log.WithError(err).WithField("variant", env.Variant).Error("encode failed")
		return
	}
	if err := s.socket.Send(data, dest); err != nil {
		s.log.WithError(err).WithField("dest", dest).Error("send failed")
	}
}

// Pong replies to an announce-ping with the current peer list for appID,
// excluding the requester (spec.md §4.2's discovery round-trip).
func (s *Sender) Pong(dest *net.UDPAddr, requesterID uint64, peers []peer.Peer) {
	infos := make([]wire.PeerInfo, 0, len(peers))
	for _, p := range peers {
		if p.Endpoint == nil {
			continue
		}
		ip := p.Endpoint.IP.To4()
		if ip == nil {
			continue
		}
		infos = append(infos, wire.PeerInfo{
			PeerID:  p.PeerID,
			IP:      wire.PackIPv4(ip[0], ip[1], ip[2], ip[3]),
			UDPPort: uint16(p.Endpoint.Port),
			AppID:   p.AppID,
		})
	}
	s.sendTo(&wire.Envelope{
		SourceID: s.MasterServerID,
		DestID:   requesterID,
		Variant:  wire.VariantAnnounce,
		Announce: &wire.AnnouncePayload{Kind: wire.AnnouncePong, Peers: infos},
	}, dest)
}

// LobbyMessage unicasts a lobby-messages envelope to one recipient's
// endpoint, resolved by the caller through the peer registry. BroadcastLobby
// calls it once per recipient.
func (s *Sender) LobbyMessage(dest *net.UDPAddr, sourceID uint64, payload wire.LobbyMessagePayload) {
	s.sendTo(&wire.Envelope{
		SourceID:     sourceID,
		Variant:      wire.VariantLobbyMessages,
		LobbyMessage: &payload,
	}, dest)
}

// BroadcastLobby sends a lobby-messages envelope to every recipient in
// recipients whose peer-id resolves to a live endpoint in reg, skipping
// exclude. A missing endpoint for one recipient never aborts the rest
// (spec.md §4.8's per-recipient failure isolation).
func (s *Sender) BroadcastLobby(reg *peer.Registry, recipients []uint64, exclude uint64, sourceID uint64, payload wire.LobbyMessagePayload) {
	for _, id := range recipients {
		if id == exclude {
			continue
		}
		p, ok := reg.Get(id)
		if !ok || p.Endpoint == nil {
			continue
		}
		s.LobbyMessage(p.Endpoint, sourceID, payload)
	}
}

// BroadcastLobbyUpdate sends a lobby envelope (create/update/delete) to every
// member, used after CreateOrUpdate so members stay in sync without polling
// via query. Ownership changes are announced through BroadcastLobby instead.
func (s *Sender) BroadcastLobbyUpdate(reg *peer.Registry, recipients []uint64, payload wire.LobbyPayload) {
	for _, id := range recipients {
		p, ok := reg.Get(id)
		if !ok || p.Endpoint == nil {
			continue
		}
		cp := payload
		s.sendTo(&wire.Envelope{
			SourceID: s.MasterServerID,
			DestID:   id,
			Variant:  wire.VariantLobby,
			Lobby:    &cp,
		}, p.Endpoint)
	}
}

// LobbyQueryResult unicasts one query match back to the requester. The
// dispatcher calls this once per result from lobby.Manager.Query (spec.md
// §4.5's room-id==0 query path returns a stream of matches, not a single
// envelope).
func (s *Sender) LobbyQueryResult(dest *net.UDPAddr, destID uint64, payload wire.LobbyPayload) {
	s.sendTo(&wire.Envelope{
		SourceID: s.MasterServerID,
		DestID:   destID,
		Variant:  wire.VariantLobby,
		Lobby:    &payload,
	}, dest)
}

// RelayNetworkChanneled forwards a network-channeled payload verbatim to its
// destination endpoint, stamping sourceID as the originating peer so the
// receiver can attribute it.
func (s *Sender) RelayNetworkChanneled(dest *net.UDPAddr, sourceID, destID uint64, payload wire.NetworkChanneledPayload) {
	s.sendTo(&wire.Envelope{
		SourceID:         sourceID,
		DestID:           destID,
		Variant:          wire.VariantNetworkChanneled,
		NetworkChanneled: &payload,
	}, dest)
}

// RelayNetworkingSockets forwards a stream-oriented (networking-sockets)
// payload.
func (s *Sender) RelayNetworkingSockets(dest *net.UDPAddr, sourceID, destID uint64, payload wire.NetworkingSocketsPayload) {
	s.sendTo(&wire.Envelope{
		SourceID:          sourceID,
		DestID:            destID,
		Variant:           wire.VariantNetworkingSockets,
		NetworkingSockets: &payload,
	}, dest)
}

// RelayNetworkingMessage forwards a message-oriented (networking-messages)
// payload.
func (s *Sender) RelayNetworkingMessage(dest *net.UDPAddr, sourceID, destID uint64, payload wire.NetworkingMessagePayload) {
	s.sendTo(&wire.Envelope{
		SourceID:          sourceID,
		DestID:            destID,
		Variant:           wire.VariantNetworkingMessages,
		NetworkingMessage: &payload,
	}, dest)
}

// Gameserver forwards a gameserver envelope (used to echo registration state
// back, or to push an offline notice) to dest.
func (s *Sender) Gameserver(dest *net.UDPAddr, sourceID uint64, payload wire.GameserverPayload) {
	s.sendTo(&wire.Envelope{
		SourceID:   sourceID,
		Variant:    wire.VariantGameserver,
		Gameserver: &payload,
	}, dest)
}

// GameserverQueryResult unicasts one gameserver-find match back to the
// requester, mirroring LobbyQueryResult's one-envelope-per-match convention.
func (s *Sender) GameserverQueryResult(dest *net.UDPAddr, destID uint64, payload wire.GameserverPayload) {
	s.sendTo(&wire.Envelope{
		SourceID:   s.MasterServerID,
		DestID:     destID,
		Variant:    wire.VariantGameserver,
		Gameserver: &payload,
	}, dest)
}
