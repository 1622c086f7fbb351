// Package dispatch implements the master server's routing core (spec.md
// §4.3): decode one datagram, resolve which subsystem owns its variant,
// apply the effect, and fan out whatever reply or broadcast results.
//
// Grounded on the teacher's internal/app.runPeer composition root — one
// struct wiring every manager together — generalized from "construct once at
// startup" to "route every inbound datagram through these managers",
// and on internal/group.Manager's dispatch-by-event-type switch.
package dispatch

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/adminfeed"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/gameserver"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/lobby"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/peer"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/relay"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/sender"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/wire"
)

// Dispatcher wires the peer, lobby, gameserver, and relay managers to the
// wire codec and to a Sender. It holds no locks of its own — every mutation
// happens inside the subsystem it's routed to — and never holds a subsystem
// lock across a Sender call, since Sender blocks on socket I/O.
type Dispatcher struct {
	log *logrus.Entry

	peers       *peer.Registry
	lobbies     *lobby.Manager
	gameservers *gameserver.Registry
	relays      *relay.Manager
	send        *sender.Sender

	feed *adminfeed.Feed

	wg sync.WaitGroup
}

// New constructs a Dispatcher over already-constructed subsystems.
func New(log *logrus.Entry, peers *peer.Registry, lobbies *lobby.Manager, gameservers *gameserver.Registry, relays *relay.Manager, send *sender.Sender) *Dispatcher {
	return &Dispatcher{
		log:         log.WithField("subsystem", "dispatch"),
		peers:       peers,
		lobbies:     lobbies,
		gameservers: gameservers,
		relays:      relays,
		send:        send,
	}
}

// WithFeed attaches an admin/debug event feed. Safe to skip when the feed is
// disabled (it defaults to off, per spec.md's supplemented features).
func (d *Dispatcher) WithFeed(feed *adminfeed.Feed) *Dispatcher {
	d.feed = feed
	return d
}

// publish is a no-op when no feed is attached, so every call site below
// stays a single unconditional line regardless of whether the feed runs.
func (d *Dispatcher) publish(kind string, fields map[string]interface{}) {
	if d.feed == nil {
		return
	}
	d.feed.Publish(adminfeed.Event{Kind: kind, Fields: fields})
}

// Handle implements transport.Handler. It spawns a worker goroutine per
// datagram so the receive loop (transport.Socket.Serve) never blocks on a
// slow lobby broadcast or relay forward. The goroutine is tracked in a
// WaitGroup so Wait can drain every in-flight worker before shutdown clears
// the registries out from under them.
func (d *Dispatcher) Handle(data []byte, from *net.UDPAddr) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.process(data, from)
	}()
}

// Wait blocks until every in-flight Handle goroutine has returned. Call this
// after the socket stops accepting new datagrams and before clearing any
// subsystem's state.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) process(data []byte, from *net.UDPAddr) {
	corr := uuid.NewString()
	log := d.log.WithFields(logrus.Fields{"correlation_id": corr, "from": from.String()})

	env, err := wire.Decode(data)
	if err != nil {
		log.WithError(err).Warn("decode failed, dropping datagram")
		return
	}
	log = log.WithFields(logrus.Fields{"source_id": env.SourceID, "variant": env.Variant})

	if wire.NoopVariants[env.Variant] {
		log.Trace("no-op variant, dropping")
		return
	}

	switch env.Variant {
	case wire.VariantAnnounce:
		d.handleAnnounce(log, from, env)
	case wire.VariantLowLevel:
		d.handleLowLevel(log, env)
	case wire.VariantLobby:
		d.handleLobby(log, from, env)
	case wire.VariantLobbyMessages:
		d.handleLobbyMessages(log, env)
	case wire.VariantGameserver:
		d.handleGameserver(log, from, env)
	case wire.VariantNetworkChanneled:
		d.handleNetworkChanneled(log, env)
	case wire.VariantNetworkingSockets:
		d.handleNetworkingSockets(log, env)
	case wire.VariantNetworkingMessages:
		d.handleNetworkingMessage(log, env)
	default:
		log.Warn("unrecognized variant, dropping")
	}
}

// handleAnnounce implements spec.md §4.2's discovery round-trip: an
// announce-ping both registers/refreshes the sender as a peer at its
// observed UDP source address and requests the current peer list for its
// application. announce-pong is server-originated only; receiving one is
// logged and dropped.
func (d *Dispatcher) handleAnnounce(log *logrus.Entry, from *net.UDPAddr, env *wire.Envelope) {
	p := env.Announce
	if p == nil || p.Kind != wire.AnnouncePing {
		log.Debug("announce-pong from client or missing payload, dropping")
		return
	}
	if err := d.peers.Upsert(peer.Peer{PeerID: env.SourceID, AppID: p.AppID, Endpoint: from}); err != nil {
		log.WithError(err).Warn("invalid announce-ping, dropping")
		return
	}
	others := d.peers.List(p.AppID, env.SourceID)
	d.send.Pong(from, env.SourceID, others)
	d.publish("peer.seen", map[string]interface{}{"peer_id": env.SourceID, "app_id": p.AppID})
}

// handleLowLevel implements spec.md §4.3's connection-lifecycle signals.
// Heartbeat refreshes liveness without registering an unknown peer.
// Connect and disconnect are purely observational: the registry does not
// eagerly remove a peer on disconnect, since removal always happens via the
// reaper's timeout sweep (spec.md §4.4) — this keeps cleanup uniform across
// peers that disconnect cleanly and peers that simply vanish, and avoids a
// race between an explicit removal and a concurrent reap tick.
func (d *Dispatcher) handleLowLevel(log *logrus.Entry, env *wire.Envelope) {
	p := env.LowLevel
	if p == nil {
		return
	}
	switch p.Kind {
	case wire.LowLevelHeartbeat:
		if !d.peers.Touch(env.SourceID) {
			log.Debug("heartbeat from unregistered peer, ignoring")
		}
	case wire.LowLevelConnect:
		log.Debug("low-level connect")
	case wire.LowLevelDisconnect:
		log.Debug("low-level disconnect")
	}
}

// handleLobby implements both halves of spec.md §4.5's lobby variant: a
// zero room-id is a query (answered with zero or more unicast matches), a
// non-zero room-id is a create/update/delete whose result is broadcast to
// every current member.
func (d *Dispatcher) handleLobby(log *logrus.Entry, from *net.UDPAddr, env *wire.Envelope) {
	p := env.Lobby
	if p == nil {
		return
	}
	if p.RoomID == 0 {
		// A query carries no client-specified result cap on the wire; 0 tells
		// Query to fall back to its default limit (spec.md §4.5). Queries are
		// answered by endpoint, not peer-id lookup, so they don't require the
		// sender to already be a registered peer.
		for _, result := range d.lobbies.Query(p.AppID, p.Metadata, 0) {
			d.send.LobbyQueryResult(from, env.SourceID, result)
		}
		return
	}
	if _, ok := d.requireSender(log, env); !ok {
		return
	}

	owner := p.Owner
	if owner == 0 {
		owner = env.SourceID
	}
	snap, members, err := d.lobbies.CreateOrUpdate(lobby.Lobby{
		RoomID:      p.RoomID,
		AppID:       p.AppID,
		Owner:       owner,
		Kind:        uint32(p.Kind),
		MemberLimit: p.MemberLimit,
		Joinable:    p.Joinable,
		Deleted:     p.Deleted,
		Metadata:    p.Metadata,
		ServerID:    p.ServerID,
		DeletedAt:   time.Now(),
	})
	if err != nil {
		log.WithError(err).Debug("lobby create/update failed")
		return
	}
	d.send.BroadcastLobbyUpdate(d.peers, members, lobbyToWire(snap))
	kind := "lobby.updated"
	if snap.Deleted {
		kind = "lobby.deleted"
	}
	d.publish(kind, map[string]interface{}{"room_id": snap.RoomID, "app_id": snap.AppID})
}

// handleLobbyMessages implements spec.md §4.5's join/leave/change-owner/
// member-data/chat effects and their broadcasts.
func (d *Dispatcher) handleLobbyMessages(log *logrus.Entry, env *wire.Envelope) {
	p := env.LobbyMessage
	if p == nil {
		return
	}
	src, ok := d.requireSender(log, env)
	if !ok {
		return
	}
	switch p.Type {
	case wire.LobbyMsgJoin:
		snap, err := d.lobbies.Join(p.RoomID, env.SourceID)
		if err != nil {
			log.WithError(err).Debug("join failed")
			return
		}
		d.send.BroadcastLobby(d.peers, memberIDs(snap), env.SourceID, d.send.MasterServerID, wire.LobbyMessagePayload{
			Type: wire.LobbyMsgJoin, RoomID: p.RoomID, IData: env.SourceID,
		})
		if src.Endpoint != nil {
			d.send.LobbyQueryResult(src.Endpoint, env.SourceID, lobbyToWire(snap))
		}
	case wire.LobbyMsgLeave:
		res, err := d.lobbies.Leave(p.RoomID, env.SourceID, time.Now())
		if err != nil {
			log.WithError(err).Debug("leave failed")
			return
		}
		d.send.BroadcastLobby(d.peers, memberIDs(res.Lobby), 0, d.send.MasterServerID, wire.LobbyMessagePayload{
			Type: wire.LobbyMsgLeave, RoomID: p.RoomID, IData: env.SourceID,
		})
		if res.OwnerChanged {
			d.send.BroadcastLobby(d.peers, memberIDs(res.Lobby), 0, d.send.MasterServerID, wire.LobbyMessagePayload{
				Type: wire.LobbyMsgChangeOwner, RoomID: p.RoomID, IData: res.Lobby.Owner,
			})
		}
	case wire.LobbyMsgChangeOwner:
		snap, err := d.lobbies.ChangeOwner(p.RoomID, env.SourceID, p.IData)
		if err != nil {
			log.WithError(err).Debug("change-owner failed")
			return
		}
		d.send.BroadcastLobby(d.peers, memberIDs(snap), env.SourceID, d.send.MasterServerID, wire.LobbyMessagePayload{
			Type: wire.LobbyMsgChangeOwner, RoomID: p.RoomID, IData: snap.Owner,
		})
	case wire.LobbyMsgMemberData:
		snap, err := d.lobbies.MemberData(p.RoomID, env.SourceID, p.Metadata)
		if err != nil {
			log.WithError(err).Debug("member-data failed")
			return
		}
		d.send.BroadcastLobby(d.peers, memberIDs(snap), env.SourceID, env.SourceID, wire.LobbyMessagePayload{
			Type: wire.LobbyMsgMemberData, RoomID: p.RoomID, IData: env.SourceID, Metadata: p.Metadata,
		})
	case wire.LobbyMsgChat:
		members := d.lobbies.Members(p.RoomID)
		if members == nil {
			log.Debug("chat to unknown room, dropping")
			return
		}
		d.send.BroadcastLobby(d.peers, members, env.SourceID, env.SourceID, wire.LobbyMessagePayload{
			Type: wire.LobbyMsgChat, RoomID: p.RoomID, Payload: p.Payload,
		})
	}
}

// lobbyToWire converts a manager snapshot to the wire payload shape, shared
// by the create/update broadcast and the join-unicast (spec.md §4.5).
func lobbyToWire(l lobby.Lobby) wire.LobbyPayload {
	return wire.LobbyPayload{
		RoomID:      l.RoomID,
		AppID:       l.AppID,
		Owner:       l.Owner,
		Kind:        wire.LobbyKind(l.Kind),
		MemberLimit: l.MemberLimit,
		Joinable:    l.Joinable,
		Deleted:     l.Deleted,
		Metadata:    l.Metadata,
		ServerID:    l.ServerID,
	}
}

func memberIDs(l lobby.Lobby) []uint64 {
	out := make([]uint64, len(l.Members))
	for i, m := range l.Members {
		out[i] = m.PeerID
	}
	return out
}

// handleGameserver implements spec.md §4.6's register/update/offline path, and
// a zero server-id find query symmetric with the lobby variant's zero
// room-id query.
func (d *Dispatcher) handleGameserver(log *logrus.Entry, from *net.UDPAddr, env *wire.Envelope) {
	p := env.Gameserver
	if p == nil {
		return
	}
	if p.ServerID == 0 {
		filter := gameserver.Filter{MapSubstring: p.Map, DedicatedOnly: p.Dedicated, SecureOnly: p.Secure}
		if p.PlayersCurrent > 0 {
			min := p.PlayersCurrent
			filter.MinPlayers = &min
		}
		if p.PlayersMax > 0 {
			max := p.PlayersMax
			filter.MaxPlayersCap = &max
		}
		for _, result := range d.gameservers.Find(p.AppID, filter, 0) {
			d.send.GameserverQueryResult(from, env.SourceID, wire.GameserverPayload{
				ServerID: result.ServerID, AppID: result.AppID, Name: result.Name, Map: result.Map,
				PlayersCurrent: result.PlayersCurrent, PlayersMax: result.PlayersMax, IP: result.IP,
				GamePort: result.GamePort, QueryPort: result.QueryPort, Dedicated: result.Dedicated,
				Secure: result.Secure, Password: result.Password, Offline: result.Offline, Metadata: result.Metadata,
			})
		}
		return
	}

	if p.Offline {
		d.gameservers.MarkOffline(p.ServerID)
		d.publish("gameserver.offline", map[string]interface{}{"server_id": p.ServerID, "app_id": p.AppID})
		return
	}
	if err := d.gameservers.RegisterOrUpdate(gameserver.Descriptor{
		ServerID: p.ServerID, AppID: p.AppID, Name: p.Name, Map: p.Map,
		PlayersCurrent: p.PlayersCurrent, PlayersMax: p.PlayersMax, IP: p.IP,
		GamePort: p.GamePort, QueryPort: p.QueryPort, Dedicated: p.Dedicated,
		Secure: p.Secure, Password: p.Password, Offline: p.Offline, Metadata: p.Metadata,
	}); err != nil {
		log.WithError(err).Warn("gameserver register failed")
		return
	}
	d.publish("gameserver.registered", map[string]interface{}{"server_id": p.ServerID, "app_id": p.AppID})
}

// handleNetworkChanneled relays ISteamNetworking-style channeled datagrams
// (spec.md §4.7). This family has no explicit handshake, so the relay
// connection is created (or found) and marked connected on first use.
// failed-connect is the one channeled message that doesn't forward: it
// bounces back to the source instead (spec.md §9's "relay to an offline
// destination" note), since it's the source reporting a failure, not a
// payload meant for the other side.
func (d *Dispatcher) handleNetworkChanneled(log *logrus.Entry, env *wire.Envelope) {
	p := env.NetworkChanneled
	if p == nil {
		return
	}
	src, ok := d.requireSender(log, env)
	if !ok {
		return
	}
	if p.Type == wire.NetChanFailedConnect {
		if src.Endpoint == nil {
			log.WithField("source_id", env.SourceID).Debug("relay source has no endpoint, dropping")
			return
		}
		d.send.RelayNetworkChanneled(src.Endpoint, env.SourceID, env.SourceID, *p)
		return
	}

	dest, ok := d.resolveDest(log, env)
	if !ok {
		return
	}
	conn := d.relays.CreateOrGet(env.SourceID, env.DestID, dest.AppID, relay.KindChanneled)
	if conn == nil {
		return
	}
	d.relays.SetState(conn.ID, relay.StateConnected)
	d.relays.RecordPacket(conn.ID, len(p.Payload))
	d.send.RelayNetworkChanneled(dest.Endpoint, env.SourceID, env.DestID, *p)
}

// handleNetworkingSockets relays the stream-oriented transport, driving the
// relay connection's explicit state machine (spec.md §3's connection states,
// scenario S4).
func (d *Dispatcher) handleNetworkingSockets(log *logrus.Entry, env *wire.Envelope) {
	p := env.NetworkingSockets
	if p == nil {
		return
	}
	if _, ok := d.requireSender(log, env); !ok {
		return
	}
	dest, ok := d.resolveDest(log, env)
	if !ok {
		return
	}

	switch p.Type {
	case wire.NetSockRequest:
		conn := d.relays.CreateOrGet(env.SourceID, env.DestID, dest.AppID, relay.KindStreamOriented)
		if conn == nil {
			return
		}
		d.publish("relay.opened", map[string]interface{}{"connection_id": conn.ID, "from": env.SourceID, "to": env.DestID, "kind": "stream"})
	case wire.NetSockAccepted:
		if id := d.relays.Find(env.SourceID, env.DestID, relay.KindStreamOriented); id != 0 {
			d.relays.SetState(id, relay.StateConnected)
		}
	case wire.NetSockData:
		id := d.relays.Find(env.SourceID, env.DestID, relay.KindStreamOriented)
		if id == 0 {
			log.Debug("data for unknown stream-oriented connection, dropping")
			return
		}
		d.relays.RecordPacket(id, len(p.Payload))
	case wire.NetSockEnd:
		if id := d.relays.Find(env.SourceID, env.DestID, relay.KindStreamOriented); id != 0 {
			d.publish("relay.closed", map[string]interface{}{"connection_id": id, "kind": "stream"})
			d.relays.Close(id, "connection-end")
		}
	}
	d.send.RelayNetworkingSockets(dest.Endpoint, env.SourceID, env.DestID, *p)
}

// handleNetworkingMessage relays the message-oriented transport, mirroring
// handleNetworkingSockets with KindMessageOriented's own state machine.
func (d *Dispatcher) handleNetworkingMessage(log *logrus.Entry, env *wire.Envelope) {
	p := env.NetworkingMessage
	if p == nil {
		return
	}
	if _, ok := d.requireSender(log, env); !ok {
		return
	}
	dest, ok := d.resolveDest(log, env)
	if !ok {
		return
	}

	switch p.Type {
	case wire.NetMsgNew:
		conn := d.relays.CreateOrGet(env.SourceID, env.DestID, dest.AppID, relay.KindMessageOriented)
		if conn == nil {
			return
		}
		d.publish("relay.opened", map[string]interface{}{"connection_id": conn.ID, "from": env.SourceID, "to": env.DestID, "kind": "message"})
	case wire.NetMsgAccept:
		if id := d.relays.Find(env.SourceID, env.DestID, relay.KindMessageOriented); id != 0 {
			d.relays.SetState(id, relay.StateConnected)
		}
	case wire.NetMsgData:
		id := d.relays.Find(env.SourceID, env.DestID, relay.KindMessageOriented)
		if id == 0 {
			log.Debug("data for unknown message-oriented connection, dropping")
			return
		}
		d.relays.RecordPacket(id, len(p.Payload))
	case wire.NetMsgEnd:
		if id := d.relays.Find(env.SourceID, env.DestID, relay.KindMessageOriented); id != 0 {
			d.publish("relay.closed", map[string]interface{}{"connection_id": id, "kind": "message"})
			d.relays.Close(id, "connection-end")
		}
	}
	d.send.RelayNetworkingMessage(dest.Endpoint, env.SourceID, env.DestID, *p)
}

// resolveDest looks up the destination peer for a relay forward. Per the
// dispatcher's invalid-sender discipline, a destination that isn't a live
// registered peer is a drop, never a best-effort send into the void.
func (d *Dispatcher) resolveDest(log *logrus.Entry, env *wire.Envelope) (peer.Peer, bool) {
	dest, ok := d.peers.Get(env.DestID)
	if !ok || dest.Endpoint == nil {
		log.WithField("dest_id", env.DestID).Debug("relay destination not registered, dropping")
		return peer.Peer{}, false
	}
	return dest, true
}

// requireSender implements spec.md §4.3's invalid-sender rule: any handler
// whose semantics require a known peer first looks up source-id in the peer
// registry, dropping with a warning if it's absent (spec.md §7's
// Unknown-sender error kind — drop, log at warning, no reply).
func (d *Dispatcher) requireSender(log *logrus.Entry, env *wire.Envelope) (peer.Peer, bool) {
	src, ok := d.peers.Get(env.SourceID)
	if !ok {
		log.Warn("unknown sender, dropping")
		return peer.Peer{}, false
	}
	return src, true
}
