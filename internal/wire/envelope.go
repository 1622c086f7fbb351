// Package wire implements the tagged-union envelope that every datagram on
// the master server's UDP socket carries: a 64-bit source peer-id, a 64-bit
// destination peer-id (zero meaning unspecified), and exactly one payload
// variant from the fixed catalog the core understands.
//
// The wire format itself is an externally-defined schema (spec.md §6); this
// package implements the subset of it the core produces and consumes. Variant
// bodies the core only recognizes-but-ignores (friend, auth-ticket, ...) are
// preserved as opaque bytes so decode(encode(m)) round-trips without the core
// having to understand them.
package wire

// Variant identifies which payload an Envelope carries.
type Variant uint16

const (
	VariantUnknown Variant = iota
	VariantAnnounce
	VariantLowLevel
	VariantLobby
	VariantLobbyMessages
	VariantGameserver
	VariantFriend
	VariantAuthTicket
	VariantFriendMessages
	VariantNetworkChanneled
	VariantNetworkLegacy
	VariantNetworkingSockets
	VariantNetworkingMessages
	VariantSteamMessages
	VariantGameserverStats
	VariantLeaderboards
	VariantUserStats
)

func (v Variant) String() string {
	switch v {
	case VariantAnnounce:
		return "announce"
	case VariantLowLevel:
		return "low-level"
	case VariantLobby:
		return "lobby"
	case VariantLobbyMessages:
		return "lobby-messages"
	case VariantGameserver:
		return "gameserver"
	case VariantFriend:
		return "friend"
	case VariantAuthTicket:
		return "auth-ticket"
	case VariantFriendMessages:
		return "friend-messages"
	case VariantNetworkChanneled:
		return "network-channeled"
	case VariantNetworkLegacy:
		return "network-legacy"
	case VariantNetworkingSockets:
		return "networking-sockets"
	case VariantNetworkingMessages:
		return "networking-messages"
	case VariantSteamMessages:
		return "steam-messages"
	case VariantGameserverStats:
		return "gameserver-stats"
	case VariantLeaderboards:
		return "leaderboards"
	case VariantUserStats:
		return "user-stats"
	default:
		return "unknown"
	}
}

// NoopVariants are recognized but never produce core side effects; the
// dispatcher logs and drops them. Kept here so the dispatcher's exhaustive
// switch and this package's decode table stay in sync.
var NoopVariants = map[Variant]bool{
	VariantFriend:         true,
	VariantAuthTicket:     true,
	VariantFriendMessages: true,
	VariantNetworkLegacy:  true,
	VariantSteamMessages:  true,
	VariantGameserverStats: true,
	VariantLeaderboards:   true,
	VariantUserStats:      true,
}

// Envelope is the decoded top-level message. Exactly one of the typed
// payload fields is non-nil, matching Variant; Opaque holds the raw body for
// variants the core does not parse further (still round-trippable).
type Envelope struct {
	SourceID uint64
	DestID   uint64
	Variant  Variant

	Announce          *AnnouncePayload
	LowLevel          *LowLevelPayload
	Lobby             *LobbyPayload
	LobbyMessage      *LobbyMessagePayload
	Gameserver        *GameserverPayload
	NetworkChanneled  *NetworkChanneledPayload
	NetworkingSockets *NetworkingSocketsPayload
	NetworkingMessage *NetworkingMessagePayload

	Opaque []byte
}

// --- announce (discovery ping/pong) ---

type AnnounceKind uint8

const (
	AnnouncePing AnnounceKind = iota
	AnnouncePong
)

type PeerInfo struct {
	PeerID  uint64
	IP      uint32 // big-endian packed a<<24|b<<16|c<<8|d, per spec.md §6
	UDPPort uint16
	AppID   uint32
}

type AnnouncePayload struct {
	Kind  AnnounceKind
	AppID uint32     // carried on ping
	Peers []PeerInfo // carried on pong
}

// --- low-level (heartbeat / connect / disconnect) ---

type LowLevelKind uint8

const (
	LowLevelHeartbeat LowLevelKind = iota
	LowLevelConnect
	LowLevelDisconnect
)

type LowLevelPayload struct {
	Kind LowLevelKind
}

// --- lobby (create/update/delete, and query when RoomID == 0) ---

type LobbyKind uint32

type LobbyPayload struct {
	RoomID      uint64 // 0 == query
	AppID       uint32
	Owner       uint64
	Kind        LobbyKind
	MemberLimit uint32
	Joinable    bool
	Deleted     bool
	Metadata    map[string][]byte // lobby metadata on create/update; filter map on query
	ServerID    uint64            // 0 == no associated gameserver
}

// --- lobby-messages (join/leave/change-owner/member-data/chat) ---

type LobbyMessageType uint8

const (
	LobbyMsgJoin LobbyMessageType = iota
	LobbyMsgLeave
	LobbyMsgChangeOwner
	LobbyMsgMemberData
	LobbyMsgChat
)

type LobbyMessagePayload struct {
	Type     LobbyMessageType
	RoomID   uint64
	IData    uint64            // target peer-id (member-data) or new owner (change-owner)
	Metadata map[string][]byte // member-data merge map
	Payload  []byte            // chat content
}

// --- gameserver (register/update; offline flag doubles as the offline marker) ---

type GameserverPayload struct {
	ServerID       uint64
	AppID          uint32
	Name           string
	Map            string
	PlayersCurrent uint32
	PlayersMax     uint32
	IP             uint32
	GamePort       uint16
	QueryPort      uint16
	Dedicated      bool
	Secure         bool
	Password       bool
	Offline        bool
	Metadata       map[string][]byte
}

// --- network-channeled (ISteamNetworking) ---

type NetworkChanneledType uint8

const (
	NetChanData NetworkChanneledType = iota
	NetChanFailedConnect
)

type NetworkChanneledPayload struct {
	Type    NetworkChanneledType
	Channel int32
	Payload []byte
}

// --- networking-sockets (stream-oriented) ---

type NetworkingSocketsType uint8

const (
	NetSockRequest NetworkingSocketsType = iota
	NetSockAccepted
	NetSockData
	NetSockEnd
)

type NetworkingSocketsPayload struct {
	Type          NetworkingSocketsType
	VirtualPort   int32
	MessageNumber int64
	Payload       []byte
}

// --- networking-messages (message-oriented) ---

type NetworkingMessageType uint8

const (
	NetMsgNew NetworkingMessageType = iota
	NetMsgAccept
	NetMsgData
	NetMsgEnd
)

type NetworkingMessagePayload struct {
	Type    NetworkingMessageType
	Channel int32
	From    uint64
	Payload []byte
}
