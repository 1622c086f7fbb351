package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncated is returned by Decode when the datagram is shorter than the
// field it is currently reading. The dispatcher treats this as a
// decode-failure: log and drop, never a fatal condition.
var ErrTruncated = errors.New("wire: truncated message")

// ErrUnknownVariant is returned when the variant tag does not match any
// entry in the catalog. The dispatcher treats this the same as
// ErrTruncated.
var ErrUnknownVariant = errors.New("wire: unknown variant")

type reader struct {
	buf []byte
	pos int
}

func (r *reader) u8() (uint8, error) {
	if r.pos+1 > len(r.buf) {
		return 0, ErrTruncated
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if r.pos+2 > len(r.buf) {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) i32() (int32, error) {
	v, err := r.u32()
	return int32(v), err
}

func (r *reader) i64() (int64, error) {
	v, err := r.u64()
	return int64(v), err
}

func (r *reader) bool() (bool, error) {
	v, err := r.u8()
	return v != 0, err
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.buf) {
		return nil, ErrTruncated
	}
	v := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return v, nil
}

func (r *reader) str() (string, error) {
	b, err := r.bytes()
	return string(b), err
}

func (r *reader) metadata() (map[string][]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	m := make(map[string][]byte, n)
	for i := uint32(0); i < n; i++ {
		k, err := r.str()
		if err != nil {
			return nil, err
		}
		v, err := r.bytes()
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

func (r *reader) remaining() []byte {
	return r.buf[r.pos:]
}

type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *writer) u64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }
func (w *writer) i32(v int32)  { w.u32(uint32(v)) }
func (w *writer) i64(v int64)  { w.u64(uint64(v)) }

func (w *writer) bool(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *writer) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) str(s string) { w.bytes([]byte(s)) }

func (w *writer) metadata(m map[string][]byte) {
	w.u32(uint32(len(m)))
	for k, v := range m {
		w.str(k)
		w.bytes(v)
	}
}

// Encode serializes an Envelope into a single datagram payload.
func Encode(e *Envelope) ([]byte, error) {
	w := &writer{buf: make([]byte, 0, 64)}
	w.u64(e.SourceID)
	w.u64(e.DestID)
	w.u16(uint16(e.Variant))

	switch e.Variant {
	case VariantAnnounce:
		p := e.Announce
		if p == nil {
			return nil, fmt.Errorf("wire: announce envelope missing payload")
		}
		w.u8(uint8(p.Kind))
		w.u32(p.AppID)
		w.u32(uint32(len(p.Peers)))
		for _, peer := range p.Peers {
			w.u64(peer.PeerID)
			w.u32(peer.IP)
			w.u16(peer.UDPPort)
			w.u32(peer.AppID)
		}
	case VariantLowLevel:
		p := e.LowLevel
		if p == nil {
			return nil, fmt.Errorf("wire: low-level envelope missing payload")
		}
		w.u8(uint8(p.Kind))
	case VariantLobby:
		p := e.Lobby
		if p == nil {
			return nil, fmt.Errorf("wire: lobby envelope missing payload")
		}
		w.u64(p.RoomID)
		w.u32(p.AppID)
		w.u64(p.Owner)
		w.u32(uint32(p.Kind))
		w.u32(p.MemberLimit)
		w.bool(p.Joinable)
		w.bool(p.Deleted)
		w.metadata(p.Metadata)
		w.u64(p.ServerID)
	case VariantLobbyMessages:
		p := e.LobbyMessage
		if p == nil {
			return nil, fmt.Errorf("wire: lobby-messages envelope missing payload")
		}
		w.u8(uint8(p.Type))
		w.u64(p.RoomID)
		w.u64(p.IData)
		w.metadata(p.Metadata)
		w.bytes(p.Payload)
	case VariantGameserver:
		p := e.Gameserver
		if p == nil {
			return nil, fmt.Errorf("wire: gameserver envelope missing payload")
		}
		w.u64(p.ServerID)
		w.u32(p.AppID)
		w.str(p.Name)
		w.str(p.Map)
		w.u32(p.PlayersCurrent)
		w.u32(p.PlayersMax)
		w.u32(p.IP)
		w.u16(p.GamePort)
		w.u16(p.QueryPort)
		w.bool(p.Dedicated)
		w.bool(p.Secure)
		w.bool(p.Password)
		w.bool(p.Offline)
		w.metadata(p.Metadata)
	case VariantNetworkChanneled:
		p := e.NetworkChanneled
		if p == nil {
			return nil, fmt.Errorf("wire: network-channeled envelope missing payload")
		}
		w.u8(uint8(p.Type))
		w.i32(p.Channel)
		w.bytes(p.Payload)
	case VariantNetworkingSockets:
		p := e.NetworkingSockets
		if p == nil {
			return nil, fmt.Errorf("wire: networking-sockets envelope missing payload")
		}
		w.u8(uint8(p.Type))
		w.i32(p.VirtualPort)
		w.i64(p.MessageNumber)
		w.bytes(p.Payload)
	case VariantNetworkingMessages:
		p := e.NetworkingMessage
		if p == nil {
			return nil, fmt.Errorf("wire: networking-messages envelope missing payload")
		}
		w.u8(uint8(p.Type))
		w.i32(p.Channel)
		w.u64(p.From)
		w.bytes(p.Payload)
	default:
		// Unknown-to-core and recognized-but-no-op variants: round-trip the
		// opaque body untouched.
		w.buf = append(w.buf, e.Opaque...)
	}
	return w.buf, nil
}

// Decode parses a single datagram payload into an Envelope. Malformed or
// truncated input, and unknown variant tags, return a non-nil error; callers
// must treat this as non-fatal (log at warning, drop the datagram).
func Decode(data []byte) (*Envelope, error) {
	r := &reader{buf: data}
	src, err := r.u64()
	if err != nil {
		return nil, err
	}
	dst, err := r.u64()
	if err != nil {
		return nil, err
	}
	tag, err := r.u16()
	if err != nil {
		return nil, err
	}

	e := &Envelope{SourceID: src, DestID: dst, Variant: Variant(tag)}

	switch e.Variant {
	case VariantAnnounce:
		kind, err := r.u8()
		if err != nil {
			return nil, err
		}
		appID, err := r.u32()
		if err != nil {
			return nil, err
		}
		n, err := r.u32()
		if err != nil {
			return nil, err
		}
		peers := make([]PeerInfo, 0, n)
		for i := uint32(0); i < n; i++ {
			var pi PeerInfo
			if pi.PeerID, err = r.u64(); err != nil {
				return nil, err
			}
			if pi.IP, err = r.u32(); err != nil {
				return nil, err
			}
			if pi.UDPPort, err = r.u16(); err != nil {
				return nil, err
			}
			if pi.AppID, err = r.u32(); err != nil {
				return nil, err
			}
			peers = append(peers, pi)
		}
		e.Announce = &AnnouncePayload{Kind: AnnounceKind(kind), AppID: appID, Peers: peers}
	case VariantLowLevel:
		kind, err := r.u8()
		if err != nil {
			return nil, err
		}
		e.LowLevel = &LowLevelPayload{Kind: LowLevelKind(kind)}
	case VariantLobby:
		p := &LobbyPayload{}
		if p.RoomID, err = r.u64(); err != nil {
			return nil, err
		}
		if p.AppID, err = r.u32(); err != nil {
			return nil, err
		}
		if p.Owner, err = r.u64(); err != nil {
			return nil, err
		}
		kind, err := r.u32()
		if err != nil {
			return nil, err
		}
		p.Kind = LobbyKind(kind)
		if p.MemberLimit, err = r.u32(); err != nil {
			return nil, err
		}
		if p.Joinable, err = r.bool(); err != nil {
			return nil, err
		}
		if p.Deleted, err = r.bool(); err != nil {
			return nil, err
		}
		if p.Metadata, err = r.metadata(); err != nil {
			return nil, err
		}
		if p.ServerID, err = r.u64(); err != nil {
			return nil, err
		}
		e.Lobby = p
	case VariantLobbyMessages:
		p := &LobbyMessagePayload{}
		typ, err := r.u8()
		if err != nil {
			return nil, err
		}
		p.Type = LobbyMessageType(typ)
		if p.RoomID, err = r.u64(); err != nil {
			return nil, err
		}
		if p.IData, err = r.u64(); err != nil {
			return nil, err
		}
		if p.Metadata, err = r.metadata(); err != nil {
			return nil, err
		}
		if p.Payload, err = r.bytes(); err != nil {
			return nil, err
		}
		e.LobbyMessage = p
	case VariantGameserver:
		p := &GameserverPayload{}
		if p.ServerID, err = r.u64(); err != nil {
			return nil, err
		}
		if p.AppID, err = r.u32(); err != nil {
			return nil, err
		}
		if p.Name, err = r.str(); err != nil {
			return nil, err
		}
		if p.Map, err = r.str(); err != nil {
			return nil, err
		}
		if p.PlayersCurrent, err = r.u32(); err != nil {
			return nil, err
		}
		if p.PlayersMax, err = r.u32(); err != nil {
			return nil, err
		}
		if p.IP, err = r.u32(); err != nil {
			return nil, err
		}
		if p.GamePort, err = r.u16(); err != nil {
			return nil, err
		}
		if p.QueryPort, err = r.u16(); err != nil {
			return nil, err
		}
		if p.Dedicated, err = r.bool(); err != nil {
			return nil, err
		}
		if p.Secure, err = r.bool(); err != nil {
			return nil, err
		}
		if p.Password, err = r.bool(); err != nil {
			return nil, err
		}
		if p.Offline, err = r.bool(); err != nil {
			return nil, err
		}
		if p.Metadata, err = r.metadata(); err != nil {
			return nil, err
		}
		e.Gameserver = p
	case VariantNetworkChanneled:
		p := &NetworkChanneledPayload{}
		typ, err := r.u8()
		if err != nil {
			return nil, err
		}
		p.Type = NetworkChanneledType(typ)
		if p.Channel, err = r.i32(); err != nil {
			return nil, err
		}
		if p.Payload, err = r.bytes(); err != nil {
			return nil, err
		}
		e.NetworkChanneled = p
	case VariantNetworkingSockets:
		p := &NetworkingSocketsPayload{}
		typ, err := r.u8()
		if err != nil {
			return nil, err
		}
		p.Type = NetworkingSocketsType(typ)
		if p.VirtualPort, err = r.i32(); err != nil {
			return nil, err
		}
		if p.MessageNumber, err = r.i64(); err != nil {
			return nil, err
		}
		if p.Payload, err = r.bytes(); err != nil {
			return nil, err
		}
		e.NetworkingSockets = p
	case VariantNetworkingMessages:
		p := &NetworkingMessagePayload{}
		typ, err := r.u8()
		if err != nil {
			return nil, err
		}
		p.Type = NetworkingMessageType(typ)
		if p.Channel, err = r.i32(); err != nil {
			return nil, err
		}
		if p.From, err = r.u64(); err != nil {
			return nil, err
		}
		if p.Payload, err = r.bytes(); err != nil {
			return nil, err
		}
		e.NetworkingMessage = p
	case VariantFriend, VariantAuthTicket, VariantFriendMessages, VariantNetworkLegacy,
		VariantSteamMessages, VariantGameserverStats, VariantLeaderboards, VariantUserStats:
		e.Opaque = append([]byte(nil), r.remaining()...)
	default:
		return nil, ErrUnknownVariant
	}

	return e, nil
}

// PackIPv4 packs a dotted-quad IPv4 address into the big-endian u32 encoding
// spec.md §6 mandates for the pong peer list, regardless of host endianness.
func PackIPv4(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

// UnpackIPv4 is the inverse of PackIPv4.
func UnpackIPv4(v uint32) (a, b, c, d byte) {
	return byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)
}
