// Package lobby implements the lobby manager (spec.md §4.5): lobby
// CRUD, member join/leave with ownership transfer, metadata update, and
// chat fanout, scoped per application.
//
// Grounded on the teacher's internal/group.Manager — the same
// map-of-struct-with-members shape, the same "broadcast excludes the
// sender, copy member list before sending" discipline the teacher uses in
// its hostedGroup broadcast path — generalized to spec.md's ownership
// transfer and retention-based deletion semantics the teacher's groups
// don't have (the teacher closes a group outright rather than tombstoning
// it).
package lobby

import (
	"time"
)

// Member is one lobby participant. Ownership lives entirely inside its
// Lobby; there is no global member table (spec.md §3).
type Member struct {
	PeerID   uint64
	Metadata map[string][]byte
}

// Lobby mirrors spec.md §3's Lobby entity. Callers receive copies from the
// Manager; Members is deep-copied on every read so a caller ranging over it
// never observes concurrent mutation.
type Lobby struct {
	RoomID      uint64
	AppID       uint32
	Owner       uint64
	Kind        uint32
	MemberLimit uint32 // 0 == unbounded
	Joinable    bool
	Metadata    map[string][]byte
	ServerID    uint64 // 0 == no associated gameserver
	Members     []Member
	Deleted     bool
	DeletedAt   time.Time
}

func (l Lobby) hasGameserver() bool { return l.ServerID != 0 }

func (l Lobby) full() bool {
	return l.MemberLimit > 0 && uint32(len(l.Members)) >= l.MemberLimit
}

func (l Lobby) memberIndex(peerID uint64) int {
	for i, m := range l.Members {
		if m.PeerID == peerID {
			return i
		}
	}
	return -1
}

func cloneMetadata(m map[string][]byte) map[string][]byte {
	if m == nil {
		return nil
	}
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneLobby(l *Lobby) Lobby {
	cp := *l
	cp.Metadata = cloneMetadata(l.Metadata)
	cp.Members = make([]Member, len(l.Members))
	for i, m := range l.Members {
		cp.Members[i] = Member{PeerID: m.PeerID, Metadata: cloneMetadata(m.Metadata)}
	}
	return cp
}
