package lobby

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrNotFound is returned when an operation names a room-id that has no
	// live lobby.
	ErrNotFound = errors.New("lobby: not found")
	// ErrNotJoinable covers the join guard for an existing lobby: not
	// joinable, deleted, or full (spec.md §4.5's lobby-messages table). A
	// missing lobby is ErrNotFound.
	ErrNotJoinable = errors.New("lobby: not joinable")
	// ErrNotOwner is returned by ChangeOwner when the sender does not
	// currently own the lobby.
	ErrNotOwner = errors.New("lobby: sender is not the owner")
	// ErrNoMetadata is returned by MemberData when no metadata map was
	// supplied (spec.md §4.5's member-data guard).
	ErrNoMetadata = errors.New("lobby: no metadata supplied")
)

// lobbyQueryFilterKind is the reserved filter key spec.md §4.5 compares as a
// 32-bit unsigned integer against the lobby's Kind, instead of byte-equality
// against metadata.
const lobbyQueryFilterKind = "lobby_type"

const defaultQueryLimit = 50

// Manager owns every lobby and the peer→room-set index used for O(1)
// "which lobbies is this peer in" lookups (spec.md §3, §9).
type Manager struct {
	log *logrus.Entry

	mu        sync.RWMutex
	lobbies   map[uint64]*Lobby
	peerRooms map[uint64]map[uint64]struct{}
	dead      bool
}

// New creates an empty lobby manager.
func New(log *logrus.Entry) *Manager {
	return &Manager{
		log:       log.WithField("subsystem", "lobby"),
		lobbies:   make(map[uint64]*Lobby),
		peerRooms: make(map[uint64]map[uint64]struct{}),
	}
}

func (m *Manager) indexJoin(peerID, roomID uint64) {
	set, ok := m.peerRooms[peerID]
	if !ok {
		set = make(map[uint64]struct{})
		m.peerRooms[peerID] = set
	}
	set[roomID] = struct{}{}
}

func (m *Manager) indexLeave(peerID, roomID uint64) {
	set, ok := m.peerRooms[peerID]
	if !ok {
		return
	}
	delete(set, roomID)
	if len(set) == 0 {
		delete(m.peerRooms, peerID)
	}
}

// Get returns a snapshot of one lobby.
func (m *Manager) Get(roomID uint64) (Lobby, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lobbies[roomID]
	if !ok {
		return Lobby{}, false
	}
	return cloneLobby(l), true
}

// Len returns the number of non-deleted lobbies, used for the
// lobbies-active gauge.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, l := range m.lobbies {
		if !l.Deleted {
			n++
		}
	}
	return n
}

// RoomsOf returns the set of room-ids peerID currently belongs to.
func (m *Manager) RoomsOf(peerID uint64) []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.peerRooms[peerID]
	out := make([]uint64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// CreateOrUpdate handles spec.md §4.5's create/update path for a non-zero
// room-id. incoming.Owner must already be resolved by the caller (the
// dispatcher substitutes source-id when the wire payload's owner is zero).
//
// If incoming.Deleted is set, an existing entry is marked deleted and
// stamped; a non-existent room is a no-op. Otherwise the entry is replaced
// wholesale except for Members, which the manager continues to own — the
// wire payload never carries the member list.
//
// Returns the resulting lobby snapshot and its member peer-ids, for the
// caller to filter against the peer registry and broadcast.
func (m *Manager) CreateOrUpdate(incoming Lobby) (Lobby, []uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dead {
		return Lobby{}, nil, ErrNotFound
	}

	existing, ok := m.lobbies[incoming.RoomID]

	if incoming.Deleted {
		if !ok {
			return Lobby{}, nil, ErrNotFound
		}
		existing.Deleted = true
		existing.DeletedAt = incoming.DeletedAt
		return cloneLobby(existing), memberIDs(existing), nil
	}

	if ok {
		existing.AppID = incoming.AppID
		existing.Owner = incoming.Owner
		existing.Kind = incoming.Kind
		existing.MemberLimit = incoming.MemberLimit
		existing.Joinable = incoming.Joinable
		existing.Metadata = incoming.Metadata
		existing.ServerID = incoming.ServerID
		existing.Deleted = false
		return cloneLobby(existing), memberIDs(existing), nil
	}

	l := &Lobby{
		RoomID:      incoming.RoomID,
		AppID:       incoming.AppID,
		Owner:       incoming.Owner,
		Kind:        incoming.Kind,
		MemberLimit: incoming.MemberLimit,
		Joinable:    incoming.Joinable,
		Metadata:    incoming.Metadata,
		ServerID:    incoming.ServerID,
		Members:     []Member{{PeerID: incoming.Owner}},
	}
	m.lobbies[l.RoomID] = l
	m.indexJoin(incoming.Owner, l.RoomID)
	return cloneLobby(l), memberIDs(l), nil
}

func memberIDs(l *Lobby) []uint64 {
	out := make([]uint64, len(l.Members))
	for i, mm := range l.Members {
		out[i] = mm.PeerID
	}
	return out
}

// QueryResult is one row of a lobby query response.
type QueryResult = Lobby

// Query implements spec.md §4.5's room-id==0 path: enumerate lobbies for
// appID that are non-deleted, joinable, and not full, apply filters, sort by
// descending member-count then "has gameserver" (true first), and truncate
// to limit (default 50 when limit <= 0).
func (m *Manager) Query(appID uint32, filter map[string][]byte, limit int) []QueryResult {
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	m.mu.RLock()
	candidates := make([]*Lobby, 0, len(m.lobbies))
	for _, l := range m.lobbies {
		if l.AppID != appID || l.Deleted || !l.Joinable || l.full() {
			continue
		}
		if matchesFilter(l, filter) {
			candidates = append(candidates, l)
		}
	}
	out := make([]QueryResult, len(candidates))
	for i, l := range candidates {
		out[i] = cloneLobby(l)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i].Members) != len(out[j].Members) {
			return len(out[i].Members) > len(out[j].Members)
		}
		return out[i].hasGameserver() && !out[j].hasGameserver()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func matchesFilter(l *Lobby, filter map[string][]byte) bool {
	for k, v := range filter {
		if k == lobbyQueryFilterKind {
			if len(v) != 4 {
				return false
			}
			want := uint32(v[0])<<24 | uint32(v[1])<<16 | uint32(v[2])<<8 | uint32(v[3])
			if l.Kind != want {
				return false
			}
			continue
		}
		got, ok := l.Metadata[k]
		if !ok || string(got) != string(v) {
			return false
		}
	}
	return true
}

// Join implements the lobby-messages "join" guard and effect. Returns the
// full post-join lobby snapshot, which the caller uses both for a direct
// unicast to the joiner and, via its Members, to broadcast the join
// (excluding the joiner) to online members.
func (m *Manager) Join(roomID, peerID uint64) (Lobby, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dead {
		return Lobby{}, ErrNotFound
	}
	l, ok := m.lobbies[roomID]
	if !ok {
		return Lobby{}, ErrNotFound
	}
	if l.Deleted || !l.Joinable {
		return Lobby{}, ErrNotJoinable
	}
	if l.memberIndex(peerID) == -1 {
		if l.full() {
			return Lobby{}, ErrNotJoinable
		}
		l.Members = append(l.Members, Member{PeerID: peerID})
		m.indexJoin(peerID, roomID)
	}
	return cloneLobby(l), nil
}

// LeaveResult describes the outcome of a Leave call.
type LeaveResult struct {
	Lobby        Lobby
	OwnerChanged bool
	Deleted      bool
}

// Leave implements the lobby-messages "leave" effect: remove the member; if
// they were the owner and members remain, transfer ownership to the new
// first member in insertion order; if the last member left, mark the lobby
// deleted (spec.md §4.5, testable property 5).
func (m *Manager) Leave(roomID, peerID uint64, now time.Time) (LeaveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dead {
		return LeaveResult{}, ErrNotFound
	}
	l, ok := m.lobbies[roomID]
	if !ok {
		return LeaveResult{}, ErrNotFound
	}
	idx := l.memberIndex(peerID)
	if idx == -1 {
		return LeaveResult{Lobby: cloneLobby(l)}, nil
	}
	wasOwner := l.Owner == peerID
	l.Members = append(l.Members[:idx], l.Members[idx+1:]...)
	m.indexLeave(peerID, roomID)

	res := LeaveResult{}
	if len(l.Members) == 0 {
		l.Deleted = true
		l.DeletedAt = now
		res.Deleted = true
	} else if wasOwner {
		l.Owner = l.Members[0].PeerID
		res.OwnerChanged = true
	}
	res.Lobby = cloneLobby(l)
	return res, nil
}

// ChangeOwner implements the lobby-messages "change-owner" effect: sender
// must be the current owner.
func (m *Manager) ChangeOwner(roomID, sourceID, newOwner uint64) (Lobby, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dead {
		return Lobby{}, ErrNotFound
	}
	l, ok := m.lobbies[roomID]
	if !ok {
		return Lobby{}, ErrNotFound
	}
	if l.Owner != sourceID {
		return Lobby{}, ErrNotOwner
	}
	l.Owner = newOwner
	return cloneLobby(l), nil
}

// MemberData implements the lobby-messages "member-data" effect: merge the
// provided map into that member's metadata, overwriting existing keys.
func (m *Manager) MemberData(roomID, peerID uint64, metadata map[string][]byte) (Lobby, error) {
	if metadata == nil {
		return Lobby{}, ErrNoMetadata
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dead {
		return Lobby{}, ErrNotFound
	}
	l, ok := m.lobbies[roomID]
	if !ok {
		return Lobby{}, ErrNotFound
	}
	idx := l.memberIndex(peerID)
	if idx == -1 {
		return Lobby{}, ErrNotFound
	}
	if l.Members[idx].Metadata == nil {
		l.Members[idx].Metadata = make(map[string][]byte, len(metadata))
	}
	for k, v := range metadata {
		l.Members[idx].Metadata[k] = v
	}
	return cloneLobby(l), nil
}

// Members returns the member peer-ids of roomID, or nil if it does not
// exist. Used by the dispatcher for chat fanout, which has no other state
// effect.
func (m *Manager) Members(roomID uint64) []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lobbies[roomID]
	if !ok {
		return nil
	}
	return memberIDs(l)
}

// Reap removes every lobby marked deleted longer than retention ago, and
// scrubs the peer→room index accordingly (spec.md §4.5's reaper
// responsibility).
func (m *Manager) Reap(now time.Time, retention time.Duration) int {
	cutoff := now.Add(-retention)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dead {
		return 0
	}
	removed := 0
	for id, l := range m.lobbies {
		if l.Deleted && l.DeletedAt.Before(cutoff) {
			for _, mm := range l.Members {
				m.indexLeave(mm.PeerID, id)
			}
			delete(m.lobbies, id)
			removed++
		}
	}
	if removed > 0 {
		m.log.WithField("removed", removed).Debug("reaped retention-expired lobbies")
	}
	return removed
}

// Shutdown marks the manager dead and clears all state.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dead = true
	m.lobbies = make(map[uint64]*Lobby)
	m.peerRooms = make(map[uint64]map[uint64]struct{})
}
