package relay

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned by operations naming a connection-id that is not
// (or no longer) live.
var ErrNotFound = errors.New("relay: connection not found")

// Manager owns every relay connection and the peer-id → connection-id index
// used to resolve "which connections involve peer X" in constant time
// (spec.md §4.7).
//
// The spec describes a concurrent connections map guarded separately from a
// mutex-protected peer-index; this implementation uses one RWMutex for both,
// which trivially satisfies the stated invariants (at-most-one connection
// per unordered pair+kind, copy-under-lock-then-iterate for multi-connection
// operations) without the lock-ordering hazard two separate locks would
// introduce between CreateOrGet and CloseForPeer. See DESIGN.md.
type Manager struct {
	log *logrus.Entry

	mu          sync.RWMutex
	connections map[uint64]*Connection
	peerIndex   map[uint64]map[uint64]struct{} // peer-id -> connection-ids
	nextID      uint64
	dead        bool

	totalPackets atomic.Uint64
	totalBytes   atomic.Uint64
}

// New creates an empty relay manager.
func New(log *logrus.Entry) *Manager {
	return &Manager{
		log:         log.WithField("subsystem", "relay"),
		connections: make(map[uint64]*Connection),
		peerIndex:   make(map[uint64]map[uint64]struct{}),
	}
}

// Find implements spec.md §4.7's find(from, to, kind): scan from's
// connection-ids and return the one matching kind whose endpoint pair
// equals {from, to} as an unordered pair. Returns 0 if not found. Callers
// must hold no lock; Find takes its own read lock.
func (m *Manager) Find(from, to uint64, kind Kind) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findLocked(from, to, kind)
}

func (m *Manager) findLocked(from, to uint64, kind Kind) uint64 {
	for id := range m.peerIndex[from] {
		c, ok := m.connections[id]
		if !ok {
			continue
		}
		if c.Kind == kind && endpointsMatch(*c, from, to) {
			return id
		}
	}
	return 0
}

// CreateOrGet implements spec.md §4.7's create-or-get: reuse a live
// connection for the pair+kind if one exists (refreshing its activity
// timestamp), otherwise allocate a fresh id and register it under both
// peers' index entries in state Connecting.
func (m *Manager) CreateOrGet(from, to uint64, appID uint32, kind Kind) *Connection {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dead {
		return nil
	}

	if id := m.findLocked(from, to, kind); id != 0 {
		c := m.connections[id]
		c.LastActivityAt = now
		cp := *c
		return &cp
	}

	m.nextID++
	id := m.nextID
	c := &Connection{
		ID:             id,
		From:           from,
		To:             to,
		AppID:          appID,
		Kind:           kind,
		State:          StateConnecting,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	m.connections[id] = c
	m.indexAdd(from, id)
	m.indexAdd(to, id)
	cp := *c
	return &cp
}

func (m *Manager) indexAdd(peerID, connID uint64) {
	set, ok := m.peerIndex[peerID]
	if !ok {
		set = make(map[uint64]struct{})
		m.peerIndex[peerID] = set
	}
	set[connID] = struct{}{}
}

func (m *Manager) indexRemove(peerID, connID uint64) {
	set, ok := m.peerIndex[peerID]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(m.peerIndex, peerID)
	}
}

// Len returns the number of open relay connections, used for the
// relay-connections gauge.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// Get returns a snapshot of one connection.
func (m *Manager) Get(id uint64) (Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.connections[id]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// SetState transitions a connection's state and refreshes last-activity.
func (m *Manager) SetState(id uint64, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[id]
	if !ok {
		return ErrNotFound
	}
	c.State = state
	c.LastActivityAt = time.Now()
	return nil
}

// RecordPacket records one forwarded datagram of size bytes on connection
// id, advancing both the connection's and the manager's global counters
// (testable property 9: both are non-decreasing).
func (m *Manager) RecordPacket(id uint64, size int) error {
	m.mu.Lock()
	c, ok := m.connections[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	c.PacketsRelayed++
	c.BytesRelayed += uint64(size)
	c.LastActivityAt = time.Now()
	m.mu.Unlock()

	m.totalPackets.Add(1)
	m.totalBytes.Add(uint64(size))
	return nil
}

// Stats returns the global packets/bytes-relayed totals.
func (m *Manager) Stats() (packets, bytes uint64) {
	return m.totalPackets.Load(), m.totalBytes.Load()
}

// Close implements spec.md §4.7's close: remove the connection and its
// entries from both peers' index, logging final statistics.
func (m *Manager) Close(id uint64, reason string) {
	m.mu.Lock()
	c, ok := m.connections[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.connections, id)
	m.indexRemove(c.From, id)
	m.indexRemove(c.To, id)
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"connection_id":   id,
		"reason":          reason,
		"packets_relayed": c.PacketsRelayed,
		"bytes_relayed":   c.BytesRelayed,
	}).Debug("relay connection closed")
}

// CloseForPeer closes every connection peerID participates in. The id set
// is copied under the lock and Close is invoked per-id outside it, per
// spec.md §4.7/§5's copy-inside-iterate-outside discipline.
func (m *Manager) CloseForPeer(peerID uint64, reason string) {
	m.mu.RLock()
	set := m.peerIndex[peerID]
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Close(id, reason)
	}
}

// Reap closes every connection whose last-activity is older than maxAge
// relative to now (spec.md §4.7/§4.9).
func (m *Manager) Reap(now time.Time, maxAge time.Duration) int {
	cutoff := now.Add(-maxAge)

	m.mu.RLock()
	var victims []uint64
	for id, c := range m.connections {
		if c.LastActivityAt.Before(cutoff) {
			victims = append(victims, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range victims {
		m.Close(id, "idle timeout")
	}
	if len(victims) > 0 {
		m.log.WithField("removed", len(victims)).Debug("reaped idle relay connections")
	}
	return len(victims)
}

// Shutdown marks the manager dead and clears all state.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dead = true
	m.connections = make(map[uint64]*Connection)
	m.peerIndex = make(map[uint64]map[uint64]struct{})
}
