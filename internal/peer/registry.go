// Package peer implements the per-application peer registry (spec.md §4.4):
// a heartbeat-liveness index of connected clients and dedicated servers,
// keyed by a stable 64-bit peer-id the client supplies.
//
// Grounded on internal/state's PeerTable in the teacher repo — the same
// upsert/touch/prune shape, generalized from a single global table to the
// per-application bucketing spec.md requires, and from UI-event fan-out to
// none (the registry has no listeners of its own; dispatch reads it
// synchronously on the hot path).
package peer

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrInvalidPeer is returned by Upsert when peer-id or application-id is
// zero (spec.md §4.4 validation rule).
var ErrInvalidPeer = errors.New("peer: peer-id and application-id must be non-zero")

// Peer is one entry in the registry. Ownership is exclusive to Registry;
// callers receive copies, never pointers into the live table, so a snapshot
// from List is safe to range over while other goroutines mutate the
// registry concurrently.
type Peer struct {
	PeerID   uint64
	AppID    uint32
	Endpoint *net.UDPAddr
	TCPPort  uint16
	LastSeen time.Time
}

// Registry is the process-wide peer table. One instance is shared by the
// dispatcher and the reaper; all methods are safe for concurrent use.
type Registry struct {
	log *logrus.Entry

	mu    sync.RWMutex
	byApp map[uint32]map[uint64]Peer
	all   map[uint64]Peer
	dead  bool
}

// New creates an empty registry. log should already carry a "component"
// field; New adds "subsystem=peer" on top of it.
func New(log *logrus.Entry) *Registry {
	return &Registry{
		log:   log.WithField("subsystem", "peer"),
		byApp: make(map[uint32]map[uint64]Peer),
		all:   make(map[uint64]Peer),
	}
}

// Upsert validates and stores p, refreshing endpoint, TCP port, and
// last-seen. Last-write-wins on every field except that LastSeen is always
// set to now, per spec.md §5's ordering guarantee (peer upsert is
// last-write-wins on fields other than last-seen, which always advances).
func (r *Registry) Upsert(p Peer) error {
	if p.PeerID == 0 || p.AppID == 0 {
		return ErrInvalidPeer
	}
	p.LastSeen = time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead {
		return nil
	}
	if prev, ok := r.all[p.PeerID]; ok && prev.AppID != p.AppID {
		if bucket, ok := r.byApp[prev.AppID]; ok {
			delete(bucket, p.PeerID)
			if len(bucket) == 0 {
				delete(r.byApp, prev.AppID)
			}
		}
	}
	if bucket, ok := r.byApp[p.AppID]; ok {
		bucket[p.PeerID] = p
	} else {
		r.byApp[p.AppID] = map[uint64]Peer{p.PeerID: p}
	}
	r.all[p.PeerID] = p
	return nil
}

// Touch refreshes last-seen for an existing peer. It is a no-op if the peer
// is not registered — spec.md §4.4/§9 mandates heartbeat never auto-registers.
func (r *Registry) Touch(peerID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead {
		return false
	}
	p, ok := r.all[peerID]
	if !ok {
		return false
	}
	p.LastSeen = time.Now()
	r.all[peerID] = p
	r.byApp[p.AppID][peerID] = p
	return true
}

// Get looks up a peer by id alone, ignoring application.
func (r *Registry) Get(peerID uint64) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.all[peerID]
	return p, ok
}

// List returns a snapshot of every peer in appID except exclude. The
// snapshot is a copy: safe to range over after the lock is released, while
// other goroutines continue to mutate the registry (spec.md §4.4).
func (r *Registry) List(appID uint32, exclude uint64) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bucket := r.byApp[appID]
	out := make([]Peer, 0, len(bucket))
	for id, p := range bucket {
		if id == exclude {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Count returns the number of peers currently registered under appID.
func (r *Registry) Count(appID uint32) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byApp[appID])
}

// Len returns the total number of peers registered across every application,
// used for the peers-online gauge.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.all)
}

// Reap removes every peer whose last-seen is older than maxAge, relative to
// now. Returns the number removed. Called by the reaper on its fixed tick
// (spec.md §4.9); never invoked from the hot dispatch path.
func (r *Registry) Reap(now time.Time, maxAge time.Duration) int {
	cutoff := now.Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead {
		return 0
	}
	removed := 0
	for id, p := range r.all {
		if p.LastSeen.Before(cutoff) {
			delete(r.all, id)
			if bucket, ok := r.byApp[p.AppID]; ok {
				delete(bucket, id)
				if len(bucket) == 0 {
					delete(r.byApp, p.AppID)
				}
			}
			removed++
		}
	}
	if removed > 0 {
		r.log.WithField("removed", removed).Debug("reaped timed-out peers")
	}
	return removed
}

// Shutdown marks the registry dead and clears all state: every subsequent
// mutating call becomes a no-op, per spec.md §5's "no message may be
// processed after shutdown" requirement. Reads still succeed but find an
// empty registry.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dead = true
	r.byApp = make(map[uint32]map[uint64]Peer)
	r.all = make(map[uint64]Peer)
}
