// Package gameserver implements the dedicated-server catalog (spec.md §4.6):
// a per-application index of game server advertisements, discoverable
// through filtered queries and retired via an explicit offline marker.
//
// Grounded on the teacher's internal/group hostedGroup indexing (a main
// table keyed by id plus a secondary index for fast per-scope enumeration)
// and internal/state's copy-then-iterate snapshot discipline.
package gameserver

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrInvalidDescriptor is returned by RegisterOrUpdate when server-id or
// application-id is zero (spec.md §3/§4.6).
var ErrInvalidDescriptor = errors.New("gameserver: server-id and application-id must be non-zero")

// Descriptor advertises one dedicated server. Ownership is exclusive to
// Registry; callers receive copies.
type Descriptor struct {
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

// Filter narrows Find's results. A zero-value field means "don't filter on
// this dimension"; the pointer fields HasPassword, MinPlayers and
// MaxPlayersCap are only applied when non-nil.
type Filter struct {
	MapSubstring   string // case-insensitive substring match on Map
	HasPassword    *bool
	MinPlayers     *uint32
	MaxPlayersCap  *uint32
	DedicatedOnly  bool
	SecureOnly     bool
}

const defaultFindLimit = 100

// Registry is the process-wide gameserver table.
type Registry struct {
	log *logrus.Entry

	mu     sync.RWMutex
	byID   map[uint64]Descriptor
	byApp  map[uint32]map[uint64]struct{}
	dead   bool
}

// New creates an empty registry.
func New(log *logrus.Entry) *Registry {
	return &Registry{
		log:   log.WithField("subsystem", "gameserver"),
		byID:  make(map[uint64]Descriptor),
		byApp: make(map[uint32]map[uint64]struct{}),
	}
}

// RegisterOrUpdate validates and stores d, replacing any prior entry for the
// same server-id and keeping the per-application id-set consistent.
func (r *Registry) RegisterOrUpdate(d Descriptor) error {
	if d.ServerID == 0 || d.AppID == 0 {
		return ErrInvalidDescriptor
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead {
		return nil
	}
	if prev, ok := r.byID[d.ServerID]; ok && prev.AppID != d.AppID {
		if set, ok := r.byApp[prev.AppID]; ok {
			delete(set, d.ServerID)
			if len(set) == 0 {
				delete(r.byApp, prev.AppID)
			}
		}
	}
	r.byID[d.ServerID] = d
	set, ok := r.byApp[d.AppID]
	if !ok {
		set = make(map[uint64]struct{})
		r.byApp[d.AppID] = set
	}
	set[d.ServerID] = struct{}{}
	return nil
}

// MarkOffline sets the offline flag; the descriptor remains in the table
// until the next Reap (spec.md §4.6).
func (r *Registry) MarkOffline(serverID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[serverID]
	if !ok {
		return false
	}
	d.Offline = true
	r.byID[serverID] = d
	return true
}

// Get looks up a single descriptor regardless of offline state.
func (r *Registry) Get(serverID uint64) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[serverID]
	return d, ok
}

// Len returns the number of registered servers not marked offline, used for
// the gameservers-active gauge.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, d := range r.byID {
		if !d.Offline {
			n++
		}
	}
	return n
}

// List returns every non-offline descriptor registered under appID. The id
// set is copied under the lock and resolved to records after releasing it,
// per spec.md §4.6's concurrency requirement.
func (r *Registry) List(appID uint32) []Descriptor {
	r.mu.RLock()
	set := r.byApp[appID]
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	out := make([]Descriptor, 0, len(ids))
	r.mu.RLock()
	for _, id := range ids {
		if d, ok := r.byID[id]; ok && !d.Offline {
			out = append(out, d)
		}
	}
	r.mu.RUnlock()
	return out
}

// Find filters List(appID) by f and truncates to a result cap (default 100
// when cap <= 0).
func (r *Registry) Find(appID uint32, f Filter, cap int) []Descriptor {
	if cap <= 0 {
		cap = defaultFindLimit
	}
	candidates := r.List(appID)
	out := make([]Descriptor, 0, len(candidates))
	needle := strings.ToLower(f.MapSubstring)
	for _, d := range candidates {
		if needle != "" && !strings.Contains(strings.ToLower(d.Map), needle) {
			continue
		}
		if f.HasPassword != nil && d.Password != *f.HasPassword {
			continue
		}
		if f.MinPlayers != nil && d.PlayersCurrent < *f.MinPlayers {
			continue
		}
		if f.MaxPlayersCap != nil && d.PlayersMax > *f.MaxPlayersCap {
			continue
		}
		if f.DedicatedOnly && !d.Dedicated {
			continue
		}
		if f.SecureOnly && !d.Secure {
			continue
		}
		out = append(out, d)
		if len(out) >= cap {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

// Reap removes every descriptor whose offline flag is set. Per spec.md §4.6
// and §9, removal is offline-flag-driven, not age-driven; the
// "gameserver timeout" config knob is reserved and unused here.
func (r *Registry) Reap() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead {
		return 0
	}
	removed := 0
	for id, d := range r.byID {
		if d.Offline {
			delete(r.byID, id)
			if set, ok := r.byApp[d.AppID]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(r.byApp, d.AppID)
				}
			}
			removed++
		}
	}
	if removed > 0 {
		r.log.WithField("removed", removed).Debug("reaped offline gameservers")
	}
	return removed
}

// Shutdown marks the registry dead and clears all state.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dead = true
	r.byID = make(map[uint64]Descriptor)
	r.byApp = make(map[uint32]map[uint64]struct{})
}
