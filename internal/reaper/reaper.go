// Package reaper drives the periodic cleanup sweep spec.md §4.9 describes: a
// single ticker that reaps peers, lobbies, gameservers, and relay
// connections in that order on every tick, each independent so one failing
// sweep never blocks the next.
//
// Grounded on the teacher's internal/app.runPeer prune-loop goroutine
// (ticker + ctx.Done select), generalized from one table to four.
package reaper

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/gameserver"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/lobby"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/metrics"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/peer"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/relay"
)

// Config holds the retention windows the reaper applies. Defaults match
// spec.md §6's configuration table.
type Config struct {
	Interval          time.Duration
	PeerTimeout       time.Duration
	LobbyRetention    time.Duration
	RelayConnTimeout  time.Duration
}

// DefaultConfig returns spec.md §6's defaults.
func DefaultConfig() Config {
	return Config{
		Interval:         10 * time.Second,
		PeerTimeout:      30 * time.Second,
		LobbyRetention:   5 * time.Minute,
		RelayConnTimeout: 5 * time.Minute,
	}
}

// Reaper owns the ticker and the four subsystems it sweeps.
type Reaper struct {
	log *logrus.Entry
	cfg Config

	peers       *peer.Registry
	lobbies     *lobby.Manager
	gameservers *gameserver.Registry
	relays      *relay.Manager

	metrics         *metrics.Metrics
	lastPackets     uint64
	lastBytes       uint64
}

// New constructs a Reaper. log should already carry a "component" field.
func New(log *logrus.Entry, cfg Config, peers *peer.Registry, lobbies *lobby.Manager, gameservers *gameserver.Registry, relays *relay.Manager) *Reaper {
	return &Reaper{
		log:         log.WithField("subsystem", "reaper"),
		cfg:         cfg,
		peers:       peers,
		lobbies:     lobbies,
		gameservers: gameservers,
		relays:      relays,
	}
}

// WithMetrics attaches a metrics sink; every sweep after this call also
// records its timing and per-subsystem removal counts. Safe to skip when
// metrics are disabled (spec.md's metrics endpoint is off by default).
func (r *Reaper) WithMetrics(m *metrics.Metrics) *Reaper {
	r.metrics = m
	return r
}

// Run blocks, sweeping on every tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep runs one pass: peer reap, then lobby reap, then gameserver reap,
// then relay reap, in that fixed order (spec.md §4.9). Each step is
// independent: none reads another's result and none returns an error, so
// every step runs on every sweep. No step recovers from a panic.
func (r *Reaper) sweep() {
	now := time.Now()
	start := now

	peersRemoved := r.peers.Reap(now, r.cfg.PeerTimeout)
	lobbiesRemoved := r.lobbies.Reap(now, r.cfg.LobbyRetention)
	gameserversRemoved := r.gameservers.Reap()
	relaysRemoved := r.relays.Reap(now, r.cfg.RelayConnTimeout)
	duration := time.Since(start)

	if r.metrics != nil {
		r.metrics.RecordSweep(duration, peersRemoved, lobbiesRemoved, gameserversRemoved, relaysRemoved)
		r.metrics.PeersOnline.Set(float64(r.peers.Len()))
		r.metrics.LobbiesActive.Set(float64(r.lobbies.Len()))
		r.metrics.GameserversActive.Set(float64(r.gameservers.Len()))
		r.metrics.RelayConnections.Set(float64(r.relays.Len()))

		packets, bytesTotal := r.relays.Stats()
		r.metrics.PacketsRelayed.Add(float64(packets - r.lastPackets))
		r.metrics.BytesRelayed.Add(float64(bytesTotal - r.lastBytes))
		r.lastPackets, r.lastBytes = packets, bytesTotal
	}

	r.log.WithFields(logrus.Fields{
		"peers_removed":       peersRemoved,
		"lobbies_removed":     lobbiesRemoved,
		"gameservers_removed": gameserversRemoved,
		"relays_removed":      relaysRemoved,
		"duration":            duration,
	}).Debug("reap sweep complete")
}
