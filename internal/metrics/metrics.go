// Package metrics exposes the counters and gauges an operator would want
// for this server: population sizes per subsystem and the volume the relay
// moves. It is off by default (spec.md's Non-goals exclude an observability
// stack as a required feature) but, when enabled, still uses the same
// ecosystem library the rest of the pack reaches for (client_golang, present
// in both the teacher's and nabbar-golib's dependency graphs) rather than a
// hand-rolled counter type.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics holds every gauge/counter the rest of the server updates. All
// fields are safe for concurrent use — prometheus's own collector types
// already serialize updates internally.
type Metrics struct {
	registry *prometheus.Registry

	PeersOnline       prometheus.Gauge
	LobbiesActive     prometheus.Gauge
	GameserversActive prometheus.Gauge
	RelayConnections  prometheus.Gauge

	PacketsRelayed prometheus.Counter
	BytesRelayed   prometheus.Counter

	ReapSweepDuration prometheus.Histogram
	ReapRemovals      *prometheus.CounterVec
}

// New constructs and registers every metric against a fresh registry, so
// multiple Metrics instances (as in tests) never collide on the global
// default registerer.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		PeersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "masterserver", Name: "peers_online",
			Help: "Number of peers currently registered.",
		}),
		LobbiesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "masterserver", Name: "lobbies_active",
			Help: "Number of non-deleted lobbies.",
		}),
		GameserversActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "masterserver", Name: "gameservers_active",
			Help: "Number of gameservers not marked offline.",
		}),
		RelayConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "masterserver", Name: "relay_connections",
			Help: "Number of open P2P relay connections.",
		}),
		PacketsRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "masterserver", Name: "relay_packets_total",
			Help: "Total datagrams forwarded by the relay manager.",
		}),
		BytesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "masterserver", Name: "relay_bytes_total",
			Help: "Total payload bytes forwarded by the relay manager.",
		}),
		ReapSweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "masterserver", Name: "reap_sweep_duration_seconds",
			Help:    "Wall time of one reaper sweep across all four subsystems.",
			Buckets: prometheus.DefBuckets,
		}),
		ReapRemovals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "masterserver", Name: "reap_removals_total",
			Help: "Entities removed by the reaper, labeled by subsystem.",
		}, []string{"subsystem"}),
	}
	reg.MustRegister(
		m.PeersOnline, m.LobbiesActive, m.GameserversActive, m.RelayConnections,
		m.PacketsRelayed, m.BytesRelayed, m.ReapSweepDuration, m.ReapRemovals,
	)
	return m
}

// RecordSweep folds one reaper.sweep() result into the histogram and the
// per-subsystem removal counters.
func (m *Metrics) RecordSweep(duration time.Duration, peers, lobbies, gameservers, relays int) {
	m.ReapSweepDuration.Observe(duration.Seconds())
	m.ReapRemovals.WithLabelValues("peer").Add(float64(peers))
	m.ReapRemovals.WithLabelValues("lobby").Add(float64(lobbies))
	m.ReapRemovals.WithLabelValues("gameserver").Add(float64(gameservers))
	m.ReapRemovals.WithLabelValues("relay").Add(float64(relays))
}

// Server serves /metrics on addr. It is expected to be bound to localhost —
// the caller is responsible for choosing an address that isn't reachable
// from the same network clients send game traffic over.
type Server struct {
	log  *logrus.Entry
	http *http.Server
}

// NewServer wraps m's registry in an HTTP server listening on addr.
func NewServer(log *logrus.Entry, addr string, m *Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return &Server{
		log:  log.WithField("subsystem", "metrics"),
		http: &http.Server{Addr: addr, Handler: mux},
	}
}

// Run blocks serving until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			s.log.WithError(err).Warn("metrics server shutdown error")
		}
		return nil
	case err := <-errCh:
		return err
	}
}
