// Package app is the composition root: it constructs every subsystem in
// dependency order, wires the dispatcher and reaper over them, and runs
// until its context is cancelled.
//
// Grounded on the teacher's internal/app.Run / runPeer: one function that
// builds every manager, starts the background loops as goroutines, and
// blocks on <-ctx.Done() before unwinding in reverse construction order.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/adminfeed"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/config"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/dispatch"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/gameserver"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/lobby"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/logging"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/metrics"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/peer"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/reaper"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/relay"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/sender"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/transport"
)

// Options carries everything the caller (the cobra "serve" command) has
// already resolved: the loaded config and a constructed logger.
type Options struct {
	Cfg config.Config
	Log *logrus.Logger
}

// Run builds every subsystem, starts the socket, reaper, and (if enabled)
// the metrics and admin-feed servers, and blocks until ctx is cancelled.
func Run(ctx context.Context, opt Options) error {
	log := logging.NewEntry(opt.Log)

	sock, err := transport.Listen(log, opt.Cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", opt.Cfg.ListenAddr, err)
	}
	log.WithField("addr", sock.LocalAddr().String()).Info("listening")

	peers := peer.New(log)
	lobbies := lobby.New(log)
	gameservers := gameserver.New(log)
	relays := relay.New(log)

	snd := sender.New(log, sock)
	snd.MasterServerID = opt.Cfg.MasterServerID

	d := dispatch.New(log, peers, lobbies, gameservers, relays, snd)

	var m *metrics.Metrics
	if opt.Cfg.MetricsEnabled {
		m = metrics.New()
		metricsSrv := metrics.NewServer(log, opt.Cfg.MetricsAddr, m)
		go func() {
			if err := metricsSrv.Run(ctx); err != nil {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
		log.WithField("addr", opt.Cfg.MetricsAddr).Info("metrics endpoint enabled")
	}

	var feed *adminfeed.Feed
	if opt.Cfg.AdminFeedEnabled {
		feed = adminfeed.New(log)
		d = d.WithFeed(feed)
		go func() {
			if err := feed.Run(ctx, opt.Cfg.AdminFeedAddr); err != nil {
				log.WithError(err).Error("admin feed stopped")
			}
		}()
		log.WithField("addr", opt.Cfg.AdminFeedAddr).Info("admin feed enabled")
	}

	rp := reaper.New(log, reaper.Config{
		Interval:         opt.Cfg.PeerReapInterval,
		PeerTimeout:      opt.Cfg.PeerTimeout,
		LobbyRetention:   opt.Cfg.LobbyRetention,
		RelayConnTimeout: opt.Cfg.RelayConnTimeout,
	}, peers, lobbies, gameservers, relays)
	if m != nil {
		rp = rp.WithMetrics(m)
	}
	var reaperWG sync.WaitGroup
	reaperWG.Add(1)
	go func() {
		defer reaperWG.Done()
		rp.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- sock.Serve(ctx, d.Handle) }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			log.WithError(err).Error("socket serve loop exited")
		}
	}

	// Unwind in the exact reverse of construction order (peer registry →
	// lobby manager → gameserver registry → relay manager → reaper →
	// transport): stop accepting new datagrams, stop the reaper, drain
	// in-flight dispatch workers, then clear state relay-first so no
	// goroutine can mutate a registry that has already been cleared out
	// from under it.
	sock.Close()
	reaperWG.Wait()
	d.Wait()
	relays.Shutdown()
	gameservers.Shutdown()
	lobbies.Shutdown()
	peers.Shutdown()

	return nil
}
