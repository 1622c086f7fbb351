package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/gameserver"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/lobby"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/peer"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/relay"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestSweepRemovesTimedOutPeer(t *testing.T) {
	peers := peer.New(testLog())
	lobbies := lobby.New(testLog())
	servers := gameserver.New(testLog())
	relays := relay.New(testLog())

	require.NoError(t, peers.Upsert(peer.Peer{PeerID: 1, AppID: 730}))

	cfg := Config{Interval: time.Millisecond, PeerTimeout: time.Millisecond, LobbyRetention: time.Hour, RelayConnTimeout: time.Hour}
	r := New(testLog(), cfg, peers, lobbies, servers, relays)

	time.Sleep(5 * time.Millisecond)
	r.sweep()

	_, ok := peers.Get(1)
	assert.False(t, ok)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	peers := peer.New(testLog())
	lobbies := lobby.New(testLog())
	servers := gameserver.New(testLog())
	relays := relay.New(testLog())

	cfg := Config{Interval: time.Millisecond, PeerTimeout: time.Hour, LobbyRetention: time.Hour, RelayConnTimeout: time.Hour}
	r := New(testLog(), cfg, peers, lobbies, servers, relays)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
