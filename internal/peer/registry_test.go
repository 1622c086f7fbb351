package peer

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestUpsertRejectsZeroIDs(t *testing.T) {
	r := New(testLog())
	assert.ErrorIs(t, r.Upsert(Peer{PeerID: 0, AppID: 730}), ErrInvalidPeer)
	assert.ErrorIs(t, r.Upsert(Peer{PeerID: 1, AppID: 0}), ErrInvalidPeer)
}

func TestDiscoveryRoundTrip_S1(t *testing.T) {
	r := New(testLog())
	require.NoError(t, r.Upsert(Peer{PeerID: 1001, AppID: 730}))

	others := r.List(730, 1001)
	assert.Empty(t, others)

	require.NoError(t, r.Upsert(Peer{PeerID: 1002, AppID: 730}))
	pongFor1002 := r.List(730, 1002)
	require.Len(t, pongFor1002, 1)
	assert.Equal(t, uint64(1001), pongFor1002[0].PeerID)

	pongFor1001 := r.List(730, 1001)
	require.Len(t, pongFor1001, 1)
	assert.Equal(t, uint64(1002), pongFor1001[0].PeerID)
}

func TestTouchDoesNotAutoRegister(t *testing.T) {
	r := New(testLog())
	assert.False(t, r.Touch(9999))
	_, ok := r.Get(9999)
	assert.False(t, ok)
}

func TestReapRemovesTimedOutPeers(t *testing.T) {
	r := New(testLog())
	require.NoError(t, r.Upsert(Peer{PeerID: 1, AppID: 730}))

	removed := r.Reap(time.Now().Add(-time.Minute), 30*time.Second)
	assert.Equal(t, 0, removed, "cutoff in the past should not remove fresh peers")

	removed = r.Reap(time.Now().Add(time.Hour), 30*time.Second)
	assert.Equal(t, 1, removed)
	_, ok := r.Get(1)
	assert.False(t, ok)
}

func TestReapIdempotent(t *testing.T) {
	r := New(testLog())
	require.NoError(t, r.Upsert(Peer{PeerID: 1, AppID: 730}))
	now := time.Now().Add(time.Hour)
	first := r.Reap(now, 30*time.Second)
	second := r.Reap(now, 30*time.Second)
	assert.Equal(t, 1, first)
	assert.Equal(t, 0, second)
}

func TestConcurrentUpsert_S6(t *testing.T) {
	r := New(testLog())
	const n = 200
	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			_ = r.Upsert(Peer{PeerID: id, AppID: 730})
		}(uint64(i))
	}
	wg.Wait()

	assert.Equal(t, n, r.Count(730))
	for i := 1; i <= n; i++ {
		others := r.List(730, uint64(i))
		assert.Len(t, others, n-1)
	}
}
