package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestRecordSweepUpdatesCounters(t *testing.T) {
	m := New()
	m.RecordSweep(10*time.Millisecond, 1, 2, 3, 4)

	require.Equal(t, float64(1), testutil.ToFloat64(m.ReapRemovals.WithLabelValues("peer")))
	require.Equal(t, float64(2), testutil.ToFloat64(m.ReapRemovals.WithLabelValues("lobby")))
	require.Equal(t, float64(3), testutil.ToFloat64(m.ReapRemovals.WithLabelValues("gameserver")))
	require.Equal(t, float64(4), testutil.ToFloat64(m.ReapRemovals.WithLabelValues("relay")))
}

func TestServerShutsDownOnContextCancel(t *testing.T) {
	m := New()
	srv := NewServer(testLog(), "127.0.0.1:0", m)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
