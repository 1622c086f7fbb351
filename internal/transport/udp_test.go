package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestSocketReceivesAndReplies(t *testing.T) {
	sock, err := Listen(testLog(), "127.0.0.1:0")
	require.NoError(t, err)
	defer sock.Close()

	received := make(chan []byte, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sock.Serve(ctx, func(data []byte, from *net.UDPAddr) {
		received <- data
		_ = sock.Send([]byte("pong"), from)
	})

	client, err := net.DialUDP("udp", nil, sock.LocalAddr())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)

	select {
	case got := <-received:
		require.Equal(t, "ping", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "pong", string(buf[:n]))
}

func TestCloseStopsServe(t *testing.T) {
	sock, err := Listen(testLog(), "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		sock.Serve(context.Background(), func(data []byte, from *net.UDPAddr) {})
		close(done)
	}()

	require.NoError(t, sock.Close())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}
