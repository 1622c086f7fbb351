// Package transport wraps the raw UDP socket the master server listens and
// sends on (spec.md §4.1). It knows nothing about the wire codec or routing —
// it moves datagrams and their source/destination endpoints, nothing else.
//
// Grounded on the teacher's internal/app.runPeer bootstrap loop: a receive
// goroutine feeding a handler, a context cancelled for shutdown, and a
// WaitGroup joined on Close.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// MaxDatagramSize is the largest UDP payload this server will read. Larger
// inbound datagrams are truncated by the kernel before recvfrom returns them;
// anything this server ever sends is well under this bound.
const MaxDatagramSize = 2048

// Handler processes one received datagram. It is invoked synchronously on
// the receive goroutine and must not block for long — see internal/dispatch,
// which hands each datagram to its own goroutine.
type Handler func(data []byte, from *net.UDPAddr)

// Socket owns one UDP listener and exposes Send/Close safe for concurrent
// use. Receive runs its own loop and delivers datagrams to a Handler.
type Socket struct {
	log  *logrus.Entry
	conn *net.UDPConn

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Listen opens a UDP socket bound to addr (host:port, host empty = all
// interfaces).
func Listen(log *logrus.Entry, addr string) (*Socket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %q: %w", addr, err)
	}
	return &Socket{
		log:  log.WithField("subsystem", "transport"),
		conn: conn,
	}, nil
}

// LocalAddr returns the bound local address.
func (s *Socket) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Serve runs the receive loop until ctx is cancelled or the socket is
// closed. Each datagram is handed to handler synchronously on the receive
// goroutine — handler is expected to do its own fan-out to worker goroutines
// (internal/dispatch does this) so one slow packet never stalls recvfrom.
func (s *Socket) Serve(ctx context.Context, handler Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	defer s.wg.Done()

	buf := make([]byte, MaxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			s.log.WithError(err).Warn("udp read error")
			continue
		}
		if n == 0 {
			continue
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		handler(datagram, from)
	}
}

// Send writes one datagram to dest. Safe to call concurrently with Serve and
// with other Send calls.
func (s *Socket) Send(data []byte, dest *net.UDPAddr) error {
	_, err := s.conn.WriteToUDP(data, dest)
	if err != nil {
		return fmt.Errorf("transport: send to %s: %w", dest, err)
	}
	return nil
}

// Close stops the receive loop and releases the socket, waiting for Serve to
// return.
func (s *Socket) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	err := s.conn.Close()
	s.wg.Wait()
	return err
}
