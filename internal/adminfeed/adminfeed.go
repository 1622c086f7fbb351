// Package adminfeed streams lifecycle events (peer seen, lobby created,
// gameserver registered, relay opened, and so on) to any connected operator
// over a websocket, for local debugging and demos. It is off by default and
// meant to be bound to localhost only.
//
// Grounded on the teacher's internal/rendezvous.Server SSE broadcast: a
// mutex-guarded client-channel set, copy-the-set-then-send-outside-the-lock
// for broadcast, and a non-blocking send so one slow client can never stall
// the others. Transport swapped from Server-Sent Events to gorilla/websocket
// since the feed is one-way but the pack's only browser-push dependency is
// gorilla/websocket rather than an SSE library.
package adminfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/util"
)

const maxClients = 64

// backlogSize is how many recent events a newly connected client gets
// replayed before it starts receiving live events.
const backlogSize = 32

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is one line of the feed. Kind is a short tag ("peer.seen",
// "lobby.updated", "relay.closed", ...); Fields carries whatever detail that
// kind needs.
type Event struct {
	Kind   string                 `json:"kind"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// Feed fans Publish calls out to every connected websocket client.
type Feed struct {
	log *logrus.Entry

	mu      sync.Mutex
	clients map[chan []byte]struct{}
	backlog *util.RingBuffer[[]byte]

	http *http.Server
}

// New constructs a Feed. Call Publish from anywhere in the dispatcher or
// reaper to emit an event; call Run to start serving connections on addr.
func New(log *logrus.Entry) *Feed {
	f := &Feed{
		log:     log.WithField("subsystem", "adminfeed"),
		clients: make(map[chan []byte]struct{}),
		backlog: util.NewRingBuffer[[]byte](backlogSize),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/feed", f.handleFeed)
	f.http = &http.Server{Handler: mux}
	return f
}

// Run binds addr and serves until ctx is cancelled.
func (f *Feed) Run(ctx context.Context, addr string) error {
	f.http.Addr = addr
	errCh := make(chan error, 1)
	go func() {
		if err := f.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := f.http.Shutdown(shutdownCtx); err != nil {
			f.log.WithError(err).Warn("admin feed shutdown error")
		}
		f.closeAll()
		return nil
	case err := <-errCh:
		return err
	}
}

// Publish encodes ev and fans it out to every connected client. A client
// whose buffer is full misses this event (the client stays connected) rather
// than blocking the caller — the caller is usually the dispatcher's hot path.
func (f *Feed) Publish(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		f.log.WithError(err).Warn("admin feed: encode failed")
		return
	}

	f.backlog.Push(b)

	f.mu.Lock()
	clients := make([]chan []byte, 0, len(f.clients))
	for ch := range f.clients {
		clients = append(clients, ch)
	}
	f.mu.Unlock()

	for _, ch := range clients {
		select {
		case ch <- b:
		default:
		}
	}
}

func (f *Feed) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.WithError(err).Debug("admin feed: upgrade failed")
		return
	}

	ch := make(chan []byte, 16)
	if !f.addClient(ch) {
		conn.Close()
		return
	}
	defer f.removeClient(ch)
	defer conn.Close()

	for _, b := range f.backlog.Snapshot() {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}

	for b := range ch {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
}

func (f *Feed) addClient(ch chan []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) >= maxClients {
		return false
	}
	f.clients[ch] = struct{}{}
	return true
}

func (f *Feed) removeClient(ch chan []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[ch]; ok {
		delete(f.clients, ch)
		close(ch)
	}
}

func (f *Feed) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.clients {
		delete(f.clients, ch)
		close(ch)
	}
}
