// Package relay implements the P2P relay manager (spec.md §4.7): per-pair
// connection tables, a bi-directional peer index, packet forwarding
// bookkeeping, and idle-timeout cleanup for opaque P2P data relayed between
// peers that cannot connect directly.
//
// Grounded on the teacher's internal/mq.Manager — the same
// atomically-allocated-id-plus-bidirectional-index shape the teacher uses
// for its per-peer inbox/ack bookkeeping (mq.Manager.seq, mq.Manager.pending)
// — generalized from a single logical channel per peer pair to spec.md's
// one-connection-per-{pair,transport-kind} table with explicit connection
// states.
package relay

import "time"

// Kind is the relay transport family a connection belongs to.
type Kind uint8

const (
	KindLegacy Kind = iota
	KindChanneled
	KindStreamOriented
	KindMessageOriented
)

// State is a connection's lifecycle stage (spec.md §3).
type State uint8

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnecting
	StateClosed
)

// Connection is one relay pipe between two peers. Identity is an
// internally-assigned monotonic id, never supplied by a client.
type Connection struct {
	ID             uint64
	From           uint64
	To             uint64
	AppID          uint32
	Kind           Kind
	State          State
	CreatedAt      time.Time
	LastActivityAt time.Time
	PacketsRelayed uint64
	BytesRelayed   uint64
	VirtualPort    *int32 // networking-sockets only
	Channel        *int32 // networking-messages only
}

func endpointsMatch(c Connection, from, to uint64) bool {
	return (c.From == from && c.To == to) || (c.From == to && c.To == from)
}
