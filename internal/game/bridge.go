// Package game holds the boundary between the protocol engine and the game
// logic: the per-player Bridge queues and the Logic interface, plus Hub, a
// lobby that relays chat between connected players.
package game

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/energizer-project/quarry/internal/protocol"
)

// ErrBridgeClosed is returned once either side has closed the bridge.
var ErrBridgeClosed = errors.New("bridge closed")

// Player identifies an authenticated connection in Play.
type Player struct {
	ConnID uint64
	Name   string
	UUID   uuid.UUID
	Remote string
}

// Logic is the game side of the bridge. Join is called when a connection
// enters Play; Leave exactly once after its bridge closes.
type Logic interface {
	Join(ctx context.Context, p Player, b *Bridge) error
	Leave(p Player, reason string)
}

// Bridge carries decoded packets from a connection to the game logic and
// packets to send back. Both directions are bounded and keep order.
type Bridge struct {
	inbound  chan protocol.Packet
	outbound chan protocol.Packet
	done     chan struct{}
	once     sync.Once
}

// NewBridge creates a bridge with the given queue sizes.
func NewBridge(inboundSize, outboundSize int) *Bridge {
	return &Bridge{
		inbound:  make(chan protocol.Packet, inboundSize),
		outbound: make(chan protocol.Packet, outboundSize),
		done:     make(chan struct{}),
	}
}

// Submit hands a decoded packet to the game logic. It blocks while the
// inbound queue is full.
func (b *Bridge) Submit(ctx context.Context, p protocol.Packet) error {
	select {
	case <-b.done:
		return ErrBridgeClosed
	default:
	}
	select {
	case b.inbound <- p:
		return nil
	case <-b.done:
		return ErrBridgeClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inbound is read by the game logic.
func (b *Bridge) Inbound() <-chan protocol.Packet {
	return b.inbound
}

// Send queues a packet for the connection, blocking while the outbound
// queue is full.
func (b *Bridge) Send(ctx context.Context, p protocol.Packet) error {
	select {
	case <-b.done:
		return ErrBridgeClosed
	default:
	}
	select {
	case b.outbound <- p:
		return nil
	case <-b.done:
		return ErrBridgeClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend queues a packet without blocking and reports whether it was
// accepted.
func (b *Bridge) TrySend(p protocol.Packet) bool {
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.outbound <- p:
		return true
	default:
		return false
	}
}

// Outbound is drained by the connection, which encodes and writes every
// packet in queue order.
func (b *Bridge) Outbound() <-chan protocol.Packet {
	return b.outbound
}

// Done is closed when the bridge is closed.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Close ends the bridge. It is safe to call more than once.
func (b *Bridge) Close() {
	b.once.Do(func() { close(b.done) })
}
