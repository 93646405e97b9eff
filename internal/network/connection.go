// Package network implements the game listener, the per-connection actor
// that drives the protocol state machine, and the UDP query responder.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/quarry/internal/auth"
	"github.com/energizer-project/quarry/internal/db"
	"github.com/energizer-project/quarry/internal/events"
	"github.com/energizer-project/quarry/internal/game"
	"github.com/energizer-project/quarry/internal/protocol"
)

// BanChecker is consulted once the player name is known.
type BanChecker interface {
	Check(ctx context.Context, name, ip string) (*db.Ban, error)
}

// Services are the collaborators shared by every connection.
type Services struct {
	Registry *protocol.Registry
	Logic    game.Logic
	Status   func() protocol.StatusInfo

	// Keys and Verifier are required in online mode.
	Keys     *auth.KeyPair
	Verifier auth.SessionVerifier

	Bans     BanChecker
	Bus      *events.EventBus
	Recorder Recorder
}

// disconnectError ends a connection with a reason shown to the player. It
// is policy, not a protocol fault.
type disconnectError struct {
	reason string
	cause  error
}

func (e *disconnectError) Error() string {
	if e.cause != nil {
		return e.reason + ": " + e.cause.Error()
	}
	return e.reason
}

func (e *disconnectError) Unwrap() error { return e.cause }

// ConnectionInfo is a point in time view of a connection for operators.
type ConnectionInfo struct {
	ID          uint64    `json:"id"`
	Remote      string    `json:"remote"`
	State       string    `json:"state"`
	Player      string    `json:"player,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	Encrypted   bool      `json:"encrypted"`
	Compression int       `json:"compression_threshold"`
}

// Connection is the actor owning one client socket. Session, state
// machine and transport are touched only by the actor's goroutines; other
// goroutines see the atomic mirrors below and may call Kick.
type Connection struct {
	id        uint64
	opts      *Options
	svc       *Services
	transport *Transport
	session   *Session
	machine   *StateMachine
	logger    zerolog.Logger

	bridge *game.Bridge
	player *game.Player
	reader sync.WaitGroup

	// Read by other goroutines.
	state      atomic.Int32
	name       atomic.Pointer[string]
	encrypted  atomic.Bool
	threshold  atomic.Int32
	kickReason atomic.Pointer[string]
	keepAlive  atomic.Int64

	interrupt     chan struct{}
	interruptOnce sync.Once
	finishOnce    sync.Once
	done          chan struct{}
}

func newConnection(id uint64, conn net.Conn, opts *Options, svc *Services) *Connection {
	remote := conn.RemoteAddr().String()
	c := &Connection{
		id:        id,
		opts:      opts,
		svc:       svc,
		transport: NewTransport(conn, svc.Registry, opts.Limits, opts.WriteTimeout, svc.Recorder),
		session:   newSession(id, remote),
		interrupt: make(chan struct{}),
		done:      make(chan struct{}),
	}
	c.logger = c.baseLogger().Logger()
	c.transport.SetLogger(c.logger)
	c.machine = NewStateMachine(c.stateChanged)
	c.threshold.Store(-1)
	return c
}

// ID returns the connection id.
func (c *Connection) ID() uint64 { return c.id }

// Done is closed once the connection has released its resources.
func (c *Connection) Done() <-chan struct{} { return c.done }

// State returns the current protocol state.
func (c *Connection) State() protocol.State { return protocol.State(c.state.Load()) }

// Info returns an operator view of the connection.
func (c *Connection) Info() ConnectionInfo {
	info := ConnectionInfo{
		ID:          c.id,
		Remote:      c.session.Remote,
		State:       c.State().String(),
		ConnectedAt: c.session.ConnectedAt,
		Encrypted:   c.encrypted.Load(),
		Compression: int(c.threshold.Load()),
	}
	if name := c.name.Load(); name != nil {
		info.Player = *name
	}
	return info
}

// Kick asks the actor to disconnect the client with reason. It returns
// false if the connection was already being closed.
func (c *Connection) Kick(reason string) bool {
	if !c.kickReason.CompareAndSwap(nil, &reason) {
		return false
	}
	c.interruptOnce.Do(func() { close(c.interrupt) })
	// Wake a blocked read; writes stay possible for the disconnect notice.
	c.transport.SetReadDeadline(time.Now())
	return true
}

// forceClose tears the socket down without a notice.
func (c *Connection) forceClose() {
	c.transport.Close()
}

func (c *Connection) serve(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() { c.Kick("Server closed") })
	defer stop()

	c.emit(ctx, events.EventConnectionOpened, events.ConnectionPayload{
		ConnID: c.id,
		Remote: c.session.Remote,
		State:  protocol.Handshaking.String(),
	})
	c.logger.Debug().Msg("connection opened")

	c.finish(ctx, c.run(ctx))
}

func (c *Connection) run(ctx context.Context) error {
	next, err := c.handshake()
	if err != nil {
		return err
	}
	if next == protocol.Status {
		return c.status()
	}
	if err := c.login(ctx); err != nil {
		return err
	}
	return c.play(ctx)
}

func (c *Connection) stateChanged(from, to protocol.State) {
	c.state.Store(int32(to))
	c.emit(context.Background(), events.EventStateChanged, events.StateChangedPayload{
		ConnID: c.id,
		From:   from.String(),
		To:     to.String(),
	})
}

func (c *Connection) transition(to protocol.State) error {
	return c.machine.Transition(to)
}

// setReadDeadline arms the read deadline unless a kick is pending, in
// which case reads must keep failing immediately.
func (c *Connection) setReadDeadline(d time.Time) {
	c.transport.SetReadDeadline(d)
	select {
	case <-c.interrupt:
		c.transport.SetReadDeadline(time.Now())
	default:
	}
}

// readPacket reads one packet in the current state. A read that fails
// because of a kick reports the kick.
func (c *Connection) readPacket() (protocol.Packet, error) {
	p, err := c.transport.ReadPacket(c.machine.State())
	if err != nil {
		if kerr := c.kicked(); kerr != nil {
			return nil, kerr
		}
		return nil, err
	}
	return p, nil
}

func (c *Connection) writePacket(p protocol.Packet) error {
	return c.transport.WritePacket(c.machine.State(), p)
}

func (c *Connection) kicked() error {
	if reason := c.kickReason.Load(); reason != nil {
		return &disconnectError{reason: *reason}
	}
	return nil
}

// closeReason maps the error that ended the actor to the text sent to the
// client. notify is false when no disconnect packet should be attempted.
func closeReason(err error) (reason string, notify bool) {
	var de *disconnectError
	switch {
	case err == nil:
		return "", false
	case errors.As(err, &de):
		return de.reason, true
	case errors.Is(err, protocol.ErrTransport):
		return "", false
	case errors.Is(err, protocol.ErrAuthenticationFailed):
		return "Failed to verify username!", true
	case errors.Is(err, protocol.ErrKeepAliveTimeout):
		return "Timed out", true
	}
	kind := protocol.KindOf(err)
	if kind == "other" {
		return "Internal server error", true
	}
	return fmt.Sprintf("Protocol error (%s)", kind), true
}

func (c *Connection) finish(ctx context.Context, err error) {
	c.finishOnce.Do(func() {
		state := c.machine.State()
		reason, notify := closeReason(err)
		if notify {
			c.sendDisconnect(state, reason)
		}
		c.logClose(ctx, state, reason, err)

		if state != protocol.Closed {
			c.transition(protocol.Closed)
		}
		c.transport.Close()
		if c.bridge != nil {
			c.bridge.Close()
		}
		c.reader.Wait()
		c.transport.Release()
		c.session.Wipe()

		if c.player != nil {
			c.svc.Logic.Leave(*c.player, reason)
			c.emit(ctx, events.EventPlayerLeft, events.PlayerPayload{
				ConnID: c.id,
				Name:   c.player.Name,
				UUID:   c.player.UUID,
				Remote: c.player.Remote,
			})
		}
		c.emit(ctx, events.EventConnectionClosed, events.ConnectionPayload{
			ConnID:   c.id,
			Remote:   c.session.Remote,
			State:    state.String(),
			Player:   c.session.Username,
			Reason:   reason,
			Duration: time.Since(c.session.ConnectedAt),
		})
		close(c.done)
	})
}

// sendDisconnect makes one bounded attempt at the state's disconnect
// packet. Handshaking and Status have none.
func (c *Connection) sendDisconnect(state protocol.State, reason string) {
	var p protocol.Packet
	switch state {
	case protocol.Login:
		p = &protocol.LoginDisconnect{Reason: protocol.Text(reason)}
	case protocol.Play:
		p = &protocol.Disconnect{Reason: protocol.Text(reason)}
	default:
		return
	}
	if err := c.writePacket(p); err != nil {
		c.logger.Debug().Err(err).Msg("failed to send disconnect")
	}
}

func (c *Connection) logClose(ctx context.Context, state protocol.State, reason string, err error) {
	var de *disconnectError
	switch {
	case err == nil:
		c.logger.Debug().Str("state", state.String()).Msg("connection finished")
	case errors.As(err, &de):
		ev := c.logger.Info().Str("state", state.String()).Str("reason", reason)
		if de.cause != nil {
			ev = ev.Err(de.cause)
		}
		ev.Msg("connection disconnected")
	case errors.Is(err, protocol.ErrTransport):
		c.logger.Debug().Err(err).Str("state", state.String()).Msg("connection closed by transport")
	default:
		kind := protocol.KindOf(err)
		c.logger.Warn().
			Err(err).
			Str("state", state.String()).
			Str("kind", kind).
			Str("reason", reason).
			Msg("connection closed on protocol error")
		c.emit(ctx, events.EventProtocolViolation, events.ViolationPayload{
			ConnID: c.id,
			Remote: c.session.Remote,
			State:  state.String(),
			Kind:   kind,
			Error:  err.Error(),
		})
	}
}

func (c *Connection) emit(ctx context.Context, t events.EventType, payload interface{}) {
	if c.svc.Bus == nil {
		return
	}
	// Handlers outlive the connection; shutdown must not cancel them.
	c.svc.Bus.Emit(context.WithoutCancel(ctx), events.New(t, fmt.Sprintf("connection:%d", c.id), payload))
}

func (c *Connection) baseLogger() zerolog.Context {
	return log.With().
		Str("component", "connection").
		Uint64("conn_id", c.id).
		Str("remote", c.session.Remote)
}

func (c *Connection) remoteHost() string {
	return hostOf(c.session.Remote)
}
