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

	"github.com/energizer-project/quarry/internal/events"
	"github.com/energizer-project/quarry/internal/protocol"
)

// Rejection reasons reported on the bus.
const (
	RejectCapacity    = "capacity"
	RejectRateLimited = "rate_limited"
)

// capacityMessage is sent to a login attempt beyond the connection limit.
const capacityMessage = "The server is full, please try again later"

// Sockets beyond the limit get at most turnAwayTimeout to send their
// handshake, and at most maxTurnAways of them are answered at once. The
// rest are closed straight away.
const (
	maxTurnAways    = 64
	turnAwayTimeout = time.Second
)

// Listener accepts game connections and runs one actor per socket. The
// admitted counter is the only state shared between connections.
type Listener struct {
	opts    Options
	svc     Services
	logger  zerolog.Logger
	conns   *ConnectionRegistry
	limiter *ipLimiter

	admitted  atomic.Int64
	nextID    atomic.Uint64
	wg        sync.WaitGroup
	turnAways chan struct{}

	ready chan struct{}
	addr  net.Addr
}

// NewListener validates opts and svc.
func NewListener(opts Options, svc Services) (*Listener, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid listener options: %w", err)
	}
	if svc.Registry == nil {
		svc.Registry = protocol.Default()
	}
	if !svc.Registry.Sealed() {
		return nil, errors.New("packet registry must be sealed before the listener starts")
	}
	if svc.Logic == nil {
		return nil, errors.New("game logic is required")
	}
	if opts.OnlineMode && (svc.Keys == nil || svc.Verifier == nil) {
		return nil, errors.New("online mode requires a key pair and a session verifier")
	}
	if svc.Status == nil {
		svc.Status = func() protocol.StatusInfo { return protocol.StatusInfo{} }
	}
	if svc.Recorder == nil {
		svc.Recorder = nopRecorder{}
	}

	l := &Listener{
		opts:   opts,
		svc:    svc,
		logger: log.With().Str("component", "listener").Logger(),
		conns:  NewConnectionRegistry(),
		ready:  make(chan struct{}),

		turnAways: make(chan struct{}, maxTurnAways),
	}
	if opts.ConnectionsPerSecond > 0 {
		l.limiter = newIPLimiter(opts.ConnectionsPerSecond, opts.ConnectionBurst, opts.LimiterCacheSize)
	}
	return l, nil
}

// Connections returns the live connection registry.
func (l *Listener) Connections() *ConnectionRegistry {
	return l.conns
}

// Admitted returns the number of connections holding an admission slot.
func (l *Listener) Admitted() int {
	return int(l.admitted.Load())
}

// Ready is closed once the socket is bound.
func (l *Listener) Ready() <-chan struct{} {
	return l.ready
}

// Addr returns the bound address. It is valid after Ready.
func (l *Listener) Addr() net.Addr {
	return l.addr
}

// Start binds the listener and accepts until ctx is cancelled. It then
// waits up to the shutdown timeout for connections to finish, and cuts
// off whatever is left.
func (l *Listener) Start(ctx context.Context) error {
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", l.opts.Address)
	if err != nil {
		return fmt.Errorf("failed to start game listener on %s: %w", l.opts.Address, err)
	}
	l.addr = ln.Addr()
	close(l.ready)

	l.logger.Info().
		Str("addr", l.addr.String()).
		Int("max_connections", l.opts.MaxConnections).
		Bool("online_mode", l.opts.OnlineMode).
		Int("compression_threshold", l.opts.CompressionThreshold).
		Msg("game listener started")

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			l.logger.Error().Err(err).Msg("failed to accept connection")
			time.Sleep(50 * time.Millisecond)
			continue
		}
		l.accept(ctx, conn)
	}

	l.shutdown()
	return nil
}

func (l *Listener) accept(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	if l.limiter != nil && !l.limiter.Allow(hostOf(remote)) {
		l.rejected(ctx, remote, RejectRateLimited)
		conn.Close()
		return
	}

	if l.admitted.Add(1) > int64(l.opts.MaxConnections) {
		l.admitted.Add(-1)
		l.rejected(ctx, remote, RejectCapacity)
		select {
		case l.turnAways <- struct{}{}:
		default:
			conn.Close()
			return
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer func() { <-l.turnAways }()
			l.turnAway(conn)
		}()
		return
	}

	c := newConnection(l.nextID.Add(1), conn, &l.opts, &l.svc)
	l.conns.register(c)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.admitted.Add(-1)
		defer l.conns.unregister(c.id)
		c.serve(ctx)
	}()
}

// turnAway answers a socket beyond the limit. A login attempt gets the
// capacity message; anything else is closed after the handshake. A socket
// that stays silent is closed after turnAwayTimeout.
func (l *Listener) turnAway(conn net.Conn) {
	defer conn.Close()

	timeout := min(turnAwayTimeout, l.opts.HandshakeTimeout)
	t := NewTransport(conn, l.svc.Registry, l.opts.Limits, l.opts.WriteTimeout, l.svc.Recorder)
	t.SetReadDeadline(time.Now().Add(timeout))
	p, err := t.ReadPacket(protocol.Handshaking)
	if err != nil {
		return
	}
	hs, ok := p.(*protocol.Handshake)
	if !ok || hs.NextState != protocol.Login {
		return
	}
	if err := t.WritePacket(protocol.Login, &protocol.LoginDisconnect{Reason: protocol.Text(capacityMessage)}); err != nil {
		l.logger.Debug().Err(err).Msg("failed to send capacity disconnect")
	}
}

func (l *Listener) rejected(ctx context.Context, remote, reason string) {
	l.logger.Warn().Str("remote", remote).Str("reason", reason).Msg("connection rejected")
	if l.svc.Bus != nil {
		l.svc.Bus.Emit(ctx, events.New(events.EventConnectionRejected, "listener", events.RejectedPayload{
			Remote: remote,
			Reason: reason,
		}))
	}
}

func (l *Listener) shutdown() {
	l.logger.Info().Int("connections", l.conns.Count()).Msg("game listener stopping")

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.logger.Info().Msg("all connections closed")
		return
	case <-time.After(l.opts.ShutdownTimeout):
	}

	n := l.conns.closeAll()
	l.logger.Warn().Int("connections", n).Msg("shutdown timeout, closing remaining connections")
	<-done
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
