// Package server ties the game listener, the lobby and the persistence
// layer together and exposes the operator actions used by the admin API
// and the console.
package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/energizer-project/quarry/internal/auth"
	"github.com/energizer-project/quarry/internal/config"
	"github.com/energizer-project/quarry/internal/db"
	"github.com/energizer-project/quarry/internal/events"
	"github.com/energizer-project/quarry/internal/game"
	"github.com/energizer-project/quarry/internal/network"
	"github.com/energizer-project/quarry/internal/protocol"
)

const (
	statusSampleSize = 12
	maxFaviconBytes  = 64 * 1024
)

// ErrBansUnavailable is returned by ban operations when no database is
// configured.
var ErrBansUnavailable = errors.New("ban list is not available")

// Deps are the collaborators the manager does not build itself.
type Deps struct {
	Keys     *auth.KeyPair
	Verifier auth.SessionVerifier
	Bans     *db.BanList
	Players  *db.PlayerLog
	Recorder network.Recorder
}

// Manager is the central orchestrator of a Quarry server.
type Manager struct {
	cfg      *config.Config
	eventBus *events.EventBus
	deps     Deps
	logger   zerolog.Logger

	hub      *game.Hub
	listener *network.Listener
	query    *network.QueryServer

	favicon   string
	startedAt time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewManager builds the lobby, the listener and, when enabled, the query
// responder from cfg.
func NewManager(cfg *config.Config, eventBus *events.EventBus, deps Deps) (*Manager, error) {
	srv := cfg.GetServer()
	m := &Manager{
		cfg:      cfg,
		eventBus: eventBus,
		deps:     deps,
		logger:   log.With().Str("component", "manager").Logger(),
		hub: game.NewHub(game.HubConfig{
			MaxPlayers: srv.MaxPlayers,
			WorldName:  srv.WorldName,
		}, eventBus),
	}

	if srv.FaviconPath != "" {
		favicon, err := loadFavicon(srv.FaviconPath)
		if err != nil {
			m.logger.Warn().Err(err).Str("path", srv.FaviconPath).Msg("favicon not loaded")
		} else {
			m.favicon = favicon
		}
	}

	svc := network.Services{
		Registry: protocol.Default(),
		Logic:    m.hub,
		Status:   m.Status,
		Keys:     deps.Keys,
		Verifier: deps.Verifier,
		Bus:      eventBus,
		Recorder: deps.Recorder,
	}
	if deps.Bans != nil {
		svc.Bans = deps.Bans
	}
	listener, err := network.NewListener(network.OptionsFromConfig(cfg), svc)
	if err != nil {
		return nil, err
	}
	m.listener = listener

	if q := cfg.Query; q.Enabled {
		addr := net.JoinHostPort(srv.Address, strconv.Itoa(q.Port))
		m.query = network.NewQueryServer(addr, m.QueryInfo)
	}

	m.subscribeEvents()
	return m, nil
}

func loadFavicon(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(data) > maxFaviconBytes {
		return "", fmt.Errorf("favicon is %d bytes, limit is %d", len(data), maxFaviconBytes)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
}

// subscribeEvents records joins and leaves in the player log.
func (m *Manager) subscribeEvents() {
	if m.deps.Players == nil {
		return
	}
	m.eventBus.Subscribe("manager.playerLog", m.onPlayerEvent, events.EventPlayerJoined, events.EventPlayerLeft)
}

func (m *Manager) onPlayerEvent(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(events.PlayerPayload)
	if !ok {
		return nil
	}
	if e.Type == events.EventPlayerJoined {
		return m.deps.Players.RecordJoin(ctx, p.UUID.String(), p.Name, network.RemoteHost(p.Remote), e.Time)
	}
	return m.deps.Players.RecordLeave(ctx, p.UUID.String(), e.Time)
}

// Run serves until ctx is cancelled or Shutdown is called. It returns the
// first listener error.
func (m *Manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.startedAt = time.Now()
	m.mu.Unlock()
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.listener.Start(gctx) })
	if m.query != nil {
		g.Go(func() error { return m.query.Start(gctx) })
	}

	go func() {
		select {
		case <-m.listener.Ready():
			m.eventBus.Emit(gctx, events.New(events.EventServerStarted, "manager", map[string]interface{}{
				"address":     m.listener.Addr().String(),
				"online_mode": m.cfg.GetServer().OnlineMode,
			}))
		case <-gctx.Done():
		}
	}()

	err := g.Wait()
	m.hub.Wait()
	m.logger.Info().Msg("server stopped")
	return err
}

// Ready is closed once the game listener is bound.
func (m *Manager) Ready() <-chan struct{} {
	return m.listener.Ready()
}

// Addr returns the bound game address. It is valid after Ready.
func (m *Manager) Addr() net.Addr {
	return m.listener.Addr()
}

// Shutdown stops Run. It is safe to call before Run or more than once.
func (m *Manager) Shutdown(by string) {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()

	m.logger.Info().Str("by", by).Msg("shutdown requested")
	m.eventBus.Emit(context.Background(), events.New(events.EventShutdown, by, nil))
	if cancel != nil {
		cancel()
	}
}

// Status builds the server list entry.
func (m *Manager) Status() protocol.StatusInfo {
	srv := m.cfg.GetServer()
	return protocol.StatusInfo{
		Version: protocol.StatusVersion{Name: protocol.VersionName, Protocol: protocol.ProtocolVersion},
		Players: protocol.StatusPlayers{
			Max:    srv.MaxPlayers,
			Online: m.hub.Online(),
			Sample: m.hub.Sample(statusSampleSize),
		},
		Description: protocol.Text(srv.MOTD),
		Favicon:     m.favicon,
	}
}

// QueryInfo builds the UDP query answer.
func (m *Manager) QueryInfo() network.QueryInfo {
	srv := m.cfg.GetServer()
	players := m.hub.Players()
	names := make([]string, len(players))
	for i, p := range players {
		names[i] = p.Name
	}
	return network.QueryInfo{
		MOTD:       srv.MOTD,
		GameType:   "SMP",
		Map:        srv.WorldName,
		Version:    protocol.VersionName,
		Plugins:    "Quarry",
		Players:    names,
		MaxPlayers: srv.MaxPlayers,
		HostIP:     srv.Address,
		HostPort:   srv.Port,
	}
}

// Overview summarizes the server for operators.
type Overview struct {
	MOTD            string `json:"motd"`
	Version         string `json:"version"`
	Protocol        int32  `json:"protocol"`
	OnlineMode      bool   `json:"online_mode"`
	PlayersOnline   int    `json:"players_online"`
	MaxPlayers      int    `json:"max_players"`
	Connections     int    `json:"connections"`
	MaxConnections  int    `json:"max_connections"`
	Compression     int    `json:"compression_threshold"`
	QueryEnabled    bool   `json:"query_enabled"`
	Uptime          string `json:"uptime"`
	ListenerAddress string `json:"listener_address"`
}

// Overview returns the current summary.
func (m *Manager) Overview() Overview {
	srv := m.cfg.GetServer()
	n := m.cfg.GetNetwork()
	m.mu.Lock()
	started := m.startedAt
	m.mu.Unlock()

	o := Overview{
		MOTD:           srv.MOTD,
		Version:        protocol.VersionName,
		Protocol:       protocol.ProtocolVersion,
		OnlineMode:     srv.OnlineMode,
		PlayersOnline:  m.hub.Online(),
		MaxPlayers:     srv.MaxPlayers,
		Connections:    m.listener.Admitted(),
		MaxConnections: n.MaxConnections,
		Compression:    n.CompressionThreshold,
		QueryEnabled:   m.query != nil,
	}
	if !started.IsZero() {
		o.Uptime = time.Since(started).Round(time.Second).String()
	}
	select {
	case <-m.listener.Ready():
		o.ListenerAddress = m.listener.Addr().String()
	default:
	}
	return o
}

// Connections lists live connections.
func (m *Manager) Connections() []network.ConnectionInfo {
	return m.listener.Connections().List()
}

// Players lists players in the lobby.
func (m *Manager) Players() []game.Member {
	return m.hub.Players()
}

// Online returns the number of players in the lobby.
func (m *Manager) Online() int {
	return m.hub.Online()
}

// Admitted returns the number of connections holding a slot.
func (m *Manager) Admitted() int {
	return m.listener.Admitted()
}

// RecentPlayers returns the player history, newest first.
func (m *Manager) RecentPlayers(ctx context.Context, limit int) ([]db.PlayerRecord, error) {
	if m.deps.Players == nil {
		return nil, nil
	}
	return m.deps.Players.Recent(ctx, limit)
}

// Kick disconnects connection id.
func (m *Manager) Kick(id uint64, reason, by string) error {
	if err := m.listener.Connections().Kick(id, reason); err != nil {
		return err
	}
	m.kicked(id, reason, by)
	return nil
}

// KickPlayer disconnects the player called name.
func (m *Manager) KickPlayer(name, reason, by string) (uint64, error) {
	id, err := m.listener.Connections().KickPlayer(name, reason)
	if err != nil {
		return 0, err
	}
	m.kicked(id, reason, by)
	return id, nil
}

func (m *Manager) kicked(id uint64, reason, by string) {
	m.logger.Info().Uint64("conn_id", id).Str("reason", reason).Str("by", by).Msg("connection kicked")
	m.eventBus.Emit(context.Background(), events.New(events.EventPlayerKicked, by, events.KickPayload{
		ConnID: id,
		Reason: reason,
		By:     by,
	}))
}

// Broadcast sends a system message to every player.
func (m *Manager) Broadcast(msg string) int {
	return m.hub.Broadcast(msg)
}

// SetMOTD changes the message of the day and saves the configuration.
func (m *Manager) SetMOTD(motd string) error {
	m.cfg.SetMOTD(motd)
	if m.cfg.Path() == "" {
		return nil
	}
	return m.cfg.Save()
}

// Bans lists the active bans.
func (m *Manager) Bans(ctx context.Context) ([]db.Ban, error) {
	if m.deps.Bans == nil {
		return nil, ErrBansUnavailable
	}
	return m.deps.Bans.List(ctx)
}

// Ban adds a ban and disconnects every connection it matches. It returns
// the stored ban and the ids of the kicked connections.
func (m *Manager) Ban(ctx context.Context, kind db.BanKind, target, reason, by string, duration time.Duration) (*db.Ban, []uint64, error) {
	if m.deps.Bans == nil {
		return nil, nil, ErrBansUnavailable
	}
	ban, err := m.deps.Bans.Ban(ctx, kind, target, reason, by, duration)
	if err != nil {
		return nil, nil, err
	}

	match := func(info network.ConnectionInfo) bool {
		if kind == db.BanName {
			return strings.EqualFold(info.Player, ban.Target)
		}
		return network.RemoteHost(info.Remote) == ban.Target
	}
	kicked := m.listener.Connections().KickWhere(match, ban.Message())

	m.logger.Info().
		Str("kind", string(kind)).
		Str("target", ban.Target).
		Str("by", by).
		Int("kicked", len(kicked)).
		Msg("ban added")
	m.eventBus.Emit(ctx, events.New(events.EventBanChanged, by, events.BanPayload{
		Kind:   string(kind),
		Target: ban.Target,
		Reason: reason,
	}))
	return ban, kicked, nil
}

// Unban removes a ban.
func (m *Manager) Unban(ctx context.Context, kind db.BanKind, target, by string) error {
	if m.deps.Bans == nil {
		return ErrBansUnavailable
	}
	if err := m.deps.Bans.Unban(ctx, kind, target); err != nil {
		return err
	}
	m.logger.Info().Str("kind", string(kind)).Str("target", target).Str("by", by).Msg("ban removed")
	m.eventBus.Emit(ctx, events.New(events.EventBanChanged, by, events.BanPayload{
		Kind:    string(kind),
		Target:  target,
		Removed: true,
	}))
	return nil
}
