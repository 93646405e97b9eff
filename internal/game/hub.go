package game

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/quarry/internal/events"
	"github.com/energizer-project/quarry/internal/protocol"
)

var (
	ErrServerFull    = errors.New("the server is full")
	ErrAlreadyOnline = errors.New("you are already logged in")
)

const brandChannel = "minecraft:brand"

// HubConfig configures the lobby.
type HubConfig struct {
	MaxPlayers int
	WorldName  string
	Brand      string
	Spawn      [3]float64
}

// Member is a snapshot of one online player.
type Member struct {
	Player
	JoinedAt     time.Time  `json:"joined_at"`
	Locale       string     `json:"locale,omitempty"`
	ViewDistance int8       `json:"view_distance,omitempty"`
	ClientBrand  string     `json:"client_brand,omitempty"`
	Position     [3]float64 `json:"position"`
}

type member struct {
	mu     sync.Mutex
	info   Member
	bridge *Bridge
}

func (m *member) snapshot() Member {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// Hub is the reference game collaborator: it welcomes players, relays
// chat and tracks who is online. It has no world; movement is recorded
// but not simulated.
type Hub struct {
	cfg    HubConfig
	bus    *events.EventBus
	logger zerolog.Logger

	mu      sync.RWMutex
	members map[uuid.UUID]*member

	wg sync.WaitGroup
}

// NewHub creates a lobby. bus may be nil.
func NewHub(cfg HubConfig, bus *events.EventBus) *Hub {
	if cfg.Brand == "" {
		cfg.Brand = "quarry"
	}
	return &Hub{
		cfg:     cfg,
		bus:     bus,
		logger:  log.With().Str("component", "hub").Logger(),
		members: make(map[uuid.UUID]*member),
	}
}

// Join implements Logic.
func (h *Hub) Join(ctx context.Context, p Player, b *Bridge) error {
	m := &member{
		info: Member{
			Player:   p,
			JoinedAt: time.Now(),
			Position: h.cfg.Spawn,
		},
		bridge: b,
	}

	h.mu.Lock()
	if _, ok := h.members[p.UUID]; ok {
		h.mu.Unlock()
		return ErrAlreadyOnline
	}
	if h.cfg.MaxPlayers > 0 && len(h.members) >= h.cfg.MaxPlayers {
		h.mu.Unlock()
		return ErrServerFull
	}
	h.members[p.UUID] = m
	h.mu.Unlock()

	h.welcome(m)
	h.broadcast(systemMessage(p.Name+" joined the game", "yellow"), p.UUID)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.serve(ctx, m)
	}()

	h.logger.Info().Str("player", p.Name).Uint64("conn_id", p.ConnID).Msg("player joined")
	return nil
}

// Leave implements Logic.
func (h *Hub) Leave(p Player, reason string) {
	h.mu.Lock()
	m, ok := h.members[p.UUID]
	if ok && m.info.ConnID == p.ConnID {
		delete(h.members, p.UUID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	h.broadcast(systemMessage(p.Name+" left the game", "yellow"), p.UUID)
	h.logger.Info().Str("player", p.Name).Str("reason", reason).Msg("player left")
}

// Wait blocks until every player goroutine has returned.
func (h *Hub) Wait() {
	h.wg.Wait()
}

func (h *Hub) welcome(m *member) {
	b := m.bridge
	b.TrySend(&protocol.PlayerPositionAndLook{
		X: h.cfg.Spawn[0], Y: h.cfg.Spawn[1], Z: h.cfg.Spawn[2],
		TeleportID: 1,
	})
	b.TrySend(&protocol.TimeUpdate{TimeOfDay: 6000})
	b.TrySend(&protocol.ClientboundChat{
		Message:  systemMessage(fmt.Sprintf("Welcome to %s, %s!", h.worldName(), m.info.Name), "gold"),
		Position: protocol.ChatPositionSystem,
	})
}

func (h *Hub) worldName() string {
	if h.cfg.WorldName == "" {
		return "the lobby"
	}
	return h.cfg.WorldName
}

func (h *Hub) serve(ctx context.Context, m *member) {
	for {
		select {
		case p := <-m.bridge.Inbound():
			h.handle(ctx, m, p)
		case <-m.bridge.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) handle(ctx context.Context, m *member, p protocol.Packet) {
	switch pkt := p.(type) {
	case *protocol.ServerboundChat:
		h.chat(ctx, m, strings.TrimSpace(pkt.Message))
	case *protocol.ClientSettings:
		m.mu.Lock()
		m.info.Locale = pkt.Locale
		m.info.ViewDistance = pkt.ViewDistance
		m.mu.Unlock()
	case *protocol.PlayerPosition:
		m.setPosition(pkt.X, pkt.Y, pkt.Z)
	case *protocol.PlayerPositionAndRotation:
		m.setPosition(pkt.X, pkt.Y, pkt.Z)
	case *protocol.ServerboundPluginMessage:
		if pkt.Channel == brandChannel {
			brand, err := protocol.NewReader(pkt.Data).String(protocol.MaxStringLength)
			if err == nil {
				m.mu.Lock()
				m.info.ClientBrand = brand
				m.mu.Unlock()
			}
			m.bridge.TrySend(&protocol.ClientboundPluginMessage{
				Channel: brandChannel,
				Data:    protocol.NewBuilder().String(h.cfg.Brand, protocol.MaxStringLength).Bytes(),
			})
		}
	case *protocol.TeleportConfirm, *protocol.PlayerRotation, *protocol.PlayerMovement:
	default:
		h.logger.Debug().Str("packet", p.Kind().String()).Msg("ignored packet")
	}
}

func (m *member) setPosition(x, y, z float64) {
	m.mu.Lock()
	m.info.Position = [3]float64{x, y, z}
	m.mu.Unlock()
}

func (h *Hub) chat(ctx context.Context, m *member, msg string) {
	if msg == "" {
		return
	}
	name := m.info.Name
	if strings.HasPrefix(msg, "/") {
		h.command(ctx, m, msg[1:])
		return
	}

	h.broadcast(protocol.Chat{
		Translate: "chat.type.text",
		With:      []protocol.Chat{protocol.Text(name), protocol.Text(msg)},
	}, uuid.Nil)

	if h.bus != nil {
		h.bus.Emit(ctx, events.New(events.EventPlayerChat, "hub", events.ChatPayload{
			Name:    name,
			Message: msg,
		}))
	}
}

func (h *Hub) command(ctx context.Context, m *member, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	var reply string
	switch strings.ToLower(fields[0]) {
	case "list":
		players := h.Players()
		names := make([]string, len(players))
		for i, p := range players {
			names[i] = p.Name
		}
		reply = fmt.Sprintf("There are %d players online: %s", len(names), strings.Join(names, ", "))
	case "ping":
		reply = "Pong!"
	default:
		reply = "Unknown command. Try /list or /ping"
	}
	m.bridge.Send(ctx, &protocol.ClientboundChat{
		Message:  systemMessage(reply, "gray"),
		Position: protocol.ChatPositionSystem,
	})
}

// Broadcast sends a system message to every player and returns how many
// queues accepted it.
func (h *Hub) Broadcast(msg string) int {
	return h.broadcast(systemMessage(msg, "light_purple"), uuid.Nil)
}

// broadcast is lossy: a player whose outbound queue is full misses the
// message rather than stalling everyone else.
func (h *Hub) broadcast(msg protocol.Chat, except uuid.UUID) int {
	h.mu.RLock()
	targets := make([]*member, 0, len(h.members))
	for id, m := range h.members {
		if id != except {
			targets = append(targets, m)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, m := range targets {
		if m.bridge.TrySend(&protocol.ClientboundChat{Message: msg, Position: protocol.ChatPositionChat}) {
			delivered++
		} else {
			h.logger.Debug().Str("player", m.info.Name).Msg("dropped broadcast, queue full")
		}
	}
	return delivered
}

// Players returns the online players sorted by name.
func (h *Hub) Players() []Member {
	h.mu.RLock()
	out := make([]Member, 0, len(h.members))
	for _, m := range h.members {
		out = append(out, m.snapshot())
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Online returns the number of players in the lobby.
func (h *Hub) Online() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

// Sample returns up to n players for the status response.
func (h *Hub) Sample(n int) []protocol.StatusSample {
	players := h.Players()
	if len(players) > n {
		players = players[:n]
	}
	out := make([]protocol.StatusSample, len(players))
	for i, p := range players {
		out[i] = protocol.StatusSample{Name: p.Name, ID: p.UUID}
	}
	return out
}

func systemMessage(text, color string) protocol.Chat {
	return protocol.Chat{Text: text, Color: color}
}
