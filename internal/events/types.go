// Package events defines the event types published on the Quarry event bus.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Connection lifecycle
	EventConnectionOpened   EventType = "connection_opened"
	EventConnectionClosed   EventType = "connection_closed"
	EventConnectionRejected EventType = "connection_rejected"
	EventStateChanged       EventType = "state_changed"

	// Players
	EventPlayerJoined EventType = "player_joined"
	EventPlayerLeft   EventType = "player_left"
	EventPlayerChat   EventType = "player_chat"

	// Faults
	EventProtocolViolation EventType = "protocol_violation"

	// Administration
	EventPlayerKicked EventType = "player_kicked"
	EventBanChanged   EventType = "ban_changed"

	// System
	EventHealthWarning EventType = "health_warning"
	EventServerStarted EventType = "server_started"
	EventMaintenance   EventType = "maintenance_completed"
	EventShutdown      EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Time    time.Time
	Payload interface{}
}

// New creates an event stamped with the current time.
func New(eventType EventType, source string, payload interface{}) Event {
	return Event{Type: eventType, Source: source, Time: time.Now(), Payload: payload}
}

// ConnectionPayload describes a connection at open or close.
type ConnectionPayload struct {
	ConnID   uint64        `json:"conn_id"`
	Remote   string        `json:"remote"`
	State    string        `json:"state"`
	Player   string        `json:"player,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// RejectedPayload is emitted when admission control or the rate limiter
// turns a socket away.
type RejectedPayload struct {
	Remote string `json:"remote"`
	Reason string `json:"reason"`
}

// StateChangedPayload records a connection state transition.
type StateChangedPayload struct {
	ConnID uint64 `json:"conn_id"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// PlayerPayload identifies a player.
type PlayerPayload struct {
	ConnID uint64    `json:"conn_id"`
	Name   string    `json:"name"`
	UUID   uuid.UUID `json:"uuid"`
	Remote string    `json:"remote"`
}

// ChatPayload is a chat line relayed by the game logic.
type ChatPayload struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// ViolationPayload describes a fatal protocol error on one connection.
type ViolationPayload struct {
	ConnID uint64 `json:"conn_id"`
	Remote string `json:"remote"`
	State  string `json:"state"`
	Kind   string `json:"kind"`
	Error  string `json:"error"`
}

// KickPayload is emitted when an operator disconnects a connection.
type KickPayload struct {
	ConnID uint64 `json:"conn_id"`
	Reason string `json:"reason"`
	By     string `json:"by"`
}

// BanPayload is emitted when the ban list changes.
type BanPayload struct {
	Kind    string `json:"kind"`
	Target  string `json:"target"`
	Reason  string `json:"reason,omitempty"`
	Removed bool   `json:"removed"`
}

// HealthPayload carries a failed health check.
type HealthPayload struct {
	Check   string  `json:"check"`
	Value   float64 `json:"value"`
	Limit   float64 `json:"limit"`
	Message string  `json:"message"`
}

// MaintenancePayload summarizes one housekeeping run.
type MaintenancePayload struct {
	PlayersPruned int64 `json:"players_pruned"`
	KnownPlayers  int   `json:"known_players"`
	OnlinePlayers int   `json:"online_players"`
}
