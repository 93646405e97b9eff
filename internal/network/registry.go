package network

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrNoSuchConnection is returned when a connection id or player name is
// not known.
var ErrNoSuchConnection = errors.New("no such connection")

// ConnectionRegistry tracks live connections for operators. The
// connections themselves never look each other up through it.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[uint64]*Connection
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{conns: make(map[uint64]*Connection)}
}

func (r *ConnectionRegistry) register(c *Connection) {
	r.mu.Lock()
	r.conns[c.id] = c
	r.mu.Unlock()
}

func (r *ConnectionRegistry) unregister(id uint64) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

// Get returns the connection with id.
func (r *ConnectionRegistry) Get(id uint64) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// FindPlayer returns the connection logged in as name, ignoring case.
func (r *ConnectionRegistry) FindPlayer(name string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conns {
		if p := c.name.Load(); p != nil && strings.EqualFold(*p, name) {
			return c, true
		}
	}
	return nil, false
}

// List returns a snapshot of every connection ordered by id.
func (r *ConnectionRegistry) List() []ConnectionInfo {
	r.mu.RLock()
	out := make([]ConnectionInfo, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c.Info())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of live connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Kick disconnects connection id with reason.
func (r *ConnectionRegistry) Kick(id uint64, reason string) error {
	c, ok := r.Get(id)
	if !ok {
		return ErrNoSuchConnection
	}
	if !c.Kick(reason) {
		return errors.New("connection is already closing")
	}
	log.Info().Uint64("conn_id", id).Str("reason", reason).Msg("connection kicked")
	return nil
}

// KickPlayer disconnects the connection logged in as name.
func (r *ConnectionRegistry) KickPlayer(name, reason string) (uint64, error) {
	c, ok := r.FindPlayer(name)
	if !ok {
		return 0, ErrNoSuchConnection
	}
	return c.id, r.Kick(c.id, reason)
}

// KickWhere kicks every connection whose info satisfies match and returns
// the ids it kicked.
func (r *ConnectionRegistry) KickWhere(match func(ConnectionInfo) bool, reason string) []uint64 {
	r.mu.RLock()
	var targets []*Connection
	for _, c := range r.conns {
		if match(c.Info()) {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	var kicked []uint64
	for _, c := range targets {
		if c.Kick(reason) {
			kicked = append(kicked, c.id)
		}
	}
	sort.Slice(kicked, func(i, j int) bool { return kicked[i] < kicked[j] })
	return kicked
}

// RemoteHost returns the IP part of a remote address.
func RemoteHost(addr string) string {
	return hostOf(addr)
}

// closeAll tears down every connection without a disconnect notice.
func (r *ConnectionRegistry) closeAll() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conns {
		c.forceClose()
	}
	return len(r.conns)
}
