// Package health runs periodic checks on server load and host resources
// and reports failures on the event bus.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/quarry/internal/config"
	"github.com/energizer-project/quarry/internal/events"
	"github.com/energizer-project/quarry/internal/util"
)

// Check names.
const (
	CheckPlayers     = "player_capacity"
	CheckConnections = "connection_capacity"
	CheckMemory      = "memory"
	CheckBans        = "ban_expiry"
)

// Pruner removes expired entries and reports how many went.
type Pruner interface {
	Prune(ctx context.Context) (int64, error)
}

// Sources are the figures the checks read.
type Sources struct {
	Players        func() int
	MaxPlayers     int
	Connections    func() int
	MaxConnections int
	// Memory returns host memory use in percent. Defaults to the host
	// reading from util.
	Memory func() (float64, error)
	Bans   Pruner
}

// Result is the outcome of the latest run of one check.
type Result struct {
	Check     string    `json:"check"`
	OK        bool      `json:"ok"`
	Value     float64   `json:"value"`
	Limit     float64   `json:"limit"`
	Message   string    `json:"message"`
	CheckedAt time.Time `json:"checked_at"`
}

// Manager runs the checks on a fixed interval.
type Manager struct {
	cfg      config.HealthConfig
	eventBus *events.EventBus
	src      Sources
	logger   zerolog.Logger

	mu      sync.RWMutex
	results map[string]Result
}

// NewManager creates a health check manager.
func NewManager(cfg config.HealthConfig, eventBus *events.EventBus, src Sources) *Manager {
	if src.Memory == nil {
		src.Memory = hostMemory
	}
	return &Manager{
		cfg:      cfg,
		eventBus: eventBus,
		src:      src,
		logger:   log.With().Str("component", "health").Logger(),
		results:  make(map[string]Result),
	}
}

func hostMemory() (float64, error) {
	m, err := util.GetMemoryUsage()
	if err != nil {
		return 0, err
	}
	return m.UsedPercent, nil
}

type check struct {
	name string
	fn   func(context.Context) (Result, bool)
}

func (m *Manager) checks() []check {
	var out []check
	if m.src.Players != nil && m.src.MaxPlayers > 0 {
		out = append(out, check{CheckPlayers, m.checkPlayers})
	}
	if m.src.Connections != nil && m.src.MaxConnections > 0 {
		out = append(out, check{CheckConnections, m.checkConnections})
	}
	out = append(out, check{CheckMemory, m.checkMemory})
	if m.src.Bans != nil {
		out = append(out, check{CheckBans, m.pruneBans})
	}
	return out
}

// Start runs every check immediately and then on each tick until ctx is
// cancelled.
func (m *Manager) Start(ctx context.Context) {
	interval := time.Duration(m.cfg.IntervalSec) * time.Second
	if interval <= 0 {
		m.logger.Info().Msg("health checks disabled")
		return
	}

	checks := m.checks()
	m.logger.Info().Int("checks", len(checks)).Dur("interval", interval).Msg("health check manager started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("health check manager stopped")
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce runs every check and records the results. A check that turns
// from passing to failing emits a health warning.
func (m *Manager) RunOnce(ctx context.Context) {
	for _, c := range m.checks() {
		res, ok := c.fn(ctx)
		if !ok {
			continue
		}
		res.Check = c.name
		res.CheckedAt = time.Now()

		m.mu.Lock()
		prev, seen := m.results[c.name]
		m.results[c.name] = res
		m.mu.Unlock()

		if res.OK {
			if seen && !prev.OK {
				m.logger.Info().Str("check", c.name).Msg("health check recovered")
			}
			continue
		}
		m.logger.Warn().Str("check", c.name).Float64("value", res.Value).Float64("limit", res.Limit).Msg(res.Message)
		if (!seen || prev.OK) && m.eventBus != nil {
			m.eventBus.Emit(ctx, events.New(events.EventHealthWarning, "health", events.HealthPayload{
				Check:   c.name,
				Value:   res.Value,
				Limit:   res.Limit,
				Message: res.Message,
			}))
		}
	}
}

// Results returns the latest result of every check, ordered by name.
func (m *Manager) Results() []Result {
	m.mu.RLock()
	out := make([]Result, 0, len(m.results))
	for _, r := range m.results {
		out = append(out, r)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Check < out[j].Check })
	return out
}

// Healthy reports whether every check passed on its latest run.
func (m *Manager) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.results {
		if !r.OK {
			return false
		}
	}
	return true
}

func percentOf(n, max int) float64 {
	return float64(n) * 100 / float64(max)
}

func (m *Manager) capacity(what string, n, max int) Result {
	pct := percentOf(n, max)
	res := Result{Value: pct, Limit: m.cfg.CapacityWarnPercent, OK: pct < m.cfg.CapacityWarnPercent}
	res.Message = fmt.Sprintf("%s at %.0f%% (%d of %d)", what, pct, n, max)
	return res
}

func (m *Manager) checkPlayers(context.Context) (Result, bool) {
	return m.capacity("player slots", m.src.Players(), m.src.MaxPlayers), true
}

func (m *Manager) checkConnections(context.Context) (Result, bool) {
	return m.capacity("connection slots", m.src.Connections(), m.src.MaxConnections), true
}

func (m *Manager) checkMemory(context.Context) (Result, bool) {
	used, err := m.src.Memory()
	if err != nil {
		m.logger.Debug().Err(err).Msg("memory check failed")
		return Result{}, false
	}
	return Result{
		Value:   used,
		Limit:   m.cfg.MemoryWarnPercent,
		OK:      used < m.cfg.MemoryWarnPercent,
		Message: fmt.Sprintf("host memory at %.1f%%", used),
	}, true
}

// pruneBans drops expired bans. It fails only when the store does.
func (m *Manager) pruneBans(ctx context.Context) (Result, bool) {
	n, err := m.src.Bans.Prune(ctx)
	if err != nil {
		return Result{Message: fmt.Sprintf("ban pruning failed: %v", err)}, true
	}
	if n > 0 {
		m.logger.Info().Int64("removed", n).Msg("pruned expired bans")
	}
	return Result{OK: true, Value: float64(n), Message: fmt.Sprintf("%d expired bans removed", n)}, true
}
