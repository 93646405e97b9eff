// Package scheduler runs Quarry's daily housekeeping: pruning players that
// have not been seen within the retention window and logging daily
// statistics.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/quarry/internal/config"
	"github.com/energizer-project/quarry/internal/events"
	"github.com/energizer-project/quarry/internal/util"
)

// PlayerStore is the player history the scheduler maintains.
type PlayerStore interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
	Count(ctx context.Context) (int, error)
}

// Scheduler runs the maintenance task once a day.
type Scheduler struct {
	cfg      config.MaintenanceConfig
	eventBus *events.EventBus
	players  PlayerStore
	online   func() int
	logger   zerolog.Logger
	now      func() time.Time
}

// NewScheduler creates a scheduler. online may be nil.
func NewScheduler(cfg config.MaintenanceConfig, eventBus *events.EventBus, players PlayerStore, online func() int) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		eventBus: eventBus,
		players:  players,
		online:   online,
		logger:   util.ComponentLogger("scheduler"),
		now:      time.Now,
	}
}

// Start runs maintenance at the configured time of day until ctx is
// cancelled. It returns at once when maintenance is disabled.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info().Msg("maintenance disabled")
		return
	}
	s.logger.Info().Str("run_at", s.cfg.RunAt).Msg("scheduler started")

	for {
		next := s.nextRun(s.now())
		s.logger.Info().
			Time("next_run", next).
			Dur("sleep", next.Sub(s.now())).
			Msg("maintenance scheduled")

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-timer.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one maintenance pass and returns its summary.
func (s *Scheduler) RunOnce(ctx context.Context) events.MaintenancePayload {
	var report events.MaintenancePayload

	if days := s.cfg.PlayerRetentionDays; days > 0 && s.players != nil {
		cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)
		n, err := s.players.Prune(ctx, cutoff)
		if err != nil {
			s.logger.Warn().Err(err).Msg("player history prune failed")
		}
		report.PlayersPruned = n
	}

	if s.players != nil {
		n, err := s.players.Count(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("player count failed")
		}
		report.KnownPlayers = n
	}
	if s.online != nil {
		report.OnlinePlayers = s.online()
	}

	s.logger.Info().
		Int64("players_pruned", report.PlayersPruned).
		Int("known_players", report.KnownPlayers).
		Int("online_players", report.OnlinePlayers).
		Msg("daily maintenance completed")
	s.eventBus.Emit(ctx, events.New(events.EventMaintenance, "scheduler", report))
	return report
}

// nextRun returns the first RunAt time strictly after now.
func (s *Scheduler) nextRun(now time.Time) time.Time {
	hour, minute := 4, 0
	if t, err := time.Parse("15:04", s.cfg.RunAt); err == nil {
		hour, minute = t.Hour(), t.Minute()
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
