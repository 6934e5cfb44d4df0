// Package scheduler runs the daily maintenance of the party beacon host:
// pruning the reservation audit log and logging a daily summary.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/partybeacon/internal/config"
	"github.com/energizer-project/partybeacon/internal/server"
)

// Pruner deletes audit rows older than a number of days.
type Pruner interface {
	CleanOldResults(days int) (int64, error)
}

// StatsSource provides the host counters for the daily summary.
type StatsSource interface {
	Stats() server.StatsSnapshot
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg    config.MaintenanceConfig
	pruner Pruner
	stats  StatsSource
	now    func() time.Time
	logger zerolog.Logger
}

// NewScheduler creates a new task scheduler. A nil pruner skips audit
// pruning.
func NewScheduler(cfg *config.Config, pruner Pruner, stats StatsSource) *Scheduler {
	return &Scheduler{
		cfg:    cfg.GetMaintenance(),
		pruner: pruner,
		stats:  stats,
		now:    time.Now,
		logger: log.With().Str("component", "scheduler").Logger(),
	}
}

// Start runs maintenance daily at the configured time until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Msg("scheduler started")

	for {
		nextRun := s.nextRun()
		sleep := nextRun.Sub(s.now())
		if sleep <= 0 {
			sleep = 24 * time.Hour
		}

		s.logger.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleep).
			Msg("maintenance scheduled")

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-timer.C:
			s.runMaintenance()
		}
	}
}

// runMaintenance prunes the audit log and logs the day's counters.
func (s *Scheduler) runMaintenance() {
	if s.pruner != nil && s.cfg.AuditRetentionDays > 0 {
		deleted, err := s.pruner.CleanOldResults(s.cfg.AuditRetentionDays)
		if err != nil {
			s.logger.Warn().Err(err).Msg("audit pruning failed")
		} else {
			s.logger.Info().
				Int64("deleted", deleted).
				Int("retention_days", s.cfg.AuditRetentionDays).
				Msg("audit log pruned")
		}
	}

	if s.stats != nil {
		stats := s.stats.Stats()
		s.logger.Info().
			Int("requests", stats.Requests).
			Interface("results", stats.Results).
			Int("cancellations", stats.Cancellations).
			Int("times_full", stats.TimesFull).
			Int("slow_ticks", stats.SlowTicks).
			Msg("daily stats")
	}
}

// nextRun returns the next time maintenance should run.
func (s *Scheduler) nextRun() time.Time {
	hour, minute, _ := config.ParseClock(s.cfg.CleanupTime)

	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
