package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/energizer-project/partybeacon/internal/config"
	"github.com/energizer-project/partybeacon/internal/server"
)

type fakePruner struct {
	days  []int
	err   error
	count int64
}

func (f *fakePruner) CleanOldResults(days int) (int64, error) {
	f.days = append(f.days, days)
	return f.count, f.err
}

type fakeStats struct{ calls int }

func (f *fakeStats) Stats() server.StatsSnapshot {
	f.calls++
	return server.StatsSnapshot{Requests: 7}
}

func TestNextRun(t *testing.T) {
	loc := time.UTC
	tests := []struct {
		name   string
		clock  string
		now    time.Time
		expect time.Time
	}{
		{
			name:   "later today",
			clock:  "04:00",
			now:    time.Date(2024, 3, 1, 1, 30, 0, 0, loc),
			expect: time.Date(2024, 3, 1, 4, 0, 0, 0, loc),
		},
		{
			name:   "already passed",
			clock:  "04:00",
			now:    time.Date(2024, 3, 1, 9, 0, 0, 0, loc),
			expect: time.Date(2024, 3, 2, 4, 0, 0, 0, loc),
		},
		{
			name:   "exactly now runs tomorrow",
			clock:  "23:15",
			now:    time.Date(2024, 3, 1, 23, 15, 0, 0, loc),
			expect: time.Date(2024, 3, 2, 23, 15, 0, 0, loc),
		},
		{
			name:   "invalid clock falls back to 04:00",
			clock:  "later",
			now:    time.Date(2024, 3, 1, 1, 0, 0, 0, loc),
			expect: time.Date(2024, 3, 1, 4, 0, 0, 0, loc),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Maintenance.CleanupTime = tt.clock
			s := NewScheduler(cfg, nil, nil)
			s.now = func() time.Time { return tt.now }

			assert.Equal(t, tt.expect, s.nextRun())
		})
	}
}

func TestRunMaintenance(t *testing.T) {
	cfg := config.DefaultConfig()
	pruner := &fakePruner{count: 4}
	stats := &fakeStats{}
	s := NewScheduler(cfg, pruner, stats)
	s.logger = zerolog.Nop()

	s.runMaintenance()
	assert.Equal(t, []int{30}, pruner.days)
	assert.Equal(t, 1, stats.calls)

	pruner.err = errors.New("locked")
	s.runMaintenance()
	assert.Len(t, pruner.days, 2)

	cfg.Maintenance.AuditRetentionDays = 0
	s = NewScheduler(cfg, pruner, nil)
	s.logger = zerolog.Nop()
	s.runMaintenance()
	assert.Len(t, pruner.days, 2, "zero retention keeps everything")
}
