package server

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/partybeacon/internal/beacon"
	"github.com/energizer-project/partybeacon/internal/metrics"
)

// slowTickLogInterval limits slow tick warnings to one per interval.
const slowTickLogInterval = 10 * time.Second

// TickMonitor times every tick of the wrapped beacon. A tick longer than
// the threshold stalls every client of the host, so it is counted and
// logged.
type TickMonitor struct {
	target    beacon.Ticker
	stats     *BeaconStats
	threshold time.Duration
	now       func() time.Time
	logger    zerolog.Logger

	lastWarn   time.Time
	suppressed int
}

// NewTickMonitor wraps target. Ticks over threshold count as slow.
func NewTickMonitor(target beacon.Ticker, stats *BeaconStats, threshold time.Duration, logger zerolog.Logger) *TickMonitor {
	return &TickMonitor{
		target:    target,
		stats:     stats,
		threshold: threshold,
		now:       time.Now,
		logger:    logger,
	}
}

// Tick runs one tick of the target and records how long it took.
func (tm *TickMonitor) Tick(delta time.Duration) {
	start := tm.now()
	tm.target.Tick(delta)
	elapsed := tm.now().Sub(start)

	metrics.TickDuration.Observe(elapsed.Seconds())

	slow := tm.threshold > 0 && elapsed > tm.threshold
	tm.stats.AddTick(elapsed, slow)
	if !slow {
		return
	}

	if now := tm.now(); now.Sub(tm.lastWarn) >= slowTickLogInterval {
		tm.logger.Warn().
			Dur("elapsed", elapsed).
			Dur("threshold", tm.threshold).
			Int("suppressed", tm.suppressed).
			Msg("slow beacon tick")
		tm.lastWarn = now
		tm.suppressed = 0
	} else {
		tm.suppressed++
	}
}
