package beacon

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Clock is the time source the driver measures tick deltas with.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now.
func (SystemClock) Now() time.Time { return time.Now() }

// Ticker is anything driven by Tick.
type Ticker interface {
	Tick(delta time.Duration)
}

// Driver pumps Tick on one goroutine at a fixed interval. Other goroutines
// reach the beacon only through Do, which runs on that same goroutine.
type Driver struct {
	target   Ticker
	clock    Clock
	interval time.Duration
	commands chan func()
	logger   zerolog.Logger
}

// NewDriver creates a driver for target. A nil clock uses the wall clock.
func NewDriver(target Ticker, clock Clock, interval time.Duration) *Driver {
	if clock == nil {
		clock = SystemClock{}
	}
	if interval <= 0 {
		interval = 33 * time.Millisecond
	}
	return &Driver{
		target:   target,
		clock:    clock,
		interval: interval,
		commands: make(chan func()),
		logger:   log.With().Str("component", "beacon_driver").Logger(),
	}
}

// Run ticks the target until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	last := d.clock.Now()
	d.logger.Debug().Dur("interval", d.interval).Msg("beacon driver started")

	for {
		select {
		case <-ctx.Done():
			d.logger.Debug().Msg("beacon driver stopped")
			return ctx.Err()
		case fn := <-d.commands:
			fn()
		case <-ticker.C:
			now := d.clock.Now()
			delta := now.Sub(last)
			last = now
			if delta < 0 {
				delta = 0
			}
			d.target.Tick(delta)
		}
	}
}

// Do runs fn on the driver goroutine between ticks and waits for it.
func (d *Driver) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}

	select {
	case d.commands <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
