// Package health runs periodic checks on the party beacon host: tick loop
// responsiveness, slow ticks and disk space, plus a status heartbeat.
package health

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/partybeacon/internal/beacon"
	"github.com/energizer-project/partybeacon/internal/config"
	"github.com/energizer-project/partybeacon/internal/events"
	"github.com/energizer-project/partybeacon/internal/server"
	"github.com/energizer-project/partybeacon/internal/util"
)

const probeTimeout = 2 * time.Second

// Alert levels
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Probe is the part of server.Manager the checks read.
type Probe interface {
	Name() string
	IsRunning() bool
	Snapshot(ctx context.Context) (beacon.HostSnapshot, error)
	Stats() server.StatsSnapshot
}

// Manager runs periodic health checks.
type Manager struct {
	cfg      config.MaintenanceConfig
	dataDir  string
	eventBus *events.EventBus
	probe    Probe
	usage    func(path string) (util.ResourceUsage, error)
	logger   zerolog.Logger

	lastSlowTicks int
}

// NewManager creates a health check manager for probe.
func NewManager(cfg *config.Config, eventBus *events.EventBus, probe Probe) *Manager {
	return &Manager{
		cfg:      cfg.GetMaintenance(),
		dataDir:  filepath.Dir(cfg.GetDatabase().Path),
		eventBus: eventBus,
		probe:    probe,
		usage:    util.GetResourceUsage,
		logger:   log.With().Str("component", "health").Logger(),
	}
}

// Start launches every check on its own ticker and blocks until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	interval := time.Duration(m.cfg.HealthCheckIntervalSec) * time.Second
	checks := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context)
	}{
		{"beacon_responsive", interval, m.checkBeacon},
		{"slow_ticks", interval, m.checkSlowTicks},
		{"disk_utilization", interval, m.checkDisk},
		{"heartbeat", time.Duration(m.cfg.HeartbeatIntervalSec) * time.Second, m.sendHeartbeat},
	}

	started := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		started++

		check := check
		go func() {
			ticker := time.NewTicker(check.interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	m.logger.Info().Int("checks", started).Msg("health check manager started")
	<-ctx.Done()
	m.logger.Info().Msg("health check manager stopped")
}

func (m *Manager) alert(ctx context.Context, check, level, message string) {
	m.logger.Warn().Str("check", check).Str("level", level).Msg(message)
	m.eventBus.Emit(ctx, events.NewEvent(events.EventHealthAlert, "health", events.HealthAlertPayload{
		Check:   check,
		Level:   level,
		Message: message,
	}))
}

// checkBeacon makes sure the tick loop still answers commands.
func (m *Manager) checkBeacon(ctx context.Context) {
	if !m.probe.IsRunning() {
		m.alert(ctx, "beacon_responsive", LevelError, "beacon host is not running")
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if _, err := m.probe.Snapshot(probeCtx); err != nil {
		if ctx.Err() != nil {
			return
		}
		m.alert(ctx, "beacon_responsive", LevelError, fmt.Sprintf("beacon tick loop did not answer: %v", err))
	}
}

// checkSlowTicks reports ticks over the threshold since the last check.
func (m *Manager) checkSlowTicks(ctx context.Context) {
	stats := m.probe.Stats()
	delta := stats.SlowTicks - m.lastSlowTicks
	m.lastSlowTicks = stats.SlowTicks
	if delta <= 0 {
		return
	}

	level := LevelInfo
	if delta > 5 {
		level = LevelWarning
	}
	m.alert(ctx, "slow_ticks", level,
		fmt.Sprintf("%d slow ticks since last check (longest %s)", delta, stats.MaxTick))
}

// checkDisk alerts when the disk holding the database fills up.
func (m *Manager) checkDisk(ctx context.Context) {
	if m.cfg.DiskWarnPercent <= 0 {
		return
	}

	usage, err := m.usage(m.dataDir)
	if err != nil {
		m.logger.Warn().Err(err).Msg("disk utilization check failed")
		return
	}

	m.logger.Debug().
		Float64("used_percent", usage.DiskPercent).
		Uint64("free_gb", usage.DiskFreeGB).
		Msg("disk utilization")

	if usage.DiskPercent < m.cfg.DiskWarnPercent {
		return
	}

	level := LevelInfo
	switch {
	case usage.DiskPercent >= 95:
		level = LevelError
	case usage.DiskPercent >= 90:
		level = LevelWarning
	}
	m.alert(ctx, "disk_utilization", level,
		fmt.Sprintf("disk usage at %.1f%% (%d GB free)", usage.DiskPercent, usage.DiskFreeGB))
}

// sendHeartbeat publishes a short status summary.
func (m *Manager) sendHeartbeat(ctx context.Context) {
	payload := events.HeartbeatPayload{
		Name:     m.probe.Name(),
		Running:  m.probe.IsRunning(),
		Requests: m.probe.Stats().Requests,
	}

	if payload.Running {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		snap, err := m.probe.Snapshot(probeCtx)
		cancel()
		if err == nil {
			payload.Remaining = snap.NumRemaining
			payload.Consumed = snap.NumConsumedReservations
			payload.Connections = len(snap.Connections)
		}
	}

	m.eventBus.Emit(ctx, events.NewEvent(events.EventHeartbeat, "health", payload))
}
