package server

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/partybeacon/internal/beacon"
	"github.com/energizer-project/partybeacon/internal/config"
	"github.com/energizer-project/partybeacon/internal/events"
	"github.com/energizer-project/partybeacon/internal/metrics"
	"github.com/energizer-project/partybeacon/internal/network"
	"github.com/energizer-project/partybeacon/internal/protocol"
)

// commandTimeout bounds how long an operator command waits for the tick loop.
const commandTimeout = 5 * time.Second

const auditHandler = "manager.audit"

// ErrNotRunning is returned by commands issued while the host is stopped.
var ErrNotRunning = errors.New("beacon host is not running")

// Store persists the session roster and the reservation audit log.
type Store interface {
	beacon.SessionRoster
	RecordResult(session string, leader protocol.UniqueNetID, partySize int, result protocol.ReservationResult, remaining int) error
	ClearSession(session string) error
}

// Manager owns one host beacon and the goroutine that ticks it. All access
// to the beacon from other goroutines goes through the driver.
type Manager struct {
	cfg      config.BeaconConfig
	eventBus *events.EventBus
	store    Store

	host    *beacon.Host
	driver  *beacon.Driver
	stats   *BeaconStats
	running atomic.Bool
	started atomic.Bool

	logger zerolog.Logger
}

// NewManager builds the host beacon from cfg. A nil store keeps the roster
// in memory only.
func NewManager(cfg *config.Config, eventBus *events.EventBus, factory network.SocketFactory, store Store) *Manager {
	b := cfg.GetBeacon()
	logger := log.With().Str("component", "beacon_manager").Str("beacon", b.Name).Logger()
	stats := NewBeaconStats()

	var roster beacon.SessionRoster = beacon.NopRoster{}
	if store != nil {
		roster = store
	}

	host := beacon.NewHost(beacon.HostConfig{
		Name:              b.Name,
		BindAddress:       b.BindAddress,
		Port:              b.Port,
		ConnectionBacklog: b.ConnectionBacklog,
		HeartbeatTimeout:  b.HeartbeatTimeout(),
	}, factory, newHostBridge(b.Name, b.NumReservations, eventBus, stats, logger), roster, nil)

	monitor := NewTickMonitor(host, stats, b.TickInterval(), logger)

	return &Manager{
		cfg:      b,
		eventBus: eventBus,
		store:    store,
		host:     host,
		driver:   beacon.NewDriver(monitor, nil, b.TickInterval()),
		stats:    stats,
		logger:   logger,
	}
}

// Start opens the listen socket and ticks the host until ctx is cancelled,
// then destroys it. A host can be started once.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return fmt.Errorf("beacon host %s already started", m.cfg.Name)
	}

	if m.store != nil {
		if err := m.store.ClearSession(m.cfg.SessionName); err != nil {
			m.logger.Warn().Err(err).Str("session", m.cfg.SessionName).Msg("failed to clear stale roster")
		}
		m.eventBus.Subscribe(events.EventReservationRequested, auditHandler, m.onReservationRequested)
		defer m.eventBus.Unsubscribe(events.EventReservationRequested, auditHandler)
	}

	if err := m.host.Init(m.cfg.NumTeams, m.cfg.NumPlayersPerTeam, m.cfg.NumReservations, m.cfg.SessionName); err != nil {
		return fmt.Errorf("failed to start beacon host: %w", err)
	}

	snap := m.host.Snapshot()
	m.stats.MarkStarted(time.Now())
	metrics.ReservationsRemaining.Set(float64(snap.NumRemaining))
	m.emitState(events.EventBeaconStarted, snap)

	m.running.Store(true)
	err := m.driver.Run(ctx)
	m.running.Store(false)

	if destroyErr := m.host.Destroy(); destroyErr != nil {
		m.logger.Warn().Err(destroyErr).Msg("beacon destroy failed")
	}
	m.emitState(events.EventBeaconDestroyed, m.host.Snapshot())
	metrics.OpenConnections.Set(0)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (m *Manager) emitState(t events.EventType, snap beacon.HostSnapshot) {
	m.eventBus.Emit(context.Background(), events.NewEvent(t, "manager", events.BeaconStatePayload{
		Name:        snap.Name,
		ListenAddr:  snap.ListenAddr,
		SessionName: snap.SessionName,
		State:       snap.State,
	}))
}

// onReservationRequested writes the audit log off the tick goroutine.
func (m *Manager) onReservationRequested(_ context.Context, event events.Event) error {
	p, ok := event.Payload.(events.ReservationRequestedPayload)
	if !ok {
		return nil
	}
	return m.store.RecordResult(m.cfg.SessionName, p.Leader, p.PartySize, p.Result, p.Remaining)
}

// do runs fn between two ticks.
func (m *Manager) do(ctx context.Context, fn func()) error {
	if !m.running.Load() {
		return ErrNotRunning
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return m.driver.Do(ctx, fn)
}

// call runs fn through run and hands its result back over a channel, so a
// command that times out after the tick goroutine picked it up never shares
// memory with the caller.
func call[T any](ctx context.Context, run func(context.Context, func()) error, fn func() T) (T, error) {
	out := make(chan T, 1)
	if err := run(ctx, func() { out <- fn() }); err != nil {
		var zero T
		return zero, err
	}
	return <-out, nil
}

// Snapshot returns the current host state.
func (m *Manager) Snapshot(ctx context.Context) (beacon.HostSnapshot, error) {
	return call(ctx, m.do, m.host.Snapshot)
}

// Skills returns the skill values of every reserved player.
func (m *Manager) Skills(ctx context.Context) (beacon.SkillSnapshot, error) {
	return call(ctx, m.do, m.host.ReservationSkills)
}

// command runs a host broadcast and returns its error.
func (m *Manager) command(ctx context.Context, fn func() error) error {
	cmdErr, err := call(ctx, m.do, fn)
	if err != nil {
		return err
	}
	return cmdErr
}

// TellClientsToTravel sends every reserved party to the given session.
func (m *Manager) TellClientsToTravel(ctx context.Context, sessionName, className string, platformInfo [protocol.PlatformInfoSize]byte) error {
	return m.command(ctx, func() error {
		return m.host.TellClientsToTravel(sessionName, className, platformInfo)
	})
}

// TellClientsHostIsReady tells every reserved party the host is ready.
func (m *Manager) TellClientsHostIsReady(ctx context.Context) error {
	return m.command(ctx, m.host.TellClientsHostIsReady)
}

// TellClientsHostHasCancelled tells every reserved party the host gave up.
func (m *Manager) TellClientsHostHasCancelled(ctx context.Context) error {
	return m.command(ctx, m.host.TellClientsHostHasCancelled)
}

// Stats returns the accumulated counters. Safe from any goroutine.
func (m *Manager) Stats() StatsSnapshot {
	return m.stats.Snapshot()
}

// IsRunning reports whether the tick loop is active.
func (m *Manager) IsRunning() bool {
	return m.running.Load()
}

// Name returns the beacon name.
func (m *Manager) Name() string {
	return m.cfg.Name
}

// EventBus returns the bus beacon events are published on.
func (m *Manager) EventBus() *events.EventBus {
	return m.eventBus
}
