// Package server runs one party beacon host as a long-lived service: it owns
// the tick goroutine, fans beacon callbacks out to events, metrics and
// storage, and serialises operator commands into the tick loop.
package server

import (
	"sync"
	"time"

	"github.com/energizer-project/partybeacon/internal/protocol"
)

// BeaconStats accumulates counters about the running host. It is written
// from the tick goroutine and read by the API and CLI.
type BeaconStats struct {
	mu sync.RWMutex

	StartedAt time.Time

	// Reservations by result
	Results       map[protocol.ReservationResult]int
	Cancellations int
	TimesFull     int
	LastFullAt    time.Time

	// Connections
	OpenConnections   int
	TotalConnections  int
	ClosedConnections int

	// Tick timing
	Ticks        int64
	SlowTicks    int
	LastSlowTick time.Duration
	MaxTick      time.Duration

	// Terminal broadcast, if one was sent
	Broadcast      protocol.PacketType
	BroadcastCount int
	BroadcastAt    time.Time
}

// NewBeaconStats creates an empty stats block.
func NewBeaconStats() *BeaconStats {
	return &BeaconStats{
		Results:   make(map[protocol.ReservationResult]int),
		Broadcast: protocol.PktUnknown,
	}
}

// MarkStarted records when the host started listening.
func (s *BeaconStats) MarkStarted(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartedAt = at
}

// AddResult counts one reservation request outcome.
func (s *BeaconStats) AddResult(result protocol.ReservationResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Results[result]++
}

// AddCancellation counts one released reservation.
func (s *BeaconStats) AddCancellation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Cancellations++
}

// MarkFull records that every slot was taken.
func (s *BeaconStats) MarkFull(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TimesFull++
	s.LastFullAt = at
}

// ConnectionOpened counts an accepted client.
func (s *BeaconStats) ConnectionOpened() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenConnections++
	s.TotalConnections++
}

// ConnectionClosed counts a dropped client.
func (s *BeaconStats) ConnectionClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenConnections > 0 {
		s.OpenConnections--
	}
	s.ClosedConnections++
}

// AddTick records one tick's duration. slow marks ticks over the threshold.
func (s *BeaconStats) AddTick(d time.Duration, slow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Ticks++
	if d > s.MaxTick {
		s.MaxTick = d
	}
	if slow {
		s.SlowTicks++
		s.LastSlowTick = d
	}
}

// SetBroadcast records the terminal packet sent to clients.
func (s *BeaconStats) SetBroadcast(t protocol.PacketType, recipients int, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Broadcast = t
	s.BroadcastCount = recipients
	s.BroadcastAt = at
}

// Snapshot returns a read-only copy of the current counters.
func (s *BeaconStats) Snapshot() StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make(map[string]int, len(s.Results))
	total := 0
	for r, n := range s.Results {
		results[r.String()] = n
		total += n
	}

	snap := StatsSnapshot{
		StartedAt:         s.StartedAt,
		Requests:          total,
		Results:           results,
		Cancellations:     s.Cancellations,
		TimesFull:         s.TimesFull,
		LastFullAt:        s.LastFullAt,
		OpenConnections:   s.OpenConnections,
		TotalConnections:  s.TotalConnections,
		ClosedConnections: s.ClosedConnections,
		Ticks:             s.Ticks,
		SlowTicks:         s.SlowTicks,
		MaxTick:           s.MaxTick,
		LastSlowTick:      s.LastSlowTick,
		BroadcastCount:    s.BroadcastCount,
		BroadcastAt:       s.BroadcastAt,
	}
	if s.Broadcast != protocol.PktUnknown {
		snap.Broadcast = s.Broadcast.String()
	}
	if !s.StartedAt.IsZero() {
		snap.Uptime = time.Since(s.StartedAt).Round(time.Second)
	}
	return snap
}

// StatsSnapshot is an immutable copy of BeaconStats.
type StatsSnapshot struct {
	StartedAt         time.Time      `json:"started_at"`
	Uptime            time.Duration  `json:"uptime"`
	Requests          int            `json:"requests"`
	Results           map[string]int `json:"results"`
	Cancellations     int            `json:"cancellations"`
	TimesFull         int            `json:"times_full"`
	LastFullAt        time.Time      `json:"last_full_at"`
	OpenConnections   int            `json:"open_connections"`
	TotalConnections  int            `json:"total_connections"`
	ClosedConnections int            `json:"closed_connections"`
	Ticks             int64          `json:"ticks"`
	SlowTicks         int            `json:"slow_ticks"`
	MaxTick           time.Duration  `json:"max_tick"`
	LastSlowTick      time.Duration  `json:"last_slow_tick"`
	Broadcast         string         `json:"broadcast,omitempty"`
	BroadcastCount    int            `json:"broadcast_count"`
	BroadcastAt       time.Time      `json:"broadcast_at"`
}
