package server

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/partybeacon/internal/events"
	"github.com/energizer-project/partybeacon/internal/protocol"
)

func TestBeaconStats_Snapshot(t *testing.T) {
	s := NewBeaconStats()

	empty := s.Snapshot()
	assert.Zero(t, empty.Requests)
	assert.Empty(t, empty.Broadcast)
	assert.Zero(t, empty.Uptime)

	s.MarkStarted(time.Now().Add(-time.Minute))
	s.AddResult(protocol.ReservationAccepted)
	s.AddResult(protocol.ReservationAccepted)
	s.AddResult(protocol.PartyLimitReached)
	s.AddCancellation()
	s.ConnectionOpened()
	s.ConnectionOpened()
	s.ConnectionClosed()
	s.ConnectionClosed()
	s.ConnectionClosed()
	s.SetBroadcast(protocol.PktHostIsReady, 2, time.Now())

	snap := s.Snapshot()
	assert.Equal(t, 3, snap.Requests)
	assert.Equal(t, map[string]int{"reservation_accepted": 2, "party_limit_reached": 1}, snap.Results)
	assert.Equal(t, 1, snap.Cancellations)
	assert.Equal(t, 0, snap.OpenConnections)
	assert.Equal(t, 2, snap.TotalConnections)
	assert.Equal(t, 3, snap.ClosedConnections)
	assert.Equal(t, "host_is_ready", snap.Broadcast)
	assert.Equal(t, 2, snap.BroadcastCount)
	assert.GreaterOrEqual(t, snap.Uptime, time.Minute)
}

// clockedTicker advances a fake clock by a fixed cost on every tick.
type clockedTicker struct {
	now   time.Time
	cost  time.Duration
	ticks int
}

func (c *clockedTicker) Tick(time.Duration) {
	c.ticks++
	c.now = c.now.Add(c.cost)
}

func TestTickMonitor(t *testing.T) {
	target := &clockedTicker{now: time.Unix(1700000000, 0)}
	stats := NewBeaconStats()
	tm := NewTickMonitor(target, stats, 10*time.Millisecond, zerolog.Nop())
	tm.now = func() time.Time { return target.now }

	tests := []struct {
		name       string
		cost       time.Duration
		slow       int
		suppressed int
	}{
		{name: "fast tick", cost: 5 * time.Millisecond, slow: 0, suppressed: 0},
		{name: "first slow tick warns", cost: 20 * time.Millisecond, slow: 1, suppressed: 0},
		{name: "second slow tick is suppressed", cost: 30 * time.Millisecond, slow: 2, suppressed: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target.cost = tt.cost
			tm.Tick(time.Millisecond)
			snap := stats.Snapshot()
			assert.Equal(t, tt.slow, snap.SlowTicks)
			assert.Equal(t, tt.suppressed, tm.suppressed)
		})
	}

	snap := stats.Snapshot()
	assert.Equal(t, int64(3), snap.Ticks)
	assert.Equal(t, 30*time.Millisecond, snap.MaxTick)
	assert.Equal(t, 30*time.Millisecond, snap.LastSlowTick)
	assert.Equal(t, 3, target.ticks)
}

func TestHostBridge_EmitsEvents(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()

	got := make(chan events.Event, 16)
	bus.SubscribeMany(events.BeaconEvents, "test", func(_ context.Context, e events.Event) error {
		got <- e
		return nil
	})

	stats := NewBeaconStats()
	b := newHostBridge("alpha", 8, bus, stats, zerolog.Nop())
	leader := protocol.UniqueNetID(0x100)

	b.ReservationRequested(leader, 3, protocol.ReservationAccepted, 5)
	e := receive(t, got)
	assert.Equal(t, events.EventReservationRequested, e.Type)
	assert.Equal(t, "beacon:alpha", e.Source)
	assert.Equal(t, events.ReservationRequestedPayload{Leader: leader, PartySize: 3, Result: protocol.ReservationAccepted, Remaining: 5}, e.Payload)

	b.ReservationChanged(5)
	e = receive(t, got)
	assert.Equal(t, events.ReservationChangedPayload{Remaining: 5, Consumed: 3, Total: 8}, e.Payload)

	b.ReservationsFull()
	e = receive(t, got)
	assert.Equal(t, events.EventReservationsFull, e.Type)

	b.ClientCancellationReceived(leader)
	e = receive(t, got)
	assert.Equal(t, events.CancellationPayload{Leader: leader}, e.Payload)

	b.ClientsNotified(protocol.PktHostHasCancelled, 2)
	e = receive(t, got)
	assert.Equal(t, events.ClientsNotifiedPayload{Packet: "host_has_cancelled", Recipients: 2}, e.Payload)

	snap := stats.Snapshot()
	assert.Equal(t, 1, snap.Results["reservation_accepted"])
	assert.Equal(t, 1, snap.TimesFull)
	assert.Equal(t, 1, snap.Cancellations)
	assert.Equal(t, "host_has_cancelled", snap.Broadcast)
}

func receive(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no event received")
		return events.Event{}
	}
}
