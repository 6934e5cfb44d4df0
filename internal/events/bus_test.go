package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_EmitReachesSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	got := make(chan Event, 2)
	bus.Subscribe(EventReservationChanged, "a", func(_ context.Context, e Event) error {
		got <- e
		return nil
	})
	bus.Subscribe(EventReservationChanged, "b", func(_ context.Context, e Event) error {
		got <- e
		return nil
	})

	ev := NewEvent(EventReservationChanged, "test", ReservationChangedPayload{Remaining: 3, Consumed: 5, Total: 8})
	bus.Emit(context.Background(), ev)

	for i := 0; i < 2; i++ {
		select {
		case e := <-got:
			assert.Equal(t, ev, e)
		case <-time.After(2 * time.Second):
			t.Fatal("handler not called")
		}
	}
}

func TestEventBus_EmitSyncReturnsFirstError(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	boom := errors.New("boom")
	var calls atomic.Int32
	bus.Subscribe(EventReservationsFull, "ok", func(context.Context, Event) error {
		calls.Add(1)
		return nil
	})
	bus.Subscribe(EventReservationsFull, "fails", func(context.Context, Event) error {
		calls.Add(1)
		return boom
	})
	bus.Subscribe(EventReservationsFull, "panics", func(context.Context, Event) error {
		calls.Add(1)
		panic("handler bug")
	})

	err := bus.EmitSync(context.Background(), NewEvent(EventReservationsFull, "test", nil))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEventBus_SubscribeMany(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var mu sync.Mutex
	var seen []EventType
	bus.SubscribeMany(BeaconEvents, "stream", func(_ context.Context, e Event) error {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
		return nil
	})
	for _, et := range BeaconEvents {
		assert.Equal(t, 1, bus.HandlerCount(et))
	}

	require.NoError(t, bus.EmitSync(context.Background(), NewEvent(EventConnectionOpened, "test", nil)))
	require.NoError(t, bus.EmitSync(context.Background(), NewEvent(EventConfigChanged, "test", nil)))
	assert.Equal(t, []EventType{EventConnectionOpened}, seen)

	bus.UnsubscribeMany(BeaconEvents, "stream")
	for _, et := range BeaconEvents {
		assert.Zero(t, bus.HandlerCount(et))
	}
}

func TestEventBus_StopDropsEvents(t *testing.T) {
	bus := NewEventBus()

	var calls atomic.Int32
	bus.Subscribe(EventShutdown, "h", func(context.Context, Event) error {
		calls.Add(1)
		return nil
	})
	bus.Stop()
	bus.Stop()

	select {
	case <-bus.StopCh():
	default:
		t.Fatal("stop channel not closed")
	}

	bus.Emit(context.Background(), NewEvent(EventShutdown, "test", nil))
	assert.NoError(t, bus.EmitSync(context.Background(), NewEvent(EventShutdown, "test", nil)))
	assert.Zero(t, calls.Load())
}

func TestEventBus_EmitDoesNotWaitForHandlers(t *testing.T) {
	bus := NewEventBus()

	release := make(chan struct{})
	var delivered atomic.Bool
	bus.Subscribe(EventBeaconDestroyed, "slow", func(context.Context, Event) error {
		<-release
		delivered.Store(true)
		return nil
	})
	bus.Subscribe(EventBeaconDestroyed, "panics", func(context.Context, Event) error {
		panic("handler bug")
	})

	done := make(chan struct{})
	go func() {
		bus.Emit(context.Background(), NewEvent(EventBeaconDestroyed, "test", nil))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a handler")
	}
	assert.False(t, delivered.Load())

	close(release)
	bus.Stop()
	assert.True(t, delivered.Load(), "Stop waits for in-flight handlers")
}
