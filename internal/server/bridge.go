package server

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/partybeacon/internal/events"
	"github.com/energizer-project/partybeacon/internal/metrics"
	"github.com/energizer-project/partybeacon/internal/protocol"
)

// hostBridge turns host beacon callbacks into bus events, metrics and
// stats. It runs on the tick goroutine and must not block.
type hostBridge struct {
	source string
	total  int
	bus    *events.EventBus
	stats  *BeaconStats
	logger zerolog.Logger
}

func newHostBridge(name string, total int, bus *events.EventBus, stats *BeaconStats, logger zerolog.Logger) *hostBridge {
	return &hostBridge{
		source: "beacon:" + name,
		total:  total,
		bus:    bus,
		stats:  stats,
		logger: logger,
	}
}

func (b *hostBridge) emit(t events.EventType, payload interface{}) {
	b.bus.Emit(context.Background(), events.NewEvent(t, b.source, payload))
}

func (b *hostBridge) ConnectionOpened(remote string) {
	b.stats.ConnectionOpened()
	metrics.OpenConnections.Inc()
	b.emit(events.EventConnectionOpened, events.ConnectionPayload{Remote: remote})
}

func (b *hostBridge) ConnectionClosed(remote string, leader protocol.UniqueNetID) {
	b.stats.ConnectionClosed()
	metrics.OpenConnections.Dec()
	b.emit(events.EventConnectionClosed, events.ConnectionPayload{Remote: remote, Leader: leader})
}

func (b *hostBridge) ReservationRequested(leader protocol.UniqueNetID, partySize int, result protocol.ReservationResult, remaining int) {
	b.stats.AddResult(result)
	metrics.ReservationRequestsTotal.WithLabelValues(result.String()).Inc()
	metrics.PartySize.Observe(float64(partySize))
	b.emit(events.EventReservationRequested, events.ReservationRequestedPayload{
		Leader:    leader,
		PartySize: partySize,
		Result:    result,
		Remaining: remaining,
	})
}

func (b *hostBridge) ReservationChanged(remaining int) {
	metrics.ReservationsRemaining.Set(float64(remaining))
	b.emit(events.EventReservationChanged, events.ReservationChangedPayload{
		Remaining: remaining,
		Consumed:  b.total - remaining,
		Total:     b.total,
	})
}

func (b *hostBridge) ReservationsFull() {
	b.logger.Info().Int("total", b.total).Msg("all reservations taken")
	b.stats.MarkFull(time.Now())
	metrics.ReservationsFullTotal.Inc()
	b.emit(events.EventReservationsFull, events.ReservationChangedPayload{Consumed: b.total, Total: b.total})
}

func (b *hostBridge) ClientCancellationReceived(leader protocol.UniqueNetID) {
	b.stats.AddCancellation()
	metrics.CancellationsTotal.Inc()
	b.emit(events.EventClientCancellation, events.CancellationPayload{Leader: leader})
}

func (b *hostBridge) ClientsNotified(pkt protocol.PacketType, recipients int) {
	b.stats.SetBroadcast(pkt, recipients, time.Now())
	metrics.BroadcastRecipientsTotal.WithLabelValues(pkt.String()).Add(float64(recipients))
	b.emit(events.EventClientsNotified, events.ClientsNotifiedPayload{Packet: pkt.String(), Recipients: recipients})
}
