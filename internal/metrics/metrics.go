package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ReservationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partybeacon_reservation_requests_total",
			Help: "Reservation requests handled by the host",
		},
		[]string{"result"}, // reservation_accepted|party_limit_reached|...
	)

	PartySize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "partybeacon_party_size",
			Help:    "Size of parties asking for a reservation",
			Buckets: prometheus.LinearBuckets(1, 1, 8),
		},
	)

	ReservationsRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "partybeacon_reservations_remaining",
			Help: "Player slots still open on the host",
		},
	)

	ReservationsFullTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "partybeacon_reservations_full_total",
			Help: "Times every reservation slot was taken",
		},
	)

	CancellationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "partybeacon_cancellations_total",
			Help: "Reservations cancelled by clients or dropped connections",
		},
	)

	OpenConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "partybeacon_open_connections",
			Help: "Client beacon connections currently open",
		},
	)

	BroadcastRecipientsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partybeacon_broadcast_recipients_total",
			Help: "Clients reached by terminal host broadcasts",
		},
		[]string{"packet"}, // host_travel_request|host_is_ready|host_has_cancelled
	)

	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partybeacon_api_requests_total",
			Help: "REST API requests by route and status class",
		},
		[]string{"method", "route", "status"}, // status: 2xx|3xx|4xx|5xx
	)

	APIRateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "partybeacon_api_rate_limited_total",
			Help: "REST API requests rejected by the rate limiter",
		},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "partybeacon_tick_duration_seconds",
			Help:    "Duration of one host beacon tick",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12),
		},
	)
)

func init() {
	prometheus.MustRegister(ReservationRequestsTotal)
	prometheus.MustRegister(PartySize)
	prometheus.MustRegister(ReservationsRemaining)
	prometheus.MustRegister(ReservationsFullTotal)
	prometheus.MustRegister(CancellationsTotal)
	prometheus.MustRegister(OpenConnections)
	prometheus.MustRegister(BroadcastRecipientsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRateLimitedTotal)
	prometheus.MustRegister(TickDuration)
}

// Handler serves every registered collector.
func Handler() http.Handler {
	return promhttp.Handler()
}
