package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ReservationRequestsTotal(t *testing.T) {
	tests := []struct {
		name  string
		label string
		incN  int
	}{
		{name: "accepted", label: "reservation_accepted", incN: 1},
		{name: "limit reached", label: "party_limit_reached", incN: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(ReservationRequestsTotal.WithLabelValues(tt.label))
			for i := 0; i < tt.incN; i++ {
				ReservationRequestsTotal.WithLabelValues(tt.label).Inc()
			}
			after := testutil.ToFloat64(ReservationRequestsTotal.WithLabelValues(tt.label))
			assert.Equal(t, float64(tt.incN), after-before)
		})
	}
}

func TestMetrics_Gauges(t *testing.T) {
	ReservationsRemaining.Set(6)
	assert.Equal(t, float64(6), testutil.ToFloat64(ReservationsRemaining))

	OpenConnections.Set(0)
	OpenConnections.Inc()
	OpenConnections.Inc()
	OpenConnections.Dec()
	assert.Equal(t, float64(1), testutil.ToFloat64(OpenConnections))
}

func TestMetrics_Histograms(t *testing.T) {
	PartySize.Observe(3)
	TickDuration.Observe(0.0002)
	assert.Greater(t, testutil.CollectAndCount(PartySize), 0)
	assert.Greater(t, testutil.CollectAndCount(TickDuration), 0)
}

func TestHandler(t *testing.T) {
	CancellationsTotal.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "partybeacon_cancellations_total")
}
