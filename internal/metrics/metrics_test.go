package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/airportguess/internal/assign"
	"github.com/yegors/airportguess/internal/track"
)

func TestObserve(t *testing.T) {
	m := New()
	m.ObserveRowsRead(10)
	m.ObservePreprocess(track.Stats{DroppedNoPosition: 2, DroppedAltitude: 1})
	m.SetAirports(4)

	code, dist := "RJTT", 1.5
	far := 40.0
	m.ObserveAssign([]assign.Guess{
		{Callsign: "JAL001", Phase: track.PhaseDeparted, AirportCode: &code, Distance: &dist},
		{Callsign: "JAL001", Phase: track.PhaseLanded, Distance: &far},
		{Callsign: "ANA002", Phase: track.PhaseLanded},
	}, 250*time.Millisecond)

	assert.Equal(t, 10.0, testutil.ToFloat64(m.TrackRowsRead))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TrackRowsDropped.WithLabelValues("no_position")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrackRowsDropped.WithLabelValues("altitude")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GuessesTotal.WithLabelValues("DEPARTED", "matched")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.GuessesTotal.WithLabelValues("LANDED", "unmatched")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.AirportsLoaded))
	assert.Greater(t, testutil.ToFloat64(m.LastAssignTimestamp), 0.0)
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveRowsRead(1)
	m.ObservePreprocess(track.Stats{})
	m.ObserveAssign(nil, time.Second)
	m.SetAirports(1)
}

func TestHandler(t *testing.T) {
	m := New()
	m.SetAirports(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "airportguess_airports_loaded 3")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestSessionsDoNotShareRegistries(t *testing.T) {
	a, b := New(), New()
	a.ObserveRowsRead(5)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.TrackRowsRead))
}
