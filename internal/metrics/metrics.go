// Package metrics defines the Prometheus collectors of an airport guessing session. Each
// session owns its own registry so several sessions (and tests) never collide on the
// default registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yegors/airportguess/internal/assign"
	"github.com/yegors/airportguess/internal/track"
)

const namespace = "airportguess"

// Metrics holds the collectors of one session
type Metrics struct {
	registry *prometheus.Registry

	// TrackRowsRead counts raw rows handed to the session
	TrackRowsRead prometheus.Counter

	// TrackRowsDropped counts rows removed during preprocessing.
	// Label:
	//   - reason: "no_position" or "altitude"
	TrackRowsDropped *prometheus.CounterVec

	// GuessesTotal counts guesses produced by assignment runs.
	// Labels:
	//   - phase: "DEPARTED" or "LANDED"
	//   - result: "matched" or "unmatched"
	GuessesTotal *prometheus.CounterVec

	// NearestAirportDistance records the nearest airport distance of every guess
	NearestAirportDistance prometheus.Histogram

	// AssignDuration measures a full assignment run
	AssignDuration prometheus.Histogram

	// AirportsLoaded is the size of the airport catalog
	AirportsLoaded prometheus.Gauge

	// LastAssignTimestamp is the unix time of the last completed run
	LastAssignTimestamp prometheus.Gauge
}

// New creates the collectors on a fresh registry, together with the Go and process
// collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TrackRowsRead: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "track_rows_read_total",
			Help:      "Total number of raw track rows loaded.",
		}),
		TrackRowsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "track_rows_dropped_total",
			Help:      "Total number of track rows dropped during preprocessing, by reason.",
		}, []string{"reason"}),
		GuessesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guesses_total",
			Help:      "Total number of airport guesses, by phase and result.",
		}, []string{"phase", "result"}),
		NearestAirportDistance: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "nearest_airport_distance_km",
			Help:      "Distance from a track endpoint to its nearest airport.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 250, 500},
		}),
		AssignDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assign_duration_seconds",
			Help:      "Duration of an airport assignment run.",
			Buckets:   prometheus.DefBuckets,
		}),
		AirportsLoaded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "airports_loaded",
			Help:      "Number of airports in the catalog.",
		}),
		LastAssignTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_assign_timestamp_seconds",
			Help:      "Unix time of the last completed assignment run.",
		}),
	}
}

// Handler serves the session registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRowsRead records n loaded rows
func (m *Metrics) ObserveRowsRead(n int) {
	if m == nil {
		return
	}
	m.TrackRowsRead.Add(float64(n))
}

// ObservePreprocess records the drops of a preprocessing pass
func (m *Metrics) ObservePreprocess(stats track.Stats) {
	if m == nil {
		return
	}
	m.TrackRowsDropped.WithLabelValues("no_position").Add(float64(stats.DroppedNoPosition))
	m.TrackRowsDropped.WithLabelValues("altitude").Add(float64(stats.DroppedAltitude))
}

// ObserveAssign records the outcome of an assignment run
func (m *Metrics) ObserveAssign(guesses []assign.Guess, elapsed time.Duration) {
	if m == nil {
		return
	}
	for _, g := range guesses {
		result := "unmatched"
		if g.Matched() {
			result = "matched"
		}
		m.GuessesTotal.WithLabelValues(g.Phase.String(), result).Inc()
		if g.Distance != nil {
			m.NearestAirportDistance.Observe(*g.Distance)
		}
	}
	m.AssignDuration.Observe(elapsed.Seconds())
	m.LastAssignTimestamp.SetToCurrentTime()
}

// SetAirports records the catalog size
func (m *Metrics) SetAirports(n int) {
	if m == nil {
		return
	}
	m.AirportsLoaded.Set(float64(n))
}
