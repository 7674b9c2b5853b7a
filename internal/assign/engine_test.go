package assign

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/airportguess/internal/airports"
	"github.com/yegors/airportguess/internal/physics"
	"github.com/yegors/airportguess/internal/track"
)

var japan = []airports.Entry{
	{Code: "RJTT", Latitude: "353312N", Longitude: "1394652E"},
	{Code: "RJAA", Latitude: "354604N", Longitude: "1402311E"},
	{Code: "RJCC", Latitude: "424631N", Longitude: "1414132E"},
	{Code: "RJBB", Latitude: "342538N", Longitude: "1351350E"},
}

var t0 = time.Date(2019, 8, 16, 9, 0, 0, 0, time.UTC)

func catalog(t *testing.T, entries []airports.Entry) *airports.Catalog {
	t.Helper()
	c, err := airports.NewCatalog(entries, airports.Options{}, nil)
	require.NoError(t, err)
	return c
}

func endpoint(callsign string, phase track.Phase, lat, lon float64) track.Row {
	return track.Row{Callsign: callsign, Phase: phase, Latitude: lat, Longitude: lon, Timestamp: t0}
}

func TestNewEngineValidatesRadius(t *testing.T) {
	for _, r := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := NewEngine(r, 1, nil)
		assert.ErrorIs(t, err, ErrInvalidRadius)
	}

	e := &Engine{Radius: -5}
	_, err := e.Assign(context.Background(), catalog(t, japan), nil)
	assert.ErrorIs(t, err, ErrInvalidRadius)
}

func TestAssignMatchesNearestAirport(t *testing.T) {
	c := catalog(t, japan)
	rjtt, _ := c.Lookup("RJTT")
	rjcc, _ := c.Lookup("RJCC")

	e, err := NewEngine(DefaultRadius, 2, nil)
	require.NoError(t, err)

	rows := []track.Row{
		endpoint("JAL001", track.PhaseDeparted, rjtt.Latitude+0.01, rjtt.Longitude),
		{Callsign: "JAL001", Phase: track.PhaseUnknown, Latitude: 38, Longitude: 140},
		endpoint("JAL001", track.PhaseLanded, rjcc.Latitude, rjcc.Longitude+0.02),
		endpoint("ANA002", track.PhaseLanded, 37.0, 138.0),
	}
	guesses, err := e.Assign(context.Background(), c, rows)
	require.NoError(t, err)
	require.Len(t, guesses, 3)

	assert.Equal(t, "ANA002", guesses[0].Callsign)
	assert.False(t, guesses[0].Matched())
	assert.Nil(t, guesses[0].Bearing)
	require.NotNil(t, guesses[0].Distance)
	assert.Greater(t, *guesses[0].Distance, DefaultRadius)

	assert.Equal(t, "JAL001", guesses[1].Callsign)
	assert.Equal(t, track.PhaseDeparted, guesses[1].Phase)
	assert.Equal(t, "RJTT", guesses[1].Code())
	assert.InDelta(t, 1.112, *guesses[1].Distance, 0.01)
	require.NotNil(t, guesses[1].Bearing)
	assert.InDelta(t, 0, *guesses[1].Bearing, 0.01)
	assert.Equal(t, *guesses[1].Bearing, *guesses[1].MagneticBearing)

	assert.Equal(t, track.PhaseLanded, guesses[2].Phase)
	assert.Equal(t, "RJCC", guesses[2].Code())
	assert.Equal(t, t0, guesses[2].Timestamp)
}

func TestAssignRadiusProperty(t *testing.T) {
	c := catalog(t, japan)
	records := c.All()

	var rows []track.Row
	n := 0
	for lat := 33.0; lat <= 44.0; lat += 0.25 {
		for lon := 134.0; lon <= 143.0; lon += 0.25 {
			rows = append(rows, endpoint(fmt.Sprintf("CS%05d", n), track.PhaseDeparted, lat, lon))
			n++
		}
	}

	for _, radius := range []float64{5, DefaultRadius, 50, 250} {
		e := &Engine{Radius: radius, Workers: 4}
		guesses, err := e.Assign(context.Background(), c, rows)
		require.NoError(t, err)
		require.Len(t, guesses, len(rows))

		for _, g := range guesses {
			nearest := math.Inf(1)
			for _, r := range records {
				nearest = math.Min(nearest, physics.HaversineKm(r.Latitude, r.Longitude, g.Source.Latitude, g.Source.Longitude))
			}
			require.NotNil(t, g.Distance)
			assert.Equal(t, nearest, *g.Distance)
			if g.Matched() {
				assert.LessOrEqual(t, *g.Distance, radius)
			} else {
				assert.Greater(t, *g.Distance, radius)
			}
		}
	}
}

func TestAssignTieBreakIsDeterministic(t *testing.T) {
	twins := []airports.Entry{
		{Code: "AAAA", Latitude: "100000N", Longitude: "1000000E"},
		{Code: "BBBB", Latitude: "100000N", Longitude: "1000000E"},
	}
	var rows []track.Row
	for i := 0; i < 64; i++ {
		rows = append(rows, endpoint(fmt.Sprintf("TWIN%02d", i), track.PhaseLanded, 10.01, 100.0))
	}

	c := catalog(t, twins)
	for run := 0; run < 10; run++ {
		e := &Engine{Radius: DefaultRadius, Workers: 8}
		guesses, err := e.Assign(context.Background(), c, rows)
		require.NoError(t, err)
		for _, g := range guesses {
			assert.Equal(t, "AAAA", g.Code())
		}
	}

	reversed := catalog(t, []airports.Entry{twins[1], twins[0]})
	e := &Engine{Radius: DefaultRadius, Workers: 8}
	guesses, err := e.Assign(context.Background(), reversed, rows)
	require.NoError(t, err)
	assert.Equal(t, "BBBB", guesses[0].Code())
}

func TestAssignWorkerCountDoesNotChangeOutput(t *testing.T) {
	c := catalog(t, japan)
	rows := []track.Row{
		endpoint("SKY003", track.PhaseLanded, 34.43, 135.23),
		endpoint("JAL001", track.PhaseLanded, 42.77, 141.69),
		endpoint("ANA002", track.PhaseDeparted, 35.77, 140.39),
		endpoint("SKY003", track.PhaseDeparted, 35.55, 139.78),
		endpoint("JAL001", track.PhaseDeparted, 35.55, 139.78),
		endpoint("ANA002", track.PhaseLanded, 34.43, 135.23),
	}

	serial, err := (&Engine{Radius: DefaultRadius, Workers: 1}).Assign(context.Background(), c, rows)
	require.NoError(t, err)
	parallel, err := (&Engine{Radius: DefaultRadius, Workers: 16}).Assign(context.Background(), c, rows)
	require.NoError(t, err)
	assert.Equal(t, serial, parallel)

	var got []string
	for _, g := range serial {
		got = append(got, g.Callsign+"/"+g.Phase.String()+"/"+g.Code())
	}
	assert.Equal(t, []string{
		"ANA002/DEPARTED/RJAA", "ANA002/LANDED/RJBB",
		"JAL001/DEPARTED/RJTT", "JAL001/LANDED/RJCC",
		"SKY003/DEPARTED/RJTT", "SKY003/LANDED/RJBB",
	}, got)
}

func TestAssignEmptyInputs(t *testing.T) {
	e := &Engine{Radius: DefaultRadius}

	guesses, err := e.Assign(context.Background(), catalog(t, japan), nil)
	require.NoError(t, err)
	assert.NotNil(t, guesses)
	assert.Empty(t, guesses)

	guesses, err = e.Assign(context.Background(), catalog(t, nil), []track.Row{
		endpoint("JAL001", track.PhaseDeparted, 35.55, 139.78),
	})
	require.NoError(t, err)
	require.Len(t, guesses, 1)
	assert.Nil(t, guesses[0].AirportCode)
	assert.Nil(t, guesses[0].Distance)
}

func TestAssignHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := &Engine{Radius: DefaultRadius, Workers: 2}
	_, err := e.Assign(ctx, catalog(t, japan), []track.Row{
		endpoint("JAL001", track.PhaseDeparted, 35.55, 139.78),
	})
	assert.ErrorIs(t, err, context.Canceled)
}
