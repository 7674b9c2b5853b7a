package guesser

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/airportguess/internal/airports"
	"github.com/yegors/airportguess/internal/assign"
	"github.com/yegors/airportguess/internal/metrics"
	"github.com/yegors/airportguess/internal/results"
	"github.com/yegors/airportguess/internal/storage/sqlite"
	"github.com/yegors/airportguess/internal/track"
)

var t0 = time.Date(2019, 8, 16, 9, 0, 0, 0, time.UTC)

func fptr(v float64) *float64 { return &v }

func newCatalog(t *testing.T) *airports.Catalog {
	t.Helper()
	c, err := airports.NewCatalog([]airports.Entry{
		{Code: "RJTT", Latitude: "353312N", Longitude: "1394652E"},
		{Code: "RJAA", Latitude: "354604N", Longitude: "1402311E"},
		{Code: "RJCC", Latitude: "424631N", Longitude: "1414132E"},
		{Code: "RJBB", Latitude: "342538N", Longitude: "1351350E"},
	}, airports.Options{}, nil)
	require.NoError(t, err)
	return c
}

func newSession(t *testing.T, opts Options, m *metrics.Metrics) *Guesser {
	t.Helper()
	g, err := New(newCatalog(t), opts, nil, m)
	require.NoError(t, err)
	return g
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	_, err := New(newCatalog(t), Options{Preprocess: track.Options{MinAltitude: fptr(9000), MaxAltitude: fptr(8000)}}, nil, nil)
	assert.ErrorIs(t, err, track.ErrInvalidAltitudeBand)

	_, err = New(newCatalog(t), Options{Radius: -1}, nil, nil)
	assert.ErrorIs(t, err, assign.ErrInvalidRadius)
}

func raw(callsign string, minutes int, lat, lon, alt float64) track.RawRow {
	return track.RawRow{
		Callsign:  callsign,
		Timestamp: t0.Add(time.Duration(minutes) * time.Minute),
		Latitude:  fptr(lat),
		Longitude: fptr(lon),
		Altitude:  fptr(alt),
	}
}

// Three interleaved flights: HND->CTS, NRT->KIX, and one that appears at cruise
func flights() []track.RawRow {
	return []track.RawRow{
		raw("JAL001", 0, 35.5533, 139.7811, 0),
		raw("ANA002", 1, 35.7678, 140.3864, 200),
		raw("SKY003", 2, 37.0, 138.0, 35000),
		raw("JAL001", 40, 38.5, 140.5, 37000),
		raw("ANA002", 30, 35.0, 137.0, 33000),
		raw("SKY003", 20, 36.0, 136.0, 34000),
		raw("JAL001", 85, 42.7753, 141.6922, 300),
		raw("ANA002", 70, 34.4272, 135.2306, 100),
		raw("SKY003", 50, 34.0, 134.5, 4000),
	}
}

func TestAssignEndToEnd(t *testing.T) {
	m := metrics.New()
	g := newSession(t, Options{Workers: 2}, m)
	g.AddRows(flights())

	guesses, err := g.Assign(context.Background(), 0)
	require.NoError(t, err)

	var got []string
	for _, gs := range guesses {
		got = append(got, gs.Callsign+"/"+gs.Phase.String()+"/"+gs.Code())
	}
	assert.Equal(t, []string{
		"ANA002/DEPARTED/RJAA",
		"ANA002/LANDED/RJBB",
		"JAL001/DEPARTED/RJTT",
		"JAL001/LANDED/RJCC",
		"SKY003/LANDED/",
	}, got)

	table := g.Result()
	assert.Equal(t, results.Columns, table.Columns)
	require.Len(t, table.Rows, 5)
	assert.Equal(t, "", table.Rows[4][2])
	assert.NotEqual(t, "", table.Rows[4][3])

	s := g.Summary()
	assert.Equal(t, 4, s.Airports)
	assert.Equal(t, 9, s.RawRows)
	assert.Equal(t, 5, s.Guesses)
	assert.Equal(t, 4, s.Matched)
	assert.Equal(t, assign.DefaultRadius, s.Radius)
	assert.Equal(t, 3, s.Preprocess.Callsigns)

	assert.Equal(t, 9.0, testutil.ToFloat64(m.TrackRowsRead))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.AirportsLoaded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GuessesTotal.WithLabelValues("LANDED", "unmatched")))
}

func TestAssignReplacesResults(t *testing.T) {
	g := newSession(t, Options{}, nil)
	g.AddRows(flights())

	_, err := g.Assign(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 4, g.Summary().Matched)

	// A tiny radius leaves nothing matched, and the old results are gone
	guesses, err := g.Assign(context.Background(), 0.001)
	require.NoError(t, err)
	for _, gs := range guesses {
		if gs.Matched() {
			assert.LessOrEqual(t, *gs.Distance, 0.001)
		}
	}
	assert.Equal(t, 0.001, g.Summary().Radius)
	assert.Len(t, g.Guesses(), 5)

	_, err = g.Assign(context.Background(), -3)
	assert.ErrorIs(t, err, assign.ErrInvalidRadius)
}

func TestEmptySession(t *testing.T) {
	g := newSession(t, Options{}, nil)

	table := g.Result()
	assert.Equal(t, results.Columns, table.Columns)
	assert.Empty(t, table.Rows)

	guesses, err := g.Assign(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, guesses)
	assert.Empty(t, g.Result().Rows)

	var buf bytes.Buffer
	require.NoError(t, g.Store().WriteCSV(&buf, false))
	assert.Equal(t, strings.Join(results.Columns, ",")+"\n", buf.String())
}

func TestAddRowsInvalidatesPreprocessing(t *testing.T) {
	g := newSession(t, Options{}, nil)
	g.AddRows(flights()[:3])
	stats := g.Preprocess()
	assert.Equal(t, 3, stats.Input)

	g.AddRows(flights()[3:])
	_, err := g.Assign(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 9, g.Summary().Preprocess.Input)

	rows := g.Rows()
	seqs := make(map[int]bool)
	for _, r := range rows {
		seqs[r.Seq] = true
	}
	assert.True(t, seqs[8])
}

func TestLoadTracksAndExport(t *testing.T) {
	dir := t.TempDir()
	trk := filepath.Join(dir, "trk20190816_00_12.csv")
	require.NoError(t, os.WriteFile(trk, []byte(
		"09:00:00,JAL001,35.5533,139.7811,0,B772\n"+
			"09:40:00,JAL001,38.5,140.5,37000,B772\n"+
			"10:25:00,JAL001,42.7753,141.6922,300,B772\n"), 0o644))

	g := newSession(t, Options{}, nil)
	require.NoError(t, g.LoadTracks(context.Background(), []string{trk}))
	_, err := g.Assign(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{trk}, g.Summary().Inputs)

	out := filepath.Join(dir, "guesses.csv")
	require.NoError(t, g.Export(out, true))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "JAL001,DEPARTED,RJTT,"))
	assert.Contains(t, lines[2], "B772")

	geo := filepath.Join(dir, "guesses.geojson")
	require.NoError(t, g.ExportGeoJSON(geo, true))
	data, err = os.ReadFile(geo)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	require.Len(t, fc.Features, 3)
	assert.Equal(t, "LineString", fc.Features[0].Geometry.GeoJSONType())
	assert.Equal(t, "Point", fc.Features[1].Geometry.GeoJSONType())

	err = g.LoadTracks(context.Background(), []string{filepath.Join(dir, "missing.csv")})
	assert.Error(t, err)
}

func TestExportTracks(t *testing.T) {
	g := newSession(t, Options{}, nil)
	g.AddRows(flights())
	_, err := g.Assign(context.Background(), 0)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "tracks.csv")
	require.NoError(t, g.ExportTracks(out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	rows := g.Rows()
	require.Len(t, lines, len(rows)+1)
	assert.Equal(t, strings.Join(results.AnnotatedTrackColumns, ","), lines[0])

	jal := 0
	for i, r := range rows {
		if r.Callsign != "JAL001" {
			continue
		}
		jal++
		assert.True(t, strings.HasSuffix(lines[i+1], ",RJTT,RJCC"), lines[i+1])
	}
	assert.Equal(t, 3, jal)
	for _, line := range lines[1:] {
		if strings.Contains(line, ",SKY003,") {
			assert.True(t, strings.HasSuffix(line, ","), line)
		}
	}
}

func TestArchive(t *testing.T) {
	archive, err := sqlite.NewArchiveStorage(filepath.Join(t.TempDir(), "archive.db"), nil)
	require.NoError(t, err)
	defer archive.Close()

	g := newSession(t, Options{}, nil)
	g.SetArchive(archive)
	g.AddRows(flights())
	guesses, err := g.Assign(context.Background(), 0)
	require.NoError(t, err)

	runID := g.Summary().LastRunID
	require.NotZero(t, runID)
	stored, err := archive.GetGuesses(runID, sqlite.GuessFilter{})
	require.NoError(t, err)
	require.Len(t, stored, len(guesses))
	for i := range guesses {
		assert.Equal(t, guesses[i].Code(), stored[i].Code())
	}

	run, err := archive.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, 9, run.Rows)
	assert.Equal(t, 4, run.Airports)
}

type recordingNotifier struct {
	summaries []Summary
	guesses   [][]assign.Guess
}

func (n *recordingNotifier) NotifyRun(summary Summary, guesses []assign.Guess) {
	n.summaries = append(n.summaries, summary)
	n.guesses = append(n.guesses, guesses)
}

func TestNotifierSeesEveryRun(t *testing.T) {
	n := &recordingNotifier{}
	g := newSession(t, Options{}, nil)
	g.SetNotifier(n)
	g.AddRows(flights())

	_, err := g.Assign(context.Background(), 0)
	require.NoError(t, err)
	_, err = g.Assign(context.Background(), 1)
	require.NoError(t, err)

	require.Len(t, n.summaries, 2)
	assert.Equal(t, 10.0, n.summaries[0].Radius)
	assert.Equal(t, 1.0, n.summaries[1].Radius)
	assert.Len(t, n.guesses[0], 5)
	assert.Equal(t, n.summaries[0].Guesses, len(n.guesses[0]))
}

func TestConcurrentReadersDuringAssign(t *testing.T) {
	g := newSession(t, Options{Workers: 4}, nil)
	g.AddRows(flights())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := g.Assign(context.Background(), 0)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			table := g.Result()
			assert.True(t, len(table.Rows) == 0 || len(table.Rows) == 5)
			_ = g.Summary()
		}()
	}
	wg.Wait()
	assert.Len(t, g.Guesses(), 5)
}
