package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/airportguess/internal/assign"
	"github.com/yegors/airportguess/internal/track"
)

func openArchive(t *testing.T) *ArchiveStorage {
	t.Helper()
	s, err := NewArchiveStorage(filepath.Join(t.TempDir(), "archive.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleGuesses() []assign.Guess {
	code, dist, bearing, mag := "RJTT", 1.25, 10.0, 17.5
	far := 80.0
	t0 := time.Date(2019, 8, 16, 9, 0, 0, 0, time.UTC)
	return []assign.Guess{
		{
			Callsign: "JAL001", Phase: track.PhaseDeparted, AirportCode: &code, Distance: &dist,
			Timestamp: t0, Bearing: &bearing, MagneticBearing: &mag,
			Source: track.Row{Callsign: "JAL001", Timestamp: t0, Latitude: 35.56, Longitude: 139.78, Altitude: 0, AircraftType: "B772", Phase: track.PhaseDeparted},
		},
		{
			Callsign: "JAL001", Phase: track.PhaseLanded, Distance: &far, Timestamp: t0.Add(time.Hour),
			Source: track.Row{Callsign: "JAL001", Timestamp: t0.Add(time.Hour), Latitude: 37, Longitude: 138, Altitude: 4000, Phase: track.PhaseLanded},
		},
	}
}

func TestDailyPath(t *testing.T) {
	got := DailyPath("data", time.Date(2019, 8, 16, 23, 0, 0, 0, time.UTC))
	assert.Equal(t, filepath.Join("data", "airportguess-2019-08-16.db"), got)
}

func TestSaveAndLoadRun(t *testing.T) {
	s := openArchive(t)

	_, err := s.LatestRunID()
	assert.ErrorIs(t, err, ErrRunNotFound)

	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	run := &RunRecord{
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
		RadiusKm:   10,
		Inputs:     []string{"trk20190816_00_12.csv"},
		Airports:   4,
		Rows:       120,
	}
	id, err := s.SaveRun(run, sampleGuesses())
	require.NoError(t, err)
	assert.Equal(t, id, run.ID)
	assert.Equal(t, 1, run.Matched)

	latest, err := s.LatestRunID()
	require.NoError(t, err)
	assert.Equal(t, id, latest)

	got, err := s.GetRun(id)
	require.NoError(t, err)
	assert.Equal(t, started, got.StartedAt)
	assert.Equal(t, []string{"trk20190816_00_12.csv"}, got.Inputs)
	assert.Equal(t, 2, got.Guesses)
	assert.Equal(t, 1, got.Matched)
	assert.Equal(t, 120, got.Rows)

	guesses, err := s.GetGuesses(id, GuessFilter{})
	require.NoError(t, err)
	assert.Equal(t, sampleGuesses(), guesses)

	landed, err := s.GetGuesses(id, GuessFilter{Callsign: "JAL001", Phase: track.PhaseLanded})
	require.NoError(t, err)
	require.Len(t, landed, 1)
	assert.Nil(t, landed[0].AirportCode)
	assert.Nil(t, landed[0].Bearing)

	_, err = s.GetRun(id + 100)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestGetRunsNewestFirst(t *testing.T) {
	s := openArchive(t)
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		_, err := s.SaveRun(&RunRecord{StartedAt: now, FinishedAt: now, RadiusKm: float64(i + 1)}, nil)
		require.NoError(t, err)
	}

	runs, err := s.GetRuns(2, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 3.0, runs[0].RadiusKm)
	assert.Equal(t, 2.0, runs[1].RadiusKm)
	assert.Equal(t, []string{}, runs[0].Inputs)

	runs, err = s.GetRuns(10, 2)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 0, runs[0].Guesses)
}
