package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/airportguess/internal/config"
)

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"RJTT", "RJAA"}, splitList(" RJTT, ,RJAA,"))
	assert.Nil(t, splitList(""))
}

func TestApplyFlagsOnlyOverridesExplicitFlags(t *testing.T) {
	cfg := config.Default()
	cfg.Output.Path = "from-config.csv"
	cfg.Assign.RadiusKm = 25

	f, set, err := parseFlags([]string{
		"-input", "a/*.csv,b/*.csv",
		"-target-airports", "RJTT,RJBB",
		"-include-trks",
		"-verbose",
	})
	require.NoError(t, err)
	applyFlags(cfg, f, set)

	assert.Equal(t, []string{"a/*.csv", "b/*.csv"}, cfg.Tracks.Inputs)
	assert.Equal(t, []string{"RJTT", "RJBB"}, cfg.Airports.TargetAirports)
	assert.True(t, cfg.Output.AnnotateTracks)
	assert.False(t, cfg.Output.IncludeTracks)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "from-config.csv", cfg.Output.Path)
	assert.Equal(t, 25.0, cfg.Assign.RadiusKm)
}

func TestApplyFlagsRadiusAndServe(t *testing.T) {
	cfg := config.Default()
	f, set, err := parseFlags([]string{"-radius", "5.5", "-serve", "-output", "out.csv.zst", "-track-columns"})
	require.NoError(t, err)
	applyFlags(cfg, f, set)

	assert.True(t, cfg.Output.IncludeTracks)
	assert.False(t, cfg.Output.AnnotateTracks)
	assert.Equal(t, 5.5, cfg.Assign.RadiusKm)
	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, "out.csv.zst", cfg.Output.Path)
}

func TestParseFlagsRejectsUnknown(t *testing.T) {
	_, _, err := parseFlags([]string{"-bogus"})
	assert.Error(t, err)
}
