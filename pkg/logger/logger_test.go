package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(Config{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestFileSinkWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "airportguess.log")

	log, err := New(Config{Level: "debug", Format: "console", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	log.Named("test").Info("hello", String("callsign", "JAL001"), Int("rows", 3))
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"callsign":"JAL001"`)
	assert.Contains(t, string(data), `"logger":"test"`)
}

func TestNopLoggerIsUsable(t *testing.T) {
	log := NewNop().Named("x").With(Bool("ok", true))
	log.Debug("discarded")
	log.Error("discarded too", Error(os.ErrNotExist))
}
