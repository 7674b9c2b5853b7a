package results

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/yegors/airportguess/internal/assign"
)

// Columns of the result table, in order
var Columns = []string{"callsign", "phase", "airport_code", "distance_km", "timestamp"}

// TrackColumns are appended when the representative track row is included
var TrackColumns = []string{"latitude", "longitude", "altitude", "aircraft_type", "bearing_deg", "magnetic_bearing_deg"}

// Table is the tabular form of a result set
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// BuildTable renders guesses as a table. Missing airport codes and distances are empty cells.
func BuildTable(guesses []assign.Guess, includeTracks bool) Table {
	cols := append([]string{}, Columns...)
	if includeTracks {
		cols = append(cols, TrackColumns...)
	}

	rows := make([][]string, 0, len(guesses))
	for _, g := range guesses {
		row := []string{
			g.Callsign,
			g.Phase.String(),
			g.Code(),
			formatOptional(g.Distance, 6),
			g.Timestamp.UTC().Format(time.RFC3339),
		}
		if includeTracks {
			row = append(row,
				formatFloat(g.Source.Latitude, 6),
				formatFloat(g.Source.Longitude, 6),
				formatFloat(g.Source.Altitude, 0),
				g.Source.AircraftType,
				formatOptional(g.Bearing, 1),
				formatOptional(g.MagneticBearing, 1),
			)
		}
		rows = append(rows, row)
	}

	return Table{Columns: cols, Rows: rows}
}

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func formatOptional(v *float64, prec int) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v, prec)
}

// Store holds the guesses of the latest assignment run
type Store struct {
	mu        sync.RWMutex
	guesses   []assign.Guess
	updatedAt time.Time
}

// NewStore creates an empty result store
func NewStore() *Store {
	return &Store{guesses: []assign.Guess{}}
}

// Replace swaps in the guesses of a new run
func (s *Store) Replace(guesses []assign.Guess) {
	cp := make([]assign.Guess, len(guesses))
	copy(cp, guesses)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.guesses = cp
	s.updatedAt = time.Now()
}

// Guesses returns a copy of the stored guesses
func (s *Store) Guesses() []assign.Guess {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]assign.Guess, len(s.guesses))
	copy(out, s.guesses)
	return out
}

// Len returns the number of stored guesses
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.guesses)
}

// UpdatedAt returns when the store was last replaced, zero if never
func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Get returns the result table. It has the full column set even before any run.
func (s *Store) Get() Table {
	return s.Table(false)
}

// Table returns the result table, optionally with track columns
func (s *Store) Table(includeTracks bool) Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return BuildTable(s.guesses, includeTracks)
}

// WriteCSV writes the result table as CSV to w
func (s *Store) WriteCSV(w io.Writer, includeTracks bool) error {
	return WriteCSV(w, s.Table(includeTracks))
}

// Export writes the result table as CSV to dest. "-" writes to stdout and a .zst suffix
// compresses the file with zstd.
func (s *Store) Export(dest string, includeTracks bool) error {
	return WriteFile(dest, func(w io.Writer) error {
		return s.WriteCSV(w, includeTracks)
	})
}

// ExportGeoJSON writes the guess endpoints as GeoJSON to dest, with the same destination
// rules as Export
func (s *Store) ExportGeoJSON(dest string) error {
	return WriteFile(dest, func(w io.Writer) error {
		return WriteGeoJSON(w, NewFeatureCollection().AddGuesses(s.Guesses()))
	})
}

// WriteFile runs write against dest. "-" or "" is stdout; a .zst suffix wraps the file in a
// zstd stream.
func WriteFile(dest string, write func(io.Writer) error) error {
	if dest == "" || dest == "-" {
		return write(os.Stdout)
	}

	file, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	var w io.Writer = file
	var zw *zstd.Encoder
	if strings.HasSuffix(dest, ".zst") {
		zw, err = zstd.NewWriter(file)
		if err != nil {
			file.Close()
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		w = zw
	}

	if err := write(w); err != nil {
		if zw != nil {
			zw.Close()
		}
		file.Close()
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			file.Close()
			return fmt.Errorf("failed to finish zstd stream: %w", err)
		}
	}
	return file.Close()
}
