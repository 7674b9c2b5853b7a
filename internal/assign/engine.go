package assign

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yegors/airportguess/internal/airports"
	"github.com/yegors/airportguess/internal/physics"
	"github.com/yegors/airportguess/internal/track"
	"github.com/yegors/airportguess/pkg/logger"
)

// DefaultRadius is the match radius in kilometres used when none is configured
const DefaultRadius = 10.0

var ErrInvalidRadius = errors.New("radius must be a positive number of kilometres")

// Guess is the airport attributed to one endpoint of a callsign's track
type Guess struct {
	Callsign string      `json:"callsign"`
	Phase    track.Phase `json:"phase"`
	// AirportCode is nil when no airport lies within the radius
	AirportCode *string `json:"airport_code"`
	// Distance to the nearest airport in km, matched or not; nil only with an empty catalog
	Distance  *float64  `json:"distance_km"`
	Timestamp time.Time `json:"timestamp"`
	// True and magnetic bearing from the matched airport to the track point
	Bearing         *float64  `json:"bearing_deg,omitempty"`
	MagneticBearing *float64  `json:"magnetic_bearing_deg,omitempty"`
	Source          track.Row `json:"source"`
}

// Matched reports whether an airport was attributed
func (g Guess) Matched() bool {
	return g.AirportCode != nil
}

// Code returns the airport code or "" when unmatched
func (g Guess) Code() string {
	if g.AirportCode == nil {
		return ""
	}
	return *g.AirportCode
}

// Engine attributes airports to track endpoints
type Engine struct {
	Radius  float64 // Match radius in kilometres
	Workers int     // Parallel workers, <= 0 uses one per CPU

	logger *logger.Logger
}

// NewEngine creates an engine with the given radius and worker count
func NewEngine(radius float64, workers int, log *logger.Logger) (*Engine, error) {
	if err := ValidateRadius(radius); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{Radius: radius, Workers: workers, logger: log.Named("assign")}, nil
}

// ValidateRadius checks that radius is a finite, positive distance
func ValidateRadius(radius float64) error {
	if math.IsNaN(radius) || math.IsInf(radius, 0) || radius <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidRadius, radius)
	}
	return nil
}

// Assign produces one guess per (callsign, phase) endpoint in rows. Output is ordered by
// callsign, DEPARTED before LANDED, and does not depend on the worker count. The nearest
// catalog airport wins; equal distances go to the airport listed first.
func (e *Engine) Assign(ctx context.Context, catalog *airports.Catalog, rows []track.Row) ([]Guess, error) {
	if err := ValidateRadius(e.Radius); err != nil {
		return nil, err
	}
	log := e.logger
	if log == nil {
		log = logger.NewNop()
	}

	start := time.Now()
	endpoints := groupEndpoints(rows)
	guesses := make([]Guess, len(endpoints))
	if len(endpoints) == 0 {
		return guesses, nil
	}

	records := catalog.All()

	workers := e.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(endpoints) {
		workers = len(endpoints)
	}
	chunk := (len(endpoints) + workers - 1) / workers

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for lo := 0; lo < len(endpoints); lo += chunk {
		hi := min(lo+chunk, len(endpoints))
		eg.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				guesses[i] = e.guess(records, endpoints[i])
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	matched := 0
	for _, g := range guesses {
		if g.Matched() {
			matched++
		}
	}
	log.Info("Assigned airports",
		logger.Int("endpoints", len(guesses)),
		logger.Int("matched", matched),
		logger.Int("airports", len(records)),
		logger.Float64("radius_km", e.Radius),
		logger.Int("workers", workers),
		logger.Duration("duration", time.Since(start)))

	return guesses, nil
}

func (e *Engine) guess(records []airports.Record, row track.Row) Guess {
	g := Guess{
		Callsign:  row.Callsign,
		Phase:     row.Phase,
		Timestamp: row.Timestamp,
		Source:    row,
	}

	best := -1
	bestDist := math.Inf(1)
	for i, rec := range records {
		d := physics.HaversineKm(rec.Latitude, rec.Longitude, row.Latitude, row.Longitude)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return g
	}

	dist := bestDist
	g.Distance = &dist
	if dist <= e.Radius {
		rec := records[best]
		code := rec.Code
		bearing := physics.InitialBearing(rec.Latitude, rec.Longitude, row.Latitude, row.Longitude)
		magnetic := physics.MagneticBearing(bearing, rec.MagneticVariation)
		g.AirportCode = &code
		g.Bearing = &bearing
		g.MagneticBearing = &magnetic
	}
	return g
}

// groupEndpoints returns the first DEPARTED and first LANDED row of every callsign, ordered
// by callsign then phase
func groupEndpoints(rows []track.Row) []track.Row {
	type key struct {
		callsign string
		phase    track.Phase
	}
	seen := make(map[key]bool)
	out := make([]track.Row, 0)
	for _, r := range rows {
		if r.Phase == track.PhaseUnknown {
			continue
		}
		k := key{r.Callsign, r.Phase}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Callsign != out[j].Callsign {
			return out[i].Callsign < out[j].Callsign
		}
		return out[i].Phase < out[j].Phase
	})
	return out
}
