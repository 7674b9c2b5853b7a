package track

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/yegors/airportguess/pkg/logger"
)

const (
	DefaultMinAltitude    = -1000.0 // ft, below any real field elevation
	DefaultMaxAltitude    = 60000.0 // ft, above any civil cruise level
	DefaultGroundAltitude = 6000.0  // ft, an endpoint at or below this is near an airport
)

// ErrInvalidAltitudeBand is returned when MinAltitude is not below MaxAltitude
var ErrInvalidAltitudeBand = errors.New("min altitude must be below max altitude")

// Options tunes the preprocessor. Nil fields take the defaults.
type Options struct {
	MinAltitude    *float64
	MaxAltitude    *float64
	GroundAltitude *float64
}

// Thresholds are resolved preprocessing options in feet
type Thresholds struct {
	MinAltitude    float64 `json:"min_altitude_ft"`
	MaxAltitude    float64 `json:"max_altitude_ft"`
	GroundAltitude float64 `json:"ground_altitude_ft"`
}

// Resolve fills unset fields with the defaults and checks the altitude band
func (o Options) Resolve() (Thresholds, error) {
	t := Thresholds{
		MinAltitude:    valueOr(o.MinAltitude, DefaultMinAltitude),
		MaxAltitude:    valueOr(o.MaxAltitude, DefaultMaxAltitude),
		GroundAltitude: valueOr(o.GroundAltitude, DefaultGroundAltitude),
	}
	if math.IsNaN(t.MinAltitude) || math.IsNaN(t.MaxAltitude) || math.IsNaN(t.GroundAltitude) ||
		t.MinAltitude >= t.MaxAltitude {
		return Thresholds{}, fmt.Errorf("%w: [%v, %v]", ErrInvalidAltitudeBand, t.MinAltitude, t.MaxAltitude)
	}
	return t, nil
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// Stats reports what a preprocessing pass did
type Stats struct {
	Input             int `json:"input"`
	Output            int `json:"output"`
	DroppedNoPosition int `json:"dropped_no_position"`
	DroppedAltitude   int `json:"dropped_altitude"`
	Callsigns         int `json:"callsigns"`
	Departed          int `json:"departed"`
	Landed            int `json:"landed"`
}

// Preprocessor turns raw rows into sorted, phase-tagged rows
type Preprocessor struct {
	opts   Thresholds
	logger *logger.Logger
}

// NewPreprocessor creates a preprocessor. Unset options select the defaults.
func NewPreprocessor(opts Options, log *logger.Logger) (*Preprocessor, error) {
	thresholds, err := opts.Resolve()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Preprocessor{opts: thresholds, logger: log.Named("preprocess")}, nil
}

// Thresholds returns the thresholds in effect
func (p *Preprocessor) Thresholds() Thresholds {
	return p.opts
}

// Process completes, orders, filters and tags raw rows. Rows are grouped by callsign in
// ascending order and sorted by timestamp within a callsign; equal keys keep input order.
// The first row of a callsign is DEPARTED and the last LANDED when at or below the ground
// altitude. Interior rows outside the altitude band are dropped. Processing its own output
// returns the same rows.
func (p *Preprocessor) Process(raw []RawRow) ([]Row, Stats) {
	stats := Stats{Input: len(raw)}

	rows := make([]Row, 0, len(raw))
	for _, r := range raw {
		callsign := strings.TrimSpace(r.Callsign)
		if callsign == "" || r.Latitude == nil || r.Longitude == nil || r.Altitude == nil {
			stats.DroppedNoPosition++
			continue
		}
		rows = append(rows, Row{
			Seq:          r.Seq,
			Callsign:     callsign,
			Timestamp:    r.Timestamp,
			Latitude:     *r.Latitude,
			Longitude:    *r.Longitude,
			Altitude:     *r.Altitude,
			AircraftType: strings.TrimSpace(r.AircraftType),
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Callsign != rows[j].Callsign {
			return rows[i].Callsign < rows[j].Callsign
		}
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})

	out := make([]Row, 0, len(rows))
	for start := 0; start < len(rows); {
		end := start
		for end < len(rows) && rows[end].Callsign == rows[start].Callsign {
			end++
		}
		out = p.segment(out, rows[start:end], &stats)
		stats.Callsigns++
		start = end
	}

	stats.Output = len(out)

	if stats.DroppedNoPosition > 0 || stats.DroppedAltitude > 0 {
		p.logger.Warn("Dropped track rows",
			logger.Int("no_position", stats.DroppedNoPosition),
			logger.Int("altitude", stats.DroppedAltitude))
	}
	p.logger.Debug("Preprocessed track rows",
		logger.Int("input", stats.Input),
		logger.Int("output", stats.Output),
		logger.Int("callsigns", stats.Callsigns))

	return out, stats
}

// segment appends one callsign's rows to out with phases assigned
func (p *Preprocessor) segment(out []Row, group []Row, stats *Stats) []Row {
	last := len(group) - 1
	first := group[0]
	departs := first.Altitude <= p.opts.GroundAltitude

	if last == 0 {
		if !departs {
			return append(out, first)
		}
		dep, arr := first, first
		dep.Phase = PhaseDeparted
		arr.Phase = PhaseLanded
		stats.Departed++
		stats.Landed++
		return append(out, dep, arr)
	}

	for i, r := range group {
		switch {
		case i == 0:
			if departs {
				r.Phase = PhaseDeparted
				stats.Departed++
			}
		case i == last:
			if r.Altitude <= p.opts.GroundAltitude {
				r.Phase = PhaseLanded
				stats.Landed++
			}
		default:
			if r.Altitude < p.opts.MinAltitude || r.Altitude > p.opts.MaxAltitude {
				stats.DroppedAltitude++
				continue
			}
			r.Phase = PhaseUnknown
		}
		out = append(out, r)
	}
	return out
}
