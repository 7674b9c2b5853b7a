package track

import (
	"fmt"
	"strings"
	"time"
)

// Phase labels the end of a track an airport is guessed for
type Phase int

const (
	PhaseUnknown  Phase = iota // Interior row, not used for assignment
	PhaseDeparted              // First row of a callsign: the aircraft is leaving an airport
	PhaseLanded                // Last row of a callsign: the aircraft is arriving at an airport
)

func (p Phase) String() string {
	switch p {
	case PhaseDeparted:
		return "DEPARTED"
	case PhaseLanded:
		return "LANDED"
	default:
		return "UNKNOWN"
	}
}

// ParsePhase parses the String form of a phase (case-insensitive)
func ParsePhase(s string) (Phase, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEPARTED", "DEP":
		return PhaseDeparted, nil
	case "LANDED", "ARR":
		return PhaseLanded, nil
	case "UNKNOWN", "":
		return PhaseUnknown, nil
	default:
		return PhaseUnknown, fmt.Errorf("unknown phase: %s", s)
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	v, err := ParsePhase(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// RawRow is a track record as handed over by the ingestor. Position and altitude are
// optional; rows missing them are dropped during preprocessing.
type RawRow struct {
	Seq          int       // Position in the overall input, used only for diagnostics
	Callsign     string    // Aircraft identifier
	Timestamp    time.Time // Instant of the surveillance report
	Latitude     *float64  // Decimal degrees
	Longitude    *float64  // Decimal degrees
	Altitude     *float64  // Feet
	AircraftType string    // Free-form type column (e.g., CARATS "Type")
	Source       string    // File the row came from
	Line         int       // Line within Source
}

// Row is an analysis-ready track point
type Row struct {
	Seq          int       `json:"seq"`
	Callsign     string    `json:"callsign"`
	Timestamp    time.Time `json:"timestamp"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Altitude     float64   `json:"altitude"`
	AircraftType string    `json:"aircraft_type,omitempty"`
	Phase        Phase     `json:"phase"`
}

// Raw converts a processed row back into ingestor form
func (r Row) Raw() RawRow {
	lat, lon, alt := r.Latitude, r.Longitude, r.Altitude
	return RawRow{
		Seq:          r.Seq,
		Callsign:     r.Callsign,
		Timestamp:    r.Timestamp,
		Latitude:     &lat,
		Longitude:    &lon,
		Altitude:     &alt,
		AircraftType: r.AircraftType,
	}
}

// ToRaw converts a slice of processed rows back into ingestor form
func ToRaw(rows []Row) []RawRow {
	out := make([]RawRow, len(rows))
	for i, r := range rows {
		out[i] = r.Raw()
	}
	return out
}

// Endpoints returns the DEPARTED and LANDED rows in input order
func Endpoints(rows []Row) []Row {
	out := make([]Row, 0)
	for _, r := range rows {
		if r.Phase != PhaseUnknown {
			out = append(out, r)
		}
	}
	return out
}
