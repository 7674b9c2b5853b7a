package results

import (
	"io"
	"time"

	"github.com/yegors/airportguess/internal/assign"
	"github.com/yegors/airportguess/internal/track"
)

// AnnotatedTrackColumns are the columns of an annotated track export, in order
var AnnotatedTrackColumns = []string{
	"timestamp", "callsign", "latitude", "longitude", "altitude", "aircraft_type", "phase",
	"departure_airport", "arrival_airport",
}

// Endpoints maps a callsign to its guessed departure and arrival airport codes. Empty means
// no airport within the radius.
type Endpoints struct {
	Departure string
	Arrival   string
}

// EndpointsByCallsign collects the airport codes of the guesses per callsign
func EndpointsByCallsign(guesses []assign.Guess) map[string]Endpoints {
	out := make(map[string]Endpoints)
	for _, g := range guesses {
		e := out[g.Callsign]
		switch g.Phase {
		case track.PhaseDeparted:
			e.Departure = g.Code()
		case track.PhaseLanded:
			e.Arrival = g.Code()
		}
		out[g.Callsign] = e
	}
	return out
}

// BuildAnnotatedTracks renders one table row per track row, with the departure and arrival
// airports guessed for its callsign appended
func BuildAnnotatedTracks(rows []track.Row, guesses []assign.Guess) Table {
	ends := EndpointsByCallsign(guesses)

	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		e := ends[r.Callsign]
		out = append(out, []string{
			r.Timestamp.UTC().Format(time.RFC3339),
			r.Callsign,
			formatFloat(r.Latitude, 6),
			formatFloat(r.Longitude, 6),
			formatFloat(r.Altitude, 0),
			r.AircraftType,
			r.Phase.String(),
			e.Departure,
			e.Arrival,
		})
	}
	return Table{Columns: append([]string{}, AnnotatedTrackColumns...), Rows: out}
}

// WriteAnnotatedTracks writes rows as CSV annotated with the guessed airports of each callsign
func WriteAnnotatedTracks(w io.Writer, rows []track.Row, guesses []assign.Guess) error {
	return WriteCSV(w, BuildAnnotatedTracks(rows, guesses))
}
