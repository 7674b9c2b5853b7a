package results

import (
	"encoding/json"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/yegors/airportguess/internal/assign"
	"github.com/yegors/airportguess/internal/track"
)

// Marker styling understood by geojson.io style viewers
const (
	matchedColor   = "#ff0000"
	unmatchedColor = "#808080"
	strokeColor    = "#000000"
)

// FeatureCollection collects guess markers and track paths for map viewers
type FeatureCollection struct {
	*geojson.FeatureCollection
}

// NewFeatureCollection creates an empty feature collection
func NewFeatureCollection() *FeatureCollection {
	return &FeatureCollection{FeatureCollection: geojson.NewFeatureCollection()}
}

// AddGuesses adds one circle marker per guess at its track endpoint
func (fc *FeatureCollection) AddGuesses(guesses []assign.Guess) *FeatureCollection {
	for _, g := range guesses {
		fill := unmatchedColor
		if g.Matched() {
			fill = matchedColor
		}

		f := geojson.NewFeature(orb.Point{g.Source.Longitude, g.Source.Latitude})
		f.Properties = geojson.Properties{
			"callsign":     g.Callsign,
			"phase":        g.Phase.String(),
			"airport_code": nil,
			"distance_km":  g.Distance,
			"timestamp":    g.Timestamp,
			"_markerType":  "CircleMarker",
			"_color":       strokeColor,
			"_opacity":     0.5,
			"_weight":      3,
			"_fillColor":   fill,
			"_fillOpacity": 0.5,
			"_radius":      4,
		}
		if g.Matched() {
			f.Properties["airport_code"] = g.Code()
		}
		fc.Append(f)
	}
	return fc
}

// AddPaths adds one line per callsign through its rows, in row order. Callsigns with fewer
// than two rows are skipped.
func (fc *FeatureCollection) AddPaths(rows []track.Row) *FeatureCollection {
	var order []string
	paths := make(map[string]orb.LineString)
	for _, r := range rows {
		if _, ok := paths[r.Callsign]; !ok {
			order = append(order, r.Callsign)
		}
		paths[r.Callsign] = append(paths[r.Callsign], orb.Point{r.Longitude, r.Latitude})
	}

	for _, callsign := range order {
		line := paths[callsign]
		if len(line) < 2 {
			continue
		}
		f := geojson.NewFeature(line)
		f.Properties = geojson.Properties{
			"callsign": callsign,
			"_color":   strokeColor,
			"_opacity": 0.5,
			"_weight":  3,
		}
		fc.Append(f)
	}
	return fc
}

// WriteGeoJSON encodes fc to w
func WriteGeoJSON(w io.Writer, fc *FeatureCollection) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(fc.FeatureCollection)
}
