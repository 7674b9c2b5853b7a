package airports

import (
	"fmt"
	"strings"
	"time"

	"github.com/yegors/airportguess/internal/physics"
	"github.com/yegors/airportguess/pkg/logger"
)

// Entry is a raw airport record as read from the aerodrome file
type Entry struct {
	Code      string // ICAO identifier (e.g., "RJTT")
	Latitude  string // DDMMSS[NS]
	Longitude string // DDDMMSS[EW]
	Line      int    // Source line, 0 when not read from a file
}

// Record is an airport with decimal-degree coordinates
type Record struct {
	Code              string  `json:"code"`
	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
	MagneticVariation float64 `json:"magnetic_variation"` // Declination at the airport in degrees (+East)
}

// Catalog is an immutable, ordered set of airports
type Catalog struct {
	records []Record
	index   map[string]int
}

// Options controls catalog construction
type Options struct {
	// Targets restricts the catalog to these codes; empty keeps every entry
	Targets []string
	// MagneticModelDate is the epoch used to compute each airport's magnetic variation.
	// Zero skips the computation.
	MagneticModelDate time.Time
}

// NewCatalog converts raw entries into a catalog. Input order is preserved. A malformed
// coordinate aborts construction; duplicate codes keep the first occurrence.
func NewCatalog(entries []Entry, opts Options, log *logger.Logger) (*Catalog, error) {
	if log == nil {
		log = logger.NewNop()
	}
	log = log.Named("airports")

	var targets map[string]bool
	if len(opts.Targets) > 0 {
		targets = make(map[string]bool, len(opts.Targets))
		for _, t := range opts.Targets {
			targets[strings.ToUpper(strings.TrimSpace(t))] = true
		}
	}

	c := &Catalog{
		records: make([]Record, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}

	for _, e := range entries {
		code := strings.ToUpper(strings.TrimSpace(e.Code))
		if targets != nil && !targets[code] {
			continue
		}
		if _, dup := c.index[code]; dup {
			log.Warn("Duplicate airport code ignored",
				logger.String("code", code),
				logger.Int("line", e.Line))
			continue
		}

		lat, err := ParseLatitude(e.Latitude)
		if err != nil {
			return nil, fmt.Errorf("airport %s (line %d): %w", code, e.Line, err)
		}
		lon, err := ParseLongitude(e.Longitude)
		if err != nil {
			return nil, fmt.Errorf("airport %s (line %d): %w", code, e.Line, err)
		}

		rec := Record{Code: code, Latitude: lat, Longitude: lon}
		if !opts.MagneticModelDate.IsZero() {
			rec.MagneticVariation = physics.CalculateMagneticVariation(lat, lon, 0, opts.MagneticModelDate)
		}

		c.index[code] = len(c.records)
		c.records = append(c.records, rec)
	}

	if targets != nil {
		for code := range targets {
			if _, ok := c.index[code]; !ok {
				log.Warn("Target airport not found in catalog", logger.String("code", code))
			}
		}
	}

	log.Debug("Airport catalog built",
		logger.Int("entries", len(entries)),
		logger.Int("airports", len(c.records)))

	return c, nil
}

// Lookup returns the airport with the given code
func (c *Catalog) Lookup(code string) (Record, bool) {
	if c == nil {
		return Record{}, false
	}
	i, ok := c.index[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return Record{}, false
	}
	return c.records[i], true
}

// All returns the airports in input order
func (c *Catalog) All() []Record {
	if c == nil {
		return []Record{}
	}
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// Len returns the number of airports
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.records)
}
