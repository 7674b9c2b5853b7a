package guesser

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/yegors/airportguess/internal/airports"
	"github.com/yegors/airportguess/internal/assign"
	"github.com/yegors/airportguess/internal/metrics"
	"github.com/yegors/airportguess/internal/results"
	"github.com/yegors/airportguess/internal/storage/sqlite"
	"github.com/yegors/airportguess/internal/track"
	"github.com/yegors/airportguess/pkg/logger"
)

// Archiver persists completed runs
type Archiver interface {
	SaveRun(run *sqlite.RunRecord, guesses []assign.Guess) (int64, error)
}

// Notifier is told about every completed run
type Notifier interface {
	NotifyRun(summary Summary, guesses []assign.Guess)
}

// Options configures a session
type Options struct {
	Preprocess track.Options // Unset fields select the preprocessing defaults
	Radius     float64       // Default match radius in km, 0 = assign.DefaultRadius
	Workers    int           // Assignment workers, <= 0 = one per CPU
}

// Summary describes the state of a session
type Summary struct {
	Airports   int         `json:"airports"`
	Inputs     []string    `json:"inputs"`
	RawRows    int         `json:"raw_rows"`
	Rows       int         `json:"rows"`
	Preprocess track.Stats `json:"preprocess"`
	Radius     float64     `json:"radius_km"`
	Guesses    int         `json:"guesses"`
	Matched    int         `json:"matched"`
	LastAssign time.Time   `json:"last_assign,omitempty"`
	LastRunID  int64       `json:"last_run_id,omitempty"`
}

// Guesser is an airport guessing session: it owns the catalog, the loaded track rows and
// the result store. Readers may query results while an assignment runs.
type Guesser struct {
	catalog      *airports.Catalog
	reader       *track.Reader
	preprocessor *track.Preprocessor
	store        *results.Store
	metrics      *metrics.Metrics
	archive      Archiver
	notifier     Notifier
	opts         Options
	logger       *logger.Logger

	assignMu sync.Mutex // Serializes assignment runs

	mu        sync.RWMutex
	inputs    []string
	raw       []track.RawRow
	rows      []track.Row
	processed bool
	stats     track.Stats
	radius    float64
	lastRunID int64
}

// New creates a session over catalog. m may be nil to disable metrics.
func New(catalog *airports.Catalog, opts Options, log *logger.Logger, m *metrics.Metrics) (*Guesser, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.Radius == 0 {
		opts.Radius = assign.DefaultRadius
	}
	if err := assign.ValidateRadius(opts.Radius); err != nil {
		return nil, err
	}
	preprocessor, err := track.NewPreprocessor(opts.Preprocess, log)
	if err != nil {
		return nil, fmt.Errorf("invalid preprocessing options: %w", err)
	}

	m.SetAirports(catalog.Len())

	return &Guesser{
		catalog:      catalog,
		reader:       track.NewReader(log),
		preprocessor: preprocessor,
		store:        results.NewStore(),
		metrics:      m,
		opts:         opts,
		logger:       log.Named("guesser"),
		raw:          []track.RawRow{},
		rows:         []track.Row{},
		radius:       opts.Radius,
	}, nil
}

// SetArchive enables archiving of every completed run
func (g *Guesser) SetArchive(a Archiver) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.archive = a
}

// SetNotifier registers n to be told about every completed run
func (g *Guesser) SetNotifier(n Notifier) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notifier = n
}

// Catalog returns the session's airport catalog
func (g *Guesser) Catalog() *airports.Catalog {
	return g.catalog
}

// Store returns the session's result store
func (g *Guesser) Store() *results.Store {
	return g.store
}

// LoadTracks reads track files and adds their rows to the session
func (g *Guesser) LoadTracks(ctx context.Context, paths []string) error {
	raw, err := g.reader.ReadFiles(ctx, paths)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.inputs = append(g.inputs, paths...)
	g.mu.Unlock()

	g.AddRows(raw)
	return nil
}

// AddRows adds raw track rows, numbering them after the rows already loaded. Preprocessing
// runs again on the next Assign.
func (g *Guesser) AddRows(raw []track.RawRow) {
	g.mu.Lock()
	defer g.mu.Unlock()

	offset := len(g.raw)
	for i, r := range raw {
		r.Seq = offset + i
		g.raw = append(g.raw, r)
	}
	g.processed = false
	g.metrics.ObserveRowsRead(len(raw))
}

// Preprocess cleans and tags the loaded rows
func (g *Guesser) Preprocess() track.Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.preprocessLocked()
}

func (g *Guesser) preprocessLocked() track.Stats {
	g.rows, g.stats = g.preprocessor.Process(g.raw)
	g.processed = true
	g.metrics.ObservePreprocess(g.stats)

	g.logger.Info("Preprocessed tracks",
		logger.Int("raw_rows", g.stats.Input),
		logger.Int("rows", g.stats.Output),
		logger.Int("callsigns", g.stats.Callsigns),
		logger.Int("departed", g.stats.Departed),
		logger.Int("landed", g.stats.Landed))

	return g.stats
}

// Rows returns the preprocessed rows
func (g *Guesser) Rows() []track.Row {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]track.Row, len(g.rows))
	copy(out, g.rows)
	return out
}

// Assign attributes airports to every track endpoint and replaces the stored results.
// radius 0 uses the session default. Loaded rows are preprocessed first if needed.
func (g *Guesser) Assign(ctx context.Context, radius float64) ([]assign.Guess, error) {
	g.assignMu.Lock()
	defer g.assignMu.Unlock()

	if radius == 0 {
		radius = g.opts.Radius
	}
	engine, err := assign.NewEngine(radius, g.opts.Workers, g.logger)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	if !g.processed {
		g.preprocessLocked()
	}
	rows := g.rows
	inputs := append([]string{}, g.inputs...)
	rawCount := len(g.raw)
	archive := g.archive
	notifier := g.notifier
	g.mu.Unlock()

	start := time.Now()
	guesses, err := engine.Assign(ctx, g.catalog, rows)
	if err != nil {
		return nil, fmt.Errorf("assignment failed: %w", err)
	}
	finished := time.Now()

	g.store.Replace(guesses)
	g.metrics.ObserveAssign(guesses, finished.Sub(start))

	var runID int64
	if archive != nil {
		runID, err = archive.SaveRun(&sqlite.RunRecord{
			StartedAt:  start,
			FinishedAt: finished,
			RadiusKm:   radius,
			Inputs:     inputs,
			Airports:   g.catalog.Len(),
			Rows:       rawCount,
		}, guesses)
		if err != nil {
			g.logger.Error("Failed to archive run", logger.Error(err))
		}
	}

	g.mu.Lock()
	g.radius = radius
	if runID != 0 {
		g.lastRunID = runID
	}
	g.mu.Unlock()

	if notifier != nil {
		notifier.NotifyRun(g.Summary(), guesses)
	}

	return guesses, nil
}

// Result returns the result table of the last run, empty before any run
func (g *Guesser) Result() results.Table {
	return g.store.Get()
}

// Guesses returns the guesses of the last run
func (g *Guesser) Guesses() []assign.Guess {
	return g.store.Guesses()
}

// Export writes the result table as CSV; see results.Store.Export for dest
func (g *Guesser) Export(dest string, includeTracks bool) error {
	if err := g.store.Export(dest, includeTracks); err != nil {
		return err
	}
	g.logger.Info("Exported results",
		logger.String("dest", dest),
		logger.Int("guesses", g.store.Len()),
		logger.Bool("include_tracks", includeTracks))
	return nil
}

// WriteTracks writes every preprocessed track row as CSV with the departure and arrival
// airports guessed for its callsign
func (g *Guesser) WriteTracks(w io.Writer) error {
	return results.WriteAnnotatedTracks(w, g.Rows(), g.store.Guesses())
}

// ExportTracks writes the annotated track rows of WriteTracks to dest; see
// results.Store.Export for dest
func (g *Guesser) ExportTracks(dest string) error {
	if err := results.WriteFile(dest, g.WriteTracks); err != nil {
		return err
	}
	g.logger.Info("Exported annotated tracks",
		logger.String("dest", dest),
		logger.Int("rows", len(g.Rows())))
	return nil
}

// WriteGeoJSON writes the guesses, and optionally each callsign's path, as GeoJSON
func (g *Guesser) WriteGeoJSON(w io.Writer, includePaths bool) error {
	fc := results.NewFeatureCollection()
	if includePaths {
		fc.AddPaths(g.Rows())
	}
	fc.AddGuesses(g.store.Guesses())
	return results.WriteGeoJSON(w, fc)
}

// ExportGeoJSON writes the GeoJSON of WriteGeoJSON to dest
func (g *Guesser) ExportGeoJSON(dest string, includePaths bool) error {
	err := results.WriteFile(dest, func(w io.Writer) error {
		return g.WriteGeoJSON(w, includePaths)
	})
	if err != nil {
		return err
	}
	g.logger.Info("Exported GeoJSON", logger.String("dest", dest))
	return nil
}

// Summary describes the session
func (g *Guesser) Summary() Summary {
	g.mu.RLock()
	defer g.mu.RUnlock()

	guesses := g.store.Guesses()
	matched := 0
	for _, gs := range guesses {
		if gs.Matched() {
			matched++
		}
	}

	return Summary{
		Airports:   g.catalog.Len(),
		Inputs:     append([]string{}, g.inputs...),
		RawRows:    len(g.raw),
		Rows:       len(g.rows),
		Preprocess: g.stats,
		Radius:     g.radius,
		Guesses:    len(guesses),
		Matched:    matched,
		LastAssign: g.store.UpdatedAt(),
		LastRunID:  g.lastRunID,
	}
}
