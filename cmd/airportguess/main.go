package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/yegors/airportguess/internal/airports"
	"github.com/yegors/airportguess/internal/api"
	"github.com/yegors/airportguess/internal/config"
	"github.com/yegors/airportguess/internal/guesser"
	"github.com/yegors/airportguess/internal/metrics"
	"github.com/yegors/airportguess/internal/storage/sqlite"
	"github.com/yegors/airportguess/internal/track"
	"github.com/yegors/airportguess/internal/websocket"
	"github.com/yegors/airportguess/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

// flags mirrors the command line; list flags take comma-separated values
type flags struct {
	configPath     string
	inputs         string
	dates          string
	sourceTimes    string
	trkDir         string
	airportFile    string
	targetAirports string
	radius         float64
	workers        int
	output         string
	includeTracks  bool
	trackColumns   bool
	geojson        string
	serve          bool
	verbose        bool
	version        bool
}

func parseFlags(args []string) (*flags, map[string]bool, error) {
	f := &flags{}
	fs := flag.NewFlagSet("airportguess", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	fs.StringVar(&f.inputs, "input", "", "Comma-separated glob patterns of track CSV files")
	fs.StringVar(&f.dates, "dates", "", "Comma-separated YYYYMMDD dates of CARATS trk files")
	fs.StringVar(&f.sourceTimes, "source-times", "", "Comma-separated trk file slots (e.g., 00_12,12_24)")
	fs.StringVar(&f.trkDir, "trk-dir", "", "Directory of CARATS trk files")
	fs.StringVar(&f.airportFile, "airport-file", "", "Aerodrome file (code, name, DDMMSS lat, DDDMMSS lon)")
	fs.StringVar(&f.targetAirports, "target-airports", "", "Comma-separated ICAO codes to restrict the catalog to")
	fs.Float64Var(&f.radius, "radius", 0, "Match radius in kilometres (default 10)")
	fs.IntVar(&f.workers, "workers", 0, "Assignment workers (0 = one per CPU)")
	fs.StringVar(&f.output, "output", "", `CSV output path ("-" = stdout, ".zst" = zstd)`)
	fs.BoolVar(&f.includeTracks, "include-trks", false, "Write every track row annotated with its departure and arrival airports")
	fs.BoolVar(&f.trackColumns, "track-columns", false, "Include the representative track row in each guess")
	fs.StringVar(&f.geojson, "geojson", "", "Optional GeoJSON output path")
	fs.BoolVar(&f.serve, "serve", false, "Serve the HTTP API after the run")
	fs.BoolVar(&f.verbose, "verbose", false, "Enable debug logging")
	fs.BoolVar(&f.version, "version", false, "Print the version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	set := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	return f, set, nil
}

// applyFlags overrides configuration values with explicitly set flags
func applyFlags(cfg *config.Config, f *flags, set map[string]bool) {
	if set["input"] {
		cfg.Tracks.Inputs = splitList(f.inputs)
	}
	if set["dates"] {
		cfg.Tracks.Dates = splitList(f.dates)
	}
	if set["source-times"] {
		cfg.Tracks.SourceTimes = splitList(f.sourceTimes)
	}
	if set["trk-dir"] {
		cfg.Tracks.TrkDir = f.trkDir
	}
	if set["airport-file"] {
		cfg.Airports.File = f.airportFile
	}
	if set["target-airports"] {
		cfg.Airports.TargetAirports = splitList(f.targetAirports)
	}
	if set["radius"] {
		cfg.Assign.RadiusKm = f.radius
	}
	if set["workers"] {
		cfg.Assign.Workers = f.workers
	}
	if set["output"] {
		cfg.Output.Path = f.output
	}
	if set["include-trks"] {
		cfg.Output.AnnotateTracks = f.includeTracks
	}
	if set["track-columns"] {
		cfg.Output.IncludeTracks = f.trackColumns
	}
	if set["geojson"] {
		cfg.Output.GeoJSONPath = f.geojson
	}
	if set["serve"] {
		cfg.Server.Enabled = f.serve
	}
	if f.verbose {
		cfg.Logging.Level = "debug"
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	f, set, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if f.version {
		fmt.Println(Version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration with fallback logic, then environment and flag overrides
	cfg, configPath, err := config.LoadWithFallback(f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ApplyEnv(ctx, envconfig.OsLookuper()); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, f, set)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting airportguess",
		logger.String("version", Version),
		logger.String("config_path", configPath),
	)

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Run failed", logger.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if cfg.Airports.File == "" {
		return errors.New("no airport file configured (airports.file or -airport-file)")
	}

	modelDate, err := cfg.Airports.ModelDate()
	if err != nil {
		return err
	}
	catalog, err := airports.LoadFile(cfg.Airports.File, airports.Options{
		Targets:           cfg.Airports.TargetAirports,
		MagneticModelDate: modelDate,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to load airports: %w", err)
	}

	m := metrics.New()
	g, err := guesser.New(catalog, guesser.Options{
		Preprocess: track.Options{
			MinAltitude:    cfg.Preprocess.MinAltitudeFt,
			MaxAltitude:    cfg.Preprocess.MaxAltitudeFt,
			GroundAltitude: cfg.Preprocess.GroundAltitudeFt,
		},
		Radius:  cfg.Assign.RadiusKm,
		Workers: cfg.Assign.Workers,
	}, log, m)
	if err != nil {
		return err
	}

	var archive *sqlite.ArchiveStorage
	if cfg.Storage.Enabled {
		if err := os.MkdirAll(cfg.Storage.SQLiteBasePath, 0o755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
		dbPath := sqlite.DailyPath(cfg.Storage.SQLiteBasePath, time.Now())
		log.Info("Using daily database", logger.String("path", dbPath))

		archive, err = sqlite.NewArchiveStorage(dbPath, log)
		if err != nil {
			return fmt.Errorf("failed to open run archive: %w", err)
		}
		defer archive.Close()
		g.SetArchive(archive)
	}

	paths, err := track.CollectPaths(cfg.Tracks.Inputs, cfg.Tracks.Dates, cfg.Tracks.SourceTimes, cfg.Tracks.TrkDir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		log.Warn("No track files matched the configured inputs")
	}

	if err := g.LoadTracks(ctx, paths); err != nil {
		return fmt.Errorf("failed to load tracks: %w", err)
	}
	if _, err := g.Assign(ctx, 0); err != nil {
		return err
	}

	if cfg.Output.AnnotateTracks {
		if err := g.ExportTracks(cfg.Output.Path); err != nil {
			return fmt.Errorf("failed to export annotated tracks: %w", err)
		}
	} else if err := g.Export(cfg.Output.Path, cfg.Output.IncludeTracks); err != nil {
		return fmt.Errorf("failed to export results: %w", err)
	}
	if cfg.Output.GeoJSONPath != "" {
		includePaths := cfg.Output.AnnotateTracks || cfg.Output.IncludeTracks
		if err := g.ExportGeoJSON(cfg.Output.GeoJSONPath, includePaths); err != nil {
			return fmt.Errorf("failed to export GeoJSON: %w", err)
		}
	}

	summary := g.Summary()
	log.Info("Run complete",
		logger.Int("airports", summary.Airports),
		logger.Int("files", len(summary.Inputs)),
		logger.Int("rows", summary.Rows),
		logger.Int("guesses", summary.Guesses),
		logger.Int("matched", summary.Matched))

	if !cfg.Server.Enabled {
		return nil
	}

	// Clients connected to the WebSocket are told about runs triggered through the API
	wsServer := websocket.NewServer(g, log)
	g.SetNotifier(wsServer)
	go wsServer.Run(ctx)

	var runArchive api.RunArchive
	if archive != nil {
		runArchive = archive
	}
	return serve(ctx, cfg.Server, api.NewRouter(g, runArchive, m, wsServer, log).Routes(), log)
}

// serve runs the HTTP server until ctx is cancelled
func serve(ctx context.Context, cfg config.ServerConfig, handler http.Handler, log *logger.Logger) error {
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.IdleTimeoutSecs) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	log.Info("HTTP server shutdown complete")
	return nil
}
