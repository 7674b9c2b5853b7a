package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sethvargo/go-envconfig"
)

// EnvPrefix prefixes every environment override, e.g. AIRPORTGUESS_ASSIGN_RADIUS_KM
const EnvPrefix = "AIRPORTGUESS_"

// Defaults applied by Validate
const (
	DefaultRadiusKm         = 10.0
	DefaultMinAltitudeFt    = -1000.0
	DefaultMaxAltitudeFt    = 60000.0
	DefaultGroundAltitudeFt = 6000.0
	DefaultOutputPath       = "-"
	DefaultSQLiteBasePath   = "data"
	DefaultServerHost       = "127.0.0.1"
	DefaultServerPort       = 8080
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "console"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Airports   AirportsConfig   `toml:"airports" env:", prefix=AIRPORTS_"`     // Airport catalog settings
	Tracks     TracksConfig     `toml:"tracks" env:", prefix=TRACKS_"`         // Track file selection
	Assign     AssignConfig     `toml:"assign" env:", prefix=ASSIGN_"`         // Airport assignment settings
	Preprocess PreprocessConfig `toml:"preprocess" env:", prefix=PREPROCESS_"` // Track cleanup thresholds
	Output     OutputConfig     `toml:"output" env:", prefix=OUTPUT_"`         // Result export settings
	Storage    StorageConfig    `toml:"storage" env:", prefix=STORAGE_"`       // Run archive settings
	Server     ServerConfig     `toml:"server" env:", prefix=SERVER_"`         // HTTP server settings
	Logging    LoggingConfig    `toml:"logging" env:", prefix=LOGGING_"`       // Application logging settings
}

// AirportsConfig contains airport catalog settings
type AirportsConfig struct {
	File              string   `toml:"file" env:"FILE"`                               // Whitespace-delimited aerodrome file (code, name, DDMMSS lat, DDDMMSS lon)
	TargetAirports    []string `toml:"target_airports" env:"TARGET_AIRPORTS"`         // Restrict the catalog to these ICAO codes (empty = all)
	MagneticModelDate string   `toml:"magnetic_model_date" env:"MAGNETIC_MODEL_DATE"` // YYYY-MM-DD epoch for magnetic variation (empty = skip)
}

// ModelDate parses MagneticModelDate; the zero time means magnetic variation is not computed
func (a AirportsConfig) ModelDate() (time.Time, error) {
	if a.MagneticModelDate == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", a.MagneticModelDate)
}

// TracksConfig selects the track files to read
type TracksConfig struct {
	Inputs      []string `toml:"inputs" env:"INPUTS"`             // Glob patterns of track files
	Dates       []string `toml:"dates" env:"DATES"`               // YYYYMMDD dates of CARATS trk files
	SourceTimes []string `toml:"source_times" env:"SOURCE_TIMES"` // Slots of CARATS trk files (e.g., "00_12")
	TrkDir      string   `toml:"trk_dir" env:"TRK_DIR"`           // Directory of CARATS trk files
}

// AssignConfig contains airport assignment settings
type AssignConfig struct {
	RadiusKm float64 `toml:"radius_km" env:"RADIUS_KM"` // Match radius in kilometres (default: 10)
	Workers  int     `toml:"workers" env:"WORKERS"`     // Parallel workers (0 = one per CPU)
}

// PreprocessConfig contains track cleanup thresholds. Unset values take the defaults.
type PreprocessConfig struct {
	MinAltitudeFt    *float64 `toml:"min_altitude_ft" env:"MIN_ALTITUDE_FT"`       // Interior rows below this are dropped
	MaxAltitudeFt    *float64 `toml:"max_altitude_ft" env:"MAX_ALTITUDE_FT"`       // Interior rows above this are dropped
	GroundAltitudeFt *float64 `toml:"ground_altitude_ft" env:"GROUND_ALTITUDE_FT"` // Endpoints at or below this get a phase
}

// OutputConfig contains result export settings
type OutputConfig struct {
	Path           string `toml:"path" env:"PATH"`                       // CSV destination ("-" = stdout, ".zst" = compressed)
	IncludeTracks  bool   `toml:"include_tracks" env:"INCLUDE_TRACKS"`   // Append the representative track row columns
	AnnotateTracks bool   `toml:"annotate_tracks" env:"ANNOTATE_TRACKS"` // Write every track row with its airports instead of the guesses
	GeoJSONPath    string `toml:"geojson_path" env:"GEOJSON_PATH"`       // Optional GeoJSON destination
}

// StorageConfig contains run archive settings
type StorageConfig struct {
	Enabled        bool   `toml:"enabled" env:"ENABLED"`                   // Archive every run to SQLite
	SQLiteBasePath string `toml:"sqlite_base_path" env:"SQLITE_BASE_PATH"` // Base path for SQLite files (airportguess-YYYY-MM-DD.db)
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Enabled          bool   `toml:"enabled" env:"ENABLED"`                             // Serve the API after the batch run
	Host             string `toml:"host" env:"HOST"`                                   // Host address to bind to
	Port             int    `toml:"port" env:"PORT"`                                   // HTTP port
	ReadTimeoutSecs  int    `toml:"read_timeout_seconds" env:"READ_TIMEOUT_SECONDS"`   // Maximum duration for reading a request (0 = no timeout)
	WriteTimeoutSecs int    `toml:"write_timeout_seconds" env:"WRITE_TIMEOUT_SECONDS"` // Maximum duration for writing a response (0 = no timeout)
	IdleTimeoutSecs  int    `toml:"idle_timeout_seconds" env:"IDLE_TIMEOUT_SECONDS"`   // Keep-alive idle timeout
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level      string `toml:"level" env:"LEVEL"`               // Log level: "debug", "info", "warn", or "error"
	Format     string `toml:"format" env:"FORMAT"`             // Log format: "json" (structured) or "console" (human-readable)
	File       string `toml:"file" env:"FILE"`                 // Optional rolling log file (JSON)
	MaxSizeMB  int    `toml:"max_size_mb" env:"MAX_SIZE_MB"`   // Rotate after this many megabytes
	MaxBackups int    `toml:"max_backups" env:"MAX_BACKUPS"`   // Rotated files to keep
	MaxAgeDays int    `toml:"max_age_days" env:"MAX_AGE_DAYS"` // Days to keep rotated files
}

// Default returns a configuration with every default filled in
func Default() *Config {
	c := &Config{}
	_ = c.Validate()
	return c
}

// Load loads the configuration from a TOML file
func Load(path string) (*Config, error) {
	var config Config

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Read the config file
	md, err := toml.DecodeFile(path, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}

	return &config, nil
}

// LoadWithFallback loads the first config file found among preferredPath,
// configs/config.toml and config.toml. An explicitly given preferredPath must exist; when
// none is given and no file is found, the defaults are returned. The second return value is
// the file that was loaded ("" for defaults).
func LoadWithFallback(preferredPath string) (*Config, string, error) {
	if preferredPath != "" {
		config, err := Load(preferredPath)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load config from %s: %w", preferredPath, err)
		}
		return config, preferredPath, nil
	}

	for _, path := range []string{"configs/config.toml", "config.toml"} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		config, err := Load(path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load config from %s: %w", path, err)
		}
		return config, path, nil
	}

	return &Config{}, "", nil
}

// ApplyEnv overrides configured values with AIRPORTGUESS_* variables from lookuper.
// Pass envconfig.OsLookuper() for the process environment.
func (c *Config) ApplyEnv(ctx context.Context, lookuper envconfig.Lookuper) error {
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:           c,
		Lookuper:         envconfig.PrefixLookuper(EnvPrefix, lookuper),
		DefaultOverwrite: true,
		DefaultNoInit:    true,
	}); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return nil
}

// Validate checks the configuration and fills unset values with defaults
func (c *Config) Validate() error {
	// Airports
	c.Airports.MagneticModelDate = strings.TrimSpace(c.Airports.MagneticModelDate)
	if _, err := c.Airports.ModelDate(); err != nil {
		return fmt.Errorf("invalid magnetic_model_date %q (want YYYY-MM-DD): %w", c.Airports.MagneticModelDate, err)
	}
	for i, code := range c.Airports.TargetAirports {
		c.Airports.TargetAirports[i] = strings.ToUpper(strings.TrimSpace(code))
	}

	// Tracks
	if len(c.Tracks.Dates) > 0 && len(c.Tracks.SourceTimes) == 0 {
		return fmt.Errorf("tracks.dates requires tracks.source_times")
	}
	for _, d := range c.Tracks.Dates {
		if _, err := time.Parse("20060102", strings.TrimSpace(d)); err != nil {
			return fmt.Errorf("invalid track date %q (want YYYYMMDD)", d)
		}
	}
	if c.Tracks.TrkDir == "" {
		c.Tracks.TrkDir = "."
	}

	// Assign
	if c.Assign.RadiusKm == 0 {
		c.Assign.RadiusKm = DefaultRadiusKm
	}
	if c.Assign.RadiusKm < 0 {
		return fmt.Errorf("invalid radius_km: %v (must be > 0)", c.Assign.RadiusKm)
	}
	if c.Assign.Workers < 0 {
		return fmt.Errorf("invalid workers value: %d (must be >= 0)", c.Assign.Workers)
	}

	// Preprocess
	setDefault(&c.Preprocess.MinAltitudeFt, DefaultMinAltitudeFt)
	setDefault(&c.Preprocess.MaxAltitudeFt, DefaultMaxAltitudeFt)
	setDefault(&c.Preprocess.GroundAltitudeFt, DefaultGroundAltitudeFt)
	if *c.Preprocess.MinAltitudeFt >= *c.Preprocess.MaxAltitudeFt {
		return fmt.Errorf("min_altitude_ft (%v) must be below max_altitude_ft (%v)",
			*c.Preprocess.MinAltitudeFt, *c.Preprocess.MaxAltitudeFt)
	}

	// Output
	if c.Output.Path == "" {
		c.Output.Path = DefaultOutputPath
	}

	// Storage
	if c.Storage.SQLiteBasePath == "" {
		c.Storage.SQLiteBasePath = DefaultSQLiteBasePath
	}

	// Server
	if c.Server.Host == "" {
		c.Server.Host = DefaultServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeoutSecs < 0 || c.Server.WriteTimeoutSecs < 0 || c.Server.IdleTimeoutSecs < 0 {
		return fmt.Errorf("server timeouts must be >= 0")
	}
	if c.Server.IdleTimeoutSecs == 0 {
		c.Server.IdleTimeoutSecs = 120
	}

	// Logging
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be 'debug', 'info', 'warn', or 'error')", c.Logging.Level)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}
	if c.Logging.File != "" {
		if c.Logging.MaxSizeMB == 0 {
			c.Logging.MaxSizeMB = 100
		}
		if c.Logging.MaxBackups == 0 {
			c.Logging.MaxBackups = 5
		}
		if c.Logging.MaxAgeDays == 0 {
			c.Logging.MaxAgeDays = 30
		}
	}

	return nil
}

func setDefault(v **float64, def float64) {
	if *v == nil {
		d := def
		*v = &d
	}
}
