package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yegors/airportguess/internal/assign"
	"github.com/yegors/airportguess/internal/track"
	"github.com/yegors/airportguess/pkg/logger"
)

var ErrRunNotFound = errors.New("run not found")

// RunRecord describes one archived assignment run
type RunRecord struct {
	ID         int64     `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	RadiusKm   float64   `json:"radius_km"`
	Inputs     []string  `json:"inputs"`
	Airports   int       `json:"airports"`
	Rows       int       `json:"rows"`
	Guesses    int       `json:"guesses"`
	Matched    int       `json:"matched"`
}

// GuessFilter narrows GetGuesses; zero values match everything
type GuessFilter struct {
	Callsign string
	Phase    track.Phase
}

// ArchiveStorage is a SQLite archive of assignment runs and their guesses
type ArchiveStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// DailyPath returns the archive file for day under base, e.g. airportguess-2019-08-16.db
func DailyPath(base string, day time.Time) string {
	return filepath.Join(base, fmt.Sprintf("airportguess-%s.db", day.Format("2006-01-02")))
}

// NewArchiveStorage opens (creating if needed) the archive database at dbPath
func NewArchiveStorage(dbPath string, log *logger.Logger) (*ArchiveStorage, error) {
	if log == nil {
		log = logger.NewNop()
	}
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite storage",
		logger.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := initDatabase(db, storageLogger); err != nil {
		db.Close()
		return nil, err
	}

	return &ArchiveStorage{db: db, logger: storageLogger}, nil
}

// Close closes the database connection
func (s *ArchiveStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// initDatabase initializes the database schema
func initDatabase(db *sql.DB, log *logger.Logger) error {
	log.Debug("Initializing database schema")

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			radius_km REAL NOT NULL,
			inputs TEXT,
			airport_count INTEGER NOT NULL,
			row_count INTEGER NOT NULL,
			guess_count INTEGER NOT NULL,
			matched_count INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS guesses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			callsign TEXT NOT NULL,
			phase TEXT NOT NULL,
			airport_code TEXT,
			distance_km REAL,
			timestamp TEXT NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			altitude REAL NOT NULL,
			aircraft_type TEXT,
			bearing_deg REAL,
			magnetic_bearing_deg REAL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create guesses table: %w", err)
	}

	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_guesses_run ON guesses(run_id, position)`,
		`CREATE INDEX IF NOT EXISTS idx_guesses_callsign ON guesses(callsign)`,
		`CREATE INDEX IF NOT EXISTS idx_guesses_airport ON guesses(airport_code)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// SaveRun archives a run and its guesses in a single transaction and returns the run ID
func (s *ArchiveStorage) SaveRun(run *RunRecord, guesses []assign.Guess) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	matched := 0
	for _, g := range guesses {
		if g.Matched() {
			matched++
		}
	}

	result, err := tx.Exec(`
		INSERT INTO runs (started_at, finished_at, radius_km, inputs, airport_count, row_count, guess_count, matched_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
		run.RadiusKm,
		marshalStringArray(run.Inputs),
		run.Airports,
		run.Rows,
		len(guesses),
		matched,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}

	runID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO guesses (run_id, position, callsign, phase, airport_code, distance_km, timestamp,
			latitude, longitude, altitude, aircraft_type, bearing_deg, magnetic_bearing_deg)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare guess insert statement: %w", err)
	}
	defer stmt.Close()

	for i, g := range guesses {
		_, err := stmt.Exec(
			runID,
			i,
			g.Callsign,
			g.Phase.String(),
			g.AirportCode,
			g.Distance,
			g.Timestamp.UTC().Format(time.RFC3339Nano),
			g.Source.Latitude,
			g.Source.Longitude,
			g.Source.Altitude,
			g.Source.AircraftType,
			g.Bearing,
			g.MagneticBearing,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert guess for %s: %w", g.Callsign, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit run: %w", err)
	}

	run.ID = runID
	run.Guesses = len(guesses)
	run.Matched = matched

	s.logger.Debug("Archived run",
		logger.Int64("run_id", runID),
		logger.Int("guesses", len(guesses)),
		logger.Int("matched", matched))

	return runID, nil
}

const runColumns = `id, started_at, finished_at, radius_km, inputs, airport_count, row_count, guess_count, matched_count`

// GetRuns returns archived runs, newest first, with pagination
func (s *ArchiveStorage) GetRuns(limit, offset int) ([]*RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+runColumns+` FROM runs ORDER BY id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	records := make([]*RunRecord, 0)
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}

	return records, nil
}

// GetRun returns a single run
func (s *ArchiveStorage) GetRun(id int64) (*RunRecord, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	record, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	return record, err
}

// LatestRunID returns the most recent run, or ErrRunNotFound on an empty archive
func (s *ArchiveStorage) LatestRunID() (int64, error) {
	var id sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(id) FROM runs`).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to query latest run: %w", err)
	}
	if !id.Valid {
		return 0, ErrRunNotFound
	}
	return id.Int64, nil
}

// GetGuesses returns the guesses of a run in their original order
func (s *ArchiveStorage) GetGuesses(runID int64, filter GuessFilter) ([]assign.Guess, error) {
	query := `SELECT callsign, phase, airport_code, distance_km, timestamp, latitude, longitude,
		altitude, aircraft_type, bearing_deg, magnetic_bearing_deg
		FROM guesses WHERE run_id = ?`
	args := []interface{}{runID}

	if filter.Callsign != "" {
		query += ` AND callsign = ?`
		args = append(args, strings.TrimSpace(filter.Callsign))
	}
	if filter.Phase != track.PhaseUnknown {
		query += ` AND phase = ?`
		args = append(args, filter.Phase.String())
	}
	query += ` ORDER BY position`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query guesses: %w", err)
	}
	defer rows.Close()

	guesses := make([]assign.Guess, 0)
	for rows.Next() {
		var g assign.Guess
		var phase, timestamp string
		var code, aircraftType sql.NullString
		var distance, bearing, magnetic sql.NullFloat64

		if err := rows.Scan(
			&g.Callsign,
			&phase,
			&code,
			&distance,
			&timestamp,
			&g.Source.Latitude,
			&g.Source.Longitude,
			&g.Source.Altitude,
			&aircraftType,
			&bearing,
			&magnetic,
		); err != nil {
			return nil, fmt.Errorf("failed to scan guess: %w", err)
		}

		if g.Phase, err = track.ParsePhase(phase); err != nil {
			return nil, err
		}
		if g.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp); err != nil {
			return nil, fmt.Errorf("failed to parse timestamp: %w", err)
		}

		// Handle nullable fields
		if code.Valid {
			g.AirportCode = &code.String
		}
		g.Distance = nullableFloat(distance)
		g.Bearing = nullableFloat(bearing)
		g.MagneticBearing = nullableFloat(magnetic)

		g.Source.Callsign = g.Callsign
		g.Source.Phase = g.Phase
		g.Source.Timestamp = g.Timestamp
		g.Source.AircraftType = aircraftType.String

		guesses = append(guesses, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating guess rows: %w", err)
	}

	return guesses, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*RunRecord, error) {
	var record RunRecord
	var startedAt, finishedAt string
	var inputs sql.NullString

	if err := row.Scan(
		&record.ID,
		&startedAt,
		&finishedAt,
		&record.RadiusKm,
		&inputs,
		&record.Airports,
		&record.Rows,
		&record.Guesses,
		&record.Matched,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	var err error
	if record.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}
	if record.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt); err != nil {
		return nil, fmt.Errorf("failed to parse finished_at: %w", err)
	}
	record.Inputs = unmarshalStringArray(inputs.String)

	return &record, nil
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// marshalStringArray converts a string array to a JSON string for storage
func marshalStringArray(arr []string) string {
	if len(arr) == 0 {
		return ""
	}

	data, err := json.Marshal(arr)
	if err != nil {
		return ""
	}

	return string(data)
}

func unmarshalStringArray(s string) []string {
	out := []string{}
	if s == "" {
		return out
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return []string{}
	}
	return out
}
