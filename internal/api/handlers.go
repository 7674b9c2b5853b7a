package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/yegors/airportguess/internal/assign"
	"github.com/yegors/airportguess/internal/guesser"
	"github.com/yegors/airportguess/internal/storage/sqlite"
	"github.com/yegors/airportguess/internal/track"
	"github.com/yegors/airportguess/pkg/logger"
)

// RunArchive is the read side of the run archive
type RunArchive interface {
	GetRuns(limit, offset int) ([]*sqlite.RunRecord, error)
	GetRun(id int64) (*sqlite.RunRecord, error)
	LatestRunID() (int64, error)
	GetGuesses(runID int64, filter sqlite.GuessFilter) ([]assign.Guess, error)
}

// Cache of archived run guesses, keyed by run ID
const (
	runCacheSize = 16
	runCacheTTL  = 30 * time.Minute
)

// Handler contains the API handlers
type Handler struct {
	guesser  *guesser.Guesser
	archive  RunArchive
	runCache *expirable.LRU[int64, []assign.Guess]
	logger   *logger.Logger
}

// NewHandler creates a new API handler. archive may be nil when archiving is disabled.
func NewHandler(g *guesser.Guesser, archive RunArchive, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{
		guesser:  g,
		archive:  archive,
		runCache: expirable.NewLRU[int64, []assign.Guess](runCacheSize, nil, runCacheTTL),
		logger:   log.Named("api-handler"),
	}
}

// GuessesResponse is the body of GET /api/v1/guesses
type GuessesResponse struct {
	Count   int            `json:"count"`
	Guesses []assign.Guess `json:"guesses"`
}

// Health reports liveness together with the session summary
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"time":    time.Now().UTC(),
		"session": h.guesser.Summary(),
	})
}

// ListAirports returns the airport catalog in catalog order
func (h *Handler) ListAirports(w http.ResponseWriter, r *http.Request) {
	airports := h.guesser.Catalog().All()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(airports),
		"airports": airports,
	})
}

// GetAirport returns a single airport by ICAO code
func (h *Handler) GetAirport(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if code == "" {
		http.Error(w, "Missing airport code", http.StatusBadRequest)
		return
	}

	airport, ok := h.guesser.Catalog().Lookup(code)
	if !ok {
		http.Error(w, "Airport not found", http.StatusNotFound)
		return
	}

	WriteJSON(w, http.StatusOK, airport)
}

// ListGuesses returns the guesses of the last run, filtered by the callsign, phase and
// matched query parameters
func (h *Handler) ListGuesses(w http.ResponseWriter, r *http.Request) {
	filter, err := parseGuessFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	guesses := filter.apply(h.guesser.Guesses())
	WriteJSON(w, http.StatusOK, GuessesResponse{Count: len(guesses), Guesses: guesses})
}

// GuessesCSV streams the result table as CSV
func (h *Handler) GuessesCSV(w http.ResponseWriter, r *http.Request) {
	includeTracks := parseBool(r.URL.Query().Get("include_tracks"))

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="guesses.csv"`)
	if err := h.guesser.Store().WriteCSV(w, includeTracks); err != nil {
		h.logger.Error("Failed to write CSV", logger.Error(err))
	}
}

// TracksCSV streams every track row annotated with its callsign's guessed airports
func (h *Handler) TracksCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="tracks.csv"`)
	if err := h.guesser.WriteTracks(w); err != nil {
		h.logger.Error("Failed to write annotated tracks", logger.Error(err))
	}
}

// GuessesGeoJSON returns the guesses as a GeoJSON feature collection
func (h *Handler) GuessesGeoJSON(w http.ResponseWriter, r *http.Request) {
	includePaths := parseBool(r.URL.Query().Get("include_paths"))

	w.Header().Set("Content-Type", "application/geo+json")
	if err := h.guesser.WriteGeoJSON(w, includePaths); err != nil {
		h.logger.Error("Failed to write GeoJSON", logger.Error(err))
	}
}

// Assign re-runs the assignment, optionally with a radius_km query parameter. Without
// the parameter the session radius is used.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var radius float64
	if r.URL.Query().Has("radius_km") {
		parsed, err := strconv.ParseFloat(r.URL.Query().Get("radius_km"), 64)
		if err != nil {
			http.Error(w, "Invalid radius_km", http.StatusBadRequest)
			return
		}
		if err := assign.ValidateRadius(parsed); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		radius = parsed
	}

	start := time.Now()
	if _, err := h.guesser.Assign(r.Context(), radius); err != nil {
		if errors.Is(err, assign.ErrInvalidRadius) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("Assignment failed", logger.Error(err))
		http.Error(w, "Assignment failed", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Assignment triggered via API",
		logger.Float64("radius_km", radius),
		logger.Duration("duration", time.Since(start)))

	WriteJSON(w, http.StatusOK, h.guesser.Summary())
}

// ListRuns returns archived runs, newest first
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		http.Error(w, "Run archive is disabled", http.StatusServiceUnavailable)
		return
	}

	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	if limit <= 0 || limit > 1000 || offset < 0 {
		http.Error(w, "Invalid limit or offset", http.StatusBadRequest)
		return
	}

	runs, err := h.archive.GetRuns(limit, offset)
	if err != nil {
		h.logger.Error("Failed to get runs", logger.Error(err))
		http.Error(w, "Failed to get runs", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(runs),
		"runs":  runs,
	})
}

// GetRunGuesses returns the archived guesses of one run
func (h *Handler) GetRunGuesses(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		http.Error(w, "Run archive is disabled", http.StatusServiceUnavailable)
		return
	}

	id, err := h.runID(chi.URLParam(r, "id"))
	if errors.Is(err, sqlite.ErrRunNotFound) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Invalid run ID", http.StatusBadRequest)
		return
	}

	filter, err := parseGuessFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	guesses, ok := h.runCache.Get(id)
	if !ok {
		if _, err := h.archive.GetRun(id); err != nil {
			if errors.Is(err, sqlite.ErrRunNotFound) {
				http.Error(w, "Run not found", http.StatusNotFound)
				return
			}
			h.logger.Error("Failed to get run", logger.Int64("run_id", id), logger.Error(err))
			http.Error(w, "Failed to get run", http.StatusInternalServerError)
			return
		}

		guesses, err = h.archive.GetGuesses(id, sqlite.GuessFilter{})
		if err != nil {
			h.logger.Error("Failed to get run guesses", logger.Int64("run_id", id), logger.Error(err))
			http.Error(w, "Failed to get run guesses", http.StatusInternalServerError)
			return
		}
		h.runCache.Add(id, guesses)
	}

	guesses = filter.apply(guesses)
	WriteJSON(w, http.StatusOK, GuessesResponse{Count: len(guesses), Guesses: guesses})
}

// runID resolves a run path parameter; "latest" is the most recent archived run
func (h *Handler) runID(param string) (int64, error) {
	if param == "latest" {
		return h.archive.LatestRunID()
	}
	return strconv.ParseInt(param, 10, 64)
}

type guessFilter struct {
	callsign string
	phase    track.Phase
	matched  *bool
}

func parseGuessFilter(r *http.Request) (guessFilter, error) {
	q := r.URL.Query()
	f := guessFilter{callsign: strings.ToUpper(strings.TrimSpace(q.Get("callsign")))}

	if v := q.Get("phase"); v != "" {
		phase, err := track.ParsePhase(v)
		if err != nil {
			return f, err
		}
		f.phase = phase
	}
	if v := q.Get("matched"); v != "" {
		matched, err := strconv.ParseBool(v)
		if err != nil {
			return f, errors.New("invalid matched value")
		}
		f.matched = &matched
	}
	return f, nil
}

func (f guessFilter) apply(guesses []assign.Guess) []assign.Guess {
	out := make([]assign.Guess, 0, len(guesses))
	for _, g := range guesses {
		if f.callsign != "" && strings.ToUpper(g.Callsign) != f.callsign {
			continue
		}
		if f.phase != track.PhaseUnknown && g.Phase != f.phase {
			continue
		}
		if f.matched != nil && g.Matched() != *f.matched {
			continue
		}
		out = append(out, g)
	}
	return out
}

func parseBool(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}

func parseIntDefault(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

// WriteJSON writes data as a JSON response with the given status
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
