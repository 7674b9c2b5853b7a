package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yegors/airportguess/internal/guesser"
	"github.com/yegors/airportguess/internal/metrics"
	"github.com/yegors/airportguess/internal/websocket"
	"github.com/yegors/airportguess/pkg/logger"
)

// Router wires the API handlers to their routes
type Router struct {
	handler  *Handler
	metrics  *metrics.Metrics
	wsServer *websocket.Server
	logger   *logger.Logger
}

// NewRouter creates a new API router. archive, m and wsServer may be nil.
func NewRouter(g *guesser.Guesser, archive RunArchive, m *metrics.Metrics, wsServer *websocket.Server, log *logger.Logger) *Router {
	if log == nil {
		log = logger.NewNop()
	}
	return &Router{
		handler:  NewHandler(g, archive, log),
		metrics:  m,
		wsServer: wsServer,
		logger:   log.Named("api"),
	}
}

// Routes returns the HTTP handler for all routes
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(rt.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", rt.handler.Health)

		r.Get("/airports", rt.handler.ListAirports)
		r.Get("/airports/{code}", rt.handler.GetAirport)

		r.Get("/guesses", rt.handler.ListGuesses)
		r.Get("/guesses.csv", rt.handler.GuessesCSV)
		r.Get("/guesses.geojson", rt.handler.GuessesGeoJSON)
		r.Get("/tracks.csv", rt.handler.TracksCSV)
		r.Post("/assign", rt.handler.Assign)

		r.Get("/runs", rt.handler.ListRuns)
		r.Get("/runs/{id}/guesses", rt.handler.GetRunGuesses)

		if rt.wsServer != nil {
			r.Get("/ws", rt.wsServer.HandleConnection)
		}
	})

	if rt.metrics != nil {
		r.Handle("/metrics", rt.metrics.Handler())
	}

	return r
}

func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		rt.logger.Debug("HTTP request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Int("bytes", ww.BytesWritten()),
			logger.String("request_id", middleware.GetReqID(r.Context())),
			logger.Duration("duration", time.Since(start)))
	})
}
