// Package server exposes the operator HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/unklstewy/heliostat/internal/app"
	"github.com/unklstewy/heliostat/internal/observability"
	"github.com/unklstewy/heliostat/internal/transport"
	"github.com/unklstewy/heliostat/pkg/config"
	"github.com/unklstewy/heliostat/pkg/coordinates"
	"github.com/unklstewy/heliostat/pkg/gps"
	"github.com/unklstewy/heliostat/pkg/tracker"
)

// Controller is the part of the event loop the API drives.
type Controller interface {
	Submit(ctx context.Context, a app.Action) error
	Latest() tracker.Snapshot
	GPSStats() gps.Stats
}

// Server is the operator HTTP API.
type Server struct {
	router  *chi.Mux
	cfg     config.ServerConfig
	ctrl    Controller
	metrics *observability.Collector
	logger  *log.Logger
}

// New creates the API server. metrics may be nil, which disables /metrics.
func New(cfg config.ServerConfig, ctrl Controller, metrics *observability.Collector, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		router:  chi.NewRouter(),
		cfg:     cfg,
		ctrl:    ctrl,
		metrics: metrics,
		logger:  logger,
	}
	s.setupRoutes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	r := s.router

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: s.logger, NoColor: true}))
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/sun", s.handleSun)

		r.Post("/home", s.handleAction(func(*http.Request) (app.Action, error) { return app.Home(), nil }))
		r.Post("/track", s.handleAction(func(*http.Request) (app.Action, error) { return app.Track(), nil }))
		r.Post("/jog/{direction}", s.handleAction(jogAction))
		r.Post("/command", s.handleAction(commandAction))
	})

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("[server] listening on %s", s.cfg.Listen)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Printf("[server] stopped")
	return nil
}

type statusResponse struct {
	tracker.Snapshot
	GPS gps.Stats `json:"gps"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, statusResponse{
		Snapshot: s.ctrl.Latest(),
		GPS:      s.ctrl.GPSStats(),
	})
}

// handleSun computes the sun position for ?lat=&lon=[&time=RFC3339].
// Without coordinates the latest fix is used.
func (s *Server) handleSun(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	at := time.Now().UTC()
	if v := q.Get("time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid time, want RFC3339")
			return
		}
		at = t
	}

	var lat, lon float64
	if q.Get("lat") != "" || q.Get("lon") != "" {
		var errLat, errLon error
		lat, errLat = strconv.ParseFloat(q.Get("lat"), 64)
		lon, errLon = strconv.ParseFloat(q.Get("lon"), 64)
		if errLat != nil || errLon != nil {
			respondError(w, http.StatusBadRequest, "lat and lon must both be numbers")
			return
		}
	} else {
		fix := s.ctrl.Latest().Fix
		if fix == nil {
			respondError(w, http.StatusConflict, "no GPS fix, pass lat and lon")
			return
		}
		lat, lon = fix.Latitude, fix.Longitude
	}

	sun, err := coordinates.ComputeSunPosition(lat, lon, at)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sun)
}

func jogAction(r *http.Request) (app.Action, error) {
	dir, err := tracker.ParseDirection(chi.URLParam(r, "direction"))
	if err != nil {
		return app.Action{}, err
	}
	return app.Jog(dir), nil
}

func commandAction(r *http.Request) (app.Action, error) {
	var req struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return app.Action{}, errBadRequest
	}
	if req.Command == "" {
		return app.Action{}, errBadRequest
	}
	return app.Command(req.Command), nil
}

var errBadRequest = errors.New("invalid request body")

func (s *Server) handleAction(build func(*http.Request) (app.Action, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		action, err := build(r)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.ctrl.Submit(r.Context(), action); err != nil {
			s.logger.Printf("[server] %s: %v", action, err)
			respondError(w, statusFor(err), err.Error())
			return
		}
		respondJSON(w, http.StatusOK, statusResponse{
			Snapshot: s.ctrl.Latest(),
			GPS:      s.ctrl.GPSStats(),
		})
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tracker.ErrNotHomed), errors.Is(err, tracker.ErrHalted),
		errors.Is(err, tracker.ErrHomingInProgress):
		return http.StatusConflict
	case errors.Is(err, tracker.ErrUnknownDirection):
		return http.StatusBadRequest
	case errors.Is(err, transport.ErrNotConnected), errors.Is(err, transport.ErrQueueFull):
		return http.StatusBadGateway
	case errors.Is(err, app.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
