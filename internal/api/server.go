package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/alertr/alertrd/internal/alerter"
	"github.com/alertr/alertrd/internal/logging"
	"github.com/alertr/alertrd/internal/types"
	"github.com/alertr/alertrd/internal/version"
)

const (
	defaultLogLimit = 200
	maxLogLimit     = 1000
)

// EngineStatus reports the state of the sensor alert engine.
type EngineStatus interface {
	Snapshot() alerter.Snapshot
}

// Server provides the HTTP status API
type Server struct {
	engine    EngineStatus
	levels    []types.AlertLevel
	logger    zerolog.Logger
	addr      string
	logBuffer *logging.LogBuffer
	startTime time.Time
	http      *http.Server
}

// NewServer creates a new API server
func NewServer(engine EngineStatus, levels []types.AlertLevel, logger zerolog.Logger, addr string) *Server {
	return &Server{
		engine:    engine,
		levels:    levels,
		logger:    logger.With().Str("component", "api").Logger(),
		addr:      addr,
		startTime: time.Now(),
	}
}

// SetLogBuffer sets the buffer served by /api/logs
func (s *Server) SetLogBuffer(lb *logging.LogBuffer) {
	s.logBuffer = lb
}

// Router returns the HTTP handler with all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/alert-levels", s.handleAlertLevels)
	r.Get("/api/logs", s.handleLogsAPI)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Start serves the API until Shutdown is called.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info().Str("address", s.addr).Msg("Starting API server")

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealth returns service health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if !s.engine.Snapshot().Running {
		status, code = "engine stopped", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus returns the engine snapshot
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"engine":  s.engine.Snapshot(),
		"time":    time.Now().UTC().Format(time.RFC3339),
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
		"version": version.Get(),
	})
}

func (s *Server) handleAlertLevels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"alert_levels": s.levels,
		"count":        len(s.levels),
	})
}

// handleLogsAPI returns recent log entries as JSON
func (s *Server) handleLogsAPI(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxLogLimit)
	}

	entries := []logging.LogEntry{}
	if s.logBuffer != nil {
		entries = s.logBuffer.Recent(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
