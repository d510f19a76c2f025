// Package server exposes the engine's control plane over HTTP: status,
// start/stop, live config updates and Prometheus metrics.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alejandrodnm/mirrormaker/internal/engine"
	"github.com/alejandrodnm/mirrormaker/internal/metrics"
)

// Server is the control-plane HTTP server.
type Server struct {
	engine *engine.Engine
	router chi.Router
}

// New builds the router around an engine.
func New(eng *engine.Engine) *Server {
	s := &Server{engine: eng}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Post("/start", s.handleStart)
	r.Post("/stop", s.handleStop)
	r.Post("/reconcile", s.handleReconcile)
	r.Patch("/config", s.handleConfigPatch)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	s.router = r
	return s
}

// Handler returns the HTTP handler for mounting or serving.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	s.engine.Start()
	writeJSON(w, http.StatusOK, map[string]bool{"running": true})
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.engine.Stop()
	writeJSON(w, http.StatusOK, map[string]bool{"running": false})
}

func (s *Server) handleReconcile(w http.ResponseWriter, _ *http.Request) {
	s.engine.RequestReconcile()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

// configPatch is a partial update of the runtime-tunable settings. Absent
// fields keep their current values.
type configPatch struct {
	OddsChangeThreshold       *int     `json:"odds_change_threshold"`
	BaseStake                 *float64 `json:"base_stake"`
	PositionMultiplier        *float64 `json:"position_multiplier"`
	MinBetSize                *float64 `json:"min_bet_size"`
	MaxBetSize                *float64 `json:"max_bet_size"`
	MaxExposurePerEvent       *float64 `json:"max_exposure_per_event"`
	MaxExposureTotal          *float64 `json:"max_exposure_total"`
	MaxPlusPosition           *float64 `json:"max_plus_position"`
	FillWaitPeriodSeconds     *int     `json:"fill_wait_period_seconds"`
	PollIntervalSeconds       *int     `json:"poll_interval_seconds"`
	ReconcileIntervalSeconds  *int     `json:"reconcile_interval_seconds"`
	MinTimeBeforeStartMinutes *int     `json:"min_time_before_start_minutes"`
	MaxEventsTracked          *int     `json:"max_events_tracked"`
}

func (s *Server) handleConfigPatch(w http.ResponseWriter, r *http.Request) {
	var patch configPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	next := s.engine.Config()
	if patch.OddsChangeThreshold != nil {
		next.OddsChangeThreshold = *patch.OddsChangeThreshold
	}
	if patch.BaseStake != nil {
		next.BaseStake = *patch.BaseStake
	}
	if patch.PositionMultiplier != nil {
		next.PositionMultiplier = *patch.PositionMultiplier
	}
	if patch.MinBetSize != nil {
		next.MinBetSize = *patch.MinBetSize
	}
	if patch.MaxBetSize != nil {
		next.MaxBetSize = *patch.MaxBetSize
	}
	if patch.MaxExposurePerEvent != nil {
		next.MaxExposurePerEvent = *patch.MaxExposurePerEvent
	}
	if patch.MaxExposureTotal != nil {
		next.MaxExposureTotal = *patch.MaxExposureTotal
	}
	if patch.MaxPlusPosition != nil {
		next.MaxPlusPosition = *patch.MaxPlusPosition
	}
	if patch.FillWaitPeriodSeconds != nil {
		next.FillWaitPeriod = time.Duration(*patch.FillWaitPeriodSeconds) * time.Second
	}
	if patch.PollIntervalSeconds != nil {
		next.PollInterval = time.Duration(*patch.PollIntervalSeconds) * time.Second
	}
	if patch.ReconcileIntervalSeconds != nil {
		next.ReconcileInterval = time.Duration(*patch.ReconcileIntervalSeconds) * time.Second
	}
	if patch.MinTimeBeforeStartMinutes != nil {
		next.MinTimeBeforeStart = time.Duration(*patch.MinTimeBeforeStartMinutes) * time.Minute
	}
	if patch.MaxEventsTracked != nil {
		next.MaxEventsTracked = *patch.MaxEventsTracked
	}

	if err := validateSnapshot(next); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.engine.UpdateConfig(next)
	writeJSON(w, http.StatusOK, next)
}

// validateSnapshot rejects inconsistent threshold combinations before they
// reach the engine.
func validateSnapshot(s engine.Snapshot) error {
	if s.MinBetSize <= 0 {
		return fmt.Errorf("min_bet_size must be positive, got %.2f", s.MinBetSize)
	}
	if s.MinBetSize > s.MaxBetSize {
		return fmt.Errorf("min_bet_size %.2f exceeds max_bet_size %.2f", s.MinBetSize, s.MaxBetSize)
	}
	if s.BaseStake <= 0 {
		return fmt.Errorf("base_stake must be positive, got %.2f", s.BaseStake)
	}
	if s.PositionMultiplier < 1 {
		return fmt.Errorf("position_multiplier must be at least 1, got %.2f", s.PositionMultiplier)
	}
	if s.OddsChangeThreshold < 1 {
		return fmt.Errorf("odds_change_threshold must be at least 1, got %d", s.OddsChangeThreshold)
	}
	if s.MaxExposurePerEvent > s.MaxExposureTotal {
		return fmt.Errorf("max_exposure_per_event %.2f exceeds max_exposure_total %.2f",
			s.MaxExposurePerEvent, s.MaxExposureTotal)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
