package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"candidate-harvester/internal/browser"
	"candidate-harvester/internal/models"
	"candidate-harvester/internal/orchestrator"
	"candidate-harvester/internal/store"
)

// harvester is the part of the orchestrator the worker drives.
type harvester interface {
	Run(ctx context.Context) (orchestrator.Report, error)
	Status() models.RunStatus
	SubmitVerificationCode(ctx context.Context, code string) (browser.VerificationResult, error)
}

// controlServer exposes the operator surface of a running worker.
type controlServer struct {
	runner harvester
	store  store.StatusStore
}

func newControlServer(runner harvester, statusStore store.StatusStore) *controlServer {
	return &controlServer{
		runner: runner,
		store:  statusStore,
	}
}

func (s *controlServer) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/verification", s.handleVerification)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/runs/", s.handleRunStatus)
	mux.HandleFunc("/metrics", handleMetrics)
	return mux
}

// handleVerification forwards a one-time code to the session paused on a challenge.
//
// Method: POST
// Path:   /verification?code=...
// Example:
//
//	curl -X POST "http://localhost:9090/verification?code=123456"
func (s *controlServer) handleVerification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	code := strings.TrimSpace(r.FormValue("code"))
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}

	result, err := s.runner.SubmitVerificationCode(r.Context(), code)
	switch {
	case errors.Is(err, orchestrator.ErrNotPaused), errors.Is(err, browser.ErrNotCodeChallenge):
		writeJSON(w, browser.VerificationResult{Error: err.Error()}, http.StatusConflict)
	case err != nil:
		log.Error().Err(err).Msg("verification submit error")
		writeJSON(w, browser.VerificationResult{Error: err.Error()}, http.StatusBadGateway)
	case !result.Success:
		writeJSON(w, result, http.StatusUnprocessableEntity)
	default:
		log.Info().Msg("verification accepted")
		writeJSON(w, result, http.StatusOK)
	}
}

// handleStatus returns the live status of the current run.
//
// Method: GET
// Path:   /status
func (s *controlServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.runner.Status(), http.StatusOK)
}

// handleRunStatus returns the last published status of a run, including runs of earlier processes.
//
// Method: GET
// Path:   /runs/{run_id}
func (s *controlServer) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	runID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/runs/"), "/")
	if runID == "" {
		http.Error(w, "missing run id", http.StatusBadRequest)
		return
	}
	if s.store == nil {
		http.Error(w, "status store not configured", http.StatusNotFound)
		return
	}

	status, ok, err := s.store.GetStatus(r.Context(), runID)
	if err != nil {
		http.Error(w, "failed to load status", http.StatusBadGateway)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	writeJSON(w, status, http.StatusOK)
}

func writeJSON(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
