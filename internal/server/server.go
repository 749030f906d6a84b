package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cwbudde/gpumembench/internal/backend"
	"github.com/cwbudde/gpumembench/internal/config"
	"github.com/cwbudde/gpumembench/internal/store"
)

// queueSize bounds the number of runs waiting for the device.
const queueSize = 64

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	store      *store.FSStore
	defaults   config.Run
	openDevice DeviceOpener

	addr   string
	server *http.Server

	queue chan string
	stop  context.CancelFunc
	done  chan struct{}
}

// NewServer creates a new HTTP server and starts its device worker.
// Submitted runs start from defaults. If st is nil, reports are kept in
// memory only.
func NewServer(addr string, st *store.FSStore, defaults config.Run) *Server {
	return newServer(addr, st, defaults, backend.Open)
}

func newServer(addr string, st *store.FSStore, defaults config.Run, open DeviceOpener) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		jobManager: NewJobManager(),
		store:      st,
		defaults:   defaults,
		openDevice: open,
		addr:       addr,
		queue:      make(chan string, queueSize),
		stop:       cancel,
		done:       make(chan struct{}),
	}
	go s.worker(ctx)
	return s
}

// Handler returns the routed handler wrapped with middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.HandleFunc("/api/v1/runs/", s.handleRunsWithID)
	mux.HandleFunc("/api/v1/results", s.handleListResults)

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server. The run in flight is
// cancelled after its current configuration.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}

	// Stopping the worker cancels the run in flight.
	for _, job := range s.jobManager.GetRunningJobs() {
		slog.Warn("Interrupting running run", "run_id", job.ID, "completed", job.Progress.Completed, "total", job.Progress.Total)
	}
	s.stop()
	select {
	case <-s.done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// handleRuns handles /api/v1/runs
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateRun(w, r)
	case http.MethodGet:
		s.handleListRuns(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRunsWithID handles /api/v1/runs/:id/*
func (s *Server) handleRunsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Run ID required", http.StatusBadRequest)
		return
	}

	runID := parts[0]

	switch {
	case len(parts) == 1 || parts[1] == "status":
		if r.Method == http.MethodDelete {
			s.handleCancelRun(w, r, runID)
			return
		}
		s.handleGetRunStatus(w, r, runID)
	case parts[1] == "stream":
		s.handleRunStream(w, r, runID)
	case parts[1] == "report":
		s.handleGetRunReport(w, r, runID)
	case parts[1] == "cancel" && r.Method == http.MethodPost:
		s.handleCancelRun(w, r, runID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleCreateRun handles POST /api/v1/runs. The body is a partial run
// configuration applied over the server defaults.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	cfg, err := decodeRunConfig(r, s.defaults)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := s.jobManager.CreateJob(cfg)

	select {
	case s.queue <- job.ID:
	default:
		markJobFailed(s.jobManager, job.ID, errors.New("run queue is full"))
		http.Error(w, "Run queue is full", http.StatusServiceUnavailable)
		return
	}

	slog.Info("Run queued", "run_id", job.ID, "backend", cfg.Backend)
	writeJSON(w, http.StatusCreated, job)
}

// handleListRuns handles GET /api/v1/runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// handleGetRunStatus handles GET /api/v1/runs/:id
func (s *Server) handleGetRunStatus(w http.ResponseWriter, r *http.Request, runID string) {
	job, exists := s.jobManager.GetJob(runID)
	if !exists {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	var elapsed time.Duration
	if job.EndTime != nil {
		elapsed = job.EndTime.Sub(job.StartTime)
	} else {
		elapsed = time.Since(job.StartTime)
	}

	response := map[string]interface{}{
		"id":            job.ID,
		"state":         job.State,
		"config":        job.Config,
		"progress":      job.Progress,
		"failed":        job.Failed,
		"bestKernel":    job.BestKernel,
		"bestBandwidth": job.BestBandwidth,
		"elapsed":       elapsed.Seconds(),
		"startTime":     job.StartTime,
		"endTime":       job.EndTime,
		"error":         job.Error,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleGetRunReport handles GET /api/v1/runs/:id/report. Runs from
// earlier server instances or from the CLI are served from the store.
func (s *Server) handleGetRunReport(w http.ResponseWriter, r *http.Request, runID string) {
	if report, ok := s.jobManager.Report(runID); ok {
		writeJSON(w, http.StatusOK, report)
		return
	}

	if job, exists := s.jobManager.GetJob(runID); exists && !job.State.Terminal() {
		http.Error(w, "Run not finished", http.StatusConflict)
		return
	}

	if s.store == nil {
		http.Error(w, "Report not found", http.StatusNotFound)
		return
	}

	report, err := s.store.LoadReport(runID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Report not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to load report: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// handleCancelRun handles POST /api/v1/runs/:id/cancel and DELETE /api/v1/runs/:id
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request, runID string) {
	job, exists := s.jobManager.GetJob(runID)
	if !exists {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	if err := s.jobManager.CancelJob(runID); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	// A pending run never reaches the worker's own notification.
	if job.State == StatePending {
		job, _ = s.jobManager.GetJob(runID)
		s.jobManager.broadcaster.Broadcast(eventFromJob(job))
	}

	w.WriteHeader(http.StatusAccepted)
}

// handleListResults handles GET /api/v1/results
func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		writeJSON(w, http.StatusOK, []store.ReportInfo{})
		return
	}

	infos, err := s.store.ListReports()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list reports: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// writeJSON encodes v as the response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
