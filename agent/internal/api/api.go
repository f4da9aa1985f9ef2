// Package api provides the local observer HTTP API.
//
// # Endpoints
//
// Diagnostics:
//   - GET    /api/v1/profiles - List vendor profiles
//   - POST   /api/v1/runs?profile={id} - Start a diagnostic run
//   - GET    /api/v1/runs/current - Current run snapshot
//   - GET    /api/v1/stream - WebSocket of live run updates
//
// Reports:
//   - POST   /api/v1/reports - Save the current log as a report
//   - GET    /api/v1/reports - List saved reports
//   - GET    /api/v1/reports/{id} - Get one report
//   - DELETE /api/v1/reports - Clear saved reports
//
// Trace:
//   - POST   /api/v1/trace?host={host} - Start a trace session
//   - GET    /api/v1/trace - Current hop table
//   - DELETE /api/v1/trace - Stop the trace session
//
// Probes:
//   - GET    /api/v1/probes - Registered probe types and their requirements
//   - POST   /api/v1/probes/{type} - Run one probe by type name
//
// System:
//   - GET /api/v1/system - Latest system reading
//   - GET /api/v1/health - Health check
//   - GET /metrics - Prometheus metrics
//
// Every endpoint only reads snapshots. Runs and trace sessions are started
// on the server's base context, not the request's.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/pilot-net/netcheck/agent/internal/diag"
	"github.com/pilot-net/netcheck/agent/internal/hopstats"
	"github.com/pilot-net/netcheck/agent/internal/metrics"
	"github.com/pilot-net/netcheck/agent/internal/profiles"
	"github.com/pilot-net/netcheck/agent/internal/report"
	"github.com/pilot-net/netcheck/agent/internal/sysinfo"
	"github.com/pilot-net/netcheck/pkg/types"
)

// Runner starts diagnostic runs and exposes their state.
type Runner interface {
	Start(ctx context.Context, p types.VendorProfile) error
	Snapshot() diag.Snapshot
	Subscribe() (<-chan diag.Update, func())
}

// Tracer owns the live trace session.
type Tracer interface {
	Start(ctx context.Context, host string) error
	Stop()
	Snapshot() hopstats.Snapshot
}

// Reports persists saved reports.
type Reports interface {
	Save(ctx context.Context, profileName string, logs []types.TestResultLog) (*types.SavedReport, error)
	List(ctx context.Context) ([]types.SavedReport, error)
	Get(ctx context.Context, id string) (*types.SavedReport, error)
	Clear(ctx context.Context) error
}

// Catalog lists vendor profiles.
type Catalog interface {
	Get(id string) (types.VendorProfile, error)
	List() []types.VendorProfile
	Default() types.VendorProfile
}

// SystemSource provides the latest system reading.
type SystemSource interface {
	Latest() (sysinfo.Reading, bool)
}

// Deps are the components the server reads from.
type Deps struct {
	Runner   Runner
	Tracer   Tracer
	Reports  Reports
	Catalog  Catalog
	Probes   Probes                  // optional
	System   SystemSource            // optional
	Metrics  http.Handler            // optional
	Health   *metrics.HealthCollector // optional
	Version  string
	AuthHash string // bcrypt hash of the bearer token; empty disables auth
}

// Server is the observer HTTP API.
type Server struct {
	deps    Deps
	baseCtx context.Context
	logger  *slog.Logger
	mux     *http.ServeMux
	started time.Time
}

// NewServer creates a server. baseCtx bounds runs and trace sessions started
// through the API.
func NewServer(baseCtx context.Context, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		deps:    deps,
		baseCtx: baseCtx,
		logger:  logger.With("component", "api"),
		mux:     http.NewServeMux(),
		started: time.Now(),
	}
	s.registerRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.logger.Debug("request",
		"method", r.Method,
		"path", r.URL.Path,
		"duration", time.Since(start))
}

func (s *Server) registerRoutes() {
	auth := TokenAuthMiddleware(TokenAuthConfig{Hash: s.deps.AuthHash, Logger: s.logger})
	handle := func(pattern string, h http.HandlerFunc) {
		s.mux.Handle(pattern, auth(h))
	}

	// Health stays open for probes and load balancers.
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	handle("GET /api/v1/profiles", s.handleListProfiles)
	handle("POST /api/v1/runs", s.handleStartRun)
	handle("GET /api/v1/runs/current", s.handleCurrentRun)
	handle("GET /api/v1/stream", s.handleStream)

	handle("POST /api/v1/reports", s.handleSaveReport)
	handle("GET /api/v1/reports", s.handleListReports)
	handle("GET /api/v1/reports/{id}", s.handleGetReport)
	handle("DELETE /api/v1/reports", s.handleClearReports)

	handle("POST /api/v1/trace", s.handleStartTrace)
	handle("GET /api/v1/trace", s.handleGetTrace)
	handle("DELETE /api/v1/trace", s.handleStopTrace)

	if s.deps.Probes != nil {
		handle("GET /api/v1/probes", s.handleListProbes)
		handle("POST /api/v1/probes/{type}", s.handleRunProbe)
	}

	handle("GET /api/v1/system", s.handleSystem)
	if s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", auth(s.deps.Metrics))
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.deps.Version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	}
	if s.deps.Health != nil {
		h := s.deps.Health.Health()
		resp["status"] = h.Status
		resp["process"] = h
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Catalog.List())
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	p := s.deps.Catalog.Default()
	if id := r.URL.Query().Get("profile"); id != "" {
		var err error
		if p, err = s.deps.Catalog.Get(id); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
	}

	if err := s.deps.Runner.Start(s.baseCtx, p); err != nil {
		if errors.Is(err, diag.ErrRunInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("failed to start run", "profile", p.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	s.logger.Info("run started via api", "profile", p.ID)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "started",
		"profile": p.ID,
	})
}

func (s *Server) handleCurrentRun(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Runner.Snapshot())
}

func (s *Server) handleSaveReport(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Runner.Snapshot()
	if snap.Running {
		writeError(w, http.StatusConflict, diag.ErrRunInProgress.Error())
		return
	}

	saved, err := s.deps.Reports.Save(r.Context(), snap.ProfileName, snap.Logs)
	if errors.Is(err, report.ErrEmptyLog) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("failed to save report", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save report")
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.deps.Reports.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list reports", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	saved, err := s.deps.Reports.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, report.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("failed to get report", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get report")
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleClearReports(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Reports.Clear(r.Context()); err != nil {
		s.logger.Error("failed to clear reports", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to clear reports")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartTrace(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("host")
	if host == "" {
		writeError(w, http.StatusBadRequest, "host is required")
		return
	}

	if err := s.deps.Tracer.Start(s.baseCtx, host); err != nil {
		if errors.Is(err, hopstats.ErrSessionActive) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("failed to start trace", "host", host, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start trace")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "started",
		"host":   host,
	})
}

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Tracer.Snapshot())
}

func (s *Server) handleStopTrace(w http.ResponseWriter, r *http.Request) {
	s.deps.Tracer.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	if s.deps.System == nil {
		writeError(w, http.StatusServiceUnavailable, "system polling disabled")
		return
	}
	reading, ok := s.deps.System.Latest()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no system reading yet")
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

var _ Catalog = (*profiles.Registry)(nil)
