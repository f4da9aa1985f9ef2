package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pilot-net/netcheck/agent/internal/executor"
)

// Probes drives registered probes by type name.
type Probes interface {
	Probes() map[string]executor.Capabilities
	Execute(ctx context.Context, typ string, target executor.ProbeTarget) (*executor.Result, error)
}

var _ Probes = (*executor.Local)(nil)

func (s *Server) handleListProbes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Probes.Probes())
}

func (s *Server) handleRunProbe(w http.ResponseWriter, r *http.Request) {
	typ := r.PathValue("type")

	var target executor.ProbeTarget
	if err := json.NewDecoder(r.Body).Decode(&target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if target.Host == "" && typ != "nat" && typ != "scan" && typ != "sysinfo" {
		writeError(w, http.StatusBadRequest, "host is required")
		return
	}

	result, err := s.deps.Probes.Execute(r.Context(), typ, target)
	switch {
	case errors.Is(err, executor.ErrUnavailable):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, executor.ErrInvalidParams):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Warn("probe failed", "type", typ, "host", target.Host, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}
