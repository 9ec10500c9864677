package httpapi

import (
	"net/http"
	"time"

	"github.com/taskmesh/orchestrator/internal/health"
)

type healthResponse struct {
	Status    string    `json:"status"`
	Backend   string    `json:"backend"`
	Timestamp time.Time `json:"timestamp"`
}

// handleHealth reports process liveness and inference backend
// reachability, per the route table: {status, backend, timestamp}.
// Unlike every other route, health is never behind auth — a caller
// checking whether the service is up can't be expected to hold a token.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.Health == nil {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Backend: "unknown", Timestamp: time.Now()})
		return
	}

	detailed := s.Health.GetDetailedHealth(ctx)
	backend := "unknown"
	if result, ok := detailed.Components["inference_backend"]; ok {
		backend = backendLabel(result.Status)
	}

	status := http.StatusOK
	if detailed.Overall.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, healthResponse{
		Status:    detailed.Overall.Status.String(),
		Backend:   backend,
		Timestamp: detailed.Timestamp,
	})
}

func backendLabel(status health.CheckStatus) string {
	switch status {
	case health.StatusHealthy:
		return "reachable"
	case health.StatusDegraded:
		return "degraded"
	case health.StatusUnhealthy:
		return "unreachable"
	default:
		return "unknown"
	}
}
