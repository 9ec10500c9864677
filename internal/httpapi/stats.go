package httpapi

import (
	"net/http"

	"github.com/taskmesh/orchestrator/internal/personas"
)

const statsWorkflowSampleSize = 500

type statsResponse struct {
	PersonaCount          int           `json:"persona_count"`
	CompletedWorkflows    int           `json:"completed_workflows"`
	FailedWorkflows       int           `json:"failed_workflows"`
	CancelledWorkflows    int           `json:"cancelled_workflows"`
	PersonaScores         []personaView `json:"persona_scores"`
}

// handleStats reports the aggregate counters the route table promises:
// persona counts, completed-workflow counts, and per-persona scores.
// Workflow counts are sampled from the most recent records rather than a
// full-archive scan, since the long-term store has no count-only query.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	allPersonas := s.Personas.List(personas.Filter{})
	scores := make([]personaView, 0, len(allPersonas))
	for _, p := range allPersonas {
		scores = append(scores, toPersonaView(p))
	}

	resp := statsResponse{
		PersonaCount:  len(allPersonas),
		PersonaScores: scores,
	}

	if s.Workflows != nil {
		records, err := s.Workflows.Search(r.Context(), "", statsWorkflowSampleSize)
		if err == nil {
			for _, rec := range records {
				switch rec.Status {
				case "completed", "ok", "partial":
					resp.CompletedWorkflows++
				case "failed":
					resp.FailedWorkflows++
				case "cancelled":
					resp.CancelledWorkflows++
				}
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
