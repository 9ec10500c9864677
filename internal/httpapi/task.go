package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/taskmesh/orchestrator/internal/validation"
)

// taskRequest is the POST /api/task body. use_orchestrator is accepted
// for forward compatibility with a direct single-agent bypass mode but
// is currently a no-op: every task runs the full pipeline.
type taskRequest struct {
	Task            string            `json:"task"`
	Context         map[string]string `json:"context"`
	UseOrchestrator *bool             `json:"use_orchestrator"`
	TaskID          string            `json:"task_id"`
}

// handleTask runs a task end-to-end and returns its WorkflowRecord.
// Per the error-handling design's propagation policy, only a malformed
// request or a DecompositionError ever produce a non-2xx response;
// every other failure mode is folded into the record's Status field.
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "ValidationError", "malformed request body: "+err.Error())
		return
	}

	if err := validation.String("task", req.Task, 0); err != nil {
		writeValidationError(w, err)
		return
	}
	if req.Task == "" {
		writeError(w, http.StatusBadRequest, "ValidationError", "field \"task\" is required")
		return
	}
	for k, v := range req.Context {
		if err := validation.String("context."+k, v, 0); err != nil {
			writeValidationError(w, err)
			return
		}
	}

	taskID := req.TaskID
	if taskID == "" {
		taskID = uuid.New().String()
	}

	record, err := s.Orchestrator.Execute(r.Context(), taskID, req.Task, req.Context)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}
