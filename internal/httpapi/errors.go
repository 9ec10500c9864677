package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/taskmesh/orchestrator/internal/orchestrator"
	"github.com/taskmesh/orchestrator/internal/validation"
)

// errorResponse is the JSON body returned for any non-2xx response, per
// the error taxonomy's stable machine-readable codes.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// writeValidationError maps a validation failure to HTTP 400, the only
// non-2xx outcome a malformed request body produces.
func writeValidationError(w http.ResponseWriter, err error) {
	var fe *validation.FieldError
	if errors.As(err, &fe) {
		writeError(w, http.StatusBadRequest, "ValidationError", fe.Error())
		return
	}
	writeError(w, http.StatusBadRequest, "ValidationError", err.Error())
}

// writeOrchestratorError maps the one error Execute can return —
// DecompositionError — to HTTP 422; everything else it produces is
// folded into the WorkflowRecord itself and never reaches this path.
func writeOrchestratorError(w http.ResponseWriter, err error) {
	var de *orchestrator.DecompositionError
	if errors.As(err, &de) {
		writeError(w, http.StatusUnprocessableEntity, "DecompositionError", de.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "InternalError", err.Error())
}
