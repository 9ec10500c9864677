package httpapi

import (
	"net/http"

	"github.com/taskmesh/orchestrator/internal/validation"
)

type historyResponse struct {
	Turns []turnView `json:"turns"`
}

type turnView struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// handleConversationHistory returns a session's turn history in order.
func (s *Server) handleConversationHistory(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")
	if session == "" {
		writeError(w, http.StatusBadRequest, "ValidationError", "query parameter \"session\" is required")
		return
	}
	if err := validation.String("session", session, 256); err != nil {
		writeValidationError(w, err)
		return
	}

	turns, err := s.Conversations.AsMessages(r.Context(), session)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "InternalError", err.Error())
		return
	}

	out := make([]turnView, 0, len(turns))
	for _, t := range turns {
		out = append(out, turnView{Role: t.Role, Text: t.Text, Timestamp: t.Timestamp.Format("2006-01-02T15:04:05Z07:00")})
	}
	writeJSON(w, http.StatusOK, historyResponse{Turns: out})
}
