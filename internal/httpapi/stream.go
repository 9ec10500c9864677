package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/taskmesh/orchestrator/internal/inference"
	"github.com/taskmesh/orchestrator/internal/memory"
	"github.com/taskmesh/orchestrator/internal/validation"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// chatChunk is the streamed wire shape: a sequence of {delta} objects
// followed by one terminal {done, final} object, per the route table.
type chatChunk struct {
	Delta string `json:"delta,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Final string `json:"final,omitempty"`
}

// upgrader accepts a WebSocket upgrade on the same route as a fallback
// for browser callers that can't consume Server-Sent Events, grounded on
// the teacher's websocket.go. Unlike the teacher's dev-mode CheckOrigin,
// this one defers to the same CORS rule the rest of the front-end uses,
// since a WebSocket handshake bypasses the withCORS middleware entirely.
func (s *Server) wsUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return s.originAllowed(r, origin)
		},
	}
}

// handleStreamChat runs a single-turn streamed chat completion, replaying
// a session's prior turns as context and appending both sides of this
// exchange to the conversation store. A caller sending a WebSocket
// upgrade request gets events over the socket instead of SSE; everyone
// else gets text/event-stream.
func (s *Server) handleStreamChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "ValidationError", "malformed request body: "+err.Error())
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "ValidationError", "field \"message\" is required")
		return
	}
	if err := validation.String("message", req.Message, 0); err != nil {
		writeValidationError(w, err)
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	if err := validation.String("session_id", sessionID, 256); err != nil {
		writeValidationError(w, err)
		return
	}

	messages := s.buildChatMessages(r, sessionID, req.Message)
	model := s.Inference.ResolveModel("conversation", nil)
	deltas, errs := s.Inference.ChatStream(r.Context(), model, messages, inference.Options{})

	if isWebSocketUpgrade(r) {
		s.streamOverWebSocket(w, r, sessionID, req.Message, deltas, errs)
		return
	}
	s.streamOverSSE(w, r, sessionID, req.Message, deltas, errs)
}

func (s *Server) buildChatMessages(r *http.Request, sessionID, message string) []inference.Message {
	var out []inference.Message
	if s.Conversations != nil {
		if turns, err := s.Conversations.AsMessages(r.Context(), sessionID); err == nil {
			for _, t := range turns {
				out = append(out, inference.Message{Role: t.Role, Content: t.Text})
			}
		}
	}
	out = append(out, inference.Message{Role: "user", Content: message})
	return out
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func (s *Server) streamOverSSE(w http.ResponseWriter, r *http.Request, sessionID, userMessage string, deltas <-chan string, errs <-chan error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "InternalError", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var final strings.Builder
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	writeChunk := func(c chatChunk) {
		data, _ := json.Marshal(c)
		w.Write(append(append([]byte("data: "), data...), '\n', '\n'))
		flusher.Flush()
	}

loop:
	for {
		select {
		case delta, ok := <-deltas:
			if !ok {
				break loop
			}
			final.WriteString(delta)
			writeChunk(chatChunk{Delta: delta})
		case err, ok := <-errs:
			if ok && err != nil {
				s.logger().Warn("chat stream error", zap.Error(err))
			}
		case <-ticker.C:
			w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}

	writeChunk(chatChunk{Done: true, Final: final.String()})
	s.recordChatTurn(r, sessionID, userMessage, final.String())
}

func (s *Server) streamOverWebSocket(w http.ResponseWriter, r *http.Request, sessionID, userMessage string, deltas <-chan string, errs <-chan error) {
	upgrader := s.wsUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger().Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	var final strings.Builder
loop:
	for {
		select {
		case delta, ok := <-deltas:
			if !ok {
				break loop
			}
			final.WriteString(delta)
			if err := conn.WriteJSON(chatChunk{Delta: delta}); err != nil {
				return
			}
		case err, ok := <-errs:
			if ok && err != nil {
				s.logger().Warn("chat stream error", zap.Error(err))
			}
		case <-r.Context().Done():
			return
		}
	}

	_ = conn.WriteJSON(chatChunk{Done: true, Final: final.String()})
	s.recordChatTurn(r, sessionID, userMessage, final.String())
}

func (s *Server) recordChatTurn(r *http.Request, sessionID, userMessage, assistantMessage string) {
	if s.Conversations == nil {
		return
	}
	now := time.Now()
	if err := s.Conversations.Append(r.Context(), sessionID, memory.Turn{Role: "user", Text: userMessage, Timestamp: now}); err != nil {
		s.logger().Warn("failed to record user turn", zap.Error(err))
	}
	if err := s.Conversations.Append(r.Context(), sessionID, memory.Turn{Role: "assistant", Text: assistantMessage, Timestamp: now}); err != nil {
		s.logger().Warn("failed to record assistant turn", zap.Error(err))
	}
}
