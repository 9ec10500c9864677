package health

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPHandler exposes a Manager as bare, unauthenticated probe routes for
// a process supervisor, distinct from the JSON-namespaced /api/health an
// API client calls (internal/httpapi.handleHealth).
type HTTPHandler struct {
	manager *Manager
	logger  *zap.Logger
}

// NewHTTPHandler creates an HTTPHandler.
func NewHTTPHandler(manager *Manager, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{manager: manager, logger: logger}
}

// RegisterRoutes registers /health, /health/ready, /health/live, and
// /health/detailed on mux.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/health/ready", h.handleReadiness)
	mux.HandleFunc("/health/live", h.handleLiveness)
	mux.HandleFunc("/health/detailed", h.handleDetailedHealth)
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	overall := h.manager.GetOverallHealth(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCodeFor(overall.Status))

	response := map[string]interface{}{
		"status":    overall.Status.String(),
		"message":   overall.Message,
		"timestamp": overall.Timestamp.Unix(),
		"duration":  overall.Duration.String(),
		"degraded":  overall.Degraded,
		"ready":     overall.Ready,
		"live":      overall.Live,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode health response", zap.Error(err))
	}
}

func (h *HTTPHandler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ready := h.manager.IsReady(r.Context())
	statusCode, message := http.StatusServiceUnavailable, "not ready"
	if ready {
		statusCode, message = http.StatusOK, "ready"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status": message, "ready": ready, "timestamp": time.Now().Unix(),
	}); err != nil {
		h.logger.Error("failed to encode readiness response", zap.Error(err))
	}
}

func (h *HTTPHandler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	alive := h.manager.IsLive(r.Context())
	statusCode, message := http.StatusServiceUnavailable, "not alive"
	if alive {
		statusCode, message = http.StatusOK, "alive"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status": message, "live": alive, "timestamp": time.Now().Unix(),
	}); err != nil {
		h.logger.Error("failed to encode liveness response", zap.Error(err))
	}
}

func (h *HTTPHandler) handleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var detailed DetailedHealth
	if r.URL.Query().Get("cached") == "true" {
		components := h.manager.GetLastResults()
		summary := HealthSummary{Total: len(components)}
		for _, result := range components {
			switch result.Status {
			case StatusHealthy:
				summary.Healthy++
			case StatusDegraded:
				summary.Degraded++
			case StatusUnhealthy:
				summary.Unhealthy++
			}
			if result.Critical {
				summary.Critical++
			} else {
				summary.NonCritical++
			}
		}
		detailed = DetailedHealth{
			Overall:    calculateOverallStatus(components, summary),
			Components: components,
			Summary:    summary,
			Timestamp:  time.Now(),
		}
	} else {
		detailed = h.manager.GetDetailedHealth(r.Context())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCodeFor(detailed.Overall.Status))
	if err := json.NewEncoder(w).Encode(detailed); err != nil {
		h.logger.Error("failed to encode detailed health response", zap.Error(err))
	}
}

func statusCodeFor(status CheckStatus) int {
	if status == StatusUnhealthy || status == StatusUnknown {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"error": message, "timestamp": time.Now().Unix(),
	}); err != nil {
		h.logger.Error("failed to encode error response", zap.Error(err))
	}
}
