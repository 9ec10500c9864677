// Package httpapi implements the HTTP Front-end: the JSON surface
// enumerated in the external-interfaces route table, bound to a stdlib
// http.ServeMux the way the teacher's cmd/gateway/main.go wires its own
// mux rather than reaching for a third-party router.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/taskmesh/orchestrator/internal/auth"
	"github.com/taskmesh/orchestrator/internal/bus"
	"github.com/taskmesh/orchestrator/internal/health"
	"github.com/taskmesh/orchestrator/internal/inference"
	"github.com/taskmesh/orchestrator/internal/memory"
	"github.com/taskmesh/orchestrator/internal/orchestrator"
	"github.com/taskmesh/orchestrator/internal/personas"
	"github.com/taskmesh/orchestrator/internal/policy"
)

// PersonaDirectory is the subset of the Persona Store the front-end
// exposes read/delete access to, independent of the narrower
// PersonaStore interface the orchestrator depends on.
type PersonaDirectory interface {
	List(filter personas.Filter) []*personas.Persona
	Get(id string) (*personas.Persona, bool)
	Delete(id string) error
}

// Conversations is the subset of the conversation store the front-end
// needs for the history endpoint and for recording streamed chat turns.
type Conversations interface {
	AsMessages(ctx context.Context, id string) ([]memory.Turn, error)
	Append(ctx context.Context, id string, turn memory.Turn) error
}

// Workflows is the subset of the long-term memory store the stats
// endpoint reads from.
type Workflows interface {
	Search(ctx context.Context, query string, limit int) ([]memory.WorkflowRecord, error)
}

// Recommender exposes the optimizer's persona recommendation. The Server
// holds it as Optimizer; no route handler reads it.
type Recommender interface {
	Recommend(domain, roleHint string) (string, bool)
}

// Server bundles every collaborator the route handlers need. It holds no
// per-request state; one Server serves the process's lifetime.
type Server struct {
	Orchestrator  *orchestrator.Orchestrator
	Personas      PersonaDirectory
	Conversations Conversations
	Workflows     Workflows
	Optimizer     Recommender
	Bus           *bus.Bus
	Health        *health.Manager
	Policy        policy.Engine
	Auth          *auth.Middleware
	Inference     *inference.Client
	Logger        *zap.Logger

	// MaxBodyBytes bounds a request body's size before it is even
	// unmarshalled; zero uses DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// DefaultMaxBodyBytes bounds a JSON request body, generously above the
// 16 KiB per-string-field cap to allow for a handful of fields plus JSON
// overhead without admitting unbounded bodies.
const DefaultMaxBodyBytes = 256 * 1024

func (s *Server) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Server) maxBodyBytes() int64 {
	if s.MaxBodyBytes <= 0 {
		return DefaultMaxBodyBytes
	}
	return s.MaxBodyBytes
}

// Mux builds the complete, middleware-wrapped handler tree: CORS and
// body-size limiting apply to every route, auth wraps every route except
// health, and each handler is registered with its method baked into the
// pattern per Go 1.22's routing syntax.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	// Liveness/readiness probes for an orchestrator, outside the /api
	// prefix and unauthenticated, for process supervisors rather than
	// API clients.
	health.NewHTTPHandler(s.Health, s.logger()).RegisterRoutes(mux)

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("POST /api/task", s.protect(auth.ScopeTasksRun, http.HandlerFunc(s.handleTask)))
	mux.Handle("POST /api/stream/chat", s.protect(auth.ScopeTasksRun, http.HandlerFunc(s.handleStreamChat)))
	mux.Handle("GET /api/conversation/history", s.protect(auth.ScopeTasksRun, http.HandlerFunc(s.handleConversationHistory)))
	mux.Handle("GET /api/stats", s.protect(auth.ScopeStatsRead, http.HandlerFunc(s.handleStats)))
	mux.Handle("GET /api/personas", s.protect(auth.ScopePersonasRead, http.HandlerFunc(s.handlePersonasList)))
	mux.Handle("GET /api/personas/{id}", s.protect(auth.ScopePersonasRead, http.HandlerFunc(s.handlePersonaGet)))
	mux.Handle("DELETE /api/personas/{id}", s.protect(auth.ScopePersonasAdmin, http.HandlerFunc(s.handlePersonaDelete)))

	var handler http.Handler = mux
	handler = s.withCORS(handler)
	handler = s.withBodyLimit(handler)
	handler = s.withRequestLog(handler)
	return handler
}

// protect wraps a handler with authentication and a scope requirement,
// applied uniformly so no route accidentally ships without one.
func (s *Server) protect(scope string, next http.Handler) http.Handler {
	if s.Auth == nil {
		return next
	}
	return s.Auth.HTTPMiddleware(s.Auth.RequireScope(scope, next))
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.logger().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) withBodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes())
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
