package httpapi

import (
	"net"
	"net/http"
	"net/url"

	"github.com/taskmesh/orchestrator/internal/policy"
)

// withCORS enforces the front-end's cross-origin policy: accepted only
// from the loopback address and the private IPv4 ranges, delegated to
// the policy engine so the actual allow/deny rule lives in one place
// (configs/policy/*.rego) shared with the domain-tag check.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Same-origin or non-browser caller: no preflight to honor.
			next.ServeHTTP(w, r)
			return
		}

		allow := s.originAllowed(r, origin)
		if r.Method == http.MethodOptions {
			if allow {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Last-Event-ID")
				w.Header().Set("Vary", "Origin")
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !allow {
			writeError(w, http.StatusForbidden, "ValidationError", "origin not permitted")
			return
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(r *http.Request, origin string) bool {
	if s.Policy == nil || !s.Policy.IsEnabled() {
		return isLoopbackOrPrivate(origin)
	}

	remoteIP, _, _ := net.SplitHostPort(r.RemoteAddr)
	if remoteIP == "" {
		remoteIP = r.RemoteAddr
	}
	decision, err := s.Policy.Evaluate(r.Context(), &policy.PolicyInput{Check: "cors", Origin: origin, RemoteIP: remoteIP})
	if err != nil {
		s.logger().Warn("CORS policy evaluation failed, falling back to the static rule")
		return isLoopbackOrPrivate(origin)
	}
	return decision.Allow
}

// isLoopbackOrPrivate is the static fallback CORS rule, applied when no
// policy engine is configured: loopback plus the three private IPv4
// blocks named in the front-end's CORS policy.
func isLoopbackOrPrivate(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	ip := net.ParseIP(host)
	if ip == nil {
		return host == "localhost"
	}
	if ip.IsLoopback() {
		return true
	}
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	switch {
	case v4[0] == 10:
		return true
	case v4[0] == 172 && v4[1] >= 16 && v4[1] <= 31:
		return true
	case v4[0] == 192 && v4[1] == 168:
		return true
	}
	return false
}
