// Package auth implements the HTTP front-end's bearer-token authentication,
// generalized from the teacher's multi-tenant JWT/API-key system
// (internal/auth/types.go, jwt.go, middleware.go) down to the single
// ambient concern this engine actually needs: is the caller holding a
// token this process issued. There is no tenant, user database, or
// gRPC surface here — the orchestrator serves one HTTP API to operators
// on a loopback or private network, not a multi-tenant SaaS fleet.
package auth

import (
	"context"
	"time"
)

// UserContext is the authenticated identity attached to a request once
// its bearer token has been validated.
type UserContext struct {
	Subject   string    `json:"subject"`
	Scopes    []string  `json:"scopes"`
	TokenType string    `json:"token_type"` // always "access": issued tokens do not record their type
	IssuedAt  time.Time `json:"issued_at"`
}

// HasScope reports whether uc was issued scope.
func (uc *UserContext) HasScope(scope string) bool {
	for _, s := range uc.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// TokenPair is the result of issuing credentials for a subject.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"` // seconds
}

// Scopes recognised by the HTTP front-end.
const (
	ScopeTasksRun      = "tasks:run"
	ScopePersonasRead  = "personas:read"
	ScopePersonasAdmin = "personas:admin"
	ScopeStatsRead     = "stats:read"
)

// DefaultScopes are granted to any subject issued a token by this process;
// there is no per-role tiering since there is only one operator.
var DefaultScopes = []string{ScopeTasksRun, ScopePersonasRead, ScopePersonasAdmin, ScopeStatsRead}

// ContextKey is the key type for context values carried by request context.
type ContextKey string

// UserContextKey is the context key the auth middleware stores the
// authenticated UserContext under.
const UserContextKey ContextKey = "auth.user"

// WithUserContext returns a context carrying uc.
func WithUserContext(ctx context.Context, uc *UserContext) context.Context {
	return context.WithValue(ctx, UserContextKey, uc)
}

// devUserContext is the identity assigned to every request when the
// middleware runs with skipAuth enabled.
func devUserContext() *UserContext {
	return &UserContext{
		Subject:   "dev",
		Scopes:    DefaultScopes,
		TokenType: "access",
		IssuedAt:  time.Now(),
	}
}
