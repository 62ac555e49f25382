// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here so that key
// usage is discoverable from one place.
//
//	ctx = contextkeys.WithPrincipal(ctx, principal)
//	p := contextkeys.GetPrincipal(ctx)
package contextkeys

import (
	"context"

	"github.com/platinummonkey/tenantgate/pkg/auth"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains *auth.Principal
	// Set by: middleware.PrincipalMiddleware (pkg/middleware/principal.go)
	// Required by: rbac.AuthorizationMiddleware and every admin handler
	PrincipalKey Key = "principal"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, audit events
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: observability.WithLogger
	LoggerKey Key = "logger"

	// DecisionKey contains the rbac.Decision that admitted the request
	// Set by: rbac.AuthorizationMiddleware
	// Used by: handlers that report the matched rule
	DecisionKey Key = "decision"
)

// WithPrincipal adds the authenticated principal to the context
func WithPrincipal(ctx context.Context, p *auth.Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// GetPrincipal retrieves the principal from context, or nil
func GetPrincipal(ctx context.Context) *auth.Principal {
	if p, ok := ctx.Value(PrincipalKey).(*auth.Principal); ok {
		return p
	}
	return nil
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithDecision adds the admitting decision to the context
func WithDecision(ctx context.Context, decision interface{}) context.Context {
	return context.WithValue(ctx, DecisionKey, decision)
}
