package middleware

import (
	"context"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// ClaimsKey is the context key for JWT claims
	ClaimsKey contextKey = "claims"
)

// Claims represents the caller identity extracted from a bearer token
type Claims struct {
	Sub   string   `json:"sub"` // Subject (operator or agent id)
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
	Iss   string   `json:"iss,omitempty"`
	Exp   int64    `json:"exp,omitempty"`
	Iat   int64    `json:"iat,omitempty"`
}

// HasRole reports whether the caller holds role
func (c *Claims) HasRole(role string) bool {
	if c == nil {
		return false
	}
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetClaimsFromContext retrieves JWT claims from context
func GetClaimsFromContext(ctx context.Context) *Claims {
	if val := ctx.Value(ClaimsKey); val != nil {
		if claims, ok := val.(*Claims); ok {
			return claims
		}
	}
	return nil
}

// WithClaims adds JWT claims to the context
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// GetActorFromContext returns the authenticated subject, or "" when the
// request carries no claims
func GetActorFromContext(ctx context.Context) string {
	if claims := GetClaimsFromContext(ctx); claims != nil {
		return claims.Sub
	}
	return ""
}

// GetRolesFromContext returns the roles of the authenticated caller
func GetRolesFromContext(ctx context.Context) []string {
	if claims := GetClaimsFromContext(ctx); claims != nil {
		return claims.Roles
	}
	return nil
}
