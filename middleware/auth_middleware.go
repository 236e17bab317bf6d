package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/hitl-control-plane/models"
	"github.com/upb/hitl-control-plane/utils"
	"go.uber.org/zap"
)

// TokenValidator defines the interface for validating JWT tokens
type TokenValidator interface {
	// ValidateToken validates a JWT token and returns claims
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// DenialRecorder receives an access.denied audit entry for every request
// RequireRole turns away.
type DenialRecorder interface {
	Log(ctx context.Context, params models.CreateAuditEventParams) (*models.AuditEvent, error)
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	validator TokenValidator
	denials   DenialRecorder
	logger    *zap.Logger
}

// AuthOption configures an AuthMiddleware
type AuthOption func(*AuthMiddleware)

// WithDenialAudit records role denials in the audit trail
func WithDenialAudit(rec DenialRecorder) AuthOption {
	return func(m *AuthMiddleware) {
		m.denials = rec
	}
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(validator TokenValidator, logger *zap.Logger, opts ...AuthOption) *AuthMiddleware {
	m := &AuthMiddleware{
		validator: validator,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// authTokenCookieName is the cookie the operator console stores its token in.
// The Authorization header takes precedence.
const authTokenCookieName = "auth_token"

// RequireAuth is a middleware that requires a valid JWT token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token := extractToken(r)
		if token == "" {
			m.logger.Warn("missing token",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		claims, err := m.validator.ValidateToken(ctx, token)
		if err != nil {
			m.logger.Warn("token validation failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		ctx = WithClaims(ctx, claims)

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("sub", claims.Sub),
			zap.Strings("roles", claims.Roles))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole is a middleware that requires any one of roles.
// It must run after RequireAuth.
func (m *AuthMiddleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			claims := GetClaimsFromContext(ctx)
			if claims == nil {
				m.logger.Error("claims not found in context",
					zap.String("request_id", requestID))
				_ = utils.WriteUnauthorized(w, "Authentication required")
				return
			}

			for _, role := range roles {
				if claims.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}

			m.logger.Warn("insufficient permissions",
				zap.String("request_id", requestID),
				zap.Strings("required_roles", roles),
				zap.Strings("user_roles", claims.Roles))
			m.recordDenial(r, claims.Sub)
			_ = utils.WriteForbidden(w, "Insufficient permissions")
		})
	}
}

func (m *AuthMiddleware) recordDenial(r *http.Request, actor string) {
	if m.denials == nil {
		return
	}
	params := models.NewAuditEvent(models.AuditEventAccessDenied, actor).
		WithDetail(fmt.Sprintf("%s %s denied: operator role required", r.Method, r.URL.Path))
	if _, err := m.denials.Log(r.Context(), *params); err != nil {
		m.logger.Error("failed to record access denial", zap.Error(err))
	}
}

// RequestID copies chi's request id into this package's context key so
// handlers and logs share one id
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := chimw.GetReqID(r.Context()); id != "" {
			w.Header().Set("X-Request-ID", id)
			r = r.WithContext(WithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// extractToken extracts JWT from the Authorization header ("Bearer TOKEN") or
// the auth_token cookie
func extractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(authTokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
