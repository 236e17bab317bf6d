package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/hitl-control-plane/models"
	"go.uber.org/zap"
)

// MockTokenValidator is a mock implementation of TokenValidator
type MockTokenValidator struct {
	mock.Mock
}

func (m *MockTokenValidator) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Claims), args.Error(1)
}

// MockDenialRecorder is a mock implementation of DenialRecorder
type MockDenialRecorder struct {
	mock.Mock
}

func (m *MockDenialRecorder) Log(ctx context.Context, params models.CreateAuditEventParams) (*models.AuditEvent, error) {
	args := m.Called(ctx, params)
	return &models.AuditEvent{EventType: params.EventType, Actor: params.Actor}, args.Error(0)
}

func TestRequireAuth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("valid JWT in Authorization header allows request", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)

		claims := &Claims{Sub: "op-1", Roles: []string{"ops"}}
		mockValidator.On("ValidateToken", mock.Anything, "valid-token").Return(claims, nil)

		handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "op-1", GetActorFromContext(r.Context()))
			assert.Equal(t, []string{"ops"}, GetRolesFromContext(r.Context()))
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockValidator.AssertExpectations(t)
	})

	t.Run("valid JWT in cookie allows request", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)

		mockValidator.On("ValidateToken", mock.Anything, "cookie-token-value").Return(&Claims{Sub: "op-2"}, nil)

		handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "op-2", GetActorFromContext(r.Context()))
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.AddCookie(&http.Cookie{Name: "auth_token", Value: "cookie-token-value"})
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockValidator.AssertExpectations(t)
	})

	t.Run("missing token returns 401", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)

		handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockValidator.AssertNotCalled(t, "ValidateToken")
	})

	t.Run("invalid token returns 401", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)

		mockValidator.On("ValidateToken", mock.Anything, "invalid-token").
			Return(nil, errors.New("token validation failed"))

		handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer invalid-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid or expired token")
		mockValidator.AssertExpectations(t)
	})
}

func TestRequireRole(t *testing.T) {
	logger := zap.NewNop()
	m := NewAuthMiddleware(new(MockTokenValidator), logger)

	tests := []struct {
		name   string
		claims *Claims
		roles  []string
		want   int
	}{
		{"has role", &Claims{Sub: "op-1", Roles: []string{"ops"}}, []string{"ops"}, http.StatusOK},
		{"has any of roles", &Claims{Sub: "op-1", Roles: []string{"admin"}}, []string{"ops", "admin"}, http.StatusOK},
		{"lacks role", &Claims{Sub: "u-1", Roles: []string{"staff"}}, []string{"ops"}, http.StatusForbidden},
		{"no roles", &Claims{Sub: "u-1"}, []string{"ops"}, http.StatusForbidden},
		{"missing claims", nil, []string{"ops"}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := m.RequireRole(tt.roles...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.claims != nil {
				req = req.WithContext(WithClaims(req.Context(), tt.claims))
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRequireRole_RecordsDenials(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("denial is audited", func(t *testing.T) {
		rec := new(MockDenialRecorder)
		m := NewAuthMiddleware(new(MockTokenValidator), zap.NewNop(), WithDenialAudit(rec))

		rec.On("Log", mock.Anything, mock.MatchedBy(func(p models.CreateAuditEventParams) bool {
			return p.EventType == models.AuditEventAccessDenied &&
				p.Actor == "u-1" &&
				p.Detail == "GET /api/v1/audit/events denied: operator role required"
		})).Return(nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/events", nil)
		req = req.WithContext(WithClaims(req.Context(), &Claims{Sub: "u-1", Roles: []string{"staff"}}))
		w := httptest.NewRecorder()

		m.RequireRole("ops")(ok).ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		rec.AssertExpectations(t)
	})

	t.Run("recorder failure still answers 403", func(t *testing.T) {
		rec := new(MockDenialRecorder)
		m := NewAuthMiddleware(new(MockTokenValidator), zap.NewNop(), WithDenialAudit(rec))
		rec.On("Log", mock.Anything, mock.Anything).Return(errors.New("audit store down"))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/events", nil)
		req = req.WithContext(WithClaims(req.Context(), &Claims{Sub: "u-1"}))
		w := httptest.NewRecorder()

		m.RequireRole("ops")(ok).ServeHTTP(w, req)

		require.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("granted requests are not audited", func(t *testing.T) {
		rec := new(MockDenialRecorder)
		m := NewAuthMiddleware(new(MockTokenValidator), zap.NewNop(), WithDenialAudit(rec))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/events", nil)
		req = req.WithContext(WithClaims(req.Context(), &Claims{Sub: "op-1", Roles: []string{"ops"}}))
		w := httptest.NewRecorder()

		m.RequireRole("ops")(ok).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		rec.AssertNotCalled(t, "Log", mock.Anything, mock.Anything)
	})
}

func TestRequestID(t *testing.T) {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(RequestID)
	r.Get("/test", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, GetRequestIDFromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(chimw.RequestIDHeader, "req-abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-abc", w.Header().Get("X-Request-ID"))
}

func TestContextHelpers_NoClaims(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, GetClaimsFromContext(ctx))
	assert.Empty(t, GetActorFromContext(ctx))
	assert.Nil(t, GetRolesFromContext(ctx))
	assert.Empty(t, GetRequestIDFromContext(ctx))

	var claims *Claims
	assert.False(t, claims.HasRole("ops"))
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name          string
		authHeader    string
		cookieValue   string
		expectedToken string
	}{
		{
			name:          "valid Bearer token in header",
			authHeader:    "Bearer valid-token-123",
			expectedToken: "valid-token-123",
		},
		{
			name:          "Bearer with lowercase",
			authHeader:    "bearer valid-token-123",
			expectedToken: "valid-token-123",
		},
		{
			name:          "token from auth_token cookie when no header",
			cookieValue:   "cookie-token-value",
			expectedToken: "cookie-token-value",
		},
		{
			name:          "Authorization header takes precedence over cookie",
			authHeader:    "Bearer header-token",
			cookieValue:   "cookie-token",
			expectedToken: "header-token",
		},
		{
			name:          "missing both returns empty",
			expectedToken: "",
		},
		{
			name:          "wrong prefix falls back to cookie",
			authHeader:    "Basic token",
			cookieValue:   "cookie-token",
			expectedToken: "cookie-token",
		},
		{
			name:          "empty Bearer token falls back to cookie",
			authHeader:    "Bearer ",
			cookieValue:   "cookie-token",
			expectedToken: "cookie-token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			if tt.cookieValue != "" {
				req.AddCookie(&http.Cookie{Name: "auth_token", Value: tt.cookieValue})
			}

			assert.Equal(t, tt.expectedToken, extractToken(req))
		})
	}
}
