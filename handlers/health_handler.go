package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/upb/hitl-control-plane/utils"
	"go.uber.org/zap"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthChecker reports the health of each backing store by name
type HealthChecker interface {
	HealthCheck(ctx context.Context) map[string]error
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	checker HealthChecker
	logger  *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. A nil checker reports ready.
func NewHealthHandler(checker HealthChecker, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		checker: checker,
		logger:  logger,
	}
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// Readiness check - validates that both stores answer
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	var failed []string

	if h.checker != nil {
		for name, err := range h.checker.HealthCheck(ctx) {
			if err != nil {
				h.logger.Warn("store health check failed",
					zap.String("store", name),
					zap.Error(err))
				checks[name] = "unhealthy"
				failed = append(failed, name)
				continue
			}
			checks[name] = "healthy"
		}
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if len(failed) > 0 {
		sort.Strings(failed)
		response.Status = "unhealthy"
		if err := utils.WriteServiceUnavailable(w, "One or more stores are unavailable", map[string]interface{}{
			"checks": checks,
			"failed": failed,
		}); err != nil {
			h.logger.Error("failed to write readiness response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteOK(w, response); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}
