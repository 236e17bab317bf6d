package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/hitl-control-plane/middleware"
	"github.com/upb/hitl-control-plane/models"
	"github.com/upb/hitl-control-plane/services/hitl"
	"github.com/upb/hitl-control-plane/utils"
	"go.uber.org/zap"
)

// HITLService defines the approval workflow operations used over HTTP
type HITLService interface {
	Submit(ctx context.Context, req hitl.SubmitRequest) (*models.PendingAction, error)
	List(ctx context.Context, req hitl.ListRequest) ([]*models.PendingAction, error)
	Get(ctx context.Context, id string) (*models.PendingAction, error)
	Accept(ctx context.Context, req hitl.DecisionRequest) (*models.PendingAction, error)
	Reject(ctx context.Context, req hitl.DecisionRequest) (*models.PendingAction, error)
}

// DecisionBody is the body of accept and reject calls. DecidedBy and
// SenderRoles are only read when the request is unauthenticated.
type DecisionBody struct {
	DecidedBy   string   `json:"decided_by,omitempty"`
	Reason      *string  `json:"reason,omitempty"`
	SenderRoles []string `json:"sender_roles,omitempty"`
}

// ActionListResponse wraps a page of pending actions
type ActionListResponse struct {
	Actions []*models.PendingAction `json:"actions"`
	Count   int                     `json:"count"`
}

// HITLHandler handles pending action HTTP requests
type HITLHandler struct {
	svc    HITLService
	events http.Handler
	logger *zap.Logger
}

// NewHITLHandler creates a new HITLHandler. events serves the operator
// websocket and may be nil.
func NewHITLHandler(svc HITLService, events http.Handler, logger *zap.Logger) *HITLHandler {
	return &HITLHandler{
		svc:    svc,
		events: events,
		logger: logger,
	}
}

// HandleSubmit handles POST /api/v1/hitl/actions
func (h *HITLHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req hitl.SubmitRequest
	if err := utils.DecodeJSON(r, &req, false); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if actor := middleware.GetActorFromContext(ctx); actor != "" {
		req.RequestedBy = actor
	}

	action, err := h.svc.Submit(ctx, req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Debug("pending action created",
		zap.String("request_id", requestID),
		zap.String("action_id", action.ID))

	_ = utils.WriteCreated(w, action)
}

// HandleList handles GET /api/v1/hitl/actions
func (h *HITLHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var req hitl.ListRequest
	if v := q.Get("status"); v != "" {
		status := models.ActionStatus(v)
		req.Status = &status
	}
	if v := q.Get("skill_name"); v != "" {
		req.SkillName = &v
	}
	if v := q.Get("requested_by"); v != "" {
		req.RequestedBy = &v
	}
	if q.Get("limit") != "" {
		limit, err := utils.QueryInt(q, "limit", 0, 0, 0)
		if err != nil {
			_ = utils.WriteBadRequest(w, err.Error(), nil)
			return
		}
		req.Limit = &limit
	}

	actions, err := h.svc.List(ctx, req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, ActionListResponse{Actions: actions, Count: len(actions)})
}

// HandleGet handles GET /api/v1/hitl/actions/{id}
func (h *HITLHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	action, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, action)
}

// HandleAccept handles POST /api/v1/hitl/actions/{id}/accept
func (h *HITLHandler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.svc.Accept)
}

// HandleReject handles POST /api/v1/hitl/actions/{id}/reject
func (h *HITLHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.svc.Reject)
}

// HandleEvents handles GET /api/v1/hitl/events
func (h *HITLHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		_ = utils.WriteServiceUnavailable(w, "Live events are disabled", nil)
		return
	}
	h.events.ServeHTTP(w, r)
}

func (h *HITLHandler) decide(
	w http.ResponseWriter,
	r *http.Request,
	fn func(context.Context, hitl.DecisionRequest) (*models.PendingAction, error),
) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var body DecisionBody
	if err := utils.DecodeJSON(r, &body, true); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	req := hitl.DecisionRequest{
		ID:          chi.URLParam(r, "id"),
		DecidedBy:   body.DecidedBy,
		Reason:      body.Reason,
		SenderRoles: body.SenderRoles,
	}
	if claims := middleware.GetClaimsFromContext(ctx); claims != nil {
		req.DecidedBy = claims.Sub
		req.SenderRoles = claims.Roles
	}

	action, err := fn(ctx, req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Debug("decision applied",
		zap.String("request_id", requestID),
		zap.String("action_id", action.ID),
		zap.String("status", string(action.Status)))

	_ = utils.WriteOK(w, action)
}
