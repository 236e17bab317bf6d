package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/hitl-control-plane/middleware"
	"github.com/upb/hitl-control-plane/models"
	"github.com/upb/hitl-control-plane/services/policy"
	"github.com/upb/hitl-control-plane/services/skills"
	"github.com/upb/hitl-control-plane/utils"
	"go.uber.org/zap"
)

// SkillExecutor runs skills behind the approval policy
type SkillExecutor interface {
	Execute(ctx context.Context, name string, args map[string]interface{}, sc skills.Context) (skills.Result, error)
	ExecuteApproved(ctx context.Context, actionID string, sc skills.Context) (skills.Result, error)
}

// SkillLister lists registered skills
type SkillLister interface {
	List() []models.SkillMetadata
}

// ExecuteSkillRequest is the body of a skill execution. Without
// authentication RequestedBy and SenderRoles are taken as given.
type ExecuteSkillRequest struct {
	Args        map[string]interface{} `json:"args"`
	RequestedBy string                 `json:"requested_by,omitempty"`
	SenderRoles []string               `json:"sender_roles,omitempty"`
	SessionKey  *string                `json:"session_key,omitempty"`
	ChannelID   *string                `json:"channel_id,omitempty"`
}

// SkillResponse describes a skill and how the approval policy treats it
type SkillResponse struct {
	models.SkillMetadata
	Approval policy.Decision `json:"approval"`
}

// SkillsHandler handles skill listing and execution
type SkillsHandler struct {
	executor SkillExecutor
	registry SkillLister
	logger   *zap.Logger
}

// NewSkillsHandler creates a new SkillsHandler
func NewSkillsHandler(executor SkillExecutor, registry SkillLister, logger *zap.Logger) *SkillsHandler {
	return &SkillsHandler{
		executor: executor,
		registry: registry,
		logger:   logger,
	}
}

// HandleList handles GET /api/v1/skills
func (h *SkillsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	metas := h.registry.List()
	out := make([]SkillResponse, 0, len(metas))
	for _, m := range metas {
		out = append(out, SkillResponse{SkillMetadata: m, Approval: policy.CheckHITLRequired(m)})
	}
	_ = utils.WriteOK(w, out)
}

// HandleExecute handles POST /api/v1/skills/{name}/execute. Skills that need
// approval answer 202 with the pending action id.
func (h *SkillsHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	name := chi.URLParam(r, "name")

	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	result, err := h.executor.Execute(ctx, name, req.Args, h.skillContext(ctx, req))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Debug("skill executed",
		zap.String("request_id", requestID),
		zap.String("skill_name", name),
		zap.Bool("ok", result.OK),
		zap.String("action_id", result.HITLActionID))

	if result.HITLActionID != "" {
		_ = utils.WriteAccepted(w, result, "held for approval")
		return
	}
	_ = utils.WriteOK(w, result)
}

// HandleExecuteApproved handles POST /api/v1/hitl/actions/{id}/execute
func (h *SkillsHandler) HandleExecuteApproved(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	result, err := h.executor.ExecuteApproved(ctx, chi.URLParam(r, "id"), h.skillContext(ctx, req))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, result)
}

func (h *SkillsHandler) decode(w http.ResponseWriter, r *http.Request) (ExecuteSkillRequest, bool) {
	var req ExecuteSkillRequest
	if err := utils.DecodeJSON(r, &req, true); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return req, false
	}
	return req, true
}

func (h *SkillsHandler) skillContext(ctx context.Context, req ExecuteSkillRequest) skills.Context {
	sc := skills.Context{
		RequestedBy: req.RequestedBy,
		SenderRoles: req.SenderRoles,
		SessionKey:  req.SessionKey,
		ChannelID:   req.ChannelID,
	}
	if claims := middleware.GetClaimsFromContext(ctx); claims != nil {
		sc.RequestedBy = claims.Sub
		sc.SenderRoles = claims.Roles
	}
	return sc
}
