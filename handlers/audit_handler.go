package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/upb/hitl-control-plane/internal/pii"
	"github.com/upb/hitl-control-plane/middleware"
	"github.com/upb/hitl-control-plane/models"
	"github.com/upb/hitl-control-plane/services"
	"github.com/upb/hitl-control-plane/utils"
	"go.uber.org/zap"
)

const (
	defaultAuditPageSize = 100
	maxAuditPageSize     = 500
)

// AuditReader is the read side of the audit store
type AuditReader interface {
	Query(ctx context.Context, q models.AuditQuery) ([]*models.AuditEvent, error)
	GetByID(ctx context.Context, id string) (*models.AuditEvent, error)
}

// TextRequest carries free text to check or scrub
type TextRequest struct {
	Text       string   `json:"text" validate:"required"`
	Categories []string `json:"categories,omitempty"`
}

// ScrubResponse is the redacted form of a TextRequest. Original values are
// never echoed back.
type ScrubResponse struct {
	Scrubbed   string         `json:"scrubbed"`
	HasPII     bool           `json:"has_pii"`
	Categories []pii.Category `json:"categories"`
}

// AuditEventListResponse wraps a page of audit events
type AuditEventListResponse struct {
	Events []*models.AuditEvent `json:"events"`
	Count  int                  `json:"count"`
}

// AuditHandler serves the audit trail and the PII checks that run over it
type AuditHandler struct {
	audit  AuditReader
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(audit AuditReader, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		logger: logger,
	}
}

// HandleListEvents handles GET /api/v1/audit/events
func (h *AuditHandler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	q := r.URL.Query()

	limit, err := utils.QueryInt(q, "limit", defaultAuditPageSize, 1, maxAuditPageSize)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}
	query := models.AuditQuery{Limit: limit}
	if v := q.Get("event_type"); v != "" {
		et := models.AuditEventType(v)
		if !et.Valid() {
			_ = utils.WriteBadRequest(w, "Unknown event_type", map[string]interface{}{"event_type": v})
			return
		}
		query.EventType = &et
	}
	if v := q.Get("actor"); v != "" {
		query.Actor = &v
	}
	if v := q.Get("skill_name"); v != "" {
		query.SkillName = &v
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			_ = utils.WriteBadRequest(w, "since must be an RFC 3339 timestamp", nil)
			return
		}
		query.Since = &since
	}

	events, err := h.audit.Query(ctx, query)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to query audit log", err), h.logger)
		return
	}

	h.logger.Debug("listed audit events",
		zap.String("request_id", requestID),
		zap.Int("count", len(events)))

	_ = utils.WriteOK(w, AuditEventListResponse{Events: events, Count: len(events)})
}

// HandleGetEvent handles GET /api/v1/audit/events/{id}
func (h *AuditHandler) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.audit.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to get audit event", err), h.logger)
		return
	}
	if event == nil {
		HandleServiceError(w, services.ErrAuditEventNotFound, h.logger)
		return
	}
	_ = utils.WriteOK(w, event)
}

// HandleVerifyPII handles GET /api/v1/audit/verify-pii
func (h *AuditHandler) HandleVerifyPII(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, err := utils.QueryInt(r.URL.Query(), "limit", pii.DefaultVerifyLimit, 1, 0)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	result, err := pii.VerifyNoPIIInAuditLog(ctx, h.audit, limit)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to verify audit log", err), h.logger)
		return
	}

	if !result.Clean {
		h.logger.Warn("audit log contains unredacted PII",
			zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
			zap.Int("violations", len(result.Violations)))
	}

	_ = utils.WriteOK(w, result)
}

// HandleVerifyText handles POST /api/v1/pii/verify
func (h *AuditHandler) HandleVerifyText(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeText(w, r)
	if !ok {
		return
	}
	_ = utils.WriteOK(w, pii.VerifyTextClean(req.Text))
}

// HandleScrubText handles POST /api/v1/pii/scrub
func (h *AuditHandler) HandleScrubText(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeText(w, r)
	if !ok {
		return
	}

	var opts []pii.Option
	if req.Categories != nil {
		cats := make([]pii.Category, 0, len(req.Categories))
		for _, c := range req.Categories {
			cats = append(cats, pii.Category(c))
		}
		opts = append(opts, pii.WithCategories(cats...))
	}

	res := pii.Scrub(req.Text, opts...)
	cats := res.Categories()
	if cats == nil {
		cats = []pii.Category{}
	}
	_ = utils.WriteOK(w, ScrubResponse{Scrubbed: res.Scrubbed, HasPII: res.HasPII, Categories: cats})
}

func (h *AuditHandler) decodeText(w http.ResponseWriter, r *http.Request) (TextRequest, bool) {
	var req TextRequest
	if err := utils.DecodeJSON(r, &req, false); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return req, false
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return req, false
	}
	return req, true
}
