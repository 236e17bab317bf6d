package hitl

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/upb/hitl-control-plane/internal/observability"
	"github.com/upb/hitl-control-plane/internal/pii"
	"github.com/upb/hitl-control-plane/models"
	"github.com/upb/hitl-control-plane/repositories"
	"github.com/upb/hitl-control-plane/services"
	"github.com/upb/hitl-control-plane/utils"
	"go.uber.org/zap"
)

// Events pushed to operator clients
const (
	EventActionSubmitted = "hitl.action.submitted"
	EventActionResolved  = "hitl.action.resolved"
)

// Broadcaster pushes events to connected operator clients
type Broadcaster interface {
	Broadcast(eventType string, payload interface{})
}

// NotificationQueue accepts approval notifications for background delivery
type NotificationQueue interface {
	Enqueue(action *models.PendingAction) error
}

// maxExpiresInMs is the largest expires_in_ms that still fits a time.Duration
const maxExpiresInMs = math.MaxInt64 / int64(time.Millisecond)

// Options configures the service
type Options struct {
	// OperatorRoleIDs gates accept and reject. Empty means no restriction.
	OperatorRoleIDs []string
	// DefaultExpiry is used when a submit carries no expires_in_ms
	DefaultExpiry time.Duration
}

// SubmitRequest proposes an action for approval
type SubmitRequest struct {
	SkillName    string            `json:"skill_name" validate:"required"`
	ActionType   models.ActionType `json:"action_type" validate:"required,oneof=financial client_facing system_modify"`
	ProposedData json.RawMessage   `json:"proposed_data" validate:"required"`
	RequestedBy  string            `json:"requested_by" validate:"required"`
	ExpiresInMs  *int64            `json:"expires_in_ms,omitempty"`
	SessionKey   *string           `json:"session_key,omitempty"`
	ChannelID    *string           `json:"channel_id,omitempty"`
}

// ListRequest filters pending actions
type ListRequest struct {
	Status      *models.ActionStatus `json:"status,omitempty" validate:"omitempty,oneof=pending accepted rejected expired"`
	SkillName   *string              `json:"skill_name,omitempty"`
	RequestedBy *string              `json:"requested_by,omitempty"`
	Limit       *int                 `json:"limit,omitempty" validate:"omitempty,gte=0"`
}

// DecisionRequest accepts or rejects an action. Reason is only used on reject.
type DecisionRequest struct {
	ID          string   `json:"id" validate:"required"`
	DecidedBy   string   `json:"decided_by" validate:"required"`
	Reason      *string  `json:"reason,omitempty"`
	SenderRoles []string `json:"sender_roles,omitempty"`
}

// Service is the approval workflow: every state change is persisted, audited
// and broadcast.
type Service struct {
	actions       repositories.PendingActionRepository
	audit         repositories.AuditRepository
	broadcaster   Broadcaster
	notifications NotificationQueue
	metrics       *observability.Metrics
	logger        *zap.Logger
	operatorRoles map[string]struct{}
	defaultExpiry time.Duration
}

// NewService creates a new Service. broadcaster and notifications may be nil.
func NewService(
	actions repositories.PendingActionRepository,
	audit repositories.AuditRepository,
	broadcaster Broadcaster,
	notifications NotificationQueue,
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts Options,
) *Service {
	roles := make(map[string]struct{}, len(opts.OperatorRoleIDs))
	for _, r := range opts.OperatorRoleIDs {
		roles[r] = struct{}{}
	}
	if opts.DefaultExpiry <= 0 {
		opts.DefaultExpiry = models.DefaultActionExpiry
	}

	return &Service{
		actions:       actions,
		audit:         audit,
		broadcaster:   broadcaster,
		notifications: notifications,
		metrics:       metrics,
		logger:        logger,
		operatorRoles: roles,
		defaultExpiry: opts.DefaultExpiry,
	}
}

// Submit creates a pending action and announces it. Notification failures
// never fail the submit.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.PendingAction, error) {
	if err := validate(&req); err != nil {
		return nil, err
	}

	expiresIn := s.defaultExpiry
	if req.ExpiresInMs != nil {
		ms := *req.ExpiresInMs
		if ms > maxExpiresInMs || ms < -maxExpiresInMs {
			return nil, services.NewValidationError(
				fmt.Sprintf("expires_in_ms must be between %d and %d", -maxExpiresInMs, maxExpiresInMs)).
				WithDetail("expires_in_ms", "out of range")
		}
		expiresIn = time.Duration(ms) * time.Millisecond
	}

	action, err := s.actions.Create(ctx, models.CreatePendingActionParams{
		SkillName:    req.SkillName,
		ActionType:   req.ActionType,
		ProposedData: req.ProposedData,
		RequestedBy:  req.RequestedBy,
		ExpiresIn:    &expiresIn,
		SessionKey:   req.SessionKey,
		ChannelID:    req.ChannelID,
	})
	if err != nil {
		return nil, services.WrapInternal("failed to create pending action", err)
	}

	s.logAudit(ctx, models.NewAuditEvent(models.AuditEventHITLSubmitted, req.RequestedBy).
		WithSkill(action.SkillName).
		WithAction(action.ID).
		WithDetail(fmt.Sprintf("HITL action %s submitted for %s approval", action.ID, action.ActionType)).
		WithCorrelation(req.SessionKey, req.ChannelID))

	s.metrics.RecordSubmitted(string(action.ActionType))
	s.broadcast(EventActionSubmitted, map[string]interface{}{"action": action})

	if s.notifications != nil {
		if err := s.notifications.Enqueue(action); err != nil {
			s.logger.Warn("approval notification not queued",
				zap.String("action_id", action.ID),
				zap.Error(err))
		}
	}

	s.logger.Info("pending action submitted",
		zap.String("action_id", action.ID),
		zap.String("skill_name", action.SkillName),
		zap.String("action_type", string(action.ActionType)))

	return action, nil
}

// List returns pending actions newest first, expiring overdue ones first
func (s *Service) List(ctx context.Context, req ListRequest) ([]*models.PendingAction, error) {
	if err := validate(&req); err != nil {
		return nil, err
	}

	actions, err := s.actions.List(ctx, models.PendingActionQuery{
		Status:      req.Status,
		SkillName:   req.SkillName,
		RequestedBy: req.RequestedBy,
		Limit:       req.Limit,
	})
	if err != nil {
		return nil, services.WrapInternal("failed to list pending actions", err)
	}
	return actions, nil
}

// Get returns one action or ErrActionNotFound
func (s *Service) Get(ctx context.Context, id string) (*models.PendingAction, error) {
	if id == "" {
		return nil, services.NewValidationError("id is required")
	}

	action, err := s.actions.Get(ctx, id)
	if err != nil {
		return nil, services.WrapInternal("failed to get pending action", err)
	}
	if action == nil {
		return nil, services.ErrActionNotFound
	}
	return action, nil
}

// Accept approves a pending action. A terminal action is returned unchanged;
// the ignored decision is still audited and broadcast.
func (s *Service) Accept(ctx context.Context, req DecisionRequest) (*models.PendingAction, error) {
	return s.decide(ctx, req, models.ActionStatusAccepted)
}

// Reject declines a pending action with an optional reason
func (s *Service) Reject(ctx context.Context, req DecisionRequest) (*models.PendingAction, error) {
	return s.decide(ctx, req, models.ActionStatusRejected)
}

func (s *Service) decide(ctx context.Context, req DecisionRequest, target models.ActionStatus) (*models.PendingAction, error) {
	if err := validate(&req); err != nil {
		return nil, err
	}

	verb := "accept"
	if target == models.ActionStatusRejected {
		verb = "reject"
	}

	if !s.IsOperator(req.SenderRoles) {
		s.metrics.RecordAccessDenied(verb)
		s.logAudit(ctx, models.NewAuditEvent(models.AuditEventAccessDenied, req.DecidedBy).
			WithAction(req.ID).
			WithDetail(fmt.Sprintf("HITL %s of action %s denied: operator role required", verb, req.ID)))
		return nil, services.ErrOperatorRoleRequired.
			WithMessage(fmt.Sprintf("Only Office Operator or Admin roles may %s HITL actions", verb))
	}

	current, err := s.actions.Get(ctx, req.ID)
	if err != nil {
		return nil, services.WrapInternal("failed to get pending action", err)
	}
	if current == nil {
		return nil, services.ErrActionNotFound
	}
	if current.Status.IsTerminal() {
		return s.ignored(ctx, req, target, verb, current), nil
	}

	var action *models.PendingAction
	if target == models.ActionStatusAccepted {
		action, err = s.actions.Accept(ctx, req.ID, req.DecidedBy)
	} else {
		action, err = s.actions.Reject(ctx, req.ID, req.DecidedBy, req.Reason)
	}
	if err != nil {
		return nil, services.WrapInternal(fmt.Sprintf("failed to %s pending action", verb), err)
	}
	if action == nil {
		return nil, services.ErrActionNotFound
	}

	// Lost a race with another decision or the sweeper
	if action.Status != target || models.StringValue(action.DecidedBy) != req.DecidedBy {
		return s.ignored(ctx, req, target, verb, action), nil
	}

	detail := fmt.Sprintf("HITL action %s %s by %s", action.ID, target, req.DecidedBy)
	if target == models.ActionStatusRejected && req.Reason != nil && *req.Reason != "" {
		detail += ": " + *req.Reason
	}

	s.logAudit(ctx, models.NewAuditEvent(auditTypeFor(target), req.DecidedBy).
		WithSkill(action.SkillName).
		WithAction(action.ID).
		WithDetail(pii.Scrub(detail).Scrubbed))

	s.metrics.RecordDecision(string(target))
	s.broadcast(EventActionResolved, map[string]interface{}{
		"action":   action,
		"decision": string(target),
		"applied":  true,
	})

	s.logger.Info("pending action decided",
		zap.String("action_id", action.ID),
		zap.String("decision", string(target)))

	return action, nil
}

// ignored records a decision that arrived after the action left pending.
// The stored row is returned as is.
func (s *Service) ignored(ctx context.Context, req DecisionRequest, target models.ActionStatus, verb string, action *models.PendingAction) *models.PendingAction {
	s.logAudit(ctx, models.NewAuditEvent(auditTypeFor(target), req.DecidedBy).
		WithSkill(action.SkillName).
		WithAction(action.ID).
		WithDetail(pii.Scrub(fmt.Sprintf("HITL action %s %s by %s ignored: action already %s",
			action.ID, verb, req.DecidedBy, action.Status)).Scrubbed))

	s.broadcast(EventActionResolved, map[string]interface{}{
		"action":   action,
		"decision": string(target),
		"applied":  false,
	})

	s.logger.Info("decision ignored, action not pending",
		zap.String("action_id", action.ID),
		zap.String("status", string(action.Status)))
	return action
}

// IsOperator reports whether any of roles is allowed to decide actions
func (s *Service) IsOperator(roles []string) bool {
	if len(s.operatorRoles) == 0 {
		return true
	}
	for _, r := range roles {
		if _, ok := s.operatorRoles[r]; ok {
			return true
		}
	}
	return false
}

func (s *Service) logAudit(ctx context.Context, params *models.CreateAuditEventParams) {
	if _, err := s.audit.Log(ctx, *params); err != nil {
		s.logger.Error("failed to write audit event",
			zap.String("event_type", string(params.EventType)),
			zap.Error(err))
	}
}

func (s *Service) broadcast(eventType string, payload interface{}) {
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(eventType, payload)
	}
}

func auditTypeFor(status models.ActionStatus) models.AuditEventType {
	if status == models.ActionStatusRejected {
		return models.AuditEventHITLRejected
	}
	return models.AuditEventHITLAccepted
}

// validate converts struct validation failures into a domain validation error
func validate(req interface{}) error {
	if err := utils.ValidateStruct(req); err != nil {
		derr := services.NewValidationError(err.Error())
		for field, msg := range utils.GetValidationFields(err) {
			derr.WithDetail(field, msg)
		}
		return derr
	}
	return nil
}
