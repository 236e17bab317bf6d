package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/upb/hitl-control-plane/internal/observability"
	"github.com/upb/hitl-control-plane/internal/pii"
	"github.com/upb/hitl-control-plane/models"
	"github.com/upb/hitl-control-plane/repositories"
	"github.com/upb/hitl-control-plane/services"
	"github.com/upb/hitl-control-plane/services/hitl"
	"github.com/upb/hitl-control-plane/services/policy"
	"go.uber.org/zap"
)

const unknownActor = "unknown"

// Skill execution outcomes as recorded in metrics
const (
	OutcomeExecuted        = "executed"
	OutcomeRejected        = "rejected"
	OutcomePendingApproval = "pending_approval"
)

// proposal is the proposed_data stored on a pending action
type proposal struct {
	Args   map[string]interface{} `json:"args"`
	Reason string                 `json:"reason"`
}

// Executor runs skills behind the approval policy. Skills that need
// approval are scrubbed and parked as pending actions; the rest run
// immediately.
type Executor struct {
	registry *Registry
	hitl     *hitl.Service
	audit    repositories.AuditRepository
	metrics  *observability.Metrics
	logger   *zap.Logger
	vault    *vault

	mu       sync.Mutex
	executed map[string]struct{}
}

// NewExecutor creates a new Executor
func NewExecutor(
	registry *Registry,
	hitlService *hitl.Service,
	audit repositories.AuditRepository,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		registry: registry,
		hitl:     hitlService,
		audit:    audit,
		metrics:  metrics,
		logger:   logger,
		vault:    newVault(),
		executed: make(map[string]struct{}),
	}
}

// Registry returns the skills this executor can run
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute runs the named skill, or submits it for approval when the policy
// says so. In the latter case the result carries the pending action id.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]interface{}, sc Context) (Result, error) {
	skill, ok := e.registry.Get(name)
	if !ok {
		return Result{}, services.ErrSkillNotFound.WithMessage(fmt.Sprintf("skill %q not found", name))
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	decision := policy.CheckHITLRequired(skill.Metadata)
	if !decision.RequiresApproval {
		return e.run(ctx, skill, args, sc, "", 0)
	}
	return e.submit(ctx, skill, decision, args, sc)
}

// ExecuteApproved runs the skill behind an accepted pending action. Each
// action runs at most once per process.
func (e *Executor) ExecuteApproved(ctx context.Context, actionID string, sc Context) (Result, error) {
	action, err := e.hitl.Get(ctx, actionID)
	if err != nil {
		return Result{}, err
	}

	switch action.Status {
	case models.ActionStatusAccepted:
	case models.ActionStatusRejected, models.ActionStatusExpired:
		e.vault.drop(action.ID)
		fallthrough
	default:
		return Result{}, services.ErrActionNotAccepted.
			WithMessage(fmt.Sprintf("action %s is %s, not accepted", action.ID, action.Status)).
			WithDetail("status", string(action.Status))
	}

	skill, ok := e.registry.Get(action.SkillName)
	if !ok {
		return Result{}, services.ErrSkillNotFound.WithMessage(fmt.Sprintf("skill %q not found", action.SkillName))
	}

	var p proposal
	if err := json.Unmarshal(action.ProposedData, &p); err != nil {
		return Result{}, services.NewDomainError(services.ErrorTypeValidation, "proposed_data is not a skill proposal", err)
	}
	if p.Args == nil {
		p.Args = map[string]interface{}{}
	}

	if !e.markExecuted(action.ID) {
		return Result{}, services.NewDomainError(services.ErrorTypeConflict,
			fmt.Sprintf("action %s has already been executed", action.ID), nil)
	}

	args := p.Args
	maps, held := e.vault.take(action.ID)
	restored := 0
	if held {
		args, restored = resolveArgs(args, maps)
	}

	if sc.RequestedBy == "" {
		sc.RequestedBy = models.StringValue(action.DecidedBy)
	}
	if sc.SessionKey == nil {
		sc.SessionKey = action.SessionKey
	}
	if sc.ChannelID == nil {
		sc.ChannelID = action.ChannelID
	}

	result, err := e.run(ctx, skill, args, sc, action.ID, restored)
	if err != nil {
		// allow a retry with the same resolution maps
		e.unmarkExecuted(action.ID)
		if held {
			e.vault.put(action.ID, maps)
		}
		return Result{}, err
	}
	result.HITLActionID = action.ID
	return result, nil
}

func (e *Executor) submit(ctx context.Context, skill Skill, decision policy.Decision, args map[string]interface{}, sc Context) (Result, error) {
	name := skill.Metadata.Name
	scrubbed, red := scrubArgs(args)

	data, err := json.Marshal(proposal{Args: scrubbed, Reason: decision.Reason})
	if err != nil {
		return Result{}, services.NewDomainError(services.ErrorTypeValidation, "args must be JSON encodable", err)
	}

	action, err := e.hitl.Submit(ctx, hitl.SubmitRequest{
		SkillName:    name,
		ActionType:   decision.ActionType,
		ProposedData: data,
		RequestedBy:  actorOf(sc),
		SessionKey:   sc.SessionKey,
		ChannelID:    sc.ChannelID,
	})
	if err != nil {
		return Result{}, err
	}

	if !red.empty() {
		e.vault.put(action.ID, red.maps)
		for _, c := range red.categories() {
			e.metrics.RecordRedaction(string(c), red.counts[c])
		}
		e.logAudit(ctx, models.NewAuditEvent(models.AuditEventPIIScrubbed, actorOf(sc)).
			WithSkill(name).
			WithAction(action.ID).
			WithDetail(fmt.Sprintf("Redacted %d value(s) from %s arguments: %s", red.total(), name, red.summary())).
			WithCorrelation(sc.SessionKey, sc.ChannelID))
	}

	e.metrics.RecordSkill(name, OutcomePendingApproval)
	e.logger.Info("skill held for approval",
		zap.String("skill_name", name),
		zap.String("action_id", action.ID),
		zap.String("action_type", string(action.ActionType)))

	return Result{
		OK:           true,
		Message:      fmt.Sprintf("%s. Submitted as HITL action %s for operator review.", decision.Reason, action.ID),
		Data:         map[string]interface{}{"action": action},
		HITLActionID: action.ID,
	}, nil
}

func (e *Executor) run(ctx context.Context, skill Skill, args map[string]interface{}, sc Context, actionID string, restored int) (Result, error) {
	name := skill.Metadata.Name

	result, err := skill.Handler(ctx, args, sc)
	if err != nil || !result.OK {
		msg := result.Message
		if err != nil {
			msg = err.Error()
		}
		e.metrics.RecordSkill(name, OutcomeRejected)
		e.logAudit(ctx, models.NewAuditEvent(models.AuditEventSkillRejected, actorOf(sc)).
			WithSkill(name).
			WithAction(actionID).
			WithDetail(pii.Scrub(fmt.Sprintf("Skill %s failed: %s", name, msg)).Scrubbed).
			WithCorrelation(sc.SessionKey, sc.ChannelID))
		e.logger.Warn("skill failed",
			zap.String("skill_name", name),
			zap.String("action_id", actionID),
			zap.Error(err))
		if err != nil {
			return Result{}, err
		}
		return result, nil
	}

	detail := fmt.Sprintf("Skill %s executed", name)
	if actionID != "" {
		detail += " for approved action " + actionID
	}
	if restored > 0 {
		detail += fmt.Sprintf(" (%d redacted value(s) restored)", restored)
	}

	e.metrics.RecordSkill(name, OutcomeExecuted)
	e.logAudit(ctx, models.NewAuditEvent(models.AuditEventSkillExecuted, actorOf(sc)).
		WithSkill(name).
		WithAction(actionID).
		WithDetail(detail).
		WithCorrelation(sc.SessionKey, sc.ChannelID))

	return result, nil
}

func (e *Executor) markExecuted(actionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, done := e.executed[actionID]; done {
		return false
	}
	e.executed[actionID] = struct{}{}
	return true
}

func (e *Executor) unmarkExecuted(actionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.executed, actionID)
}

func (e *Executor) logAudit(ctx context.Context, params *models.CreateAuditEventParams) {
	if e.audit == nil {
		return
	}
	if _, err := e.audit.Log(ctx, *params); err != nil {
		e.logger.Error("failed to write audit event",
			zap.String("event_type", string(params.EventType)),
			zap.Error(err))
	}
}

func actorOf(sc Context) string {
	if sc.RequestedBy == "" {
		return unknownActor
	}
	return sc.RequestedBy
}
