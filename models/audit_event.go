package models

import (
	"time"
)

// AuditEventType classifies an audit trail entry
type AuditEventType string

const (
	AuditEventSkillExecuted AuditEventType = "skill.executed"
	AuditEventSkillRejected AuditEventType = "skill.rejected"
	AuditEventHITLSubmitted AuditEventType = "hitl.submitted"
	AuditEventHITLAccepted  AuditEventType = "hitl.accepted"
	AuditEventHITLRejected  AuditEventType = "hitl.rejected"
	AuditEventHITLExpired   AuditEventType = "hitl.expired"
	AuditEventAccessDenied  AuditEventType = "access.denied"
	AuditEventPIIScrubbed   AuditEventType = "pii.scrubbed"
)

// AuditEventTypes lists every known event type
var AuditEventTypes = []AuditEventType{
	AuditEventSkillExecuted,
	AuditEventSkillRejected,
	AuditEventHITLSubmitted,
	AuditEventHITLAccepted,
	AuditEventHITLRejected,
	AuditEventHITLExpired,
	AuditEventAccessDenied,
	AuditEventPIIScrubbed,
}

// Valid reports whether t is a known event type
func (t AuditEventType) Valid() bool {
	for _, known := range AuditEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// AuditEvent is an immutable audit trail entry. Detail must already be
// redacted by the caller.
type AuditEvent struct {
	ID         string         `json:"id" db:"id"`
	EventType  AuditEventType `json:"event_type" db:"event_type"`
	Actor      string         `json:"actor" db:"actor"`
	SkillName  *string        `json:"skill_name,omitempty" db:"skill_name"`
	ActionID   *string        `json:"action_id,omitempty" db:"action_id"`
	Detail     string         `json:"detail" db:"detail"`
	Timestamp  time.Time      `json:"timestamp" db:"timestamp"`
	SessionKey *string        `json:"session_key,omitempty" db:"session_key"`
	ChannelID  *string        `json:"channel_id,omitempty" db:"channel_id"`
}

// TableName returns the table name for the AuditEvent model
func (AuditEvent) TableName() string {
	return "audit_log"
}

// CreateAuditEventParams carries the caller-supplied fields of a new event
type CreateAuditEventParams struct {
	EventType  AuditEventType
	Actor      string
	SkillName  *string
	ActionID   *string
	Detail     string
	SessionKey *string
	ChannelID  *string
}

// NewAuditEvent starts a params builder for an event
func NewAuditEvent(eventType AuditEventType, actor string) *CreateAuditEventParams {
	return &CreateAuditEventParams{
		EventType: eventType,
		Actor:     actor,
	}
}

// WithSkill sets the skill name
func (p *CreateAuditEventParams) WithSkill(skillName string) *CreateAuditEventParams {
	p.SkillName = optional(skillName)
	return p
}

// WithAction links the event to a pending action
func (p *CreateAuditEventParams) WithAction(actionID string) *CreateAuditEventParams {
	p.ActionID = optional(actionID)
	return p
}

// WithDetail sets the (already redacted) detail text
func (p *CreateAuditEventParams) WithDetail(detail string) *CreateAuditEventParams {
	p.Detail = detail
	return p
}

// WithCorrelation copies session and channel correlation keys
func (p *CreateAuditEventParams) WithCorrelation(sessionKey, channelID *string) *CreateAuditEventParams {
	p.SessionKey = sessionKey
	p.ChannelID = channelID
	return p
}

// AuditQuery filters audit events. Since is an exclusive lower bound.
type AuditQuery struct {
	EventType *AuditEventType
	Actor     *string
	SkillName *string
	Since     *time.Time
	Limit     int
}

// optional maps "" to nil
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringPtr returns a pointer to s, or nil for the empty string
func StringPtr(s string) *string {
	return optional(s)
}

// StringValue dereferences s, returning "" for nil
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
