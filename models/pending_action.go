package models

import (
	"encoding/json"
	"time"
)

// DefaultActionExpiry is applied when a pending action is created without an
// explicit expiry.
const DefaultActionExpiry = 24 * time.Hour

// ActionType classifies why an action needs approval
type ActionType string

const (
	ActionTypeFinancial    ActionType = "financial"
	ActionTypeClientFacing ActionType = "client_facing"
	ActionTypeSystemModify ActionType = "system_modify"
)

// Valid reports whether t is a known action type
func (t ActionType) Valid() bool {
	switch t {
	case ActionTypeFinancial, ActionTypeClientFacing, ActionTypeSystemModify:
		return true
	}
	return false
}

// ActionStatus is the state of a pending action
type ActionStatus string

const (
	ActionStatusPending  ActionStatus = "pending"
	ActionStatusAccepted ActionStatus = "accepted"
	ActionStatusRejected ActionStatus = "rejected"
	ActionStatusExpired  ActionStatus = "expired"
)

// Valid reports whether s is a known status
func (s ActionStatus) Valid() bool {
	switch s {
	case ActionStatusPending, ActionStatusAccepted, ActionStatusRejected, ActionStatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s ActionStatus) IsTerminal() bool {
	return s == ActionStatusAccepted || s == ActionStatusRejected || s == ActionStatusExpired
}

// PendingAction is a proposed side effect awaiting an operator decision.
// Once Status leaves pending the row never changes again.
type PendingAction struct {
	ID           string          `json:"id" db:"id"`
	SkillName    string          `json:"skill_name" db:"skill_name"`
	ActionType   ActionType      `json:"action_type" db:"action_type"`
	ProposedData json.RawMessage `json:"proposed_data" db:"proposed_data"`
	RequestedBy  string          `json:"requested_by" db:"requested_by"`
	RequestedAt  time.Time       `json:"requested_at" db:"requested_at"`
	ExpiresAt    time.Time       `json:"expires_at" db:"expires_at"`
	Status       ActionStatus    `json:"status" db:"status"`
	DecidedBy    *string         `json:"decided_by,omitempty" db:"decided_by"`
	DecidedAt    *time.Time      `json:"decided_at,omitempty" db:"decided_at"`
	RejectReason *string         `json:"reject_reason,omitempty" db:"reject_reason"`
	SessionKey   *string         `json:"session_key,omitempty" db:"session_key"`
	ChannelID    *string         `json:"channel_id,omitempty" db:"channel_id"`
}

// TableName returns the table name for the PendingAction model
func (PendingAction) TableName() string {
	return "pending_actions"
}

// IsExpiredAt reports whether a still-pending action is past its expiry at now
func (a *PendingAction) IsExpiredAt(now time.Time) bool {
	return a.Status == ActionStatusPending && !a.ExpiresAt.After(now)
}

// CreatePendingActionParams carries the fields for a new pending action.
// ExpiresIn nil means DefaultActionExpiry; negative values are accepted.
type CreatePendingActionParams struct {
	SkillName    string
	ActionType   ActionType
	ProposedData interface{}
	RequestedBy  string
	ExpiresIn    *time.Duration
	SessionKey   *string
	ChannelID    *string
}

// PendingActionQuery filters pending actions. A nil Limit is unbounded.
type PendingActionQuery struct {
	Status      *ActionStatus
	SkillName   *string
	RequestedBy *string
	Limit       *int
}
