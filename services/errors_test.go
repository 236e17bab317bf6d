package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDomainError(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeNotFound, "resource not found", baseErr)

	assert.Equal(t, ErrorTypeNotFound, domainErr.Type)
	assert.Equal(t, "resource not found", domainErr.Message)
	assert.Equal(t, baseErr, domainErr.Err)
	assert.NotNil(t, domainErr.Details)
}

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *DomainError
		wantMsg string
	}{
		{
			name: "error with wrapped error",
			err: &DomainError{
				Type:    ErrorTypeInternal,
				Message: "failed to accept action",
				Err:     errors.New("database is locked"),
			},
			wantMsg: "internal: failed to accept action (database is locked)",
		},
		{
			name: "error without wrapped error",
			err: &DomainError{
				Type:    ErrorTypeValidation,
				Message: "decided_by is required",
			},
			wantMsg: "validation: decided_by is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeInternal, "internal error", baseErr)

	assert.Equal(t, baseErr, errors.Unwrap(domainErr))
}

func TestDomainError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"same error type", NewDomainError(ErrorTypeNotFound, "not found", nil), ErrActionNotFound, true},
		{"different error type", NewValidationError("bad"), ErrActionNotFound, false},
		{"not a domain error", ErrActionNotFound, errors.New("regular error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := NewValidationError("validation error")
	err.WithDetail("field", "decided_by").WithDetail("tag", "required")

	assert.Equal(t, "decided_by", err.Details["field"])
	assert.Equal(t, "required", err.Details["tag"])
}

func TestErrorPredicates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		pred func(error) bool
		want bool
	}{
		{"action not found", ErrActionNotFound, IsNotFoundError, true},
		{"wrapped not found", fmt.Errorf("wrapped: %w", ErrSkillNotFound), IsNotFoundError, true},
		{"nil is not found", nil, IsNotFoundError, false},
		{"invalid action type", NewValidationError("action_type must be one of: financial, client_facing, system_modify"), IsValidationError, true},
		{"not accepted", ErrActionNotAccepted, IsValidationError, true},
		{"not found is not validation", ErrActionNotFound, IsValidationError, false},
		{"operator role", ErrOperatorRoleRequired, IsForbiddenError, true},
		{"invalid token", NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil), IsUnauthorizedError, true},
		{"database", WrapInternal("failed to list actions", errors.New("database is locked")), IsInternalError, true},
		{"notifier", NewDomainError(ErrorTypeExternal, "approval notifier unavailable", nil), IsExternalError, true},
		{"conflict", NewDomainError(ErrorTypeConflict, "dup", nil), IsConflictError, true},
		{"regular error", errors.New("regular"), IsInternalError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pred(tt.err))
		})
	}
}

func TestDomainError_WithMessage(t *testing.T) {
	err := ErrSkillNotFound.WithMessage(`skill "quote-draft" not found`).WithDetail("skill_name", "quote-draft")

	assert.ErrorIs(t, err, ErrSkillNotFound)
	assert.Equal(t, "not_found: skill \"quote-draft\" not found", err.Error())
	assert.Equal(t, "quote-draft", err.Details["skill_name"])

	assert.Equal(t, "skill not found", ErrSkillNotFound.Message)
	assert.Empty(t, ErrSkillNotFound.Details)
}

func TestGetErrorType(t *testing.T) {
	assert.Equal(t, ErrorTypeNotFound, GetErrorType(ErrActionNotFound))
	assert.Equal(t, ErrorTypeForbidden, GetErrorType(fmt.Errorf("x: %w", ErrOperatorRoleRequired)))
	assert.Equal(t, ErrorType(""), GetErrorType(errors.New("regular")))
}

func TestGetErrorDetails(t *testing.T) {
	err := NewValidationError("validation error")
	err.WithDetail("field", "status")

	details := GetErrorDetails(err)
	require.NotNil(t, details)
	assert.Equal(t, "status", details["field"])

	assert.Nil(t, GetErrorDetails(errors.New("regular error")))
}

func TestWrapError(t *testing.T) {
	baseErr := errors.New("base error")
	wrapped := WrapError(ErrorTypeInternal, "wrapped message", baseErr)

	var domainErr *DomainError
	require.True(t, errors.As(wrapped, &domainErr))
	assert.Equal(t, ErrorTypeInternal, domainErr.Type)
	assert.Equal(t, "wrapped message", domainErr.Message)
	assert.Equal(t, baseErr, errors.Unwrap(wrapped))
}

func TestWrapInternal(t *testing.T) {
	baseErr := errors.New("database connection failed")
	wrapped := WrapInternal("failed to list actions", baseErr)

	assert.True(t, IsInternalError(wrapped))
	assert.Equal(t, baseErr, errors.Unwrap(wrapped))
}
