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
				Type:    ErrorTypeNotFound,
				Message: "agent not found",
				Err:     errors.New("db error"),
			},
			wantMsg: "not_found: agent not found (db error)",
		},
		{
			name: "error without wrapped error",
			err: &DomainError{
				Type:    ErrorTypeValidation,
				Message: "invalid input",
			},
			wantMsg: "validation: invalid input",
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
		{"same error type", NewAgentNotFoundError("a1"), ErrAgentNotFound, true},
		{"different error type", NewDomainError(ErrorTypeValidation, "validation", nil), ErrAgentNotFound, false},
		{"not a domain error", NewDomainError(ErrorTypeNotFound, "not found", nil), errors.New("regular error"), false},
		{"wrapped", fmt.Errorf("load agent: %w", NewAgentNotFoundError("a1")), ErrAgentNotFound, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestNewAgentNotFoundError(t *testing.T) {
	err := NewAgentNotFoundError("agent-42")

	assert.True(t, IsNotFoundError(err))
	assert.Equal(t, "agent-42", GetErrorDetails(err)["agent_id"])
	assert.Empty(t, ErrAgentNotFound.Details, "sentinel must stay untouched")
}

func TestErrorTypePredicates(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		predicate func(error) bool
		want      bool
	}{
		{"not found", ErrAgentNotFound, IsNotFoundError, true},
		{"wrapped not found", fmt.Errorf("wrapped: %w", ErrAgentNotFound), IsNotFoundError, true},
		{"nil is not found", nil, IsNotFoundError, false},
		{"validation", ErrEmptyQuery, IsValidationError, true},
		{"options are validation", ErrInvalidOptions, IsValidationError, true},
		{"not found is not validation", ErrAgentNotFound, IsValidationError, false},
		{"internal", ErrDatabaseError, IsInternalError, true},
		{"external", ErrProviderError, IsExternalError, true},
		{"internal is not external", ErrInternal, IsExternalError, false},
		{"unavailable", ErrCacheUnavailable, IsUnavailableError, true},
		{"regular error", errors.New("regular"), IsUnavailableError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.predicate(tt.err))
		})
	}
}

func TestGetErrorType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"not found", ErrAgentNotFound, ErrorTypeNotFound},
		{"validation", ErrInvalidInput, ErrorTypeValidation},
		{"unavailable", ErrCacheUnavailable, ErrorTypeUnavailable},
		{"regular error", errors.New("regular"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetErrorType(tt.err))
		})
	}
}

func TestGetErrorDetails(t *testing.T) {
	err := NewDomainError(ErrorTypeValidation, "validation error", nil)
	err.WithDetail("field", "top_k").WithDetail("reason", "must be positive")

	details := GetErrorDetails(err)
	require.NotNil(t, details)
	assert.Equal(t, "top_k", details["field"])
	assert.Equal(t, "must be positive", details["reason"])

	assert.Nil(t, GetErrorDetails(errors.New("regular error")))
}

func TestWrapHelpers(t *testing.T) {
	baseErr := errors.New("connection refused")

	tests := []struct {
		name    string
		wrapped error
		want    ErrorType
	}{
		{"wrap error", WrapError(ErrorTypeNotFound, "missing", baseErr), ErrorTypeNotFound},
		{"wrap internal", WrapInternal("query failed", baseErr), ErrorTypeInternal},
		{"wrap external", WrapExternal("provider request failed", baseErr), ErrorTypeExternal},
		{"wrap unavailable", WrapUnavailable("redis down", baseErr), ErrorTypeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetErrorType(tt.wrapped))
			assert.Equal(t, baseErr, errors.Unwrap(tt.wrapped))
			assert.ErrorIs(t, tt.wrapped, baseErr)
		})
	}
}
