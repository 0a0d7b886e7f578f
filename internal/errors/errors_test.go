package errors_test

import (
	"errors"
	"fmt"
	"testing"

	appErrors "github.com/relialab/docpipe/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected appErrors.ErrorCode
	}{
		{"invalid envelope", appErrors.NewInvalidEnvelope("no id"), appErrors.ErrCodeInvalidEnvelope},
		{"business rejection", appErrors.NewBusinessRejection("r", "m"), appErrors.ErrCodeBusinessRejection},
		{"not found", appErrors.NewNotFound("gone"), appErrors.ErrCodeNotFound},
		{"retryable", appErrors.NewRetryable("db", errors.New("x")), appErrors.ErrCodeRetryable},
		{"internal", appErrors.NewInternal("boom"), appErrors.ErrCodeInternal},
		{"plain error defaults to retryable", errors.New("x"), appErrors.ErrCodeRetryable},
		{"wrapped app error", fmt.Errorf("outer: %w", appErrors.NewInvalidEnvelope("no id")), appErrors.ErrCodeInvalidEnvelope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, appErrors.CodeOf(tt.err))
		})
	}
}

func TestBusinessRejectionCarriesRule(t *testing.T) {
	err := appErrors.NewBusinessRejection("name.max_length", "name too long")

	require.True(t, appErrors.IsBusinessRejection(err))
	require.NotNil(t, err.Err)
	assert.Equal(t, "rule name.max_length", err.Err.Error())
	assert.Contains(t, err.Error(), "BUSINESS_REJECTION")
	assert.Contains(t, err.Error(), "name too long")
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("conn refused")
	err := appErrors.NewRetryable("db down", inner)

	assert.ErrorIs(t, err, inner)
}

func TestClassifiers(t *testing.T) {
	assert.True(t, appErrors.IsInvalidEnvelope(appErrors.NewInvalidEnvelope("x")))
	assert.False(t, appErrors.IsInvalidEnvelope(appErrors.NewRetryable("x", nil)))
	assert.False(t, appErrors.IsBusinessRejection(nil))
}
