package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents different error types crossing the handler boundary.
type ErrorCode string

const (
	// ErrCodeInvalidEnvelope: missing event id or structurally broken payload.
	// Retries will fail identically; the message belongs in the DLQ.
	ErrCodeInvalidEnvelope ErrorCode = "INVALID_ENVELOPE"

	// ErrCodeBusinessRejection: payload is valid but a stage rule says no.
	// Terminal: the handler records the event and emits a rejection instead of retrying.
	ErrCodeBusinessRejection ErrorCode = "BUSINESS_REJECTION"

	ErrCodeNotFound  ErrorCode = "NOT_FOUND"
	ErrCodeRetryable ErrorCode = "RETRYABLE_ERROR"
	ErrCodeInternal  ErrorCode = "INTERNAL_ERROR"
)

// AppError represents an application error
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewInvalidEnvelope(message string) *AppError {
	return &AppError{Code: ErrCodeInvalidEnvelope, Message: message}
}

// NewBusinessRejection carries the failed rule so the rejection event can name it.
func NewBusinessRejection(rule, message string) *AppError {
	return &AppError{Code: ErrCodeBusinessRejection, Message: message, Err: fmt.Errorf("rule %s", rule)}
}

func NewNotFound(message string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: message}
}

func NewRetryable(message string, err error) *AppError {
	return &AppError{Code: ErrCodeRetryable, Message: message, Err: err}
}

func NewInternal(message string) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message}
}

// CodeOf extracts the ErrorCode, defaulting to retryable for unknown errors.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeRetryable
}

// IsBusinessRejection reports whether err is a terminal, payload-determined "no".
func IsBusinessRejection(err error) bool {
	return CodeOf(err) == ErrCodeBusinessRejection
}

// IsInvalidEnvelope reports whether err marks a message that can never be decoded.
func IsInvalidEnvelope(err error) bool {
	return CodeOf(err) == ErrCodeInvalidEnvelope
}
