package types

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures so boundary layers can map them without
// inspecting message text. Errors that carry a code are re-thrown unchanged
// through pipeline boundaries; everything else gets wrapped as ErrInternal.
type ErrorCode string

const (
	ErrValidation ErrorCode = "VALIDATION"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrTool       ErrorCode = "TOOL_EXECUTION"
	ErrTransport  ErrorCode = "TRANSPORT"
	ErrInternal   ErrorCode = "INTERNAL"
)

type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewValidationError(msg string) error {
	return &AppError{Code: ErrValidation, Message: msg}
}

func NewNotFoundError(entity, id string) error {
	return &AppError{Code: ErrNotFound, Message: fmt.Sprintf("%s %q not found", entity, id)}
}

func NewToolError(tool string, err error) error {
	return &AppError{Code: ErrTool, Message: fmt.Sprintf("tool %s failed", tool), Err: err}
}

func NewTransportError(msg string, err error) error {
	return &AppError{Code: ErrTransport, Message: msg, Err: err}
}

// WrapInternal returns err unchanged when it already carries a code, otherwise
// wraps it as a generic stage failure so internals do not leak to callers.
func WrapInternal(stage string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	return &AppError{Code: ErrInternal, Message: stage + " failed", Err: err}
}

// CodeOf extracts the error code, defaulting to ErrInternal for plain errors.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}
