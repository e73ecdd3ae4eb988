package errors

import (
	"fmt"
	"time"
)

// ErrorCode represents a Herald error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrRateLimited    ErrorCode = "RATE_LIMITED"    // 429
	ErrUnavailable    ErrorCode = "UNAVAILABLE"     // 503
	ErrConfig         ErrorCode = "CONFIG"          // 500
	ErrInternal       ErrorCode = "INTERNAL"        // 500
)

// HeraldError represents a structured error with code, status, and details.
type HeraldError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *HeraldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *HeraldError {
	return &HeraldError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing record.
func NewNotFound(identifier string) *HeraldError {
	return &HeraldError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("record not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewRateLimited creates a 429 error carrying the platform's resume estimate.
// resumeAt may be zero when the platform did not say when to come back.
func NewRateLimited(msg string, resumeAt time.Time) *HeraldError {
	details := map[string]any{}
	if !resumeAt.IsZero() {
		details["resume_at"] = resumeAt.UTC().Format(time.RFC3339)
	}
	return &HeraldError{
		Code:    ErrRateLimited,
		Status:  429,
		Message: msg,
		Details: details,
	}
}

// NewUnavailable creates a 503 error for an unreachable external collaborator.
func NewUnavailable(collaborator string, err error) *HeraldError {
	msg := fmt.Sprintf("%s unavailable", collaborator)
	if err != nil {
		msg = fmt.Sprintf("%s unavailable: %v", collaborator, err)
	}
	return &HeraldError{
		Code:    ErrUnavailable,
		Status:  503,
		Message: msg,
		Details: map[string]any{"collaborator": collaborator},
	}
}

// NewConfig creates an error for missing or malformed configuration.
func NewConfig(msg string) *HeraldError {
	return &HeraldError{
		Code:    ErrConfig,
		Status:  500,
		Message: msg,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *HeraldError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &HeraldError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is a HeraldError with the given code.
func Is(err error, code ErrorCode) bool {
	if hErr, ok := err.(*HeraldError); ok {
		return hErr.Code == code
	}
	return false
}

// ResumeAt extracts the resume estimate from a RATE_LIMITED error.
// Returns the zero time when the error carries none.
func ResumeAt(err error) time.Time {
	hErr, ok := err.(*HeraldError)
	if !ok || hErr.Code != ErrRateLimited || hErr.Details == nil {
		return time.Time{}
	}
	s, ok := hErr.Details["resume_at"].(string)
	if !ok {
		return time.Time{}
	}
	t, parseErr := time.Parse(time.RFC3339, s)
	if parseErr != nil {
		return time.Time{}
	}
	return t
}
