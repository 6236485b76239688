package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Auth errors
	CodeUnauthorized = "UNAUTHORIZED"
	CodeSessionGone  = "SESSION_EXPIRED"
	CodeOAuthFailed  = "OAUTH_FAILED"
	CodeTokenExpired = "TOKEN_EXPIRED"

	// Validation errors
	CodeBadRequest    = "BAD_REQUEST"
	CodeInvalidInput  = "INVALID_INPUT"
	CodeOutsideWindow = "OUTSIDE_EXPORT_WINDOW"

	// Resource errors
	CodeNotFound        = "NOT_FOUND"
	CodeJobNotCompleted = "JOB_NOT_COMPLETED"

	// Remote mail API errors
	CodeRateLimited   = "RATE_LIMITED"
	CodeQuotaExceeded = "QUOTA_EXCEEDED"
	CodeExternalError = "EXTERNAL_ERROR"

	// Internal errors
	CodeInternalError = "INTERNAL_ERROR"
	CodeConfigError   = "CONFIG_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// HTTPStatus returns the HTTP status code
func (e *AppError) HTTPStatus() int {
	return e.Status
}

// Constructor functions
func New(code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Auth errors
func Unauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
		Status:  http.StatusUnauthorized,
	}
}

func SessionExpired() *AppError {
	return &AppError{
		Code:    CodeSessionGone,
		Message: "session expired, sign in again",
		Status:  http.StatusUnauthorized,
	}
}

func OAuthFailed(err error) *AppError {
	return &AppError{
		Code:    CodeOAuthFailed,
		Message: "OAuth flow failed",
		Status:  http.StatusBadGateway,
		Err:     err,
	}
}

func TokenExpired(err error) *AppError {
	return &AppError{
		Code:    CodeTokenExpired,
		Message: "credential expired, re-authentication required",
		Status:  http.StatusUnauthorized,
		Err:     err,
	}
}

// Validation errors
func BadRequest(message string) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func InvalidInput(field, reason string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: fmt.Sprintf("invalid input for '%s': %s", field, reason),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

// OutsideWindow rejects months outside the allowed export range.
func OutsideWindow(message string) *AppError {
	return &AppError{
		Code:    CodeOutsideWindow,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

// Resource errors
func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

func JobNotCompleted(jobID string) *AppError {
	return &AppError{
		Code:    CodeJobNotCompleted,
		Message: "export job is not completed",
		Status:  http.StatusBadRequest,
		Details: map[string]any{"job_id": jobID},
	}
}

// Remote mail API errors
func RateLimited(err error) *AppError {
	return &AppError{
		Code:    CodeRateLimited,
		Message: "mail API rate limit exceeded",
		Status:  http.StatusTooManyRequests,
		Err:     err,
	}
}

func QuotaExceeded(err error) *AppError {
	return &AppError{
		Code:    CodeQuotaExceeded,
		Message: "mail API quota exceeded, try again later",
		Status:  http.StatusTooManyRequests,
		Err:     err,
	}
}

func ExternalError(service string, err error) *AppError {
	return &AppError{
		Code:    CodeExternalError,
		Message: fmt.Sprintf("external service error: %s", service),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

// Internal errors
func Internal(message string) *AppError {
	if message == "" {
		message = "internal server error"
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func InternalWithError(err error) *AppError {
	return &AppError{
		Code:    CodeInternalError,
		Message: "internal server error",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func ConfigError(message string) *AppError {
	return &AppError{
		Code:    CodeConfigError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

// Common error instances
var (
	ErrNotFound     = NotFound("resource")
	ErrUnauthorized = Unauthorized("")
	ErrBadRequest   = BadRequest("bad request")
	ErrInternal     = Internal("")
)

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalWithError(err)
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
