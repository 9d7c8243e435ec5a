package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingOpenID    ErrorCode = "validation_missing_openid"
	ErrCodeValidationMissingTaskID    ErrorCode = "validation_missing_task_id"
	ErrCodeValidationMissingCode      ErrorCode = "validation_missing_code"
	ErrCodeValidationInvalidDate      ErrorCode = "validation_invalid_date"
	ErrCodeValidationMissingField     ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidTimezone  ErrorCode = "validation_invalid_timezone"
	ErrCodeValidationTaskNotPending   ErrorCode = "validation_task_not_pending"
	ErrCodeValidationTaskNotCompleted ErrorCode = "validation_task_not_completed"

	// Auth (401)
	ErrCodeAuthWeChatCodeInvalid ErrorCode = "auth_wechat_code_invalid"

	// Permission (403)
	ErrCodePermissionTaskOwner ErrorCode = "permission_task_owner_mismatch"

	// Not Found (404)
	ErrCodeNotFoundTask        ErrorCode = "not_found_task"
	ErrCodeNotFoundUser        ErrorCode = "not_found_user"
	ErrCodeNotFoundPendingTask ErrorCode = "not_found_pending_task"

	// Conflict (409)
	ErrCodeConflictTaskExists ErrorCode = "conflict_task_exists"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamWeChat     ErrorCode = "upstream_wechat_unavailable"
	ErrCodeUpstreamRateLimit  ErrorCode = "upstream_rate_limited"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case strings.HasPrefix(s, "permission_"):
		return http.StatusForbidden // 403
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the service.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
