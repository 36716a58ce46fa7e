package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers and repositories MUST use these constants
// instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidJSON  ErrorCode = "validation_invalid_json"
	ErrCodeValidationFailed       ErrorCode = "validation_failed"
	ErrCodeMalformedPayload       ErrorCode = "validation_malformed_payload"

	// Signature verification (400). A mismatch is terminal for the request:
	// it is either an attack or a misconfiguration, never retried.
	ErrCodeSignatureMismatch ErrorCode = "signature_mismatch"

	// Not Found (404)
	ErrCodeNotFoundCustomer ErrorCode = "not_found_customer"
	ErrCodeNotFoundPlan     ErrorCode = "not_found_plan"
	ErrCodeNotFoundPayment  ErrorCode = "not_found_payment"

	// Conflict (409)
	ErrCodeConflictDuplicatePayment ErrorCode = "conflict_duplicate_payment"
	ErrCodeConflictConcurrent       ErrorCode = "conflict_concurrent_modification"
	ErrCodeConflictActivePlan       ErrorCode = "conflict_active_plan"

	// Payment-specific (402)
	ErrCodePaymentNotCaptured ErrorCode = "payment_not_captured"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamGateway    ErrorCode = "upstream_gateway_unavailable"
	ErrCodeUpstreamRateLimit  ErrorCode = "upstream_rate_limited"

	// Configuration (500) -- missing secrets fail fast, never silently pass.
	ErrCodeConfigMissing ErrorCode = "config_missing_required_value"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case c == ErrCodeSignatureMismatch:
		// Gateway contract: a forged webhook is answered 400, not 401.
		return http.StatusBadRequest
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case c == ErrCodePaymentNotCaptured:
		return http.StatusPaymentRequired
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type. All domain and handler
// errors are expressed as AppError to enable consistent error formatting,
// HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
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

// NewAppError constructs an AppError wrapping an optional cause.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsRetryable reports whether the error represents a transient condition the
// gateway should retry by re-delivering the webhook. Signature and validation
// failures are terminal; store and upstream outages are not.
func (e *AppError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeInternalDB, ErrCodeUpstreamGateway, ErrCodeUpstreamRateLimit, ErrCodeConflictConcurrent:
		return true
	}
	return false
}
