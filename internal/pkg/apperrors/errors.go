package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrAuthFailed          ErrorType = "AUTH_FAILED"
	ErrTransport           ErrorType = "TRANSPORT_ERROR"
	ErrRateLimited         ErrorType = "RATE_LIMITED"
	ErrBusinessReject      ErrorType = "BUSINESS_REJECT"
	ErrInsufficientBalance ErrorType = "INSUFFICIENT_BALANCE"
	ErrNoHealthyVenue      ErrorType = "NO_HEALTHY_VENUE"
	ErrCircuitOpen         ErrorType = "CIRCUIT_OPEN"
	ErrInvalidRequest      ErrorType = "INVALID_REQUEST"
	ErrNotFound            ErrorType = "NOT_FOUND"
	ErrInternal            ErrorType = "INTERNAL_ERROR"
	ErrUpstream            ErrorType = "UPSTREAM_ERROR"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func Newf(errType ErrorType, format string, args ...any) *AppError {
	return New(errType, fmt.Sprintf(format, args...), nil)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

// Is reports whether err carries the given ErrorType.
func Is(err error, t ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

// Retriable reports whether an adapter call failing with err may be
// retried. Only transport failures, 5xx upstream errors, and venue rate
// limiting qualify; business and auth errors never do.
func Retriable(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Type {
	case ErrTransport, ErrRateLimited, ErrUpstream:
		return true
	}
	return false
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrBusinessReject, ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrAuthFailed:
		return http.StatusUnauthorized
	case ErrInsufficientBalance:
		return http.StatusUnprocessableEntity
	case ErrNotFound:
		return http.StatusNotFound
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrNoHealthyVenue, ErrCircuitOpen:
		return http.StatusServiceUnavailable
	case ErrTransport, ErrUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrInsufficientBalance:
		return "Top up or deallocate funds for this broker/customer before retrying."
	case ErrNoHealthyVenue:
		return "All venues are degraded or down; retry once a venue recovers."
	case ErrCircuitOpen:
		return "The venue circuit breaker is open; retry after the cooldown."
	case ErrRateLimited:
		return "Retry after backing off."
	case ErrAuthFailed:
		return "Check venue API keys and signing credentials."
	case ErrBusinessReject:
		return "The venue declined the order; check order parameters."
	default:
		return ""
	}
}
