// Package apperr defines the application error taxonomy shared across
// ingestion, retrieval and chat.
package apperr

import (
	"errors"
	"net/http"
)

// Sentinel errors. Callers wrap these with fmt.Errorf("...: %w", err) and
// the API layer maps them to HTTP statuses with Status.
var (
	// ErrUnauthenticated means the request carried no valid credential.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrForbidden means the user is valid but lacks the required role.
	ErrForbidden = errors.New("permission denied")

	// ErrValidation means the request input is malformed or too small.
	ErrValidation = errors.New("invalid input")

	// ErrRetrieval means the embed service or chunk store query failed.
	// Distinct from an empty retrieval result, which is not an error.
	ErrRetrieval = errors.New("retrieval failed")

	// ErrRateLimited is the upstream completion service's 429.
	ErrRateLimited = errors.New("Rate limit exceeded. Please wait a moment and try again.")

	// ErrQuotaExceeded is the upstream completion service's 402.
	ErrQuotaExceeded = errors.New("AI usage limit reached. Please contact your administrator.")

	// ErrUpstream is any other non-2xx from the model providers.
	ErrUpstream = errors.New("upstream service error")

	// ErrPersistence means a storage write failed.
	ErrPersistence = errors.New("storage failure")

	// ErrNotFound means the requested resource does not exist or is not
	// visible to the caller.
	ErrNotFound = errors.New("not found")
)

// Status maps an error to the HTTP status code the API layer should use.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrQuotaExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, ErrRetrieval), errors.Is(err, ErrPersistence):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Code maps an error to a stable machine-readable error code.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMIT_EXCEEDED"
	case errors.Is(err, ErrQuotaExceeded):
		return "QUOTA_EXCEEDED"
	case errors.Is(err, ErrUpstream):
		return "UPSTREAM_ERROR"
	case errors.Is(err, ErrRetrieval):
		return "RETRIEVAL_ERROR"
	case errors.Is(err, ErrPersistence):
		return "STORAGE_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}
