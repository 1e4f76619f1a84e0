// Package handlers implements the HTTP handlers for the answer API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rowsage/rowsage/internal/apperr"
)

// APIError is the error object inside every JSON error body.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

// Error codes exposed to API clients.
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeRateLimit          = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// ErrorResponse wraps APIError so every error body has the same shape.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// RespondJSON writes data as a JSON body with the given status.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Status already sent; nothing useful left to do.
			http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		}
	}
}

// RespondError writes a structured JSON error body.
func RespondError(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, ErrorResponse{
		Error: &APIError{Code: code, Message: message},
	})
}

// RespondNoContent answers 204 with an empty body.
func RespondNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// RespondBadRequest answers 400 with the given message.
func RespondBadRequest(w http.ResponseWriter, message string) {
	RespondError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// RespondInternalError answers 500; an empty message gets the generic
// text.
func RespondInternalError(w http.ResponseWriter, message string) {
	if message == "" {
		message = "An internal error occurred"
	}
	RespondError(w, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// RespondServiceUnavailable answers 503; an empty message gets the
// generic text.
func RespondServiceUnavailable(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Service temporarily unavailable"
	}
	RespondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, message)
}

// RespondAppError maps an application error to its HTTP status and API
// error code.
func RespondAppError(w http.ResponseWriter, err error) {
	RespondError(w, apperr.Status(err), apperr.Code(err), userMessage(err))
}

// userMessage returns the client-facing message for an error.
// Validation, not-found, and upstream messages pass through so the
// client sees what went wrong; everything else gets a generic message.
func userMessage(err error) string {
	switch {
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrNotFound):
		return err.Error()
	case errors.Is(err, apperr.ErrRateLimited):
		return apperr.ErrRateLimited.Error()
	case errors.Is(err, apperr.ErrQuotaExceeded):
		return apperr.ErrQuotaExceeded.Error()
	case errors.Is(err, apperr.ErrUnauthenticated):
		return "Authentication required"
	case errors.Is(err, apperr.ErrForbidden):
		return "Access denied"
	case errors.Is(err, apperr.ErrUpstream):
		// Carries the upstream status and body as mapped by llm.MapError.
		return err.Error()
	case errors.Is(err, apperr.ErrRetrieval):
		return "Failed to search the knowledge base. Please try again."
	default:
		return "An internal error occurred"
	}
}
