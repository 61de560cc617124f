// Package errors defines the JSON error envelope returned by the HTTP API
// and the mapping from domain errors to HTTP status codes.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/3leaps/golumen/pkg/jobs"
	"github.com/3leaps/golumen/pkg/library"
	"github.com/3leaps/golumen/pkg/source"
)

// Stable error codes carried in the envelope. Clients match on these, not
// on messages.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeValidationError    = "VALIDATION_ERROR"
	CodeInvalidState       = "INVALID_STATE"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// HTTPErrorDetail is the inner error object of the envelope.
type HTTPErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HTTPErrorResponse is the envelope every non-2xx API response carries.
type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

// ValidationError is a client-input error. It maps to 400 VALIDATION_ERROR.
type ValidationError struct {
	Message string
	Details map[string]interface{}
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validationf builds a ValidationError with a formatted message.
func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// WriteError writes the error envelope with the given status. The request
// id is taken from the X-Request-ID response header, which the request-id
// middleware populates.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	resp := HTTPErrorResponse{
		Error: HTTPErrorDetail{
			Code:      code,
			Message:   message,
			RequestID: w.Header().Get("X-Request-ID"),
			Details:   details,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// RespondWithError maps a domain error to an envelope response.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		WriteError(w, r, http.StatusBadRequest, CodeValidationError, verr.Message, verr.Details)
	case errors.Is(err, jobs.ErrNotFound),
		errors.Is(err, library.ErrFileNotFound),
		errors.Is(err, library.ErrResultNotFound),
		source.IsNotFound(err):
		WriteError(w, r, http.StatusNotFound, CodeNotFound, err.Error(), nil)
	case errors.Is(err, jobs.ErrInvalidState):
		WriteError(w, r, http.StatusConflict, CodeInvalidState, err.Error(), nil)
	case source.IsTransient(err):
		WriteError(w, r, http.StatusServiceUnavailable, CodeServiceUnavailable, err.Error(), nil)
	default:
		WriteError(w, r, http.StatusInternalServerError, CodeInternalError, "internal error", nil)
	}
}
