package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/3leaps/golumen/internal/errors"
	"github.com/3leaps/golumen/internal/observability"
)

// ErrorResponse is the envelope error payloads decode into.
type ErrorResponse = apperrors.HTTPErrorResponse

// Recovery converts a downstream panic into a 500 INTERNAL_ERROR response
// instead of tearing down the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				observability.CLILogger.Error("Recovered from panic",
					zap.Any("panic", rec),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("request_id", GetRequestID(r)))
				writeErrorResponse(w, r, http.StatusInternalServerError,
					apperrors.CodeInternalError, fmt.Sprintf("panic: %v", rec), nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is the panic recovery middleware under its chain-facing name.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}

func writeErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	var resp ErrorResponse
	resp.Error.Code = code
	resp.Error.Message = message
	resp.Error.RequestID = GetRequestID(r)
	resp.Error.Details = details

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
