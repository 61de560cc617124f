package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/golumen/pkg/jobs"
	"github.com/3leaps/golumen/pkg/library"
)

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) HTTPErrorResponse {
	t.Helper()
	var resp HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestWriteError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	rec.Header().Set("X-Request-ID", "req-42")

	WriteError(rec, req, http.StatusNotFound, CodeNotFound, "no such job", map[string]interface{}{
		"job_id": "abc",
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decodeEnvelope(t, rec)
	assert.Equal(t, CodeNotFound, resp.Error.Code)
	assert.Equal(t, "no such job", resp.Error.Message)
	assert.Equal(t, "req-42", resp.Error.RequestID)
	assert.Equal(t, "abc", resp.Error.Details["job_id"])
}

func TestRespondWithError_Mapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"job not found", jobs.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{"wrapped job not found", fmt.Errorf("lookup: %w", jobs.ErrNotFound), http.StatusNotFound, CodeNotFound},
		{"file not found", library.ErrFileNotFound, http.StatusNotFound, CodeNotFound},
		{"result not found", library.ErrResultNotFound, http.StatusNotFound, CodeNotFound},
		{"invalid state", jobs.ErrInvalidState, http.StatusConflict, CodeInvalidState},
		{"validation", Validationf("kind is required"), http.StatusBadRequest, CodeValidationError},
		{"unknown error", assert.AnError, http.StatusInternalServerError, CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			rec := httptest.NewRecorder()

			RespondWithError(rec, req, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decodeEnvelope(t, rec)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestRespondWithError_InternalHidesMessage(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, fmt.Errorf("connection string with secrets"))

	resp := decodeEnvelope(t, rec)
	assert.Equal(t, "internal error", resp.Error.Message)
	assert.NotContains(t, resp.Error.Message, "secrets")
}

func TestValidationErrorDetails(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/test", nil)
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, &ValidationError{
		Message: "invalid input",
		Details: map[string]interface{}{"field": "kind"},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.Equal(t, "kind", resp.Error.Details["field"])
}
