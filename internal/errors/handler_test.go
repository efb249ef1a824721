package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zsiec/lookout/internal/logger"
)

func TestHandleError(t *testing.T) {
	handler := NewErrorHandler(logger.NewNullLogger())

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedType   ErrorType
	}{
		{
			name:           "validation",
			err:            NewValidationError("siteId is required"),
			expectedStatus: http.StatusBadRequest,
			expectedType:   ErrorTypeValidation,
		},
		{
			name:           "standard error",
			err:            errors.New("something went wrong"),
			expectedStatus: http.StatusInternalServerError,
			expectedType:   ErrorTypeInternal,
		},
		{
			name:           "wrapped conflict",
			err:            fmt.Errorf("seek: %w", NewConflictError("live session cannot seek in place")),
			expectedStatus: http.StatusConflict,
			expectedType:   ErrorTypeConflict,
		},
		{
			name:           "unsupported codec",
			err:            NewUnsupportedCodecError("video/x-unknown"),
			expectedStatus: http.StatusUnprocessableEntity,
			expectedType:   ErrorTypeUnsupportedCodec,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/state", nil)
			req.Header.Set("X-Request-ID", "test-123")
			rr := httptest.NewRecorder()

			handler.HandleError(rr, req, tt.err)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			var response ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))

			assert.Equal(t, tt.expectedType, response.Error.Type)
			assert.NotEmpty(t, response.Error.Message)
			assert.Equal(t, "test-123", response.TraceID)
		})
	}
}

func TestHandleNotFound(t *testing.T) {
	handler := NewErrorHandler(logger.NewNullLogger())

	rr := httptest.NewRecorder()
	handler.HandleNotFound(rr, httptest.NewRequest("GET", "/nonexistent", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, ErrorTypeNotFound, response.Error.Type)
	assert.Contains(t, response.Error.Message, "endpoint")
}

func TestHandleMethodNotAllowed(t *testing.T) {
	handler := NewErrorHandler(logger.NewNullLogger())

	rr := httptest.NewRecorder()
	handler.HandleMethodNotAllowed(rr, httptest.NewRequest("DELETE", "/api/v1/state", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestMiddlewareRecoversPanic(t *testing.T) {
	handler := NewErrorHandler(logger.NewNullLogger())

	protected := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("middleware test panic")
	}))

	rr := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		protected.ServeHTTP(rr, httptest.NewRequest("GET", "/test", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestHandleErrorRateLimitedSetsRetryAfter(t *testing.T) {
	handler := NewErrorHandler(logger.NewNullLogger())

	rr := httptest.NewRecorder()
	handler.HandleError(rr, httptest.NewRequest("POST", "/api/v1/pause", nil), NewRateLimitError())

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
}
