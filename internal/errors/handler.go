package errors

import (
	"encoding/json"
	"net/http"

	"github.com/zsiec/lookout/internal/logger"
)

// ErrorResponse is the JSON body written for every failed control request.
type ErrorResponse struct {
	Error    ErrorDetails `json:"error"`
	TraceID  string       `json:"trace_id,omitempty"`
	Metadata interface{}  `json:"metadata,omitempty"`
}

type ErrorDetails struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorHandler turns errors returned by the control API into JSON responses.
type ErrorHandler struct {
	log logger.Logger
}

func NewErrorHandler(log logger.Logger) *ErrorHandler {
	return &ErrorHandler{log: log.WithField("component", "http_errors")}
}

// HandleError writes err as an ErrorResponse. Errors that are not an
// *AppError anywhere in their chain are reported as internal errors.
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := GetAppError(err)
	if !ok {
		appErr = WrapInternalError(err, "An unexpected error occurred")
	}

	traceID := requestTraceID(r)
	entry := h.log.WithFields(map[string]interface{}{
		"error_type": appErr.Type,
		"error_code": appErr.Code,
		"status":     appErr.HTTPStatus,
		"trace_id":   traceID,
		"method":     r.Method,
		"path":       r.URL.Path,
	})
	switch {
	case appErr.HTTPStatus >= http.StatusInternalServerError:
		entry.Error(appErr.Error())
	case appErr.HTTPStatus >= http.StatusBadRequest:
		entry.Warn(appErr.Error())
	default:
		entry.Info(appErr.Error())
	}

	if appErr.Type == ErrorTypeRateLimited {
		w.Header().Set("Retry-After", "1")
	}

	h.writeJSON(w, appErr.HTTPStatus, ErrorResponse{
		Error: ErrorDetails{
			Type:    appErr.Type,
			Message: appErr.Message,
			Code:    appErr.Code,
			Details: appErr.Details,
		},
		TraceID: traceID,
	})
}

func (h *ErrorHandler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	h.HandleError(w, r, NewNotFoundError("endpoint"))
}

func (h *ErrorHandler) HandleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.HandleError(w, r, New(ErrorTypeValidation, "Method not allowed", http.StatusMethodNotAllowed))
}

// HandlePanic reports a recovered handler panic as a 500.
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	h.log.WithFields(map[string]interface{}{
		"panic":    recovered,
		"method":   r.Method,
		"path":     r.URL.Path,
		"trace_id": requestTraceID(r),
	}).Error("Recovered panic in control handler")

	h.HandleError(w, r, NewInternalError("An unexpected error occurred"))
}

// Middleware recovers panics from next and answers them with HandlePanic.
func (h *ErrorHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				h.HandlePanic(w, r, recovered)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (h *ErrorHandler) writeJSON(w http.ResponseWriter, status int, body ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.WithError(err).Error("Failed to encode error response")
	}
}

// requestTraceID prefers the ID assigned by the request-ID middleware and
// falls back to the inbound header.
func requestTraceID(r *http.Request) string {
	if id := logger.GetRequestID(r.Context()); id != "" {
		return id
	}
	return r.Header.Get(logger.RequestIDHeader)
}
