package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType represents the type of error.
type ErrorType string

const (
	// Control API errors.
	ErrorTypeValidation  ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound    ErrorType = "NOT_FOUND"
	ErrorTypeInternal    ErrorType = "INTERNAL_ERROR"
	ErrorTypeConflict    ErrorType = "CONFLICT"
	ErrorTypeServiceDown ErrorType = "SERVICE_DOWN"
	ErrorTypeRateLimited ErrorType = "RATE_LIMITED"

	// Session failures.
	ErrorTypeNegotiation      ErrorType = "NEGOTIATION_FAILED"
	ErrorTypeTransport        ErrorType = "TRANSPORT_FAILED"
	ErrorTypeProtocol         ErrorType = "PROTOCOL_ERROR"
	ErrorTypeUnsupportedCodec ErrorType = "UNSUPPORTED_CODEC"
	ErrorTypeStalled          ErrorType = "STALLED"
	ErrorTypeTimeout          ErrorType = "TIMEOUT"
	ErrorTypeRetriesExhausted ErrorType = "RETRIES_EXHAUSTED"
)

// AppError represents an application error with additional context.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
	Err        error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithCode adds an error code.
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

func New(errType ErrorType, message string, httpStatus int) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

func Wrap(err error, errType ErrorType, message string, httpStatus int) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewInternalError(message string) *AppError {
	return New(ErrorTypeInternal, message, http.StatusInternalServerError)
}

func WrapInternalError(err error, message string) *AppError {
	return Wrap(err, ErrorTypeInternal, message, http.StatusInternalServerError)
}

func NewConflictError(message string) *AppError {
	return New(ErrorTypeConflict, message, http.StatusConflict)
}

func NewServiceDownError(service string) *AppError {
	return New(ErrorTypeServiceDown, fmt.Sprintf("%s service is currently unavailable", service), http.StatusServiceUnavailable)
}

func NewRateLimitError() *AppError {
	return New(ErrorTypeRateLimited, "too many requests", http.StatusTooManyRequests)
}

// Session failure constructors. HTTP status reflects how the control API
// reports a session that ended with this failure.

func NewNegotiationError(err error) *AppError {
	return Wrap(err, ErrorTypeNegotiation, "endpoint negotiation failed", http.StatusBadGateway)
}

func NewTransportError(err error) *AppError {
	return Wrap(err, ErrorTypeTransport, "transport failed", http.StatusBadGateway)
}

func NewProtocolError(message string) *AppError {
	return New(ErrorTypeProtocol, message, http.StatusBadGateway)
}

func NewUnsupportedCodecError(codec string) *AppError {
	return New(ErrorTypeUnsupportedCodec, fmt.Sprintf("unsupported codec %q", codec), http.StatusUnprocessableEntity).
		WithDetails(map[string]interface{}{"codec": codec})
}

func NewStallError(message string) *AppError {
	return New(ErrorTypeStalled, message, http.StatusGatewayTimeout)
}

func NewTimeoutError(message string) *AppError {
	return New(ErrorTypeTimeout, message, http.StatusGatewayTimeout)
}

func NewRetriesExhaustedError(attempts int, last error) *AppError {
	return Wrap(last, ErrorTypeRetriesExhausted, fmt.Sprintf("gave up after %d attempts", attempts), http.StatusServiceUnavailable).
		WithDetails(map[string]interface{}{"attempts": attempts})
}

// IsAppError checks if an error is, or wraps, an AppError.
func IsAppError(err error) bool {
	_, ok := GetAppError(err)
	return ok
}

// GetAppError extracts the first AppError in err's chain.
func GetAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// TypeOf returns the ErrorType of err, or ErrorTypeInternal for foreign errors.
func TypeOf(err error) ErrorType {
	if appErr, ok := GetAppError(err); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// IsRetryable reports whether a session failure should enter recovery.
// Codec, timeout and exhausted-budget failures are terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch TypeOf(err) {
	case ErrorTypeNegotiation, ErrorTypeTransport, ErrorTypeProtocol, ErrorTypeStalled:
		return true
	default:
		return false
	}
}
