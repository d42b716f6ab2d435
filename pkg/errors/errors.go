package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"sfugate/internal/core/domain"
)

// ErrorCode is the machine readable code carried in error responses.
type ErrorCode string

const (
	ErrCodeInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrCodeConflict       ErrorCode = "CONFLICT"
	ErrCodeNotJoined      ErrorCode = "NOT_JOINED"
	ErrCodeConsumeRefused ErrorCode = "CONSUME_REFUSED"
	ErrCodeEngineFailure  ErrorCode = "ENGINE_FAILURE"
	ErrCodeTimeout        ErrorCode = "TIMEOUT"
	ErrCodeRateLimit      ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrCodeConflict, message, http.StatusConflict)
}

func NewNotJoinedError() *AppError {
	return NewAppError(ErrCodeNotJoined, "join a room first", http.StatusConflict)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// FromDomain maps a session error onto the code a client sees.
// An AppError already in the chain is returned as is.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}

	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return WrapError(err, ErrCodeTimeout, "media engine call timed out", http.StatusGatewayTimeout)
	case stderrors.Is(err, domain.ErrNotJoined):
		return WrapError(err, ErrCodeNotJoined, "join a room first", http.StatusConflict)
	case stderrors.Is(err, domain.ErrAlreadyJoined):
		return WrapError(err, ErrCodeConflict, "already joined a room", http.StatusConflict)
	case stderrors.Is(err, domain.ErrCannotConsume):
		return WrapError(err, ErrCodeConsumeRefused, "cannot consume", http.StatusUnprocessableEntity)
	case stderrors.Is(err, domain.ErrEngineFailure), stderrors.Is(err, domain.ErrWorkerDied):
		return WrapError(err, ErrCodeEngineFailure, "media engine failure", http.StatusBadGateway)
	case stderrors.Is(err, domain.ErrRoomNotFound):
		return WrapError(err, ErrCodeNotFound, "room not found", http.StatusNotFound)
	case stderrors.Is(err, domain.ErrRoomClosed):
		return WrapError(err, ErrCodeConflict, "room closed", http.StatusConflict)
	case stderrors.Is(err, domain.ErrPeerNotFound):
		return WrapError(err, ErrCodeNotFound, "peer not found", http.StatusNotFound)
	case stderrors.Is(err, domain.ErrTransportNotFound):
		return WrapError(err, ErrCodeNotFound, "transport not found", http.StatusNotFound)
	case stderrors.Is(err, domain.ErrProducerNotFound):
		return WrapError(err, ErrCodeNotFound, "producer not found", http.StatusNotFound)
	case stderrors.Is(err, domain.ErrConsumerNotFound):
		return WrapError(err, ErrCodeNotFound, "consumer not found", http.StatusNotFound)
	}
	return WrapError(err, ErrCodeInternal, "internal error", http.StatusInternalServerError)
}
