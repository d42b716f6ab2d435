package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"sfugate/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	assert.Equal(t, "INVALID_INPUT: test error", err.Error())
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("original error")
	err := WrapError(originalErr, ErrCodeInternal, "wrapped error", 500)

	assert.Equal(t, originalErr, err.Cause)
	assert.Contains(t, err.Error(), "original error")
	assert.ErrorIs(t, err, originalErr)
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	err.WithContext("field", "value").WithContext("count", 42)

	assert.Equal(t, "value", err.Context["field"])
	assert.Equal(t, 42, err.Context["count"])
}

func TestGetAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", 400)
	assert.Same(t, appErr, GetAppError(appErr))
	assert.Same(t, appErr, GetAppError(fmt.Errorf("outer: %w", appErr)))
	assert.Nil(t, GetAppError(errors.New("regular error")))
	assert.Nil(t, GetAppError(nil))
}

func TestFromDomain(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
	}{
		{"room", fmt.Errorf("%w: r1", domain.ErrRoomNotFound), ErrCodeNotFound},
		{"peer", domain.ErrPeerNotFound, ErrCodeNotFound},
		{"transport", fmt.Errorf("%w: t1", domain.ErrTransportNotFound), ErrCodeNotFound},
		{"producer", domain.ErrProducerNotFound, ErrCodeNotFound},
		{"consumer", domain.ErrConsumerNotFound, ErrCodeNotFound},
		{"not joined", domain.ErrNotJoined, ErrCodeNotJoined},
		{"already joined", domain.ErrAlreadyJoined, ErrCodeConflict},
		{"refused", fmt.Errorf("%w: producer p1", domain.ErrCannotConsume), ErrCodeConsumeRefused},
		{"engine", fmt.Errorf("%w: connect: %w", domain.ErrEngineFailure, errors.New("boom")), ErrCodeEngineFailure},
		{"timeout", fmt.Errorf("%w: produce: %w", domain.ErrEngineFailure, context.DeadlineExceeded), ErrCodeTimeout},
		{"unknown", errors.New("boom"), ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := FromDomain(tt.err)
			require.NotNil(t, appErr)
			assert.Equal(t, tt.code, appErr.Code)
			assert.ErrorIs(t, appErr, tt.err)
		})
	}
}

func TestFromDomain_KeepsAppError(t *testing.T) {
	appErr := NewInvalidInputError("bad room id")
	assert.Same(t, appErr, FromDomain(appErr))
	assert.Nil(t, FromDomain(nil))
}
