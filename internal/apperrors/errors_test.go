package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap_UnwrapsToSentinel(t *testing.T) {
	err := Wrap("store.GetTask", "store", "t1", ErrTaskNotFound)
	assert.True(t, errors.Is(err, ErrTaskNotFound))
	assert.Contains(t, err.Error(), "t1")
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(Wrap("op", "store", "x", ErrTaskNotFound)))
	assert.True(t, IsNotFound(Wrap("op", "store", "x", ErrBatchNotFound)))
	assert.False(t, IsNotFound(Wrap("op", "store", "x", ErrValidation)))
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(ErrValidation))
	assert.False(t, IsValidation(ErrTaskNotFound))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(ErrTaskNotFound))
	assert.False(t, IsRetryable(ErrValidation))
	assert.False(t, IsRetryable(ErrCancelled))
	assert.False(t, IsRetryable(ErrInvalidState))
	assert.True(t, IsRetryable(ErrTimeout))
	assert.True(t, IsRetryable(errors.New("some transient network blip")))
}

func TestError_MessageFallback(t *testing.T) {
	err := &Error{Message: "custom message"}
	assert.Equal(t, "custom message", err.Error())
}
