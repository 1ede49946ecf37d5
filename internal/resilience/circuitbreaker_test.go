package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	cb := New(Config{FailureThreshold: 3, ResetTimeout: time.Minute, HalfOpenMaxCalls: 1})

	for i := 0; i < 3; i++ {
		assert.True(t, cb.Allow())
		cb.Record(errors.New("boom"))
	}
	assert.Equal(t, Open, cb.StateNow())
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenMaxCalls: 1})

	assert.True(t, cb.Allow())
	cb.Record(errors.New("boom"))
	require.Equal(t, Open, cb.StateNow())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, cb.Allow())
	assert.Equal(t, HalfOpen, cb.StateNow())
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenMaxCalls: 1})
	cb.Allow()
	cb.Record(errors.New("boom"))
	time.Sleep(20 * time.Millisecond)

	cb.Allow()
	cb.Record(nil)
	assert.Equal(t, Closed, cb.StateNow())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenMaxCalls: 1})
	cb.Allow()
	cb.Record(errors.New("boom"))
	time.Sleep(20 * time.Millisecond)

	cb.Allow()
	cb.Record(errors.New("still broken"))
	assert.Equal(t, Open, cb.StateNow())
}

func TestCircuitBreaker_Execute_FailsFastWhenOpen(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, ResetTimeout: time.Minute, HalfOpenMaxCalls: 1})
	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })

	err := cb.Execute(context.Background(), func(context.Context) error {
		t.Fatal("fn must not be called while open")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_Execute_SuccessKeepsClosed(t *testing.T) {
	cb := New(DefaultConfig())
	err := cb.Execute(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, Closed, cb.StateNow())
}
