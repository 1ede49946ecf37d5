package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browseragent/taskqueue/internal/store"
)

func TestRetryManager_ShouldRetry(t *testing.T) {
	m := NewRetryManager(3, 1000, 2, 60000)

	task := &store.Task{RetryCount: 2}
	assert.True(t, m.ShouldRetry(task))

	task.RetryCount = 3
	assert.False(t, m.ShouldRetry(task))
}

func TestRetryManager_ShouldRetry_TaskOverride(t *testing.T) {
	m := NewRetryManager(3, 1000, 2, 60000)
	task := &store.Task{RetryCount: 4, RetryPolicy: &store.RetryPolicy{MaxRetries: 5}}
	assert.True(t, m.ShouldRetry(task))
}

func TestRetryManager_BackoffDuration_Ceiling(t *testing.T) {
	m := NewRetryManager(10, 1000, 2, 5000)

	assert.Equal(t, 1000*time.Millisecond, m.BackoffDuration(&store.Task{RetryCount: 0}))
	assert.Equal(t, 2000*time.Millisecond, m.BackoffDuration(&store.Task{RetryCount: 1}))
	assert.Equal(t, 4000*time.Millisecond, m.BackoffDuration(&store.Task{RetryCount: 2}))
	// 1000*2^3 = 8000, clamped to maxBackoffMs=5000
	assert.Equal(t, 5000*time.Millisecond, m.BackoffDuration(&store.Task{RetryCount: 3}))
}

func TestRetryManager_WaitForRetry_CancelledContext(t *testing.T) {
	m := NewRetryManager(3, 60000, 2, 120000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.WaitForRetry(ctx, &store.Task{RetryCount: 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryManager_WaitForRetry_Completes(t *testing.T) {
	m := NewRetryManager(3, 5, 2, 1000)
	err := m.WaitForRetry(context.Background(), &store.Task{RetryCount: 0})
	require.NoError(t, err)
}
