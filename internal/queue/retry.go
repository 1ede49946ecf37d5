package queue

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/browseragent/taskqueue/internal/store"
)

// RetryManager owns the exponential-backoff policy for failed task
// executions. Its shape is grounded on the teacher's resilience.RetryConfig
// (MaxAttempts/InitialDelay/MaxDelay/BackoffFactor). The task-level wait
// (BackoffDuration/WaitForRetry) is computed here by hand; ExponentialBackOff
// builds a cenkalti/backoff/v5 policy from the same parameters for the chat
// client's own connection retries.
type RetryManager struct {
	defaultMaxRetries int
	defaultBackoffMs  int
	backoffMultiplier float64
	maxBackoffMs      int
}

// NewRetryManager builds a RetryManager from queue-wide defaults; a task's
// own RetryPolicy, when set, overrides these per call.
func NewRetryManager(defaultMaxRetries, defaultBackoffMs int, backoffMultiplier float64, maxBackoffMs int) *RetryManager {
	return &RetryManager{
		defaultMaxRetries: defaultMaxRetries,
		defaultBackoffMs:  defaultBackoffMs,
		backoffMultiplier: backoffMultiplier,
		maxBackoffMs:      maxBackoffMs,
	}
}

// policy resolves the effective retry parameters for a task, falling back
// to the manager's defaults for any field the task did not override.
func (m *RetryManager) policy(task *store.Task) (maxRetries int, backoffMs int, multiplier float64, maxBackoffMs int) {
	maxRetries = m.defaultMaxRetries
	backoffMs = m.defaultBackoffMs
	multiplier = m.backoffMultiplier
	maxBackoffMs = m.maxBackoffMs
	if task.RetryPolicy == nil {
		return
	}
	if task.RetryPolicy.MaxRetries > 0 {
		maxRetries = task.RetryPolicy.MaxRetries
	}
	if task.RetryPolicy.BackoffMs > 0 {
		backoffMs = task.RetryPolicy.BackoffMs
	}
	if task.RetryPolicy.BackoffMultiplier > 0 {
		multiplier = task.RetryPolicy.BackoffMultiplier
	}
	return
}

// ShouldRetry reports whether task has retry attempts remaining.
func (m *RetryManager) ShouldRetry(task *store.Task) bool {
	maxRetries, _, _, _ := m.policy(task)
	return task.RetryCount < maxRetries
}

// BackoffDuration returns the wait before the next attempt, the ceiling-ed
// exponential curve min(base*multiplier^retryCount, maxBackoff) spec.md §4.3
// names.
func (m *RetryManager) BackoffDuration(task *store.Task) time.Duration {
	_, backoffMs, multiplier, maxBackoffMs := m.policy(task)
	delay := float64(backoffMs)
	for i := 0; i < task.RetryCount; i++ {
		delay *= multiplier
	}
	if delay > float64(maxBackoffMs) {
		delay = float64(maxBackoffMs)
	}
	return time.Duration(delay) * time.Millisecond
}

// WaitForRetry blocks for BackoffDuration(task), returning early with ctx's
// error if the context is cancelled first.
func (m *RetryManager) WaitForRetry(ctx context.Context, task *store.Task) error {
	d := m.BackoffDuration(task)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExponentialBackOff returns a cenkalti/backoff/v5 policy configured to
// match a task's effective retry policy. The Executor passes this to
// chatclient.Client.ExecuteWithRetry so a transient connection failure or
// 5xx from the chat endpoint gets a bounded number of retries via the
// library's own Retry() driver, distinct from the manual WaitForRetry loop
// above that governs the Scheduler's task-level re-enqueue.
func (m *RetryManager) ExponentialBackOff(task *store.Task) *backoff.ExponentialBackOff {
	_, backoffMs, multiplier, maxBackoffMs := m.policy(task)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(backoffMs) * time.Millisecond
	b.Multiplier = multiplier
	b.MaxInterval = time.Duration(maxBackoffMs) * time.Millisecond
	return b
}
