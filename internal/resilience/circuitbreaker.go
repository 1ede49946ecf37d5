// Package resilience adds an additive fast-fail layer around the outbound
// chat call. It is grounded on the teacher's resilience/circuit_breaker.go
// closed/open/half-open state machine, generalized from its HTTP-handler
// use to wrap a single chatclient.Client.Execute call. It never replaces
// the task queue's own retry/backoff semantics (internal/queue.RetryManager
// still owns those) — a tripped breaker just fails fast with a retryable
// error so the same retry path takes over sooner.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is a circuit breaker position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// ErrCircuitOpen is returned by Execute when the breaker is open and the
// reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Config tunes the breaker's trip/reset behavior.
type Config struct {
	FailureThreshold int           // consecutive failures before tripping
	ResetTimeout     time.Duration // time open before probing half-open
	HalfOpenMaxCalls int           // calls allowed through while half-open
}

// DefaultConfig mirrors the teacher's default circuit breaker tuning.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// CircuitBreaker wraps calls to a single downstream dependency (the chat
// endpoint) and fails fast once it has tripped.
type CircuitBreaker struct {
	mu sync.Mutex

	cfg Config

	state           State
	consecutiveFail int
	openedAt        time.Time
	halfOpenInFlight int
}

// New builds a CircuitBreaker in the closed state.
func New(cfg Config) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, state: Closed}
}

// classify reports whether err counts toward tripping the breaker. It
// stands in for the teacher's DefaultErrorClassifier but makes no
// distinction between kinds of failure: every non-nil error counts.
func classify(err error) bool {
	return err != nil
}

// Allow reports whether a call may proceed right now, transitioning
// open->half-open once ResetTimeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		return true
	case Open:
		if time.Since(cb.openedAt) >= cb.cfg.ResetTimeout {
			cb.state = HalfOpen
			cb.halfOpenInFlight = 0
			return cb.allowHalfOpenLocked()
		}
		return false
	case HalfOpen:
		return cb.allowHalfOpenLocked()
	}
	return true
}

func (cb *CircuitBreaker) allowHalfOpenLocked() bool {
	if cb.halfOpenInFlight >= cb.cfg.HalfOpenMaxCalls {
		return false
	}
	cb.halfOpenInFlight++
	return true
}

// Record reports the outcome of a call that Allow() permitted.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !classify(err) {
		cb.onSuccessLocked()
		return
	}
	if err == nil {
		cb.onSuccessLocked()
		return
	}
	cb.onFailureLocked()
}

func (cb *CircuitBreaker) onSuccessLocked() {
	switch cb.state {
	case HalfOpen:
		cb.state = Closed
		cb.consecutiveFail = 0
		cb.halfOpenInFlight = 0
	case Closed:
		cb.consecutiveFail = 0
	}
}

func (cb *CircuitBreaker) onFailureLocked() {
	switch cb.state {
	case HalfOpen:
		cb.state = Open
		cb.openedAt = time.Now()
		cb.halfOpenInFlight = 0
	case Closed:
		cb.consecutiveFail++
		if cb.consecutiveFail >= cb.cfg.FailureThreshold {
			cb.state = Open
			cb.openedAt = time.Now()
		}
	}
}

// StateNow returns the breaker's current state, for status/health reporting.
func (cb *CircuitBreaker) StateNow() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute runs fn if the breaker allows it, recording the outcome. It
// returns ErrCircuitOpen without calling fn when tripped.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	cb.Record(err)
	return err
}
