package store

import (
	"encoding/json"
	"time"
)

// Priority orders dispatch: critical < high < normal < low.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Rank gives the sort weight used by GetNextPendingTasks; lower first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// Less reports whether p should be dispatched before other.
func (p Priority) Less(other Priority) bool {
	return p.Rank() < other.Rank()
}

// Valid reports whether p is one of the four known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	default:
		return false
	}
}

// State is a position in the task state machine documented in spec.md §3.
type State string

const (
	StatePending           State = "pending"
	StateQueued            State = "queued"
	StateWaitingDependency State = "waiting_dependency"
	StateRunning           State = "running"
	StateCompleted         State = "completed"
	StateFailed            State = "failed"
	StateCancelled         State = "cancelled"
)

// IsTerminal reports whether state never transitions further.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// RetryPolicy overrides RetryManager defaults for a single task.
type RetryPolicy struct {
	MaxRetries        int     `json:"maxRetries"`
	BackoffMs         int     `json:"backoffMs"`
	BackoffMultiplier float64 `json:"backoffMultiplier"`
}

// Task is the persisted unit of work described in spec.md §3.
type Task struct {
	ID          string                 `json:"id"`
	Instruction string                 `json:"instruction"`
	Priority    Priority               `json:"priority"`
	State       State                  `json:"state"`
	DependsOn   []string               `json:"dependsOn"`
	RetryPolicy *RetryPolicy           `json:"retryPolicy,omitempty"`
	TimeoutMs   int                    `json:"timeout,omitempty"`
	WebhookURL  string                 `json:"webhookUrl,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	LLMConfig   map[string]interface{} `json:"llmConfig,omitempty"`
	BatchID     string                 `json:"batchId,omitempty"`
	RetryCount  int                    `json:"retryCount"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

// TaskStep is one tool invocation recorded during execution.
type TaskStep struct {
	Seq      int             `json:"seq"`
	ToolName string          `json:"toolName"`
	Input    json.RawMessage `json:"input,omitempty"`
	Output   json.RawMessage `json:"output,omitempty"`
	At       time.Time       `json:"at"`
}

// TaskResult is the upserted outcome envelope described in spec.md §3.
type TaskResult struct {
	TaskID          string          `json:"taskId"`
	State           State           `json:"state"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	StartedAt       *time.Time      `json:"startedAt,omitempty"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
	RetryCount      int             `json:"retryCount"`
	ExecutionTimeMs int64           `json:"executionTimeMs,omitempty"`
	Steps           []TaskStep      `json:"steps,omitempty"`
}

// ResultPatch is a partial TaskResult update; nil fields mean "leave
// unchanged" for SetResult's upsert semantics. StartedAt is preserved via
// COALESCE when already set, per spec.md invariant on setResult.
type ResultPatch struct {
	State           *State
	Result          json.RawMessage
	Error           *string
	StartedAt       *time.Time
	CompletedAt     *time.Time
	RetryCount      *int
	ExecutionTimeMs *int64
}

// Batch groups tasks under a shared id, webhook, and advisory parallelism.
type Batch struct {
	ID          string    `json:"id"`
	WebhookURL  string    `json:"webhookUrl,omitempty"`
	Parallelism int       `json:"parallelism,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ListFilter narrows ListTasks.
type ListFilter struct {
	State    State
	Priority Priority
	BatchID  string
	Limit    int
	Offset   int
}

// Stats tallies tasks per state plus the total.
type Stats struct {
	ByState map[State]int `json:"byState"`
	Total   int           `json:"total"`
}
