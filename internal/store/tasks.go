package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/browseragent/taskqueue/internal/apperrors"
)

// TaskDef is the input to CreateTask; the caller supplies everything the
// API surface validated, Store stamps CreatedAt/UpdatedAt/State.
type TaskDef struct {
	ID          string
	Instruction string
	Priority    Priority
	DependsOn   []string
	RetryPolicy *RetryPolicy
	TimeoutMs   int
	WebhookURL  string
	Metadata    map[string]interface{}
	LLMConfig   map[string]interface{}
	BatchID     string
}

// CreateTask inserts a new task in state pending. It fails if id already
// exists.
func (s *Store) CreateTask(ctx context.Context, def TaskDef) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:          def.ID,
		Instruction: def.Instruction,
		Priority:    def.Priority,
		State:       StatePending,
		DependsOn:   def.DependsOn,
		RetryPolicy: def.RetryPolicy,
		TimeoutMs:   def.TimeoutMs,
		WebhookURL:  def.WebhookURL,
		Metadata:    def.Metadata,
		LLMConfig:   def.LLMConfig,
		BatchID:     def.BatchID,
		RetryCount:  0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if task.DependsOn == nil {
		task.DependsOn = []string{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, instruction, priority, state, depends_on, retry_policy,
			timeout_ms, webhook_url, metadata, llm_config, batch_id, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Instruction, string(task.Priority), string(task.State),
		safeEncode(task.DependsOn), encodeRetryPolicy(task.RetryPolicy),
		task.TimeoutMs, task.WebhookURL, safeEncode(task.Metadata), safeEncode(task.LLMConfig),
		task.BatchID, task.RetryCount, task.CreatedAt.Format(time.RFC3339Nano), task.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, apperrors.Wrap("store.CreateTask", "conflict", def.ID, apperrors.ErrAlreadyExists)
		}
		return nil, apperrors.Wrap("store.CreateTask", "store", def.ID, err)
	}
	return task, nil
}

func encodeRetryPolicy(p *RetryPolicy) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: safeEncode(p), Valid: true}
}

const taskColumns = `id, instruction, priority, state, depends_on, retry_policy,
	timeout_ms, webhook_url, metadata, llm_config, batch_id, retry_count, created_at, updated_at`

func scanTask(row interface{ Scan(...interface{}) error }) (*Task, error) {
	var (
		t                                    Task
		priority, state                      string
		dependsOn                            string
		retryPolicy                          sql.NullString
		timeoutMs                            sql.NullInt64
		webhookURL, metadata, llmConfig      sql.NullString
		batchID                              sql.NullString
		createdAt, updatedAt                 string
	)
	if err := row.Scan(&t.ID, &t.Instruction, &priority, &state, &dependsOn, &retryPolicy,
		&timeoutMs, &webhookURL, &metadata, &llmConfig, &batchID, &t.RetryCount, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.Priority = Priority(priority)
	t.State = State(state)
	t.DependsOn = safeParse[[]string](dependsOn)
	if t.DependsOn == nil {
		t.DependsOn = []string{}
	}
	if retryPolicy.Valid {
		rp := safeParse[RetryPolicy](retryPolicy.String)
		t.RetryPolicy = &rp
	}
	t.TimeoutMs = int(timeoutMs.Int64)
	t.WebhookURL = webhookURL.String
	t.Metadata = safeParse[map[string]interface{}](metadata.String)
	t.LLMConfig = safeParse[map[string]interface{}](llmConfig.String)
	t.BatchID = batchID.String
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &t, nil
}

// GetTask fetches a single task by id, or (nil, nil) if absent.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap("store.GetTask", "store", id, err)
	}
	return task, nil
}

// GetTasksByIDs batch-fetches tasks, used by the Scheduler to eagerly load
// dependency rows not present in the current candidate set.
func (s *Store) GetTasksByIDs(ctx context.Context, ids []string) (map[string]*Task, error) {
	out := make(map[string]*Task, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE id IN (%s)`, taskColumns, strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap("store.GetTasksByIDs", "store", "", err)
	}
	defer rows.Close()
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, apperrors.Wrap("store.GetTasksByIDs", "store", "", err)
		}
		out[task.ID] = task
	}
	return out, rows.Err()
}

// ListTasks returns tasks matching filter, newest first.
func (s *Store) ListTasks(ctx context.Context, filter ListFilter) ([]*Task, error) {
	var where []string
	var args []interface{}
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}
	if filter.Priority != "" {
		where = append(where, "priority = ?")
		args = append(args, string(filter.Priority))
	}
	if filter.BatchID != "" {
		where = append(where, "batch_id = ?")
		args = append(args, filter.BatchID)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap("store.ListTasks", "store", "", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, apperrors.Wrap("store.ListTasks", "store", "", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// GetNextPendingTasks returns up to limit dispatcher-visible candidates
// ordered by priority then createdAt ascending (FIFO within priority),
// per spec.md §4.1's ordering constraint.
func (s *Store) GetNextPendingTasks(ctx context.Context, limit int) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE state IN ('pending', 'queued', 'waiting_dependency')
		ORDER BY CASE priority
			WHEN 'critical' THEN 0
			WHEN 'high' THEN 1
			WHEN 'normal' THEN 2
			WHEN 'low' THEN 3
			ELSE 2 END ASC, created_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, apperrors.Wrap("store.GetNextPendingTasks", "store", "", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, apperrors.Wrap("store.GetNextPendingTasks", "store", "", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// UpdateState atomically sets state and updatedAt.
func (s *Store) UpdateState(ctx context.Context, id string, state State) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET state = ?, updated_at = ? WHERE id = ?`, string(state), now, id)
	if err != nil {
		return apperrors.Wrap("store.UpdateState", "store", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Wrap("store.UpdateState", "not_found", id, apperrors.ErrTaskNotFound)
	}
	return nil
}

// IncrementRetry atomically bumps retryCount and returns the new value.
func (s *Store) IncrementRetry(ctx context.Context, id string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.Wrap("store.IncrementRetry", "store", id, err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT retry_count FROM tasks WHERE id = ?`, id).Scan(&count); err != nil {
		if err == sql.ErrNoRows {
			return 0, apperrors.Wrap("store.IncrementRetry", "not_found", id, apperrors.ErrTaskNotFound)
		}
		return 0, apperrors.Wrap("store.IncrementRetry", "store", id, err)
	}
	count++
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET retry_count = ?, updated_at = ? WHERE id = ?`, count, now, id); err != nil {
		return 0, apperrors.Wrap("store.IncrementRetry", "store", id, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, apperrors.Wrap("store.IncrementRetry", "store", id, err)
	}
	return count, nil
}

// DeleteTask removes a task; foreign keys cascade to steps and result.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return apperrors.Wrap("store.DeleteTask", "store", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Wrap("store.DeleteTask", "not_found", id, apperrors.ErrTaskNotFound)
	}
	return nil
}

// GetStats returns counts by state plus total.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM tasks GROUP BY state`)
	if err != nil {
		return nil, apperrors.Wrap("store.GetStats", "store", "", err)
	}
	defer rows.Close()

	stats := &Stats{ByState: map[State]int{}}
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, apperrors.Wrap("store.GetStats", "store", "", err)
		}
		stats.ByState[State(state)] = count
		stats.Total += count
	}
	return stats, rows.Err()
}

// CreateBatch inserts a new batch row.
func (s *Store) CreateBatch(ctx context.Context, id, webhookURL string, parallelism int) (*Batch, error) {
	now := time.Now().UTC()
	batch := &Batch{ID: id, WebhookURL: webhookURL, Parallelism: parallelism, CreatedAt: now}
	_, err := s.db.ExecContext(ctx, `INSERT INTO task_batches (id, webhook_url, parallelism, created_at) VALUES (?, ?, ?, ?)`,
		batch.ID, batch.WebhookURL, batch.Parallelism, batch.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, apperrors.Wrap("store.CreateBatch", "store", id, err)
	}
	return batch, nil
}

// AddStep appends a tool-invocation record to a task's step log.
func (s *Store) AddStep(ctx context.Context, taskID string, step TaskStep) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO task_steps (task_id, seq, tool_name, input, output, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		taskID, step.Seq, step.ToolName, string(step.Input), string(step.Output), step.At.Format(time.RFC3339Nano))
	if err != nil {
		return apperrors.Wrap("store.AddStep", "store", taskID, err)
	}
	return nil
}

func (s *Store) listSteps(ctx context.Context, taskID string) ([]TaskStep, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, tool_name, input, output, created_at
		FROM task_steps WHERE task_id = ? ORDER BY seq ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []TaskStep
	for rows.Next() {
		var step TaskStep
		var input, output sql.NullString
		var createdAt string
		if err := rows.Scan(&step.Seq, &step.ToolName, &input, &output, &createdAt); err != nil {
			return nil, err
		}
		step.Input = json.RawMessage(input.String)
		step.Output = json.RawMessage(output.String)
		step.At, _ = time.Parse(time.RFC3339Nano, createdAt)
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// SetResult upserts a task_results row; startedAt is preserved via COALESCE
// once set, matching spec.md's invariant that startedAt is set once.
func (s *Store) SetResult(ctx context.Context, taskID string, patch ResultPatch) error {
	var state string
	if patch.State != nil {
		state = string(*patch.State)
	}
	var errStr string
	if patch.Error != nil {
		errStr = *patch.Error
	}
	var startedAt sql.NullString
	if patch.StartedAt != nil {
		startedAt = sql.NullString{String: patch.StartedAt.Format(time.RFC3339Nano), Valid: true}
	}
	var completedAt sql.NullString
	if patch.CompletedAt != nil {
		completedAt = sql.NullString{String: patch.CompletedAt.Format(time.RFC3339Nano), Valid: true}
	}
	var retryCount int
	if patch.RetryCount != nil {
		retryCount = *patch.RetryCount
	}
	var execMs int64
	if patch.ExecutionTimeMs != nil {
		execMs = *patch.ExecutionTimeMs
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_results (task_id, state, result, error, started_at, completed_at, retry_count, execution_time_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			state = CASE WHEN excluded.state != '' THEN excluded.state ELSE task_results.state END,
			result = CASE WHEN excluded.result IS NOT NULL THEN excluded.result ELSE task_results.result END,
			error = CASE WHEN excluded.error != '' THEN excluded.error ELSE task_results.error END,
			started_at = COALESCE(task_results.started_at, excluded.started_at),
			completed_at = COALESCE(excluded.completed_at, task_results.completed_at),
			retry_count = CASE WHEN excluded.retry_count > 0 THEN excluded.retry_count ELSE task_results.retry_count END,
			execution_time_ms = CASE WHEN excluded.execution_time_ms > 0 THEN excluded.execution_time_ms ELSE task_results.execution_time_ms END
	`, taskID, state, string(patch.Result), errStr, startedAt, completedAt, retryCount, execMs)
	if err != nil {
		return apperrors.Wrap("store.SetResult", "store", taskID, err)
	}
	return nil
}

// GetResult returns the full result envelope, including steps, or nil if
// no task_results row exists yet.
func (s *Store) GetResult(ctx context.Context, taskID string) (*TaskResult, error) {
	row := s.db.QueryRowContext(ctx, `SELECT task_id, state, result, error, started_at, completed_at, retry_count, execution_time_ms
		FROM task_results WHERE task_id = ?`, taskID)

	var (
		result                       TaskResult
		state                        string
		resultJSON, errStr           sql.NullString
		startedAt, completedAt       sql.NullString
	)
	if err := row.Scan(&result.TaskID, &state, &resultJSON, &errStr, &startedAt, &completedAt, &result.RetryCount, &result.ExecutionTimeMs); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperrors.Wrap("store.GetResult", "store", taskID, err)
	}
	result.State = State(state)
	result.Result = json.RawMessage(resultJSON.String)
	result.Error = errStr.String
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, startedAt.String)
		result.StartedAt = &t
	}
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, completedAt.String)
		result.CompletedAt = &t
	}

	steps, err := s.listSteps(ctx, taskID)
	if err != nil {
		return nil, apperrors.Wrap("store.GetResult", "store", taskID, err)
	}
	result.Steps = steps
	return &result, nil
}
