package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/browseragent/taskqueue/internal/apperrors"
)

// RouterMetric is one recorded call outcome used by the self-learner to
// evaluate provider/model performance for a tool.
type RouterMetric struct {
	ToolName      string    `json:"toolName"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	Success       bool      `json:"success"`
	LatencyMs     int64     `json:"latencyMs"`
	EstimatedCost float64   `json:"estimatedCost"`
	Timestamp     time.Time `json:"timestamp"`
}

// MetricAggregate summarizes RouterMetric rows for one (tool, provider,
// model) triple, the unit the self-learner reasons about.
type MetricAggregate struct {
	ToolName      string
	Provider      string
	Model         string
	TotalCalls    int
	SuccessCalls  int
	AvgLatencyMs  float64
	AvgCost       float64
}

// SuccessRate reports successCalls/totalCalls, or 0 for an empty sample.
func (a MetricAggregate) SuccessRate() float64 {
	if a.TotalCalls == 0 {
		return 0
	}
	return float64(a.SuccessCalls) / float64(a.TotalCalls)
}

// RecordMetric appends one call outcome. router_metrics is append-only;
// aggregation happens at query time.
func (s *Store) RecordMetric(ctx context.Context, m RouterMetric) error {
	success := 0
	if m.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO router_metrics (tool_name, provider, model, success, latency_ms, estimated_cost, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ToolName, m.Provider, m.Model, success, m.LatencyMs, m.EstimatedCost, m.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return apperrors.Wrap("store.RecordMetric", "store", m.ToolName, err)
	}
	return nil
}

// AggregateMetrics groups every router_metrics row (optionally only those
// for toolName) per (tool, provider, model) into MetricAggregate, the shape
// the self-learner's upgrade and downgrade passes consume. The limit
// argument is not applied.
func (s *Store) AggregateMetrics(ctx context.Context, toolName string, limit int) ([]MetricAggregate, error) {
	query := `SELECT tool_name, provider, model,
			COUNT(*) as total,
			SUM(success) as succeeded,
			AVG(latency_ms) as avg_latency,
			AVG(estimated_cost) as avg_cost
		FROM router_metrics`
	var args []interface{}
	if toolName != "" {
		query += ` WHERE tool_name = ?`
		args = append(args, toolName)
	}
	query += ` GROUP BY tool_name, provider, model`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap("store.AggregateMetrics", "store", toolName, err)
	}
	defer rows.Close()

	var out []MetricAggregate
	for rows.Next() {
		var a MetricAggregate
		if err := rows.Scan(&a.ToolName, &a.Provider, &a.Model, &a.TotalCalls, &a.SuccessCalls, &a.AvgLatencyMs, &a.AvgCost); err != nil {
			return nil, apperrors.Wrap("store.AggregateMetrics", "store", toolName, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecentMetrics returns the last `limit` raw rows for one (tool, provider,
// model) triple, newest first — used to sample the downgrade-test window.
func (s *Store) RecentMetrics(ctx context.Context, toolName, provider, model string, limit int) ([]RouterMetric, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tool_name, provider, model, success, latency_ms, estimated_cost, timestamp
		FROM router_metrics WHERE tool_name = ? AND provider = ? AND model = ?
		ORDER BY id DESC LIMIT ?`, toolName, provider, model, limit)
	if err != nil {
		return nil, apperrors.Wrap("store.RecentMetrics", "store", toolName, err)
	}
	defer rows.Close()

	var out []RouterMetric
	for rows.Next() {
		var m RouterMetric
		var success int
		var ts string
		if err := rows.Scan(&m.ToolName, &m.Provider, &m.Model, &success, &m.LatencyMs, &m.EstimatedCost, &ts); err != nil {
			return nil, apperrors.Wrap("store.RecentMetrics", "store", toolName, err)
		}
		m.Success = success != 0
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountMetrics reports the total number of recorded calls for a tool,
// used to gate minCallsForOptimization.
func (s *Store) CountMetrics(ctx context.Context, toolName string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM router_metrics WHERE tool_name = ?`, toolName).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap("store.CountMetrics", "store", toolName, err)
	}
	return count, nil
}

// RoutingOptimization records one self-learner decision for audit/history.
type RoutingOptimization struct {
	ToolName    string    `json:"toolName"`
	OldProvider string    `json:"oldProvider,omitempty"`
	OldModel    string    `json:"oldModel,omitempty"`
	NewProvider string    `json:"newProvider"`
	NewModel    string    `json:"newModel"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RecordOptimization appends an audit row for a learned routing change.
func (s *Store) RecordOptimization(ctx context.Context, o RoutingOptimization) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO routing_optimizations (tool_name, old_provider, old_model, new_provider, new_model, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.ToolName, o.OldProvider, o.OldModel, o.NewProvider, o.NewModel, o.Reason, o.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return apperrors.Wrap("store.RecordOptimization", "store", o.ToolName, err)
	}
	return nil
}

// ListOptimizations returns the optimization history for a tool, newest
// first; toolName == "" returns every tool's history.
func (s *Store) ListOptimizations(ctx context.Context, toolName string, limit int) ([]RoutingOptimization, error) {
	query := `SELECT tool_name, old_provider, old_model, new_provider, new_model, reason, created_at FROM routing_optimizations`
	var args []interface{}
	if toolName != "" {
		query += ` WHERE tool_name = ?`
		args = append(args, toolName)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap("store.ListOptimizations", "store", toolName, err)
	}
	defer rows.Close()

	var out []RoutingOptimization
	for rows.Next() {
		var o RoutingOptimization
		var oldProvider, oldModel sql.NullString
		var createdAt string
		if err := rows.Scan(&o.ToolName, &oldProvider, &oldModel, &o.NewProvider, &o.NewModel, &o.Reason, &createdAt); err != nil {
			return nil, apperrors.Wrap("store.ListOptimizations", "store", toolName, err)
		}
		o.OldProvider = oldProvider.String
		o.OldModel = oldModel.String
		o.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, o)
	}
	return out, rows.Err()
}

// DowngradeTestStatus tracks a candidate cost-saving model swap through its
// sampling window.
type DowngradeTestStatus string

const (
	DowngradeTestScheduled DowngradeTestStatus = "scheduled"
	DowngradeTestRunning   DowngradeTestStatus = "running"
	DowngradeTestPassed    DowngradeTestStatus = "passed"
	DowngradeTestFailed    DowngradeTestStatus = "failed"
)

// DowngradeTest is a scheduled trial of a cheaper model against a sample of
// live calls, per spec.md §4.7's downgrade-test cycle.
type DowngradeTest struct {
	ID           int64               `json:"id"`
	ToolName     string              `json:"toolName"`
	FromModel    string              `json:"fromModel"`
	ToModel      string              `json:"toModel"`
	Provider     string              `json:"provider"`
	Status       DowngradeTestStatus `json:"status"`
	SampleSize   int                 `json:"sampleSize"`
	SuccessCount int                 `json:"successCount"`
	CreatedAt    time.Time           `json:"createdAt"`
	CompletedAt  *time.Time          `json:"completedAt,omitempty"`
}

// ScheduleDowngradeTest inserts a new pending trial and returns its id.
func (s *Store) ScheduleDowngradeTest(ctx context.Context, t DowngradeTest) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO downgrade_tests (tool_name, from_model, to_model, provider, status, sample_size, success_count, created_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, ?)`,
		t.ToolName, t.FromModel, t.ToModel, t.Provider, string(DowngradeTestScheduled), t.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return 0, apperrors.Wrap("store.ScheduleDowngradeTest", "store", t.ToolName, err)
	}
	return res.LastInsertId()
}

// RecordDowngradeTestResult increments the running sample/success counters
// for an in-flight test.
func (s *Store) RecordDowngradeTestResult(ctx context.Context, id int64, success bool) error {
	inc := 0
	if success {
		inc = 1
	}
	_, err := s.db.ExecContext(ctx, `UPDATE downgrade_tests SET
		status = ?, sample_size = sample_size + 1, success_count = success_count + ?
		WHERE id = ?`, string(DowngradeTestRunning), inc, id)
	if err != nil {
		return apperrors.Wrap("store.RecordDowngradeTestResult", "store", "", err)
	}
	return nil
}

// CompleteDowngradeTest finalizes a test with pass/fail status.
func (s *Store) CompleteDowngradeTest(ctx context.Context, id int64, status DowngradeTestStatus, completedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE downgrade_tests SET status = ?, completed_at = ? WHERE id = ?`,
		string(status), completedAt.Format(time.RFC3339Nano), id)
	if err != nil {
		return apperrors.Wrap("store.CompleteDowngradeTest", "store", "", err)
	}
	return nil
}

// ListActiveDowngradeTests returns tests in scheduled or running state,
// which the self-learner's evaluation pass must visit each cycle.
func (s *Store) ListActiveDowngradeTests(ctx context.Context) ([]DowngradeTest, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, tool_name, from_model, to_model, provider, status,
		sample_size, success_count, created_at, completed_at
		FROM downgrade_tests WHERE status IN (?, ?)`,
		string(DowngradeTestScheduled), string(DowngradeTestRunning))
	if err != nil {
		return nil, apperrors.Wrap("store.ListActiveDowngradeTests", "store", "", err)
	}
	defer rows.Close()

	var out []DowngradeTest
	for rows.Next() {
		var t DowngradeTest
		var status, createdAt string
		var completedAt sql.NullString
		if err := rows.Scan(&t.ID, &t.ToolName, &t.FromModel, &t.ToModel, &t.Provider, &status,
			&t.SampleSize, &t.SuccessCount, &createdAt, &completedAt); err != nil {
			return nil, apperrors.Wrap("store.ListActiveDowngradeTests", "store", "", err)
		}
		t.Status = DowngradeTestStatus(status)
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if completedAt.Valid {
			ct, _ := time.Parse(time.RFC3339Nano, completedAt.String)
			t.CompletedAt = &ct
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// HasActiveDowngradeTest reports whether tool already has a scheduled or
// running trial, preventing the scheduling pass from piling up duplicates.
func (s *Store) HasActiveDowngradeTest(ctx context.Context, toolName string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM downgrade_tests
		WHERE tool_name = ? AND status IN (?, ?)`,
		toolName, string(DowngradeTestScheduled), string(DowngradeTestRunning)).Scan(&count)
	if err != nil {
		return false, apperrors.Wrap("store.HasActiveDowngradeTest", "store", toolName, err)
	}
	return count > 0, nil
}
