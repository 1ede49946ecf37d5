package router

import (
	"context"
	"time"

	"github.com/browseragent/taskqueue/internal/store"
)

// MetricsRecorder logs router call outcomes. It is a thin wrapper over
// store.Store's append-only router_metrics table, kept as its own type so
// the self-learner and the HTTP layer depend on a narrow interface rather
// than the full Store.
type MetricsRecorder struct {
	store *store.Store
}

// NewMetricsRecorder builds a MetricsRecorder backed by st.
func NewMetricsRecorder(st *store.Store) *MetricsRecorder {
	return &MetricsRecorder{store: st}
}

// Record appends one call outcome.
func (m *MetricsRecorder) Record(ctx context.Context, toolName, provider, model string, success bool, latency time.Duration, estimatedCost float64) error {
	return m.store.RecordMetric(ctx, store.RouterMetric{
		ToolName:      toolName,
		Provider:      provider,
		Model:         model,
		Success:       success,
		LatencyMs:     latency.Milliseconds(),
		EstimatedCost: estimatedCost,
		Timestamp:     time.Now().UTC(),
	})
}

// Aggregate returns per-(tool,provider,model) rollups for toolName, or
// every tool if toolName is "".
func (m *MetricsRecorder) Aggregate(ctx context.Context, toolName string) ([]store.MetricAggregate, error) {
	return m.store.AggregateMetrics(ctx, toolName, 0)
}
