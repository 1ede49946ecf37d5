package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/browseragent/taskqueue/internal/store"
)

func recordMetrics(t *testing.T, st *store.Store, tool, provider, model string, calls int, successRate float64) {
	t.Helper()
	successes := int(float64(calls) * successRate)
	ctx := context.Background()
	for i := 0; i < calls; i++ {
		require.NoError(t, st.RecordMetric(ctx, store.RouterMetric{
			ToolName:  tool,
			Provider:  provider,
			Model:     model,
			Success:   i < successes,
			LatencyMs: 100,
			Timestamp: time.Now().UTC(),
		}))
	}
}

func TestSelfLearner_UpgradeByFailure_PromotesOnLowSuccessRate(t *testing.T) {
	st := openTestStore(t)
	table := NewTable(st, "anthropic", "claude-sonnet")
	log := NewSelfLearner(st, table, nil, Config{MinCallsForOptimization: 10, SuccessRateUpgrade: 0.7})
	ctx := context.Background()

	recordMetrics(t, st, "browser.navigate", "anthropic", "claude-haiku", 20, 0.4)

	require.NoError(t, log.upgradeByFailure(ctx))

	opts, err := st.ListOptimizations(ctx, "browser.navigate", 0)
	require.NoError(t, err)
	require.Len(t, opts, 1)
	require.Equal(t, "claude-sonnet", opts[0].NewModel)
}

func TestSelfLearner_UpgradeByFailure_SkipsBelowMinCalls(t *testing.T) {
	st := openTestStore(t)
	table := NewTable(st, "anthropic", "claude-sonnet")
	learner := NewSelfLearner(st, table, nil, Config{MinCallsForOptimization: 50, SuccessRateUpgrade: 0.7})
	ctx := context.Background()

	recordMetrics(t, st, "browser.navigate", "anthropic", "claude-haiku", 5, 0.0)

	require.NoError(t, learner.upgradeByFailure(ctx))

	opts, err := st.ListOptimizations(ctx, "browser.navigate", 0)
	require.NoError(t, err)
	require.Len(t, opts, 0)
}

func TestSelfLearner_ScheduleDowngradeTest_OnHighSuccessAtInterval(t *testing.T) {
	st := openTestStore(t)
	table := NewTable(st, "anthropic", "claude-sonnet")
	learner := NewSelfLearner(st, table, nil, Config{DowngradeTestInterval: 10, SuccessRateKeep: 0.9})
	ctx := context.Background()

	recordMetrics(t, st, "browser.extract", "openai", "gpt-4o", 10, 1.0)

	require.NoError(t, learner.scheduleDowngradeTests(ctx))

	active, err := st.ListActiveDowngradeTests(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "gpt-4o-mini", active[0].ToModel)
}

func TestSelfLearner_EvaluateDowngradeTests_CommitsOnPassingSample(t *testing.T) {
	st := openTestStore(t)
	table := NewTable(st, "anthropic", "claude-sonnet")
	learner := NewSelfLearner(st, table, nil, Config{DowngradeTestSample: 5, SuccessRateKeep: 0.9})
	ctx := context.Background()

	id, err := st.ScheduleDowngradeTest(ctx, store.DowngradeTest{
		ToolName: "browser.extract", FromModel: "gpt-4o", ToModel: "gpt-4o-mini", Provider: "openai",
	})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, st.RecordDowngradeTestResult(ctx, id, true))
	}

	require.NoError(t, learner.evaluateDowngradeTests(ctx))

	active, err := st.ListActiveDowngradeTests(ctx)
	require.NoError(t, err)
	require.Len(t, active, 0)

	opts, err := st.ListOptimizations(ctx, "browser.extract", 0)
	require.NoError(t, err)
	require.Len(t, opts, 1)
	require.Equal(t, "gpt-4o-mini", opts[0].NewModel)
}

func TestSelfLearner_EvaluateDowngradeTests_RejectsOnFailingSample(t *testing.T) {
	st := openTestStore(t)
	table := NewTable(st, "anthropic", "claude-sonnet")
	learner := NewSelfLearner(st, table, nil, Config{DowngradeTestSample: 5, SuccessRateKeep: 0.9})
	ctx := context.Background()

	id, err := st.ScheduleDowngradeTest(ctx, store.DowngradeTest{
		ToolName: "browser.extract", FromModel: "gpt-4o", ToModel: "gpt-4o-mini", Provider: "openai",
	})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, st.RecordDowngradeTestResult(ctx, id, i < 1))
	}

	require.NoError(t, learner.evaluateDowngradeTests(ctx))

	active, err := st.ListActiveDowngradeTests(ctx)
	require.NoError(t, err)
	require.Len(t, active, 0)

	opts, err := st.ListOptimizations(ctx, "browser.extract", 0)
	require.NoError(t, err)
	require.Len(t, opts, 0)
}
