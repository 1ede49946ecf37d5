package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/browseragent/taskqueue/internal/logger"
)

// openTestStore builds an in-memory SQLite-backed Store, a fresh database
// per test via SQLite's ":memory:" special path.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:", logger.New())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestCreateAndGetTask(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	task, err := st.CreateTask(ctx, TaskDef{
		ID:          "t1",
		Instruction: "click the login button",
		Priority:    PriorityHigh,
	})
	require.NoError(t, err)
	require.Equal(t, StatePending, task.State)

	fetched, err := st.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, fetched)
	require.Equal(t, "click the login button", fetched.Instruction)
	require.Equal(t, PriorityHigh, fetched.Priority)
}

func TestCreateTask_DuplicateIDConflicts(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.CreateTask(ctx, TaskDef{ID: "dup", Instruction: "a", Priority: PriorityNormal})
	require.NoError(t, err)

	_, err = st.CreateTask(ctx, TaskDef{ID: "dup", Instruction: "b", Priority: PriorityNormal})
	require.Error(t, err)
}

func TestGetTask_NotFoundReturnsNil(t *testing.T) {
	st := openTestStore(t)
	task, err := st.GetTask(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, task)
}

func TestGetNextPendingTasks_OrdersByPriorityThenFIFO(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, _ = st.CreateTask(ctx, TaskDef{ID: "normal1", Instruction: "x", Priority: PriorityNormal})
	_, _ = st.CreateTask(ctx, TaskDef{ID: "low1", Instruction: "x", Priority: PriorityLow})
	_, _ = st.CreateTask(ctx, TaskDef{ID: "critical1", Instruction: "x", Priority: PriorityCritical})
	_, _ = st.CreateTask(ctx, TaskDef{ID: "normal2", Instruction: "x", Priority: PriorityNormal})

	tasks, err := st.GetNextPendingTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 4)
	require.Equal(t, "critical1", tasks[0].ID)
	require.Equal(t, "normal1", tasks[1].ID)
	require.Equal(t, "normal2", tasks[2].ID)
	require.Equal(t, "low1", tasks[3].ID)
}

func TestUpdateStateAndIncrementRetry(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.CreateTask(ctx, TaskDef{ID: "t1", Instruction: "x", Priority: PriorityNormal})
	require.NoError(t, err)

	require.NoError(t, st.UpdateState(ctx, "t1", StateRunning))
	task, err := st.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, StateRunning, task.State)

	count, err := st.IncrementRetry(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	count, err = st.IncrementRetry(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestUpdateState_NotFound(t *testing.T) {
	st := openTestStore(t)
	err := st.UpdateState(context.Background(), "missing", StateRunning)
	require.Error(t, err)
}

func TestSetResult_PreservesStartedAtAcrossUpserts(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	_, err := st.CreateTask(ctx, TaskDef{ID: "t1", Instruction: "x", Priority: PriorityNormal})
	require.NoError(t, err)

	state := StateRunning
	start := mustTime("2026-01-01T00:00:00Z")
	require.NoError(t, st.SetResult(ctx, "t1", ResultPatch{State: &state, StartedAt: &start}))

	laterState := StateCompleted
	laterStart := mustTime("2026-01-01T00:05:00Z")
	end := mustTime("2026-01-01T00:06:00Z")
	require.NoError(t, st.SetResult(ctx, "t1", ResultPatch{State: &laterState, StartedAt: &laterStart, CompletedAt: &end}))

	result, err := st.GetResult(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, result.StartedAt)
	require.True(t, result.StartedAt.Equal(start), "startedAt must be preserved from first SetResult call")
	require.Equal(t, StateCompleted, result.State)
}

func TestAddStepAndGetResultIncludesSteps(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	_, err := st.CreateTask(ctx, TaskDef{ID: "t1", Instruction: "x", Priority: PriorityNormal})
	require.NoError(t, err)

	state := StateRunning
	require.NoError(t, st.SetResult(ctx, "t1", ResultPatch{State: &state}))
	require.NoError(t, st.AddStep(ctx, "t1", TaskStep{Seq: 0, ToolName: "navigate"}))
	require.NoError(t, st.AddStep(ctx, "t1", TaskStep{Seq: 1, ToolName: "click"}))

	result, err := st.GetResult(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, result.Steps, 2)
	require.Equal(t, "navigate", result.Steps[0].ToolName)
	require.Equal(t, "click", result.Steps[1].ToolName)
}

func TestGetStats(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	_, _ = st.CreateTask(ctx, TaskDef{ID: "t1", Instruction: "x", Priority: PriorityNormal})
	_, _ = st.CreateTask(ctx, TaskDef{ID: "t2", Instruction: "x", Priority: PriorityNormal})
	require.NoError(t, st.UpdateState(ctx, "t2", StateCompleted))

	stats, err := st.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Total)
	require.Equal(t, 1, stats.ByState[StatePending])
	require.Equal(t, 1, stats.ByState[StateCompleted])
}

func TestDeleteTask_CascadesResult(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	_, err := st.CreateTask(ctx, TaskDef{ID: "t1", Instruction: "x", Priority: PriorityNormal})
	require.NoError(t, err)
	state := StateCompleted
	require.NoError(t, st.SetResult(ctx, "t1", ResultPatch{State: &state}))

	require.NoError(t, st.DeleteTask(ctx, "t1"))

	task, err := st.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Nil(t, task)

	result, err := st.GetResult(ctx, "t1")
	require.NoError(t, err)
	require.Nil(t, result)
}

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}
