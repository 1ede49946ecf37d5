package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/browseragent/taskqueue/internal/logger"
	"github.com/browseragent/taskqueue/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:", logger.New())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestTable_Resolve_FallsBackWhenNothingElseMatches(t *testing.T) {
	st := openTestStore(t)
	table := NewTable(st, "anthropic", "claude-sonnet")

	d, err := table.Resolve(context.Background(), "browser.navigate")
	require.NoError(t, err)
	require.Equal(t, ReasonFallback, d.Reason)
	require.Equal(t, "anthropic", d.Provider)
	require.Equal(t, "claude-sonnet", d.Model)
}

func TestTable_Resolve_ExactOverrideWins(t *testing.T) {
	st := openTestStore(t)
	table := NewTable(st, "anthropic", "claude-sonnet")
	ctx := context.Background()

	require.NoError(t, table.SetOverride(ctx, "browser.navigate", "openai", "gpt-4o", "manual pin"))

	d, err := table.Resolve(ctx, "browser.navigate")
	require.NoError(t, err)
	require.Equal(t, ReasonOptimized, d.Reason)
	require.Equal(t, "openai", d.Provider)
	require.Equal(t, "gpt-4o", d.Model)
}

func TestTable_Resolve_PrefixOverride(t *testing.T) {
	st := openTestStore(t)
	table := NewTable(st, "anthropic", "claude-sonnet")
	ctx := context.Background()

	require.NoError(t, table.SetOverride(ctx, "browser.*", "openai", "gpt-4o-mini", "cheap default"))

	d, err := table.Resolve(ctx, "browser.click")
	require.NoError(t, err)
	require.Equal(t, "openai", d.Provider)
	require.Equal(t, "gpt-4o-mini", d.Model)
}

func TestTable_Resolve_LearnedDefaultBeatsFallback(t *testing.T) {
	st := openTestStore(t)
	table := NewTable(st, "anthropic", "claude-sonnet")
	ctx := context.Background()

	require.NoError(t, st.RecordOptimization(ctx, store.RoutingOptimization{
		ToolName:    "browser.extract",
		NewProvider: "openai",
		NewModel:    "gpt-4o",
		Reason:      "test",
	}))

	d, err := table.Resolve(ctx, "browser.extract")
	require.NoError(t, err)
	require.Equal(t, ReasonDefault, d.Reason)
	require.Equal(t, "openai", d.Provider)
}

func TestTable_ClearOverride(t *testing.T) {
	st := openTestStore(t)
	table := NewTable(st, "anthropic", "claude-sonnet")
	ctx := context.Background()

	require.NoError(t, table.SetOverride(ctx, "browser.navigate", "openai", "gpt-4o", ""))
	require.NoError(t, table.ClearOverride(ctx, "browser.navigate"))

	d, err := table.Resolve(ctx, "browser.navigate")
	require.NoError(t, err)
	require.Equal(t, ReasonFallback, d.Reason)
}
