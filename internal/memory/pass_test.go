package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

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

func seedEntries(t *testing.T, st *store.Store, sessionID string, n int, baseAge time.Duration) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		role := "assistant"
		if i%5 == 0 {
			role = "user"
		}
		require.NoError(t, st.CreateMemoryEntry(ctx, store.MemoryEntry{
			ID:        fmt.Sprintf("%s-%d", sessionID, i),
			Type:      store.MemoryEntryShortTerm,
			SessionID: sessionID,
			Content:   fmt.Sprintf("message number %d with some body text", i),
			Role:      role,
			CreatedAt: now.Add(-baseAge + time.Duration(i)*time.Second),
		}))
	}
}

func TestOptimizeSession_SkipsBelowMinEntries(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	opt, err := New(ctx, st, nil, nil, Config{MinEntriesForOptimize: 50})
	require.NoError(t, err)

	seedEntries(t, st, "s1", 5, time.Hour)

	require.NoError(t, opt.OptimizeSession(ctx, "s1"))

	entries, err := st.ListMemoryEntries(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, entries, 5, "nothing should be touched below the minimum")
}

// TestOptimizeSession_CompressesThenDropsStaleLowRelevanceEntries exercises
// the two-stage fate of a low-relevance entry: the first pass it scores
// below MinRelevance it is compressed in place (its row survives, shrunk),
// and only a later pass that still scores it below MinRelevance while
// already compressed actually removes the row.
func TestOptimizeSession_CompressesThenDropsStaleLowRelevanceEntries(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	opt, err := New(ctx, st, nil, nil, Config{
		MinEntriesForOptimize: 5,
		TokenBudget:           100000,
	})
	require.NoError(t, err)
	opt.params.FullMessageWindow = 2
	opt.params.MinRelevance = 0.5

	// A low persisted RelevanceScore plus a 25h-old timestamp (the analyzer's
	// stale-recency penalty, not just the weaker "recent" bonus) keeps these
	// below MinRelevance even after the analyzer's bonuses are added on top.
	now := time.Now().UTC()
	for i := 0; i < 10; i++ {
		require.NoError(t, st.CreateMemoryEntry(ctx, store.MemoryEntry{
			ID:             fmt.Sprintf("s1-%d", i),
			Type:           store.MemoryEntryShortTerm,
			SessionID:      "s1",
			Content:        fmt.Sprintf("message number %d with some body text", i),
			Role:           "assistant",
			RelevanceScore: 0.3,
			CreatedAt:      now.Add(-25*time.Hour + time.Duration(i)*time.Second),
		}))
	}

	require.NoError(t, opt.OptimizeSession(ctx, "s1"))

	afterFirstPass, err := st.ListMemoryEntries(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, afterFirstPass, 10, "the first pass compresses in place rather than dropping")
	compressedCount := 0
	for _, e := range afterFirstPass {
		if e.IsCompressed {
			compressedCount++
		}
	}
	require.Greater(t, compressedCount, 0, "stale low-relevance entries outside the window should be compressed")

	require.NoError(t, opt.OptimizeSession(ctx, "s1"))

	remaining, err := st.ListMemoryEntries(ctx, "s1")
	require.NoError(t, err)
	require.Less(t, len(remaining), len(afterFirstPass), "an already-compressed entry scoring low again should be dropped")
}

func TestOptimizeSession_RecordsSnapshot(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	opt, err := New(ctx, st, nil, nil, Config{MinEntriesForOptimize: 5, TokenBudget: 100000})
	require.NoError(t, err)

	seedEntries(t, st, "s1", 10, time.Hour)
	require.NoError(t, opt.OptimizeSession(ctx, "s1"))

	snaps, err := st.ListSnapshots(ctx, 10)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
}

func TestOptimizeSession_AdaptsParamsTowardTarget(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	opt, err := New(ctx, st, nil, nil, Config{
		MinEntriesForOptimize: 5,
		TokenBudget:           10, // tiny budget forces usage ratio well above target
		LearningRate:          0.5,
		TargetUsageRatio:      0.1,
	})
	require.NoError(t, err)
	before := opt.CurrentParams()

	seedEntries(t, st, "s1", 10, time.Hour)
	require.NoError(t, opt.OptimizeSession(ctx, "s1"))

	after := opt.CurrentParams()
	require.Less(t, after.CompressionTrigger, before.CompressionTrigger,
		"usage far above target should pull compressionTrigger down")

	saved, err := st.AllAdaptiveParameters(ctx)
	require.NoError(t, err)
	require.Contains(t, saved, paramKeyCompressionTrigger)
}

func TestOptimizeSession_PromotesRelevantSummaries(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	opt, err := New(ctx, st, nil, nil, Config{MinEntriesForOptimize: 5, TokenBudget: 100000})
	require.NoError(t, err)
	opt.params.FullMessageWindow = 1
	opt.params.MinRelevance = 0.0

	now := time.Now().UTC()
	require.NoError(t, st.CreateMemoryEntry(ctx, store.MemoryEntry{
		ID:        "sum-1",
		Type:      store.MemoryEntryShortTerm,
		SessionID: "s1",
		Content:   "IMPORTANT: login failed, the selector is #submit-btn, remember the api_key token",
		Role:      "system",
		CreatedAt: now.Add(-time.Minute),
		Metadata:  map[string]interface{}{"category": "facts", "key": "sum-1"},
	}))
	for i := 0; i < 6; i++ {
		require.NoError(t, st.CreateMemoryEntry(ctx, store.MemoryEntry{
			ID:        fmt.Sprintf("msg-%d", i),
			Type:      store.MemoryEntryShortTerm,
			SessionID: "s1",
			Content:   "filler",
			Role:      "user",
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		}))
	}

	require.NoError(t, opt.OptimizeSession(ctx, "s1"))

	ids, err := st.FindMemoryByCategory(ctx, "facts", "")
	require.NoError(t, err)
	require.Contains(t, ids, "sum-1")

	entries, err := st.ListMemoryEntries(ctx, "s1")
	require.NoError(t, err)
	for _, e := range entries {
		if e.ID == "sum-1" {
			require.Equal(t, store.MemoryEntryCrossSession, e.Type)
			require.Equal(t, 1.0, e.RelevanceScore)
		}
	}
}
