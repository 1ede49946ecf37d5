package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/browseragent/taskqueue/internal/store"
)

// compressedContent produces a placeholder summary for an entry being
// compressed. A production deployment would call back into the chat
// endpoint for a real summarization; this package only owns the
// compress/drop/promote decision, not summary generation.
func compressedContent(e *store.MemoryEntry) string {
	const maxLen = 200
	c := e.Content
	if len(c) > maxLen {
		c = c[:maxLen]
	}
	return fmt.Sprintf("[compressed] %s", c)
}

// entryAction is the per-entry verdict the analyzer's decision rules
// produce; spec.md §4.8 names a fourth kind, demote, that the optimizer
// never acts on.
type entryAction int

const (
	actionNone entryAction = iota
	actionDrop
	actionCompress
	actionPromote
)

// OptimizeSession runs one full pass over a session's memory entries:
// score everything outside the full-message window, compress, drop, or
// promote per the MemoryAnalyzer contract, persist a snapshot of the
// pass, and adapt compressionTrigger/fullMessageWindow/minRelevance
// toward targetUsage.
func (o *Optimizer) OptimizeSession(ctx context.Context, sessionID string) error {
	entries, err := o.store.ListMemoryEntries(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(entries) < o.minEntriesForOptimize {
		return nil
	}

	analyzer := NewAnalyzer()

	tokensBefore := 0
	for _, e := range entries {
		tokensBefore += EstimatedTokens(o.tokens, e)
	}

	window := o.params.FullMessageWindow
	cutoff := len(entries) - window
	if cutoff < 0 {
		cutoff = 0
	}
	candidates := entries[:cutoff]

	decisions := make(map[string]entryAction, len(candidates))
	for _, e := range candidates {
		score := analyzer.Score(e)
		if err := o.store.UpdateMemoryRelevance(ctx, e.ID, score); err != nil {
			return err
		}

		switch {
		case score < o.params.MinRelevance:
			if e.IsCompressed {
				decisions[e.ID] = actionDrop
			} else {
				decisions[e.ID] = actionCompress
			}
		case e.Type == store.MemoryEntryShortTerm && score >= keyFactPromoteThreshold && IsKeyFact(e.Content):
			decisions[e.ID] = actionPromote
		}
	}

	// Pairwise Jaccard redundancy: flag the older of a near-duplicate pair
	// for compression, unless it's already otherwise flagged.
	for i, older := range candidates {
		if decisions[older.ID] != actionNone || older.IsCompressed {
			continue
		}
		for _, newer := range candidates[i+1:] {
			if Redundant(older.Content, newer.Content, redundancySimilarityThreshold) {
				decisions[older.ID] = actionCompress
				break
			}
		}
	}

	compressed, dropped, promoted := 0, 0, 0
	now := time.Now().UTC()

	for _, e := range candidates {
		switch decisions[e.ID] {
		case actionDrop:
			if err := o.store.DropMemoryEntry(ctx, e.ID); err != nil {
				return err
			}
			dropped++
		case actionCompress:
			content := compressedContent(e)
			tokens := EstimatedTokens(o.tokens, &store.MemoryEntry{Content: content})
			if err := o.store.CompressMemoryEntry(ctx, e.ID, content, tokens, now); err != nil {
				return err
			}
			compressed++
		case actionPromote:
			if err := o.store.PromoteMemoryEntry(ctx, e.ID); err != nil {
				return err
			}
			category, key := promotionKey(e)
			if category == "" {
				category, key = keyFactCategory(e.Content), e.ID
			}
			if err := o.store.UpsertMemoryVector(ctx, store.MemoryVector{
				EntryID:  e.ID,
				Category: category,
				Key:      key,
			}); err != nil {
				return err
			}
			promoted++
		}
	}

	remaining, err := o.store.ListMemoryEntries(ctx, sessionID)
	if err != nil {
		return err
	}
	tokensAfter := 0
	for _, e := range remaining {
		tokensAfter += EstimatedTokens(o.tokens, e)
	}

	if err := o.store.RecordSnapshot(ctx, store.OptimizationSnapshot{
		TokensBefore: tokensBefore,
		TokensAfter:  tokensAfter,
		Compressed:   compressed,
		Dropped:      dropped,
		Promoted:     promoted,
		Parameters: map[string]float64{
			paramKeyCompressionTrigger: o.params.CompressionTrigger,
			paramKeyFullMessageWindow:  float64(o.params.FullMessageWindow),
			paramKeyMinRelevance:       o.params.MinRelevance,
		},
		CreatedAt: now,
	}); err != nil {
		return err
	}
	if err := o.store.PruneSnapshots(ctx, o.maxHistoryEntries); err != nil {
		return err
	}

	usageRatio := float64(tokensAfter) / float64(o.budget)
	o.adapt(ctx, usageRatio, tokensBefore, tokensAfter, now)

	if o.log != nil {
		o.log.Info("memory optimizer pass complete", "session", sessionID,
			"compressed", compressed, "dropped", dropped, "promoted", promoted, "usageRatio", usageRatio)
	}
	return nil
}

// promotionKey derives a (category, key) pair from an entry's metadata, if
// present, under which it should be indexed for cross-session recall.
// Entries without a "category" metadata field fall back to a
// content-derived category in the caller.
func promotionKey(e *store.MemoryEntry) (string, string) {
	if e.Metadata == nil {
		return "", ""
	}
	category, _ := e.Metadata["category"].(string)
	key, _ := e.Metadata["key"].(string)
	return category, key
}

// adapt applies spec.md §4.8 step 5's three-rule piecewise adjustment:
// rule 1 fires when usage is running well above target, rule 2 when it's
// running well below, and rule 3 layers an extra correction on top of
// rule 1 (or applies on its own) when redundancy compression barely
// reclaimed any tokens while usage is still above target. Each rule's own bound clamps only the
// parameters it touches.
func (o *Optimizer) adapt(ctx context.Context, usageRatio float64, tokensBefore, tokensAfter int, at time.Time) {
	lr := o.learningRate
	errTerm := usageRatio - o.targetUsage

	switch {
	case errTerm > 0.10:
		o.params.CompressionTrigger -= lr
		o.params.CompressionTrigger = clampFloat(o.params.CompressionTrigger, compressionTriggerFloorRule1, 1)
		o.params.FullMessageWindow -= 2
		o.params.FullMessageWindow = clampInt(o.params.FullMessageWindow, fullMessageWindowFloorRule1, fullMessageWindowCeilRule2)
		o.params.MinRelevance += lr
		o.params.MinRelevance = clampFloat(o.params.MinRelevance, 0, minRelevanceCeilRule1)
	case errTerm < -0.15:
		o.params.CompressionTrigger += 0.5 * lr
		o.params.CompressionTrigger = clampFloat(o.params.CompressionTrigger, 0, compressionTriggerCeilRule2)
		o.params.FullMessageWindow += 1
		o.params.FullMessageWindow = clampInt(o.params.FullMessageWindow, 0, fullMessageWindowCeilRule2)
		o.params.MinRelevance -= 0.5 * lr
		o.params.MinRelevance = clampFloat(o.params.MinRelevance, minRelevanceFloorRule2, 1)
	}

	savingsRatio := 0.0
	if tokensBefore > 0 {
		savingsRatio = float64(tokensBefore-tokensAfter) / float64(tokensBefore)
	}
	if savingsRatio < 0.05 && usageRatio > o.targetUsage {
		o.params.CompressionTrigger -= 2 * lr
		o.params.CompressionTrigger = clampFloat(o.params.CompressionTrigger, compressionTriggerFloorRule3, 1)
		o.params.MinRelevance += 2 * lr
		o.params.MinRelevance = clampFloat(o.params.MinRelevance, 0, minRelevanceCeilRule3)
	}

	for key, val := range map[string]float64{
		paramKeyCompressionTrigger: o.params.CompressionTrigger,
		paramKeyFullMessageWindow:  float64(o.params.FullMessageWindow),
		paramKeyMinRelevance:       o.params.MinRelevance,
	} {
		if err := o.store.SetAdaptiveParameter(ctx, key, val, at); err != nil && o.log != nil {
			o.log.Error("optimizer: persisting adaptive parameter failed", "key", key, "error", err)
		}
	}
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
