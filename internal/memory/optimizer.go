// Package memory implements the Adaptive Memory Optimizer from spec.md
// §4.8: a controller that scores conversational memory entries, compresses
// or drops the least relevant ones to keep token usage near a target
// ratio, and adapts its own thresholds over time based on how full the
// context window has been running. Grounded on the teacher's pkg/memory
// Memory interface (Set/Get/Delete/SetTTL) for the storage contract shape,
// generalized here into relevance-scored entries backed by store.Store
// instead of a flat key/value TTL cache.
package memory

import (
	"context"
	"time"

	"github.com/browseragent/taskqueue/internal/logger"
	"github.com/browseragent/taskqueue/internal/store"
)

// Params are the controller's live, self-adjusting thresholds, persisted
// in adaptive_parameters so a restart resumes from the last-learned state
// instead of the documented defaults.
type Params struct {
	CompressionTrigger float64 // adapted and persisted; OptimizeSession does not consult it
	FullMessageWindow  int     // most-recent N entries kept uncompressed
	MinRelevance       float64 // entries scoring below this are compressed, or dropped if already compressed
}

// DefaultParams returns spec.md §4.8's documented starting point.
func DefaultParams() Params {
	return Params{
		CompressionTrigger: 0.75,
		FullMessageWindow:  20,
		MinRelevance:       0.2,
	}
}

const (
	paramKeyCompressionTrigger = "compressionTrigger"
	paramKeyFullMessageWindow  = "fullMessageWindow"
	paramKeyMinRelevance       = "minRelevance"
)

// Per-branch clamp bounds for adapt's three-rule adjustment, named for the
// rule that applies them (spec.md §4.8 step 5). Rule 3's compressionTrigger
// floor sits below rule 1's because it fires on top of rule 1 in the same
// pass when redundancy compression saved almost nothing.
const (
	compressionTriggerFloorRule1 = 0.40
	compressionTriggerCeilRule2  = 0.85
	compressionTriggerFloorRule3 = 0.35

	fullMessageWindowFloorRule1 = 10
	fullMessageWindowCeilRule2  = 50

	minRelevanceCeilRule1  = 0.60
	minRelevanceFloorRule2 = 0.15
	minRelevanceCeilRule3  = 0.70

	// redundancySimilarityThreshold is the Jaccard word-overlap cutoff the
	// MemoryAnalyzer contract names for flagging one of a pair of entries
	// as a near-duplicate worth compressing.
	redundancySimilarityThreshold = 0.9

	// keyFactPromoteThreshold is the minimum analyzer score the promote
	// rule requires alongside type=short_term and a key-fact content match.
	keyFactPromoteThreshold = 0.8
)

// TokenCounter estimates the token cost of a string. It is an interface so
// tests can supply a trivial counter (e.g. len(s)/4) without pulling in a
// real tokenizer.
type TokenCounter interface {
	Count(s string) int
}

// Optimizer is the periodic controller described in spec.md §4.8. One
// Optimizer instance optimizes every session it is given, sharing one set
// of adaptive parameters across them.
type Optimizer struct {
	store   *store.Store
	log     logger.Logger
	tokens  TokenCounter
	budget  int // max tokens considered "full" usage (ratio denominator)

	learningRate   float64
	targetUsage    float64
	minEntriesForOptimize int
	maxHistoryEntries     int

	params Params
}

// Config tunes Optimizer construction; zero values fall back to spec
// defaults.
type Config struct {
	TokenBudget           int
	LearningRate          float64
	TargetUsageRatio      float64
	MinEntriesForOptimize int
	MaxHistoryEntries     int
}

// New builds an Optimizer backed by st, loading any previously persisted
// adaptive parameters.
func New(ctx context.Context, st *store.Store, log logger.Logger, tokens TokenCounter, cfg Config) (*Optimizer, error) {
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.05
	}
	if cfg.TargetUsageRatio <= 0 {
		cfg.TargetUsageRatio = 0.65
	}
	if cfg.MinEntriesForOptimize <= 0 {
		cfg.MinEntriesForOptimize = 10
	}
	if cfg.MaxHistoryEntries <= 0 {
		cfg.MaxHistoryEntries = 500
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = 128000
	}

	o := &Optimizer{
		store:                 st,
		log:                   log,
		tokens:                tokens,
		budget:                cfg.TokenBudget,
		learningRate:          cfg.LearningRate,
		targetUsage:           cfg.TargetUsageRatio,
		minEntriesForOptimize: cfg.MinEntriesForOptimize,
		maxHistoryEntries:     cfg.MaxHistoryEntries,
		params:                DefaultParams(),
	}

	saved, err := st.AllAdaptiveParameters(ctx)
	if err != nil {
		return nil, err
	}
	if v, ok := saved[paramKeyCompressionTrigger]; ok {
		o.params.CompressionTrigger = v
	}
	if v, ok := saved[paramKeyFullMessageWindow]; ok {
		o.params.FullMessageWindow = int(v)
	}
	if v, ok := saved[paramKeyMinRelevance]; ok {
		o.params.MinRelevance = v
	}
	return o, nil
}

// Run ticks every interval until ctx is cancelled, optimizing every active
// session it finds entries for.
func (o *Optimizer) Run(ctx context.Context, interval time.Duration, sessionIDs func(context.Context) ([]string, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := sessionIDs(ctx)
			if err != nil {
				if o.log != nil {
					o.log.Error("optimizer: listing sessions failed", "error", err)
				}
				continue
			}
			for _, id := range ids {
				if err := o.OptimizeSession(ctx, id); err != nil && o.log != nil {
					o.log.Error("optimizer: pass failed", "session", id, "error", err)
				}
			}
		}
	}
}

// CurrentParams returns a copy of the controller's current thresholds.
func (o *Optimizer) CurrentParams() Params {
	return o.params
}
