package router

import (
	"context"
	"time"

	"github.com/browseragent/taskqueue/internal/logger"
	"github.com/browseragent/taskqueue/internal/store"
)

// SelfLearner periodically reviews router_metrics and adjusts routing
// without operator input: escalating a tool off a model that is failing
// too often, and proposing (then evaluating) downgrade tests that try a
// cheaper model against a small live sample before committing to it.
// Grounded on the teacher's pkg/routing RoutingCache/CacheStats idea of a
// background process reconciling learned state, generalized from a cache
// eviction policy into a three-pass cost/quality optimization cycle.
type SelfLearner struct {
	store *store.Store
	table *Table
	log   logger.Logger

	minCallsForOptimization int
	successRateUpgrade      float64
	downgradeTestInterval   int
	downgradeTestSample     int
	successRateKeep         float64
}

// Config tunes the self-learner's thresholds; the zero value is invalid,
// use NewSelfLearner which applies spec-documented defaults for any unset
// field.
type Config struct {
	MinCallsForOptimization int
	SuccessRateUpgrade      float64
	DowngradeTestInterval   int
	DowngradeTestSample     int
	SuccessRateKeep         float64
}

// NewSelfLearner builds a SelfLearner over st and table.
func NewSelfLearner(st *store.Store, table *Table, log logger.Logger, cfg Config) *SelfLearner {
	if cfg.MinCallsForOptimization <= 0 {
		cfg.MinCallsForOptimization = 10
	}
	if cfg.SuccessRateUpgrade <= 0 {
		cfg.SuccessRateUpgrade = 0.7
	}
	if cfg.DowngradeTestInterval <= 0 {
		cfg.DowngradeTestInterval = 500
	}
	if cfg.DowngradeTestSample <= 0 {
		cfg.DowngradeTestSample = 10
	}
	if cfg.SuccessRateKeep <= 0 {
		cfg.SuccessRateKeep = 0.9
	}
	return &SelfLearner{
		store:                   st,
		table:                   table,
		log:                     log,
		minCallsForOptimization: cfg.MinCallsForOptimization,
		successRateUpgrade:      cfg.SuccessRateUpgrade,
		downgradeTestInterval:   cfg.DowngradeTestInterval,
		downgradeTestSample:     cfg.DowngradeTestSample,
		successRateKeep:         cfg.SuccessRateKeep,
	}
}

// Run ticks every interval until ctx is cancelled, executing the three
// passes in order each cycle.
func (l *SelfLearner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.RunOnce(ctx)
		}
	}
}

// RunOnce executes the upgrade-by-failure, schedule-downgrade-test, and
// evaluate-downgrade-test passes a single time, synchronously. Run calls
// it on every tick; it is exported so a cycle can also be run on demand.
func (l *SelfLearner) RunOnce(ctx context.Context) {
	if err := l.upgradeByFailure(ctx); err != nil && l.log != nil {
		l.log.Error("self-learner upgrade pass failed", "error", err)
	}
	if err := l.scheduleDowngradeTests(ctx); err != nil && l.log != nil {
		l.log.Error("self-learner downgrade-schedule pass failed", "error", err)
	}
	if err := l.evaluateDowngradeTests(ctx); err != nil && l.log != nil {
		l.log.Error("self-learner downgrade-evaluate pass failed", "error", err)
	}
}

// upgradeByFailure moves a tool's current default to the next tier up when
// its aggregated success rate over at least minCallsForOptimization calls
// falls below successRateUpgrade.
func (l *SelfLearner) upgradeByFailure(ctx context.Context) error {
	aggs, err := l.store.AggregateMetrics(ctx, "", 0)
	if err != nil {
		return err
	}
	for _, a := range aggs {
		if a.TotalCalls < l.minCallsForOptimization {
			continue
		}
		if a.SuccessRate() >= l.successRateUpgrade {
			continue
		}
		up, ok := nextUp(a.Provider, a.Model)
		if !ok {
			continue
		}
		if err := l.store.RecordOptimization(ctx, store.RoutingOptimization{
			ToolName:    a.ToolName,
			OldProvider: a.Provider,
			OldModel:    a.Model,
			NewProvider: up.provider,
			NewModel:    up.model,
			Reason:      "success_rate_below_threshold",
			CreatedAt:   time.Now().UTC(),
		}); err != nil {
			return err
		}
		if l.log != nil {
			l.log.Info("self-learner upgraded tool", "tool", a.ToolName, "from", a.Model, "to", up.model)
		}
	}
	return nil
}

// scheduleDowngradeTests proposes a cheaper tier for each (tool, provider,
// model) aggregate whose total call count is a nonzero multiple of
// downgradeTestInterval, whose success rate is at least successRateKeep,
// which has a lower tier to move to, and whose tool doesn't already have
// an active test.
func (l *SelfLearner) scheduleDowngradeTests(ctx context.Context) error {
	aggs, err := l.store.AggregateMetrics(ctx, "", 0)
	if err != nil {
		return err
	}
	for _, a := range aggs {
		if a.TotalCalls == 0 || a.TotalCalls%l.downgradeTestInterval != 0 {
			continue
		}
		if a.SuccessRate() < l.successRateKeep {
			continue
		}
		down, ok := nextDown(a.Provider, a.Model)
		if !ok {
			continue
		}
		active, err := l.store.HasActiveDowngradeTest(ctx, a.ToolName)
		if err != nil {
			return err
		}
		if active {
			continue
		}
		if _, err := l.store.ScheduleDowngradeTest(ctx, store.DowngradeTest{
			ToolName:  a.ToolName,
			FromModel: a.Model,
			ToModel:   down.model,
			Provider:  down.provider,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		if l.log != nil {
			l.log.Info("self-learner scheduled downgrade test", "tool", a.ToolName, "from", a.Model, "to", down.model)
		}
	}
	return nil
}

// evaluateDowngradeTests finalizes any active test that has accumulated
// downgradeTestSample results, committing the downgrade as a routing
// optimization when its success rate holds at successRateKeep or above,
// and discarding it otherwise.
func (l *SelfLearner) evaluateDowngradeTests(ctx context.Context) error {
	tests, err := l.store.ListActiveDowngradeTests(ctx)
	if err != nil {
		return err
	}
	for _, t := range tests {
		if t.SampleSize < l.downgradeTestSample {
			continue
		}
		rate := 0.0
		if t.SampleSize > 0 {
			rate = float64(t.SuccessCount) / float64(t.SampleSize)
		}
		now := time.Now().UTC()
		if rate >= l.successRateKeep {
			if err := l.store.CompleteDowngradeTest(ctx, t.ID, store.DowngradeTestPassed, now); err != nil {
				return err
			}
			if err := l.store.RecordOptimization(ctx, store.RoutingOptimization{
				ToolName:    t.ToolName,
				OldProvider: t.Provider,
				OldModel:    t.FromModel,
				NewProvider: t.Provider,
				NewModel:    t.ToModel,
				Reason:      "downgrade_test_passed",
				CreatedAt:   now,
			}); err != nil {
				return err
			}
			if l.log != nil {
				l.log.Info("self-learner committed downgrade", "tool", t.ToolName, "to", t.ToModel)
			}
		} else {
			if err := l.store.CompleteDowngradeTest(ctx, t.ID, store.DowngradeTestFailed, now); err != nil {
				return err
			}
			if l.log != nil {
				l.log.Info("self-learner rejected downgrade", "tool", t.ToolName, "candidate", t.ToModel)
			}
		}
	}
	return nil
}

// RecordDowngradeSample feeds one live call outcome into the active
// downgrade test for toolName, if one is running. Called by the
// Executor immediately after a chat call completes with reason
// ReasonDowngradeTest.
func (l *SelfLearner) RecordDowngradeSample(ctx context.Context, toolName string, success bool) error {
	tests, err := l.store.ListActiveDowngradeTests(ctx)
	if err != nil {
		return err
	}
	for _, t := range tests {
		if t.ToolName != toolName {
			continue
		}
		return l.store.RecordDowngradeTestResult(ctx, t.ID, success)
	}
	return nil
}
