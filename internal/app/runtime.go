// Package app wires every component into a single Runtime at startup,
// grounded on the teacher's constructor-injection convention (no
// package-level globals; every component takes its collaborators through
// its constructor). cmd/taskqueue-server only ever touches this package.
package app

import (
	"context"

	"github.com/browseragent/taskqueue/internal/chatclient"
	"github.com/browseragent/taskqueue/internal/config"
	"github.com/browseragent/taskqueue/internal/logger"
	"github.com/browseragent/taskqueue/internal/memory"
	"github.com/browseragent/taskqueue/internal/queue"
	"github.com/browseragent/taskqueue/internal/resilience"
	"github.com/browseragent/taskqueue/internal/router"
	"github.com/browseragent/taskqueue/internal/store"
	"github.com/browseragent/taskqueue/internal/webhook"
)

// Runtime holds the single instance of every long-lived component. It is
// built once by New and passed by reference into the HTTP layer and
// background loops; nothing else constructs its own copy of these.
type Runtime struct {
	Config *config.Config
	Logger logger.Logger
	Store  *store.Store

	Table       *router.Table
	Providers   *router.ProviderPool
	Metrics     *router.MetricsRecorder
	SelfLearner *router.SelfLearner

	Optimizer *memory.Optimizer

	Bus       *queue.Bus
	Executor  *queue.Executor
	Scheduler *queue.Scheduler
	RetryMgr  *queue.RetryManager

	Chat    *chatclient.Client
	Hooks   *webhook.Notifier
	Breaker *resilience.CircuitBreaker
}

// New constructs a fully-wired Runtime against cfg. The caller owns
// shutting it down via Close.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*Runtime, error) {
	st, err := store.Open(cfg.DBPath, log)
	if err != nil {
		return nil, err
	}

	table := router.NewTable(st, cfg.FallbackProvider, cfg.FallbackModel)
	providers := router.NewProviderPool()
	metrics := router.NewMetricsRecorder(st)
	learner := router.NewSelfLearner(st, table, log, router.Config{
		MinCallsForOptimization: cfg.MinCallsForOptimization,
		SuccessRateUpgrade:      cfg.SuccessRateUpgrade,
		DowngradeTestInterval:   cfg.DowngradeTestInterval,
		DowngradeTestSample:     cfg.DowngradeTestSample,
		SuccessRateKeep:         cfg.SuccessRateKeep,
	})

	optimizer, err := memory.New(ctx, st, log, nil, memory.Config{
		LearningRate:          cfg.OptimizerLearningRate,
		TargetUsageRatio:      cfg.TargetUsageRatio,
		MinEntriesForOptimize: cfg.MinEntriesForOptimize,
		MaxHistoryEntries:     cfg.MaxHistoryEntries,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	chat := chatclient.New(cfg.ChatEndpointURL, cfg.DefaultTimeout, log)
	hooks := webhook.New(cfg.WebhookTimeout, log)
	breaker := resilience.New(resilience.DefaultConfig())
	retry := queue.NewRetryManager(cfg.MaxRetries, cfg.DefaultBackoffMs, cfg.BackoffMultiplier, cfg.MaxBackoffMs)
	bus := queue.NewBus()

	bus.Subscribe(queue.EventTaskStarted, func(e queue.Event) {
		log.Debug("task started", "task", e.Task.ID)
	})
	bus.Subscribe(queue.EventTaskCompleted, func(e queue.Event) {
		log.Info("task completed", "task", e.Task.ID)
	})
	bus.Subscribe(queue.EventTaskFailed, func(e queue.Event) {
		log.Warn("task failed", "task", e.Task.ID)
	})

	exec := queue.NewExecutor(st, chat, table, providers, metrics, learner, hooks, breaker, retry, bus, log)
	scheduler := queue.NewScheduler(st, exec, retry, log, cfg.MaxConcurrent, cfg.SchedulerTick)

	return &Runtime{
		Config: cfg, Logger: log, Store: st,
		Table: table, Providers: providers, Metrics: metrics, SelfLearner: learner,
		Optimizer: optimizer,
		Bus:       bus, Executor: exec, Scheduler: scheduler, RetryMgr: retry,
		Chat: chat, Hooks: hooks, Breaker: breaker,
	}, nil
}

// RegisterProvider adds credentials for an LLM provider to the runtime's
// pool. Call this during startup for every provider the deployment has
// keys for; tasks routed to an unregistered provider fail with
// no_available_provider.
func (r *Runtime) RegisterProvider(name string, opts ...router.Option) {
	r.Providers.Register(name, router.NewCredentials(opts...))
}

// Start launches the scheduler, self-learner, and memory optimizer
// background loops. It returns immediately; loops run until ctx is
// cancelled.
func (r *Runtime) Start(ctx context.Context) {
	go r.Scheduler.Run(ctx)
	go r.SelfLearner.Run(ctx, r.Config.SelfLearnInterval)
	go r.Optimizer.Run(ctx, r.Config.OptimizerInterval, r.activeSessionIDs)
}

// activeSessionIDs lists sessions with at least one memory entry, the
// optimizer's sweep target each cycle. Grounded on store.Store's
// session-scoped memory_entries index.
func (r *Runtime) activeSessionIDs(ctx context.Context) ([]string, error) {
	return r.Store.ListMemorySessions(ctx)
}

// Close releases the underlying database connection.
func (r *Runtime) Close() error {
	return r.Store.Close()
}
