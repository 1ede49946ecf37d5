package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/browseragent/taskqueue/internal/chatclient"
	"github.com/browseragent/taskqueue/internal/logger"
	"github.com/browseragent/taskqueue/internal/resilience"
	"github.com/browseragent/taskqueue/internal/router"
	"github.com/browseragent/taskqueue/internal/store"
	"github.com/browseragent/taskqueue/internal/webhook"
)

// Executor runs a single task to completion: it calls the chat endpoint
// (through a circuit breaker), records steps as they stream in, persists
// the final result or error, fires the task's webhook if set, and feeds the
// outcome back to the router's metrics log. Grounded on the teacher's
// async_task.go TaskWorker contract, generalized from a generic async job
// runner into this domain's chat-call-plus-bookkeeping pipeline.
type Executor struct {
	store   *store.Store
	chat    *chatclient.Client
	table   *router.Table
	pool    *router.ProviderPool
	metrics *router.MetricsRecorder
	learner *router.SelfLearner
	hooks   *webhook.Notifier
	breaker *resilience.CircuitBreaker
	retry   *RetryManager
	bus     *Bus
	log     logger.Logger
}

// NewExecutor wires an Executor from its collaborators. bus may be nil, in
// which case lifecycle events are simply not published. learner may be
// nil, in which case downgrade-test samples are simply not recorded.
func NewExecutor(
	st *store.Store,
	chat *chatclient.Client,
	table *router.Table,
	pool *router.ProviderPool,
	metrics *router.MetricsRecorder,
	learner *router.SelfLearner,
	hooks *webhook.Notifier,
	breaker *resilience.CircuitBreaker,
	retry *RetryManager,
	bus *Bus,
	log logger.Logger,
) *Executor {
	return &Executor{
		store: st, chat: chat, table: table, pool: pool,
		metrics: metrics, learner: learner, hooks: hooks, breaker: breaker, retry: retry, bus: bus, log: log,
	}
}

// Run drives task through one execution attempt: transition to running,
// resolve its route, call the chat endpoint under the timeout/circuit
// breaker, persist the outcome, and fire the webhook. It does not re-run the
// task (only the chat call's connection failures and 5xx responses are
// retried inside this attempt); the Scheduler decides whether to re-enqueue
// based on the returned error.
func (x *Executor) Run(ctx context.Context, task *store.Task) error {
	timeout := time.Duration(task.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := x.store.UpdateState(runCtx, task.ID, store.StateRunning); err != nil {
		return fmt.Errorf("transition to running: %w", err)
	}
	x.publish(EventTaskStarted, task)

	startedAt := time.Now().UTC()
	if err := x.store.SetResult(runCtx, task.ID, store.ResultPatch{
		State:     statePtr(store.StateRunning),
		StartedAt: &startedAt,
	}); err != nil {
		return fmt.Errorf("stamp started_at: %w", err)
	}

	decision, llmConfig, err := x.resolveRoute(runCtx, task)
	if err != nil {
		return x.fail(runCtx, task, startedAt, err)
	}

	seq := 0
	var steps []store.TaskStep
	onEvent := func(evt chatclient.StreamEvent) {
		if evt.Type != chatclient.EventStep {
			return
		}
		step := store.TaskStep{Seq: seq, ToolName: evt.ToolName, Input: evt.Input, Output: evt.Output, At: time.Now().UTC()}
		seq++
		steps = append(steps, step)
		if err := x.store.AddStep(runCtx, task.ID, step); err != nil && x.log != nil {
			x.log.Warn("executor: failed to persist step", "task", task.ID, "error", err)
		}
	}

	req := chatclient.Request{
		Instruction: task.Instruction,
		Provider:    decision.Provider,
		Model:       decision.Model,
		Metadata:    task.Metadata,
		Extra:       llmConfig,
	}

	var outcome chatclient.Outcome
	callErr := x.breaker.Execute(runCtx, func(c context.Context) error {
		var err error
		outcome, err = x.chat.ExecuteWithRetry(c, req, x.retry.ExponentialBackOff(task), onEvent)
		if err == nil && outcome.Err != "" {
			err = fmt.Errorf("chat endpoint reported error: %s", outcome.Err)
		}
		return err
	})

	success := callErr == nil
	latency := time.Since(startedAt)
	if x.metrics != nil {
		if err := x.metrics.Record(runCtx, task.Instruction, decision.Provider, decision.Model, success, latency, 0); err != nil && x.log != nil {
			x.log.Warn("executor: failed to record router metric", "task", task.ID, "error", err)
		}
	}
	if x.learner != nil && decision.Reason == router.ReasonDowngradeTest {
		if err := x.learner.RecordDowngradeSample(runCtx, task.Instruction, success); err != nil && x.log != nil {
			x.log.Warn("executor: failed to record downgrade test sample", "task", task.ID, "error", err)
		}
	}

	if callErr != nil {
		return x.fail(runCtx, task, startedAt, callErr)
	}

	completedAt := time.Now().UTC()
	execMs := completedAt.Sub(startedAt).Milliseconds()
	if err := x.store.SetResult(runCtx, task.ID, store.ResultPatch{
		State:           statePtr(store.StateCompleted),
		Result:          outcome.Result,
		CompletedAt:     &completedAt,
		ExecutionTimeMs: &execMs,
	}); err != nil {
		return fmt.Errorf("persist result: %w", err)
	}
	if err := x.store.UpdateState(runCtx, task.ID, store.StateCompleted); err != nil {
		return fmt.Errorf("transition to completed: %w", err)
	}

	x.publish(EventTaskCompleted, task)
	x.notify(ctx, task, store.StateCompleted, outcome.Result, "")
	return nil
}

// publish dispatches a lifecycle event on the bus, if one was wired in.
func (x *Executor) publish(t EventType, task *store.Task) {
	if x.bus == nil {
		return
	}
	x.bus.Publish(Event{Type: t, Task: task})
}

// resolveRoute resolves this task's tool route and builds the provider
// config to attach to the chat request. A task's own llmConfig, when set,
// bypasses the router entirely (an explicit per-task override).
func (x *Executor) resolveRoute(ctx context.Context, task *store.Task) (router.Decision, map[string]interface{}, error) {
	if len(task.LLMConfig) > 0 {
		provider, _ := task.LLMConfig["provider"].(string)
		model, _ := task.LLMConfig["model"].(string)
		return router.Decision{ToolName: task.Instruction, Provider: provider, Model: model, Reason: router.ReasonOptimized}, task.LLMConfig, nil
	}

	decision, err := x.table.Resolve(ctx, task.Instruction)
	if err != nil {
		return router.Decision{}, nil, fmt.Errorf("resolve route: %w", err)
	}
	if decision.Provider == "" {
		return router.Decision{}, nil, fmt.Errorf("no provider available for task")
	}
	cfg, err := x.pool.BuildLLMConfig(decision)
	if err != nil {
		return router.Decision{}, nil, err
	}
	return decision, cfg, nil
}

// fail records a failure outcome and returns the triggering error so the
// Scheduler can decide whether to retry. The failure event and webhook
// only fire once the Scheduler's retry policy has no attempts left for
// this task; an attempt that will be retried stays internal to this
// execution, per spec.md §4.4's "suppress propagation for this attempt".
func (x *Executor) fail(ctx context.Context, task *store.Task, startedAt time.Time, cause error) error {
	completedAt := time.Now().UTC()
	execMs := completedAt.Sub(startedAt).Milliseconds()
	errMsg := cause.Error()
	if err := x.store.SetResult(ctx, task.ID, store.ResultPatch{
		State:           statePtr(store.StateFailed),
		Error:           &errMsg,
		CompletedAt:     &completedAt,
		ExecutionTimeMs: &execMs,
	}); err != nil && x.log != nil {
		x.log.Error("executor: failed to persist failure result", "task", task.ID, "error", err)
	}
	if !x.retry.ShouldRetry(task) {
		x.publish(EventTaskFailed, task)
		x.notify(ctx, task, store.StateFailed, nil, errMsg)
	}
	return cause
}

// notify fires the task's webhook, if set, best-effort: delivery failure is
// logged but never changes the task's own outcome.
func (x *Executor) notify(ctx context.Context, task *store.Task, state store.State, result json.RawMessage, errMsg string) {
	if task.WebhookURL == "" || x.hooks == nil {
		return
	}
	var resultVal interface{}
	if len(result) > 0 {
		_ = json.Unmarshal(result, &resultVal)
	}
	payload := webhook.Payload{
		TaskID:    task.ID,
		BatchID:   task.BatchID,
		State:     string(state),
		Result:    resultVal,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	}
	hookCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := x.hooks.Send(hookCtx, task.WebhookURL, payload); err != nil && x.log != nil {
		x.log.Warn("executor: webhook delivery failed", "task", task.ID, "error", err)
	}
	_ = ctx
}

func statePtr(s store.State) *store.State { return &s }
