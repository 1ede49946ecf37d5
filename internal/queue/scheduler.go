package queue

import (
	"context"
	"sync"
	"time"

	"github.com/browseragent/taskqueue/internal/logger"
	"github.com/browseragent/taskqueue/internal/store"
)

// Scheduler polls the store for dispatchable tasks and runs up to
// maxConcurrent of them at a time, honoring priority order and dependency
// gating. Grounded on the teacher's async_task.go TaskQueue/TaskWorker pair,
// generalized from an in-memory channel-backed queue into a SQLite-polling
// loop since Store is the task system of record here.
type Scheduler struct {
	store    *store.Store
	exec     *Executor
	retry    *RetryManager
	log      logger.Logger

	maxConcurrent int
	tick          time.Duration

	mu       sync.Mutex
	running  map[string]context.CancelFunc
	sem      chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler builds a Scheduler that runs at most maxConcurrent tasks
// simultaneously, polling every tick.
func NewScheduler(st *store.Store, exec *Executor, retry *RetryManager, log logger.Logger, maxConcurrent int, tick time.Duration) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Scheduler{
		store:         st,
		exec:          exec,
		retry:         retry,
		log:           log,
		maxConcurrent: maxConcurrent,
		tick:          tick,
		running:       map[string]context.CancelFunc{},
		sem:           make(chan struct{}, maxConcurrent),
	}
}

// Run polls until ctx is cancelled, then waits for in-flight tasks to
// finish before returning.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.dispatchOnce(ctx)
		}
	}
}

// dispatchOnce loads dispatch candidates, resolves dependency gating over
// the full snapshot needed to evaluate them, and launches as many
// executable tasks as available concurrency slots allow.
func (s *Scheduler) dispatchOnce(ctx context.Context) {
	candidates, err := s.store.GetNextPendingTasks(ctx, s.maxConcurrent*4)
	if err != nil {
		if s.log != nil {
			s.log.Error("scheduler: failed to load candidates", "error", err)
		}
		return
	}
	if len(candidates) == 0 {
		return
	}

	depIDs := map[string]struct{}{}
	for _, t := range candidates {
		for _, d := range t.DependsOn {
			depIDs[d] = struct{}{}
		}
	}
	ids := make([]string, 0, len(depIDs))
	for id := range depIDs {
		ids = append(ids, id)
	}
	deps, err := s.store.GetTasksByIDs(ctx, ids)
	if err != nil {
		if s.log != nil {
			s.log.Error("scheduler: failed to load dependency snapshot", "error", err)
		}
		return
	}

	snapshot := make(map[string]*store.Task, len(candidates)+len(deps))
	for _, t := range candidates {
		snapshot[t.ID] = t
	}
	for id, t := range deps {
		snapshot[id] = t
	}
	resolver := NewResolver(snapshot)

	for _, doomedID := range resolver.DoomedTaskIDs(candidates) {
		if err := s.store.UpdateState(ctx, doomedID, store.StateFailed); err != nil && s.log != nil {
			s.log.Error("scheduler: failed to fail doomed task", "task", doomedID, "error", err)
		}
	}
	for _, blockedID := range resolver.BlockedTaskIDs(candidates) {
		if err := s.store.UpdateState(ctx, blockedID, store.StateWaitingDependency); err != nil && s.log != nil {
			s.log.Error("scheduler: failed to mark waiting_dependency", "task", blockedID, "error", err)
		}
	}

	executableIDs := resolver.ExecutableTaskIDs(candidates)
	byID := make(map[string]*store.Task, len(candidates))
	for _, t := range candidates {
		byID[t.ID] = t
	}

	for _, id := range executableIDs {
		select {
		case s.sem <- struct{}{}:
		default:
			return // at capacity, remaining candidates wait for next tick
		}
		task := byID[id]
		if err := s.store.UpdateState(ctx, task.ID, store.StateQueued); err != nil {
			if s.log != nil {
				s.log.Error("scheduler: failed to mark task queued", "task", task.ID, "error", err)
			}
			<-s.sem
			continue
		}
		task.State = store.StateQueued
		s.launch(ctx, task)
	}
}

// launch runs task in its own goroutine, tracking a cancel func so Cancel
// can interrupt it and releasing the concurrency slot when done.
func (s *Scheduler) launch(ctx context.Context, task *store.Task) {
	taskCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.running[task.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			<-s.sem
			s.mu.Lock()
			delete(s.running, task.ID)
			s.mu.Unlock()
			cancel()
		}()

		err := s.exec.Run(taskCtx, task)
		if err == nil {
			return
		}
		s.handleFailure(ctx, task)
	}()
}

// handleFailure decides whether a failed task gets retried (bumping
// retryCount, waiting the backoff window, then re-queuing) or left failed.
func (s *Scheduler) handleFailure(ctx context.Context, task *store.Task) {
	if !s.retry.ShouldRetry(task) {
		return
	}
	newCount, err := s.store.IncrementRetry(ctx, task.ID)
	if err != nil {
		if s.log != nil {
			s.log.Error("scheduler: failed to increment retry count", "task", task.ID, "error", err)
		}
		return
	}
	task.RetryCount = newCount

	go func() {
		waitCtx, cancel := context.WithTimeout(context.Background(), s.retry.BackoffDuration(task)+5*time.Second)
		defer cancel()
		if err := s.retry.WaitForRetry(waitCtx, task); err != nil {
			return
		}
		if err := s.store.UpdateState(context.Background(), task.ID, store.StatePending); err != nil && s.log != nil {
			s.log.Error("scheduler: failed to re-enqueue task after backoff", "task", task.ID, "error", err)
		}
	}()
}

// Cancel interrupts task.ID's in-flight execution, if running, and marks it
// cancelled. If the task is not currently running, it is simply marked
// cancelled so the scheduler skips it on the next poll.
func (s *Scheduler) Cancel(ctx context.Context, taskID string) error {
	s.mu.Lock()
	cancel, running := s.running[taskID]
	s.mu.Unlock()
	if running {
		cancel()
	}
	return s.store.UpdateState(ctx, taskID, store.StateCancelled)
}
