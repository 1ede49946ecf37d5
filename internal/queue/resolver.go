// Package queue holds the task-queue's pure scheduling logic and its
// orchestration loop: dependency resolution, retry/backoff policy, the
// outbound executor, and the polling scheduler described in spec.md §4.1-4.4.
// Store remains the sole owner of persisted state; this package only reads
// and writes through a *store.Store.
package queue

import (
	"github.com/browseragent/taskqueue/internal/store"
)

// Resolver answers dependency-graph questions over an in-memory snapshot of
// tasks, grounded on the teacher's plan-graph traversal in
// pkg/routing/interfaces.go's RoutingPlan/RoutingStep shape generalized to
// task dependsOn edges instead of routing steps.
type Resolver struct {
	tasks map[string]*store.Task
}

// NewResolver builds a Resolver over a snapshot of tasks keyed by id.
func NewResolver(tasks map[string]*store.Task) *Resolver {
	return &Resolver{tasks: tasks}
}

// CanExecute reports whether every dependency of task is completed.
// Dependencies the snapshot does not contain are treated as unmet, so a
// caller building a partial snapshot never over-approves.
func (r *Resolver) CanExecute(task *store.Task) bool {
	for _, depID := range task.DependsOn {
		dep, ok := r.tasks[depID]
		if !ok || dep.State != store.StateCompleted {
			return false
		}
	}
	return true
}

// HasFailedDependency reports whether any dependency of task is failed or
// cancelled, meaning task can never become executable and should itself be
// failed rather than left waiting forever.
func (r *Resolver) HasFailedDependency(task *store.Task) bool {
	for _, depID := range task.DependsOn {
		dep, ok := r.tasks[depID]
		if !ok {
			continue
		}
		if dep.State == store.StateFailed || dep.State == store.StateCancelled {
			return true
		}
	}
	return false
}

// color marks three-color DFS visitation state for cycle detection.
type color int

const (
	white color = iota
	gray
	black
)

// DetectCycle reports whether the dependency graph over the resolver's
// snapshot contains a cycle, using iterative three-color DFS so a
// pathologically long chain cannot blow the Go call stack.
func (r *Resolver) DetectCycle() bool {
	colors := make(map[string]color, len(r.tasks))
	for id := range r.tasks {
		colors[id] = white
	}

	type frame struct {
		id   string
		next int
	}

	for start := range r.tasks {
		if colors[start] != white {
			continue
		}
		stack := []frame{{id: start}}
		colors[start] = gray
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			task, ok := r.tasks[top.id]
			if !ok || top.next >= len(task.DependsOn) {
				colors[top.id] = black
				stack = stack[:len(stack)-1]
				continue
			}
			depID := task.DependsOn[top.next]
			top.next++
			switch colors[depID] {
			case white:
				colors[depID] = gray
				stack = append(stack, frame{id: depID})
			case gray:
				return true
			case black:
				// already fully explored, no cycle through here
			}
		}
	}
	return false
}

// ExecutableTaskIDs returns, in candidate order, the ids of tasks in
// candidates whose dependencies are all satisfied and which have no failed
// dependency.
func (r *Resolver) ExecutableTaskIDs(candidates []*store.Task) []string {
	var ids []string
	for _, t := range candidates {
		if r.HasFailedDependency(t) {
			continue
		}
		if r.CanExecute(t) {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// BlockedTaskIDs returns ids of candidates that have an unmet-but-not-failed
// dependency, i.e. should remain (or move into) waiting_dependency.
func (r *Resolver) BlockedTaskIDs(candidates []*store.Task) []string {
	var ids []string
	for _, t := range candidates {
		if len(t.DependsOn) == 0 {
			continue
		}
		if r.HasFailedDependency(t) {
			continue
		}
		if !r.CanExecute(t) {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// DoomedTaskIDs returns ids of candidates that can never execute because a
// dependency has permanently failed or been cancelled.
func (r *Resolver) DoomedTaskIDs(candidates []*store.Task) []string {
	var ids []string
	for _, t := range candidates {
		if r.HasFailedDependency(t) {
			ids = append(ids, t.ID)
		}
	}
	return ids
}
