package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/browseragent/taskqueue/internal/store"
)

func taskWith(id string, state store.State, deps ...string) *store.Task {
	return &store.Task{ID: id, State: state, DependsOn: deps}
}

func TestResolver_CanExecute(t *testing.T) {
	tasks := map[string]*store.Task{
		"a": taskWith("a", store.StateCompleted),
		"b": taskWith("b", store.StatePending, "a"),
		"c": taskWith("c", store.StatePending, "a", "b"),
	}
	r := NewResolver(tasks)

	assert.True(t, r.CanExecute(tasks["a"]))
	assert.True(t, r.CanExecute(tasks["b"]))
	assert.False(t, r.CanExecute(tasks["c"]))
}

func TestResolver_CanExecute_MissingDependency(t *testing.T) {
	tasks := map[string]*store.Task{
		"a": taskWith("a", store.StatePending, "ghost"),
	}
	r := NewResolver(tasks)
	assert.False(t, r.CanExecute(tasks["a"]))
}

func TestResolver_HasFailedDependency(t *testing.T) {
	tasks := map[string]*store.Task{
		"a": taskWith("a", store.StateFailed),
		"b": taskWith("b", store.StatePending, "a"),
		"c": taskWith("c", store.StateCancelled),
		"d": taskWith("d", store.StatePending, "c"),
		"e": taskWith("e", store.StatePending),
	}
	r := NewResolver(tasks)

	assert.True(t, r.HasFailedDependency(tasks["b"]))
	assert.True(t, r.HasFailedDependency(tasks["d"]))
	assert.False(t, r.HasFailedDependency(tasks["e"]))
}

func TestResolver_DetectCycle(t *testing.T) {
	acyclic := map[string]*store.Task{
		"a": taskWith("a", store.StatePending, "b"),
		"b": taskWith("b", store.StatePending, "c"),
		"c": taskWith("c", store.StateCompleted),
	}
	assert.False(t, NewResolver(acyclic).DetectCycle())

	cyclic := map[string]*store.Task{
		"a": taskWith("a", store.StatePending, "b"),
		"b": taskWith("b", store.StatePending, "c"),
		"c": taskWith("c", store.StatePending, "a"),
	}
	assert.True(t, NewResolver(cyclic).DetectCycle())

	selfLoop := map[string]*store.Task{
		"a": taskWith("a", store.StatePending, "a"),
	}
	assert.True(t, NewResolver(selfLoop).DetectCycle())
}

func TestResolver_ExecutableAndBlockedAndDoomed(t *testing.T) {
	tasks := map[string]*store.Task{
		"ready":   taskWith("ready", store.StatePending),
		"done":    taskWith("done", store.StateCompleted),
		"blocked": taskWith("blocked", store.StatePending, "done", "ready"),
		"failed":  taskWith("failed", store.StateFailed),
		"doomed":  taskWith("doomed", store.StatePending, "failed"),
	}
	candidates := []*store.Task{tasks["ready"], tasks["blocked"], tasks["doomed"]}
	r := NewResolver(tasks)

	executable := r.ExecutableTaskIDs(candidates)
	assert.ElementsMatch(t, []string{"ready"}, executable)

	blocked := r.BlockedTaskIDs(candidates)
	assert.ElementsMatch(t, []string{"blocked"}, blocked)

	doomed := r.DoomedTaskIDs(candidates)
	assert.ElementsMatch(t, []string{"doomed"}, doomed)
}
