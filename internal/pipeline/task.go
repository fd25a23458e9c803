package pipeline

import (
	"context"

	"github.com/jonathan/career-pipeline/internal/types"
)

// Task is the uniform contract every stage collaborator implements.
//
// A returned error is a Collaborator Fault and is fatal to the run. A task that
// catches its own failure should instead return a Result whose Degraded()
// is non-empty; the engine treats that as success and keeps going.
type Task interface {
	Name() string
	Execute(ctx context.Context, snapshot types.Snapshot) (Result, error)
}

// Result is a task's output. Apply folds it into the run's working snapshot.
type Result interface {
	Apply(snapshot *types.Snapshot)
	Degraded() string
}

// TaskFunc adapts a function to the Task interface
type TaskFunc struct {
	TaskName string
	Fn       func(ctx context.Context, snapshot types.Snapshot) (Result, error)
}

// NewTask wraps fn as a named Task
func NewTask(name string, fn func(ctx context.Context, snapshot types.Snapshot) (Result, error)) *TaskFunc {
	return &TaskFunc{TaskName: name, Fn: fn}
}

// Name returns the task name
func (t *TaskFunc) Name() string { return t.TaskName }

// Execute calls the wrapped function
func (t *TaskFunc) Execute(ctx context.Context, snapshot types.Snapshot) (Result, error) {
	return t.Fn(ctx, snapshot)
}

// ApplyFunc is a Result built from a plain function
type ApplyFunc func(snapshot *types.Snapshot)

// Apply calls f
func (f ApplyFunc) Apply(snapshot *types.Snapshot) { f(snapshot) }

// Degraded is always empty
func (f ApplyFunc) Degraded() string { return "" }
