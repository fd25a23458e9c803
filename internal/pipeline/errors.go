package pipeline

import (
	"errors"
	"fmt"
)

// Engine errors surfaced to callers
var (
	ErrRunNotFound   = errors.New("pipeline run not found")
	ErrRunCompleted  = errors.New("pipeline run already completed")
	ErrRunInProgress = errors.New("pipeline run is already executing")
	ErrEngineClosed  = errors.New("pipeline engine is shut down")
)

// TaskError is an uncaught fault raised by a stage task
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}
