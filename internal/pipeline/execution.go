package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jonathan/career-pipeline/internal/types"
)

// Execution is the handle for one background pass of the engine over a run
type Execution struct {
	RunID uuid.UUID

	done   chan struct{}
	mu     sync.Mutex
	status types.RunStatus
	err    error
}

func newExecution(runID uuid.UUID) *Execution {
	return &Execution{RunID: runID, done: make(chan struct{})}
}

// Done is closed when the execution has stopped
func (x *Execution) Done() <-chan struct{} {
	return x.done
}

// Wait blocks until the execution stops or ctx ends. It returns the run status
// the execution left behind and any engine-level error (a failed run is not an error).
func (x *Execution) Wait(ctx context.Context) (types.RunStatus, error) {
	select {
	case <-x.done:
		x.mu.Lock()
		defer x.mu.Unlock()
		return x.status, x.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (x *Execution) finish(status types.RunStatus, err error) {
	x.mu.Lock()
	x.status = status
	x.err = err
	x.mu.Unlock()
	close(x.done)
}
