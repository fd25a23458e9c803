// Package pipeline drives a submission through the seven analysis stages,
// persisting the run after every transition and pushing live progress.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/career-pipeline/internal/broadcast"
	"github.com/jonathan/career-pipeline/internal/db"
	"github.com/jonathan/career-pipeline/internal/types"
)

// DefaultTaskTimeout bounds a single stage task invocation
const DefaultTaskTimeout = 2 * time.Minute

// interruptedMessage is recorded for a stage cut short by Shutdown. The run is
// left failed so it can be resumed.
const interruptedMessage = "interrupted by shutdown"

// Options configures an Engine
type Options struct {
	// TaskTimeout bounds each task call; zero means DefaultTaskTimeout, negative disables it.
	TaskTimeout time.Duration
	Logger      *slog.Logger
	Now         func() time.Time
	// Stages overrides DefaultStages(tasks) when non-empty
	Stages []Stage
}

// Inputs is a new submission
type Inputs struct {
	DocumentText    string
	RoleDescription string
}

// ResumeInput optionally replaces submission inputs before resuming
type ResumeInput struct {
	DocumentText    *string
	RoleDescription *string
}

// ResumeResult describes an accepted resume
type ResumeResult struct {
	RunID            uuid.UUID
	ResumedFromStage int
	Status           types.RunStatus
	Execution        *Execution
}

// Engine runs pipeline executions in the background. Each run executes in its
// own goroutine; at most one execution per run is active in the process.
type Engine struct {
	store       RunStore
	publisher   Publisher
	persister   *Persister
	stages      []Stage
	logger      *slog.Logger
	taskTimeout time.Duration
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[uuid.UUID]*Execution
	closed bool
}

// NewEngine creates an engine. publisher and persister may be nil.
func NewEngine(store RunStore, publisher Publisher, persister *Persister, tasks Tasks, opts Options) *Engine {
	stages := opts.Stages
	if len(stages) == 0 {
		stages = DefaultStages(tasks)
	}
	timeout := opts.TaskTimeout
	if timeout == 0 {
		timeout = DefaultTaskTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:       store,
		publisher:   publisher,
		persister:   persister,
		stages:      stages,
		logger:      logger,
		taskTimeout: timeout,
		now:         now,
		ctx:         ctx,
		cancel:      cancel,
		active:      make(map[uuid.UUID]*Execution),
	}
}

// Start creates a run for the submission and schedules it. It returns as soon
// as the record is stored; the returned record is the initial state.
func (e *Engine) Start(ctx context.Context, userID uuid.UUID, in Inputs) (*types.RunRecord, *Execution, error) {
	rec := types.NewRunRecord(userID, in.DocumentText, in.RoleDescription, e.now().UTC())

	exec, err := e.reserve(rec.ID)
	if err != nil {
		return nil, nil, err
	}
	if err := e.store.CreateRun(ctx, rec); err != nil {
		e.release(exec, "", err)
		return nil, nil, fmt.Errorf("failed to create run: %w", err)
	}

	initial := rec.Clone()
	e.logger.Info("pipeline run created", "run_id", rec.ID, "user_id", userID)
	e.launch(exec, rec, StageIngest)
	return initial, exec, nil
}

// Resume hands a suspended or failed run back to the engine. Execution
// continues at the first stage whose output is not yet in the snapshot,
// or earlier when a replaced input feeds an already-completed stage.
func (e *Engine) Resume(ctx context.Context, runID uuid.UUID, in ResumeInput) (*ResumeResult, error) {
	exec, err := e.reserve(runID)
	if err != nil {
		return nil, err
	}

	rec, err := e.store.GetRun(ctx, runID)
	if err != nil {
		e.release(exec, "", err)
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	if rec == nil {
		e.release(exec, "", ErrRunNotFound)
		return nil, ErrRunNotFound
	}
	if !rec.Status.Resumable() {
		e.release(exec, rec.Status, ErrRunCompleted)
		return nil, ErrRunCompleted
	}

	from := resumeStage(rec, in)
	if from <= rec.LastCompletedStage {
		clearOutputs(&rec.Snapshot, from)
		rec.LastCompletedStage = from - 1
	}
	if in.DocumentText != nil {
		rec.Snapshot.DocumentText = *in.DocumentText
	}
	if in.RoleDescription != nil {
		rec.Snapshot.RoleDescription = *in.RoleDescription
	}
	rec.Status = types.StatusRunning
	rec.MissingFields = []string{}
	rec.CompletedAt = nil

	if err := e.save(ctx, rec); err != nil {
		if errors.Is(err, db.ErrVersionConflict) {
			e.release(exec, "", ErrRunInProgress)
			return nil, ErrRunInProgress
		}
		e.release(exec, "", err)
		return nil, err
	}

	e.logger.Info("pipeline run resumed", "run_id", rec.ID, "user_id", rec.UserID, "from_stage", from)
	e.launch(exec, rec, from)
	return &ResumeResult{
		RunID:            rec.ID,
		ResumedFromStage: from,
		Status:           types.StatusRunning,
		Execution:        exec,
	}, nil
}

// Status loads the current record without side effects
func (e *Engine) Status(ctx context.Context, runID uuid.UUID) (*types.RunRecord, error) {
	rec, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	if rec == nil {
		return nil, ErrRunNotFound
	}
	return rec, nil
}

// Active reports whether runID is executing in this process
func (e *Engine) Active(runID uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[runID]
	return ok
}

// Shutdown stops accepting work, cancels in-flight executions and waits for
// them to record their final state, or for ctx to end.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) reserve(runID uuid.UUID) (*Execution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	if _, busy := e.active[runID]; busy {
		return nil, ErrRunInProgress
	}
	exec := newExecution(runID)
	e.active[runID] = exec
	e.wg.Add(1)
	return exec, nil
}

func (e *Engine) release(exec *Execution, status types.RunStatus, err error) {
	e.mu.Lock()
	delete(e.active, exec.RunID)
	e.mu.Unlock()
	exec.finish(status, err)
	e.wg.Done()
}

func (e *Engine) launch(exec *Execution, rec *types.RunRecord, from int) {
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("pipeline execution panicked: %v", r)
				e.markFailed(rec, "internal error")
			}
			if err != nil {
				e.logger.Error("pipeline execution crashed", "run_id", rec.ID, "user_id", rec.UserID, "error", err)
			}
			e.release(exec, rec.Status, err)
		}()
		err = e.execute(e.ctx, rec, from)
	}()
}

func (e *Engine) execute(ctx context.Context, rec *types.RunRecord, from int) error {
	log := e.logger.With("run_id", rec.ID, "user_id", rec.UserID)

	for _, stage := range e.stages {
		if stage.Index < from {
			continue
		}
		if pause, missing := CheckPause(stage.Index, rec.Snapshot); pause {
			return e.suspend(ctx, rec, missing, log)
		}

		rec.CurrentStage = stage.Index
		if err := e.transition(ctx, rec, stage.Label()); err != nil {
			return err
		}
		log.Info("stage started", "stage", stage.Index, "name", stage.Name)

		if stage.Persist {
			if err := e.persister.Persist(ctx, rec); err != nil {
				log.Warn("result projection failed", "error", err)
			}
			return e.complete(ctx, rec, log)
		}

		working := rec.Snapshot.Clone()
		if stage.Skip != nil && stage.Skip(working) {
			log.Info("stage skipped", "stage", stage.Index, "name", stage.Name)
		} else if err := e.runStage(ctx, stage, &working, log); err != nil {
			return e.fail(ctx, rec, stage, err, log)
		}

		rec.Snapshot = working
		rec.LastCompletedStage = stage.Index
		if err := e.save(ctx, rec); err != nil {
			return err
		}
	}
	return e.complete(ctx, rec, log)
}

// runStage executes the stage's tasks against working. Results are applied only
// after every task in the stage has succeeded.
func (e *Engine) runStage(ctx context.Context, stage Stage, working *types.Snapshot, log *slog.Logger) error {
	if stage.Sequential || len(stage.Tasks) <= 1 {
		for _, task := range stage.Tasks {
			res, err := e.invoke(ctx, task, working.Clone())
			if err != nil {
				return err
			}
			applyResult(task, res, working, log)
		}
		return nil
	}

	results := make([]Result, len(stage.Tasks))
	g, gctx := errgroup.WithContext(ctx)
	for i, task := range stage.Tasks {
		input := working.Clone()
		g.Go(func() error {
			res, err := e.invoke(gctx, task, input)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, task := range stage.Tasks {
		applyResult(task, results[i], working, log)
	}
	return nil
}

// invoke runs one task under the per-task deadline. A task that ignores its
// context is abandoned when the deadline passes.
func (e *Engine) invoke(ctx context.Context, task Task, snapshot types.Snapshot) (Result, error) {
	if e.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.taskTimeout)
		defer cancel()
	}

	type outcome struct {
		res Result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := task.Execute(ctx, snapshot)
		ch <- outcome{res: res, err: err}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			return nil, &TaskError{Task: task.Name(), Err: o.err}
		}
		if o.res == nil {
			return nil, &TaskError{Task: task.Name(), Err: errors.New("task returned no result")}
		}
		return o.res, nil
	case <-ctx.Done():
		return nil, &TaskError{Task: task.Name(), Err: ctx.Err()}
	}
}

func applyResult(task Task, res Result, working *types.Snapshot, log *slog.Logger) {
	res.Apply(working)
	if detail := res.Degraded(); detail != "" {
		log.Warn("task returned degraded result", "task", task.Name(), "detail", detail)
	}
}

func (e *Engine) transition(ctx context.Context, rec *types.RunRecord, label string) error {
	if err := e.save(ctx, rec); err != nil {
		return err
	}
	e.publish(ctx, rec, broadcast.StateUpdate(rec.ID.String(), string(rec.Status), label, rec.CurrentStage))
	return nil
}

func (e *Engine) suspend(ctx context.Context, rec *types.RunRecord, missing []string, log *slog.Logger) error {
	ctx = context.WithoutCancel(ctx)
	rec.Status = types.StatusWaitingForInput
	rec.MissingFields = missing
	if err := e.save(ctx, rec); err != nil {
		return err
	}
	log.Info("run waiting for input", "stage", rec.CurrentStage, "missing_fields", missing)
	e.publish(ctx, rec, broadcast.WaitingForInput(rec.ID.String(), rec.CurrentStage, missing))
	return nil
}

func (e *Engine) fail(ctx context.Context, rec *types.RunRecord, stage Stage, cause error, log *slog.Logger) error {
	interrupted := e.ctx.Err() != nil && errors.Is(cause, context.Canceled)
	ctx = context.WithoutCancel(ctx)
	msg := fmt.Sprintf("stage %d (%s): %v", stage.Index, stage.Name, cause)
	if interrupted {
		msg = fmt.Sprintf("stage %d (%s): %s", stage.Index, stage.Name, interruptedMessage)
	}
	now := e.now().UTC()
	rec.Status = types.StatusFailed
	rec.AppendError(msg)
	rec.CompletedAt = &now
	if err := e.save(ctx, rec); err != nil {
		return err
	}
	if interrupted {
		log.Info("run interrupted by shutdown", "stage", stage.Index)
	} else {
		log.Warn("run failed", "stage", stage.Index, "error", cause)
	}
	e.publish(ctx, rec, broadcast.StateUpdate(rec.ID.String(), string(rec.Status), stage.Label(), rec.CurrentStage))
	return nil
}

func (e *Engine) complete(ctx context.Context, rec *types.RunRecord, log *slog.Logger) error {
	ctx = context.WithoutCancel(ctx)
	now := e.now().UTC()
	rec.Status = types.StatusCompleted
	rec.LastCompletedStage = rec.CurrentStage
	rec.CompletedAt = &now
	if err := e.save(ctx, rec); err != nil {
		return err
	}
	log.Info("run completed", "stage", rec.CurrentStage)
	e.publish(ctx, rec, broadcast.StateUpdate(rec.ID.String(), string(rec.Status), "Pipeline", rec.CurrentStage))
	return nil
}

// markFailed records an engine-level crash on a best-effort basis
func (e *Engine) markFailed(rec *types.RunRecord, msg string) {
	ctx := context.WithoutCancel(e.ctx)
	now := e.now().UTC()
	rec.Status = types.StatusFailed
	rec.AppendError(msg)
	rec.CompletedAt = &now
	if err := e.save(ctx, rec); err != nil {
		e.logger.Error("failed to record crashed run", "run_id", rec.ID, "error", err)
	}
}

func (e *Engine) save(ctx context.Context, rec *types.RunRecord) error {
	rec.UpdatedAt = e.now().UTC()
	if err := e.store.SaveRun(ctx, rec); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, rec *types.RunRecord, event broadcast.Event) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(ctx, rec.UserID.String(), event)
}

// resumeStage picks where a resumed execution begins
func resumeStage(rec *types.RunRecord, in ResumeInput) int {
	from := rec.LastCompletedStage + 1
	if in.DocumentText != nil && *in.DocumentText != rec.Snapshot.DocumentText {
		from = min(from, StageIngest)
	}
	if in.RoleDescription != nil && *in.RoleDescription != rec.Snapshot.RoleDescription {
		from = min(from, StageAnalysis)
	}
	return max(StageIngest, min(from, types.FinalStage))
}

// clearOutputs drops every snapshot field produced at or after stage
func clearOutputs(s *types.Snapshot, stage int) {
	if stage <= StageAnalysis {
		s.ATS = nil
		s.SalaryBenchmark = nil
		s.MarketMatches = nil
		s.MissingSkills = nil
	}
	if stage <= StageOptimize {
		s.Critique = nil
		s.CoverLetter = nil
	}
	if stage <= StageClassify {
		s.Classification = nil
		s.JobTier = nil
	}
	if stage <= StageRoadmap {
		s.Roadmap = nil
	}
	if stage <= StageInterview {
		s.InterviewQuestions = nil
	}
}
