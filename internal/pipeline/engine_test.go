package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/career-pipeline/internal/broadcast"
	"github.com/jonathan/career-pipeline/internal/db"
	"github.com/jonathan/career-pipeline/internal/logging"
	"github.com/jonathan/career-pipeline/internal/types"
)

func TestEngine_EmptyDocumentWaitsForInput(t *testing.T) {
	fx := newFixture(t, nil, Options{})
	ctx := context.Background()

	initial, exec, err := fx.engine.Start(ctx, uuid.New(), Inputs{DocumentText: "", RoleDescription: validRole})
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, initial.Status)

	assert.Equal(t, types.StatusWaitingForInput, waitFor(t, exec))

	run, err := fx.engine.Status(ctx, initial.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusWaitingForInput, run.Status)
	assert.Equal(t, []string{FieldDocument}, run.MissingFields)
	assert.Equal(t, 1, run.CurrentStage)
	assert.Empty(t, run.ErrorLog)
	assert.Equal(t, 0, fx.tasks.count("ingest"))

	events := fx.publisher.Events()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, broadcast.EventWaitingForInput, last.Type)
	assert.Equal(t, []string{FieldDocument}, last.MissingFields)
}

func TestEngine_ShortRoleWaitsAfterAnalysis(t *testing.T) {
	fx := newFixture(t, nil, Options{})
	ctx := context.Background()

	doc := strings.Repeat("x", 200)
	initial, exec, err := fx.engine.Start(ctx, uuid.New(), Inputs{DocumentText: doc, RoleDescription: "Lead!"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusWaitingForInput, waitFor(t, exec))

	run, err := fx.engine.Status(ctx, initial.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusWaitingForInput, run.Status)
	assert.Equal(t, []string{FieldRoleDescription}, run.MissingFields)
	assert.Equal(t, 2, run.CurrentStage)
	assert.Equal(t, 2, run.LastCompletedStage)
	assert.Equal(t, []int{1}, run.CompletedStages())
	assert.NotNil(t, run.Snapshot.ATS)
	assert.NotNil(t, run.Snapshot.SalaryBenchmark)
	assert.Nil(t, run.Snapshot.Critique)
	assert.Equal(t, 0, fx.tasks.count("critique"))
}

func TestEngine_CompletesWithValidInputs(t *testing.T) {
	fx := newFixture(t, nil, Options{})
	ctx := context.Background()

	initial, exec, err := fx.engine.Start(ctx, uuid.New(), Inputs{DocumentText: validDocument(), RoleDescription: validRole})
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, waitFor(t, exec))

	run, err := fx.engine.Status(ctx, initial.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, run.Status)
	assert.Equal(t, 7, run.CurrentStage)
	assert.Equal(t, 7, run.LastCompletedStage)
	require.NotNil(t, run.CompletedAt)
	assert.Empty(t, run.MissingFields)

	snap := run.Snapshot
	require.NotNil(t, snap.JobTier)
	assert.Equal(t, types.TierStretch, *snap.JobTier)
	require.NotNil(t, snap.CoverLetter)
	assert.Len(t, snap.Roadmap, 1)
	assert.Equal(t, []string{"Tier Stretch question"}, snap.InterviewQuestions)

	assert.Len(t, fx.projections.benchmarks, 1)
	assert.Len(t, fx.projections.roadmaps, 1)
	// primary plus two distinct market titles
	assert.Len(t, fx.projections.matches, 3)

	var stages []int
	for _, e := range fx.publisher.Events() {
		require.Equal(t, broadcast.EventStateUpdate, e.Type)
		if e.Status == string(types.StatusRunning) {
			stages = append(stages, e.CurrentStage)
		}
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, stages)
	events := fx.publisher.Events()
	assert.Equal(t, string(types.StatusCompleted), events[len(events)-1].Status)
}

func TestEngine_AnalysisFaultFailsRun(t *testing.T) {
	siblingCancelled := make(chan struct{})
	fx := newFixture(t, func(tasks *Tasks) {
		tasks.ATSScorer = NewTask("ats_scorer", func(context.Context, types.Snapshot) (Result, error) {
			return nil, errors.New("model unavailable")
		})
		tasks.MarketAnalyst = NewTask("market_analyst", func(ctx context.Context, _ types.Snapshot) (Result, error) {
			<-ctx.Done()
			close(siblingCancelled)
			return nil, ctx.Err()
		})
	}, Options{})
	ctx := context.Background()

	initial, exec, err := fx.engine.Start(ctx, uuid.New(), Inputs{DocumentText: validDocument(), RoleDescription: validRole})
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, waitFor(t, exec))

	select {
	case <-siblingCancelled:
	case <-time.After(time.Second):
		t.Fatal("sibling task was not cancelled")
	}

	run, err := fx.engine.Status(ctx, initial.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, run.Status)
	require.Len(t, run.ErrorLog, 1)
	assert.Contains(t, run.ErrorLog[0], "stage 2 (analysis)")
	assert.Contains(t, run.ErrorLog[0], "model unavailable")
	assert.Equal(t, 1, run.LastCompletedStage)
	assert.Nil(t, run.Snapshot.ATS)
	assert.Nil(t, run.Snapshot.CoverLetter)
	assert.Nil(t, run.Snapshot.Classification)
	assert.NotNil(t, run.CompletedAt)
	assert.Equal(t, 0, fx.tasks.count("critique"))
}

func TestEngine_DegradedResultContinues(t *testing.T) {
	fx := newFixture(t, func(tasks *Tasks) {
		tasks.Classifier = NewTask("classifier", func(context.Context, types.Snapshot) (Result, error) {
			return types.Classification{Tier: "Unknown", Error: "unparseable model output"}, nil
		})
	}, Options{})

	initial, exec, err := fx.engine.Start(context.Background(), uuid.New(), Inputs{DocumentText: validDocument(), RoleDescription: validRole})
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, waitFor(t, exec))

	run, err := fx.engine.Status(context.Background(), initial.ID)
	require.NoError(t, err)
	assert.Empty(t, run.ErrorLog)
	require.NotNil(t, run.Snapshot.JobTier)
	assert.Equal(t, types.TierRealistic, *run.Snapshot.JobTier)
	assert.Equal(t, "unparseable model output", run.Snapshot.Classification.Error)
}

func TestEngine_SkipsRoadmapWithoutMissingSkills(t *testing.T) {
	fx := newFixture(t, func(tasks *Tasks) {
		tasks.ATSScorer = NewTask("ats_scorer", func(context.Context, types.Snapshot) (Result, error) {
			return types.ATSResult{Score: 95, MissingKeywords: []string{}}, nil
		})
	}, Options{})

	initial, exec, err := fx.engine.Start(context.Background(), uuid.New(), Inputs{DocumentText: validDocument(), RoleDescription: validRole})
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, waitFor(t, exec))

	run, err := fx.engine.Status(context.Background(), initial.ID)
	require.NoError(t, err)
	assert.Nil(t, run.Snapshot.Roadmap)
	assert.Equal(t, 0, fx.tasks.count("roadmap"))
	assert.Empty(t, fx.projections.roadmaps)
}

func TestEngine_TaskTimeoutFailsRun(t *testing.T) {
	fx := newFixture(t, func(tasks *Tasks) {
		tasks.Critique = NewTask("critique", func(ctx context.Context, _ types.Snapshot) (Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
	}, Options{TaskTimeout: 20 * time.Millisecond})

	initial, exec, err := fx.engine.Start(context.Background(), uuid.New(), Inputs{DocumentText: validDocument(), RoleDescription: validRole})
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, waitFor(t, exec))

	run, err := fx.engine.Status(context.Background(), initial.ID)
	require.NoError(t, err)
	require.Len(t, run.ErrorLog, 1)
	assert.Contains(t, run.ErrorLog[0], "critique")
	assert.Contains(t, run.ErrorLog[0], context.DeadlineExceeded.Error())
	assert.Equal(t, 2, run.LastCompletedStage)
}

func TestEngine_TaskPanicIsAFault(t *testing.T) {
	fx := newFixture(t, func(tasks *Tasks) {
		tasks.CoverLetter = NewTask("cover_letter", func(context.Context, types.Snapshot) (Result, error) {
			panic("boom")
		})
	}, Options{})

	initial, exec, err := fx.engine.Start(context.Background(), uuid.New(), Inputs{DocumentText: validDocument(), RoleDescription: validRole})
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, waitFor(t, exec))

	run, err := fx.engine.Status(context.Background(), initial.ID)
	require.NoError(t, err)
	require.Len(t, run.ErrorLog, 1)
	assert.Contains(t, run.ErrorLog[0], "boom")
	// critique ran but its output is discarded with the failed stage
	assert.Nil(t, run.Snapshot.Critique)
}

func TestEngine_ResumeAfterDocumentSupplied(t *testing.T) {
	fx := newFixture(t, nil, Options{})
	ctx := context.Background()

	initial, exec, err := fx.engine.Start(ctx, uuid.New(), Inputs{DocumentText: "too short", RoleDescription: validRole})
	require.NoError(t, err)
	require.Equal(t, types.StatusWaitingForInput, waitFor(t, exec))

	doc := validDocument()
	res, err := fx.engine.Resume(ctx, initial.ID, ResumeInput{DocumentText: &doc})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ResumedFromStage)
	assert.Equal(t, types.StatusRunning, res.Status)
	assert.Equal(t, types.StatusCompleted, waitFor(t, res.Execution))

	run, err := fx.engine.Status(ctx, initial.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, run.Status)
	assert.Equal(t, strings.TrimSpace(doc), run.Snapshot.DocumentText)
}

func TestEngine_ResumeAfterRoleSuppliedRerunsAnalysis(t *testing.T) {
	fx := newFixture(t, nil, Options{})
	ctx := context.Background()

	initial, exec, err := fx.engine.Start(ctx, uuid.New(), Inputs{DocumentText: validDocument(), RoleDescription: "SRE"})
	require.NoError(t, err)
	require.Equal(t, types.StatusWaitingForInput, waitFor(t, exec))
	require.Equal(t, 1, fx.tasks.count("ats_scorer"))

	role := validRole
	res, err := fx.engine.Resume(ctx, initial.ID, ResumeInput{RoleDescription: &role})
	require.NoError(t, err)
	assert.Equal(t, StageAnalysis, res.ResumedFromStage)
	assert.Equal(t, types.StatusCompleted, waitFor(t, res.Execution))

	assert.Equal(t, 2, fx.tasks.count("ats_scorer"))
	assert.Equal(t, 1, fx.tasks.count("ingest"))
}

func TestEngine_ResumeWithoutNewInputStaysWaiting(t *testing.T) {
	fx := newFixture(t, nil, Options{})
	ctx := context.Background()

	initial, exec, err := fx.engine.Start(ctx, uuid.New(), Inputs{DocumentText: "", RoleDescription: validRole})
	require.NoError(t, err)
	require.Equal(t, types.StatusWaitingForInput, waitFor(t, exec))

	res, err := fx.engine.Resume(ctx, initial.ID, ResumeInput{})
	require.NoError(t, err)
	assert.Equal(t, types.StatusWaitingForInput, waitFor(t, res.Execution))

	run, err := fx.engine.Status(ctx, initial.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{FieldDocument}, run.MissingFields)
}

func TestEngine_ResumeFailedRunContinuesAtFailedStage(t *testing.T) {
	var attempts int
	fx := newFixture(t, func(tasks *Tasks) {
		tasks.Critique = NewTask("critique", func(context.Context, types.Snapshot) (Result, error) {
			attempts++
			if attempts == 1 {
				return nil, errors.New("rate limited")
			}
			return types.CritiqueResult{Text: "ok"}, nil
		})
	}, Options{})
	ctx := context.Background()

	initial, exec, err := fx.engine.Start(ctx, uuid.New(), Inputs{DocumentText: validDocument(), RoleDescription: validRole})
	require.NoError(t, err)
	require.Equal(t, types.StatusFailed, waitFor(t, exec))

	res, err := fx.engine.Resume(ctx, initial.ID, ResumeInput{})
	require.NoError(t, err)
	assert.Equal(t, StageOptimize, res.ResumedFromStage)
	assert.Equal(t, types.StatusCompleted, waitFor(t, res.Execution))

	assert.Equal(t, 1, fx.tasks.count("ats_scorer"))
	run, err := fx.engine.Status(ctx, initial.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, run.Status)
	assert.Len(t, run.ErrorLog, 1)
}

func TestEngine_ResumeRejections(t *testing.T) {
	release := make(chan struct{})
	fx := newFixture(t, func(tasks *Tasks) {
		tasks.CoverLetter = NewTask("cover_letter", func(ctx context.Context, _ types.Snapshot) (Result, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return types.CoverLetterResult{Text: "done"}, nil
		})
	}, Options{})
	ctx := context.Background()

	_, err := fx.engine.Resume(ctx, uuid.New(), ResumeInput{})
	assert.ErrorIs(t, err, ErrRunNotFound)

	initial, exec, err := fx.engine.Start(ctx, uuid.New(), Inputs{DocumentText: validDocument(), RoleDescription: validRole})
	require.NoError(t, err)

	assert.True(t, fx.engine.Active(initial.ID))
	_, err = fx.engine.Resume(ctx, initial.ID, ResumeInput{})
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	require.Equal(t, types.StatusCompleted, waitFor(t, exec))
	assert.False(t, fx.engine.Active(initial.ID))

	_, err = fx.engine.Resume(ctx, initial.ID, ResumeInput{})
	assert.ErrorIs(t, err, ErrRunCompleted)
}

func TestEngine_ResumeOrphanedRunningRecord(t *testing.T) {
	fx := newFixture(t, nil, Options{})
	ctx := context.Background()

	// a run left "running" by a crashed process
	orphan := types.NewRunRecord(uuid.New(), validDocument(), validRole, time.Now().UTC())
	orphan.CurrentStage = 3
	orphan.LastCompletedStage = 2
	require.NoError(t, fx.store.CreateRun(ctx, orphan))

	res, err := fx.engine.Resume(ctx, orphan.ID, ResumeInput{})
	require.NoError(t, err)
	assert.Equal(t, StageOptimize, res.ResumedFromStage)
	assert.Equal(t, types.StatusCompleted, waitFor(t, res.Execution))
}

func TestEngine_StatusIsIdempotent(t *testing.T) {
	fx := newFixture(t, nil, Options{})
	ctx := context.Background()

	initial, exec, err := fx.engine.Start(ctx, uuid.New(), Inputs{DocumentText: "", RoleDescription: validRole})
	require.NoError(t, err)
	waitFor(t, exec)

	first, err := fx.engine.Status(ctx, initial.ID)
	require.NoError(t, err)
	for range 3 {
		again, err := fx.engine.Status(ctx, initial.ID)
		require.NoError(t, err)
		assert.Equal(t, first.Status, again.Status)
		assert.Equal(t, first.CurrentStage, again.CurrentStage)
		assert.Equal(t, first.Version, again.Version)
	}

	_, err = fx.engine.Status(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestEngine_ShutdownCancelsInFlightRuns(t *testing.T) {
	started := make(chan struct{})
	fx := newFixture(t, func(tasks *Tasks) {
		tasks.Classifier = NewTask("classifier", func(ctx context.Context, _ types.Snapshot) (Result, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})
	}, Options{})
	ctx := context.Background()

	initial, exec, err := fx.engine.Start(ctx, uuid.New(), Inputs{DocumentText: validDocument(), RoleDescription: validRole})
	require.NoError(t, err)
	<-started

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, fx.engine.Shutdown(shutdownCtx))
	assert.Equal(t, types.StatusFailed, waitFor(t, exec))

	run, err := fx.engine.Status(ctx, initial.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, run.Status)
	assert.True(t, run.Status.Resumable())
	require.Len(t, run.ErrorLog, 1)
	assert.Equal(t, "stage 4 (classify): interrupted by shutdown", run.ErrorLog[0])

	_, _, err = fx.engine.Start(ctx, uuid.New(), Inputs{})
	assert.ErrorIs(t, err, ErrEngineClosed)
}

func TestEngine_ConcurrentRuns(t *testing.T) {
	fx := newFixture(t, nil, Options{})
	ctx := context.Background()

	var execs []*Execution
	for range 8 {
		_, exec, err := fx.engine.Start(ctx, uuid.New(), Inputs{DocumentText: validDocument(), RoleDescription: validRole})
		require.NoError(t, err)
		execs = append(execs, exec)
	}
	for _, exec := range execs {
		assert.Equal(t, types.StatusCompleted, waitFor(t, exec))
	}
}

func TestEngine_WithSQLiteStore(t *testing.T) {
	ctx := context.Background()
	store, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	defer store.Close()

	tasks := (&fakeTasks{}).tasks()
	publisher := &recordingPublisher{}
	engine := NewEngine(store, publisher, NewPersister(store, logging.Discard()), tasks, Options{Logger: logging.Discard()})
	defer func() {
		_ = engine.Shutdown(ctx)
	}()

	initial, exec, err := engine.Start(ctx, uuid.New(), Inputs{DocumentText: validDocument(), RoleDescription: validRole})
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, waitFor(t, exec))

	run, err := store.GetRun(ctx, initial.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, run.Status)

	matches, err := store.ListMatches(ctx, initial.ID)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.True(t, matches[0].Primary)
	assert.Equal(t, types.TierStretch, matches[0].Tier)
}

func TestResumeStage(t *testing.T) {
	doc, role := "document", "role"
	newDoc, newRole := "changed document", "changed role"

	tests := []struct {
		name     string
		last     int
		in       ResumeInput
		expected int
	}{
		{name: "continues after last completed", last: 2, expected: 3},
		{name: "unchanged inputs continue", last: 4, in: ResumeInput{DocumentText: &doc, RoleDescription: &role}, expected: 5},
		{name: "new document restarts", last: 4, in: ResumeInput{DocumentText: &newDoc}, expected: 1},
		{name: "new role reruns analysis", last: 4, in: ResumeInput{RoleDescription: &newRole}, expected: 2},
		{name: "new role before analysis", last: 0, in: ResumeInput{RoleDescription: &newRole}, expected: 1},
		{name: "clamped to final stage", last: 7, expected: 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &types.RunRecord{LastCompletedStage: tt.last, Snapshot: types.Snapshot{DocumentText: doc, RoleDescription: role}}
			assert.Equal(t, tt.expected, resumeStage(rec, tt.in))
		})
	}
}

func TestClearOutputs(t *testing.T) {
	text := "x"
	full := func() types.Snapshot {
		return types.Snapshot{
			ATS:                &types.ATSResult{},
			SalaryBenchmark:    &types.SalaryBenchmark{},
			MissingSkills:      []string{"a"},
			Critique:           &text,
			CoverLetter:        &text,
			Classification:     &types.Classification{},
			JobTier:            &text,
			Roadmap:            []types.RoadmapPhase{{}},
			InterviewQuestions: []string{"q"},
		}
	}

	s := full()
	clearOutputs(&s, StageClassify)
	assert.NotNil(t, s.ATS)
	assert.NotNil(t, s.CoverLetter)
	assert.Nil(t, s.Classification)
	assert.Nil(t, s.JobTier)
	assert.Nil(t, s.Roadmap)
	assert.Nil(t, s.InterviewQuestions)

	s = full()
	clearOutputs(&s, StageIngest)
	assert.Nil(t, s.ATS)
	assert.Nil(t, s.MissingSkills)
	assert.Nil(t, s.Critique)
}
