package pipeline

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/career-pipeline/internal/broadcast"
	"github.com/jonathan/career-pipeline/internal/db"
	"github.com/jonathan/career-pipeline/internal/logging"
	"github.com/jonathan/career-pipeline/internal/types"
)

// memStore is an in-memory RunStore with the same version semantics as db
type memStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*types.RunRecord
}

func newMemStore() *memStore {
	return &memStore{runs: make(map[uuid.UUID]*types.RunRecord)}
}

func (s *memStore) CreateRun(_ context.Context, run *types.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *memStore) GetRun(_ context.Context, id uuid.UUID) (*types.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	return run.Clone(), nil
}

func (s *memStore) SaveRun(_ context.Context, run *types.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.runs[run.ID]
	if !ok || cur.Version != run.Version {
		return db.ErrVersionConflict
	}
	run.Version++
	s.runs[run.ID] = run.Clone()
	return nil
}

// memProjections records projection writes
type memProjections struct {
	mu         sync.Mutex
	benchmarks []types.BenchmarkRecord
	matches    []types.MatchRecord
	roadmaps   []types.RoadmapRecord
	failMatch  error
}

func (p *memProjections) SaveBenchmark(_ context.Context, rec *types.BenchmarkRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.benchmarks = append(p.benchmarks, *rec)
	return nil
}

func (p *memProjections) SaveMatch(_ context.Context, rec *types.MatchRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failMatch != nil {
		return p.failMatch
	}
	p.matches = append(p.matches, *rec)
	return nil
}

func (p *memProjections) SaveRoadmap(_ context.Context, rec *types.RoadmapRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roadmaps = append(p.roadmaps, *rec)
	return nil
}

// recordingPublisher captures published events
type recordingPublisher struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event broadcast.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) Events() []broadcast.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]broadcast.Event(nil), p.events...)
}

// fakeTasks builds a full set of succeeding tasks and counts invocations
type fakeTasks struct {
	calls sync.Map
}

func (f *fakeTasks) count(name string) int {
	v, ok := f.calls.Load(name)
	if !ok {
		return 0
	}
	return int(v.(*atomic.Int32).Load())
}

func (f *fakeTasks) task(name string, fn func(ctx context.Context, s types.Snapshot) (Result, error)) Task {
	counter, _ := f.calls.LoadOrStore(name, new(atomic.Int32))
	return NewTask(name, func(ctx context.Context, s types.Snapshot) (Result, error) {
		counter.(*atomic.Int32).Add(1)
		return fn(ctx, s)
	})
}

func (f *fakeTasks) tasks() Tasks {
	return Tasks{
		Ingest: f.task("ingest", func(_ context.Context, s types.Snapshot) (Result, error) {
			return types.IngestResult{
				DocumentText:    strings.TrimSpace(s.DocumentText),
				RoleDescription: strings.TrimSpace(s.RoleDescription),
			}, nil
		}),
		ATSScorer: f.task("ats_scorer", func(_ context.Context, _ types.Snapshot) (Result, error) {
			return types.ATSResult{
				Score:            78,
				MissingKeywords:  []string{"Kubernetes", "Terraform"},
				MatchingKeywords: []string{"Go"},
				FormattingIssues: []string{},
			}, nil
		}),
		MarketAnalyst: f.task("market_analyst", func(_ context.Context, _ types.Snapshot) (Result, error) {
			return types.MarketResult{
				Benchmark: types.SalaryBenchmark{RoleTitle: "Backend Engineer", SalaryMin: 120000, SalaryMedian: 140000, SalaryMax: 165000, Currency: "USD"},
				Matches: []types.MarketMatch{
					{Title: "Platform Engineer", Company: "Acme", MatchScore: 72},
					{Title: "platform engineer", Company: "Globex", MatchScore: 70},
					{Title: "Site Reliability Engineer", MatchScore: 61},
				},
			}, nil
		}),
		Critique: f.task("critique", func(_ context.Context, _ types.Snapshot) (Result, error) {
			return types.CritiqueResult{Text: "Lead with measurable impact."}, nil
		}),
		CoverLetter: f.task("cover_letter", func(_ context.Context, _ types.Snapshot) (Result, error) {
			return types.CoverLetterResult{Text: "Dear hiring team,"}, nil
		}),
		Classifier: f.task("classifier", func(_ context.Context, s types.Snapshot) (Result, error) {
			return types.Classification{Tier: types.TierStretch, MatchScore: 64, MissingSkills: s.MissingSkills}, nil
		}),
		Roadmap: f.task("roadmap", func(_ context.Context, s types.Snapshot) (Result, error) {
			return types.RoadmapResult{Phases: []types.RoadmapPhase{{
				PhaseName: "Containers", EstimatedWeeks: 3,
				SkillsCovered: s.MissingSkills, ActionItems: []string{"Ship a service to a cluster"},
			}}}, nil
		}),
		InterviewPrep: f.task("interview_prep", func(_ context.Context, s types.Snapshot) (Result, error) {
			tier := "none"
			if s.JobTier != nil {
				tier = *s.JobTier
			}
			return types.InterviewResult{Questions: []string{"Tier " + tier + " question"}}, nil
		}),
	}
}

type engineFixture struct {
	engine      *Engine
	store       *memStore
	projections *memProjections
	publisher   *recordingPublisher
	tasks       *fakeTasks
}

func newFixture(t *testing.T, configure func(*Tasks), opts Options) *engineFixture {
	t.Helper()
	fx := &engineFixture{
		store:       newMemStore(),
		projections: &memProjections{},
		publisher:   &recordingPublisher{},
		tasks:       &fakeTasks{},
	}
	tasks := fx.tasks.tasks()
	if configure != nil {
		configure(&tasks)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	fx.engine = NewEngine(fx.store, fx.publisher, NewPersister(fx.projections, opts.Logger), tasks, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = fx.engine.Shutdown(ctx)
	})
	return fx
}

func waitFor(t *testing.T, exec *Execution) types.RunStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := exec.Wait(ctx)
	require.NoError(t, err)
	return status
}

const validRole = "Backend Engineer with 3 years experience"

func validDocument() string {
	return strings.Repeat("Built Go services handling payments. ", 6)
}
