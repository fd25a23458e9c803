package pipeline

import (
	"fmt"

	"github.com/jonathan/career-pipeline/internal/types"
)

// Stage indices
const (
	StageIngest    = 1
	StageAnalysis  = 2
	StageOptimize  = 3
	StageClassify  = 4
	StageRoadmap   = 5
	StageInterview = 6
	StagePersist   = 7
)

// Stage is one numbered step of the pipeline
type Stage struct {
	Index int
	Name  string
	Tasks []Task
	// Sequential runs Tasks one after another; otherwise they run concurrently
	// and the stage joins all of them.
	Sequential bool
	// Skip, when set and true, bypasses the stage's tasks
	Skip func(snapshot types.Snapshot) bool
	// Persist marks the stage that runs the Result Persister
	Persist bool
}

// Label is the human-readable progress label pushed to subscribers
func (s Stage) Label() string {
	return fmt.Sprintf("Stage %d: %s", s.Index, s.Name)
}

// Tasks holds the collaborator for each slot of the pipeline
type Tasks struct {
	Ingest        Task
	ATSScorer     Task
	MarketAnalyst Task
	Critique      Task
	CoverLetter   Task
	Classifier    Task
	Roadmap       Task
	InterviewPrep Task
}

// DefaultStages wires the seven-stage sequence
func DefaultStages(t Tasks) []Stage {
	return []Stage{
		{Index: StageIngest, Name: "ingest", Tasks: []Task{t.Ingest}, Sequential: true},
		{Index: StageAnalysis, Name: "analysis", Tasks: []Task{t.ATSScorer, t.MarketAnalyst}},
		{Index: StageOptimize, Name: "optimize", Tasks: []Task{t.Critique, t.CoverLetter}, Sequential: true},
		{Index: StageClassify, Name: "classify", Tasks: []Task{t.Classifier}, Sequential: true},
		{
			Index:      StageRoadmap,
			Name:       "roadmap",
			Tasks:      []Task{t.Roadmap},
			Sequential: true,
			Skip:       func(s types.Snapshot) bool { return len(s.MissingSkills) == 0 },
		},
		{Index: StageInterview, Name: "interview_prep", Tasks: []Task{t.InterviewPrep}, Sequential: true},
		{Index: StagePersist, Name: "persist", Persist: true},
	}
}
