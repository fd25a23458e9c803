package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonathan/career-pipeline/internal/llm"
	"github.com/jonathan/career-pipeline/internal/pipeline"
	"github.com/jonathan/career-pipeline/internal/schemas"
	"github.com/jonathan/career-pipeline/internal/types"
)

// Classifier places the role in a tier relative to the candidate
type Classifier struct{ *Agents }

// Name returns the task name
func (*Classifier) Name() string { return NameClassifier }

// Execute asks the model for a tier and match score
func (a *Classifier) Execute(ctx context.Context, s types.Snapshot) (pipeline.Result, error) {
	var res types.Classification
	detail, err := a.generateJSON(ctx, "job-classifier", schemas.Classification, llm.TierLite, map[string]string{
		"Document": s.DocumentText,
		"Role":     s.RoleDescription,
	}, &res)
	if err != nil {
		return nil, err
	}
	if detail != "" {
		return types.Classification{Tier: types.TierRealistic, MissingSkills: []string{}, Error: "Failed to classify job: " + detail}, nil
	}
	if !types.ValidTier(res.Tier) {
		res.Error = fmt.Sprintf("unrecognized tier %q", res.Tier)
		res.Tier = types.TierRealistic
	}
	return res, nil
}

// Roadmap builds a phased learning plan for the missing skills
type Roadmap struct{ *Agents }

// Name returns the task name
func (*Roadmap) Name() string { return NameRoadmap }

// Execute asks the model for a roadmap covering the snapshot's missing skills
func (a *Roadmap) Execute(ctx context.Context, s types.Snapshot) (pipeline.Result, error) {
	target := pipeline.RoleTitle(s.RoleDescription)
	var res types.RoadmapResult
	detail, err := a.generateJSON(ctx, "skill-roadmap", schemas.RoadmapResult, llm.TierAdvanced, map[string]string{
		"TargetRole": target,
		"Level":      a.opts.RoadmapLevel,
		"Skills":     strings.Join(s.MissingSkills, ", "),
	}, &res)
	if err != nil {
		return nil, err
	}
	if detail != "" {
		return types.RoadmapResult{TargetRole: target, Phases: []types.RoadmapPhase{}, Error: "Failed to generate roadmap: " + detail}, nil
	}
	if res.TargetRole == "" {
		res.TargetRole = target
	}
	return res, nil
}

// InterviewPrep drafts interview questions for the role's tier
type InterviewPrep struct{ *Agents }

// Name returns the task name
func (*InterviewPrep) Name() string { return NameInterviewPrep }

// Execute asks the model for a question bank, falling back to a fixed pair of
// questions when the response is unusable
func (a *InterviewPrep) Execute(ctx context.Context, s types.Snapshot) (pipeline.Result, error) {
	tier := types.TierRealistic
	if s.JobTier != nil {
		tier = *s.JobTier
	}
	gaps := "none identified"
	if len(s.MissingSkills) > 0 {
		gaps = strings.Join(s.MissingSkills, ", ")
	}

	var res types.InterviewResult
	detail, err := a.generateJSON(ctx, "interview-prep", schemas.InterviewResult, llm.TierStandard, map[string]string{
		"Tier":     tier,
		"Document": s.DocumentText,
		"Role":     s.RoleDescription,
		"Skills":   gaps,
	}, &res)
	if err != nil {
		return nil, err
	}
	if detail != "" {
		return types.InterviewResult{Questions: FallbackQuestions(tier), Error: "Failed to generate questions: " + detail}, nil
	}
	return res, nil
}

// FallbackQuestions is the fixed question bank used when generation fails
func FallbackQuestions(tier string) []string {
	return []string{
		"Tell me about a time you used the skills on your resume.",
		fmt.Sprintf("How would you approach the challenges mentioned in this %s role?", tier),
	}
}
