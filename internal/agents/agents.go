// Package agents implements the pipeline's stage tasks on top of an LLM client.
//
// Every agent follows the same failure contract: an error from the model
// transport is returned as an error and fails the run, while a response that
// cannot be parsed or does not match its schema comes back as a degraded
// result and the run continues.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonathan/career-pipeline/internal/llm"
	"github.com/jonathan/career-pipeline/internal/pipeline"
	"github.com/jonathan/career-pipeline/internal/prompts"
	"github.com/jonathan/career-pipeline/internal/schemas"
)

const promptFile = "agents.json"

// Task names reported in logs and error messages
const (
	NameIngest        = "ingest"
	NameATSScorer     = "ats_scorer"
	NameMarketAnalyst = "market_analyst"
	NameCritique      = "cv_critique"
	NameCoverLetter   = "cover_letter"
	NameClassifier    = "job_classifier"
	NameRoadmap       = "skill_roadmap"
	NameInterviewPrep = "interview_prep"
)

// Options tunes agent behavior
type Options struct {
	Logger *slog.Logger
	// CoverLetterTone is inserted into the cover letter instruction
	CoverLetterTone string
	// RoadmapLevel describes the candidate's current level to the roadmap agent
	RoadmapLevel string
}

// Agents holds the shared LLM client
type Agents struct {
	client llm.Client
	logger *slog.Logger
	opts   Options
}

// New creates the agent set
func New(client llm.Client, opts Options) *Agents {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CoverLetterTone == "" {
		opts.CoverLetterTone = "professional and enthusiastic"
	}
	if opts.RoadmapLevel == "" {
		opts.RoadmapLevel = "intermediate"
	}
	return &Agents{client: client, logger: opts.Logger, opts: opts}
}

// Tasks returns the agents wired into their pipeline slots
func (a *Agents) Tasks() pipeline.Tasks {
	return pipeline.Tasks{
		Ingest:        Ingest{},
		ATSScorer:     &ATSScorer{a},
		MarketAnalyst: &MarketAnalyst{a},
		Critique:      &Critique{a},
		CoverLetter:   &CoverLetter{a},
		Classifier:    &Classifier{a},
		Roadmap:       &Roadmap{a},
		InterviewPrep: &InterviewPrep{a},
	}
}

// generateText renders a prompt and returns the trimmed text response
func (a *Agents) generateText(ctx context.Context, key string, tier llm.ModelTier, data map[string]string) (string, error) {
	tmpl, err := prompts.Render(promptFile, key, data)
	if err != nil {
		return "", err
	}
	text, err := a.client.Generate(ctx, llm.Request{System: tmpl.System, Prompt: tmpl.User, Tier: tier})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// generateJSON renders a prompt, validates the response against schema and
// decodes it into out. A non-nil error is a transport fault; a non-empty
// detail means the response was unusable.
func (a *Agents) generateJSON(ctx context.Context, key, schema string, tier llm.ModelTier, data map[string]string, out any) (detail string, err error) {
	tmpl, err := prompts.Render(promptFile, key, data)
	if err != nil {
		return "", err
	}
	text, err := a.client.Generate(ctx, llm.Request{System: tmpl.System, Prompt: tmpl.User, Tier: tier, JSON: true})
	if err != nil {
		return "", err
	}

	raw := []byte(llm.CleanJSONBlock(text))
	if err := schemas.Validate(schema, raw); err != nil {
		a.logger.Debug("agent response rejected", "prompt", key, "error", err)
		return err.Error(), nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Sprintf("failed to decode response: %v", err), nil
	}
	return "", nil
}
