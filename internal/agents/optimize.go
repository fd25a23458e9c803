package agents

import (
	"context"

	"github.com/jonathan/career-pipeline/internal/llm"
	"github.com/jonathan/career-pipeline/internal/pipeline"
	"github.com/jonathan/career-pipeline/internal/types"
)

// Critique reviews the document as a hiring manager would
type Critique struct{ *Agents }

// Name returns the task name
func (*Critique) Name() string { return NameCritique }

// Execute generates the critique text
func (a *Critique) Execute(ctx context.Context, s types.Snapshot) (pipeline.Result, error) {
	text, err := a.generateText(ctx, "cv-critique", llm.TierAdvanced, map[string]string{
		"Document": s.DocumentText,
		"Role":     s.RoleDescription,
	})
	if err != nil {
		return nil, err
	}
	if text == "" {
		return types.CritiqueResult{Error: "empty critique response"}, nil
	}
	return types.CritiqueResult{Text: text}, nil
}

// CoverLetter writes a cover letter tailored to the role
type CoverLetter struct{ *Agents }

// Name returns the task name
func (*CoverLetter) Name() string { return NameCoverLetter }

// Execute generates the letter
func (a *CoverLetter) Execute(ctx context.Context, s types.Snapshot) (pipeline.Result, error) {
	text, err := a.generateText(ctx, "cover-letter", llm.TierAdvanced, map[string]string{
		"Document": s.DocumentText,
		"Role":     s.RoleDescription,
		"Tone":     a.opts.CoverLetterTone,
	})
	if err != nil {
		return nil, err
	}
	if text == "" {
		return types.CoverLetterResult{Error: "empty cover letter response"}, nil
	}
	return types.CoverLetterResult{Text: text}, nil
}
