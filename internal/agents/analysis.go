package agents

import (
	"context"

	"github.com/jonathan/career-pipeline/internal/llm"
	"github.com/jonathan/career-pipeline/internal/pipeline"
	"github.com/jonathan/career-pipeline/internal/schemas"
	"github.com/jonathan/career-pipeline/internal/types"
)

// ATSScorer scores the document against the role description
type ATSScorer struct{ *Agents }

// Name returns the task name
func (*ATSScorer) Name() string { return NameATSScorer }

// Execute asks the model for a structured ATS score
func (a *ATSScorer) Execute(ctx context.Context, s types.Snapshot) (pipeline.Result, error) {
	var res types.ATSResult
	detail, err := a.generateJSON(ctx, "ats-scorer", schemas.ATSResult, llm.TierStandard, map[string]string{
		"Document": s.DocumentText,
		"Role":     s.RoleDescription,
	}, &res)
	if err != nil {
		return nil, err
	}
	if detail != "" {
		return types.ATSResult{Error: "Failed to parse ATS score", Details: detail}, nil
	}
	return res, nil
}

// MarketAnalyst estimates compensation for the role and adjacent openings
type MarketAnalyst struct{ *Agents }

// Name returns the task name
func (*MarketAnalyst) Name() string { return NameMarketAnalyst }

// Execute asks the model for a salary benchmark and related roles
func (a *MarketAnalyst) Execute(ctx context.Context, s types.Snapshot) (pipeline.Result, error) {
	var res types.MarketResult
	detail, err := a.generateJSON(ctx, "market-analyst", schemas.MarketResult, llm.TierStandard, map[string]string{
		"Role": s.RoleDescription,
	}, &res)
	if err != nil {
		return nil, err
	}
	if detail != "" {
		return types.MarketResult{
			Benchmark: types.SalaryBenchmark{Currency: "USD"},
			Error:     "Failed to extract salary benchmark: " + detail,
		}, nil
	}
	if res.Benchmark.Currency == "" {
		res.Benchmark.Currency = "USD"
	}
	return res, nil
}
