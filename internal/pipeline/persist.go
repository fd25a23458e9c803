package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/jonathan/career-pipeline/internal/types"
)

const maxRoleTitleRunes = 120

// Persister projects a finished snapshot into the benchmark, match and
// roadmap tables. Every projection is attempted; failures are joined.
type Persister struct {
	store  ProjectionStore
	logger *slog.Logger
	now    func() time.Time
}

// NewPersister creates a Persister writing to store
func NewPersister(store ProjectionStore, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{store: store, logger: logger, now: time.Now}
}

// Persist writes the projection records for run. A nil Persister is a no-op.
func (p *Persister) Persist(ctx context.Context, run *types.RunRecord) error {
	if p == nil || p.store == nil {
		return nil
	}
	now := p.now().UTC()
	snap := run.Snapshot
	title := RoleTitle(snap.RoleDescription)
	log := p.logger.With("run_id", run.ID, "user_id", run.UserID)

	var errs []error

	if b := snap.SalaryBenchmark; b != nil && b.Error == "" {
		roleTitle := b.RoleTitle
		if roleTitle == "" {
			roleTitle = title
		}
		rec := &types.BenchmarkRecord{
			ID:              uuid.New(),
			RunID:           run.ID,
			UserID:          run.UserID,
			RoleTitle:       roleTitle,
			ExperienceLevel: b.ExperienceLevel,
			Location:        b.Location,
			SalaryMin:       b.SalaryMin,
			SalaryMedian:    b.SalaryMedian,
			SalaryMax:       b.SalaryMax,
			Currency:        b.Currency,
			SourceURL:       b.SourceURL,
			CreatedAt:       now,
		}
		if err := p.store.SaveBenchmark(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("benchmark: %w", err))
		}
	}

	primary := primaryMatch(run, title, now)
	if err := p.store.SaveMatch(ctx, primary); err != nil {
		errs = append(errs, fmt.Errorf("primary match: %w", err))
	}

	fold := cases.Fold()
	seen := map[string]bool{fold.String(strings.TrimSpace(primary.JobTitle)): true}
	for _, m := range snap.MarketMatches {
		key := fold.String(strings.TrimSpace(m.Title))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		rec := &types.MatchRecord{
			ID:            uuid.New(),
			RunID:         run.ID,
			UserID:        run.UserID,
			JobTitle:      m.Title,
			Company:       m.Company,
			MatchScore:    m.MatchScore,
			MissingSkills: []string{},
			SalaryMin:     m.SalaryMin,
			SalaryMax:     m.SalaryMax,
			JobURL:        m.URL,
			CreatedAt:     now,
		}
		if err := p.store.SaveMatch(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("match %q: %w", m.Title, err))
		}
	}

	if len(snap.Roadmap) > 0 {
		rec := &types.RoadmapRecord{
			ID:         uuid.New(),
			RunID:      run.ID,
			UserID:     run.UserID,
			TargetRole: title,
			Phases:     snap.Clone().Roadmap,
			CreatedAt:  now,
		}
		if err := p.store.SaveRoadmap(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("roadmap: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	log.Debug("projections written", "market_matches", len(snap.MarketMatches), "roadmap_phases", len(snap.Roadmap))
	return nil
}

func primaryMatch(run *types.RunRecord, title string, now time.Time) *types.MatchRecord {
	snap := run.Snapshot
	rec := &types.MatchRecord{
		ID:            uuid.New(),
		RunID:         run.ID,
		UserID:        run.UserID,
		JobTitle:      title,
		MissingSkills: slices.Clone(snap.MissingSkills),
		Primary:       true,
		CreatedAt:     now,
	}
	if rec.MissingSkills == nil {
		rec.MissingSkills = []string{}
	}
	switch {
	case snap.Classification != nil && snap.Classification.Error == "":
		rec.MatchScore = snap.Classification.MatchScore
	case snap.ATS != nil:
		rec.MatchScore = float64(snap.ATS.Score)
	}
	if snap.JobTier != nil {
		rec.Tier = *snap.JobTier
	}
	if b := snap.SalaryBenchmark; b != nil && b.Error == "" {
		rec.SalaryMin = b.SalaryMin
		rec.SalaryMax = b.SalaryMax
	}
	return rec
}

// RoleTitle derives a short title from a role description: its first
// non-empty line, truncated.
func RoleTitle(description string) string {
	for line := range strings.Lines(description) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		runes := []rune(line)
		if len(runes) > maxRoleTitleRunes {
			return strings.TrimSpace(string(runes[:maxRoleTitleRunes]))
		}
		return line
	}
	return ""
}
