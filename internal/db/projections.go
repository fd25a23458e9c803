package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/career-pipeline/internal/types"
)

// -----------------------------------------------------------------------------
// Projection Methods
// -----------------------------------------------------------------------------

// SaveBenchmark inserts a salary benchmark record
func (db *DB) SaveBenchmark(ctx context.Context, rec *types.BenchmarkRecord) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO salary_benchmarks (id, run_id, user_id, role_title, experience_level, location,
		                                salary_min, salary_median, salary_max, currency, source_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.RunID, rec.UserID, rec.RoleTitle, nullableString(rec.ExperienceLevel), nullableString(rec.Location),
		rec.SalaryMin, rec.SalaryMedian, rec.SalaryMax, currency(rec.Currency), nullableString(rec.SourceURL), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save benchmark: %w", err)
	}
	return nil
}

// SaveMatch inserts a job match record
func (db *DB) SaveMatch(ctx context.Context, rec *types.MatchRecord) error {
	skills, err := json.Marshal(nonNil(rec.MissingSkills))
	if err != nil {
		return fmt.Errorf("failed to marshal missing skills: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO job_matches (id, run_id, user_id, job_title, company, match_score, tier,
		                          missing_skills, salary_min, salary_max, job_url, is_primary, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.RunID, rec.UserID, rec.JobTitle, nullableString(rec.Company), rec.MatchScore, nullableString(rec.Tier),
		skills, rec.SalaryMin, rec.SalaryMax, nullableString(rec.JobURL), rec.Primary, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save match: %w", err)
	}
	return nil
}

// SaveRoadmap inserts a skill roadmap record
func (db *DB) SaveRoadmap(ctx context.Context, rec *types.RoadmapRecord) error {
	phases, err := json.Marshal(rec.Phases)
	if err != nil {
		return fmt.Errorf("failed to marshal roadmap: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO skill_roadmaps (id, run_id, user_id, target_role, roadmap, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.RunID, rec.UserID, rec.TargetRole, phases, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save roadmap: %w", err)
	}
	return nil
}

// ListBenchmarks returns the benchmark records of a run
func (db *DB) ListBenchmarks(ctx context.Context, runID uuid.UUID) ([]types.BenchmarkRecord, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, run_id, user_id, role_title, COALESCE(experience_level, ''), COALESCE(location, ''),
		        salary_min, salary_median, salary_max, currency, COALESCE(source_url, ''), created_at
		 FROM salary_benchmarks WHERE run_id = $1 ORDER BY created_at`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list benchmarks: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.BenchmarkRecord, error) {
		var rec types.BenchmarkRecord
		err := row.Scan(&rec.ID, &rec.RunID, &rec.UserID, &rec.RoleTitle, &rec.ExperienceLevel, &rec.Location,
			&rec.SalaryMin, &rec.SalaryMedian, &rec.SalaryMax, &rec.Currency, &rec.SourceURL, &rec.CreatedAt)
		return rec, err
	})
}

// ListMatches returns the match records of a run, primary first
func (db *DB) ListMatches(ctx context.Context, runID uuid.UUID) ([]types.MatchRecord, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, run_id, user_id, job_title, COALESCE(company, ''), match_score, COALESCE(tier, ''),
		        missing_skills, COALESCE(salary_min, 0), COALESCE(salary_max, 0), COALESCE(job_url, ''),
		        is_primary, created_at
		 FROM job_matches WHERE run_id = $1 ORDER BY is_primary DESC, match_score DESC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.MatchRecord, error) {
		var rec types.MatchRecord
		var skills []byte
		if err := row.Scan(&rec.ID, &rec.RunID, &rec.UserID, &rec.JobTitle, &rec.Company, &rec.MatchScore, &rec.Tier,
			&skills, &rec.SalaryMin, &rec.SalaryMax, &rec.JobURL, &rec.Primary, &rec.CreatedAt); err != nil {
			return rec, err
		}
		return rec, unmarshalStrings(skills, &rec.MissingSkills)
	})
}

// ListRoadmaps returns the roadmap records of a run
func (db *DB) ListRoadmaps(ctx context.Context, runID uuid.UUID) ([]types.RoadmapRecord, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, run_id, user_id, target_role, roadmap, created_at
		 FROM skill_roadmaps WHERE run_id = $1 ORDER BY created_at`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list roadmaps: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.RoadmapRecord, error) {
		var rec types.RoadmapRecord
		var phases []byte
		if err := row.Scan(&rec.ID, &rec.RunID, &rec.UserID, &rec.TargetRole, &phases, &rec.CreatedAt); err != nil {
			return rec, err
		}
		return rec, decodePhases(phases, &rec.Phases)
	})
}

func decodePhases(data []byte, dst *[]types.RoadmapPhase) error {
	*dst = []types.RoadmapPhase{}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal roadmap: %w", err)
	}
	return nil
}

func currency(c string) string {
	if c == "" {
		return "USD"
	}
	return c
}
