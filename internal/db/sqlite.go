package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jonathan/career-pipeline/internal/types"
)

// SQLite is a single-file run store for local and CLI use. It implements the
// same run and projection methods as DB.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path and applies migrations
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply pragma %q: %w", pragma, err)
		}
	}

	s := &SQLite{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file location
func (s *SQLite) Path() string { return s.path }

// Close closes the underlying database
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks that the database is reachable
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) migrate(ctx context.Context) error {
	migrations, err := loadMigrations("sqlite")
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)"); err != nil {
		return fmt.Errorf("failed to ensure schema_migrations: %w", err)
	}
	for _, m := range migrations {
		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_migrations WHERE version = ?", m.version).Scan(&count); err != nil {
			return fmt.Errorf("failed to check migration %s: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	return nil
}

// CreateRun inserts a new run record
func (s *SQLite) CreateRun(ctx context.Context, run *types.RunRecord) error {
	enc, err := encodeRun(run)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, user_id, status, current_stage, last_completed_stage,
		     snapshot, error_log, missing_fields, version, created_at, updated_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.UserID.String(), string(run.Status), run.CurrentStage, run.LastCompletedStage,
		string(enc.snapshot), string(enc.errorLog), string(enc.missingFields), run.Version,
		formatTime(run.CreatedAt), formatTime(run.UpdatedAt), nullableTime(run.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID. Returns nil, nil when it does not exist.
func (s *SQLite) GetRun(ctx context.Context, runID uuid.UUID) (*types.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM pipeline_runs WHERE id = ?`, runID.String())
	run, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// SaveRun overwrites the run row if its version still matches, then bumps
// run.Version. A stale version returns ErrVersionConflict.
func (s *SQLite) SaveRun(ctx context.Context, run *types.RunRecord) error {
	enc, err := encodeRun(run)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs
		 SET status = ?, current_stage = ?, last_completed_stage = ?,
		     snapshot = ?, error_log = ?, missing_fields = ?,
		     updated_at = ?, completed_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		string(run.Status), run.CurrentStage, run.LastCompletedStage,
		string(enc.snapshot), string(enc.errorLog), string(enc.missingFields),
		formatTime(run.UpdatedAt), nullableTime(run.CompletedAt),
		run.ID.String(), run.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	run.Version++
	return nil
}

// ListRunsByUser returns a user's runs, newest first
func (s *SQLite) ListRunsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]types.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID.String(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []types.RunRecord{}
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// SaveBenchmark inserts a salary benchmark record
func (s *SQLite) SaveBenchmark(ctx context.Context, rec *types.BenchmarkRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO salary_benchmarks (id, run_id, user_id, role_title, experience_level, location,
		     salary_min, salary_median, salary_max, currency, source_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.RunID.String(), rec.UserID.String(), rec.RoleTitle,
		nullableString(rec.ExperienceLevel), nullableString(rec.Location),
		rec.SalaryMin, rec.SalaryMedian, rec.SalaryMax, currency(rec.Currency),
		nullableString(rec.SourceURL), formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save benchmark: %w", err)
	}
	return nil
}

// SaveMatch inserts a job match record
func (s *SQLite) SaveMatch(ctx context.Context, rec *types.MatchRecord) error {
	skills, err := json.Marshal(nonNil(rec.MissingSkills))
	if err != nil {
		return fmt.Errorf("failed to marshal missing skills: %w", err)
	}
	primary := 0
	if rec.Primary {
		primary = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO job_matches (id, run_id, user_id, job_title, company, match_score, tier,
		     missing_skills, salary_min, salary_max, job_url, is_primary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.RunID.String(), rec.UserID.String(), rec.JobTitle,
		nullableString(rec.Company), rec.MatchScore, nullableString(rec.Tier),
		string(skills), rec.SalaryMin, rec.SalaryMax, nullableString(rec.JobURL),
		primary, formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save match: %w", err)
	}
	return nil
}

// SaveRoadmap inserts a skill roadmap record
func (s *SQLite) SaveRoadmap(ctx context.Context, rec *types.RoadmapRecord) error {
	phases, err := json.Marshal(rec.Phases)
	if err != nil {
		return fmt.Errorf("failed to marshal roadmap: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO skill_roadmaps (id, run_id, user_id, target_role, roadmap, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.RunID.String(), rec.UserID.String(), rec.TargetRole,
		string(phases), formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save roadmap: %w", err)
	}
	return nil
}

// ListBenchmarks returns the benchmark records of a run
func (s *SQLite) ListBenchmarks(ctx context.Context, runID uuid.UUID) ([]types.BenchmarkRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, user_id, role_title, COALESCE(experience_level, ''), COALESCE(location, ''),
		        salary_min, salary_median, salary_max, currency, COALESCE(source_url, ''), created_at
		 FROM salary_benchmarks WHERE run_id = ? ORDER BY created_at`,
		runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list benchmarks: %w", err)
	}
	defer rows.Close()

	out := []types.BenchmarkRecord{}
	for rows.Next() {
		var rec types.BenchmarkRecord
		var created string
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.UserID, &rec.RoleTitle, &rec.ExperienceLevel, &rec.Location,
			&rec.SalaryMin, &rec.SalaryMedian, &rec.SalaryMax, &rec.Currency, &rec.SourceURL, &created); err != nil {
			return nil, fmt.Errorf("failed to scan benchmark: %w", err)
		}
		rec.CreatedAt, _ = parseTime(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListMatches returns the match records of a run, primary first
func (s *SQLite) ListMatches(ctx context.Context, runID uuid.UUID) ([]types.MatchRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, user_id, job_title, COALESCE(company, ''), match_score, COALESCE(tier, ''),
		        missing_skills, COALESCE(salary_min, 0), COALESCE(salary_max, 0), COALESCE(job_url, ''),
		        is_primary, created_at
		 FROM job_matches WHERE run_id = ? ORDER BY is_primary DESC, match_score DESC`,
		runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	out := []types.MatchRecord{}
	for rows.Next() {
		var rec types.MatchRecord
		var skills, created string
		var primary int
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.UserID, &rec.JobTitle, &rec.Company, &rec.MatchScore, &rec.Tier,
			&skills, &rec.SalaryMin, &rec.SalaryMax, &rec.JobURL, &primary, &created); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		if err := unmarshalStrings([]byte(skills), &rec.MissingSkills); err != nil {
			return nil, fmt.Errorf("failed to unmarshal missing skills: %w", err)
		}
		rec.Primary = primary != 0
		rec.CreatedAt, _ = parseTime(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListRoadmaps returns the roadmap records of a run
func (s *SQLite) ListRoadmaps(ctx context.Context, runID uuid.UUID) ([]types.RoadmapRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, user_id, target_role, roadmap, created_at
		 FROM skill_roadmaps WHERE run_id = ? ORDER BY created_at`,
		runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list roadmaps: %w", err)
	}
	defer rows.Close()

	out := []types.RoadmapRecord{}
	for rows.Next() {
		var rec types.RoadmapRecord
		var phases, created string
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.UserID, &rec.TargetRole, &phases, &created); err != nil {
			return nil, fmt.Errorf("failed to scan roadmap: %w", err)
		}
		if err := decodePhases([]byte(phases), &rec.Phases); err != nil {
			return nil, err
		}
		rec.CreatedAt, _ = parseTime(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanSQLiteRun(scanner interface{ Scan(dest ...any) error }) (*types.RunRecord, error) {
	var (
		run                         types.RunRecord
		id, userID, status          string
		snapshot, errorLog, missing string
		createdRaw, updatedRaw      string
		completedRaw                sql.NullString
	)
	if err := scanner.Scan(&id, &userID, &status, &run.CurrentStage, &run.LastCompletedStage,
		&snapshot, &errorLog, &missing, &run.Version, &createdRaw, &updatedRaw, &completedRaw); err != nil {
		return nil, err
	}

	var err error
	if run.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid run id %q: %w", id, err)
	}
	if run.UserID, err = uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", userID, err)
	}
	run.Status = types.RunStatus(status)

	enc := encodedRun{snapshot: []byte(snapshot), errorLog: []byte(errorLog), missingFields: []byte(missing)}
	if err := enc.decode(&run); err != nil {
		return nil, err
	}

	if run.CreatedAt, err = parseTime(createdRaw); err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}
	if run.UpdatedAt, err = parseTime(updatedRaw); err != nil {
		return nil, fmt.Errorf("invalid updated_at: %w", err)
	}
	if completedRaw.Valid {
		completed, err := parseTime(completedRaw.String)
		if err != nil {
			return nil, fmt.Errorf("invalid completed_at: %w", err)
		}
		run.CompletedAt = &completed
	}
	return &run, nil
}
