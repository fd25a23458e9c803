package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/career-pipeline/internal/types"
)

// -----------------------------------------------------------------------------
// Pipeline Run Methods
// -----------------------------------------------------------------------------

const runColumns = `id, user_id, status, current_stage, last_completed_stage,
	snapshot, error_log, missing_fields, version, created_at, updated_at, completed_at`

// CreateRun inserts a new run record
func (db *DB) CreateRun(ctx context.Context, run *types.RunRecord) error {
	enc, err := encodeRun(run)
	if err != nil {
		return err
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (`+runColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID, run.UserID, string(run.Status), run.CurrentStage, run.LastCompletedStage,
		enc.snapshot, enc.errorLog, enc.missingFields, run.Version,
		run.CreatedAt, run.UpdatedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID. Returns nil, nil when it does not exist.
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*types.RunRecord, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM pipeline_runs WHERE id = $1`, runID)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// SaveRun overwrites the run row if its version still matches, then bumps
// run.Version. A stale version returns ErrVersionConflict.
func (db *DB) SaveRun(ctx context.Context, run *types.RunRecord) error {
	enc, err := encodeRun(run)
	if err != nil {
		return err
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE pipeline_runs
		 SET status = $3, current_stage = $4, last_completed_stage = $5,
		     snapshot = $6, error_log = $7, missing_fields = $8,
		     updated_at = $9, completed_at = $10, version = version + 1
		 WHERE id = $1 AND version = $2`,
		run.ID, run.Version, string(run.Status), run.CurrentStage, run.LastCompletedStage,
		enc.snapshot, enc.errorLog, enc.missingFields, run.UpdatedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	run.Version++
	return nil
}

// ListRunsByUser returns a user's runs, newest first
func (db *DB) ListRunsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]types.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []types.RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
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

func scanRun(row pgx.Row) (*types.RunRecord, error) {
	var run types.RunRecord
	var status string
	var enc encodedRun
	if err := row.Scan(&run.ID, &run.UserID, &status, &run.CurrentStage, &run.LastCompletedStage,
		&enc.snapshot, &enc.errorLog, &enc.missingFields, &run.Version,
		&run.CreatedAt, &run.UpdatedAt, &run.CompletedAt); err != nil {
		return nil, err
	}
	run.Status = types.RunStatus(status)
	if err := enc.decode(&run); err != nil {
		return nil, err
	}
	return &run, nil
}
