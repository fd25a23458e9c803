package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/jonathan/career-pipeline/internal/broadcast"
	"github.com/jonathan/career-pipeline/internal/types"
)

// RunStore persists Run Records. SaveRun is a full-row overwrite guarded by the
// record's Version; a stale version must fail with db.ErrVersionConflict.
// GetRun returns (nil, nil) when the run does not exist.
type RunStore interface {
	CreateRun(ctx context.Context, run *types.RunRecord) error
	GetRun(ctx context.Context, runID uuid.UUID) (*types.RunRecord, error)
	SaveRun(ctx context.Context, run *types.RunRecord) error
}

// ProjectionStore receives the Result Persister's denormalized records
type ProjectionStore interface {
	SaveBenchmark(ctx context.Context, rec *types.BenchmarkRecord) error
	SaveMatch(ctx context.Context, rec *types.MatchRecord) error
	SaveRoadmap(ctx context.Context, rec *types.RoadmapRecord) error
}

// Publisher pushes progress events to a user's live channel
type Publisher interface {
	Publish(ctx context.Context, userID string, event broadcast.Event)
}
