// Package types provides type definitions for structured data used throughout the career pipeline.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a pipeline run
type RunStatus string

// RunStatus values persisted in pipeline_runs.status
const (
	StatusRunning         RunStatus = "running"
	StatusWaitingForInput RunStatus = "waiting_for_input"
	StatusCompleted       RunStatus = "completed"
	StatusFailed          RunStatus = "failed"
	// StatusPartial is accepted by the schema but never produced by the engine.
	StatusPartial RunStatus = "partial"
)

// Valid reports whether s is one of the known statuses
func (s RunStatus) Valid() bool {
	switch s {
	case StatusRunning, StatusWaitingForInput, StatusCompleted, StatusFailed, StatusPartial:
		return true
	}
	return false
}

// Resumable reports whether a run in this status may be handed back to the engine
func (s RunStatus) Resumable() bool {
	return s == StatusWaitingForInput || s == StatusFailed || s == StatusRunning
}

// FinalStage is the index of the persist stage
const FinalStage = 7

// RunRecord is the durable identity and snapshot of one pipeline execution
type RunRecord struct {
	ID                 uuid.UUID  `json:"run_id"`
	UserID             uuid.UUID  `json:"user_id"`
	Status             RunStatus  `json:"status"`
	CurrentStage       int        `json:"current_stage"`
	LastCompletedStage int        `json:"last_completed_stage"`
	Snapshot           Snapshot   `json:"snapshot"`
	ErrorLog           []string   `json:"error_log"`
	MissingFields      []string   `json:"missing_fields"`
	Version            int64      `json:"version"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// NewRunRecord builds the initial record for a submission
func NewRunRecord(userID uuid.UUID, documentText, roleDescription string, now time.Time) *RunRecord {
	return &RunRecord{
		ID:           uuid.New(),
		UserID:       userID,
		Status:       StatusRunning,
		CurrentStage: 1,
		Snapshot: Snapshot{
			DocumentText:    documentText,
			RoleDescription: roleDescription,
		},
		ErrorLog:      []string{},
		MissingFields: []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// CompletedStages lists stages 1..current_stage-1
func (r *RunRecord) CompletedStages() []int {
	stages := []int{}
	for i := 1; i < r.CurrentStage; i++ {
		stages = append(stages, i)
	}
	return stages
}

// AppendError adds a failure string to the error log
func (r *RunRecord) AppendError(msg string) {
	r.ErrorLog = append(r.ErrorLog, msg)
}

// Clone returns a deep copy of the record
func (r *RunRecord) Clone() *RunRecord {
	out := *r
	out.Snapshot = r.Snapshot.Clone()
	out.ErrorLog = slices.Clone(r.ErrorLog)
	out.MissingFields = slices.Clone(r.MissingFields)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
