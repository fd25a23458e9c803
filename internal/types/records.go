package types

import (
	"time"

	"github.com/google/uuid"
)

// Projection records written once per completed run. They are independent of
// the snapshot blob so they can be queried directly.

// BenchmarkRecord is a row in salary_benchmarks
type BenchmarkRecord struct {
	ID              uuid.UUID `json:"id"`
	RunID           uuid.UUID `json:"run_id"`
	UserID          uuid.UUID `json:"user_id"`
	RoleTitle       string    `json:"role_title"`
	ExperienceLevel string    `json:"experience_level,omitempty"`
	Location        string    `json:"location,omitempty"`
	SalaryMin       int       `json:"salary_min"`
	SalaryMedian    int       `json:"salary_median"`
	SalaryMax       int       `json:"salary_max"`
	Currency        string    `json:"currency"`
	SourceURL       string    `json:"source_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// MatchRecord is a row in job_matches
type MatchRecord struct {
	ID            uuid.UUID `json:"id"`
	RunID         uuid.UUID `json:"run_id"`
	UserID        uuid.UUID `json:"user_id"`
	JobTitle      string    `json:"job_title"`
	Company       string    `json:"company,omitempty"`
	MatchScore    float64   `json:"match_score"`
	Tier          string    `json:"tier,omitempty"`
	MissingSkills []string  `json:"missing_skills"`
	SalaryMin     int       `json:"salary_min,omitempty"`
	SalaryMax     int       `json:"salary_max,omitempty"`
	JobURL        string    `json:"job_url,omitempty"`
	Primary       bool      `json:"primary"`
	CreatedAt     time.Time `json:"created_at"`
}

// RoadmapRecord is a row in skill_roadmaps
type RoadmapRecord struct {
	ID         uuid.UUID      `json:"id"`
	RunID      uuid.UUID      `json:"run_id"`
	UserID     uuid.UUID      `json:"user_id"`
	TargetRole string         `json:"target_role"`
	Phases     []RoadmapPhase `json:"roadmap"`
	CreatedAt  time.Time      `json:"created_at"`
}
