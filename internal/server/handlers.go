package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jonathan/career-pipeline/internal/pipeline"
	"github.com/jonathan/career-pipeline/internal/server/middleware"
	"github.com/jonathan/career-pipeline/internal/types"
)

const (
	maxBodyBytes    = 1 << 20
	defaultRunLimit = 20
	maxRunLimit     = 100
)

// StartRequest is the body of POST /pipeline/start. Short or empty text is
// accepted; the run pauses for input instead.
type StartRequest struct {
	DocumentText    string `json:"document_text" validate:"max=200000"`
	RoleDescription string `json:"role_description" validate:"max=50000"`
}

// ResumeRequest is the body of POST /pipeline/{id}/resume. Absent fields keep
// the stored values.
type ResumeRequest struct {
	DocumentText    *string `json:"document_text,omitempty" validate:"omitnil,min=1,max=200000"`
	RoleDescription *string `json:"role_description,omitempty" validate:"omitnil,min=1,max=50000"`
}

// RunResponse answers a start
type RunResponse struct {
	RunID  uuid.UUID       `json:"run_id"`
	Status types.RunStatus `json:"status"`
}

// ResumeResponse answers an accepted resume
type ResumeResponse struct {
	RunID            uuid.UUID       `json:"run_id"`
	ResumedFromStage int             `json:"resumed_from_stage"`
	Status           types.RunStatus `json:"status"`
}

// StatusResponse is the progress view of a run
type StatusResponse struct {
	RunID           uuid.UUID       `json:"run_id"`
	Status          types.RunStatus `json:"status"`
	CurrentStage    int             `json:"current_stage"`
	CompletedStages []int           `json:"completed_stages"`
	ErrorLog        []string        `json:"error_log"`
	MissingFields   []string        `json:"missing_fields"`
}

// RunSummary is one entry of GET /pipeline/runs
type RunSummary struct {
	RunID        uuid.UUID       `json:"run_id"`
	Status       types.RunStatus `json:"status"`
	CurrentStage int             `json:"current_stage"`
	RoleTitle    string          `json:"role_title"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
}

// handleHealth reports liveness and store reachability
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStart creates a run and returns before any stage executes
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req StartRequest
	if err := s.decode(r, &req); err != nil {
		s.errorFrom(w, r, err)
		return
	}

	rec, _, err := s.engine.Start(r.Context(), userID, pipeline.Inputs{
		DocumentText:    req.DocumentText,
		RoleDescription: req.RoleDescription,
	})
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, RunResponse{RunID: rec.ID, Status: rec.Status})
}

// handleStatus returns the progress fields of a run
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedRun(w, r)
	if !ok {
		return
	}
	s.jsonResponse(w, http.StatusOK, StatusResponse{
		RunID:           rec.ID,
		Status:          rec.Status,
		CurrentStage:    rec.CurrentStage,
		CompletedStages: rec.CompletedStages(),
		ErrorLog:        nonNil(rec.ErrorLog),
		MissingFields:   nonNil(rec.MissingFields),
	})
}

// handleResult returns the accumulated snapshot, complete or not
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedRun(w, r)
	if !ok {
		return
	}
	s.jsonResponse(w, http.StatusOK, rec.Snapshot)
}

// handleResume hands a paused or failed run back to the engine
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedRun(w, r)
	if !ok {
		return
	}
	var req ResumeRequest
	if err := s.decode(r, &req); err != nil {
		s.errorFrom(w, r, err)
		return
	}

	res, err := s.engine.Resume(r.Context(), rec.ID, pipeline.ResumeInput{
		DocumentText:    req.DocumentText,
		RoleDescription: req.RoleDescription,
	})
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, ResumeResponse{
		RunID:            res.RunID,
		ResumedFromStage: res.ResumedFromStage,
		Status:           res.Status,
	})
}

// handleListRuns lists the caller's runs, newest first
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.errorFrom(w, r, &ErrValidation{Field: "limit", Message: "must be a positive integer"})
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := s.store.ListRunsByUser(r.Context(), userID, limit)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	out := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, RunSummary{
			RunID:        run.ID,
			Status:       run.Status,
			CurrentStage: run.CurrentStage,
			RoleTitle:    pipeline.RoleTitle(run.Snapshot.RoleDescription),
			CreatedAt:    run.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt:    run.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"runs": out})
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedRun(w, r)
	if !ok {
		return
	}
	matches, err := s.store.ListMatches(r.Context(), rec.ID)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"matches": nonNil(matches)})
}

func (s *Server) handleBenchmarks(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedRun(w, r)
	if !ok {
		return
	}
	benchmarks, err := s.store.ListBenchmarks(r.Context(), rec.ID)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"benchmarks": nonNil(benchmarks)})
}

func (s *Server) handleRoadmap(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedRun(w, r)
	if !ok {
		return
	}
	roadmaps, err := s.store.ListRoadmaps(r.Context(), rec.ID)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"roadmaps": nonNil(roadmaps)})
}

func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return uuid.Nil, false
	}
	return userID, true
}

// ownedRun loads the run named in the path. Runs owned by another user are
// reported as not found.
func (s *Server) ownedRun(w http.ResponseWriter, r *http.Request) (*types.RunRecord, bool) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return nil, false
	}
	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorFrom(w, r, &ErrValidation{Field: "id", Message: "invalid run ID"})
		return nil, false
	}
	rec, err := s.engine.Status(r.Context(), runID)
	if err != nil {
		s.errorFrom(w, r, err)
		return nil, false
	}
	if rec.UserID != userID {
		s.errorFrom(w, r, pipeline.ErrRunNotFound)
		return nil, false
	}
	return rec, true
}

// decode reads a JSON body into dst and validates it. An empty body decodes
// as the zero value.
func (s *Server) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return &ErrValidation{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if err := s.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

// validationError reduces validator output to the first failing field
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ErrValidation{Field: "body", Message: err.Error()}
	}
	fe := fieldErrs[0]
	msg := fe.Tag()
	if fe.Param() != "" {
		msg += "=" + fe.Param()
	}
	return &ErrValidation{Field: fe.Field(), Message: "failed " + msg}
}

// newValidator reports fields by their JSON names
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
