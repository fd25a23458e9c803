package main

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/career-pipeline/internal/config"
	"github.com/jonathan/career-pipeline/internal/pipeline"
	"github.com/jonathan/career-pipeline/internal/server"
	"github.com/jonathan/career-pipeline/internal/types"
)

func TestRunCompletes(t *testing.T) {
	env := newCLIEnv(t)

	out, _, err := env.run("run", "--document", "cv.txt", "--role", "role.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "[1/7] running")
	assert.Contains(t, out, "[7/7] completed")
	assert.Contains(t, out, "ATS score")
	assert.Contains(t, out, "81")
	assert.Contains(t, out, "Realistic")
	assert.NotContains(t, out, "career_pipeline resume")

	runs := env.runs()
	require.Len(t, runs, 1)
	assert.Equal(t, types.StatusCompleted, runs[0].Status)
	assert.Equal(t, types.FinalStage, runs[0].CurrentStage)
}

func TestRunPausesThenResumes(t *testing.T) {
	env := newCLIEnv(t)

	out, _, err := env.run("run", "--role", "role.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "waiting for input: "+pipeline.FieldDocument)

	runs := env.runs()
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, types.StatusWaitingForInput, run.Status)
	assert.Contains(t, out, "career_pipeline resume "+run.ID.String())

	out, _, err = env.run("resume", run.ID.String(), "--document", "cv.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "Resuming run "+run.ID.String()+" from stage 1")
	assert.Contains(t, out, "[7/7] completed")

	runs = env.runs()
	require.Len(t, runs, 1)
	assert.Equal(t, types.StatusCompleted, runs[0].Status)
}

func TestResumeCompletedRunFails(t *testing.T) {
	env := newCLIEnv(t)

	_, _, err := env.run("run", "-d", "cv.txt", "--role-text", testRole)
	require.NoError(t, err)
	runID := env.runs()[0].ID

	_, _, err = env.run("resume", runID.String())
	require.ErrorIs(t, err, pipeline.ErrRunCompleted)
}

func TestRunRejectsBothRoleFlags(t *testing.T) {
	env := newCLIEnv(t)

	_, _, err := env.run("run", "-d", "cv.txt", "--role", "role.txt", "--role-text", "x")
	require.Error(t, err)
	assert.Empty(t, env.runs())
}

func TestRunMissingDocumentFile(t *testing.T) {
	env := newCLIEnv(t)

	_, _, err := env.run("run", "-d", "nope.txt", "-r", "role.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read document")
}

func TestStatus(t *testing.T) {
	env := newCLIEnv(t)
	_, _, err := env.run("run", "-d", "cv.txt", "-r", "role.txt")
	require.NoError(t, err)
	runID := env.runs()[0].ID

	out, _, err := env.run("status", runID.String())
	require.NoError(t, err)
	assert.Contains(t, out, runID.String())
	assert.Contains(t, out, "Senior Backend Engineer")
	assert.Contains(t, out, "140000 / 165000 / 190000 USD")
	assert.Contains(t, out, "1 phases, 4 weeks")

	out, _, err = env.run("status", runID.String(), "--json")
	require.NoError(t, err)
	var rec types.RunRecord
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, runID, rec.ID)
	assert.Equal(t, types.StatusCompleted, rec.Status)
	require.NotNil(t, rec.Snapshot.JobTier)
	assert.Equal(t, "Realistic", *rec.Snapshot.JobTier)
}

func TestStatusErrors(t *testing.T) {
	env := newCLIEnv(t)

	_, _, err := env.run("status", uuid.NewString())
	require.ErrorIs(t, err, pipeline.ErrRunNotFound)

	_, _, err = env.run("status", "not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid run id")
}

func TestRuns(t *testing.T) {
	env := newCLIEnv(t)

	out, _, err := env.run("runs")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs for user "+localUserID.String())

	_, _, err = env.run("run", "-d", "cv.txt", "-r", "role.txt")
	require.NoError(t, err)

	out, _, err = env.run("runs", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, env.runs()[0].ID.String())
	assert.Contains(t, out, "completed")

	out, _, err = env.run("runs", "--user", uuid.NewString())
	require.NoError(t, err)
	assert.Contains(t, out, "No runs for user")

	_, _, err = env.run("runs", "--limit", "0")
	require.Error(t, err)
}

func TestMigrate(t *testing.T) {
	env := newCLIEnv(t)

	out, _, err := env.run("migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Migrations applied to sqlite database "+env.dbPath)
}

func TestToken(t *testing.T) {
	env := newCLIEnv(t)
	userID := uuid.New()

	out, _, err := env.run("token", "--user", userID.String())
	require.NoError(t, err)

	svc := server.NewJWTService(&config.JWTConfig{Secret: testSecret, ExpirationHours: config.DefaultJWTExpiration})
	claims, err := svc.ValidateToken(trimNewline(out))
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
}

func TestTokenRequiresSecret(t *testing.T) {
	env := newCLIEnv(t)
	t.Setenv("JWT_SECRET", "")

	_, _, err := env.run("token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestConfigFileIsValidated(t *testing.T) {
	env := newCLIEnv(t)
	env.write("bad.yaml", "log_format: xml\n")

	_, _, err := env.run("--config", "bad.yaml", "runs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
