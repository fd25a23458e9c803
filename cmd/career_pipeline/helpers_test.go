package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/career-pipeline/internal/config"
	"github.com/jonathan/career-pipeline/internal/db"
	"github.com/jonathan/career-pipeline/internal/llm"
	"github.com/jonathan/career-pipeline/internal/types"
)

const testSecret = "cli-test-secret-that-is-long-enough"

var testDocument = strings.Repeat("Designed and ran Go services for card payments across three regions. ", 3)

const testRole = "Senior Backend Engineer\nOwn the payments platform and its on-call rotation."

// stubModel answers each agent prompt with a fixed, schema-valid reply
type stubModel struct{}

func (stubModel) Generate(_ context.Context, req llm.Request) (string, error) {
	switch {
	case strings.Contains(req.System, "ats_score"):
		return `{"ats_score": 81, "missing_keywords": ["Kafka"], "matching_keywords": ["Go"], "formatting_issues": []}`, nil
	case strings.Contains(req.System, "compensation analyst"):
		return `{"benchmark": {"role_title": "Senior Backend Engineer", "salary_min": 140000, "salary_median": 165000, "salary_max": 190000, "currency": "USD"}, "matches": []}`, nil
	case strings.Contains(req.System, "classify the role"):
		return `{"tier": "Realistic", "match_score": 78, "missing_skills": ["Kafka"]}`, nil
	case strings.Contains(req.System, "learning roadmap"):
		return `{"phases": [{"phase_name": "Streaming", "estimated_weeks": 4, "skills_covered": ["Kafka"], "action_items": ["Build a consumer"]}]}`, nil
	case strings.Contains(req.System, "interview questions"):
		return `{"questions": ["How do you make a payment write idempotent?"]}`, nil
	}
	return "Generated text.", nil
}

func (stubModel) Close() error { return nil }

type cliEnv struct {
	t      *testing.T
	fs     afero.Fs
	dbPath string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	env := &cliEnv{t: t, fs: afero.NewMemMapFs(), dbPath: filepath.Join(dir, "cli.db")}

	t.Setenv("DATABASE_URL", "")
	t.Setenv("SQLITE_PATH", env.dbPath)
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOCK_DIR", dir)

	env.write("cv.txt", testDocument)
	env.write("role.txt", testRole)
	return env
}

func (e *cliEnv) write(name, content string) {
	e.t.Helper()
	require.NoError(e.t, afero.WriteFile(e.fs, name, []byte(content), 0o644))
}

// run executes the CLI with a fresh command context
func (e *cliEnv) run(args ...string) (string, string, error) {
	e.t.Helper()
	ctx := &commandContext{
		fs: e.fs,
		newModel: func(context.Context, *config.Config) (llm.Client, error) {
			return stubModel{}, nil
		},
	}
	cmd := newRootCommand(ctx)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// runs lists the local user's stored runs, newest first
func (e *cliEnv) runs() []types.RunRecord {
	e.t.Helper()
	store, err := db.OpenSQLite(context.Background(), e.dbPath)
	require.NoError(e.t, err)
	defer func() { _ = store.Close() }()
	runs, err := store.ListRunsByUser(context.Background(), localUserID, 10)
	require.NoError(e.t, err)
	return runs
}
