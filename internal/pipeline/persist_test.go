package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/career-pipeline/internal/logging"
	"github.com/jonathan/career-pipeline/internal/types"
)

func completedRun() *types.RunRecord {
	tier := types.TierReach
	run := types.NewRunRecord(uuid.New(), validDocument(), "Staff Engineer\nOwn the platform roadmap", time.Now().UTC())
	run.Snapshot.ATS = &types.ATSResult{Score: 55}
	run.Snapshot.SalaryBenchmark = &types.SalaryBenchmark{SalaryMin: 180000, SalaryMedian: 210000, SalaryMax: 250000, Currency: "USD"}
	run.Snapshot.MarketMatches = []types.MarketMatch{
		{Title: "Principal Engineer", MatchScore: 40},
		{Title: "PRINCIPAL ENGINEER ", MatchScore: 39},
		{Title: "staff engineer", MatchScore: 70},
		{Title: "", MatchScore: 10},
	}
	run.Snapshot.MissingSkills = []string{"Org design"}
	run.Snapshot.Classification = &types.Classification{Tier: tier, MatchScore: 42}
	run.Snapshot.JobTier = &tier
	run.Snapshot.Roadmap = []types.RoadmapPhase{{PhaseName: "Influence", EstimatedWeeks: 6}}
	return run
}

func TestPersister_ProjectsAllRecords(t *testing.T) {
	store := &memProjections{}
	p := NewPersister(store, logging.Discard())
	run := completedRun()

	require.NoError(t, p.Persist(context.Background(), run))

	require.Len(t, store.benchmarks, 1)
	assert.Equal(t, "Staff Engineer", store.benchmarks[0].RoleTitle)
	assert.Equal(t, 210000, store.benchmarks[0].SalaryMedian)
	assert.Equal(t, run.ID, store.benchmarks[0].RunID)
	assert.Equal(t, run.UserID, store.benchmarks[0].UserID)

	// primary, then "Principal Engineer"; the case-folded duplicate,
	// the title matching the primary and the blank title are dropped
	require.Len(t, store.matches, 2)
	primary := store.matches[0]
	assert.True(t, primary.Primary)
	assert.Equal(t, "Staff Engineer", primary.JobTitle)
	assert.Equal(t, 42.0, primary.MatchScore)
	assert.Equal(t, types.TierReach, primary.Tier)
	assert.Equal(t, []string{"Org design"}, primary.MissingSkills)
	assert.Equal(t, 180000, primary.SalaryMin)
	assert.Equal(t, "Principal Engineer", store.matches[1].JobTitle)
	assert.False(t, store.matches[1].Primary)

	require.Len(t, store.roadmaps, 1)
	assert.Equal(t, "Staff Engineer", store.roadmaps[0].TargetRole)
}

func TestPersister_SkipsDegradedAndEmptyOutputs(t *testing.T) {
	store := &memProjections{}
	p := NewPersister(store, logging.Discard())
	run := completedRun()
	run.Snapshot.SalaryBenchmark.Error = "search failed"
	run.Snapshot.Classification = nil
	run.Snapshot.Roadmap = nil

	require.NoError(t, p.Persist(context.Background(), run))

	assert.Empty(t, store.benchmarks)
	assert.Empty(t, store.roadmaps)
	require.NotEmpty(t, store.matches)
	// falls back to the ATS score
	assert.Equal(t, 55.0, store.matches[0].MatchScore)
	assert.Zero(t, store.matches[0].SalaryMin)
}

func TestPersister_JoinsFailures(t *testing.T) {
	store := &memProjections{failMatch: errors.New("disk full")}
	p := NewPersister(store, logging.Discard())

	err := p.Persist(context.Background(), completedRun())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary match: disk full")
	assert.Contains(t, err.Error(), "Principal Engineer")
	// other projections are still attempted
	assert.Len(t, store.benchmarks, 1)
	assert.Len(t, store.roadmaps, 1)
}

func TestPersister_NilIsNoop(t *testing.T) {
	var p *Persister
	assert.NoError(t, p.Persist(context.Background(), completedRun()))
}

func TestRoleTitle(t *testing.T) {
	assert.Equal(t, "Backend Engineer", RoleTitle("\n\n  Backend Engineer  \nGo, Postgres"))
	assert.Equal(t, "", RoleTitle("   \n"))
	long := strings.Repeat("a", 200)
	assert.Len(t, []rune(RoleTitle(long)), maxRoleTitleRunes)
}
