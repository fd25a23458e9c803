package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/career-pipeline/internal/types"
)

func TestDefaultStages(t *testing.T) {
	stages := DefaultStages((&fakeTasks{}).tasks())
	require.Len(t, stages, types.FinalStage)

	for i, s := range stages {
		assert.Equal(t, i+1, s.Index)
	}

	assert.Len(t, stages[StageAnalysis-1].Tasks, 2)
	assert.False(t, stages[StageAnalysis-1].Sequential)
	assert.Len(t, stages[StageOptimize-1].Tasks, 2)
	assert.True(t, stages[StageOptimize-1].Sequential)
	assert.Equal(t, "critique", stages[StageOptimize-1].Tasks[0].Name())
	assert.True(t, stages[StagePersist-1].Persist)
	assert.Empty(t, stages[StagePersist-1].Tasks)

	roadmap := stages[StageRoadmap-1]
	require.NotNil(t, roadmap.Skip)
	assert.True(t, roadmap.Skip(types.Snapshot{}))
	assert.False(t, roadmap.Skip(types.Snapshot{MissingSkills: []string{"Go"}}))
}

func TestStageLabel(t *testing.T) {
	assert.Equal(t, "Stage 2: analysis", Stage{Index: 2, Name: "analysis"}.Label())
}

func TestTaskError(t *testing.T) {
	err := &TaskError{Task: "ats_scorer", Err: ErrRunNotFound}
	assert.Equal(t, "ats_scorer: pipeline run not found", err.Error())
	assert.ErrorIs(t, err, ErrRunNotFound)
}
