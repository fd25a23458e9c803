package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/career-pipeline/internal/types"
)

func TestCheckPause(t *testing.T) {
	longDoc := strings.Repeat("a", MinDocumentLength)

	tests := []struct {
		name     string
		stage    int
		snapshot types.Snapshot
		pause    bool
		missing  []string
	}{
		{name: "empty document", stage: StageIngest, snapshot: types.Snapshot{}, pause: true, missing: []string{FieldDocument}},
		{name: "whitespace padded short document", stage: StageIngest, snapshot: types.Snapshot{DocumentText: "   " + strings.Repeat("a", 99) + "\n\n"}, pause: true, missing: []string{FieldDocument}},
		{name: "document at minimum", stage: StageIngest, snapshot: types.Snapshot{DocumentText: longDoc}},
		{name: "multibyte characters count once", stage: StageIngest, snapshot: types.Snapshot{DocumentText: strings.Repeat("é", MinDocumentLength)}},
		{name: "ingest ignores role", stage: StageIngest, snapshot: types.Snapshot{DocumentText: longDoc, RoleDescription: ""}},
		{name: "short role", stage: StageOptimize, snapshot: types.Snapshot{RoleDescription: "Lead!"}, pause: true, missing: []string{FieldRoleDescription}},
		{name: "role at minimum", stage: StageOptimize, snapshot: types.Snapshot{RoleDescription: "0123456789"}},
		{name: "analysis never pauses", stage: StageAnalysis, snapshot: types.Snapshot{}},
		{name: "persist never pauses", stage: StagePersist, snapshot: types.Snapshot{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pause, missing := CheckPause(tt.stage, tt.snapshot)
			assert.Equal(t, tt.pause, pause)
			assert.Equal(t, tt.missing, missing)
		})
	}
}
