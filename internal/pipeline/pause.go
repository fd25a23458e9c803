package pipeline

import (
	"strings"
	"unicode/utf8"

	"github.com/jonathan/career-pipeline/internal/types"
)

// Minimum input lengths, counted in characters after trimming whitespace
const (
	MinDocumentLength        = 100
	MinRoleDescriptionLength = 10
)

// Field names reported in missing_fields
const (
	FieldDocument        = "document"
	FieldRoleDescription = "role_description"
)

// CheckPause decides whether the stage about to begin has the input it needs.
// It is evaluated before stage 1 (document) and before stage 3 (role description);
// every other stage passes unconditionally.
func CheckPause(stage int, snapshot types.Snapshot) (bool, []string) {
	switch stage {
	case StageIngest:
		if textLength(snapshot.DocumentText) < MinDocumentLength {
			return true, []string{FieldDocument}
		}
	case StageOptimize:
		if textLength(snapshot.RoleDescription) < MinRoleDescriptionLength {
			return true, []string{FieldRoleDescription}
		}
	}
	return false, nil
}

func textLength(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}
