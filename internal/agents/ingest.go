package agents

import (
	"context"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/jonathan/career-pipeline/internal/pipeline"
	"github.com/jonathan/career-pipeline/internal/types"
)

// Ingest normalizes the submitted text so later stages see one canonical form
type Ingest struct{}

// Name returns the task name
func (Ingest) Name() string { return NameIngest }

// Execute normalizes both inputs
func (Ingest) Execute(_ context.Context, s types.Snapshot) (pipeline.Result, error) {
	return types.IngestResult{
		DocumentText:    NormalizeText(s.DocumentText),
		RoleDescription: NormalizeText(s.RoleDescription),
	}, nil
}

var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// NormalizeText applies Unicode NFC, unifies line endings, strips trailing
// spaces from each line and collapses runs of blank lines.
func NormalizeText(s string) string {
	s = norm.NFC.String(lineEndings.Replace(s))

	var b strings.Builder
	blank := 0
	for line := range strings.Lines(s) {
		line = strings.TrimRight(line, " \t\n")
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}
