package schemas

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_ValidDocuments(t *testing.T) {
	tests := map[string]string{
		ATSResult:       `{"ats_score": 72, "missing_keywords": ["Go"], "matching_keywords": [], "formatting_issues": []}`,
		MarketResult:    `{"benchmark": {"salary_min": 1, "salary_median": 2, "salary_max": 3}, "matches": [{"title": "SRE", "match_score": 50}]}`,
		Classification:  `{"tier": "Stretch", "match_score": 55.5, "missing_skills": []}`,
		RoadmapResult:   `{"phases": [{"phase_name": "One", "estimated_weeks": 2, "skills_covered": [], "action_items": []}]}`,
		InterviewResult: `{"questions": ["Why this role?"]}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, Validate(name, []byte(doc)))
		})
	}
}

func TestValidate_InvalidDocuments(t *testing.T) {
	tests := []struct {
		name   string
		schema string
		doc    string
		field  string
	}{
		{name: "score out of range", schema: ATSResult, doc: `{"ats_score": 140}`, field: "ats_score"},
		{name: "score as string", schema: ATSResult, doc: `{"ats_score": "high"}`, field: "ats_score"},
		{name: "missing benchmark", schema: MarketResult, doc: `{"matches": []}`, field: "(root)"},
		{name: "missing tier", schema: Classification, doc: `{"match_score": 10}`, field: "(root)"},
		{name: "empty question bank", schema: InterviewResult, doc: `{"questions": []}`, field: "questions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.schema, []byte(tt.doc))
			require.Error(t, err)

			var validationErr *ValidationError
			require.True(t, errors.As(err, &validationErr))
			require.NotEmpty(t, validationErr.Errors)
			assert.Equal(t, tt.schema, validationErr.Schema)
			assert.Equal(t, tt.field, validationErr.Errors[0].Field)
			assert.Contains(t, err.Error(), tt.schema+" validation failed")
		})
	}
}

func TestValidate_MalformedJSON(t *testing.T) {
	err := Validate(ATSResult, []byte(`{"ats_score":`))
	assert.Error(t, err)
}

func TestValidate_UnknownSchema(t *testing.T) {
	err := Validate("nope", []byte(`{}`))
	var loadErr *SchemaLoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, "nope.schema.json", loadErr.Path)
}

func TestValidateJSONString(t *testing.T) {
	schema := `{"type": "object", "required": ["name"], "properties": {"name": {"type": "string"}}}`

	assert.NoError(t, ValidateJSONString(schema, `{"name": "x"}`))
	assert.Error(t, ValidateJSONString(schema, `{}`))

	err := ValidateJSONString(`{"type": 12}`, `{}`)
	var loadErr *SchemaLoadError
	assert.True(t, errors.As(err, &loadErr))
}

func TestNames(t *testing.T) {
	names, err := Names()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ATSResult, MarketResult, Classification, RoadmapResult, InterviewResult}, names)
}
