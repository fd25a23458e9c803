package types

import "slices"

// Stage task outputs. Each knows how to fold itself into a Snapshot and
// reports a non-empty Degraded() when the producing task caught its own
// failure and returned a lower-quality value instead of an error.

// IngestResult carries the normalized submission inputs
type IngestResult struct {
	DocumentText    string `json:"document_text"`
	RoleDescription string `json:"role_description"`
}

// Apply stores the normalized inputs
func (r IngestResult) Apply(s *Snapshot) {
	s.DocumentText = r.DocumentText
	s.RoleDescription = r.RoleDescription
}

// Degraded is always empty; ingestion has no degraded mode
func (r IngestResult) Degraded() string { return "" }

// Apply stores the score and promotes missing keywords to missing skills
func (r ATSResult) Apply(s *Snapshot) {
	ats := r
	s.ATS = &ats
	if len(r.MissingKeywords) > 0 {
		s.MissingSkills = slices.Clone(r.MissingKeywords)
	}
}

// Degraded returns the self-reported error, if any
func (r ATSResult) Degraded() string { return r.Error }

// MarketResult is the output of the market analyst
type MarketResult struct {
	Benchmark SalaryBenchmark `json:"benchmark"`
	Matches   []MarketMatch   `json:"matches"`
	Error     string          `json:"error,omitempty"`
}

// Apply stores the benchmark and market matches
func (r MarketResult) Apply(s *Snapshot) {
	b := r.Benchmark
	if b.Error == "" {
		b.Error = r.Error
	}
	s.SalaryBenchmark = &b
	s.MarketMatches = slices.Clone(r.Matches)
}

// Degraded returns the self-reported error, if any
func (r MarketResult) Degraded() string { return r.Error }

// CritiqueResult is the free-text critique of the document
type CritiqueResult struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Apply stores the critique text
func (r CritiqueResult) Apply(s *Snapshot) {
	text := r.Text
	s.Critique = &text
}

// Degraded returns the self-reported error, if any
func (r CritiqueResult) Degraded() string { return r.Error }

// CoverLetterResult is the generated cover letter
type CoverLetterResult struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Apply stores the cover letter
func (r CoverLetterResult) Apply(s *Snapshot) {
	text := r.Text
	s.CoverLetter = &text
}

// Degraded returns the self-reported error, if any
func (r CoverLetterResult) Degraded() string { return r.Error }

// Apply stores the classification. An unrecognized tier falls back to Realistic.
func (c Classification) Apply(s *Snapshot) {
	cls := c
	cls.MissingSkills = slices.Clone(c.MissingSkills)
	if !ValidTier(cls.Tier) {
		cls.Tier = TierRealistic
	}
	s.Classification = &cls
	tier := cls.Tier
	s.JobTier = &tier
}

// Degraded returns the self-reported error, if any
func (c Classification) Degraded() string { return c.Error }

// RoadmapResult is the learning plan for the missing skills
type RoadmapResult struct {
	TargetRole    string         `json:"target_role"`
	Phases        []RoadmapPhase `json:"phases"`
	OverallAdvice string         `json:"overall_advice,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Apply stores the roadmap phases
func (r RoadmapResult) Apply(s *Snapshot) {
	phases := make([]RoadmapPhase, 0, len(r.Phases))
	phases = append(phases, r.Phases...)
	s.Roadmap = phases
}

// Degraded returns the self-reported error, if any
func (r RoadmapResult) Degraded() string { return r.Error }

// InterviewResult is the generated question bank
type InterviewResult struct {
	Questions []string `json:"questions"`
	Error     string   `json:"error,omitempty"`
}

// Apply stores the question bank
func (r InterviewResult) Apply(s *Snapshot) {
	s.InterviewQuestions = slices.Clone(r.Questions)
	if s.InterviewQuestions == nil {
		s.InterviewQuestions = []string{}
	}
}

// Degraded returns the self-reported error, if any
func (r InterviewResult) Degraded() string { return r.Error }
