package types

import "slices"

// Job tiers produced by the classifier
const (
	TierSafety    = "Safety"
	TierRealistic = "Realistic"
	TierStretch   = "Stretch"
	TierReach     = "Reach"
)

// ValidTier reports whether tier is one the pipeline accepts
func ValidTier(tier string) bool {
	switch tier {
	case TierSafety, TierRealistic, TierStretch, TierReach:
		return true
	}
	return false
}

// Snapshot is the accumulated working data of a run.
// Every output field stays nil until the stage that produces it has run.
type Snapshot struct {
	DocumentText    string `json:"document_text"`
	RoleDescription string `json:"role_description"`

	ATS             *ATSResult       `json:"ats,omitempty"`
	SalaryBenchmark *SalaryBenchmark `json:"salary_benchmark,omitempty"`
	MarketMatches   []MarketMatch    `json:"market_matches"`
	MissingSkills   []string         `json:"missing_skills"`

	Critique    *string `json:"cv_critique,omitempty"`
	CoverLetter *string `json:"cover_letter,omitempty"`

	Classification *Classification `json:"classification,omitempty"`
	JobTier        *string         `json:"job_tier,omitempty"`

	Roadmap            []RoadmapPhase `json:"skill_roadmap"`
	InterviewQuestions []string       `json:"interview_question_bank"`
}

// ATSResult is the structured score of the document against the role
type ATSResult struct {
	Score            int      `json:"ats_score"`
	Summary          string   `json:"summary,omitempty"`
	MissingKeywords  []string `json:"missing_keywords"`
	MatchingKeywords []string `json:"matching_keywords"`
	FormattingIssues []string `json:"formatting_issues"`
	Error            string   `json:"error,omitempty"`
	Details          string   `json:"details,omitempty"`
}

// SalaryBenchmark is the market compensation estimate for the target role
type SalaryBenchmark struct {
	RoleTitle       string `json:"role_title,omitempty"`
	ExperienceLevel string `json:"experience_level,omitempty"`
	Location        string `json:"location,omitempty"`
	SalaryMin       int    `json:"salary_min"`
	SalaryMedian    int    `json:"salary_median"`
	SalaryMax       int    `json:"salary_max"`
	Currency        string `json:"currency,omitempty"`
	Confidence      string `json:"confidence,omitempty"`
	SourceSummary   string `json:"source_summary,omitempty"`
	SourceURL       string `json:"source_url,omitempty"`
	Error           string `json:"error,omitempty"`
}

// MarketMatch is a market-derived role the candidate could also target
type MarketMatch struct {
	Title      string  `json:"title"`
	Company    string  `json:"company,omitempty"`
	MatchScore float64 `json:"match_score"`
	SalaryMin  int     `json:"salary_min,omitempty"`
	SalaryMax  int     `json:"salary_max,omitempty"`
	URL        string  `json:"url,omitempty"`
}

// Classification places the role in a tier relative to the candidate
type Classification struct {
	Tier          string   `json:"tier"`
	MatchScore    float64  `json:"match_score"`
	Reasoning     string   `json:"reasoning,omitempty"`
	MissingSkills []string `json:"missing_skills"`
	Error         string   `json:"error,omitempty"`
}

// RoadmapPhase is one chronological block of the learning roadmap
type RoadmapPhase struct {
	PhaseName      string   `json:"phase_name"`
	EstimatedWeeks int      `json:"estimated_weeks"`
	SkillsCovered  []string `json:"skills_covered"`
	ActionItems    []string `json:"action_items"`
}

// Clone returns a deep copy so tasks never share mutable state with the engine
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.ATS != nil {
		ats := *s.ATS
		ats.MissingKeywords = slices.Clone(s.ATS.MissingKeywords)
		ats.MatchingKeywords = slices.Clone(s.ATS.MatchingKeywords)
		ats.FormattingIssues = slices.Clone(s.ATS.FormattingIssues)
		out.ATS = &ats
	}
	if s.SalaryBenchmark != nil {
		b := *s.SalaryBenchmark
		out.SalaryBenchmark = &b
	}
	out.MarketMatches = slices.Clone(s.MarketMatches)
	out.MissingSkills = slices.Clone(s.MissingSkills)
	out.Critique = cloneString(s.Critique)
	out.CoverLetter = cloneString(s.CoverLetter)
	if s.Classification != nil {
		c := *s.Classification
		c.MissingSkills = slices.Clone(s.Classification.MissingSkills)
		out.Classification = &c
	}
	out.JobTier = cloneString(s.JobTier)
	if s.Roadmap != nil {
		out.Roadmap = make([]RoadmapPhase, len(s.Roadmap))
		for i, p := range s.Roadmap {
			p.SkillsCovered = slices.Clone(p.SkillsCovered)
			p.ActionItems = slices.Clone(p.ActionItems)
			out.Roadmap[i] = p
		}
	}
	out.InterviewQuestions = slices.Clone(s.InterviewQuestions)
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
