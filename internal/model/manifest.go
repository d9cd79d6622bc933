package model

import "time"

// Tenant is an isolated customer organization.
type Tenant struct {
	ID         string   `yaml:"id" json:"id"`
	Name       string   `yaml:"name" json:"name"`
	TokenEnv   string   `yaml:"token_env" json:"-"` // environment variable holding the upstream bearer token
	Frameworks []string `yaml:"frameworks" json:"frameworks,omitempty"`
}

// Scores is the scores section of a manifest. Category values are nil when
// the category was not available; they are never written as 0.
type Scores struct {
	OverallGrade string                    `json:"overall_grade,omitempty"`
	OverallScore *float64                  `json:"overall_score"`
	Categories   map[Category]*float64     `json:"categories"`
	Availability map[Category]Availability `json:"availability"`
	Compliance   map[string]float64        `json:"compliance,omitempty"`
}

// ComparisonSummary is the optional comparison section of a manifest.
type ComparisonSummary struct {
	PreviousAssessment string   `json:"previous_assessment"`
	ScoreChange        *float64 `json:"score_change"`
	FindingsResolved   int      `json:"findings_resolved"`
	NewFindings        int      `json:"new_findings"`
	Trend              string   `json:"trend,omitempty"`
}

// Manifest is the immutable, versioned record of one completed assessment.
// Corrections produce a new Manifest; a persisted one is never edited.
type Manifest struct {
	AssessmentID string             `json:"assessment_id"`
	TenantID     string             `json:"tenant_id"`
	CapturedAt   time.Time          `json:"captured_at"`
	Version      int                `json:"version"`
	Assessor     string             `json:"assessor,omitempty"`
	Frameworks   []string           `json:"frameworks,omitempty"`
	Scores       Scores             `json:"scores"`
	Findings     SeverityCounts     `json:"findings"`
	Comparison   *ComparisonSummary `json:"comparison,omitempty"`
	Snapshot     PostureSnapshot    `json:"snapshot"`
}

// Ref returns a short reference to m.
func (m *Manifest) Ref() ManifestRef {
	return ManifestRef{
		AssessmentID: m.AssessmentID,
		Version:      m.Version,
		CapturedAt:   m.CapturedAt,
		Grade:        m.Scores.OverallGrade,
		Score:        copyFloat(m.Scores.OverallScore),
	}
}

// Clone returns a deep copy of m.
func (m *Manifest) Clone() *Manifest {
	out := *m
	out.Frameworks = append([]string(nil), m.Frameworks...)
	out.Scores.OverallScore = copyFloat(m.Scores.OverallScore)
	if m.Scores.Categories != nil {
		out.Scores.Categories = make(map[Category]*float64, len(m.Scores.Categories))
		for k, v := range m.Scores.Categories {
			out.Scores.Categories[k] = copyFloat(v)
		}
	}
	if m.Scores.Availability != nil {
		out.Scores.Availability = make(map[Category]Availability, len(m.Scores.Availability))
		for k, v := range m.Scores.Availability {
			out.Scores.Availability[k] = v
		}
	}
	if m.Scores.Compliance != nil {
		out.Scores.Compliance = make(map[string]float64, len(m.Scores.Compliance))
		for k, v := range m.Scores.Compliance {
			out.Scores.Compliance[k] = v
		}
	}
	if m.Comparison != nil {
		c := *m.Comparison
		c.ScoreChange = copyFloat(m.Comparison.ScoreChange)
		out.Comparison = &c
	}
	out.Snapshot = m.Snapshot.Clone()
	return &out
}

// ManifestRef identifies a manifest inside a comparison.
type ManifestRef struct {
	AssessmentID string    `json:"assessment_id"`
	Version      int       `json:"version"`
	CapturedAt   time.Time `json:"captured_at"`
	Grade        string    `json:"grade,omitempty"`
	Score        *float64  `json:"score"`
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return Float(*v)
}
