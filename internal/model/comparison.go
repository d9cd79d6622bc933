package model

// Direction of a score change.
const (
	DirectionImproved  = "improved"
	DirectionDeclined  = "declined"
	DirectionUnchanged = "unchanged"
)

// ScoreDelta is the change of one named score between two manifests.
// When Comparable is false Delta is nil and Reason says why; a missing side
// is never treated as a zero delta.
type ScoreDelta struct {
	Name       string   `json:"name"`
	Previous   *float64 `json:"previous"`
	Current    *float64 `json:"current"`
	Delta      *float64 `json:"delta"`
	Comparable bool     `json:"comparable"`
	Reason     string   `json:"reason,omitempty"`
	Direction  string   `json:"direction,omitempty"`
}

// UnchangedFinding is a finding present in both manifests. Severity or
// status drift is reported here rather than reclassifying the finding.
type UnchangedFinding struct {
	Finding          Finding  `json:"finding"`
	SeverityChanged  bool     `json:"severity_changed,omitempty"`
	PreviousSeverity Severity `json:"previous_severity"`
	StatusChanged    bool     `json:"status_changed,omitempty"`
	PreviousStatus   Status   `json:"previous_status"`
	DaysOpen         int      `json:"days_open"`
}

// TrendSummary is the executive digest of a comparison.
type TrendSummary struct {
	Trend       string   `json:"trend"`
	Description string   `json:"description"`
	Highlights  []string `json:"highlights,omitempty"`
}

// ComparisonResult is the diff between two manifests of one tenant.
type ComparisonResult struct {
	TenantID    string      `json:"tenant_id"`
	Previous    ManifestRef `json:"previous"`
	Current     ManifestRef `json:"current"`
	DaysBetween int         `json:"days_between"`

	Composite  ScoreDelta   `json:"composite"`
	Categories []ScoreDelta `json:"categories"`
	Compliance []ScoreDelta `json:"compliance,omitempty"`

	PreviousOpen      int                `json:"previous_open_findings"`
	FindingsResolved  []Finding          `json:"findings_resolved"`
	FindingsNew       []Finding          `json:"findings_new"`
	FindingsUnchanged []UnchangedFinding `json:"findings_unchanged"`
	ResolvedBySev     SeverityCounts     `json:"resolved_by_severity"`
	NewBySev          SeverityCounts     `json:"new_by_severity"`
	NetImprovement    int                `json:"net_improvement"`

	Summary TrendSummary `json:"summary"`
}

// Category returns the delta for c.
func (r *ComparisonResult) Category(c Category) (ScoreDelta, bool) {
	for _, d := range r.Categories {
		if d.Name == string(c) {
			return d, true
		}
	}
	return ScoreDelta{}, false
}

// Summarize produces the manifest comparison section for r.
func (r *ComparisonResult) Summarize() *ComparisonSummary {
	return &ComparisonSummary{
		PreviousAssessment: r.Previous.AssessmentID,
		ScoreChange:        copyFloat(r.Composite.Delta),
		FindingsResolved:   len(r.FindingsResolved),
		NewFindings:        len(r.FindingsNew),
		Trend:              r.Summary.Trend,
	}
}
