package model

import (
	"math"
	"time"
)

// DomainStatus records how one domain resolved during an orchestration run.
type DomainStatus struct {
	Domain      Domain       `json:"domain"`
	State       Availability `json:"state"`
	Stale       bool         `json:"stale,omitempty"`
	FetchedAt   time.Time    `json:"fetched_at"`
	AgeSeconds  float64      `json:"age_seconds,omitempty"`
	Records     int          `json:"records"`
	Quarantined int          `json:"quarantined,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// PostureSnapshot is the merged, normalized view of one tenant at one
// instant. It is only ever built once every domain has resolved.
type PostureSnapshot struct {
	TenantID   string          `json:"tenant_id"`
	CapturedAt time.Time       `json:"captured_at"`
	Categories []CategoryScore `json:"categories"`
	Findings   []Finding       `json:"findings"`
	Domains    []DomainStatus  `json:"domains"`
}

// Category returns the score entry for c.
func (s *PostureSnapshot) Category(c Category) (CategoryScore, bool) {
	for _, cs := range s.Categories {
		if cs.Category == c {
			return cs, true
		}
	}
	return CategoryScore{}, false
}

// Domain returns the resolution status for d.
func (s *PostureSnapshot) Domain(d Domain) (DomainStatus, bool) {
	for _, ds := range s.Domains {
		if ds.Domain == d {
			return ds, true
		}
	}
	return DomainStatus{}, false
}

// OpenFindings returns the findings whose status is open, in snapshot order.
func (s *PostureSnapshot) OpenFindings() []Finding {
	var out []Finding
	for _, f := range s.Findings {
		if f.Open() {
			out = append(out, f)
		}
	}
	return out
}

// SeverityCounts tallies open findings per severity.
func (s *PostureSnapshot) SeverityCounts() SeverityCounts {
	var c SeverityCounts
	for _, f := range s.Findings {
		if f.Open() {
			c.Add(f.Severity)
		}
	}
	return c
}

// Clone returns a deep copy of s.
func (s PostureSnapshot) Clone() PostureSnapshot {
	out := s
	out.Categories = append([]CategoryScore(nil), s.Categories...)
	out.Domains = append([]DomainStatus(nil), s.Domains...)
	if s.Findings != nil {
		out.Findings = make([]Finding, len(s.Findings))
		for i, f := range s.Findings {
			out.Findings[i] = f.Clone()
		}
	}
	return out
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Round1 rounds v to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}
