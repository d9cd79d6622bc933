package compare

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/darkace1998/PostureLens/internal/model"
	"github.com/darkace1998/PostureLens/internal/normalize"
)

// Trends reported in a comparison summary.
const (
	TrendSignificantImprovement = "significant_improvement"
	TrendImprovement            = "improvement"
	TrendRegression             = "regression"
	TrendStable                 = "stable"
)

var (
	// ErrTenantMismatch is returned when the two manifests belong to
	// different tenants.
	ErrTenantMismatch = errors.New("manifests belong to different tenants")
	// ErrIdentityViolated is returned when resolved + unchanged findings do
	// not account for every previously open finding.
	ErrIdentityViolated = errors.New("finding accounting does not balance")
)

// Compare diffs two manifests of one tenant. The pair is ordered by
// captured_at, so the arguments may be given either way round. The result
// depends only on the manifests, so repeated calls return equal results.
func Compare(a, b *model.Manifest) (*model.ComparisonResult, error) {
	if a == nil || b == nil {
		return nil, errors.New("compare: nil manifest")
	}
	if a.TenantID != b.TenantID {
		return nil, fmt.Errorf("%w: %s and %s", ErrTenantMismatch, a.TenantID, b.TenantID)
	}
	prev, cur := order(a, b)

	res := &model.ComparisonResult{
		TenantID:    cur.TenantID,
		Previous:    prev.Ref(),
		Current:     cur.Ref(),
		DaysBetween: int(cur.CapturedAt.Sub(prev.CapturedAt).Hours() / 24),
	}

	res.Composite = delta("overall", prev.Scores.OverallScore, cur.Scores.OverallScore, "", "")
	for _, c := range model.GradedCategories() {
		res.Categories = append(res.Categories, delta(string(c),
			prev.Scores.Categories[c], cur.Scores.Categories[c],
			prev.Scores.Availability[c], cur.Scores.Availability[c]))
	}
	res.Compliance = complianceDeltas(prev.Scores.Compliance, cur.Scores.Compliance)

	if err := diffFindings(res, prev, cur); err != nil {
		return nil, err
	}
	res.Summary = summarize(res)
	return res, nil
}

// order returns the pair as (earlier, later). Equal timestamps fall back to
// version order.
func order(a, b *model.Manifest) (prev, cur *model.Manifest) {
	if b.CapturedAt.Before(a.CapturedAt) || (b.CapturedAt.Equal(a.CapturedAt) && b.Version < a.Version) {
		return b, a
	}
	return a, b
}

// delta compares one score. A side that is nil makes the pair not
// comparable; it is never read as zero.
func delta(name string, prev, cur *float64, prevState, curState model.Availability) model.ScoreDelta {
	d := model.ScoreDelta{Name: name, Previous: copyFloat(prev), Current: copyFloat(cur)}
	switch {
	case prev == nil && cur == nil:
		d.Reason = "not available in either assessment"
	case prev == nil:
		d.Reason = "not available in previous assessment" + stateSuffix(prevState)
	case cur == nil:
		d.Reason = "not available in current assessment" + stateSuffix(curState)
	default:
		v := model.Round1(*cur - *prev)
		d.Delta = &v
		d.Comparable = true
		d.Direction = direction(v)
	}
	return d
}

func stateSuffix(s model.Availability) string {
	if s == "" || s.Usable() {
		return ""
	}
	return " (" + s.Label() + ")"
}

func direction(v float64) string {
	switch {
	case v > 0:
		return model.DirectionImproved
	case v < 0:
		return model.DirectionDeclined
	default:
		return model.DirectionUnchanged
	}
}

func complianceDeltas(prev, cur map[string]float64) []model.ScoreDelta {
	names := map[string]bool{}
	for k := range prev {
		names[k] = true
	}
	for k := range cur {
		names[k] = true
	}
	sorted := make([]string, 0, len(names))
	for k := range names {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var out []model.ScoreDelta
	for _, k := range sorted {
		var p, c *float64
		if v, ok := prev[k]; ok {
			p = model.Float(v)
		}
		if v, ok := cur[k]; ok {
			c = model.Float(v)
		}
		out = append(out, delta(k, p, c, "", ""))
	}
	return out
}

// diffFindings matches findings by fingerprint. The previous side is the
// set of findings open in the previous manifest.
func diffFindings(res *model.ComparisonResult, prev, cur *model.Manifest) error {
	prevOpen := prev.Snapshot.OpenFindings()
	res.PreviousOpen = len(prevOpen)

	before := make(map[string]model.Finding, len(prevOpen))
	for _, f := range prevOpen {
		before[fingerprint(f)] = f
	}
	after := make(map[string]model.Finding, len(cur.Snapshot.Findings))
	for _, f := range cur.Snapshot.Findings {
		after[fingerprint(f)] = f
	}

	res.FindingsResolved = []model.Finding{}
	res.FindingsNew = []model.Finding{}
	res.FindingsUnchanged = []model.UnchangedFinding{}

	for fp, p := range before {
		c, ok := after[fp]
		if !ok {
			r := p.Clone().Resolve()
			r.Fingerprint = fp
			res.FindingsResolved = append(res.FindingsResolved, r)
			res.ResolvedBySev.Add(r.Severity)
			continue
		}
		u := model.UnchangedFinding{
			Finding:          c.Clone(),
			PreviousSeverity: p.Severity,
			SeverityChanged:  p.Severity != c.Severity,
			PreviousStatus:   p.Status,
			StatusChanged:    p.Status != c.Status,
			DaysOpen:         daysOpen(p, cur),
		}
		u.Finding.Fingerprint = fp
		res.FindingsUnchanged = append(res.FindingsUnchanged, u)
	}
	for fp, c := range after {
		if _, ok := before[fp]; ok || !c.Open() {
			continue
		}
		n := c.Clone()
		n.Fingerprint = fp
		res.FindingsNew = append(res.FindingsNew, n)
		res.NewBySev.Add(n.Severity)
	}

	normalize.SortFindings(res.FindingsResolved)
	normalize.SortFindings(res.FindingsNew)
	sort.Slice(res.FindingsUnchanged, func(i, j int) bool {
		a, b := res.FindingsUnchanged[i].Finding, res.FindingsUnchanged[j].Finding
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		return a.Fingerprint < b.Fingerprint
	})

	res.NetImprovement = len(res.FindingsResolved) - len(res.FindingsNew)

	if got := len(res.FindingsResolved) + len(res.FindingsUnchanged); got != res.PreviousOpen {
		return fmt.Errorf("%w: %d resolved + %d unchanged != %d previously open",
			ErrIdentityViolated, len(res.FindingsResolved), len(res.FindingsUnchanged), res.PreviousOpen)
	}
	return nil
}

func fingerprint(f model.Finding) string {
	if f.Fingerprint != "" {
		return f.Fingerprint
	}
	return model.Fingerprint(f.Category, f.Resource, f.Title)
}

func daysOpen(prev model.Finding, cur *model.Manifest) int {
	if prev.FirstSeen.IsZero() || cur.CapturedAt.Before(prev.FirstSeen) {
		return 0
	}
	return int(cur.CapturedAt.Sub(prev.FirstSeen).Hours() / 24)
}

// summarize derives the trend and highlights of a comparison.
func summarize(res *model.ComparisonResult) model.TrendSummary {
	var change float64
	if res.Composite.Comparable {
		change = *res.Composite.Delta
	}
	net := res.NetImprovement

	var s model.TrendSummary
	switch {
	case change > 5 && net > 0:
		s.Trend, s.Description = TrendSignificantImprovement, "Significant security improvement observed"
	case change > 0 || net > 0:
		s.Trend, s.Description = TrendImprovement, "Security posture has improved"
	case change < -5 || net < -3:
		s.Trend, s.Description = TrendRegression, "Security posture has declined"
	default:
		s.Trend, s.Description = TrendStable, "Security posture remains stable"
	}

	if res.Composite.Comparable && change != 0 {
		s.Highlights = append(s.Highlights,
			fmt.Sprintf("Overall score %s by %.1f points", direction(change), math.Abs(change)))
	}
	if n := len(res.FindingsResolved); n > 0 {
		s.Highlights = append(s.Highlights, fmt.Sprintf("%d security findings resolved", n))
	}
	if n := res.NewBySev.Critical; n > 0 {
		s.Highlights = append(s.Highlights, fmt.Sprintf("%d new critical findings introduced", n))
	}
	if res.Previous.Grade != res.Current.Grade {
		s.Highlights = append(s.Highlights, fmt.Sprintf("Grade changed from %s to %s", gradeOrNone(res.Previous.Grade), gradeOrNone(res.Current.Grade)))
	}
	for _, d := range res.Categories {
		if !d.Comparable {
			s.Highlights = append(s.Highlights, fmt.Sprintf("%s not comparable: %s", d.Name, d.Reason))
		}
	}
	return s
}

func gradeOrNone(g string) string {
	if g == "" {
		return "none"
	}
	return g
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return model.Float(*v)
}
