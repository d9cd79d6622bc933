package normalize

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/darkace1998/PostureLens/internal/collector"
	"github.com/darkace1998/PostureLens/internal/fallback"
	"github.com/darkace1998/PostureLens/internal/grading"
	"github.com/darkace1998/PostureLens/internal/logging"
	"github.com/darkace1998/PostureLens/internal/model"
)

// control is one baseline control taken from a KindControl record.
type control struct {
	name  string
	score float64
	max   float64
}

// inputs gathers the validated records of every usable domain.
type inputs struct {
	metrics  map[model.Category]map[string]collector.RawRecord
	scores   map[model.Category]float64
	controls []control
	findings []model.Finding
}

func newInputs() *inputs {
	return &inputs{
		metrics: make(map[model.Category]map[string]collector.RawRecord),
		scores:  make(map[model.Category]float64),
	}
}

// metric returns the numeric metric name of category c.
func (in *inputs) metric(c model.Category, name string) (float64, bool) {
	r, ok := in.metrics[c][name]
	if !ok || r.Value == nil {
		return 0, false
	}
	return *r.Value, true
}

// text returns the string metric name of category c, lower-cased.
func (in *inputs) text(c model.Category, name string) (string, bool) {
	r, ok := in.metrics[c][name]
	if !ok || r.Text == "" {
		return "", false
	}
	return strings.ToLower(strings.TrimSpace(r.Text)), true
}

// Normalizer turns resolved domain results into a PostureSnapshot.
type Normalizer struct {
	log *logging.Logger
}

// New creates a Normalizer. A nil logger uses the default logger.
func New(log *logging.Logger) *Normalizer {
	if log == nil {
		log = logging.Default()
	}
	return &Normalizer{log: log.Named("normalize")}
}

// Snapshot validates every record of every usable result, scores the graded
// categories and returns the merged snapshot. Records that fail validation
// are quarantined and counted on their domain's status; they never reach a
// score or the finding set.
func (n *Normalizer) Snapshot(tenantID string, capturedAt time.Time, results []fallback.Result) *model.PostureSnapshot {
	snap := &model.PostureSnapshot{
		TenantID:   tenantID,
		CapturedAt: capturedAt.UTC(),
	}

	in := newInputs()
	byDomain := make(map[model.Domain]fallback.Result, len(results))
	for _, res := range results {
		byDomain[res.Domain] = res
		status := res.Status()
		if res.State.Usable() {
			status.Quarantined = n.collect(tenantID, res, in)
		}
		snap.Domains = append(snap.Domains, status)
	}
	sort.Slice(snap.Domains, func(i, j int) bool {
		return domainRank(snap.Domains[i].Domain) < domainRank(snap.Domains[j].Domain)
	})

	for _, c := range model.GradedCategories() {
		snap.Categories = append(snap.Categories, n.score(c, byDomain, in))
	}

	findings := in.findings
	findings = append(findings, derive(tenantID, capturedAt.UTC(), byDomain, in)...)
	snap.Findings = Dedupe(findings)
	return snap
}

// score resolves one graded category.
func (n *Normalizer) score(c model.Category, byDomain map[model.Domain]fallback.Result, in *inputs) model.CategoryScore {
	cs := model.CategoryScore{Category: c, Weight: grading.Weight(c)}

	d := model.SourceDomain(c)
	res, ok := byDomain[d]
	if !ok {
		cs.State = model.UnavailableError
		cs.Reason = fmt.Sprintf("no data source for %s", d)
		return cs
	}
	cs.State = res.State
	cs.Stale = res.Stale
	if !res.State.Usable() {
		cs.Reason = res.State.Label()
		if res.Err != "" {
			cs.Reason += ": " + res.Err
		}
		return cs
	}

	v, reason, ok := scorers[c](in)
	if !ok {
		cs.Reason = reason
		return cs
	}
	cs.Score = clamp(v)
	cs.Available = true
	return cs
}

// collect validates res's records into in and returns how many were
// quarantined.
func (n *Normalizer) collect(tenantID string, res fallback.Result, in *inputs) int {
	quarantined := 0
	for i, r := range res.Records {
		if err := accept(res.Domain, r, in); err != nil {
			quarantined++
			n.log.Warn("tenant %s: quarantined record %d: %v", tenantID, i, err)
		}
	}
	return quarantined
}

// accept validates one record and adds it to in.
func accept(d model.Domain, r collector.RawRecord, in *inputs) error {
	bad := func(format string, args ...interface{}) error {
		return &collector.DataIntegrityError{Domain: d, Detail: fmt.Sprintf(format, args...)}
	}

	c, err := model.ParseCategory(r.Category)
	if err != nil {
		return bad("%v", err)
	}
	// Only findings may be filed under another domain's category.
	if r.Kind != collector.KindFinding && model.SourceDomain(c) != d {
		return bad("%s %s record from the %s domain", c, r.Kind, d)
	}

	switch r.Kind {
	case collector.KindScore:
		if r.Value == nil || !inRange(*r.Value, 0, 100) {
			return bad("%s score out of range", c)
		}
		in.scores[c] = *r.Value

	case collector.KindMetric:
		if r.Name == "" {
			return bad("%s metric without a name", c)
		}
		if r.Value != nil {
			v := *r.Value
			if strings.HasSuffix(r.Name, "_percent") && !inRange(v, 0, 100) {
				return bad("%s %s = %v is not a percentage", c, r.Name, v)
			}
			if !inRange(v, 0, math.MaxFloat64) {
				return bad("%s %s = %v is negative", c, r.Name, v)
			}
		} else if r.Text == "" {
			return bad("%s %s has no value", c, r.Name)
		}
		if in.metrics[c] == nil {
			in.metrics[c] = make(map[string]collector.RawRecord)
		}
		in.metrics[c][r.Name] = r

	case collector.KindControl:
		if r.Value == nil || r.MaxValue == nil {
			return bad("control %q missing score", r.Name)
		}
		if *r.MaxValue <= 0 || !inRange(*r.Value, 0, *r.MaxValue) {
			return bad("control %q score %v of %v out of range", r.Name, *r.Value, *r.MaxValue)
		}
		in.controls = append(in.controls, control{name: strings.ToLower(r.Name), score: *r.Value, max: *r.MaxValue})

	case collector.KindFinding:
		sev, err := model.ParseSeverity(r.Severity)
		if err != nil {
			return bad("finding %q: %v", r.ID, err)
		}
		status, err := model.ParseStatus(r.Status)
		if err != nil {
			return bad("finding %q: %v", r.ID, err)
		}
		if strings.TrimSpace(r.Title) == "" {
			return bad("finding %q has no title", r.ID)
		}
		f := model.Finding{
			ID:          r.ID,
			Category:    c,
			Severity:    sev,
			Title:       strings.TrimSpace(r.Title),
			Description: r.Description,
			Resource:    strings.TrimSpace(r.Resource),
			FirstSeen:   r.FirstSeen.UTC(),
			Status:      status,
			Remediation: r.Remediation,
		}
		in.findings = append(in.findings, f.WithFingerprint())

	default:
		return bad("unknown record kind %q", r.Kind)
	}
	return nil
}

// Dedupe merges findings sharing a fingerprint and returns them sorted by
// severity (most severe first) then fingerprint. The merged finding keeps
// the highest severity and the earliest first_seen; it is open if any
// duplicate is open.
func Dedupe(findings []model.Finding) []model.Finding {
	merged := make(map[string]model.Finding, len(findings))
	for _, f := range findings {
		if f.Fingerprint == "" {
			f = f.WithFingerprint()
		}
		prev, ok := merged[f.Fingerprint]
		if !ok {
			merged[f.Fingerprint] = f.Clone()
			continue
		}
		if f.Severity > prev.Severity {
			first, status := prev.FirstSeen, prev.Status
			prev = f.Clone()
			prev.FirstSeen, prev.Status = first, status
		}
		if !f.FirstSeen.IsZero() && (prev.FirstSeen.IsZero() || f.FirstSeen.Before(prev.FirstSeen)) {
			prev.FirstSeen = f.FirstSeen
		}
		if f.Open() {
			prev.Status = model.StatusOpen
		}
		merged[f.Fingerprint] = prev
	}

	out := make([]model.Finding, 0, len(merged))
	for _, f := range merged {
		out = append(out, f)
	}
	SortFindings(out)
	return out
}

// SortFindings orders findings by severity, most severe first, then by
// fingerprint.
func SortFindings(findings []model.Finding) {
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Severity != findings[j].Severity {
			return findings[i].Severity > findings[j].Severity
		}
		return findings[i].Fingerprint < findings[j].Fingerprint
	})
}

func domainRank(d model.Domain) int {
	for i, x := range model.Domains() {
		if x == d {
			return i
		}
	}
	return len(model.Domains())
}

func inRange(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
