package compliance

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/darkace1998/PostureLens/internal/model"
)

// Framework identifies a compliance framework.
type Framework string

const (
	CIS      Framework = "cis"
	NIST     Framework = "nist"
	SOC2     Framework = "soc2"
	ISO27001 Framework = "iso27001"
)

// Frameworks returns every supported framework.
func Frameworks() []Framework {
	return []Framework{CIS, NIST, SOC2, ISO27001}
}

// ParseFramework validates a framework name (case-insensitive).
func ParseFramework(v string) (Framework, error) {
	f := Framework(strings.ToLower(strings.TrimSpace(v)))
	for _, x := range Frameworks() {
		if f == x {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown framework %q", v)
}

// label is the prefix used when a control is attached to a finding.
func (f Framework) label() string {
	switch f {
	case ISO27001:
		return "ISO27001"
	default:
		return strings.ToUpper(string(f))
	}
}

// catalog maps finding rule ids to the framework controls they violate.
var catalog = map[string]map[Framework][]string{
	"MFA-001": {
		CIS:      {"1.1.2"},
		NIST:     {"IA-2", "IA-2(1)", "IA-2(2)"},
		SOC2:     {"CC6.1"},
		ISO27001: {"A.9.4.2"},
	},
	"MFA-002": {
		CIS:      {"1.1.1"},
		NIST:     {"IA-2", "IA-2(1)"},
		SOC2:     {"CC6.1"},
		ISO27001: {"A.9.4.2"},
	},
	"PRIV-001": {
		CIS:      {"1.1.3", "1.1.4"},
		NIST:     {"AC-6", "AC-6(1)", "AC-6(5)"},
		SOC2:     {"CC6.3"},
		ISO27001: {"A.9.2.3"},
	},
	"RISK-001": {
		CIS:      {"1.2.6"},
		NIST:     {"IA-5", "SI-4"},
		SOC2:     {"CC6.1", "CC7.2"},
		ISO27001: {"A.9.4.3"},
	},
	"DEV-001": {
		CIS:      {"3.1", "3.2"},
		NIST:     {"CM-2", "CM-6"},
		SOC2:     {"CC6.6", "CC6.7"},
		ISO27001: {"A.8.1.1", "A.12.6.1"},
	},
	"BKP-001": {
		CIS:      {"5.1.4"},
		NIST:     {"CP-9", "CP-10"},
		SOC2:     {"A1.2"},
		ISO27001: {"A.12.3.1"},
	},
	"BKP-002": {
		CIS:      {"5.1.4"},
		NIST:     {"CP-9"},
		SOC2:     {"A1.2"},
		ISO27001: {"A.12.3.1"},
	},
	"THR-001": {
		CIS:      {"2.1.15"},
		NIST:     {"IR-4", "IR-5", "IR-6"},
		SOC2:     {"CC7.3", "CC7.4"},
		ISO27001: {"A.16.1.4", "A.16.1.5"},
	},
}

// Controls returns every control of f known to the catalog, sorted.
func Controls(f Framework) []string {
	set := map[string]bool{}
	for _, byFw := range catalog {
		for _, c := range byFw[f] {
			set[c] = true
		}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Annotate returns copies of findings with the framework controls their
// rule violates, as "<FRAMEWORK> <control>".
func Annotate(findings []model.Finding) []model.Finding {
	out := make([]model.Finding, len(findings))
	for i, f := range findings {
		f = f.Clone()
		if byFw, ok := catalog[f.RuleID]; ok {
			f.Controls = nil
			for _, fw := range Frameworks() {
				for _, c := range byFw[fw] {
					f.Controls = append(f.Controls, fw.label()+" "+c)
				}
			}
		}
		out[i] = f
	}
	return out
}

// ControlStatus is the evaluation of one control.
type ControlStatus struct {
	ID       string   `json:"id"`
	Passed   bool     `json:"passed"`
	Findings []string `json:"findings,omitempty"` // rule ids of the open findings failing it
	Critical bool     `json:"critical,omitempty"`
}

// Result is the evaluation of one framework.
type Result struct {
	Framework        Framework       `json:"framework"`
	Score            float64         `json:"score"`
	Total            int             `json:"total"`
	Passed           int             `json:"passed"`
	CriticalFailures int             `json:"critical_failures"`
	Controls         []ControlStatus `json:"controls"`
}

// Report is the evaluation of every requested framework.
type Report struct {
	Results []Result `json:"results"`
	// Unknown lists requested frameworks that are not in the catalog.
	Unknown []string `json:"unknown,omitempty"`
}

// Scores returns framework -> score.
func (r Report) Scores() map[string]float64 {
	if len(r.Results) == 0 {
		return nil
	}
	out := make(map[string]float64, len(r.Results))
	for _, res := range r.Results {
		out[string(res.Framework)] = res.Score
	}
	return out
}

// Evaluate scores each requested framework against the open findings. An
// empty request evaluates every framework.
func Evaluate(frameworks []string, findings []model.Finding) Report {
	var rep Report
	var want []Framework
	seen := map[Framework]bool{}
	if len(frameworks) == 0 {
		want = Frameworks()
	}
	for _, name := range frameworks {
		f, err := ParseFramework(name)
		if err != nil {
			rep.Unknown = append(rep.Unknown, name)
			continue
		}
		if !seen[f] {
			seen[f] = true
			want = append(want, f)
		}
	}

	for _, f := range want {
		rep.Results = append(rep.Results, evaluate(f, findings))
	}
	return rep
}

func evaluate(f Framework, findings []model.Finding) Result {
	failing := map[string][]string{}
	critical := map[string]bool{}
	for _, fd := range findings {
		if !fd.Open() {
			continue
		}
		for _, c := range catalog[fd.RuleID][f] {
			failing[c] = append(failing[c], fd.RuleID)
			if fd.Severity == model.Critical {
				critical[c] = true
			}
		}
	}

	res := Result{Framework: f}
	for _, c := range Controls(f) {
		cs := ControlStatus{ID: c, Passed: len(failing[c]) == 0}
		if !cs.Passed {
			cs.Findings = failing[c]
			sort.Strings(cs.Findings)
			cs.Critical = critical[c]
			if cs.Critical {
				res.CriticalFailures++
			}
		} else {
			res.Passed++
		}
		res.Controls = append(res.Controls, cs)
	}
	res.Total = len(res.Controls)
	res.Score = Score(res.Passed, res.Total, res.CriticalFailures)
	return res
}

// Score is the share of passed controls minus 5 points per critical
// failure (at most 25), floored at 0 and rounded to one decimal.
func Score(passed, total, criticalFailures int) float64 {
	if total == 0 {
		return 0
	}
	base := float64(passed) / float64(total) * 100
	penalty := math.Min(25, float64(criticalFailures)*5)
	return model.Round1(math.Max(0, base-penalty))
}
