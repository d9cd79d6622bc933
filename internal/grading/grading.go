package grading

import (
	"math"

	"github.com/darkace1998/PostureLens/internal/model"
)

// weights are the fixed category weights of the composite score. They sum
// to 1.0 when every category is available.
var weights = map[model.Category]float64{
	model.CategorySecureScore:    0.30,
	model.CategoryIdentity:       0.25,
	model.CategoryDataProtection: 0.15,
	model.CategoryBackup:         0.15,
	model.CategoryDevices:        0.10,
	model.CategoryNetwork:        0.05,
}

// Weight returns the fixed weight of c; categories outside the composite
// weigh 0.
func Weight(c model.Category) float64 {
	return weights[c]
}

// Weights returns a copy of the fixed weight table.
func Weights() map[model.Category]float64 {
	out := make(map[model.Category]float64, len(weights))
	for c, w := range weights {
		out[c] = w
	}
	return out
}

// CategoryResult is one category's contribution to a grade.
type CategoryResult struct {
	Category model.Category     `json:"category"`
	Score    *float64           `json:"score"` // nil when unavailable
	State    model.Availability `json:"state"`
	Stale    bool               `json:"stale,omitempty"`
	Reason   string             `json:"reason,omitempty"`
	// Weight is the fixed weight; NormalizedWeight is its share among the
	// available categories and is 0 for unavailable ones.
	Weight           float64 `json:"weight"`
	NormalizedWeight float64 `json:"normalized_weight"`
}

// Result is the outcome of grading one snapshot.
type Result struct {
	// Available is false when no graded category had data. Composite and
	// Letter are then unset rather than defaulted.
	Available   bool                 `json:"available"`
	Composite   *float64             `json:"composite"`
	Letter      string               `json:"letter,omitempty"`
	Description string               `json:"description,omitempty"`
	Categories  []CategoryResult     `json:"categories"`
	Findings    model.SeverityCounts `json:"findings"`
}

// Grade computes the composite score and letter grade of snap. Unavailable
// categories are excluded and the weights of the remaining ones are scaled
// to sum to 1.0. The composite is clamped to [0,100] and rounded to one
// decimal before the letter is derived from it. Finding counts are reported
// but do not influence the score.
func Grade(snap *model.PostureSnapshot) Result {
	norm := NormalizedWeights(snap.Categories)

	res := Result{Findings: snap.SeverityCounts()}
	var sum float64
	for _, cs := range snap.Categories {
		w, graded := weights[cs.Category]
		if !graded {
			continue
		}
		cr := CategoryResult{
			Category: cs.Category,
			State:    cs.State,
			Stale:    cs.Stale,
			Reason:   cs.Reason,
			Weight:   w,
		}
		if v := cs.Value(); v != nil {
			nw := norm[cs.Category]
			score := clamp(*v)
			cr.Score = model.Float(model.Round1(score))
			cr.NormalizedWeight = nw
			sum += score * nw
		}
		res.Categories = append(res.Categories, cr)
	}

	if len(norm) == 0 {
		return res
	}
	composite := model.Round1(clamp(sum))
	res.Available = true
	res.Composite = model.Float(composite)
	res.Letter = Letter(composite)
	res.Description = Describe(res.Letter)
	return res
}

// NormalizedWeights returns the weight of every available graded category
// scaled so that the weights sum to 1.0. Unavailable categories are absent
// from the result. An empty map means nothing can be graded.
func NormalizedWeights(cats []model.CategoryScore) map[model.Category]float64 {
	var total float64
	for _, cs := range cats {
		if cs.Available {
			total += weights[cs.Category]
		}
	}
	out := make(map[model.Category]float64)
	if total == 0 {
		return out
	}
	for _, cs := range cats {
		if w := weights[cs.Category]; cs.Available && w > 0 {
			out[cs.Category] = w / total
		}
	}
	return out
}

// Letter maps a composite score onto the A-F scale. Each threshold is an
// inclusive lower bound.
func Letter(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 75:
		return "B"
	case score >= 60:
		return "C"
	case score >= 40:
		return "D"
	default:
		return "F"
	}
}

// Describe returns the human description of a letter grade.
func Describe(letter string) string {
	switch letter {
	case "A":
		return "Excellent - Industry leading security posture"
	case "B":
		return "Good - Above average with minor improvements needed"
	case "C":
		return "Fair - Meets minimum standards but has gaps"
	case "D":
		return "Poor - Significant security gaps requiring attention"
	case "F":
		return "Critical - Immediate action required to address vulnerabilities"
	default:
		return "Unknown"
	}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
