package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/darkace1998/PostureLens/internal/assessment"
	"github.com/darkace1998/PostureLens/internal/model"
)

func init() {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "assess [tenant...]",
		Short: "Assess tenants once and store the manifests",
		Long:  "Assess the named tenants, or every configured tenant when none is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range args {
				if _, ok := cfg.Tenant(id); !ok {
					return fmt.Errorf("tenant %q is not configured", id)
				}
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			var outcomes []assessment.Outcome
			if len(args) == 0 {
				outcomes = a.svc.AssessAll(cmd.Context())
			} else {
				for _, id := range args {
					m, err := a.svc.Assess(cmd.Context(), id)
					outcomes = append(outcomes, assessment.Outcome{TenantID: id, Manifest: m, Err: err})
				}
			}

			failed := 0
			var manifests []*model.Manifest
			for _, o := range outcomes {
				if o.Err != nil {
					failed++
					fmt.Fprintf(os.Stderr, "%s: %v\n", o.TenantID, o.Err)
					continue
				}
				manifests = append(manifests, o.Manifest)
			}

			if jsonOut {
				if err := printJSON(os.Stdout, manifests); err != nil {
					return err
				}
			} else {
				for _, m := range manifests {
					printManifest(os.Stdout, m)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d assessments failed", failed, len(outcomes))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit manifests as JSON")
	rootCmd.AddCommand(cmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printManifest(w io.Writer, m *model.Manifest) {
	fmt.Fprintf(w, "%s  v%d  %s  %s\n", m.TenantID, m.Version, m.AssessmentID, m.CapturedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "  overall: %s (%s)\n", scoreText(m.Scores.OverallScore), gradeText(m.Scores.OverallGrade))
	for _, cs := range m.Snapshot.Categories {
		text := cs.Display()
		if cs.Stale {
			text += " (stale)"
		}
		fmt.Fprintf(w, "  %-16s %s\n", cs.Category, text)
	}
	f := m.Findings
	fmt.Fprintf(w, "  findings: %d critical, %d high, %d medium, %d low, %d informational\n",
		f.Critical, f.High, f.Medium, f.Low, f.Informational)
	if c := m.Comparison; c != nil {
		fmt.Fprintf(w, "  vs %s: %s, change %s, %d resolved, %d new\n",
			c.PreviousAssessment, c.Trend, scoreText(c.ScoreChange), c.FindingsResolved, c.NewFindings)
	}
}

func scoreText(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f", *v)
}

func gradeText(g string) string {
	if g == "" {
		return "no grade"
	}
	return g
}
