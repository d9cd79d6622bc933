package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "compare <tenant> <previous-id> <current-id>",
		Short: "Compare two stored manifests of a tenant",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.Compare(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(os.Stdout, res)
			}

			fmt.Printf("%s: v%d -> v%d over %d days\n", res.TenantID, res.Previous.Version, res.Current.Version, res.DaysBetween)
			fmt.Printf("Trend: %s (%s)\n", res.Summary.Trend, res.Summary.Description)
			for _, h := range res.Summary.Highlights {
				fmt.Printf("  - %s\n", h)
			}
			fmt.Println("Categories:")
			for _, d := range res.Categories {
				if !d.Comparable {
					fmt.Printf("  %-16s not comparable: %s\n", d.Name, d.Reason)
					continue
				}
				fmt.Printf("  %-16s %s -> %s (%+.1f)\n", d.Name, scoreText(d.Previous), scoreText(d.Current), *d.Delta)
			}
			fmt.Printf("Findings: %d previously open, %d resolved, %d unchanged, %d new (net %+d)\n",
				res.PreviousOpen, len(res.FindingsResolved), len(res.FindingsUnchanged), len(res.FindingsNew), res.NetImprovement)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit JSON")
	rootCmd.AddCommand(cmd)
}
