package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "history <tenant>",
		Short: "List a tenant's stored manifests, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			refs, err := a.svc.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(os.Stdout, refs)
			}
			if len(refs) == 0 {
				fmt.Println("No manifests yet.")
				return nil
			}
			for _, r := range refs {
				fmt.Printf("v%-4d %s  %s  %-6s %s\n", r.Version, r.AssessmentID,
					r.CapturedAt.Format("2006-01-02 15:04:05"), scoreText(r.Score), gradeText(r.Grade))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit JSON")
	rootCmd.AddCommand(cmd)
}
