package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(_ *cobra.Command, _ []string) {
			rev := ""
			if info, ok := debug.ReadBuildInfo(); ok {
				for _, s := range info.Settings {
					if s.Key == "vcs.revision" {
						rev = s.Value
					}
				}
			}
			if rev != "" {
				fmt.Printf("PostureLens %s (commit %s)\n", Version, short(rev))
				return
			}
			fmt.Printf("PostureLens %s\n", Version)
		},
	}
	rootCmd.AddCommand(cmd)
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
