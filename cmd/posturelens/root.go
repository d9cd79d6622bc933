package main

import (
	"github.com/spf13/cobra"

	"github.com/darkace1998/PostureLens/internal/config"
	"github.com/darkace1998/PostureLens/internal/logging"
)

var (
	cfgPath string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "posturelens",
	Short: "Multi-tenant security posture assessments",
	Long: `PostureLens collects security telemetry per tenant, grades it,
maps it to compliance frameworks and keeps a versioned history of
assessment manifests that can be compared over time.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
		logging.Default().SetLevel(logging.ParseLevel(cfg.LogLevel))
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "configs/posturelens.yaml", "path to the YAML configuration file")
}
