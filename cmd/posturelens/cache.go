package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/darkace1998/PostureLens/internal/cache"
	"github.com/darkace1998/PostureLens/internal/logging"
)

func init() {
	cmd := &cobra.Command{
		Use:   "invalidate-cache <tenant>...",
		Short: "Drop the cached upstream payloads of tenants",
		Long:  "Drop every cached upstream payload of the named tenants, for example after a tenant withdrew consent.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range args {
				if _, ok := cfg.Tenant(id); !ok {
					return fmt.Errorf("tenant %q is not configured", id)
				}
			}
			c, err := cache.Open(cmd.Context(), cfg.Cache)
			if err != nil {
				return fmt.Errorf("opening cache: %w", err)
			}
			defer c.Close()

			inv, ok := c.(cache.Invalidator)
			if !ok {
				return fmt.Errorf("cache backend %q cannot invalidate tenants", cfg.Cache.Backend)
			}
			log := logging.Default().Named("cache")
			for _, id := range args {
				n, err := inv.InvalidateTenant(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("tenant %s: %w", id, err)
				}
				log.Info("tenant %s: removed %d cached payloads", id, n)
				fmt.Printf("%s: %d cached payloads removed\n", id, n)
			}
			return nil
		},
	}
	rootCmd.AddCommand(cmd)
}
