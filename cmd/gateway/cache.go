package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the response cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show number of cached entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFromFlags(cmd)
			if err != nil {
				return err
			}
			gw, err := buildGateway(cmd.Context(), cfg, zap.NewNop())
			if err != nil {
				return err
			}
			defer func() { _ = gw.Close() }()

			n, err := gw.cache.Len(cmd.Context())
			if err != nil {
				return fmt.Errorf("cache stats: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backend: %s\nentries: %d\n", cfg.Cache.Backend, n)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove all cached entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFromFlags(cmd)
			if err != nil {
				return err
			}
			gw, err := buildGateway(cmd.Context(), cfg, zap.NewNop())
			if err != nil {
				return err
			}
			defer func() { _ = gw.Close() }()

			if err := gw.cache.Clear(cmd.Context()); err != nil {
				return fmt.Errorf("cache clear: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
			return nil
		},
	})
	return cmd
}
