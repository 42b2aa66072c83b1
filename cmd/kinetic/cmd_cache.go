package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spboyer/kinetic/internal/cache"
)

func newCacheCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the analysis result cache",
		Long: `Manage the analysis result cache.

The cache stores performance profiles to skip re-analyzing code that was seen
before. Entries are keyed by analyzer configuration and source content, so
changing an analyzer threshold never serves a stale profile.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Clear the analysis result cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			dir := cfg.CachePath()
			if dir == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "Analysis cache is disabled.")
				return nil
			}
			if err := cache.New(dir).Clear(); err != nil {
				return fmt.Errorf("clearing cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cache cleared: %s\n", dir)
			return nil
		},
	})

	return cmd
}
