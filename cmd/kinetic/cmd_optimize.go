package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/spboyer/kinetic/internal/library"
)

func newOptimizeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "optimize <id>",
		Short: "Store an automatically optimized version of a solution",
		Long: `Apply the analyzer's automatic fixes (compositor-only keyframes, translate
instead of offsets) and store the result as a new version whose parent is
<id>. If the fixed code is already stored, the existing version is reported.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			sol, err := a.lib.DeriveOptimized(cmd.Context(), args[0])
			if errors.Is(err, library.ErrNothingToOptimize) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: nothing to optimize\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (version %d, parent %s, score %s)\n",
				sol.ID, sol.Version, sol.ParentID, formatScore(sol.ComputedScore))
			return nil
		},
	}
}

func newRescoreCommand(opts *rootOptions) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "rescore [fingerprint]",
		Short: "Re-analyze and re-score stored solutions",
		Long: `Analyze any solution that has no performance profile yet and recompute the
scores of one fingerprint group, or of every group.

With --watch the whole library is rescored every library.rescore_interval
until interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch && len(args) > 0 {
				return fmt.Errorf("--watch rescores the whole library; drop the fingerprint")
			}
			a, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			ctx := cmd.Context()
			if watch {
				slog.Info("rescoring periodically", "interval", a.cfg.Library.RescoreInterval)
				return a.lib.RunRescoreLoop(ctx, a.cfg.Library.RescoreInterval)
			}
			if len(args) == 1 {
				group, err := a.lib.Rescore(ctx, args[0])
				if err != nil {
					return err
				}
				printSolutions(cmd.OutOrStdout(), group)
				return nil
			}
			n, err := a.lib.RescoreAll(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rescored %d solution(s)\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "Keep rescoring on an interval")
	return cmd
}
