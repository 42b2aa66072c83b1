package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var version = "dev"

// rootOptions are the persistent flags every subcommand reads when it opens
// the library.
type rootOptions struct {
	debug      bool
	projectDir string
	storeDir   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "kinetic",
		Short: "Kinetic - a scored library of generated animations",
		Long: `Kinetic keeps every generated animation solution for a creative request,
analyzes its performance, scores it, and recommends the best stored answer the
next time the same request comes in.

Settings are read from .kinetic.yaml, searched upward from --project.`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.projectDir, "project", ".", "Directory to start the .kinetic.yaml search from")
	cmd.PersistentFlags().StringVar(&opts.storeDir, "store", "", "Library directory (overrides store.dir)")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if opts.debug {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	}

	// Add subcommands
	cmd.AddCommand(newIngestCommand(opts))
	cmd.AddCommand(newSolveCommand(opts))
	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newShowCommand(opts))
	cmd.AddCommand(newFavoriteCommand(opts))
	cmd.AddCommand(newRateCommand(opts))
	cmd.AddCommand(newArchiveCommand(opts))
	cmd.AddCommand(newEventCommand(opts))
	cmd.AddCommand(newEventsCommand(opts))
	cmd.AddCommand(newPurgeEventsCommand(opts))
	cmd.AddCommand(newRecommendCommand(opts))
	cmd.AddCommand(newTrendingCommand(opts))
	cmd.AddCommand(newSearchCommand(opts))
	cmd.AddCommand(newCompareCommand(opts))
	cmd.AddCommand(newOptimizeCommand(opts))
	cmd.AddCommand(newRescoreCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newImportCommand(opts))
	cmd.AddCommand(newPreviewCommand(opts))
	cmd.AddCommand(newSchemaCommand())
	cmd.AddCommand(newStatsCommand(opts))
	cmd.AddCommand(newCacheCommand(opts))
	cmd.AddCommand(newServeCommand(opts))

	return cmd
}

func execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd := newRootCommand()
	return rootCmd.ExecuteContext(ctx)
}
