package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spboyer/kinetic/internal/models"
	"github.com/spboyer/kinetic/internal/store"
)

func newFavoriteCommand(opts *rootOptions) *cobra.Command {
	var off bool

	cmd := &cobra.Command{
		Use:   "favorite <id>",
		Short: "Mark a solution as favorite (or clear it with --off)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			sol, err := a.lib.SetFavorite(cmd.Context(), args[0], !off)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s favorited=%t score=%s\n", sol.ID, sol.Favorited, formatScore(sol.ComputedScore))
			return nil
		},
	}

	cmd.Flags().BoolVar(&off, "off", false, "Remove the favorite mark")
	return cmd
}

func newRateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rate <id> <0-5|clear>",
		Short: "Set or clear a solution's manual rating",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rating, err := parseRating(args[1])
			if err != nil {
				return err
			}
			a, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			sol, err := a.lib.SetManualRating(cmd.Context(), args[0], rating)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s rating=%s score=%s\n", sol.ID, formatRating(sol.ManualRating), formatScore(sol.ComputedScore))
			return nil
		},
	}
}

// parseRating accepts a number or "clear". Range checking is left to the
// library so the CLI and the server report the same error.
func parseRating(s string) (*float64, error) {
	if strings.EqualFold(s, "clear") || s == "-" {
		return nil, nil
	}
	r, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, &models.ValidationError{Field: "rating", Value: s, Err: models.ErrInvalidRating}
	}
	return &r, nil
}

func newArchiveCommand(opts *rootOptions) *cobra.Command {
	var undo bool

	cmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Hide a solution from listings and recommendations",
		Long: `Archive a solution. Archived solutions keep their history and can still be
fetched by id, but are excluded from recommendations and default listings.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			sol, err := a.lib.Archive(cmd.Context(), args[0], !undo)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s archived=%t\n", sol.ID, sol.Archived)
			return nil
		},
	}

	cmd.Flags().BoolVar(&undo, "undo", false, "Restore an archived solution")
	return cmd
}

func newEventCommand(opts *rootOptions) *cobra.Command {
	kinds := make([]string, len(models.EventKinds))
	for i, k := range models.EventKinds {
		kinds[i] = string(k)
	}

	return &cobra.Command{
		Use:       "event <id> <kind>",
		Short:     "Record a user interaction with a solution",
		Long:      "Record a user interaction. Kind is one of: " + strings.Join(kinds, ", ") + ".",
		Args:      cobra.ExactArgs(2),
		ValidArgs: kinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := models.ParseEventKind(args[1])
			if err != nil {
				return err
			}
			a, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			ev, err := a.lib.RecordEvent(cmd.Context(), args[0], kind)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", ev.ID, ev.SolutionID, ev.Kind)
			return nil
		},
	}
}

func newEventsCommand(opts *rootOptions) *cobra.Command {
	var format string
	var since time.Duration
	var ids []string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recorded interactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			a, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			q := store.EventQuery{SolutionIDs: ids}
			if since > 0 {
				q.Since = time.Now().Add(-since)
			}
			evs, err := a.lib.History(cmd.Context(), q)
			if err != nil {
				return err
			}
			if format == formatJSON {
				if evs == nil {
					evs = []models.InteractionEvent{}
				}
				return writeJSON(cmd.OutOrStdout(), evs)
			}
			if len(evs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No events recorded.")
				return nil
			}
			rows := make([][]string, 0, len(evs))
			for _, ev := range evs {
				rows = append(rows, []string{ev.Timestamp.Local().Format("2006-01-02 15:04:05"), ev.SolutionID, string(ev.Kind)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Time", "Solution", "Kind"}, rows, nil))
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", formatTable, "Output format: table or json")
	cmd.Flags().DurationVar(&since, "since", 0, "Only events newer than this (e.g. 24h)")
	cmd.Flags().StringSliceVar(&ids, "id", nil, "Only events of these solutions")
	return cmd
}

func newPurgeEventsCommand(opts *rootOptions) *cobra.Command {
	var before string

	cmd := &cobra.Command{
		Use:   "purge-events",
		Short: "Delete interactions older than a cutoff",
		Long: `Delete recorded interactions older than --before, given either as an age
(720h) or a date (2025-01-31). Scores are recomputed from what remains.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cutoff, err := parseCutoff(before, time.Now())
			if err != nil {
				return err
			}
			a, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			n, err := a.lib.PurgeEvents(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			if _, err := a.lib.RescoreAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d event(s) before %s\n", n, cutoff.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&before, "before", "", "Age or date cutoff (required)")
	_ = cmd.MarkFlagRequired("before")
	return cmd
}

// parseCutoff reads an age relative to now, an RFC 3339 timestamp or a date.
func parseCutoff(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("--before must not be negative")
		}
		return now.Add(-d), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --before %q: want a duration like 720h or a date like 2025-01-31", s)
}
