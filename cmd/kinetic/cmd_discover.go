package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spboyer/kinetic/internal/recommend"
)

func newTrendingCommand(opts *rootOptions) *cobra.Command {
	var (
		format string
		window time.Duration
		topN   int
	)

	cmd := &cobra.Command{
		Use:   "trending",
		Short: "List solutions with the most recent activity",
		Long: `Rank solutions by the interactions they received within --window.

Selections and exports count most, then favorites, previews and views.
Unfavorites and discards count against a solution. Solutions without
positive recent activity are not listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			a, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			trends, err := a.lib.Trending(cmd.Context(), window, topN)
			if err != nil {
				return err
			}
			if format == formatJSON {
				if trends == nil {
					trends = []recommend.Trend{}
				}
				return writeJSON(cmd.OutOrStdout(), trends)
			}
			if len(trends) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing is trending.")
				return nil
			}
			rows := make([][]string, 0, len(trends))
			for i, t := range trends {
				rows = append(rows, []string{
					fmt.Sprint(i + 1),
					t.Solution.ID,
					truncate(string(t.Solution.Category), 14),
					formatScore(t.Score),
					fmt.Sprint(t.Interactions),
					formatScore(t.Solution.ComputedScore),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"#", "ID", "Category", "Trend", "Events", "Score"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", formatTable, "Output format: table or json")
	cmd.Flags().DurationVar(&window, "window", recommend.DefaultTrendWindow, "How far back to count interactions")
	cmd.Flags().IntVar(&topN, "top", 10, "Number of results (0 for all)")
	return cmd
}

func newSearchCommand(opts *rootOptions) *cobra.Command {
	var (
		format  string
		quality string
		extra   []string
		topN    int
	)

	cmd := &cobra.Command{
		Use:   "search <terms...>",
		Short: "Find solutions by category, tag, tech stack or code",
		Long: `Find solutions mentioning every term, case-insensitively. Category matches
weigh most, then tags, tech stack and finally the source code.

Filters use the same keys as recommend: --filter key=value with category,
tech_stack, min_score, quality and tags.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			raw, err := filterMap(extra)
			if err != nil {
				return err
			}
			if quality != "" {
				raw["quality"] = quality
			}
			filters, err := recommend.DecodeFilters(raw)
			if err != nil {
				return err
			}

			a, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			hits, err := a.lib.Search(cmd.Context(), strings.Join(args, " "), filters, topN)
			if err != nil {
				return err
			}
			if format == formatJSON {
				if hits == nil {
					hits = []recommend.Hit{}
				}
				return writeJSON(cmd.OutOrStdout(), hits)
			}
			if len(hits) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No solutions found.")
				return nil
			}
			rows := make([][]string, 0, len(hits))
			for _, h := range hits {
				rows = append(rows, []string{
					h.Solution.ID,
					truncate(string(h.Solution.Category), 14),
					string(h.Solution.TechStack),
					truncate(strings.Join(h.Solution.Tags, ","), 24),
					fmt.Sprintf("%.1f", h.Relevance),
					formatScore(h.Solution.ComputedScore),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Category", "Tech", "Tags", "Relevance", "Score"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", formatTable, "Output format: table or json")
	cmd.Flags().StringVar(&quality, "quality", "", "Only solutions at or above this quality level")
	cmd.Flags().StringArrayVar(&extra, "filter", nil, "Additional key=value filter (repeatable)")
	cmd.Flags().IntVar(&topN, "top", 0, "Number of results (0 for all)")
	return cmd
}
