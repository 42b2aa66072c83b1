package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spboyer/kinetic/internal/library"
	"github.com/spboyer/kinetic/internal/recommend"
)

func newRecommendCommand(opts *rootOptions) *cobra.Command {
	var (
		format   string
		fp       string
		category string
		tech     string
		minScore float64
		quality  string
		tags     []string
		extra    []string
		topN     int
	)

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Rank stored solutions for the current user",
		Long: `Rank stored solutions by quality score, nudged toward the categories and
tech stacks the interaction history favors. Filters exclude candidates
outright; they never demote.

Filters can also be given as --filter key=value with the keys category,
tech_stack, min_score, quality and tags.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			if topN < 0 {
				return fmt.Errorf("--top must not be negative")
			}
			raw, err := filterMap(extra)
			if err != nil {
				return err
			}
			if category != "" {
				raw["category"] = category
			}
			if tech != "" {
				raw["tech_stack"] = tech
			}
			if cmd.Flags().Changed("min-score") {
				raw["min_score"] = minScore
			}
			if quality != "" {
				raw["quality"] = quality
			}
			if len(tags) > 0 {
				raw["tags"] = tags
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

			ranked, err := a.lib.Recommend(cmd.Context(), library.Query{Fingerprint: fp, Filters: filters, TopN: topN})
			if err != nil {
				return err
			}
			if format == formatJSON {
				if ranked == nil {
					ranked = []recommend.Ranked{}
				}
				return writeJSON(cmd.OutOrStdout(), ranked)
			}
			if len(ranked) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No solutions match the filters.")
				return nil
			}
			rows := make([][]string, 0, len(ranked))
			for i, r := range ranked {
				rows = append(rows, []string{
					fmt.Sprint(i + 1),
					r.Solution.ID,
					truncate(string(r.Solution.Category), 14),
					string(r.Solution.TechStack),
					formatScore(r.Solution.ComputedScore),
					fmt.Sprintf("%+.4f", r.Adjustment),
					truncate(r.Reason, 40),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"#", "ID", "Category", "Tech", "Score", "Boost", "Why"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", formatTable, "Output format: table or json")
	cmd.Flags().StringVar(&fp, "fingerprint", "", "Only candidates of this request fingerprint")
	cmd.Flags().StringVar(&category, "category", "", "Only this category")
	cmd.Flags().StringVar(&tech, "tech", "", "Only this tech stack")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "Only solutions scoring at least this (0-1)")
	cmd.Flags().StringVar(&quality, "quality", "", "Only solutions at or above this quality level")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Only solutions carrying every tag")
	cmd.Flags().StringArrayVar(&extra, "filter", nil, "Additional key=value filter (repeatable)")
	cmd.Flags().IntVar(&topN, "top", 0, "Number of results (default from recommend.top_n)")
	return cmd
}

// filterMap turns key=value pairs into a loosely typed filter map. Repeated
// tags accumulate.
func filterMap(pairs []string) (map[string]any, error) {
	raw := make(map[string]any, len(pairs))
	var tags []string
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --filter %q: want key=value", p)
		}
		if k == "tags" || k == "tag" {
			tags = append(tags, strings.Split(v, ",")...)
			continue
		}
		raw[k] = strings.TrimSpace(v)
	}
	if len(tags) > 0 {
		raw["tags"] = tags
	}
	return raw, nil
}
