package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spboyer/kinetic/internal/analyzer"
	"github.com/spboyer/kinetic/internal/fingerprint"
	"github.com/spboyer/kinetic/internal/models"
	"github.com/spboyer/kinetic/internal/recommend"
	"github.com/spboyer/kinetic/internal/scoring"
	"github.com/spboyer/kinetic/internal/store"
)

func newListCommand(opts *rootOptions) *cobra.Command {
	var (
		format    string
		category  string
		tech      string
		minScore  float64
		favorites bool
		all       bool
		quality   string
	)

	cmd := &cobra.Command{
		Use:   "list [fingerprint]",
		Short: "List stored solutions",
		Long: `List stored solutions, optionally only those of one request fingerprint.

Without a fingerprint every group is listed, ordered by fingerprint and
version. With one, the group is ordered best first. Archived solutions are
hidden unless --all is given. --quality keeps solutions at or above a level:
poor, average, good or excellent.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			var level scoring.QualityLevel
			if quality != "" {
				l, err := scoring.ParseQualityLevel(quality)
				if err != nil {
					return &models.ValidationError{Field: "quality", Value: quality, Err: err}
				}
				level = l
			}
			a, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			var sols []*models.Solution
			if len(args) == 1 {
				group, err := a.lib.Group(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				f := recommend.Filters{Category: models.Category(category), TechStack: models.TechStack(tech)}
				for _, s := range group {
					if (all || !s.Archived) && (!favorites || s.Favorited) && s.ComputedScore >= minScore && f.Match(s) {
						sols = append(sols, s)
					}
				}
			} else {
				sols, err = a.lib.List(cmd.Context(), store.Filter{
					Category:        models.Category(category),
					TechStack:       models.TechStack(tech),
					MinScore:        minScore,
					FavoritedOnly:   favorites,
					IncludeArchived: all,
				})
				if err != nil {
					return err
				}
			}

			if level != "" {
				sols = slices.DeleteFunc(sols, func(s *models.Solution) bool {
					return !scoring.Level(s.ComputedScore).AtLeast(level)
				})
			}

			if format == formatJSON {
				if sols == nil {
					sols = []*models.Solution{}
				}
				return writeJSON(cmd.OutOrStdout(), sols)
			}
			if len(sols) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No solutions found.")
				return nil
			}
			printSolutions(cmd.OutOrStdout(), sols)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", formatTable, "Output format: table or json")
	cmd.Flags().StringVar(&category, "category", "", "Only this category")
	cmd.Flags().StringVar(&tech, "tech", "", "Only this tech stack")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "Only solutions scoring at least this")
	cmd.Flags().BoolVar(&favorites, "favorites", false, "Only favorited solutions")
	cmd.Flags().BoolVar(&all, "all", false, "Include archived solutions")
	cmd.Flags().StringVar(&quality, "quality", "", "Only solutions at or above this quality level")
	return cmd
}

func printSolutions(w io.Writer, sols []*models.Solution) {
	rows := make([][]string, 0, len(sols))
	for _, s := range sols {
		rows = append(rows, []string{
			s.ID,
			fingerprint.Short(s.RequestFingerprint),
			fmt.Sprint(s.Version),
			truncate(string(s.Category), 14),
			string(s.TechStack),
			formatScore(s.ComputedScore),
			scoring.Level(s.ComputedScore).String(),
			yesNo(s.Favorited),
			formatRating(s.ManualRating),
			issueSummary(s.PerformanceProfile),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"ID", "Fingerprint", "Ver", "Category", "Tech", "Score", "Level", "Fav", "Rating", "Issues"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignLeft},
	))
}

// issueSummary renders critical/warning/info counts, or "-" before analysis.
func issueSummary(p models.PerformanceProfile) string {
	if !p.Analyzed() {
		return "-"
	}
	return fmt.Sprintf("%d/%d/%d",
		p.CountBySeverity(models.SeverityCritical),
		p.CountBySeverity(models.SeverityWarning),
		p.CountBySeverity(models.SeverityInfo))
}

func newShowCommand(opts *rootOptions) *cobra.Command {
	var format string
	var showCode bool
	var similar int

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a solution with its score breakdown and analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			a, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			ctx := cmd.Context()
			sol, err := a.lib.Get(ctx, args[0])
			if err != nil {
				return err
			}
			bd, err := a.lib.Breakdown(ctx, sol.ID)
			if err != nil {
				return err
			}
			sugg, err := a.lib.Suggestions(ctx, sol.ID)
			if err != nil {
				return err
			}
			var matches []recommend.Match
			if similar > 0 {
				if matches, err = a.lib.Similar(ctx, sol.ID, similar); err != nil {
					return err
				}
			}

			if format == formatJSON {
				return writeJSON(cmd.OutOrStdout(), struct {
					Solution    *models.Solution      `json:"solution"`
					Breakdown   *scoring.Breakdown    `json:"breakdown"`
					Suggestions []analyzer.Suggestion `json:"suggestions"`
					Similar     []recommend.Match     `json:"similar,omitempty"`
				}{sol, bd, sugg, matches})
			}
			printSolution(cmd.OutOrStdout(), sol, bd, sugg, matches, showCode)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", formatTable, "Output format: table or json")
	cmd.Flags().BoolVar(&showCode, "code", false, "Print the source code")
	cmd.Flags().IntVar(&similar, "similar", 3, "Number of similar solutions to list (0 to skip)")
	return cmd
}

func printSolution(w io.Writer, s *models.Solution, bd *scoring.Breakdown, sugg []analyzer.Suggestion, matches []recommend.Match, showCode bool) {
	p := s.PerformanceProfile
	field := func(name, value string) {
		fmt.Fprintf(w, "%s %s\n", padRight(name+":", 14), value)
	}

	field("ID", s.ID)
	field("Fingerprint", s.RequestFingerprint)
	field("Version", fmt.Sprint(s.Version))
	if s.ParentID != "" {
		field("Parent", s.ParentID)
	}
	field("Category", string(s.Category))
	field("Tech stack", string(s.TechStack))
	if len(s.Tags) > 0 {
		field("Tags", strings.Join(s.Tags, ", "))
	}
	field("Created", s.CreatedAt.Format("2006-01-02 15:04:05"))
	field("Favorited", fmt.Sprint(s.Favorited))
	field("Rating", formatRating(s.ManualRating))
	if s.Archived {
		field("Archived", "true")
	}

	fmt.Fprintln(w)
	field("Score", fmt.Sprintf("%s (%s)", formatScore(bd.Score), bd.Level))
	field("Structural", formatScore(bd.Structural))
	if bd.Manual != nil {
		field("Manual", formatScore(*bd.Manual))
	}
	if bd.UsageScore != nil {
		field("Usage", formatScore(*bd.UsageScore))
	}

	if p.Analyzed() {
		fmt.Fprintln(w)
		field("CPU / GPU", fmt.Sprintf("%s / %s", p.CPUCost, p.GPUCost))
		field("Memory", string(p.Memory))
		field("DOM nodes", fmt.Sprint(p.DOMNodeCount))
		field("Keyframes", fmt.Sprint(p.KeyframeCount))
		field("Timing", fmt.Sprint(p.TimingComplexity))
		if len(p.AnimatedProperties) > 0 {
			field("Animates", strings.Join(p.AnimatedProperties, ", "))
		}
	}

	if len(p.Issues) > 0 {
		issues := slices.Clone(p.Issues)
		slices.SortStableFunc(issues, func(a, b models.Issue) int { return b.Severity.Rank() - a.Severity.Rank() })
		rows := make([][]string, 0, len(issues))
		for _, is := range issues {
			rows = append(rows, []string{string(is.Severity), is.Rule, truncate(is.Location, 24), truncate(is.Message, 60)})
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, renderTable([]string{"Severity", "Rule", "Location", "Message"}, rows, nil))
	}

	if len(sugg) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Suggestions:")
		for _, sg := range sugg {
			fix := ""
			if sg.AutoFix {
				fix = " [optimize]"
			}
			fmt.Fprintf(w, "  - %s (x%d)%s\n", sg.Text, sg.Count, fix)
		}
	}

	if len(matches) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Similar:")
		for _, m := range matches {
			fmt.Fprintf(w, "  %s  %s  %s\n", m.Solution.ID, formatScore(m.Similarity), m.Solution.Category)
		}
	}

	if showCode {
		fmt.Fprintln(w)
		fmt.Fprintln(w, s.SourceCode)
	}
}

func newStatsCommand(opts *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the library",
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

			st, err := a.lib.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if format == formatJSON {
				return writeJSON(cmd.OutOrStdout(), st)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, renderTable(
				[]string{"Metric", "Value"},
				[][]string{
					{"Solutions", fmt.Sprint(st.Solutions)},
					{"Fingerprints", fmt.Sprint(st.Fingerprints)},
					{"Favorited", fmt.Sprint(st.Favorited)},
					{"Derivatives", fmt.Sprint(st.Derivatives)},
					{"Archived", fmt.Sprint(st.Archived)},
					{"Events", fmt.Sprint(st.Events)},
					{"Average score", formatScore(st.AverageScore)},
				},
				[]columnAlignment{alignLeft, alignRight},
			))
			printCounts(w, "Category", st.ByCategory)
			printCounts(w, "Tech stack", st.ByTechStack)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", formatTable, "Output format: table or json")
	return cmd
}

func printCounts[K ~string](w io.Writer, label string, counts map[K]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]K, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{string(k), fmt.Sprint(counts[k])})
	}
	fmt.Fprintln(w, renderTable([]string{label, "Solutions"}, rows, []columnAlignment{alignLeft, alignRight}))
}
