package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spboyer/kinetic/internal/compare"
)

func newCompareCommand(opts *rootOptions) *cobra.Command {
	var (
		format  string
		metrics []string
	)

	cmd := &cobra.Command{
		Use:   "compare <id1> <id2> [id3...]",
		Short: "Compare solutions metric by metric",
		Long: `Compare two or more solutions side-by-side.

Each metric marks the best value with * and the worst with !. The overall
winner has the most metric wins across all metrics, including those hidden
with --metric.

Metrics: ` + strings.Join(compare.MetricNames(), ", "),
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			if err := checkMetrics(metrics); err != nil {
				return err
			}
			a, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			rep, err := a.lib.Compare(cmd.Context(), args)
			if err != nil {
				return err
			}
			selectMetrics(rep, metrics)
			if format == formatJSON {
				return writeJSON(cmd.OutOrStdout(), rep)
			}
			printComparison(cmd.OutOrStdout(), rep)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", formatTable, "Output format: table or json")
	cmd.Flags().StringSliceVar(&metrics, "metric", nil, "Only show these metrics (repeatable)")
	return cmd
}

func checkMetrics(names []string) error {
	known := compare.MetricNames()
	for _, n := range names {
		if !slices.Contains(known, n) {
			return fmt.Errorf("unknown metric %q: want one of %s", n, strings.Join(known, ", "))
		}
	}
	return nil
}

// selectMetrics narrows the displayed rows to names, in the given order.
func selectMetrics(rep *compare.Report, names []string) {
	if len(names) == 0 {
		return
	}
	rows := make([]compare.MetricRow, 0, len(names))
	for _, n := range names {
		if row, ok := rep.Row(n); ok {
			rows = append(rows, row)
		}
	}
	rep.Metrics = rows
}

func printComparison(w io.Writer, rep *compare.Report) {
	headers := append([]string{"Metric"}, rep.IDs...)
	aligns := []columnAlignment{alignLeft}
	for range rep.IDs {
		aligns = append(aligns, alignRight)
	}

	rows := make([][]string, 0, len(rep.Metrics)+1)
	for _, m := range rep.Metrics {
		row := []string{m.Name}
		for i, v := range m.Values {
			cell := strconv.FormatFloat(v, 'f', -1, 64)
			switch {
			case slices.Contains(m.Best, rep.IDs[i]):
				cell += " *"
			case slices.Contains(m.Worst, rep.IDs[i]):
				cell += " !"
			}
			row = append(row, cell)
		}
		rows = append(rows, row)
	}
	wins := []string{"wins"}
	for _, id := range rep.IDs {
		wins = append(wins, fmt.Sprint(rep.Wins[id]))
	}
	rows = append(rows, wins)

	fmt.Fprintln(w, renderTable(headers, rows, aligns))
	fmt.Fprintf(w, "Overall: %s\n", rep.Overall)
}
