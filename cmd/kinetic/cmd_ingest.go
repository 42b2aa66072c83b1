package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/spboyer/kinetic/internal/fingerprint"
	"github.com/spboyer/kinetic/internal/generate"
	"github.com/spboyer/kinetic/internal/library"
	"github.com/spboyer/kinetic/internal/models"
	"github.com/spboyer/kinetic/internal/spinner"
)

func newIngestCommand(opts *rootOptions) *cobra.Command {
	var format string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "ingest <batch.yaml>",
		Short: "Store, analyze and score a batch of generated candidates",
		Long: `Store every candidate of a batch file as a new solution version under the
request's fingerprint, analyze its performance and score the group.

Candidates whose code is already stored under the fingerprint are reported as
duplicates and point at the existing solution.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			_, cands, err := generate.ParseBatch(args[0])
			if err != nil {
				return err
			}

			a, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			stop := func() {}
			if !quiet {
				stop = showProgress(cmd.ErrOrStderr(), a.lib, "ingesting")
			}
			res, err := a.lib.Ingest(cmd.Context(), cands)
			stop()
			if res == nil {
				return err
			}
			if format == formatJSON {
				if jerr := writeJSON(cmd.OutOrStdout(), res); jerr != nil {
					return jerr
				}
				return err
			}
			printIngestResult(cmd.OutOrStdout(), res)
			return err
		},
	}

	cmd.Flags().StringVar(&format, "format", formatTable, "Output format: table or json")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not show progress")
	return cmd
}

func newSolveCommand(opts *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "solve <batch.yaml>",
		Short: "Return the stored answer to a request, generating only when unsolved",
		Long: `Look up the batch file's request in the library. When a stored solution
scores at or above library.solved_threshold it is returned without generating.
Otherwise the batch's candidates are ingested and the best one is returned.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			req, _, err := generate.ParseBatch(args[0])
			if err != nil {
				return err
			}

			a, err := opts.open(cmd.Context(), generate.StaticGenerator{Path: args[0]})
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			sol, fromLibrary, err := a.lib.Solve(cmd.Context(), req)
			if err != nil {
				return err
			}
			if format == formatJSON {
				return writeJSON(cmd.OutOrStdout(), struct {
					Solution    *models.Solution `json:"solution"`
					FromLibrary bool             `json:"from_library"`
				}{sol, fromLibrary})
			}
			source := "generated"
			if fromLibrary {
				source = "library"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, score %s)\n", sol.ID, source, formatScore(sol.ComputedScore))
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", formatTable, "Output format: table or json")
	return cmd
}

// showProgress animates ingest progress on w until the returned stop is called.
func showProgress(w io.Writer, lib *library.Library, message string) (stop func()) {
	s := spinner.Start(w, message)
	lib.OnProgress(func(ev library.ProgressEvent) {
		switch ev.EventType {
		case library.EventCandidateStored, library.EventCandidateDup, library.EventCandidateFailed:
			s.Update(fmt.Sprintf("%s %d/%d", message, ev.Index+1, ev.Total))
		case library.EventIngestComplete:
			s.Update("scoring")
		}
	})
	return s.Stop
}

func printIngestResult(w io.Writer, res *library.IngestResult) {
	var rows [][]string
	for _, s := range res.Created {
		rows = append(rows, []string{s.ID, fingerprint.Short(s.RequestFingerprint), fmt.Sprint(s.Version), "created", formatScore(s.ComputedScore)})
	}
	for _, s := range res.Duplicates {
		rows = append(rows, []string{s.ID, fingerprint.Short(s.RequestFingerprint), fmt.Sprint(s.Version), "duplicate", formatScore(s.ComputedScore)})
	}
	if len(rows) > 0 {
		fmt.Fprintln(w, renderTable(
			[]string{"ID", "Fingerprint", "Version", "Result", "Score"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight},
		))
	}
	for _, f := range res.Failed {
		fmt.Fprintf(w, "candidate %d failed: %s\n", f.Index, f.Message)
	}
	fmt.Fprintf(w, "%d created, %d duplicate, %d failed\n", len(res.Created), len(res.Duplicates), len(res.Failed))
}
