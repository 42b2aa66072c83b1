package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spboyer/kinetic/internal/exchange"
	"github.com/spboyer/kinetic/internal/models"
	"github.com/spboyer/kinetic/internal/validation"
)

func newExportCommand(opts *rootOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export [id...]",
		Short: "Export solutions as JSON or a ZIP bundle",
		Long: `Export solutions to an exchange document. Without ids the whole library,
archived solutions included, is written as a backup. Explicitly named
solutions are also recorded as exported.

An --out path ending in .zip produces a bundle with an HTML preview per
solution; anything else, or no --out, produces JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			doc, err := a.lib.Export(cmd.Context(), args...)
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				return exchange.EncodeJSON(cmd.OutOrStdout(), doc)
			}

			encode := exchange.EncodeJSON
			if strings.EqualFold(filepath.Ext(out), ".zip") {
				encode = exchange.WriteZip
			}
			if err := writeFile(out, func(w io.Writer) error { return encode(w, doc) }); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d solution(s) to %s\n", len(doc.Solutions), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (.json or .zip); stdout when empty")
	return cmd
}

func newImportCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import solutions from a JSON document or ZIP bundle",
		Long: `Import every solution of an exchange document as a new version under its
original fingerprint. The document is checked against the exchange schema
first; see "kinetic schema".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(args[0])
			if err != nil {
				return err
			}
			a, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			stored, err := a.lib.Import(cmd.Context(), doc)
			if len(stored) > 0 {
				printSolutions(cmd.OutOrStdout(), stored)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d solution(s)\n", len(stored))
			return nil
		},
	}
}

func newPreviewCommand(opts *rootOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "preview <id>",
		Short: "Write a standalone HTML page for a solution",
		Long:  "Write a standalone HTML page for a solution and record it as previewed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			sol, err := a.lib.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			page := exchange.HTML(sol)
			if out == "" || out == "-" {
				_, err = io.WriteString(cmd.OutOrStdout(), page)
			} else {
				err = writeFile(out, func(w io.Writer) error {
					_, err := io.WriteString(w, page)
					return err
				})
			}
			if err != nil {
				return err
			}
			_, err = a.lib.RecordEvent(cmd.Context(), sol.ID, models.EventPreviewed)
			return err
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file; stdout when empty")
	return cmd
}

func newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of exchange documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := io.WriteString(cmd.OutOrStdout(), validation.ExchangeSchema())
			return err
		},
	}
}

func readDocument(path string) (*exchange.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	if !strings.EqualFold(filepath.Ext(path), ".zip") {
		return exchange.DecodeJSON(f)
	}
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return exchange.ReadZip(f, info.Size())
}

// writeFile writes through a temp file in the target directory and renames
// it into place, so a failed export never leaves a truncated file behind.
func writeFile(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".kinetic-*")
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
