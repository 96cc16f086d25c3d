package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/digitalroastery/weblounge-sub005/internal/repository"
)

var (
	repairDryRun  bool
	repairCompact bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the sub-indices for inconsistencies",
	Long: `The check command compares the id, path, version and language indices
and the search index against the URI index without changing anything. It
exits with a non-zero status when an inconsistency is found.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := openIndex(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer idx.Close()

		report, err := idx.Check(cmd.Context())
		if err != nil {
			return err
		}
		if err := printReport(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if !report.Healthy() {
			return errors.New("index is inconsistent, run 'crindex repair'")
		}
		return nil
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Rebuild the sub-indices from the URI index",
	Long: `The repair command rebuilds the id and path indices from the URI index,
drops version and language entries of deleted resources, rolls back
resources whose add was interrupted and removes search documents of
resources that are no longer indexed.`,
	Example: `  # Show what is wrong without touching the index
  crindex repair --dry-run

  # Repair and merge the search segments afterwards
  crindex repair --compact`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := openIndex(cmd.Context(), repairDryRun)
		if err != nil {
			return err
		}
		defer idx.Close()

		var report *repository.Report
		if repairDryRun {
			report, err = idx.Check(cmd.Context())
		} else {
			report, err = idx.Repair(cmd.Context())
		}
		if err != nil {
			return err
		}
		if err := printReport(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if repairDryRun {
			return nil
		}
		if repairCompact {
			if err := idx.Search().Compact(); err != nil {
				return fmt.Errorf("compacting search segments: %w", err)
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), "repair completed")
		return nil
	},
}

func init() {
	repairCmd.Flags().BoolVarP(&repairDryRun, "dry-run", "n", false, "Only report, do not repair")
	repairCmd.Flags().BoolVar(&repairCompact, "compact", false, "Merge search segments after repairing")
	rootCmd.AddCommand(checkCmd, repairCmd)
}

func printReport(out io.Writer, r *repository.Report) error {
	if jsonOut {
		return printJSON(struct {
			*repository.Report
			Healthy bool `json:"healthy"`
		}{r, r.Healthy()})
	}
	fmt.Fprintf(out, "Resources:              %d\n", r.Resources)
	fmt.Fprintf(out, "Revisions:              %d\n", r.Revisions)
	fmt.Fprintf(out, "Search documents:       %d\n", r.Documents)
	fmt.Fprintf(out, "Dangling id entries:    %d\n", r.DanglingIDs)
	fmt.Fprintf(out, "Dangling path entries:  %d\n", r.DanglingPaths)
	fmt.Fprintf(out, "Missing id entries:     %d\n", r.MissingIDs)
	fmt.Fprintf(out, "Missing path entries:   %d\n", r.MissingPaths)
	fmt.Fprintf(out, "Orphan version entries: %d\n", r.OrphanVersions)
	fmt.Fprintf(out, "Orphan language entries:%d\n", r.OrphanLanguages)
	fmt.Fprintf(out, "Resources w/o versions: %d\n", r.URIsWithoutVersions)
	fmt.Fprintf(out, "Orphan search documents:%d\n", r.OrphanDocuments)
	if r.Healthy() {
		fmt.Fprintln(out, "Status:                 healthy")
	} else {
		fmt.Fprintln(out, "Status:                 inconsistent")
	}
	return nil
}
