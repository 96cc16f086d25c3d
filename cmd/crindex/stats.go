package main

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index sizes",
	Long: `The stats command prints the number of resources, revisions and
search documents together with the layout of every index file.

Example:
  crindex stats --root /var/lib/content
  crindex stats --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := openIndex(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer idx.Close()

		stats, err := idx.Stats()
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(stats)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Resources:     %d\n", stats.Resources)
		fmt.Fprintf(out, "Revisions:     %d\n", stats.Revisions)
		fmt.Fprintf(out, "Documents:     %d\n", stats.Documents)
		fmt.Fprintf(out, "Index version: %d\n\n", stats.IndexVersion)
		fmt.Fprintf(out, "%-10s %10s %10s %12s %9s %6s\n", "INDEX", "ENTRIES", "SLOTS", "BYTES", "CAPACITY", "LOAD")
		for _, name := range slices.Sorted(maps.Keys(stats.Indices)) {
			s := stats.Indices[name]
			load := "-"
			if s.LoadFactor > 0 {
				load = fmt.Sprintf("%.2f", s.LoadFactor)
			}
			fmt.Fprintf(out, "%-10s %10d %10d %12d %9d %6s\n", name, s.Entries, s.Slots, s.Size, s.Capacity, load)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
