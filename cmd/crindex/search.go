package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/digitalroastery/weblounge-sub005/internal/content"
	"github.com/digitalroastery/weblounge-sub005/internal/search"
)

var (
	searchTypes   []string
	searchSite    string
	searchPrefix  string
	searchLang    string
	searchVersion string
	searchLimit   int
	searchOffset  int
)

var searchCmd = &cobra.Command{
	Use:   "search <text>...",
	Short: "Run a full-text query",
	Long: `The search command queries the search index. Words are combined with
AND unless OR is given; NOT or a leading '-' excludes a word.

Example:
  crindex search harbour festival
  crindex search "concert OR festival" --type page --prefix /events
  crindex search summer -- -winter --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := openIndex(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer idx.Close()

		q := search.Query{
			Text:       strings.Join(args, " "),
			Types:      searchTypes,
			Site:       searchSite,
			PathPrefix: content.NormalizePath(searchPrefix),
			Language:   searchLang,
			Limit:      searchLimit,
			Offset:     searchOffset,
		}
		if searchVersion != "" {
			v, err := content.ParseVersion(searchVersion)
			if err != nil {
				return err
			}
			q.Version = &v
		}
		result, err := idx.Find(cmd.Context(), q)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(result)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d hits for %q\n", result.TotalHits, q.Text)
		for i, hit := range result.Items {
			doc := hit.Document
			title := ""
			for _, lang := range append([]string{searchLang}, doc.Languages...) {
				if t := doc.Title[lang]; t != "" {
					title = t
					break
				}
			}
			fmt.Fprintf(out, "%3d. %-40s %6.3f  %s (%s, %s)\n", result.Offset+i+1, doc.Path, hit.Score, title, doc.Type, doc.Version)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().StringSliceVarP(&searchTypes, "type", "t", nil, "Restrict to resource types")
	searchCmd.Flags().StringVar(&searchSite, "site", "", "Restrict to a site")
	searchCmd.Flags().StringVarP(&searchPrefix, "prefix", "p", "", "Restrict to paths below this one")
	searchCmd.Flags().StringVarP(&searchLang, "lang", "l", "", "Restrict to a language")
	searchCmd.Flags().StringVar(&searchVersion, "version", "", "Restrict to a revision (live, work, original)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "Maximum number of hits")
	searchCmd.Flags().IntVar(&searchOffset, "offset", 0, "Number of hits to skip")
	rootCmd.AddCommand(searchCmd)
}
