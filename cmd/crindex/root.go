package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/digitalroastery/weblounge-sub005/internal/repository"
	"github.com/digitalroastery/weblounge-sub005/pkg/config"
	"github.com/digitalroastery/weblounge-sub005/pkg/logger"
)

var (
	configPath string
	rootDir    string
	jsonOut    bool
	verbose    bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "crindex",
	Short: "Serve and maintain a content repository index",
	Long: `crindex opens the fixed record indices and the search index of a
content repository. It serves lookups and full-text search over HTTP and
offers maintenance commands to inspect, check and repair an index on disk.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if rootDir != "" {
			cfg.Repository.Root = rootDir
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		logger.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "root", "r", "", "Repository root, overrides the config")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openIndex opens the configured repository. Maintenance commands that do
// not write open it read-only so they can run next to a serving process.
func openIndex(ctx context.Context, readOnly bool, opts ...repository.Option) (*repository.Index, error) {
	c := *cfg
	c.Repository.ReadOnly = c.Repository.ReadOnly || readOnly
	return repository.Open(ctx, &c, opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
