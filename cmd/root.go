// Package cmd implements the lodestone command line interface.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lodestone-ai/lodestone/internal/config"
	"github.com/lodestone-ai/lodestone/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "lodestone",
	Short: "Lodestone - access-control-aware retrieval service",
	Long: `Lodestone ingests documents, embeds them into vector form, and answers
semantic queries with access-control-aware ranking over Postgres and
pgvector.

Run 'lodestone serve' to start the HTTP API.`,
	SilenceUsage: true,
}

var verbose bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads and validates configuration for a command.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger honoring the verbose flag.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: true})
}
