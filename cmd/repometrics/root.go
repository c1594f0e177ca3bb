package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"repometrics/internal/config"
	"repometrics/internal/logging"
	"repometrics/internal/queue"
	"repometrics/internal/storage"
	"repometrics/internal/version"
)

var (
	// configPath is the CLI --config flag value
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "repometrics",
	Short: "repometrics - Azure DevOps repository analytics service",
	Long: `repometrics extracts commit, branch, and pull request data from Azure DevOps,
computes repository metrics, and materializes them into report artifacts. Analysis
runs as a durable request queue: enqueue targets, run the service, collect reports.`,
	Version: version.Version,
}

func init() {
	rootCmd.SetVersionTemplate("repometrics version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to config file (default: ./config.yaml)")
}

// mustLoadConfig loads configuration or exits.
func mustLoadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// newLoggerFromConfig builds the service logger from configuration.
func newLoggerFromConfig(cfg *config.Config) *logging.Logger {
	return logging.NewLogger(logging.Config{
		Format: logging.Format(cfg.Logging.Format),
		Level:  logging.LogLevel(cfg.Logging.Level),
	})
}

// mustOpenStore opens the database and request store or exits.
func mustOpenStore(cfg *config.Config, logger *logging.Logger) (*storage.DB, *queue.Store) {
	db, err := storage.Open(cfg.Database.Path, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	return db, queue.NewStore(db, logger)
}
