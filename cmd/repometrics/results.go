package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"repometrics/internal/storage"
)

var (
	resultsLimit int
	resultsJSON  bool
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "List produced analysis artifacts",
	Run:   runResults,
}

func init() {
	resultsCmd.Flags().IntVar(&resultsLimit, "limit", 20, "Maximum rows to show")
	resultsCmd.Flags().BoolVar(&resultsJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig()
	logger := newLoggerFromConfig(cfg)

	db, _ := mustOpenStore(cfg, logger)
	defer db.Close()

	cache := storage.NewCache(db)
	results, err := cache.ListResults(resultsLimit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing results: %v\n", err)
		os.Exit(1)
	}

	if resultsJSON {
		printJSON(results)
		return
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return
	}

	fmt.Printf("%-20s  %-30s  %s\n", "CREATED", "TARGET", "ARTIFACT")
	for _, r := range results {
		fmt.Printf("%-20s  %-30s  %s\n",
			r.CreatedAt.Format("2006-01-02 15:04:05"),
			r.Project+"/"+r.Repository,
			r.ArtifactPath)
	}
}
