package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"repometrics/internal/queue"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue status",
	Long:  "Display queue depth, the in-flight request, and recent outcomes.",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig()
	logger := newLoggerFromConfig(cfg)

	db, store := mustOpenStore(cfg, logger)
	defer db.Close()

	snap, err := store.Snapshot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting status: %v\n", err)
		os.Exit(1)
	}

	if statusJSON {
		printJSON(snap)
		return
	}

	fmt.Println("Queue:")
	fmt.Printf("  Requested: %d\n", snap.Counts[queue.StatusRequested])
	fmt.Printf("  Running:   %d\n", snap.Counts[queue.StatusRunning])
	fmt.Printf("  Completed: %d\n", snap.Counts[queue.StatusCompleted])
	fmt.Printf("  Failed:    %d\n", snap.Counts[queue.StatusFailed])

	if snap.OldestPendingAge > 0 {
		fmt.Printf("\nOldest pending request: waiting %s\n",
			snap.OldestPendingAge.Round(time.Second))
	}
	if snap.Running != nil {
		fmt.Printf("\nIn flight: %s/%s (%s, running %s)\n",
			snap.Running.Project, snap.Running.Repository, snap.Running.ID,
			snap.RunningElapsed.Round(time.Second))
	}

	if len(snap.Recent) > 0 {
		fmt.Println("\nRecent outcomes:")
		for _, outcome := range snap.Recent {
			marker := "ok"
			detail := outcome.ResultReference
			if outcome.Status == queue.StatusFailed {
				marker = "FAILED"
				detail = outcome.ErrorMessage
			}
			fmt.Printf("  [%s] %s/%s  %s\n", marker, outcome.Project, outcome.Repository, detail)
		}
	}
}
