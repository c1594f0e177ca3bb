package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"repometrics/internal/queue"
)

var (
	enqueueProject    string
	enqueueRepository string
	enqueueFrom       string
	enqueueTo         string
	enqueueOptions    []string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Enqueue an analysis request",
	Long: `Add an analysis request to the queue. The running service picks it up on
its next poll. Without --project/--repository, every repository configured
in the config file is enqueued.`,
	Run: runEnqueue,
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueProject, "project", "", "Azure DevOps project")
	enqueueCmd.Flags().StringVar(&enqueueRepository, "repository", "", "Repository name")
	enqueueCmd.Flags().StringVar(&enqueueFrom, "from", "", "Analysis window start (RFC3339)")
	enqueueCmd.Flags().StringVar(&enqueueTo, "to", "", "Analysis window end (RFC3339)")
	enqueueCmd.Flags().StringSliceVar(&enqueueOptions, "categories", nil,
		"Analysis categories (commits, authors, branches, pull_requests; default all)")
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig()
	logger := newLoggerFromConfig(cfg)

	for _, bound := range []string{enqueueFrom, enqueueTo} {
		if bound == "" {
			continue
		}
		if _, err := time.Parse(time.RFC3339, bound); err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid date %q, want RFC3339 (e.g. 2026-01-02T00:00:00Z)\n", bound)
			os.Exit(1)
		}
	}

	var targets [][2]string
	if enqueueProject != "" && enqueueRepository != "" {
		targets = append(targets, [2]string{enqueueProject, enqueueRepository})
	} else if enqueueProject == "" && enqueueRepository == "" {
		for _, project := range cfg.Projects {
			for _, repository := range project.Repositories {
				targets = append(targets, [2]string{project.Name, repository})
			}
		}
		if len(targets) == 0 {
			fmt.Fprintln(os.Stderr, "Error: no repositories configured; pass --project and --repository or add projects to the config file")
			os.Exit(1)
		}
	} else {
		fmt.Fprintln(os.Stderr, "Error: --project and --repository must be used together")
		os.Exit(1)
	}

	db, store := mustOpenStore(cfg, logger)
	defer db.Close()

	for _, target := range targets {
		req := queue.NewRequest(target[0], target[1], enqueueFrom, enqueueTo, enqueueOptions)
		if err := store.Enqueue(req); err != nil {
			fmt.Fprintf(os.Stderr, "Error enqueueing %s/%s: %v\n", target[0], target[1], err)
			os.Exit(1)
		}
		fmt.Printf("Enqueued %s/%s as %s\n", target[0], target[1], req.ID)
	}
}
