package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"repometrics/internal/queue"
)

var (
	requestsStatus string
	requestsLimit  int
	requestsJSON   bool
)

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "Inspect analysis requests",
}

var requestsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analysis requests",
	Run:   runRequestsList,
}

var requestsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one analysis request",
	Args:  cobra.ExactArgs(1),
	Run:   runRequestsShow,
}

func init() {
	requestsListCmd.Flags().StringVar(&requestsStatus, "status", "",
		"Filter by status (Requested, Running, Completed, Failed)")
	requestsListCmd.Flags().IntVar(&requestsLimit, "limit", 20, "Maximum rows to show")
	requestsListCmd.Flags().BoolVar(&requestsJSON, "json", false, "Output as JSON")
	requestsShowCmd.Flags().BoolVar(&requestsJSON, "json", false, "Output as JSON")

	requestsCmd.AddCommand(requestsListCmd)
	requestsCmd.AddCommand(requestsShowCmd)
	rootCmd.AddCommand(requestsCmd)
}

func runRequestsList(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig()
	logger := newLoggerFromConfig(cfg)

	opts := queue.ListOptions{Limit: requestsLimit}
	if requestsStatus != "" {
		status, err := queue.ParseStatus(requestsStatus)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v (want Requested, Running, Completed, or Failed)\n", err)
			os.Exit(1)
		}
		opts.Status = []queue.Status{status}
	}

	db, store := mustOpenStore(cfg, logger)
	defer db.Close()

	resp, err := store.List(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing requests: %v\n", err)
		os.Exit(1)
	}

	if requestsJSON {
		printJSON(resp)
		return
	}

	if len(resp.Requests) == 0 {
		fmt.Println("No requests found.")
		return
	}

	fmt.Printf("%-36s  %-10s  %-20s  %s\n", "ID", "STATUS", "CREATED", "TARGET")
	for _, summary := range resp.Requests {
		fmt.Printf("%-36s  %-10s  %-20s  %s/%s\n",
			summary.ID,
			summary.Status,
			summary.CreatedAt.Format("2006-01-02 15:04:05"),
			summary.Project,
			summary.Repository)
	}
	fmt.Printf("\n%d of %d requests\n", len(resp.Requests), resp.TotalCount)
}

func runRequestsShow(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig()
	logger := newLoggerFromConfig(cfg)

	db, store := mustOpenStore(cfg, logger)
	defer db.Close()

	req, err := store.Get(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if requestsJSON {
		printJSON(req)
		return
	}

	fmt.Printf("ID:         %s\n", req.ID)
	fmt.Printf("Target:     %s/%s\n", req.Project, req.Repository)
	fmt.Printf("Status:     %s\n", req.Status)
	fmt.Printf("Created:    %s\n", req.CreatedAt.Format(time.RFC3339))
	if req.FromDate != "" || req.ToDate != "" {
		fmt.Printf("Window:     %s .. %s\n", req.FromDate, req.ToDate)
	}
	if len(req.Options) > 0 {
		fmt.Printf("Categories: %v\n", req.Options)
	}
	if req.StartedAt != nil {
		fmt.Printf("Started:    %s\n", req.StartedAt.Format(time.RFC3339))
	}
	if req.FinishedAt != nil {
		fmt.Printf("Finished:   %s (took %s)\n",
			req.FinishedAt.Format(time.RFC3339), req.Duration().Round(time.Millisecond))
	}
	if req.ResultReference != "" {
		fmt.Printf("Result:     %s\n", req.ResultReference)
	}
	if req.ErrorMessage != "" {
		fmt.Printf("Error:      %s\n", req.ErrorMessage)
	}
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}
