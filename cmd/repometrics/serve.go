package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"repometrics/internal/analytics"
	"repometrics/internal/api"
	"repometrics/internal/azure"
	"repometrics/internal/queue"
	"repometrics/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the analysis service",
	Long: `Run the polling analysis service: recover orphaned work, then poll the
request queue and process requests sequentially. Also serves the HTTP API
for enqueueing requests and inspecting status.`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig()
	logger := newLoggerFromConfig(cfg)

	if err := cfg.ValidateForFetch(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	db, store := mustOpenStore(cfg, logger)
	defer db.Close()

	cache := storage.NewCache(db)

	// Retention maintenance before taking new work
	retention := time.Duration(cfg.Database.CleanupDays) * 24 * time.Hour
	if removed, err := store.PruneTerminal(retention); err != nil {
		logger.Warn("Failed to prune old requests", map[string]interface{}{
			"error": err.Error(),
		})
	} else if removed > 0 {
		logger.Info("Pruned old requests", map[string]interface{}{
			"removed": removed,
		})
	}
	if _, err := cache.CleanupOldResults(retention); err != nil {
		logger.Warn("Failed to clean up old results", map[string]interface{}{
			"error": err.Error(),
		})
	}

	// Recover work orphaned by a previous crash before the first poll
	reconciler := queue.NewReconciler(store, logger, cfg.StaleTimeout())
	if recovered, err := reconciler.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reconciling request store: %v\n", err)
		os.Exit(1)
	} else if recovered > 0 {
		logger.Info("Startup reconciliation recovered requests", map[string]interface{}{
			"recovered": recovered,
		})
	}

	client := azure.NewClient(azure.Config{
		OrgURL:         cfg.AzureOrgURL,
		PAT:            cfg.AzurePAT,
		Timeout:        time.Duration(cfg.API.TimeoutSeconds) * time.Second,
		MaxRetries:     cfg.API.MaxRetries,
		RateLimitDelay: time.Duration(cfg.API.RateLimitDelayMillis) * time.Millisecond,
		MaxConcurrent:  cfg.API.MaxConcurrentRequests,
	}, logger)

	engine := analytics.NewEngine(analytics.Config{
		OutputDirectory: cfg.Output.Directory,
		FilenamePrefix:  cfg.Output.FilenamePrefix,
	}, logger)

	executor := queue.NewExecutor(store, client, engine, cache, logger)
	scheduler := queue.NewScheduler(store, executor, logger, queue.SchedulerConfig{
		PollInterval: cfg.PollInterval(),
	})
	scheduler.Start()

	router := api.SetupRoutes(api.NewHandlers(store, cache, logger))
	server := &http.Server{
		Addr:    cfg.HTTP.ListenAddr,
		Handler: router,
	}

	go func() {
		logger.Info("HTTP API listening", map[string]interface{}{
			"addr": cfg.HTTP.ListenAddr,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("Shutting down", map[string]interface{}{
		"signal": sig.String(),
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", map[string]interface{}{
			"error": err.Error(),
		})
	}

	// Waits for the in-flight request to reach a terminal state
	scheduler.Stop()
}
