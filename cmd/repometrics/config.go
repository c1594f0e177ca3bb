package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"repometrics/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config.yaml",
	Run:   runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Run:   runConfigShow,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	path := configPath
	if path == "" {
		path = "config.yaml"
	}

	if err := config.WriteDefault(path); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", path)
	fmt.Println("Set AZURE_DEVOPS_PAT and AZURE_DEVOPS_ORG_URL in the environment or a .env file.")
}

func runConfigShow(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig()
	printJSON(cfg)
}
