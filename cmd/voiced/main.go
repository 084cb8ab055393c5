// Package main implements the voiced daemon and its control CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/voiced/internal/config"
	"github.com/fyrsmithlabs/voiced/internal/version"
)

// configPath is the --config flag value; empty means the default location.
var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "voiced",
	Short: "Local voice assistant daemon",
	Long: `voiced is a local voice assistant. It listens for a wake phrase,
captures the spoken command, plans with a local language model, dispatches
tool invocations to configured providers, and answers by voice or text.

Run with no arguments to start the assistant loop.`,
	Version:      version.Version,
	SilenceUsage: true,
	RunE:         runDaemon,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/voiced/config.yaml)")
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(historyResetCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig resolves the config path and loads the file with defaults and
// environment overrides applied.
func loadConfig() (*config.Config, string, error) {
	path := configPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, "", err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("voiced\n")
		fmt.Printf("Version:    %s\n", version.Version)
		fmt.Printf("Commit:     %s\n", version.GitCommit)
		fmt.Printf("Build Date: %s\n", version.BuildDate)
	},
}
