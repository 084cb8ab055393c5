package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/voiced/internal/capability"
	"github.com/fyrsmithlabs/voiced/internal/config"
)

var outputCmd = &cobra.Command{
	Use:   "output <voice|text>",
	Short: "Set or show the response output mode",
	Long: `Set the response output mode and persist it to the config file.
A running daemon picks the change up between exchanges. With no argument,
prints the current mode.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runOutput,
}

func runOutput(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		fmt.Println(cfg.Session.OutputMode)
		return nil
	}

	mode := args[0]
	if mode != config.OutputVoice && mode != config.OutputText {
		return fmt.Errorf("output mode must be %q or %q, got %q",
			config.OutputVoice, config.OutputText, mode)
	}
	if err := config.SetValue(path, "session.output_mode", mode); err != nil {
		return err
	}
	fmt.Printf("output mode set to %s\n", mode)
	return nil
}

var historyResetCmd = &cobra.Command{
	Use:   "history-reset <on|off>",
	Short: "Set or show whether history clears after every response",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistoryReset,
}

func runHistoryReset(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		if cfg.Session.HistoryReset {
			fmt.Println("on")
		} else {
			fmt.Println("off")
		}
		return nil
	}

	var value bool
	switch args[0] {
	case "on":
		value = true
	case "off":
		value = false
	default:
		return fmt.Errorf("history-reset takes on or off, got %q", args[0])
	}
	if err := config.SetValue(path, "session.history_reset", value); err != nil {
		return err
	}
	fmt.Printf("history reset set to %s\n", args[0])
	return nil
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured providers and their discovered operations",
	RunE:  runProviders,
}

func runProviders(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.Providers) == 0 {
		fmt.Println("no providers configured")
		return nil
	}

	registry := capability.NewRegistry(
		capability.NewMCPDialer(),
		cfg.Tools.InvocationTimeout.Duration(),
		zap.NewNop(),
	)
	defer registry.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Tools.DiscoveryTimeout.Duration())
	defer cancel()
	if err := registry.Discover(ctx, cfg.Providers); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}

	for _, info := range registry.Providers() {
		fmt.Printf("%s\t%s\t%d operations\n", info.ID, info.Status, info.Capabilities)
		if info.LastError != "" {
			fmt.Printf("\tlast error: %s\n", info.LastError)
		}
	}
	for _, c := range registry.Capabilities() {
		fmt.Printf("  %s/%s\t%s\n", c.ProviderID, c.Operation, c.Description)
	}
	return nil
}
