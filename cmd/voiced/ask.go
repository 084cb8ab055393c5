package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/voiced/internal/capability"
	"github.com/fyrsmithlabs/voiced/internal/conversation"
	"github.com/fyrsmithlabs/voiced/internal/llm"
	"github.com/fyrsmithlabs/voiced/internal/logging"
	"github.com/fyrsmithlabs/voiced/internal/orchestrator"
	"github.com/fyrsmithlabs/voiced/internal/speech"
)

var askSpeak bool

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Run a single text exchange",
	Long: `Run one exchange without the audio loop: plan, dispatch any tool
invocations, and print the response. With --speak the response is also
synthesized and played per the configured voice settings.

Examples:
  voiced ask "what time is it"
  voiced ask --speak "weather in Oslo"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askSpeak, "speak", false, "speak the response in addition to printing it")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{Level: "warn", Format: cfg.Logging.Format})
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()

	registry := capability.NewRegistry(
		capability.NewMCPDialer(),
		cfg.Tools.InvocationTimeout.Duration(),
		logger,
	)
	defer registry.Close()

	discoverCtx, cancel := context.WithTimeout(ctx, cfg.Tools.DiscoveryTimeout.Duration())
	if err := registry.Discover(discoverCtx, cfg.Providers); err != nil {
		logger.Warn("capability discovery incomplete", zap.Error(err))
	}
	cancel()

	planner, err := llm.NewOllamaPlanner(llm.OllamaConfig{
		ServerURL: cfg.Model.ServerURL,
		Model:     cfg.Model.Model,
		Timeout:   cfg.Model.Timeout.Duration(),
	}, logger)
	if err != nil {
		return err
	}

	history := conversation.NewHistory(conversation.Policy{
		ResetAfterResponse: cfg.Session.HistoryReset,
		MaxTurns:           cfg.Session.MaxTurns,
	})
	orch := orchestrator.New(planner, registry, history, logger)

	response, err := orch.HandleUtterance(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Println(response)

	if askSpeak {
		synth := speech.NewExecSynthesizer(execConfig(cfg.Speech.Synthesizer), cfg.Speech.SampleRate)
		player := speech.NewExecPlayer(execConfig(cfg.Speech.Player))
		spoken, err := synth.Synthesize(ctx, response)
		if err != nil {
			fmt.Fprintf(os.Stderr, "speech synthesis failed: %v\n", err)
			return nil
		}
		if err := player.Play(ctx, spoken); err != nil {
			fmt.Fprintf(os.Stderr, "audio playback failed: %v\n", err)
		}
	}
	return nil
}
