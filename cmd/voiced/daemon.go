package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/voiced/internal/audio"
	"github.com/fyrsmithlabs/voiced/internal/capability"
	"github.com/fyrsmithlabs/voiced/internal/config"
	"github.com/fyrsmithlabs/voiced/internal/conversation"
	"github.com/fyrsmithlabs/voiced/internal/llm"
	"github.com/fyrsmithlabs/voiced/internal/logging"
	"github.com/fyrsmithlabs/voiced/internal/orchestrator"
	"github.com/fyrsmithlabs/voiced/internal/session"
	"github.com/fyrsmithlabs/voiced/internal/speech"
	"github.com/fyrsmithlabs/voiced/internal/wakeword"
	"github.com/fyrsmithlabs/voiced/pkg/server"
)

// runDaemon starts the assistant loop and blocks until SIGINT or SIGTERM.
func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := capability.NewRegistry(
		capability.NewMCPDialer(),
		cfg.Tools.InvocationTimeout.Duration(),
		logger,
	)
	defer registry.Close()

	discoverCtx, cancel := context.WithTimeout(ctx, cfg.Tools.DiscoveryTimeout.Duration())
	err = registry.Discover(discoverCtx, cfg.Providers)
	cancel()
	if err != nil {
		// The assistant still answers from the model alone.
		logger.Warn("capability discovery incomplete", zap.Error(err))
	}

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

	format := audio.PCM16(cfg.Speech.SampleRate)
	capture := audio.NewExecCapture(cfg.Speech.Capture.Command, cfg.Speech.Capture.Args, format, logger)

	stream := speech.NewExecStream(execConfig(cfg.Speech.Stream), logger)
	scorer := wakeword.NewTranscriptScorer(stream, cfg.Wake.Phrases)
	detector := wakeword.NewDetector(scorer, wakeword.Config{
		Sensitivity: cfg.Wake.Sensitivity,
		Debounce:    cfg.Wake.Debounce.Duration(),
	}, logger)

	watcher, err := config.NewWatcher(path, logger)
	if err != nil {
		logger.Warn("config watching disabled", zap.Error(err))
	} else {
		go watcher.Start(ctx)
	}
	var cfgEvents <-chan *config.Config
	if watcher != nil {
		cfgEvents = watcher.Events()
	}

	ctrl := session.New(cfg, session.Options{
		Capture:      capture,
		Wake:         detector,
		Recognizer:   speech.NewExecRecognizer(execConfig(cfg.Speech.Recognizer)),
		Synthesizer:  speech.NewExecSynthesizer(execConfig(cfg.Speech.Synthesizer), cfg.Speech.SampleRate),
		Player:       speech.NewExecPlayer(execConfig(cfg.Speech.Player)),
		Exchanger:    orch,
		ConfigEvents: cfgEvents,
		TextOutput:   os.Stdout,
		Logger:       logger,
	})

	if cfg.Server.Enabled {
		srv := server.NewServer(cfg.Server, &statusSource{ctrl: ctrl, registry: registry})
		go func() {
			if err := srv.Start(ctx); err != nil && err != http.ErrServerClosed {
				logger.Error("admin server failed", zap.Error(err))
			}
		}()
	}

	logger.Info("voiced starting",
		zap.String("config", path),
		zap.Int("providers", len(cfg.Providers)))

	if err := ctrl.Run(ctx); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	logger.Info("voiced stopped")
	return nil
}

func execConfig(c config.ExecConfig) speech.ExecConfig {
	return speech.ExecConfig{Command: c.Command, Args: c.Args}
}

// statusSource adapts the session and registry for the admin server.
type statusSource struct {
	ctrl     *session.Controller
	registry *capability.Registry
}

func (s *statusSource) SessionID() string {
	return s.ctrl.ID()
}

func (s *statusSource) StartedAt() time.Time {
	return s.ctrl.StartedAt()
}

func (s *statusSource) Mode() string {
	return s.ctrl.Mode().String()
}

func (s *statusSource) Providers() []capability.ProviderInfo {
	return s.registry.Providers()
}
