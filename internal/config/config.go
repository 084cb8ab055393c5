// Package config provides configuration loading for voiced.
//
// Configuration is loaded from a YAML file with environment variable
// overrides. All values are read once at startup and treated as immutable
// by the running session; runtime changes arrive as replace-configuration
// events from the file watcher and are applied only between exchanges.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Output modes for delivering responses.
const (
	OutputVoice = "voice"
	OutputText  = "text"
)

// Provider transports.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// ErrInvalid indicates configuration that cannot be used to start a session.
// It is the only error class that is fatal at startup.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the complete voiced configuration.
type Config struct {
	Session   SessionConfig    `koanf:"session"`
	Wake      WakeConfig       `koanf:"wake"`
	Speech    SpeechConfig     `koanf:"speech"`
	Model     ModelConfig      `koanf:"model"`
	Tools     ToolsConfig      `koanf:"tools"`
	Providers []ProviderConfig `koanf:"providers"`
	Server    ServerConfig     `koanf:"server"`
	Logging   LoggingConfig    `koanf:"logging"`
}

// SessionConfig holds session-scoped behavior.
type SessionConfig struct {
	// OutputMode selects voice (TTS) or text response delivery.
	OutputMode string `koanf:"output_mode"`

	// HistoryReset clears conversation history after every response.
	// When false, history is retained up to MaxTurns and evicted FIFO.
	HistoryReset bool `koanf:"history_reset"`

	// MaxTurns bounds retained conversation turns when HistoryReset is off.
	MaxTurns int `koanf:"max_turns"`

	// SilenceTimeout ends command capture after this much quiet.
	SilenceTimeout Duration `koanf:"silence_timeout"`

	// CaptureTimeout abandons capture when no speech arrives at all.
	CaptureTimeout Duration `koanf:"capture_timeout"`

	// ShutdownGrace bounds draining of in-flight work on shutdown.
	ShutdownGrace Duration `koanf:"shutdown_grace"`

	// Continuous enables the legacy always-transcribing mode: every final
	// transcript becomes an utterance, with no wake word gate.
	Continuous bool `koanf:"continuous"`
}

// WakeConfig holds wake word detection settings.
type WakeConfig struct {
	Phrases     []string `koanf:"phrases"`
	Sensitivity float64  `koanf:"sensitivity"`
	Debounce    Duration `koanf:"debounce"`
}

// SpeechConfig holds the external speech collaborator commands.
type SpeechConfig struct {
	Capture     ExecConfig `koanf:"capture"`
	Recognizer  ExecConfig `koanf:"recognizer"`
	Stream      ExecConfig `koanf:"stream"`
	Synthesizer ExecConfig `koanf:"synthesizer"`
	Player      ExecConfig `koanf:"player"`

	SampleRate int `koanf:"sample_rate"`

	// SilenceThreshold is the normalized RMS level below which a frame
	// counts as silence during capture windowing (0.0-1.0).
	SilenceThreshold float64 `koanf:"silence_threshold"`
}

// ExecConfig describes a subprocess collaborator.
type ExecConfig struct {
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
}

// ModelConfig holds the language-model collaborator settings.
type ModelConfig struct {
	ServerURL string   `koanf:"server_url"`
	Model     string   `koanf:"model"`
	Timeout   Duration `koanf:"timeout"`
}

// ToolsConfig holds capability invocation settings.
type ToolsConfig struct {
	// InvocationTimeout bounds a single capability call. The registry does
	// not retry; retry decisions live in the orchestrator.
	InvocationTimeout Duration `koanf:"invocation_timeout"`

	// DiscoveryTimeout bounds one provider's manifest query during discovery.
	DiscoveryTimeout Duration `koanf:"discovery_timeout"`
}

// ProviderConfig describes one configured tool provider endpoint.
type ProviderConfig struct {
	ID        string   `koanf:"id"`
	Transport string   `koanf:"transport"`
	Command   string   `koanf:"command"`
	Args      []string `koanf:"args"`
	Endpoint  string   `koanf:"endpoint"`
}

// ServerConfig holds the local status HTTP server settings.
type ServerConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds basic logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			OutputMode:     OutputVoice,
			HistoryReset:   true,
			MaxTurns:       20,
			SilenceTimeout: Duration(1500 * time.Millisecond),
			CaptureTimeout: Duration(8 * time.Second),
			ShutdownGrace:  Duration(10 * time.Second),
		},
		Wake: WakeConfig{
			Phrases:     []string{"jarvis", "hey jarvis", "okay jarvis"},
			Sensitivity: 0.8,
			Debounce:    Duration(1500 * time.Millisecond),
		},
		Speech: SpeechConfig{
			SampleRate:       16000,
			SilenceThreshold: 0.015,
		},
		Model: ModelConfig{
			ServerURL: "http://localhost:11434",
			Model:     "llama3.1",
			Timeout:   Duration(60 * time.Second),
		},
		Tools: ToolsConfig{
			InvocationTimeout: Duration(10 * time.Second),
			DiscoveryTimeout:  Duration(5 * time.Second),
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            9821,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks the configuration for startup errors.
//
// A validation failure is fatal: the session state machine must not start
// with a broken configuration.
func (c *Config) Validate() error {
	if c.Session.OutputMode != OutputVoice && c.Session.OutputMode != OutputText {
		return fmt.Errorf("%w: session.output_mode must be %q or %q, got %q",
			ErrInvalid, OutputVoice, OutputText, c.Session.OutputMode)
	}
	if c.Session.MaxTurns < 1 {
		return fmt.Errorf("%w: session.max_turns must be positive", ErrInvalid)
	}
	if c.Session.SilenceTimeout.Duration() <= 0 {
		return fmt.Errorf("%w: session.silence_timeout must be positive", ErrInvalid)
	}
	if c.Session.CaptureTimeout.Duration() <= 0 {
		return fmt.Errorf("%w: session.capture_timeout must be positive", ErrInvalid)
	}

	if !c.Session.Continuous {
		if len(c.Wake.Phrases) == 0 {
			return fmt.Errorf("%w: at least one wake phrase is required", ErrInvalid)
		}
		for _, p := range c.Wake.Phrases {
			if p == "" {
				return fmt.Errorf("%w: wake phrases must be non-empty", ErrInvalid)
			}
		}
	}
	if c.Wake.Sensitivity < 0 || c.Wake.Sensitivity > 1 {
		return fmt.Errorf("%w: wake.sensitivity must be between 0.0 and 1.0, got %g",
			ErrInvalid, c.Wake.Sensitivity)
	}

	if c.Speech.SampleRate <= 0 {
		return fmt.Errorf("%w: speech.sample_rate must be positive", ErrInvalid)
	}
	if c.Speech.SilenceThreshold < 0 || c.Speech.SilenceThreshold > 1 {
		return fmt.Errorf("%w: speech.silence_threshold must be between 0.0 and 1.0", ErrInvalid)
	}

	if c.Model.ServerURL == "" {
		return fmt.Errorf("%w: model.server_url is required", ErrInvalid)
	}
	if c.Model.Model == "" {
		return fmt.Errorf("%w: model.model is required", ErrInvalid)
	}

	if c.Tools.InvocationTimeout.Duration() <= 0 {
		return fmt.Errorf("%w: tools.invocation_timeout must be positive", ErrInvalid)
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("%w: provider id is required", ErrInvalid)
		}
		if seen[p.ID] {
			return fmt.Errorf("%w: duplicate provider id %q", ErrInvalid, p.ID)
		}
		seen[p.ID] = true

		switch p.Transport {
		case TransportStdio:
			if p.Command == "" {
				return fmt.Errorf("%w: provider %q: stdio transport requires a command", ErrInvalid, p.ID)
			}
		case TransportHTTP:
			if p.Endpoint == "" {
				return fmt.Errorf("%w: provider %q: http transport requires an endpoint", ErrInvalid, p.ID)
			}
		default:
			return fmt.Errorf("%w: provider %q: unknown transport %q", ErrInvalid, p.ID, p.Transport)
		}
	}

	if c.Server.Enabled {
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			return fmt.Errorf("%w: server.port must be 1-65535, got %d", ErrInvalid, c.Server.Port)
		}
	}

	return nil
}
