package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad output mode", func(c *Config) { c.Session.OutputMode = "loud" }, "output_mode"},
		{"zero max turns", func(c *Config) { c.Session.MaxTurns = 0 }, "max_turns"},
		{"negative silence timeout", func(c *Config) { c.Session.SilenceTimeout = 0 }, "silence_timeout"},
		{"no wake phrases", func(c *Config) { c.Wake.Phrases = nil }, "wake phrase"},
		{"empty wake phrase", func(c *Config) { c.Wake.Phrases = []string{""} }, "non-empty"},
		{"sensitivity too high", func(c *Config) { c.Wake.Sensitivity = 1.5 }, "sensitivity"},
		{"sensitivity negative", func(c *Config) { c.Wake.Sensitivity = -0.1 }, "sensitivity"},
		{"missing model", func(c *Config) { c.Model.Model = "" }, "model.model"},
		{"missing model url", func(c *Config) { c.Model.ServerURL = "" }, "server_url"},
		{"zero invocation timeout", func(c *Config) { c.Tools.InvocationTimeout = 0 }, "invocation_timeout"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"provider without id", func(c *Config) {
			c.Providers = []ProviderConfig{{Transport: TransportStdio, Command: "srv"}}
		}, "provider id"},
		{"duplicate provider", func(c *Config) {
			c.Providers = []ProviderConfig{
				{ID: "a", Transport: TransportStdio, Command: "srv"},
				{ID: "a", Transport: TransportStdio, Command: "srv"},
			}
		}, "duplicate"},
		{"stdio without command", func(c *Config) {
			c.Providers = []ProviderConfig{{ID: "a", Transport: TransportStdio}}
		}, "command"},
		{"http without endpoint", func(c *Config) {
			c.Providers = []ProviderConfig{{ID: "a", Transport: TransportHTTP}}
		}, "endpoint"},
		{"unknown transport", func(c *Config) {
			c.Providers = []ProviderConfig{{ID: "a", Transport: "carrier-pigeon"}}
		}, "transport"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ContinuousNeedsNoWakePhrases(t *testing.T) {
	cfg := Default()
	cfg.Session.Continuous = true
	cfg.Wake.Phrases = nil
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, OutputVoice, cfg.Session.OutputMode)
	assert.Equal(t, 0.8, cfg.Wake.Sensitivity)
	assert.Equal(t, 10*time.Second, cfg.Tools.InvocationTimeout.Duration())
}

func TestLoad_FileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
session:
  output_mode: text
  silence_timeout: 2s
wake:
  phrases: ["computer"]
  sensitivity: 0.6
providers:
  - id: files
    transport: stdio
    command: files-server
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	t.Setenv("VOICED_WAKE_SENSITIVITY", "0.9")

	cfg, err := Load(path)
	require.NoError(t, err)

	// File overrides defaults.
	assert.Equal(t, OutputText, cfg.Session.OutputMode)
	assert.Equal(t, 2*time.Second, cfg.Session.SilenceTimeout.Duration())
	assert.Equal(t, []string{"computer"}, cfg.Wake.Phrases)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "files", cfg.Providers[0].ID)

	// Env overrides file.
	assert.Equal(t, 0.9, cfg.Wake.Sensitivity)
}

func TestLoad_InvalidFileIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("wake:\n  sensitivity: 3.0\n"), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestSetValue_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	require.NoError(t, SetValue(path, "session.output_mode", OutputText))
	require.NoError(t, SetValue(path, "session.history_reset", false))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, OutputText, cfg.Session.OutputMode)
	assert.False(t, cfg.Session.HistoryReset)

	// Updating one key preserves the other.
	require.NoError(t, SetValue(path, "session.output_mode", OutputVoice))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, OutputVoice, cfg.Session.OutputMode)
	assert.False(t, cfg.Session.HistoryReset)
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1.5s")))
	assert.Equal(t, 1500*time.Millisecond, d.Duration())

	require.Error(t, d.UnmarshalText([]byte("-3s")))
	require.Error(t, d.UnmarshalText([]byte("soon")))
}
