package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix namespaces voiced environment overrides.
	EnvPrefix = "VOICED_"
)

// DefaultPath returns the default configuration file location,
// ~/.config/voiced/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "voiced", "config.yaml"), nil
}

// Load loads configuration from the YAML file at configPath, then overrides
// with environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (VOICED_SESSION_OUTPUT_MODE, VOICED_WAKE_SENSITIVITY, ...)
//  2. YAML config file
//  3. Hardcoded defaults
//
// A missing file is not an error; defaults plus environment apply. A file
// larger than 1MB is rejected.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}

	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("%w: config file exceeds %d bytes", ErrInvalid, maxConfigFileSize)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrInvalid, configPath, err)
		}
	}

	// Environment overrides. VOICED_SESSION_OUTPUT_MODE -> session.output_mode:
	// the first underscore separates the section, the rest is the field name.
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// EnsureDir creates the voiced config directory if it doesn't exist.
func EnsureDir() error {
	p, err := DefaultPath()
	if err != nil {
		return err
	}
	return os.MkdirAll(filepath.Dir(p), 0700)
}
