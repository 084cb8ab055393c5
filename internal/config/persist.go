package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SetValue updates a single dotted key (e.g. "session.output_mode") in the
// YAML config file at path, creating the file if it doesn't exist.
//
// The write is atomic: the updated document is written to a temp file in the
// same directory and renamed over the original, so the file watcher never
// observes a half-written config.
func SetValue(path string, key string, value any) error {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}

	doc := map[string]any{}
	if content, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(content, &doc); err != nil {
			return fmt.Errorf("%w: failed to parse %s: %v", ErrInvalid, path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	setNested(doc, strings.Split(key, "."), value)

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to chmod config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

func setNested(doc map[string]any, keys []string, value any) {
	if len(keys) == 1 {
		doc[keys[0]] = value
		return
	}
	child, ok := doc[keys[0]].(map[string]any)
	if !ok {
		child = map[string]any{}
		doc[keys[0]] = child
	}
	setNested(child, keys[1:], value)
}
