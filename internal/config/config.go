// Package config loads configuration from environment variables and
// the targets file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Config holds process-level configuration.
type Config struct {
	// Logging
	LogLevel  string
	LogFormat string

	// Metrics (empty disables the listener)
	MetricsAddr string

	// TargetsFile is the JSON file describing deployment targets.
	TargetsFile string

	// ScopeDirs are searched, in order, when resolving plain local
	// paths in download URLs.
	ScopeDirs []string
}

// Target describes one deployment destination. Its Config payload is
// backend-specific and parsed by the backend itself.
type Target struct {
	Name   string          `json:"name"`
	Type   string          `json:"type"`
	Dir    string          `json:"dir"`
	Config json.RawMessage `json:"config"`
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:    envOr("LOG_LEVEL", "info"),
		LogFormat:   envOr("LOG_FORMAT", "json"),
		MetricsAddr: envOr("METRICS_ADDR", ""),
		TargetsFile: envOr("TARGETS_FILE", "targets.json"),
		ScopeDirs:   envList("SCOPE_DIRS"),
	}
	return cfg, nil
}

// LoadTargets parses the targets file.
func LoadTargets(path string) ([]Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets file %s: %w", path, err)
	}

	var targets []Target
	if err := json.Unmarshal(data, &targets); err != nil {
		return nil, fmt.Errorf("parse targets file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(targets))
	for i, t := range targets {
		if t.Name == "" {
			return nil, fmt.Errorf("target %d: name is required", i)
		}
		if t.Type == "" {
			return nil, fmt.Errorf("target %s: type is required", t.Name)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("duplicate target name %s", t.Name)
		}
		seen[t.Name] = true
	}
	return targets, nil
}

// FindTarget returns the named target.
func FindTarget(targets []Target, name string) (Target, error) {
	for _, t := range targets {
		if t.Name == name {
			return t, nil
		}
	}
	return Target{}, fmt.Errorf("unknown target: %s", name)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, string(os.PathListSeparator))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
