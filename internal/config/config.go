// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for promptdeck.
//
// Configuration lives in ~/.promptdeck/config.toml; missing files fall
// back to built-in defaults, and the OpenRouter key can be supplied via
// the OPENROUTER_API_KEY environment variable instead of the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete promptdeck configuration.
type Config struct {
	// DefaultProvider selects the initial provider: "ollama" or "openrouter".
	DefaultProvider string `toml:"default_provider"`

	// DefaultModel is the model id selected at startup.
	DefaultModel string `toml:"default_model"`

	Local   LocalConfig   `toml:"local"`
	Cloud   CloudConfig   `toml:"cloud"`
	Context ContextConfig `toml:"context"`
	Metrics MetricsConfig `toml:"metrics"`
	Storage StorageConfig `toml:"storage"`
}

// LocalConfig configures the Ollama adapter.
type LocalConfig struct {
	// OllamaURL is the local server endpoint.
	OllamaURL string `toml:"ollama_url"`
	// ContextWindowTokens is assumed for local models.
	ContextWindowTokens int `toml:"context_window_tokens"`
}

// CloudConfig configures the OpenRouter adapter.
type CloudConfig struct {
	// OpenRouterURL overrides the API root (normally left empty).
	OpenRouterURL string `toml:"openrouter_url"`
	// OpenRouterKey is the API key; the OPENROUTER_API_KEY environment
	// variable takes precedence when set.
	OpenRouterKey string `toml:"openrouter_key"`
}

// ContextConfig tunes the context subsystem.
type ContextConfig struct {
	// MinimumViableTokens is the floor below which truncated items are
	// dropped instead of included.
	MinimumViableTokens int `toml:"minimum_viable_tokens"`
}

// MetricsConfig tunes the metrics aggregator's ring buffers.
type MetricsConfig struct {
	RequestHistory int `toml:"request_history"`
	ErrorHistory   int `toml:"error_history"`
}

// StorageConfig configures session persistence.
type StorageConfig struct {
	// DatabasePath is the SQLite file (empty = ~/.promptdeck/sessions.db).
	DatabasePath string `toml:"database_path"`
	// TelemetryPath is the diagnostic event log (empty = disabled).
	TelemetryPath string `toml:"telemetry_path"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultProvider: "ollama",
		DefaultModel:    "qwen2.5-coder:7b",
		Local: LocalConfig{
			OllamaURL:           "http://127.0.0.1:11434",
			ContextWindowTokens: 8192,
		},
		Context: ContextConfig{
			MinimumViableTokens: 50,
		},
		Metrics: MetricsConfig{
			RequestHistory: 50,
			ErrorHistory:   25,
		},
	}
}

// Dir returns the promptdeck configuration directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".promptdeck"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads ~/.promptdeck/config.toml, layering it over the defaults.
// A missing file is not an error.
func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(filepath.Join(dir, "config.toml"))
}

// LoadFrom reads a specific config file over the defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers environment overrides on top of the file.
func (c *Config) applyEnv() {
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		c.Cloud.OpenRouterKey = key
	}
}

// fillDefaults replaces zero values left by a sparse file.
func (c *Config) fillDefaults() {
	def := Default()
	if c.DefaultProvider == "" {
		c.DefaultProvider = def.DefaultProvider
	}
	if c.DefaultModel == "" {
		c.DefaultModel = def.DefaultModel
	}
	if c.Local.OllamaURL == "" {
		c.Local.OllamaURL = def.Local.OllamaURL
	}
	if c.Local.ContextWindowTokens <= 0 {
		c.Local.ContextWindowTokens = def.Local.ContextWindowTokens
	}
	if c.Context.MinimumViableTokens <= 0 {
		c.Context.MinimumViableTokens = def.Context.MinimumViableTokens
	}
	if c.Metrics.RequestHistory <= 0 {
		c.Metrics.RequestHistory = def.Metrics.RequestHistory
	}
	if c.Metrics.ErrorHistory <= 0 {
		c.Metrics.ErrorHistory = def.Metrics.ErrorHistory
	}
}

// Validate rejects configurations no component could run with.
func (c *Config) Validate() error {
	switch c.DefaultProvider {
	case "ollama", "openrouter":
	default:
		return fmt.Errorf("invalid default_provider %q (want \"ollama\" or \"openrouter\")", c.DefaultProvider)
	}
	return nil
}

// DatabasePath resolves the session database location.
func (c *Config) DatabasePath() (string, error) {
	if c.Storage.DatabasePath != "" {
		return c.Storage.DatabasePath, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sessions.db"), nil
}
