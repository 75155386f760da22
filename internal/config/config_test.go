// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("missing file should not be an error, got %v", err)
	}
	if cfg.DefaultProvider != "ollama" || cfg.DefaultModel != "qwen2.5-coder:7b" {
		t.Errorf("defaults = %q / %q", cfg.DefaultProvider, cfg.DefaultModel)
	}
	if cfg.Local.OllamaURL != "http://127.0.0.1:11434" {
		t.Errorf("OllamaURL = %q", cfg.Local.OllamaURL)
	}
	if cfg.Local.ContextWindowTokens != 8192 {
		t.Errorf("ContextWindowTokens = %d", cfg.Local.ContextWindowTokens)
	}
	if cfg.Context.MinimumViableTokens != 50 {
		t.Errorf("MinimumViableTokens = %d", cfg.Context.MinimumViableTokens)
	}
	if cfg.Metrics.RequestHistory != 50 || cfg.Metrics.ErrorHistory != 25 {
		t.Errorf("metrics history = %d / %d", cfg.Metrics.RequestHistory, cfg.Metrics.ErrorHistory)
	}
}

func TestLoadSparseFileLayersOverDefaults(t *testing.T) {
	path := writeConfig(t, `
default_provider = "openrouter"

[cloud]
openrouter_key = "sk-or-test"

[context]
minimum_viable_tokens = 80
`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.DefaultProvider != "openrouter" {
		t.Errorf("DefaultProvider = %q", cfg.DefaultProvider)
	}
	if cfg.Cloud.OpenRouterKey != "sk-or-test" {
		t.Errorf("OpenRouterKey = %q", cfg.Cloud.OpenRouterKey)
	}
	if cfg.Context.MinimumViableTokens != 80 {
		t.Errorf("MinimumViableTokens = %d", cfg.Context.MinimumViableTokens)
	}
	// Untouched sections keep their defaults.
	if cfg.DefaultModel != "qwen2.5-coder:7b" {
		t.Errorf("DefaultModel = %q", cfg.DefaultModel)
	}
	if cfg.Local.OllamaURL != "http://127.0.0.1:11434" {
		t.Errorf("OllamaURL = %q", cfg.Local.OllamaURL)
	}
}

func TestEnvKeyOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[cloud]
openrouter_key = "from-file"
`)
	t.Setenv("OPENROUTER_API_KEY", "from-env")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Cloud.OpenRouterKey != "from-env" {
		t.Errorf("OpenRouterKey = %q, want the environment value", cfg.Cloud.OpenRouterKey)
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := writeConfig(t, `default_provider = "anthropic-direct"`)

	if _, err := LoadFrom(path); err == nil {
		t.Error("unknown provider should fail validation")
	}
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := writeConfig(t, "default_provider = [broken")

	if _, err := LoadFrom(path); err == nil {
		t.Error("malformed TOML should fail")
	}
}

func TestDatabasePath(t *testing.T) {
	cfg := Default()
	cfg.Storage.DatabasePath = "/var/lib/pd/sessions.db"
	got, err := cfg.DatabasePath()
	if err != nil {
		t.Fatal(err)
	}
	if got != "/var/lib/pd/sessions.db" {
		t.Errorf("DatabasePath = %q", got)
	}

	cfg.Storage.DatabasePath = ""
	got, err = cfg.DatabasePath()
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(got) != "sessions.db" || filepath.Base(filepath.Dir(got)) != ".promptdeck" {
		t.Errorf("default DatabasePath = %q, want ~/.promptdeck/sessions.db", got)
	}
}
