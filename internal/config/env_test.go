package config

import (
	"path/filepath"
	"testing"
)

func TestLoadAppliesAliasEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai-from-env")
	t.Setenv("BRAVE_API_KEY", "brave-key")

	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Providers.OpenAI.APIKey != "sk-openai-from-env" {
		t.Fatalf("OpenAI.APIKey = %q", cfg.LLM.Providers.OpenAI.APIKey)
	}
	if cfg.Tools.WebSearchKey != "brave-key" {
		t.Fatalf("WebSearchKey = %q", cfg.Tools.WebSearchKey)
	}
}

func TestLoadAppliesPathEnvOverrides(t *testing.T) {
	t.Setenv("AGENT_DIVA__LLM__DEFAULT_MODEL", "openai/gpt-4o")
	t.Setenv("AGENT_DIVA__SESSION__MAX_ITERATIONS", "42")
	t.Setenv("AGENT_DIVA__CHANNELS__TELEGRAM__ENABLED", "true")
	t.Setenv("AGENT_DIVA__CHANNELS__TELEGRAM__TOKEN", "tg-token")

	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.DefaultModel != "openai/gpt-4o" {
		t.Fatalf("DefaultModel = %q", cfg.LLM.DefaultModel)
	}
	if cfg.Session.MaxIterations != 42 {
		t.Fatalf("MaxIterations = %d", cfg.Session.MaxIterations)
	}
	if !cfg.Channels.Telegram.Enabled || cfg.Channels.Telegram.Token != "tg-token" {
		t.Fatalf("Telegram = %+v", cfg.Channels.Telegram)
	}
}

func TestPathOverrideWinsOverAliasAndFile(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai-alias")
	t.Setenv("AGENT_DIVA__LLM__PROVIDERS__OPENAI__API_KEY", "sk-openai-path")

	path := writeConfig(t, `{"llm": {"providers": {"openai": {"api_key": "sk-openai-file"}}}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Providers.OpenAI.APIKey != "sk-openai-path" {
		t.Fatalf("APIKey = %q, want the path override to win", cfg.LLM.Providers.OpenAI.APIKey)
	}
}

func TestAliasOverrideWinsOverFile(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai-alias")

	path := writeConfig(t, `{"llm": {"providers": {"openai": {"api_key": "sk-openai-file"}}}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Providers.OpenAI.APIKey != "sk-openai-alias" {
		t.Fatalf("APIKey = %q, want the alias override to win", cfg.LLM.Providers.OpenAI.APIKey)
	}
}

func TestParseEnvValue(t *testing.T) {
	cases := []struct {
		raw  string
		want any
	}{
		{"true", true},
		{"FALSE", false},
		{"42", float64(42)},
		{"3.5", 3.5},
		{"hello", "hello"},
		{`{"a":1}`, map[string]any{"a": float64(1)}},
	}
	for _, c := range cases {
		got := parseEnvValue(c.raw)
		switch want := c.want.(type) {
		case map[string]any:
			gotMap, ok := got.(map[string]any)
			if !ok || len(gotMap) != len(want) {
				t.Errorf("parseEnvValue(%q) = %#v, want %#v", c.raw, got, want)
			}
		default:
			if got != c.want {
				t.Errorf("parseEnvValue(%q) = %#v (%T), want %#v (%T)", c.raw, got, got, c.want, c.want)
			}
		}
	}
}
