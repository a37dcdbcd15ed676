package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agent-diva.json")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPPort != 8090 {
		t.Fatalf("HTTPPort = %d, want default 8090", cfg.Server.HTTPPort)
	}
	if cfg.Session.Store != "journal" {
		t.Fatalf("Session.Store = %q, want journal", cfg.Session.Store)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `{
  "server": {"http_port": 9999},
  "llm": {"default_model": "openai/gpt-4o"}
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPPort != 9999 {
		t.Fatalf("HTTPPort = %d, want 9999", cfg.Server.HTTPPort)
	}
	if cfg.Server.MetricsPort != 9090 {
		t.Fatalf("MetricsPort = %d, want default 9090 to survive the merge", cfg.Server.MetricsPort)
	}
	if cfg.LLM.DefaultModel != "openai/gpt-4o" {
		t.Fatalf("DefaultModel = %q", cfg.LLM.DefaultModel)
	}
}

func TestLoadAcceptsJSON5Comments(t *testing.T) {
	path := writeConfig(t, `{
  // trailing commas and comments are fine
  "server": {"http_port": 9999,},
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPPort != 9999 {
		t.Fatalf("HTTPPort = %d, want 9999", cfg.Server.HTTPPort)
	}
}

func TestLoadValidatesBroadcastStrategy(t *testing.T) {
	path := writeConfig(t, `{"gateway": {"broadcast": {"strategy": "nope"}}}`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "broadcast.strategy") {
		t.Fatalf("expected broadcast.strategy error, got %v", err)
	}
}

func TestLoadValidatesTelegramRequiresToken(t *testing.T) {
	path := writeConfig(t, `{"channels": {"telegram": {"enabled": true}}}`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "telegram.token") {
		t.Fatalf("expected telegram.token error, got %v", err)
	}
}

func TestLoadValidatesMCPServerTransport(t *testing.T) {
	path := writeConfig(t, `{"tools": {"mcp_servers": {"fs": {"transport": "carrier-pigeon"}}}}`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "transport must be") {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent-diva.json")

	cfg := Default()
	cfg.LLM.DefaultModel = "anthropic/claude-opus-4-5"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.LLM.DefaultModel != "anthropic/claude-opus-4-5" {
		t.Fatalf("DefaultModel = %q", loaded.LLM.DefaultModel)
	}
}

func TestJSONSchemaProducesValidJSON(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	if len(data) == 0 {
		t.Fatal("JSONSchema() returned empty output")
	}
}
