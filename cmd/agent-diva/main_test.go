package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/agent-diva/diva/internal/config"
	"github.com/agent-diva/diva/internal/tools"
	"github.com/agent-diva/diva/pkg/divamodel"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"onboard", "gateway", "agent", "status", "channels", "cron", "models"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestOnboardWritesConfigNonInteractive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent-diva.json")

	cmd := buildRootCmd()
	cmd.SetArgs([]string{"onboard", "--config", path, "--non-interactive"})
	var out bytes.Buffer
	cmd.SetOut(&out)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("onboard: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to exist: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	if cfg.Session.MaxIterations == 0 {
		t.Fatal("expected default config to carry non-zero max iterations")
	}
}

func TestOnboardRefusesToOverwriteWithoutForce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent-diva.json")
	if err := config.Save(path, config.Default()); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	cmd := buildRootCmd()
	cmd.SetArgs([]string{"onboard", "--config", path, "--non-interactive"})
	cmd.SetOut(&bytes.Buffer{})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected onboard to refuse overwriting an existing config")
	}
}

func TestStatusReportsConfiguredChannels(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent-diva.json")
	cfg := config.Default()
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.Token = "t-token"
	if err := config.Save(path, cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	cmd := buildRootCmd()
	cmd.SetArgs([]string{"status", "--config", path})
	var out bytes.Buffer
	cmd.SetOut(&out)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("status: %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte("telegram   enabled")) {
		t.Fatalf("expected status output to report telegram enabled, got: %s", out.String())
	}
	if !bytes.Contains(out.Bytes(), []byte("discord    disabled")) {
		t.Fatalf("expected status output to report discord disabled, got: %s", out.String())
	}
}

func TestCronAddListRemoveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "agent-diva.json")
	cfg := config.Default()
	cfg.Cron.StorePath = filepath.Join(dir, "cron-jobs.json")
	cfg.Cron.ExecStorePath = filepath.Join(dir, "cron-executions.db")
	if err := config.Save(configPath, cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	add := buildRootCmd()
	add.SetArgs([]string{"cron", "add", "--config", configPath, "--name", "digest", "--every-minutes", "60", "--content", "send digest"})
	add.SetOut(&bytes.Buffer{})
	if err := add.Execute(); err != nil {
		t.Fatalf("cron add: %v", err)
	}

	list := buildRootCmd()
	list.SetArgs([]string{"cron", "list", "--config", configPath})
	var listOut bytes.Buffer
	list.SetOut(&listOut)
	if err := list.Execute(); err != nil {
		t.Fatalf("cron list: %v", err)
	}
	if !bytes.Contains(listOut.Bytes(), []byte("digest")) {
		t.Fatalf("expected listed job to include name, got: %s", listOut.String())
	}

	svc, closeFn, err := openCronService(cfg, nil)
	if err != nil {
		t.Fatalf("openCronService: %v", err)
	}
	jobs := svc.ListJobs(true)
	closeFn()
	if len(jobs) != 1 {
		t.Fatalf("expected exactly one job, got %d", len(jobs))
	}

	remove := buildRootCmd()
	remove.SetArgs([]string{"cron", "remove", jobs[0].ID, "--config", configPath})
	remove.SetOut(&bytes.Buffer{})
	if err := remove.Execute(); err != nil {
		t.Fatalf("cron remove: %v", err)
	}

	svc2, closeFn2, err := openCronService(cfg, nil)
	if err != nil {
		t.Fatalf("openCronService: %v", err)
	}
	defer closeFn2()
	if len(svc2.ListJobs(true)) != 0 {
		t.Fatal("expected no jobs left after removal")
	}
}

func TestBuildProviderRequiresCredentials(t *testing.T) {
	cfg := config.Default()
	if _, err := buildProvider(cfg); err == nil {
		t.Fatal("expected an error when no provider credentials are configured")
	}

	cfg.LLM.Providers.Anthropic.APIKey = "sk-ant-test"
	provider, err := buildProvider(cfg)
	if err != nil {
		t.Fatalf("buildProvider: %v", err)
	}
	if provider.Name() != "anthropic" {
		t.Fatalf("provider.Name() = %q, want anthropic", provider.Name())
	}
}

func TestCronChatIDPrefersPayloadTo(t *testing.T) {
	job := divamodel.CronJob{ID: "job-1", Payload: divamodel.CronPayload{To: "chat-42"}}
	if got := cronChatID(job); got != "chat-42" {
		t.Fatalf("cronChatID = %q, want chat-42", got)
	}
}

func TestCronChatIDFallsBackToJobID(t *testing.T) {
	job := divamodel.CronJob{ID: "job-2"}
	if got := cronChatID(job); got != "cron:job-2" {
		t.Fatalf("cronChatID = %q, want cron:job-2", got)
	}
}

func TestConnectMCPServersNoopWithoutConfig(t *testing.T) {
	cfg := config.Default()
	reg := tools.NewRegistry()
	if err := connectMCPServers(context.Background(), cfg, reg, slog.Default()); err != nil {
		t.Fatalf("connectMCPServers: %v", err)
	}
	if len(reg.Names()) != 0 {
		t.Fatalf("expected no tools registered, got %d", len(reg.Names()))
	}
}

func TestConnectMCPServersSkipsUnreachableServer(t *testing.T) {
	cfg := config.Default()
	cfg.Tools.MCPServers = map[string]config.MCPServerCfg{
		"broken": {Transport: "stdio", Command: "/nonexistent/agent-diva-mcp-test-binary"},
	}
	reg := tools.NewRegistry()
	if err := connectMCPServers(context.Background(), cfg, reg, slog.Default()); err != nil {
		t.Fatalf("connectMCPServers should not fail gateway startup on a bad server: %v", err)
	}
	if len(reg.Names()) != 0 {
		t.Fatalf("expected no tools registered for an unreachable server, got %d", len(reg.Names()))
	}
}
