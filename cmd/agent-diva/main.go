// Package main provides the CLI entry point for agent-diva.
//
// agent-diva is a multi-channel AI agent gateway: it connects messaging
// platforms (Telegram, Discord, Slack, WhatsApp, or a local CLI session)
// to an LLM provider with tool execution and scheduled jobs.
//
// # Basic Usage
//
// Start the gateway:
//
//	agent-diva gateway --config agent-diva.json
//
// Send a single message without starting the gateway:
//
//	agent-diva agent --message "summarize today's notes"
//
// Check configured channels and providers:
//
//	agent-diva status
//
// # Environment Variables
//
// Configuration is loaded from a JSON file, then overlaid by a fixed set
// of aliases and AGENT_DIVA__-prefixed path overrides, e.g.:
//
//   - ANTHROPIC_API_KEY / AGENT_DIVA__LLM__PROVIDERS__ANTHROPIC__API_KEY
//   - OPENAI_API_KEY / AGENT_DIVA__LLM__PROVIDERS__OPENAI__API_KEY
//   - TELEGRAM_BOT_TOKEN / AGENT_DIVA__CHANNELS__TELEGRAM__TOKEN
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/agent-diva/diva/internal/agent"
	"github.com/agent-diva/diva/internal/bus"
	"github.com/agent-diva/diva/internal/channels"
	"github.com/agent-diva/diva/internal/channels/cli"
	"github.com/agent-diva/diva/internal/channels/discord"
	"github.com/agent-diva/diva/internal/channels/slack"
	"github.com/agent-diva/diva/internal/channels/stub"
	"github.com/agent-diva/diva/internal/channels/telegram"
	"github.com/agent-diva/diva/internal/channels/whatsapp"
	"github.com/agent-diva/diva/internal/config"
	"github.com/agent-diva/diva/internal/cron"
	"github.com/agent-diva/diva/internal/gateway"
	"github.com/agent-diva/diva/internal/llm"
	"github.com/agent-diva/diva/internal/mcp"
	"github.com/agent-diva/diva/internal/observability"
	"github.com/agent-diva/diva/internal/sessions"
	"github.com/agent-diva/diva/internal/subagent"
	"github.com/agent-diva/diva/internal/tools"
	"github.com/agent-diva/diva/pkg/divamodel"
)

// Build information, populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "agent-diva.json"

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main so tests can exercise it without process exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agent-diva",
		Short: "agent-diva - multi-channel AI agent gateway",
		Long: `agent-diva connects messaging platforms to an LLM provider with
tool execution and scheduled jobs.

Supported channels: CLI, Telegram, Discord, Slack, WhatsApp
Supported LLM providers: Anthropic, OpenAI, Gemini, Bedrock, any
OpenAI-compatible HTTP gateway`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildOnboardCmd(),
		buildGatewayCmd(),
		buildAgentCmd(),
		buildStatusCmd(),
		buildChannelsCmd(),
		buildCronCmd(),
		buildModelsCmd(),
	)
	return rootCmd
}

func resolveConfigPath(path string) string {
	if path == "" {
		return defaultConfigPath
	}
	return path
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:          level.String(),
		Format:         "json",
		Output:         os.Stderr,
		RedactPatterns: observability.DefaultRedactPatterns,
	})
	slog.SetDefault(logger)
	return logger
}

// buildOnboardCmd writes a default configuration file, ready for the
// operator to fill in provider API keys and channel tokens. When run
// against a terminal it also prompts for an Anthropic API key so a
// first-time operator can get a working config without hand-editing
// JSON.
func buildOnboardCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Write a starter configuration file",
		Long: `Write a default agent-diva configuration file to get started.

Refuses to overwrite an existing file unless --force is set. When run
interactively, prompts for an Anthropic API key (input hidden) so the
gateway has a usable provider right away.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			force, _ := cmd.Flags().GetBool("force")
			nonInteractive, _ := cmd.Flags().GetBool("non-interactive")
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
			}

			cfg := config.Default()
			if !nonInteractive && term.IsTerminal(int(os.Stdin.Fd())) {
				out := cmd.OutOrStdout()
				fmt.Fprint(out, "Anthropic API key (leave blank to skip): ")
				key, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(out)
				if err != nil {
					return fmt.Errorf("read api key: %w", err)
				}
				cfg.LLM.Providers.Anthropic.APIKey = string(key)
			}

			if err := config.Save(configPath, cfg); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote configuration to %s\n", configPath)
			fmt.Fprintln(cmd.OutOrStdout(), "Edit it to add remaining API keys and channel tokens, then run `agent-diva gateway`.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to write the configuration file")
	cmd.Flags().Bool("force", false, "Overwrite an existing configuration file")
	cmd.Flags().Bool("non-interactive", false, "Skip the API key prompt even when run against a terminal")
	return cmd
}

// buildGatewayCmd wires every component together and serves the HTTP
// gateway until a shutdown signal arrives.
func buildGatewayCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Start the agent-diva gateway",
		Long: `Start the agent-diva gateway with all configured channels,
LLM providers, tools, and the cron scheduler.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runGateway(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runGateway(ctx context.Context, configPath string, debug bool) error {
	log := newLogger(debug)
	log.Info("starting agent-diva gateway", "version", version, "commit", commit, "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	metrics := observability.NewMetrics()
	tracer, tracerShutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "agent-diva",
		ServiceVersion: version,
		Environment:    envOrDefault("AGENT_DIVA_ENV", "development"),
		Endpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	})
	defer tracerShutdown(context.Background())
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		log.Info("tracing configured", "endpoint", endpoint)
	}
	_ = tracer

	messageBus := bus.New(bus.Config{}, log)

	provider, err := buildProvider(cfg)
	if err != nil {
		return fmt.Errorf("build llm provider: %w", err)
	}
	provider = llm.Instrument(provider, metrics)

	toolsReg := buildToolsRegistry(cfg, log)
	toolsReg.SetMetrics(metrics)
	if webFetch, ok := toolsReg.Get("web_fetch"); ok {
		if closer, ok := webFetch.(interface{ Close() error }); ok {
			defer closer.Close()
		}
	}

	if err := connectMCPServers(ctx, cfg, toolsReg, log); err != nil {
		return fmt.Errorf("connect mcp servers: %w", err)
	}

	store, err := buildSessionStore(cfg)
	if err != nil {
		return fmt.Errorf("build session store: %w", err)
	}

	subMgr := subagent.NewManager(messageBus, provider, cfg.Session.Workspace, cfg.Session.DefaultModel, toolsReg, log)

	loop := agent.New(messageBus, provider, cfg.Session.Workspace, cfg.Session.DefaultModel, cfg.Session.MaxIterations, toolsReg, store, subMgr, log)

	execStorePath := cfg.Cron.ExecStorePath
	if execStorePath == "" {
		execStorePath = "cron-executions.db"
	}
	execStore, err := cron.NewSQLiteExecutionStore(execStorePath)
	if err != nil {
		return fmt.Errorf("open cron execution store: %w", err)
	}
	defer execStore.Close()

	cronStorePath := cfg.Cron.StorePath
	if cronStorePath == "" {
		cronStorePath = "cron-jobs.json"
	}
	cronRunner := cron.RunnerFunc(func(ctx context.Context, job divamodel.CronJob) (string, error) {
		chatID := cronChatID(job)
		msg := divamodel.InboundMessage{
			Channel:   "cron",
			SenderID:  "cron",
			ChatID:    chatID,
			Content:   job.Payload.Content,
			Timestamp: time.Now(),
		}
		out, err := loop.ProcessInboundMessage(ctx, msg, nil)
		if err != nil {
			return "", err
		}
		if out == nil {
			return "", nil
		}
		return out.Content, nil
	})
	cronSvc := cron.NewService(cronStorePath, execStore, cronRunner, log)
	cronSvc.SetMetrics(metrics)
	if err := cronSvc.Start(ctx); err != nil {
		return fmt.Errorf("start cron service: %w", err)
	}
	defer cronSvc.Stop()

	chRegistry, err := buildChannelRegistry(cfg, log)
	if err != nil {
		return fmt.Errorf("build channel registry: %w", err)
	}

	broadcast := gateway.NewBroadcastManager(cfg.Gateway.Broadcast, map[string]*gateway.AgentBus{
		cfg.Session.DefaultAgentID: {AgentID: cfg.Session.DefaultAgentID, Bus: messageBus},
	}, log)

	watcher, err := config.NewWatcher(configPath, log, func(reloaded *config.Config) {
		log.Info("configuration reloaded from disk", "path", configPath)
	})
	if err != nil {
		return fmt.Errorf("build config watcher: %w", err)
	}

	server := gateway.NewServer(messageBus, chRegistry, store, broadcast, watcher, log)
	server.SetMetrics(metrics)

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := watcher.Start(runCtx); err != nil {
		log.Error("failed to start config watcher", "error", err)
	}
	defer watcher.Stop()

	if err := chRegistry.StartAll(runCtx); err != nil {
		log.Error("one or more channel adapters failed to start", "error", err)
	}

	pumpChannelMessages(runCtx, chRegistry, messageBus, log)

	go func() {
		if err := loop.Run(runCtx); err != nil {
			log.Error("agent loop stopped with error", "error", err)
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	if err := server.Start(runCtx, addr); err != nil {
		return fmt.Errorf("start gateway server: %w", err)
	}

	log.Info("agent-diva gateway started", "http_addr", addr)

	<-runCtx.Done()
	log.Info("shutdown signal received, stopping gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("error stopping gateway server", "error", err)
	}
	if err := chRegistry.StopAll(shutdownCtx); err != nil {
		log.Error("error stopping channel adapters", "error", err)
	}
	messageBus.Stop()

	log.Info("agent-diva gateway stopped")
	return nil
}

func cronChatID(job divamodel.CronJob) string {
	if job.Payload.To != "" {
		return job.Payload.To
	}
	return "cron:" + job.ID
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// buildProvider resolves the configured default LLM provider into a
// concrete llm.Provider. The first configured of the Anthropic, OpenAI
// and Gemini API keys wins; with none of them set, the first entry of
// llm.gateways is built as an OpenAI-compatible HTTP provider. Bedrock is
// not built here.
func buildProvider(cfg *config.Config) (llm.Provider, error) {
	switch {
	case cfg.LLM.Providers.Anthropic.APIKey != "":
		return llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:       cfg.LLM.Providers.Anthropic.APIKey,
			DefaultModel: firstNonEmpty(cfg.LLM.Providers.Anthropic.DefaultModel, cfg.LLM.DefaultModel),
		})
	case cfg.LLM.Providers.OpenAI.APIKey != "":
		return llm.NewOpenAIProvider(cfg.LLM.Providers.OpenAI.APIKey, firstNonEmpty(cfg.LLM.Providers.OpenAI.DefaultModel, cfg.LLM.DefaultModel))
	case cfg.LLM.Providers.Gemini.APIKey != "":
		return llm.NewGeminiProvider(context.Background(), llm.GeminiConfig{
			APIKey:       cfg.LLM.Providers.Gemini.APIKey,
			DefaultModel: firstNonEmpty(cfg.LLM.Providers.Gemini.DefaultModel, cfg.LLM.DefaultModel),
		})
	case len(cfg.LLM.Gateways) > 0:
		gw := cfg.LLM.Gateways[0]
		return llm.NewHTTPProvider(llm.HTTPProviderConfig{
			Name:         gw.Name,
			APIBase:      gw.APIBase,
			APIKey:       gw.APIKey,
			DefaultModel: firstNonEmpty(gw.DefaultModel, cfg.LLM.DefaultModel),
			ExtraHeaders: gw.ExtraHeaders,
		}), nil
	default:
		return nil, fmt.Errorf("no llm provider configured: set llm.providers.anthropic.api_key, llm.providers.openai.api_key, llm.providers.gemini.api_key, or llm.gateways[0]")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// pumpChannelMessages wires the channel registry to the bus: every
// adapter's inbound messages are fanned into messageBus.PublishInbound,
// and every adapter implementing channels.Outbound gets a registered
// outbound subscription pumped back into its Send method. Without this
// the agent loop never sees a message from telegram/discord/slack/
// whatsapp/cli, and its replies have nowhere to go.
func pumpChannelMessages(ctx context.Context, reg *channels.Registry, messageBus *bus.Bus, log *slog.Logger) {
	go func() {
		for msg := range reg.AggregateMessages(ctx) {
			if err := messageBus.PublishInbound(ctx, *msg); err != nil {
				log.Error("failed to publish inbound message", "channel", msg.Channel, "error", err)
			}
		}
	}()

	for _, name := range reg.Names() {
		adapter, ok := reg.GetOutbound(name)
		if !ok {
			continue
		}
		outCh, unregister := messageBus.RegisterOutbound(name, 0)
		go func(channelName string, adapter channels.Outbound, outCh <-chan divamodel.OutboundMessage, unregister func()) {
			defer unregister()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-outCh:
					if !ok {
						return
					}
					if err := adapter.Send(ctx, &msg); err != nil {
						log.Error("failed to deliver outbound message", "channel", channelName, "error", err)
					}
				}
			}
		}(name, adapter, outCh, unregister)
	}
}

func buildToolsRegistry(cfg *config.Config, log *slog.Logger) *tools.Registry {
	reg := tools.NewRegistry()
	workspace := cfg.Session.Workspace
	if workspace == "" {
		workspace = "."
	}
	reg.Register(tools.NewReadFileTool(workspace))
	reg.Register(tools.NewWriteFileTool(workspace))
	reg.Register(tools.NewEditFileTool(workspace))
	reg.Register(tools.NewListDirTool(workspace))

	execTimeout := cfg.Tools.ExecTimeout
	if execTimeout == 0 {
		execTimeout = 30 * time.Second
	}
	reg.Register(tools.NewExecTool(workspace, execTimeout))
	reg.Register(tools.NewWebFetchTool())
	if cfg.Tools.WebSearchKey != "" {
		reg.Register(tools.NewWebSearchTool(cfg.Tools.WebSearchKey))
	}
	return reg
}

// connectMCPServers dials every configured MCP server and registers the
// tools it discovers onto reg. A server that fails to connect is logged
// and skipped rather than failing the whole gateway startup, since one
// misconfigured or temporarily-down MCP server shouldn't block every
// other channel and the built-in tools from coming up.
func connectMCPServers(ctx context.Context, cfg *config.Config, reg *tools.Registry, log *slog.Logger) error {
	if len(cfg.Tools.MCPServers) == 0 {
		return nil
	}

	mgr := mcp.NewManager(log)
	for id, serverCfg := range cfg.Tools.MCPServers {
		discovered, err := mgr.Connect(ctx, mcp.ServerConfig{
			ID:        id,
			Transport: mcp.Transport(serverCfg.Transport),
			Command:   serverCfg.Command,
			Args:      serverCfg.Args,
			Env:       serverCfg.Env,
			WorkDir:   serverCfg.WorkDir,
			URL:       serverCfg.URL,
			Headers:   serverCfg.Headers,
			Timeout:   serverCfg.Timeout,
		})
		if err != nil {
			log.Error("mcp server connect failed", "server", id, "error", err)
			continue
		}
		for _, tool := range discovered {
			reg.Register(tool)
		}
		log.Info("mcp server connected", "server", id, "tools", len(discovered))
	}
	return nil
}

func buildSessionStore(cfg *config.Config) (sessions.Store, error) {
	switch cfg.Session.Store {
	case "postgres":
		if cfg.Session.Postgres == nil {
			return nil, fmt.Errorf("session.store is postgres but session.postgres is not configured")
		}
		return sessions.NewPostgresStore(&sessions.PostgresConfig{
			Host:            cfg.Session.Postgres.Host,
			Port:            cfg.Session.Postgres.Port,
			User:            cfg.Session.Postgres.User,
			Password:        cfg.Session.Postgres.Password,
			Database:        cfg.Session.Postgres.Database,
			SSLMode:         cfg.Session.Postgres.SSLMode,
			MaxOpenConns:    cfg.Session.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Session.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Session.Postgres.ConnMaxLifetime,
			ConnectTimeout:  cfg.Session.Postgres.ConnectTimeout,
		})
	default:
		dir := cfg.Session.Workspace
		if dir == "" {
			dir = "."
		}
		return sessions.NewJournalStore(dir), nil
	}
}

// buildChannelRegistry constructs every enabled adapter. Feishu,
// DingTalk, QQ, and Email are always registered as NotConfigured stubs
// regardless of their config values, since no live client backs them.
func buildChannelRegistry(cfg *config.Config, log *slog.Logger) (*channels.Registry, error) {
	reg := channels.NewRegistry()

	reg.Register(mustCLI(cli.NewAdapter(cli.Config{
		In:     os.Stdin,
		Out:    os.Stdout,
		ChatID: cfg.Channels.CLI.ChatID,
		Logger: log,
	})))

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(telegram.Config{
			Token:     cfg.Channels.Telegram.Token,
			RateLimit: float64(cfg.Channels.Telegram.RateLimit),
			RateBurst: cfg.Channels.Telegram.RateBurst,
			Logger:    log,
		})
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		reg.Register(adapter)
	}

	if cfg.Channels.Discord.Enabled {
		adapter, err := discord.NewAdapter(discord.Config{
			Token:     cfg.Channels.Discord.Token,
			RateLimit: float64(cfg.Channels.Discord.RateLimit),
			RateBurst: cfg.Channels.Discord.RateBurst,
			Logger:    log,
		})
		if err != nil {
			return nil, fmt.Errorf("discord: %w", err)
		}
		reg.Register(adapter)
	}

	if cfg.Channels.Slack.Enabled {
		adapter, err := slack.NewAdapter(slack.Config{
			BotToken: cfg.Channels.Slack.BotToken,
			AppToken: cfg.Channels.Slack.AppToken,
			Logger:   log,
		})
		if err != nil {
			return nil, fmt.Errorf("slack: %w", err)
		}
		reg.Register(adapter)
	}

	if cfg.Channels.WhatsApp.Enabled {
		adapter, err := whatsapp.NewAdapter(context.Background(), whatsapp.Config{
			SessionPath: cfg.Channels.WhatsApp.SessionPath,
			Logger:      log,
		})
		if err != nil {
			return nil, fmt.Errorf("whatsapp: %w", err)
		}
		reg.Register(adapter)
	}

	reg.Register(stub.NewFeishuAdapter(stub.FeishuConfig{
		Enabled:           cfg.Channels.Feishu.Enabled,
		AppID:             cfg.Channels.Feishu.AppID,
		AppSecret:         cfg.Channels.Feishu.AppSecret,
		EncryptKey:        cfg.Channels.Feishu.EncryptKey,
		VerificationToken: cfg.Channels.Feishu.VerificationToken,
		AllowFrom:         cfg.Channels.Feishu.AllowFrom,
	}, log))
	reg.Register(stub.NewDingTalkAdapter(stub.DingTalkConfig{
		Enabled:      cfg.Channels.DingTalk.Enabled,
		ClientID:     cfg.Channels.DingTalk.ClientID,
		ClientSecret: cfg.Channels.DingTalk.ClientSecret,
		RobotCode:    cfg.Channels.DingTalk.RobotCode,
		DMPolicy:     cfg.Channels.DingTalk.DMPolicy,
		GroupPolicy:  cfg.Channels.DingTalk.GroupPolicy,
		AllowFrom:    cfg.Channels.DingTalk.AllowFrom,
	}, log))
	reg.Register(stub.NewQQAdapter(stub.QQConfig{
		Enabled:   cfg.Channels.QQ.Enabled,
		AppID:     cfg.Channels.QQ.AppID,
		Secret:    cfg.Channels.QQ.Secret,
		AllowFrom: cfg.Channels.QQ.AllowFrom,
	}, log))
	reg.Register(stub.NewEmailAdapter(stub.EmailConfig{
		Enabled:      cfg.Channels.Email.Enabled,
		IMAPHost:     cfg.Channels.Email.IMAPHost,
		IMAPPort:     cfg.Channels.Email.IMAPPort,
		IMAPUsername: cfg.Channels.Email.IMAPUsername,
		IMAPPassword: cfg.Channels.Email.IMAPPassword,
		SMTPHost:     cfg.Channels.Email.SMTPHost,
		SMTPPort:     cfg.Channels.Email.SMTPPort,
		SMTPUsername: cfg.Channels.Email.SMTPUsername,
		SMTPPassword: cfg.Channels.Email.SMTPPassword,
		FromAddress:  cfg.Channels.Email.FromAddress,
		AllowFrom:    cfg.Channels.Email.AllowFrom,
	}, log))

	return reg, nil
}

func mustCLI(a *cli.Adapter, err error) *cli.Adapter {
	if err != nil {
		panic(err)
	}
	return a
}

// buildAgentCmd runs a single message through the agent loop without
// starting the HTTP gateway or any channel adapters, useful for
// scripting and smoke-testing a configuration.
func buildAgentCmd() *cobra.Command {
	var (
		configPath string
		message    string
		chatID     string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Send a single message through the agent loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			if message == "" {
				return fmt.Errorf("--message is required")
			}
			log := newLogger(debug)
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			provider, err := buildProvider(cfg)
			if err != nil {
				return err
			}
			toolsReg := buildToolsRegistry(cfg, log)
			store, err := buildSessionStore(cfg)
			if err != nil {
				return err
			}
			b := bus.New(bus.Config{}, log)
			defer b.Stop()

			loop := agent.New(b, provider, cfg.Session.Workspace, cfg.Session.DefaultModel, cfg.Session.MaxIterations, toolsReg, store, nil, log)

			if chatID == "" {
				chatID = "cli-local"
			}
			out, err := loop.ProcessInboundMessage(cmd.Context(), divamodel.InboundMessage{
				Channel:   "cli",
				SenderID:  "operator",
				ChatID:    chatID,
				Content:   message,
				Timestamp: time.Now(),
			}, nil)
			if err != nil {
				return fmt.Errorf("process message: %w", err)
			}
			if out != nil {
				fmt.Fprintln(cmd.OutOrStdout(), out.Content)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Message content to send")
	cmd.Flags().StringVar(&chatID, "chat-id", "", "Session key to use (default: cli-local)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// buildStatusCmd summarizes a configuration without starting any
// servers or connecting to any provider or channel.
func buildStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration and provider summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "agent-diva status")
			fmt.Fprintln(out, "=================")
			fmt.Fprintf(out, "config:        %s\n", configPath)
			fmt.Fprintf(out, "http addr:     %s:%d\n", cfg.Server.Host, cfg.Server.HTTPPort)
			fmt.Fprintf(out, "default model: %s\n", cfg.LLM.DefaultModel)
			fmt.Fprintf(out, "session store: %s\n", firstNonEmpty(cfg.Session.Store, "journal"))
			fmt.Fprintln(out, "channels:")
			printChannelEnabled(out, "cli", true)
			printChannelEnabled(out, "telegram", cfg.Channels.Telegram.Enabled)
			printChannelEnabled(out, "discord", cfg.Channels.Discord.Enabled)
			printChannelEnabled(out, "slack", cfg.Channels.Slack.Enabled)
			printChannelEnabled(out, "whatsapp", cfg.Channels.WhatsApp.Enabled)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	return cmd
}

func printChannelEnabled(w io.Writer, name string, enabled bool) {
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Fprintf(w, "  - %-10s %s\n", name, state)
}

// buildChannelsCmd groups channel inspection subcommands.
func buildChannelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Inspect configured channels",
	}
	cmd.AddCommand(buildChannelsLoginCmd())
	cmd.AddCommand(buildChannelsStatusCmd())
	return cmd
}

func buildChannelsLoginCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Validate channel credentials are present",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "channel credential check:")
			if cfg.Channels.Telegram.Enabled {
				reportCredential(out, "telegram", cfg.Channels.Telegram.Token != "")
			}
			if cfg.Channels.Discord.Enabled {
				reportCredential(out, "discord", cfg.Channels.Discord.Token != "")
			}
			if cfg.Channels.Slack.Enabled {
				reportCredential(out, "slack", cfg.Channels.Slack.BotToken != "" && cfg.Channels.Slack.AppToken != "")
			}
			if cfg.Channels.WhatsApp.Enabled {
				reportCredential(out, "whatsapp", true)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	return cmd
}

var titleCaser = cases.Title(language.English)

func reportCredential(out io.Writer, name string, ok bool) {
	label := titleCaser.String(name)
	if ok {
		fmt.Fprintf(out, "  - %s: credentials set\n", label)
		return
	}
	fmt.Fprintf(out, "  - %s: missing credentials\n", label)
}

func buildChannelsStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "List channels enabled in the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			printChannelEnabled(out, "cli", true)
			printChannelEnabled(out, "telegram", cfg.Channels.Telegram.Enabled)
			printChannelEnabled(out, "discord", cfg.Channels.Discord.Enabled)
			printChannelEnabled(out, "slack", cfg.Channels.Slack.Enabled)
			printChannelEnabled(out, "whatsapp", cfg.Channels.WhatsApp.Enabled)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	return cmd
}

// buildCronCmd groups operations against the cron job store file
// directly, without starting the gateway.
func buildCronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled jobs",
	}
	cmd.AddCommand(buildCronListCmd())
	cmd.AddCommand(buildCronAddCmd())
	cmd.AddCommand(buildCronRemoveCmd())
	cmd.AddCommand(buildCronEnableCmd())
	return cmd
}

func openCronService(cfg *config.Config, log *slog.Logger) (*cron.Service, func(), error) {
	execPath := firstNonEmpty(cfg.Cron.ExecStorePath, "cron-executions.db")
	execStore, err := cron.NewSQLiteExecutionStore(execPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open execution store: %w", err)
	}
	storePath := firstNonEmpty(cfg.Cron.StorePath, "cron-jobs.json")
	svc := cron.NewService(storePath, execStore, nil, log)
	if err := svc.Start(context.Background()); err != nil {
		execStore.Close()
		return nil, nil, fmt.Errorf("start cron store: %w", err)
	}
	return svc, func() { svc.Stop(); execStore.Close() }, nil
}

func buildCronListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log := newLogger(false)
			svc, closeFn, err := openCronService(cfg, log)
			if err != nil {
				return err
			}
			defer closeFn()

			out := cmd.OutOrStdout()
			for _, job := range svc.ListJobs(true) {
				fmt.Fprintf(out, "%s\t%s\tenabled=%v\tlast_status=%s\n", job.ID, job.Name, job.Enabled, job.State.LastStatus)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	return cmd
}

func buildCronAddCmd() *cobra.Command {
	var (
		configPath  string
		name        string
		everyMin    int
		content     string
		deleteAfter bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a recurring job",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			if name == "" || content == "" {
				return fmt.Errorf("--name and --content are required")
			}
			if everyMin <= 0 {
				return fmt.Errorf("--every-minutes must be positive")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log := newLogger(false)
			svc, closeFn, err := openCronService(cfg, log)
			if err != nil {
				return err
			}
			defer closeFn()

			job := svc.AddJob(name, divamodel.Schedule{
				Kind:    divamodel.ScheduleEvery,
				EveryMs: int64(everyMin) * int64(time.Minute/time.Millisecond),
			}, divamodel.CronPayload{Content: content}, deleteAfter)

			fmt.Fprintf(cmd.OutOrStdout(), "added job %s (%s)\n", job.ID, job.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	cmd.Flags().StringVar(&name, "name", "", "Job name")
	cmd.Flags().IntVar(&everyMin, "every-minutes", 0, "Recurrence interval in minutes")
	cmd.Flags().StringVar(&content, "content", "", "Message content delivered to the agent loop when the job fires")
	cmd.Flags().BoolVar(&deleteAfter, "delete-after-run", false, "Delete the job after it fires once")
	return cmd
}

func buildCronRemoveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Remove a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log := newLogger(false)
			svc, closeFn, err := openCronService(cfg, log)
			if err != nil {
				return err
			}
			defer closeFn()

			if !svc.RemoveJob(args[0]) {
				return fmt.Errorf("no job with id %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed job %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	return cmd
}

func buildCronEnableCmd() *cobra.Command {
	var (
		configPath string
		disable    bool
	)
	cmd := &cobra.Command{
		Use:   "enable <job-id>",
		Short: "Enable or disable a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log := newLogger(false)
			svc, closeFn, err := openCronService(cfg, log)
			if err != nil {
				return err
			}
			defer closeFn()

			job, ok := svc.EnableJob(args[0], !disable)
			if !ok {
				return fmt.Errorf("no job with id %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s enabled=%v\n", job.ID, job.Enabled)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	cmd.Flags().BoolVar(&disable, "disable", false, "Disable the job instead of enabling it")
	return cmd
}

func buildModelsCmd() *cobra.Command {
	var (
		configPath string
		provider   string
	)
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List foundation models available through AWS Bedrock",
		Long: `Queries the Bedrock control plane for the foundation models your AWS
credentials can invoke. Requires cfg.llm.providers.bedrock to carry a
region and, unless using the default AWS credential chain, explicit
access keys.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			var filter []string
			if provider != "" {
				filter = strings.Split(provider, ",")
			}
			models, err := llm.DiscoverBedrockModels(cmd.Context(), cfg.LLM.Providers.Bedrock, filter)
			if err != nil {
				return fmt.Errorf("discover bedrock models: %w", err)
			}
			if len(models) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no models found")
				return nil
			}
			out := cmd.OutOrStdout()
			for _, m := range models {
				fmt.Fprintf(out, "%-45s %-12s streaming=%v in=%v out=%v\n",
					m.ID, m.Provider, m.StreamingSupported, m.InputModalities, m.OutputModalities)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	cmd.Flags().StringVar(&provider, "provider", "", "Comma-separated provider filter (e.g. anthropic,meta)")
	return cmd
}
