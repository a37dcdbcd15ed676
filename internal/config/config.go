// Package config loads agent-diva's configuration: a JSON file (parsed
// tolerantly, so comments and trailing commas are fine), merged over
// built-in defaults, then overlaid by two environment mechanisms — a
// fixed set of provider/API-key aliases, and generic AGENT_DIVA__-prefixed
// path overrides. The result is validated before being handed out, and
// a loader can optionally watch the file and push live updates.
package config

import "time"

// Config is the root configuration document.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Gateway  GatewayConfig  `json:"gateway"`
	Auth     AuthConfig     `json:"auth"`
	Session  SessionConfig  `json:"session"`
	Channels ChannelsConfig `json:"channels"`
	LLM      LLMConfig      `json:"llm"`
	Tools    ToolsConfig    `json:"tools"`
	Cron     CronConfig     `json:"cron"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig configures the gateway's listening ports.
type ServerConfig struct {
	Host        string `json:"host"`
	HTTPPort    int    `json:"http_port"`
	MetricsPort int    `json:"metrics_port"`
}

// GatewayConfig configures gateway-level message routing.
type GatewayConfig struct {
	Broadcast BroadcastConfig `json:"broadcast"`
}

// BroadcastConfig configures multi-agent fan-out groups: a peer_id that
// maps to more than one agent_id gets its inbound messages routed to
// every listed agent, combined per Strategy.
type BroadcastConfig struct {
	// Strategy is "parallel" or "sequential". Defaults to "parallel".
	Strategy string              `json:"strategy"`
	Groups   map[string][]string `json:"groups,omitempty"`
}

// AuthConfig configures bearer-token auth for the manager HTTP surface.
type AuthConfig struct {
	JWTSecret   string         `json:"jwt_secret"`
	TokenExpiry time.Duration  `json:"token_expiry"`
	APIKeys     []APIKeyConfig `json:"api_keys,omitempty"`
}

// APIKeyConfig is one static API key accepted alongside JWT bearer auth.
type APIKeyConfig struct {
	Key    string `json:"key"`
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

// SessionConfig configures session storage and the agent loop defaults
// that every channel's sessions share.
type SessionConfig struct {
	DefaultAgentID string         `json:"default_agent_id"`
	Workspace      string         `json:"workspace"`
	DefaultModel   string         `json:"default_model"`
	MaxIterations  int            `json:"max_iterations"`
	// Store selects the session store backend: "journal" (default, local
	// append-only JSONL files) or "postgres".
	Store    string          `json:"store"`
	Postgres *PostgresConfig `json:"postgres,omitempty"`
}

// PostgresConfig mirrors internal/sessions.PostgresConfig's external
// shape for the JSON config surface.
type PostgresConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	Database        string        `json:"database"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `json:"connect_timeout"`
}

// ChannelsConfig configures every known channel adapter. Feishu,
// DingTalk, QQ and Email are modeled only as config schema — their
// adapters always report channels.ErrNotConfigured regardless of these
// values, since no live client is wired for them in this build.
type ChannelsConfig struct {
	CLI      CLIChannelConfig      `json:"cli"`
	Telegram TelegramChannelConfig `json:"telegram"`
	Discord  DiscordChannelConfig  `json:"discord"`
	Slack    SlackChannelConfig    `json:"slack"`
	WhatsApp WhatsAppChannelConfig `json:"whatsapp"`
	Feishu   FeishuChannelConfig   `json:"feishu"`
	DingTalk DingTalkChannelConfig `json:"dingtalk"`
	QQ       QQChannelConfig       `json:"qq"`
	Email    EmailChannelConfig    `json:"email"`
}

type CLIChannelConfig struct {
	Enabled bool   `json:"enabled"`
	ChatID  string `json:"chat_id,omitempty"`
}

type TelegramChannelConfig struct {
	Enabled   bool   `json:"enabled"`
	Token     string `json:"token"`
	RateLimit int    `json:"rate_limit,omitempty"`
	RateBurst int    `json:"rate_burst,omitempty"`
}

type DiscordChannelConfig struct {
	Enabled   bool   `json:"enabled"`
	Token     string `json:"token"`
	RateLimit int    `json:"rate_limit,omitempty"`
	RateBurst int    `json:"rate_burst,omitempty"`
}

type SlackChannelConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	AppToken string `json:"app_token"`
}

type WhatsAppChannelConfig struct {
	Enabled     bool   `json:"enabled"`
	SessionPath string `json:"session_path,omitempty"`
}

type FeishuChannelConfig struct {
	Enabled           bool     `json:"enabled"`
	AppID             string   `json:"app_id"`
	AppSecret         string   `json:"app_secret"`
	EncryptKey        string   `json:"encrypt_key"`
	VerificationToken string   `json:"verification_token"`
	AllowFrom         []string `json:"allow_from,omitempty"`
}

type DingTalkChannelConfig struct {
	Enabled      bool     `json:"enabled"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	RobotCode    string   `json:"robot_code"`
	DMPolicy     string   `json:"dm_policy,omitempty"`
	GroupPolicy  string   `json:"group_policy,omitempty"`
	AllowFrom    []string `json:"allow_from,omitempty"`
}

type QQChannelConfig struct {
	Enabled   bool     `json:"enabled"`
	AppID     string   `json:"app_id"`
	Secret    string   `json:"secret"`
	AllowFrom []string `json:"allow_from,omitempty"`
}

type EmailChannelConfig struct {
	Enabled            bool     `json:"enabled"`
	ConsentGranted     bool     `json:"consent_granted"`
	IMAPHost           string   `json:"imap_host"`
	IMAPPort           int      `json:"imap_port"`
	IMAPUsername       string   `json:"imap_username"`
	IMAPPassword       string   `json:"imap_password"`
	IMAPMailbox        string   `json:"imap_mailbox,omitempty"`
	IMAPUseSSL         bool     `json:"imap_use_ssl"`
	SMTPHost           string   `json:"smtp_host"`
	SMTPPort           int      `json:"smtp_port"`
	SMTPUsername       string   `json:"smtp_username"`
	SMTPPassword       string   `json:"smtp_password"`
	SMTPUseTLS         bool     `json:"smtp_use_tls"`
	FromAddress        string   `json:"from_address"`
	AutoReplyEnabled   bool     `json:"auto_reply_enabled"`
	PollIntervalSecond int      `json:"poll_interval_seconds,omitempty"`
	AllowFrom          []string `json:"allow_from,omitempty"`
}

// LLMConfig configures model providers and name resolution.
type LLMConfig struct {
	DefaultModel string            `json:"default_model"`
	Providers    ProvidersConfig   `json:"providers"`
	Gateways     []GatewayProvider `json:"gateways,omitempty"`
}

// ProvidersConfig holds credentials for each directly-wired vendor SDK.
type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic"`
	OpenAI    ProviderConfig `json:"openai"`
	Gemini    ProviderConfig `json:"gemini"`
	Bedrock   BedrockConfig  `json:"bedrock"`
}

type ProviderConfig struct {
	APIKey       string `json:"api_key"`
	DefaultModel string `json:"default_model,omitempty"`
}

type BedrockConfig struct {
	Region          string `json:"region,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	SessionToken    string `json:"session_token,omitempty"`
	DefaultModel    string `json:"default_model,omitempty"`
}

// GatewayProvider configures one OpenAI-compatible HTTP gateway (a
// self-hosted litellm proxy, OpenRouter, AiHubMix, vLLM, ...).
type GatewayProvider struct {
	Name         string            `json:"name"`
	APIBase      string            `json:"api_base"`
	APIKey       string            `json:"api_key,omitempty"`
	DefaultModel string            `json:"default_model,omitempty"`
	ExtraHeaders map[string]string `json:"extra_headers,omitempty"`
}

// ToolsConfig configures the built-in tool registry and MCP servers.
type ToolsConfig struct {
	ExecTimeout  time.Duration           `json:"exec_timeout,omitempty"`
	WebSearchKey string                  `json:"web_search_api_key,omitempty"`
	MCPServers   map[string]MCPServerCfg `json:"mcp_servers,omitempty"`
}

// MCPServerCfg mirrors internal/mcp.ServerConfig's external JSON shape.
type MCPServerCfg struct {
	Transport string            `json:"transport"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	WorkDir   string            `json:"workdir,omitempty"`
	URL       string            `json:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Timeout   time.Duration     `json:"timeout,omitempty"`
}

// CronConfig configures the cron service's persistence.
type CronConfig struct {
	StorePath     string `json:"store_path,omitempty"`
	ExecStorePath string `json:"exec_store_path,omitempty"`
}

// LoggingConfig configures the process-wide slog handler.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}
