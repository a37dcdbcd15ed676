package config

import "time"

// Default returns a Config populated with the same built-in defaults
// applyDefaults would fill in on top of an empty file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyGatewayDefaults(&cfg.Gateway)
	applyAuthDefaults(&cfg.Auth)
	applySessionDefaults(&cfg.Session)
	applyChannelsDefaults(&cfg.Channels)
	applyLLMDefaults(&cfg.LLM)
	applyToolsDefaults(&cfg.Tools)
	applyCronDefaults(&cfg.Cron)
	applyLoggingDefaults(&cfg.Logging)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8090
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applyGatewayDefaults(cfg *GatewayConfig) {
	if cfg.Broadcast.Strategy == "" {
		cfg.Broadcast.Strategy = "parallel"
	}
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.TokenExpiry == 0 {
		cfg.TokenExpiry = 24 * time.Hour
	}
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.DefaultAgentID == "" {
		cfg.DefaultAgentID = "default"
	}
	if cfg.Workspace == "" {
		cfg.Workspace = "./workspace"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic/claude-sonnet-4-5"
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 25
	}
	if cfg.Store == "" {
		cfg.Store = "journal"
	}
}

func applyChannelsDefaults(cfg *ChannelsConfig) {
	if cfg.CLI.ChatID == "" {
		cfg.CLI.ChatID = "local"
	}
	if cfg.Telegram.RateLimit == 0 {
		cfg.Telegram.RateLimit = 25
	}
	if cfg.Telegram.RateBurst == 0 {
		cfg.Telegram.RateBurst = 30
	}
	if cfg.Discord.RateLimit == 0 {
		cfg.Discord.RateLimit = 25
	}
	if cfg.Discord.RateBurst == 0 {
		cfg.Discord.RateBurst = 30
	}
	if cfg.WhatsApp.SessionPath == "" {
		cfg.WhatsApp.SessionPath = "~/.agent-diva/whatsapp/session.db"
	}
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic/claude-sonnet-4-5"
	}
}

func applyToolsDefaults(cfg *ToolsConfig) {
	if cfg.ExecTimeout == 0 {
		cfg.ExecTimeout = 60 * time.Second
	}
}

func applyCronDefaults(cfg *CronConfig) {
	if cfg.StorePath == "" {
		cfg.StorePath = "./workspace/cron.json"
	}
	if cfg.ExecStorePath == "" {
		cfg.ExecStorePath = "./workspace/cron-executions.db"
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}
