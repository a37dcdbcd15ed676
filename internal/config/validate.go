package config

import "strings"

// ValidationError reports every problem found during validation at once,
// rather than failing on the first one.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validate(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		issues = append(issues, "server.http_port must be between 1 and 65535")
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		issues = append(issues, "server.metrics_port must be between 1 and 65535")
	}
	if !validBroadcastStrategy(cfg.Gateway.Broadcast.Strategy) {
		issues = append(issues, `gateway.broadcast.strategy must be "parallel" or "sequential"`)
	}

	if cfg.Auth.JWTSecret != "" && len(cfg.Auth.JWTSecret) < 16 {
		issues = append(issues, "auth.jwt_secret must be at least 16 characters")
	}
	seenKeys := map[string]bool{}
	for _, k := range cfg.Auth.APIKeys {
		if k.Key == "" {
			issues = append(issues, "auth.api_keys entries must have a non-empty key")
			continue
		}
		if seenKeys[k.Key] {
			issues = append(issues, "auth.api_keys contains a duplicate key")
		}
		seenKeys[k.Key] = true
	}

	if !validSessionStore(cfg.Session.Store) {
		issues = append(issues, `session.store must be "journal" or "postgres"`)
	}
	if cfg.Session.Store == "postgres" && cfg.Session.Postgres == nil {
		issues = append(issues, "session.postgres is required when session.store is \"postgres\"")
	}
	if cfg.Session.MaxIterations <= 0 {
		issues = append(issues, "session.max_iterations must be > 0")
	}

	if cfg.Channels.Telegram.Enabled && strings.TrimSpace(cfg.Channels.Telegram.Token) == "" {
		issues = append(issues, "channels.telegram.token is required when telegram is enabled")
	}
	if cfg.Channels.Discord.Enabled && strings.TrimSpace(cfg.Channels.Discord.Token) == "" {
		issues = append(issues, "channels.discord.token is required when discord is enabled")
	}
	if cfg.Channels.Slack.Enabled && (cfg.Channels.Slack.BotToken == "" || cfg.Channels.Slack.AppToken == "") {
		issues = append(issues, "channels.slack.bot_token and app_token are required when slack is enabled")
	}
	if cfg.Channels.Email.Enabled && !cfg.Channels.Email.ConsentGranted {
		issues = append(issues, "channels.email.consent_granted must be true when email is enabled")
	}

	if strings.TrimSpace(cfg.LLM.DefaultModel) == "" {
		issues = append(issues, "llm.default_model is required")
	}
	gatewayNames := map[string]bool{}
	for _, g := range cfg.LLM.Gateways {
		if g.Name == "" {
			issues = append(issues, "llm.gateways entries must have a name")
			continue
		}
		if gatewayNames[g.Name] {
			issues = append(issues, "llm.gateways contains a duplicate name "+g.Name)
		}
		gatewayNames[g.Name] = true
		if g.APIBase == "" {
			issues = append(issues, "llm.gateways["+g.Name+"].api_base is required")
		}
	}

	for id, server := range cfg.Tools.MCPServers {
		if err := validateMCPServer(id, server); err != "" {
			issues = append(issues, err)
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func validateMCPServer(id string, s MCPServerCfg) string {
	switch s.Transport {
	case "stdio":
		if s.Command == "" {
			return "tools.mcp_servers[" + id + "]: command is required for stdio transport"
		}
	case "http":
		if !strings.HasPrefix(s.URL, "http://") && !strings.HasPrefix(s.URL, "https://") {
			return "tools.mcp_servers[" + id + "]: url must start with http:// or https://"
		}
	default:
		return "tools.mcp_servers[" + id + "]: transport must be \"stdio\" or \"http\""
	}
	return ""
}

func validBroadcastStrategy(s string) bool {
	return s == "parallel" || s == "sequential"
}

func validSessionStore(s string) bool {
	return s == "journal" || s == "postgres"
}
