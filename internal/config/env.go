package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

// pathPrefix is the prefix recognized by applyPathOverrides: each
// AGENT_DIVA__A__B__C env var sets config path a.b.c (segments
// lowercased, double underscore delimited).
const pathPrefix = "AGENT_DIVA__"

// aliasOverrides maps a conventional external env var name to the
// config path it sets, mirroring widely-used provider key names so a
// deployment doesn't have to know this project's own env var scheme
// just to set an API key it already has lying around.
var aliasOverrides = []struct {
	env  string
	path string
}{
	{"ANTHROPIC_API_KEY", "llm.providers.anthropic.api_key"},
	{"OPENAI_API_KEY", "llm.providers.openai.api_key"},
	{"GEMINI_API_KEY", "llm.providers.gemini.api_key"},
	{"BRAVE_API_KEY", "tools.web_search_api_key"},
	{"TELEGRAM_BOT_TOKEN", "channels.telegram.token"},
	{"DISCORD_BOT_TOKEN", "channels.discord.token"},
	{"SLACK_BOT_TOKEN", "channels.slack.bot_token"},
	{"SLACK_APP_TOKEN", "channels.slack.app_token"},
	{"JWT_SECRET", "auth.jwt_secret"},
}

// applyEnvOverrides layers environment overrides onto a raw decoded
// config map, in precedence order: file value (already in raw) is
// overridden by alias env vars, which are in turn overridden by
// AGENT_DIVA__-prefixed path env vars (the most specific mechanism wins).
func applyEnvOverrides(raw map[string]any) {
	applyAliasOverrides(raw)
	applyPathOverrides(raw)
}

func applyAliasOverrides(raw map[string]any) {
	for _, a := range aliasOverrides {
		if v, ok := os.LookupEnv(a.env); ok && v != "" {
			setPathValue(raw, strings.Split(a.path, "."), v)
		}
	}
}

func applyPathOverrides(raw map[string]any) {
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, pathPrefix) {
			continue
		}
		suffix := key[len(pathPrefix):]
		if suffix == "" {
			continue
		}
		var segments []string
		for _, s := range strings.Split(suffix, "__") {
			if s == "" {
				continue
			}
			segments = append(segments, strings.ToLower(s))
		}
		if len(segments) == 0 {
			continue
		}
		setPathValue(raw, segments, parseEnvValue(value))
	}
}

// parseEnvValue turns a raw env var string into the most specific JSON
// value it could represent: a JSON literal/object/array if it parses as
// one, else a bool, else a number, else the literal string.
func parseEnvValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	if strings.EqualFold(raw, "true") {
		return true
	}
	if strings.EqualFold(raw, "false") {
		return false
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

// setPathValue sets raw[path[0]][path[1]]...[path[n]] = value, creating
// intermediate maps as needed.
func setPathValue(raw map[string]any, path []string, value any) {
	if len(path) == 0 {
		return
	}
	cur := raw
	for _, segment := range path[:len(path)-1] {
		next, ok := cur[segment].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[segment] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = value
}
