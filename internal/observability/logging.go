package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures the manager's logging. Level is one of
// "debug"/"info"/"warn"/"error"; Format is "json" or "text". A zero-value
// LogConfig logs info-and-above JSON to stdout.
type LogConfig struct {
	Level          string
	Format         string
	Output         io.Writer
	AddSource      bool
	RedactPatterns []string
}

// ContextKey namespaces the well-known context values NewLogger's handler
// and WithContext read for request correlation.
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	SessionIDKey ContextKey = "session_id"
	ChannelIDKey ContextKey = "channel"
)

// DefaultRedactPatterns matches the secret shapes most likely to end up in
// a log line by accident: provider API keys, bearer tokens, JWTs, and
// anything logged under a key like "password" or "secret".
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["']?([^\s"']{8,})["']?`,
	`sk-ant-[a-zA-Z0-9_-]{95,}`,
	`sk-[a-zA-Z0-9]{48,}`,
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

var sensitiveAttrKeys = map[string]bool{
	"password": true, "passwd": true, "secret": true, "token": true,
	"api_key": true, "apikey": true, "private_key": true, "privatekey": true,
	"auth": true, "authorization": true,
}

// NewLogger builds a *slog.Logger whose handler redacts secret-shaped
// values out of both the message and structured attributes before they
// reach the sink. Returning a plain *slog.Logger keeps it a drop-in
// replacement anywhere the codebase already takes one.
func NewLogger(cfg LogConfig) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}
	var base slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		base = slog.NewTextHandler(cfg.Output, opts)
	} else {
		base = slog.NewJSONHandler(cfg.Output, opts)
	}

	patterns := make([]*regexp.Regexp, 0, len(DefaultRedactPatterns)+len(cfg.RedactPatterns))
	for _, p := range append(append([]string{}, DefaultRedactPatterns...), cfg.RedactPatterns...) {
		if re, err := regexp.Compile(p); err == nil {
			patterns = append(patterns, re)
		}
	}

	return slog.New(&redactingHandler{next: base, patterns: patterns})
}

// WithContext attaches request/session/channel correlation IDs found on ctx
// to logger, so every subsequent call through the returned logger carries
// them without the caller repeating "request_id", requestID at each site.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	var attrs []any
	if v, ok := ctx.Value(RequestIDKey).(string); ok && v != "" {
		attrs = append(attrs, "request_id", v)
	}
	if v, ok := ctx.Value(SessionIDKey).(string); ok && v != "" {
		attrs = append(attrs, "session_id", v)
	}
	if v, ok := ctx.Value(ChannelIDKey).(string); ok && v != "" {
		attrs = append(attrs, "channel", v)
	}
	if len(attrs) == 0 {
		return logger
	}
	return logger.With(attrs...)
}

// redactingHandler wraps an slog.Handler, rewriting the record's message
// and every attribute value through the configured redaction patterns, and
// blanking any attribute whose key looks like a secret outright regardless
// of its value shape.
type redactingHandler struct {
	next     slog.Handler
	patterns []*regexp.Regexp
	groups   []string
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, record slog.Record) error {
	out := slog.NewRecord(record.Time, record.Level, h.redactString(record.Message), record.PC)
	record.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = h.redactAttr(a)
	}
	return &redactingHandler{next: h.next.WithAttrs(redacted), patterns: h.patterns, groups: h.groups}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{next: h.next.WithGroup(name), patterns: h.patterns, groups: append(h.groups, name)}
}

func (h *redactingHandler) redactAttr(a slog.Attr) slog.Attr {
	key := strings.ToLower(strings.ReplaceAll(a.Key, "-", "_"))
	if sensitiveAttrKeys[key] {
		return slog.String(a.Key, "[REDACTED]")
	}
	return slog.Attr{Key: a.Key, Value: h.redactValue(a.Value)}
}

func (h *redactingHandler) redactValue(v slog.Value) slog.Value {
	switch v.Kind() {
	case slog.KindString:
		return slog.StringValue(h.redactString(v.String()))
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.StringValue(h.redactString(err.Error()))
		}
		return v
	case slog.KindGroup:
		attrs := v.Group()
		redacted := make([]slog.Attr, len(attrs))
		for i, a := range attrs {
			redacted[i] = h.redactAttr(a)
		}
		return slog.GroupValue(redacted...)
	default:
		return v
	}
}

func (h *redactingHandler) redactString(s string) string {
	for _, re := range h.patterns {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}
