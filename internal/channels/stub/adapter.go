// Package stub provides config-schema-only channel adapters for
// external collaborators this rewrite does not wire a live client for
// (Feishu/Lark, DingTalk, QQ, Email). Each type parses and validates
// its own config shape but Start and Send always fail with
// channels.ErrNotConfigured, so the registry can still report these
// channels as known, configured-or-not surfaces.
package stub

import (
	"context"
	"log/slog"
	"time"

	"github.com/agent-diva/diva/internal/channels"
	"github.com/agent-diva/diva/pkg/divamodel"
)

// FeishuConfig mirrors the Feishu/Lark channel's external config shape.
type FeishuConfig struct {
	Enabled           bool     `json:"enabled"`
	AppID             string   `json:"app_id"`
	AppSecret         string   `json:"app_secret"`
	EncryptKey        string   `json:"encrypt_key"`
	VerificationToken string   `json:"verification_token"`
	AllowFrom         []string `json:"allow_from,omitempty"`
}

// DingTalkConfig mirrors the DingTalk channel's external config shape.
type DingTalkConfig struct {
	Enabled      bool     `json:"enabled"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	RobotCode    string   `json:"robot_code"`
	DMPolicy     string   `json:"dm_policy"`
	GroupPolicy  string   `json:"group_policy"`
	AllowFrom    []string `json:"allow_from,omitempty"`
}

// QQConfig mirrors the QQ channel's external config shape.
type QQConfig struct {
	Enabled   bool     `json:"enabled"`
	AppID     string   `json:"app_id"`
	Secret    string   `json:"secret"`
	AllowFrom []string `json:"allow_from,omitempty"`
}

// EmailConfig mirrors the Email channel's external config shape (IMAP
// poll + SMTP reply).
type EmailConfig struct {
	Enabled            bool     `json:"enabled"`
	ConsentGranted     bool     `json:"consent_granted"`
	IMAPHost           string   `json:"imap_host"`
	IMAPPort           int      `json:"imap_port"`
	IMAPUsername       string   `json:"imap_username"`
	IMAPPassword       string   `json:"imap_password"`
	IMAPMailbox        string   `json:"imap_mailbox"`
	IMAPUseSSL         bool     `json:"imap_use_ssl"`
	SMTPHost           string   `json:"smtp_host"`
	SMTPPort           int      `json:"smtp_port"`
	SMTPUsername       string   `json:"smtp_username"`
	SMTPPassword       string   `json:"smtp_password"`
	SMTPUseTLS         bool     `json:"smtp_use_tls"`
	FromAddress        string   `json:"from_address"`
	AutoReplyEnabled   bool     `json:"auto_reply_enabled"`
	PollIntervalSecond int      `json:"poll_interval_seconds"`
	AllowFrom          []string `json:"allow_from,omitempty"`
}

// Adapter is a channels.Adapter that reports itself as registered but
// never connects: Start and Send both return channels.ErrNotConfigured.
type Adapter struct {
	name   string
	health *channels.BaseHealthAdapter
}

func newAdapter(name string, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("adapter", name)
	a := &Adapter{name: name, health: channels.NewBaseHealthAdapter(name, logger)}
	a.health.SetStatus(false, "not configured")
	return a
}

// NewFeishuAdapter builds the Feishu stub. cfg is retained only for
// config-schema validation elsewhere; the stub never dials out.
func NewFeishuAdapter(cfg FeishuConfig, logger *slog.Logger) *Adapter {
	return newAdapter("feishu", logger)
}

// NewDingTalkAdapter builds the DingTalk stub.
func NewDingTalkAdapter(cfg DingTalkConfig, logger *slog.Logger) *Adapter {
	return newAdapter("dingtalk", logger)
}

// NewQQAdapter builds the QQ stub.
func NewQQAdapter(cfg QQConfig, logger *slog.Logger) *Adapter {
	return newAdapter("qq", logger)
}

// NewEmailAdapter builds the Email stub.
func NewEmailAdapter(cfg EmailConfig, logger *slog.Logger) *Adapter {
	return newAdapter("email", logger)
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Start(ctx context.Context) error {
	a.health.RecordError(channels.ErrCodeNotConfigured)
	return channels.ErrNotConfigured(a.name+" is not wired to a live client in this build", nil)
}

func (a *Adapter) Stop(ctx context.Context) error { return nil }

func (a *Adapter) Send(ctx context.Context, msg *divamodel.OutboundMessage) error {
	a.health.RecordError(channels.ErrCodeNotConfigured)
	return channels.ErrNotConfigured(a.name+" is not wired to a live client in this build", nil)
}

func (a *Adapter) Status() channels.Status { return a.health.Status() }

func (a *Adapter) HealthCheck(ctx context.Context) channels.HealthStatus {
	return channels.HealthStatus{Healthy: false, Message: "not configured", LastCheck: time.Now()}
}

func (a *Adapter) Metrics() channels.MetricsSnapshot { return a.health.Metrics() }

var (
	_ channels.Adapter   = (*Adapter)(nil)
	_ channels.Lifecycle = (*Adapter)(nil)
	_ channels.Outbound  = (*Adapter)(nil)
	_ channels.Health    = (*Adapter)(nil)
)
