// Package discord implements the channels.Adapter contract over
// Discord's gateway using bwmarrin/discordgo.
package discord

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/agent-diva/diva/internal/channels"
	"github.com/agent-diva/diva/pkg/divamodel"
)

// session is the subset of *discordgo.Session the adapter depends on,
// kept as an interface so tests can substitute a fake.
type session interface {
	Open() error
	Close() error
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	AddHandler(handler interface{}) func()
}

// Config configures the Discord adapter.
type Config struct {
	Token     string
	RateLimit float64
	RateBurst int
	Logger    *slog.Logger
}

func (c *Config) validate() error {
	if c.Token == "" {
		return channels.ErrConfig("token is required", nil)
	}
	if c.RateLimit == 0 {
		c.RateLimit = 5
	}
	if c.RateBurst == 0 {
		c.RateBurst = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter implements channels.Adapter for Discord.
type Adapter struct {
	config      Config
	session     session
	messages    chan *divamodel.InboundMessage
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	rateLimiter *channels.RateLimiter
	logger      *slog.Logger
	health      *channels.BaseHealthAdapter
}

// NewAdapter validates config and builds an unconnected adapter; Start
// opens the gateway session.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	a := &Adapter{
		config:      config,
		messages:    make(chan *divamodel.InboundMessage, 100),
		rateLimiter: channels.NewRateLimiter(config.RateLimit, config.RateBurst),
		logger:      config.Logger.With("adapter", "discord"),
	}
	a.health = channels.NewBaseHealthAdapter("discord", a.logger)
	return a, nil
}

func (a *Adapter) Name() string { return "discord" }

// Start opens the Discord gateway session and registers the message handler.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	dg, err := discordgo.New("Bot " + a.config.Token)
	if err != nil {
		a.health.SetStatus(false, err.Error())
		a.health.RecordError(channels.ErrCodeAuthentication)
		return channels.ErrAuthentication("failed to create session", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
	a.session = dg

	dg.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		a.handleMessage(ctx, m)
	})

	if err := a.session.Open(); err != nil {
		a.health.SetStatus(false, err.Error())
		a.health.RecordError(channels.ErrCodeConnection)
		return channels.ErrConnection("failed to open gateway session", err)
	}

	a.health.SetStatus(true, "")
	a.health.RecordConnectionOpened()
	a.logger.Info("discord adapter started")
	return nil
}

func (a *Adapter) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	start := time.Now()

	msg := &divamodel.InboundMessage{
		Channel:   "discord",
		SenderID:  m.Author.ID,
		ChatID:    m.ChannelID,
		Content:   m.Content,
		Timestamp: time.Now(),
		Metadata: map[string]any{
			"message_id": m.ID,
			"guild_id":   m.GuildID,
			"username":   m.Author.Username,
		},
	}
	for _, att := range m.Attachments {
		msg.Media = append(msg.Media, divamodel.Media{
			ID: att.ID, Type: "document", URL: att.URL, Filename: att.Filename,
			MimeType: att.ContentType, Size: int64(att.Size),
		})
	}

	a.health.RecordMessageReceived()
	a.health.RecordReceiveLatency(time.Since(start))

	select {
	case a.messages <- msg:
		a.health.UpdateLastPing()
	case <-ctx.Done():
	default:
		a.logger.Warn("messages channel full, dropping message", "channel_id", m.ChannelID)
		a.health.RecordMessageFailed()
	}
}

// Stop closes the gateway session and waits for in-flight handlers.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.session == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- a.session.Close() }()

	select {
	case err := <-done:
		a.health.SetStatus(false, "")
		a.health.RecordConnectionClosed()
		return err
	case <-ctx.Done():
		a.health.RecordError(channels.ErrCodeTimeout)
		return channels.ErrTimeout("stop timeout", ctx.Err())
	}
}

// Send posts a message to the Discord channel named by msg.ChatID.
func (a *Adapter) Send(ctx context.Context, msg *divamodel.OutboundMessage) error {
	start := time.Now()
	if err := a.rateLimiter.Wait(ctx); err != nil {
		a.health.RecordError(channels.ErrCodeTimeout)
		return channels.ErrTimeout("rate limit wait canceled", err)
	}
	if a.session == nil {
		a.health.RecordMessageFailed()
		return channels.ErrInternal("discord session not initialized", nil)
	}
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return nil
	}
	if _, err := a.session.ChannelMessageSend(msg.ChatID, content); err != nil {
		a.health.RecordMessageFailed()
		a.health.RecordError(channels.ErrCodeInternal)
		return channels.ErrInternal("failed to send message", err)
	}
	a.health.RecordMessageSent()
	a.health.RecordSendLatency(time.Since(start))
	return nil
}

func (a *Adapter) Messages() <-chan *divamodel.InboundMessage { return a.messages }
func (a *Adapter) Status() channels.Status                    { return a.health.Status() }

func (a *Adapter) HealthCheck(ctx context.Context) channels.HealthStatus {
	return a.health.HealthCheck(ctx)
}

func (a *Adapter) Metrics() channels.MetricsSnapshot { return a.health.Metrics() }

var (
	_ channels.Adapter   = (*Adapter)(nil)
	_ channels.Lifecycle = (*Adapter)(nil)
	_ channels.Outbound  = (*Adapter)(nil)
	_ channels.Inbound   = (*Adapter)(nil)
	_ channels.Health    = (*Adapter)(nil)
)
