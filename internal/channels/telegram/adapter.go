// Package telegram implements the channels.Adapter contract over the
// Telegram Bot API using go-telegram/bot in long-polling mode.
package telegram

import (
	"context"
	"log/slog"
	"strings"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/agent-diva/diva/internal/channels"
	"github.com/agent-diva/diva/pkg/divamodel"
)

// Config configures the Telegram adapter.
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
		c.RateLimit = 25
	}
	if c.RateBurst == 0 {
		c.RateBurst = 30
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter implements channels.Adapter for Telegram long polling.
type Adapter struct {
	config      Config
	bot         BotClient
	messages    chan *divamodel.InboundMessage
	cancel      context.CancelFunc
	rateLimiter *channels.RateLimiter
	logger      *slog.Logger
	health      *channels.BaseHealthAdapter
}

// NewAdapter validates config and builds an unconnected adapter; Start
// constructs the bot client and begins long polling.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	a := &Adapter{
		config:      config,
		messages:    make(chan *divamodel.InboundMessage, 100),
		rateLimiter: channels.NewRateLimiter(config.RateLimit, config.RateBurst),
		logger:      config.Logger.With("adapter", "telegram"),
	}
	a.health = channels.NewBaseHealthAdapter("telegram", a.logger)
	return a, nil
}

func (a *Adapter) Name() string { return "telegram" }

// Start constructs the bot client, verifies credentials with GetMe, and
// begins long polling in the background.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.bot == nil {
		b, err := tgbot.New(a.config.Token)
		if err != nil {
			a.health.SetStatus(false, err.Error())
			a.health.RecordError(channels.ErrCodeAuthentication)
			return channels.ErrAuthentication("failed to create bot client", err)
		}
		a.bot = newRealBotClient(b)
	}

	if _, err := a.bot.GetMe(ctx); err != nil {
		a.health.SetStatus(false, err.Error())
		a.health.RecordError(channels.ErrCodeAuthentication)
		return channels.ErrAuthentication("telegram getMe failed", err)
	}

	a.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "", tgbot.MatchTypePrefix, func(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
		a.handleMessage(ctx, update)
	})

	go a.bot.Start(ctx)

	a.health.SetStatus(true, "")
	a.health.RecordConnectionOpened()
	a.logger.Info("telegram adapter started")
	return nil
}

func (a *Adapter) handleMessage(ctx context.Context, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	start := time.Now()
	m := update.Message

	msg := &divamodel.InboundMessage{
		Channel:   "telegram",
		SenderID:  itoa(m.From.ID),
		ChatID:    itoa(m.Chat.ID),
		Content:   m.Text,
		Timestamp: time.Unix(int64(m.Date), 0),
		Metadata: map[string]any{
			"message_id": itoa(int64(m.ID)),
			"username":   m.From.Username,
		},
	}

	a.health.RecordMessageReceived()
	a.health.RecordReceiveLatency(time.Since(start))

	select {
	case a.messages <- msg:
		a.health.UpdateLastPing()
	case <-ctx.Done():
	default:
		a.logger.Warn("messages channel full, dropping message", "chat_id", m.Chat.ID)
		a.health.RecordMessageFailed()
	}
}

// Stop cancels the long polling loop.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.health.SetStatus(false, "")
	a.health.RecordConnectionClosed()
	return nil
}

// Send posts a text message to the Telegram chat named by msg.ChatID.
func (a *Adapter) Send(ctx context.Context, msg *divamodel.OutboundMessage) error {
	start := time.Now()
	if err := a.rateLimiter.Wait(ctx); err != nil {
		a.health.RecordError(channels.ErrCodeTimeout)
		return channels.ErrTimeout("rate limit wait canceled", err)
	}
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return nil
	}
	chatID, err := atoi(msg.ChatID)
	if err != nil {
		a.health.RecordMessageFailed()
		return channels.ErrConfig("invalid telegram chat id", err)
	}

	params := &tgbot.SendMessageParams{ChatID: chatID, Text: content}
	if replyTo, ok := msg.Metadata["message_id"].(string); ok && replyTo != "" {
		if id, err := atoi(replyTo); err == nil {
			params.ReplyParameters = &models.ReplyParameters{MessageID: int(id)}
		}
	}

	if _, err := a.bot.SendMessage(ctx, params); err != nil {
		a.health.RecordMessageFailed()
		a.health.RecordError(channels.ErrCodeInternal)
		return channels.ErrInternal("failed to send telegram message", err)
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
