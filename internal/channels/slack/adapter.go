// Package slack implements the channels.Adapter contract over Slack's
// Socket Mode connection using slack-go/slack.
package slack

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/agent-diva/diva/internal/channels"
	"github.com/agent-diva/diva/pkg/divamodel"
)

// Config configures the Slack adapter. BotToken is the xoxb- token
// used for Web API calls; AppToken is the xapp- token used to open
// the Socket Mode connection.
type Config struct {
	BotToken string
	AppToken string
	Logger   *slog.Logger
}

func (c *Config) validate() error {
	if c.BotToken == "" || c.AppToken == "" {
		return channels.ErrConfig("bot_token and app_token are both required", nil)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter implements channels.Adapter for Slack Socket Mode.
type Adapter struct {
	config    Config
	client    *slack.Client
	socket    *socketmode.Client
	messages  chan *divamodel.InboundMessage
	cancel    context.CancelFunc
	botUserID string
	logger    *slog.Logger
	health    *channels.BaseHealthAdapter
}

// NewAdapter validates config and builds an unconnected adapter.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	client := slack.New(config.BotToken, slack.OptionAppLevelToken(config.AppToken))
	a := &Adapter{
		config:   config,
		client:   client,
		socket:   socketmode.New(client),
		messages: make(chan *divamodel.InboundMessage, 100),
		logger:   config.Logger.With("adapter", "slack"),
	}
	a.health = channels.NewBaseHealthAdapter("slack", a.logger)
	return a, nil
}

func (a *Adapter) Name() string { return "slack" }

// Start authenticates, opens the Socket Mode connection, and begins
// relaying events into Messages().
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	auth, err := a.client.AuthTestContext(ctx)
	if err != nil {
		a.health.SetStatus(false, err.Error())
		a.health.RecordError(channels.ErrCodeAuthentication)
		return channels.ErrAuthentication("slack auth test failed", err)
	}
	a.botUserID = auth.UserID

	go a.handleEvents(ctx)
	go func() {
		if err := a.socket.Run(); err != nil && ctx.Err() == nil {
			a.logger.Error("socket mode run exited", "error", err)
			a.health.SetStatus(false, err.Error())
			a.health.RecordError(channels.ErrCodeConnection)
		}
	}()

	a.health.SetStatus(true, "")
	a.health.RecordConnectionOpened()
	a.logger.Info("slack adapter started", "bot_user_id", a.botUserID)
	return nil
}

func (a *Adapter) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-a.socket.Events:
			if !ok {
				return
			}
			a.health.UpdateLastPing()
			switch event.Type {
			case socketmode.EventTypeConnected:
				a.health.SetStatus(true, "")
			case socketmode.EventTypeConnectionError:
				a.health.SetStatus(false, "connection error")
			case socketmode.EventTypeEventsAPI:
				a.handleEventsAPI(event)
			case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
				if event.Request != nil {
					a.socket.Ack(*event.Request)
				}
			}
		}
	}
}

func (a *Adapter) handleEventsAPI(event socketmode.Event) {
	apiEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	if event.Request != nil {
		a.socket.Ack(*event.Request)
	}
	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}

	switch ev := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		a.routeMessage(ev.User, ev.Text, ev.Channel, ev.TimeStamp, ev.ThreadTimeStamp)
	case *slackevents.MessageEvent:
		if ev.BotID != "" || (ev.SubType != "" && ev.SubType != "file_share") {
			return
		}
		a.routeMessage(ev.User, ev.Text, ev.Channel, ev.TimeStamp, ev.ThreadTimeStamp)
	}
}

func (a *Adapter) routeMessage(userID, text, channelID, ts, threadTS string) {
	start := time.Now()
	isDM := strings.HasPrefix(channelID, "D")
	isMention := strings.Contains(text, "<@"+a.botUserID+">")
	if !isDM && !isMention && threadTS == "" {
		return
	}

	content := strings.TrimSpace(strings.ReplaceAll(text, "<@"+a.botUserID+">", ""))
	msg := &divamodel.InboundMessage{
		Channel:   "slack",
		SenderID:  userID,
		ChatID:    channelID,
		Content:   content,
		Timestamp: time.Now(),
		Metadata: map[string]any{
			"message_id":      ts,
			"slack_channel":   channelID,
			"slack_thread_ts": threadTS,
		},
	}

	a.health.RecordMessageReceived()
	a.health.RecordReceiveLatency(time.Since(start))

	select {
	case a.messages <- msg:
		a.health.UpdateLastPing()
	default:
		a.logger.Warn("messages channel full, dropping message", "channel", channelID)
		a.health.RecordMessageFailed()
	}
}

// Stop cancels the Socket Mode run loop.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.health.SetStatus(false, "")
	a.health.RecordConnectionClosed()
	return nil
}

// Send posts a message to the Slack channel/thread named by msg.ChatID
// and msg.Metadata["slack_thread_ts"].
func (a *Adapter) Send(ctx context.Context, msg *divamodel.OutboundMessage) error {
	start := time.Now()
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return nil
	}

	options := []slack.MsgOption{slack.MsgOptionText(content, false)}
	if threadTS, ok := msg.Metadata["slack_thread_ts"].(string); ok && threadTS != "" {
		options = append(options, slack.MsgOptionTS(threadTS))
	}

	if _, _, err := a.client.PostMessageContext(ctx, msg.ChatID, options...); err != nil {
		a.health.RecordMessageFailed()
		a.health.RecordError(channels.ErrCodeInternal)
		return channels.ErrInternal("failed to post slack message", err)
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
