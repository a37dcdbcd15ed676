// Package whatsapp implements the channels.Adapter contract over
// go.mau.fi/whatsmeow, WhatsApp's unofficial multi-device client library.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/skip2/go-qrcode"

	_ "modernc.org/sqlite"

	"github.com/agent-diva/diva/internal/channels"
	"github.com/agent-diva/diva/pkg/divamodel"
)

// Config configures the WhatsApp adapter.
type Config struct {
	SessionPath string
	Logger      *slog.Logger
}

func (c *Config) validate() error {
	if c.SessionPath == "" {
		c.SessionPath = "~/.agent-diva/whatsapp/session.db"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter implements channels.Adapter for WhatsApp.
type Adapter struct {
	config Config
	client *whatsmeow.Client
	store  *sqlstore.Container

	qrChan    chan string
	connected bool
	connMu    sync.RWMutex

	cancel context.CancelFunc
	wg     sync.WaitGroup

	messages chan *divamodel.InboundMessage
	logger   *slog.Logger
	health   *channels.BaseHealthAdapter
}

// NewAdapter validates config and opens the local session store;
// Start connects to WhatsApp and, if no session exists, surfaces a
// pairing QR code over QRChannel.
func NewAdapter(ctx context.Context, config Config) (*Adapter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	path := expandPath(config.SessionPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, channels.ErrConfig("failed to create session directory", err)
	}
	container, err := sqlstore.New(ctx, "sqlite", fmt.Sprintf("file:%s?_foreign_keys=on", path), waLog.Noop)
	if err != nil {
		return nil, channels.ErrConnection("failed to open whatsapp session store", err)
	}

	a := &Adapter{
		config:   config,
		store:    container,
		qrChan:   make(chan string, 1),
		messages: make(chan *divamodel.InboundMessage, 100),
		logger:   config.Logger.With("adapter", "whatsapp"),
	}
	a.health = channels.NewBaseHealthAdapter("whatsapp", a.logger)
	return a, nil
}

func (a *Adapter) Name() string { return "whatsapp" }

// Start connects the whatsmeow client and, on first run, emits a QR
// pairing code on QRChannel; once paired, the session store lets
// subsequent Start calls reconnect without a new QR.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	device, err := a.store.GetFirstDevice(ctx)
	if err != nil {
		a.health.SetStatus(false, err.Error())
		a.health.RecordError(channels.ErrCodeConnection)
		return channels.ErrConnection("failed to get whatsapp device", err)
	}
	a.client = whatsmeow.NewClient(device, waLog.Noop)
	a.client.AddEventHandler(a.handleEvent)

	if a.client.Store.ID == nil {
		qrChan, err := a.client.GetQRChannel(ctx)
		if err != nil {
			a.health.RecordError(channels.ErrCodeAuthentication)
			return channels.ErrAuthentication("failed to get qr channel", err)
		}
		if err := a.client.Connect(); err != nil {
			a.health.RecordError(channels.ErrCodeConnection)
			return channels.ErrConnection("failed to connect", err)
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case evt, ok := <-qrChan:
					if !ok {
						return
					}
					if evt.Event == "code" {
						png, err := qrcode.Encode(evt.Code, qrcode.Medium, 256)
						if err != nil {
							a.logger.Warn("failed to render qr code", "error", err)
						} else {
							a.logger.Info("scan the qr code to pair whatsapp", "png_bytes", len(png))
						}
						select {
						case a.qrChan <- evt.Code:
						default:
						}
					}
				}
			}
		}()
	} else if err := a.client.Connect(); err != nil {
		a.health.RecordError(channels.ErrCodeConnection)
		return channels.ErrConnection("failed to connect", err)
	}

	a.logger.Info("whatsapp adapter started")
	return nil
}

// QRChannel returns pairing codes emitted while no session is linked.
func (a *Adapter) QRChannel() <-chan string { return a.qrChan }

// Stop disconnects the whatsmeow client and closes the session store.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	if a.client != nil {
		a.client.Disconnect()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close whatsapp store", "error", err)
		}
	}
	a.health.SetStatus(false, "")
	a.health.RecordConnectionClosed()
	return nil
}

// Send sends a text message to the WhatsApp JID named by msg.ChatID.
func (a *Adapter) Send(ctx context.Context, msg *divamodel.OutboundMessage) error {
	if !a.isConnected() {
		return channels.ErrUnavailable("not connected to whatsapp", nil)
	}
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return nil
	}
	jid, err := types.ParseJID(msg.ChatID)
	if err != nil {
		return channels.ErrInvalidInput(fmt.Sprintf("invalid whatsapp jid %q", msg.ChatID), err)
	}

	start := time.Now()
	waMsg := &waE2E.Message{Conversation: proto.String(content)}
	if _, err := a.client.SendMessage(ctx, jid, waMsg); err != nil {
		a.health.RecordMessageFailed()
		a.health.RecordError(channels.ErrCodeConnection)
		return channels.ErrConnection("failed to send whatsapp message", err)
	}
	a.health.RecordMessageSent()
	a.health.RecordSendLatency(time.Since(start))
	return nil
}

func (a *Adapter) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Connected:
		a.setConnected(true)
		a.health.SetStatus(true, "")
		a.logger.Info("connected to whatsapp")
	case *events.Disconnected:
		a.setConnected(false)
		a.health.SetStatus(false, "disconnected")
	case *events.LoggedOut:
		a.setConnected(false)
		a.health.SetStatus(false, "logged out")
		a.logger.Warn("logged out from whatsapp", "reason", v.Reason)
	case *events.Message:
		a.handleMessage(v)
	}
}

func (a *Adapter) handleMessage(evt *events.Message) {
	if evt.Info.Chat.Server == "broadcast" {
		return
	}
	start := time.Now()

	var content string
	switch {
	case evt.Message.GetConversation() != "":
		content = evt.Message.GetConversation()
	case evt.Message.GetExtendedTextMessage() != nil:
		content = evt.Message.GetExtendedTextMessage().GetText()
	case evt.Message.GetImageMessage() != nil:
		content = evt.Message.GetImageMessage().GetCaption()
	case evt.Message.GetDocumentMessage() != nil:
		content = evt.Message.GetDocumentMessage().GetCaption()
	}
	if content == "" {
		return
	}

	msg := &divamodel.InboundMessage{
		Channel:   "whatsapp",
		SenderID:  evt.Info.Sender.String(),
		ChatID:    evt.Info.Chat.String(),
		Content:   content,
		Timestamp: evt.Info.Timestamp,
		Metadata: map[string]any{
			"message_id": evt.Info.ID,
			"is_group":   evt.Info.IsGroup,
		},
	}

	a.health.RecordMessageReceived()
	a.health.RecordReceiveLatency(time.Since(start))

	select {
	case a.messages <- msg:
		a.health.UpdateLastPing()
	default:
		a.logger.Warn("messages channel full, dropping message", "chat_id", msg.ChatID)
		a.health.RecordMessageFailed()
	}
}

func (a *Adapter) setConnected(v bool) {
	a.connMu.Lock()
	a.connected = v
	a.connMu.Unlock()
}

func (a *Adapter) isConnected() bool {
	a.connMu.RLock()
	defer a.connMu.RUnlock()
	return a.connected
}

func (a *Adapter) Messages() <-chan *divamodel.InboundMessage { return a.messages }
func (a *Adapter) Status() channels.Status                    { return a.health.Status() }

func (a *Adapter) HealthCheck(ctx context.Context) channels.HealthStatus {
	if a.client == nil || !a.client.IsConnected() {
		return channels.HealthStatus{Healthy: false, Message: "not connected", LastCheck: time.Now()}
	}
	return channels.HealthStatus{Healthy: true, Message: "connected", LastCheck: time.Now()}
}

func (a *Adapter) Metrics() channels.MetricsSnapshot { return a.health.Metrics() }

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

var (
	_ channels.Adapter   = (*Adapter)(nil)
	_ channels.Lifecycle = (*Adapter)(nil)
	_ channels.Outbound  = (*Adapter)(nil)
	_ channels.Inbound   = (*Adapter)(nil)
	_ channels.Health    = (*Adapter)(nil)
)
