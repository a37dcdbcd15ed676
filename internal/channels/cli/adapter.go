// Package cli implements the channels.Adapter contract over the
// process's own stdin/stdout, the one channel that is always available
// regardless of what external services are configured.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/agent-diva/diva/internal/channels"
	"github.com/agent-diva/diva/pkg/divamodel"
)

// Config configures the CLI adapter.
type Config struct {
	In     io.Reader
	Out    io.Writer
	ChatID string
	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.ChatID == "" {
		c.ChatID = "local"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter implements channels.Adapter by reading lines from In and
// writing replies to Out.
type Adapter struct {
	config   Config
	out      io.Writer
	messages chan *divamodel.InboundMessage
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger
	health   *channels.BaseHealthAdapter
}

// NewAdapter validates config and builds an unconnected adapter.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	a := &Adapter{
		config:   config,
		out:      config.Out,
		messages: make(chan *divamodel.InboundMessage, 10),
		logger:   config.Logger.With("adapter", "cli"),
	}
	a.health = channels.NewBaseHealthAdapter("cli", a.logger)
	return a, nil
}

func (a *Adapter) Name() string { return "cli" }

// Start begins reading lines from Config.In in the background. It is a
// no-op (always healthy, no reader loop) when In is nil, which lets the
// CLI adapter act as a pure reply sink for `agent --message`-style
// one-shot invocations.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.health.SetStatus(true, "")
	a.health.RecordConnectionOpened()

	if a.config.In == nil {
		return nil
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		scanner := bufio.NewScanner(a.config.In)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			a.handleLine(ctx, line)
		}
	}()
	return nil
}

func (a *Adapter) handleLine(ctx context.Context, line string) {
	start := time.Now()
	msg := &divamodel.InboundMessage{
		Channel:   "cli",
		SenderID:  "local",
		ChatID:    a.config.ChatID,
		Content:   line,
		Timestamp: time.Now(),
	}

	a.health.RecordMessageReceived()
	a.health.RecordReceiveLatency(time.Since(start))

	select {
	case a.messages <- msg:
		a.health.UpdateLastPing()
	case <-ctx.Done():
	default:
		a.logger.Warn("messages channel full, dropping line")
		a.health.RecordMessageFailed()
	}
}

// Stop stops the read loop, if one was started.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.health.SetStatus(false, "")
	a.health.RecordConnectionClosed()
	return nil
}

// Send writes a message to Out, or discards it if Out is nil.
func (a *Adapter) Send(ctx context.Context, msg *divamodel.OutboundMessage) error {
	if a.out == nil {
		return nil
	}
	start := time.Now()
	if _, err := fmt.Fprintln(a.out, msg.Content); err != nil {
		a.health.RecordMessageFailed()
		a.health.RecordError(channels.ErrCodeInternal)
		return channels.ErrInternal("failed to write to stdout", err)
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
