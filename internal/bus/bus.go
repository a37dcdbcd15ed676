// Package bus implements the in-process message bus that decouples
// channel adapters from the agent loop: a single-consumer inbound FIFO,
// an outbound dispatch table keyed by channel name, and a broadcast
// stream of fine-grained agent lifecycle events.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/agent-diva/diva/pkg/divamodel"
)

var (
	// ErrClosed is returned by any publish/subscribe call made after Stop.
	ErrClosed = errors.New("bus: closed")
	// ErrInboundAlreadyTaken is returned by a second call to
	// TakeInboundReceiver; the inbound queue has exactly one consumer.
	ErrInboundAlreadyTaken = errors.New("bus: inbound receiver already taken")
	// ErrNoOutboundSubscriber is returned by PublishOutbound when no
	// adapter has registered for the message's channel.
	ErrNoOutboundSubscriber = errors.New("bus: no outbound subscriber for channel")
)

// Config sizes the bus's internal buffers.
type Config struct {
	InboundBuffer  int
	OutboundBuffer int
	EventBuffer    int
}

// DefaultConfig returns sane buffer sizes for a single-agent deployment.
func DefaultConfig() Config {
	return Config{
		InboundBuffer:  256,
		OutboundBuffer: 64,
		EventBuffer:    256,
	}
}

// Bus is the in-process message bus. It is safe for concurrent use by
// any number of producers; the inbound side has exactly one consumer.
type Bus struct {
	cfg Config
	log *slog.Logger

	inbound     chan divamodel.InboundMessage
	inboundOnce sync.Once
	inboundTook bool
	inboundMu   sync.Mutex

	outMu  sync.RWMutex
	outSub map[string]chan divamodel.OutboundMessage

	evMu     sync.Mutex
	evSubs   map[int]chan divamodel.AgentEventEnvelope
	evNextID int

	closeOnce sync.Once
	closed    chan struct{}
}

// New builds a Bus ready to accept publishes and subscriptions.
func New(cfg Config, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		cfg:    cfg,
		log:    log,
		inbound: make(chan divamodel.InboundMessage, cfg.InboundBuffer),
		outSub:  make(map[string]chan divamodel.OutboundMessage),
		evSubs:  make(map[int]chan divamodel.AgentEventEnvelope),
		closed:  make(chan struct{}),
	}
}

// PublishInbound enqueues a message from a channel adapter for the agent
// loop to consume. It blocks until buffer space is available, ctx is
// done, or the bus is stopped.
func (b *Bus) PublishInbound(ctx context.Context, msg divamodel.InboundMessage) error {
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}
	select {
	case b.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.closed:
		return ErrClosed
	}
}

// TakeInboundReceiver hands the inbound channel to its single consumer,
// the agent loop. Calling it a second time is a programming error.
func (b *Bus) TakeInboundReceiver() (<-chan divamodel.InboundMessage, error) {
	b.inboundMu.Lock()
	defer b.inboundMu.Unlock()
	if b.inboundTook {
		return nil, ErrInboundAlreadyTaken
	}
	b.inboundTook = true
	return b.inbound, nil
}

// RegisterOutbound subscribes a channel adapter to receive outbound
// messages addressed to channelName. Registering the same name twice
// replaces the previous subscriber (only one adapter instance should own
// a channel name at a time). The returned func unregisters.
func (b *Bus) RegisterOutbound(channelName string, bufSize int) (<-chan divamodel.OutboundMessage, func()) {
	if bufSize <= 0 {
		bufSize = b.cfg.OutboundBuffer
	}
	ch := make(chan divamodel.OutboundMessage, bufSize)

	b.outMu.Lock()
	b.outSub[channelName] = ch
	b.outMu.Unlock()

	unregister := func() {
		b.outMu.Lock()
		if cur, ok := b.outSub[channelName]; ok && cur == ch {
			delete(b.outSub, channelName)
		}
		b.outMu.Unlock()
	}
	return ch, unregister
}

// PublishOutbound routes msg to the adapter registered for msg.Channel.
func (b *Bus) PublishOutbound(ctx context.Context, msg divamodel.OutboundMessage) error {
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}

	b.outMu.RLock()
	ch, ok := b.outSub[msg.Channel]
	b.outMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoOutboundSubscriber, msg.Channel)
	}

	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.closed:
		return ErrClosed
	}
}

// SubscribeEvents registers a new listener on the broadcast event stream
// and returns its receive channel along with an unsubscribe func. A
// subscriber whose buffer is full misses each newly published event
// rather than stalling publishers; PublishEvent logs when this happens.
func (b *Bus) SubscribeEvents(bufSize int) (<-chan divamodel.AgentEventEnvelope, func()) {
	if bufSize <= 0 {
		bufSize = b.cfg.EventBuffer
	}
	ch := make(chan divamodel.AgentEventEnvelope, bufSize)

	b.evMu.Lock()
	id := b.evNextID
	b.evNextID++
	b.evSubs[id] = ch
	b.evMu.Unlock()

	unsubscribe := func() {
		b.evMu.Lock()
		delete(b.evSubs, id)
		b.evMu.Unlock()
	}
	return ch, unsubscribe
}

// PublishEvent fans envelope out to every current event subscriber. It
// never blocks: a subscriber whose buffer is full has the event dropped
// for it, with a warning logged, rather than slowing down the agent
// loop that produced the event.
func (b *Bus) PublishEvent(envelope divamodel.AgentEventEnvelope) {
	select {
	case <-b.closed:
		return
	default:
	}

	b.evMu.Lock()
	defer b.evMu.Unlock()
	for id, ch := range b.evSubs {
		select {
		case ch <- envelope:
		default:
			b.log.Warn("event subscriber lagging, dropping event",
				"subscriber_id", id,
				"key", envelope.Key(),
				"event_type", envelope.Event.Type,
			)
		}
	}
}

// Len returns the number of messages currently buffered in the inbound
// queue, for a caller (typically a periodic metrics reporter) that wants
// to watch queue depth without consuming from it.
func (b *Bus) Len() int {
	return len(b.inbound)
}

// Stop closes the bus. All pending and future Publish calls return
// ErrClosed; subscriber channels are closed so range loops over them
// terminate.
func (b *Bus) Stop() {
	b.closeOnce.Do(func() {
		close(b.closed)

		b.outMu.Lock()
		for name, ch := range b.outSub {
			close(ch)
			delete(b.outSub, name)
		}
		b.outMu.Unlock()

		b.evMu.Lock()
		for id, ch := range b.evSubs {
			close(ch)
			delete(b.evSubs, id)
		}
		b.evMu.Unlock()
	})
}
