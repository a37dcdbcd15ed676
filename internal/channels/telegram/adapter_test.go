package telegram

import (
	"context"
	"testing"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/agent-diva/diva/pkg/divamodel"
)

type fakeBotClient struct {
	sent        []string
	sendErr     error
	getMeErr    error
	handlers    []tgbot.HandlerFunc
	startCalled bool
}

func (f *fakeBotClient) SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (*models.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, params.Text)
	return &models.Message{ID: 1}, nil
}

func (f *fakeBotClient) GetMe(ctx context.Context) (*models.User, error) {
	if f.getMeErr != nil {
		return nil, f.getMeErr
	}
	return &models.User{ID: 99, Username: "testbot"}, nil
}

func (f *fakeBotClient) RegisterHandler(handlerType tgbot.HandlerType, pattern string, matchType tgbot.MatchType, handler tgbot.HandlerFunc) {
	f.handlers = append(f.handlers, handler)
}

func (f *fakeBotClient) Start(ctx context.Context) { f.startCalled = true }

func newTestAdapter(t *testing.T) (*Adapter, *fakeBotClient) {
	t.Helper()
	a, err := NewAdapter(Config{Token: "tok"})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	fb := &fakeBotClient{}
	a.bot = fb
	return a, fb
}

func TestAdapter_NewAdapterRequiresToken(t *testing.T) {
	if _, err := NewAdapter(Config{}); err == nil {
		t.Fatal("expected an error when token is missing")
	}
}

func TestAdapter_SendPostsMessage(t *testing.T) {
	a, fb := newTestAdapter(t)
	a.health.SetStatus(true, "")

	out := &divamodel.OutboundMessage{ChatID: "42", Content: "hello there"}
	if err := a.Send(context.Background(), out); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(fb.sent) != 1 || fb.sent[0] != "hello there" {
		t.Fatalf("sent = %v, want one message with the content", fb.sent)
	}
}

func TestAdapter_HandleMessageIgnoresMissingSender(t *testing.T) {
	a, _ := newTestAdapter(t)
	update := &models.Update{Message: &models.Message{Text: "beep"}}
	a.handleMessage(context.Background(), update)

	select {
	case <-a.messages:
		t.Fatal("did not expect a message with no sender")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestAdapter_HandleMessageConvertsToInbound(t *testing.T) {
	a, _ := newTestAdapter(t)
	update := &models.Update{Message: &models.Message{
		ID:   7,
		Chat: models.Chat{ID: 555},
		From: &models.User{ID: 1, Username: "alice"},
		Text: "hi there",
		Date: int(time.Now().Unix()),
	}}
	a.handleMessage(context.Background(), update)

	msg := <-a.messages
	if msg.Channel != "telegram" || msg.ChatID != "555" || msg.SenderID != "1" {
		t.Fatalf("unexpected message routing: %+v", msg)
	}
	if msg.Content != "hi there" {
		t.Fatalf("Content = %q", msg.Content)
	}
}
