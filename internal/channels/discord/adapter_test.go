package discord

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/agent-diva/diva/pkg/divamodel"
)

type fakeSession struct {
	sent       []string
	sendErr    error
	closeCalls int
}

func (f *fakeSession) Open() error { return nil }
func (f *fakeSession) Close() error {
	f.closeCalls++
	return nil
}
func (f *fakeSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, content)
	return &discordgo.Message{ID: "m1"}, nil
}
func (f *fakeSession) ChannelTyping(channelID string, options ...discordgo.RequestOption) error {
	return nil
}
func (f *fakeSession) AddHandler(handler interface{}) func() { return func() {} }

func newTestAdapter(t *testing.T) (*Adapter, *fakeSession) {
	t.Helper()
	a, err := NewAdapter(Config{Token: "tok"})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	fs := &fakeSession{}
	a.session = fs
	return a, fs
}

func TestAdapter_NewAdapterRequiresToken(t *testing.T) {
	if _, err := NewAdapter(Config{}); err == nil {
		t.Fatal("expected an error when token is missing")
	}
}

func TestAdapter_SendPostsToChannel(t *testing.T) {
	a, fs := newTestAdapter(t)
	a.health.SetStatus(true, "")

	out := &divamodel.OutboundMessage{ChatID: "c1", Content: "hello there"}
	if err := a.Send(context.Background(), out); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(fs.sent) != 1 || fs.sent[0] != "hello there" {
		t.Fatalf("sent = %v, want one message with the content", fs.sent)
	}
}

func TestAdapter_HandleMessageIgnoresBotAuthors(t *testing.T) {
	a, _ := newTestAdapter(t)
	mc := &discordgo.MessageCreate{Message: &discordgo.Message{
		Author: &discordgo.User{ID: "bot1", Bot: true}, Content: "beep",
	}}
	a.handleMessage(context.Background(), mc)

	select {
	case <-a.messages:
		t.Fatal("did not expect a message from a bot author")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestAdapter_HandleMessageConvertsToInbound(t *testing.T) {
	a, _ := newTestAdapter(t)
	mc := &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "msg1", ChannelID: "chan1", GuildID: "guild1", Content: "hi there",
		Author: &discordgo.User{ID: "u1", Username: "alice"},
	}}
	a.handleMessage(context.Background(), mc)

	msg := <-a.messages
	if msg.Channel != "discord" || msg.ChatID != "chan1" || msg.SenderID != "u1" {
		t.Fatalf("unexpected message routing: %+v", msg)
	}
	if msg.Content != "hi there" {
		t.Fatalf("Content = %q", msg.Content)
	}
	if msg.Metadata["message_id"] != "msg1" {
		t.Fatalf("Metadata = %+v, missing message_id", msg.Metadata)
	}
}
