package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/agent-diva/diva/pkg/divamodel"
)

func TestAdapter_StartReadsLinesFromIn(t *testing.T) {
	in := strings.NewReader("hello\nworld\n")
	var out bytes.Buffer
	a, err := NewAdapter(Config{In: in, Out: &out})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop(context.Background())

	for _, want := range []string{"hello", "world"} {
		select {
		case msg := <-a.messages:
			if msg.Content != want || msg.Channel != "cli" {
				t.Fatalf("msg = %+v, want content %q", msg, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestAdapter_SendWritesToOut(t *testing.T) {
	var out bytes.Buffer
	a, err := NewAdapter(Config{Out: &out})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	if err := a.Send(context.Background(), &divamodel.OutboundMessage{Content: "reply"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := out.String(); got != "reply\n" {
		t.Fatalf("out = %q", got)
	}
}

func TestAdapter_SendNoopsWithoutOut(t *testing.T) {
	a, err := NewAdapter(Config{})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	if err := a.Send(context.Background(), &divamodel.OutboundMessage{Content: "reply"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestAdapter_StartWithoutInDoesNotBlock(t *testing.T) {
	a, err := NewAdapter(Config{})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
