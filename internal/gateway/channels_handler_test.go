package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agent-diva/diva/internal/bus"
	"github.com/agent-diva/diva/internal/channels"
	"github.com/agent-diva/diva/pkg/divamodel"
)

type stubChannelAdapter struct {
	name    string
	sent    []*divamodel.OutboundMessage
	sendErr error
}

func (a *stubChannelAdapter) Name() string { return a.name }

func (a *stubChannelAdapter) Send(ctx context.Context, msg *divamodel.OutboundMessage) error {
	if a.sendErr != nil {
		return a.sendErr
	}
	a.sent = append(a.sent, msg)
	return nil
}

func (a *stubChannelAdapter) Status() channels.Status { return channels.Status{Connected: true} }

func (a *stubChannelAdapter) HealthCheck(ctx context.Context) channels.HealthStatus {
	return channels.HealthStatus{Healthy: true}
}

func (a *stubChannelAdapter) Metrics() channels.MetricsSnapshot {
	return channels.MetricsSnapshot{Channel: a.name}
}

func newTestServer(t *testing.T) (*Server, *channels.Registry) {
	t.Helper()
	b := bus.New(bus.DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(b.Stop)
	registry := channels.NewRegistry()
	return NewServer(b, registry, nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil))), registry
}

func TestHandleChannelsListsHealth(t *testing.T) {
	server, registry := newTestServer(t)
	registry.Register(&stubChannelAdapter{name: "telegram"})

	req := httptest.NewRequest(http.MethodGet, "/channels", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var infos []channelInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &infos); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "telegram" {
		t.Fatalf("unexpected channel list: %+v", infos)
	}
	if infos[0].Health == nil || !infos[0].Health.Healthy {
		t.Errorf("expected healthy status, got %+v", infos[0].Health)
	}
}

func TestHandleChannelsRejectsNonGet(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/channels", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHandleChannelTestSendsProbe(t *testing.T) {
	server, registry := newTestServer(t)
	adapter := &stubChannelAdapter{name: "discord"}
	registry.Register(adapter)

	body := strings.NewReader(`{"chat_id":"c1","content":"ping"}`)
	req := httptest.NewRequest(http.MethodPost, "/channels/discord/test", body)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204: %s", rec.Code, rec.Body.String())
	}
	if len(adapter.sent) != 1 || adapter.sent[0].Content != "ping" {
		t.Fatalf("expected probe message to be sent, got %+v", adapter.sent)
	}
}

func TestHandleChannelTestUnknownChannel(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/channels/ghost/test", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleChannelTestDefaultsContent(t *testing.T) {
	server, registry := newTestServer(t)
	adapter := &stubChannelAdapter{name: "slack"}
	registry.Register(adapter)

	req := httptest.NewRequest(http.MethodPost, "/channels/slack/test", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if len(adapter.sent) != 1 || adapter.sent[0].Content == "" {
		t.Fatalf("expected a default probe message, got %+v", adapter.sent)
	}
}

func TestHandleHealthz(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("unexpected healthz body: %s", rec.Body.String())
	}
}

func TestServerStartStop(t *testing.T) {
	server, _ := newTestServer(t)
	if err := server.Start(context.Background(), "127.0.0.1:0"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}
