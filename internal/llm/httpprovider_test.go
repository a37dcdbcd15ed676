package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agent-diva/diva/pkg/divamodel"
)

func TestToolCallFromWire_MalformedArgumentsFallBackToRaw(t *testing.T) {
	tc := wireToolCall{ID: "1", Function: wireToolCallFunc{Name: "search", Arguments: "not json"}}
	got := toolCallFromWire(tc)
	if got.Arguments["raw"] != "not json" {
		t.Errorf("Arguments = %v, want raw fallback", got.Arguments)
	}
}

func TestToolCallFromWire_ValidArguments(t *testing.T) {
	tc := wireToolCall{ID: "1", Function: wireToolCallFunc{Name: "search", Arguments: `{"query":"go"}`}}
	got := toolCallFromWire(tc)
	if got.Arguments["query"] != "go" {
		t.Errorf("Arguments = %v, want query=go", got.Arguments)
	}
}

func TestHTTPProvider_Chat_NonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := chatCompletionResponse{
			Choices: []wireChoice{{
				Message:      wireResponseMessage{Content: "hello"},
				FinishReason: "stop",
			}},
			Usage: wireUsage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPProviderConfig{Name: "gateway", APIBase: srv.URL, DefaultModel: "test-model"})
	resp, err := p.Chat(context.Background(), ChatRequest{Model: "test-model", Messages: []divamodel.Message{{Role: divamodel.RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("Content = %q, want hello", resp.Content)
	}
}

func TestHTTPProvider_Chat_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, "rate limited")
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPProviderConfig{Name: "gateway", APIBase: srv.URL, DefaultModel: "test-model"})
	_, err := p.Chat(context.Background(), ChatRequest{Model: "test-model"})
	if err == nil {
		t.Fatal("expected error")
	}
	perr, ok := err.(*ProviderError)
	if !ok {
		t.Fatalf("err type = %T, want *ProviderError", err)
	}
	if perr.Reason != FailoverRateLimit {
		t.Errorf("Reason = %q, want rate_limit", perr.Reason)
	}
}

func TestHTTPProvider_ChatStream_DeltasAndCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		frames := []string{
			`data: {"choices":[{"delta":{"content":"He"}}]}`,
			`data: {"choices":[{"delta":{"content":"llo"},"finish_reason":"stop"}]}`,
			`data: [DONE]`,
		}
		for _, f := range frames {
			_, _ = io.WriteString(w, f+"\n\n")
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPProviderConfig{Name: "gateway", APIBase: srv.URL, DefaultModel: "test-model"})
	events, err := p.ChatStream(context.Background(), ChatRequest{Model: "test-model"})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	var text string
	var completed *divamodel.LLMResponse
	for ev := range events {
		switch ev.Kind {
		case divamodel.StreamTextDelta:
			text += ev.TextDelta
		case divamodel.StreamCompleted:
			completed = ev.Completed
		}
	}

	if text != "Hello" {
		t.Errorf("accumulated text = %q, want Hello", text)
	}
	if completed == nil || completed.Content != "Hello" {
		t.Fatalf("completed = %+v, want content Hello", completed)
	}
	if completed.FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want stop", completed.FinishReason)
	}
}
