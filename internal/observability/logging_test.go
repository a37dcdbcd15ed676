package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		level        string
		wantDebugLog bool
	}{
		{"debug", true},
		{"info", false},
		{"invalid", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(LogConfig{Level: tt.level, Format: "json", Output: &buf})
			logger.Debug("debug message")

			if tt.wantDebugLog && buf.Len() == 0 {
				t.Error("expected debug message to be logged")
			}
			if !tt.wantDebugLog && buf.Len() != 0 {
				t.Error("expected debug message to be suppressed")
			}
		})
	}
}

func TestNewLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "text", Output: &buf})
	logger.Info("hello", "key", "value")

	if strings.Contains(buf.String(), `"key"`) {
		t.Errorf("expected text format, got what looks like JSON: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("expected message in output, got: %s", buf.String())
	}
}

func TestLoggerRedactsAPIKey(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "json", Output: &buf})
	logger.Info("calling provider", "api_key", "sk-ant-"+strings.Repeat("a", 100))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decoding log line: %v", err)
	}
	if got := entry["api_key"]; got != "[REDACTED]" {
		t.Errorf("api_key = %v, want [REDACTED]", got)
	}
}

func TestLoggerRedactsSensitiveKeyRegardlessOfShape(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "json", Output: &buf})
	logger.Info("auth", "password", "short")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decoding log line: %v", err)
	}
	if got := entry["password"]; got != "[REDACTED]" {
		t.Errorf("password = %v, want [REDACTED]", got)
	}
}

func TestLoggerRedactsErrorValues(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "json", Output: &buf})
	logger.Error("request failed", "error", errors.New("token: "+strings.Repeat("b", 20)))

	if strings.Contains(buf.String(), strings.Repeat("b", 20)) {
		t.Errorf("expected token to be redacted from error value, got: %s", buf.String())
	}
}

func TestLoggerLeavesBenignValuesAlone(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "json", Output: &buf})
	logger.Info("message received", "channel", "telegram", "bytes", 1024)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decoding log line: %v", err)
	}
	if entry["channel"] != "telegram" {
		t.Errorf("channel = %v, want telegram", entry["channel"])
	}
}

func TestWithContextAttachesCorrelationIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "json", Output: &buf})

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-123")
	ctx = context.WithValue(ctx, ChannelIDKey, "discord")
	WithContext(ctx, logger).Info("handling request")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decoding log line: %v", err)
	}
	if entry["request_id"] != "req-123" || entry["channel"] != "discord" {
		t.Errorf("missing correlation attrs: %v", entry)
	}
}

func TestWithContextNoopWithoutValues(t *testing.T) {
	logger := NewLogger(LogConfig{Format: "json", Output: &bytes.Buffer{}})
	got := WithContext(context.Background(), logger)
	if got != logger {
		t.Error("expected WithContext to return the same logger when ctx carries no correlation values")
	}
}
