package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestMetricsRecorders exercises every recorder method against one Metrics
// instance. NewMetrics registers against the default Prometheus registry,
// so it must only run once per process — every assertion lives in this
// one test function rather than being split across independently callable
// tests.
func TestMetricsRecorders(t *testing.T) {
	m := NewMetrics()

	m.MessageReceived("telegram")
	m.MessageSent("telegram")
	if count := testutil.ToFloat64(m.MessageCounter.WithLabelValues("telegram", "inbound")); count != 1 {
		t.Errorf("MessageCounter inbound = %v, want 1", count)
	}

	m.RecordLLMRequest("anthropic", "claude-3-opus", "success", 2*time.Second, 100, 50)
	if count := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("anthropic", "claude-3-opus", "success")); count != 1 {
		t.Errorf("LLMRequestCounter = %v, want 1", count)
	}
	if tokens := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-3-opus", "prompt")); tokens != 100 {
		t.Errorf("LLMTokensUsed prompt = %v, want 100", tokens)
	}

	m.RecordLLMRequest("anthropic", "claude-3-opus", "error", time.Second, 0, 0)
	if tokens := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-3-opus", "completion")); tokens != 50 {
		t.Errorf("zero token counts should not add samples; completion = %v, want 50 (unchanged)", tokens)
	}

	m.RecordLLMCost("anthropic", "claude-3-opus", 0.015)
	if cost := testutil.ToFloat64(m.LLMCostUSD.WithLabelValues("anthropic", "claude-3-opus")); cost != 0.015 {
		t.Errorf("LLMCostUSD = %v, want 0.015", cost)
	}

	m.RecordToolExecution("web_fetch", "success", 250*time.Millisecond)
	if count := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("web_fetch", "success")); count != 1 {
		t.Errorf("ToolExecutionCounter = %v, want 1", count)
	}

	m.RecordCronRun("job-1", "ok")
	if count := testutil.ToFloat64(m.CronJobRuns.WithLabelValues("job-1", "ok")); count != 1 {
		t.Errorf("CronJobRuns = %v, want 1", count)
	}

	m.SetBusQueueDepth("inbound", 7)
	if depth := testutil.ToFloat64(m.BusQueueDepth.WithLabelValues("inbound")); depth != 7 {
		t.Errorf("BusQueueDepth = %v, want 7", depth)
	}

	m.RecordError("tools", "timeout")
	if count := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("tools", "timeout")); count != 1 {
		t.Errorf("ErrorCounter = %v, want 1", count)
	}

	m.SessionStarted("slack")
	if active := testutil.ToFloat64(m.ActiveSessions.WithLabelValues("slack")); active != 1 {
		t.Errorf("ActiveSessions = %v, want 1", active)
	}
	m.SessionEnded("slack")
	if active := testutil.ToFloat64(m.ActiveSessions.WithLabelValues("slack")); active != 0 {
		t.Errorf("ActiveSessions after end = %v, want 0", active)
	}

	m.RecordHTTPRequest("GET", "/chat", "200", 10*time.Millisecond)
	if count := testutil.ToFloat64(m.HTTPRequestCounter.WithLabelValues("GET", "/chat", "200")); count != 1 {
		t.Errorf("HTTPRequestCounter = %v, want 1", count)
	}

	m.RecordChannelReconnect("discord")
	if count := testutil.ToFloat64(m.ChannelReconnects.WithLabelValues("discord")); count != 1 {
		t.Errorf("ChannelReconnects = %v, want 1", count)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.MessageReceived("telegram")
	m.MessageSent("telegram")
	m.RecordLLMRequest("anthropic", "model", "success", time.Second, 1, 1)
	m.RecordLLMCost("anthropic", "model", 1.0)
	m.RecordToolExecution("tool", "success", time.Second)
	m.RecordCronRun("job", "ok")
	m.SetBusQueueDepth("inbound", 1)
	m.RecordError("component", "code")
	m.SessionStarted("channel")
	m.SessionEnded("channel")
	m.RecordHTTPRequest("GET", "/x", "200", time.Second)
	m.RecordChannelReconnect("channel")
	// No assertions: the point is that none of the above panicked.
}
