// Package observability provides the manager's three ambient pillars:
// Prometheus metrics, redacting structured logging, and OpenTelemetry
// tracing.
//
// # Metrics
//
// Metrics wraps ~15 Prometheus vectors covering message flow, LLM request
// latency/tokens/cost, tool execution, cron firings, bus queue depth, HTTP
// requests, and errors by component. NewMetrics registers everything
// against the default registry, which the gateway already exposes at
// /metrics via promhttp.Handler. Call sites hold a *Metrics (or nil, every
// recorder method is nil-safe) and record at the point of work:
//
//	start := time.Now()
//	resp, err := provider.Chat(ctx, req)
//	metrics.RecordLLMRequest(provider.Name(), req.Model, statusOf(err), time.Since(start), promptTokens, completionTokens)
//
// # Logging
//
// NewLogger builds a *slog.Logger whose handler redacts API keys, bearer
// tokens, and other secret-shaped values out of both the formatted message
// and structured attributes before they reach the sink — so a stray
// provider API key logged at Debug during development can't leak into a
// shipped log file. WithContext attaches request/session/channel
// correlation IDs that every subsequent call through that logger carries
// automatically.
//
// # Tracing
//
// Tracer wraps an OTLP-over-HTTP exporter and a ratio-sampled
// TracerProvider, with semantic helpers (TraceLLMRequest, TraceToolExecution,
// TraceMessageProcessing, TraceHTTPRequest) that set span attributes such
// as llm.provider, llm.model, tool.name and channel. These are dotted
// names, not the metrics' label names (provider, model, tool_name), so a
// trace and a metric sample for the same unit of work are correlated by
// value rather than by identical keys.
package observability
