package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics centralizes the manager's Prometheus instrumentation. Every
// recorder method is nil-safe, so components can hold a possibly-nil
// *Metrics and skip the "if metrics != nil" check at each call site.
type Metrics struct {
	MessageCounter *prometheus.CounterVec // channel, direction

	LLMRequestDuration *prometheus.HistogramVec // provider, model
	LLMRequestCounter  *prometheus.CounterVec   // provider, model, status
	LLMTokensUsed      *prometheus.CounterVec   // provider, model, type
	LLMCostUSD         *prometheus.CounterVec   // provider, model

	ToolExecutionCounter  *prometheus.CounterVec   // tool_name, status
	ToolExecutionDuration *prometheus.HistogramVec // tool_name

	CronJobRuns *prometheus.CounterVec // job_id, status

	BusQueueDepth *prometheus.GaugeVec // queue (inbound|outbound)

	ErrorCounter *prometheus.CounterVec // component, error_code

	ActiveSessions *prometheus.GaugeVec // channel

	HTTPRequestDuration *prometheus.HistogramVec // method, path, status_code
	HTTPRequestCounter  *prometheus.CounterVec   // method, path, status_code

	ChannelReconnects *prometheus.CounterVec // channel
}

// NewMetrics builds and registers every metric against the default
// Prometheus registry. Call once at startup; the gateway's /metrics
// endpoint serves whatever is registered there.
func NewMetrics() *Metrics {
	return &Metrics{
		MessageCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_diva_messages_total",
			Help: "Total messages processed by channel and direction",
		}, []string{"channel", "direction"}),

		LLMRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agent_diva_llm_request_duration_seconds",
			Help:    "Duration of LLM provider requests in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider", "model"}),

		LLMRequestCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_diva_llm_requests_total",
			Help: "Total LLM provider requests by provider, model, and status",
		}, []string{"provider", "model", "status"}),

		LLMTokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_diva_llm_tokens_total",
			Help: "Total tokens consumed by provider, model, and type",
		}, []string{"provider", "model", "type"}),

		LLMCostUSD: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_diva_llm_cost_usd_total",
			Help: "Estimated LLM spend in USD by provider and model",
		}, []string{"provider", "model"}),

		ToolExecutionCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_diva_tool_executions_total",
			Help: "Total tool executions by tool name and status",
		}, []string{"tool_name", "status"}),

		ToolExecutionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agent_diva_tool_execution_duration_seconds",
			Help:    "Duration of tool executions in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool_name"}),

		CronJobRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_diva_cron_job_runs_total",
			Help: "Total cron job firings by job id and status",
		}, []string{"job_id", "status"}),

		BusQueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agent_diva_bus_queue_depth",
			Help: "Current depth of the message bus's queues",
		}, []string{"queue"}),

		ErrorCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_diva_errors_total",
			Help: "Total errors by component and error code",
		}, []string{"component", "error_code"}),

		ActiveSessions: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agent_diva_active_sessions",
			Help: "Current active sessions by channel",
		}, []string{"channel"}),

		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agent_diva_http_request_duration_seconds",
			Help:    "Duration of gateway HTTP requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "path", "status_code"}),

		HTTPRequestCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_diva_http_requests_total",
			Help: "Total gateway HTTP requests",
		}, []string{"method", "path", "status_code"}),

		ChannelReconnects: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_diva_channel_reconnects_total",
			Help: "Total reconnect attempts by channel",
		}, []string{"channel"}),
	}
}

func (m *Metrics) MessageReceived(channel string) {
	if m == nil {
		return
	}
	m.MessageCounter.WithLabelValues(channel, "inbound").Inc()
}

func (m *Metrics) MessageSent(channel string) {
	if m == nil {
		return
	}
	m.MessageCounter.WithLabelValues(channel, "outbound").Inc()
}

// RecordLLMRequest records one provider call's status, latency, and token
// usage. promptTokens/completionTokens of 0 are skipped rather than
// recorded as a zero sample.
func (m *Metrics) RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

func (m *Metrics) RecordLLMCost(provider, model string, costUSD float64) {
	if m == nil || costUSD <= 0 {
		return
	}
	m.LLMCostUSD.WithLabelValues(provider, model).Add(costUSD)
}

func (m *Metrics) RecordToolExecution(toolName, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(duration.Seconds())
}

func (m *Metrics) RecordCronRun(jobID, status string) {
	if m == nil {
		return
	}
	m.CronJobRuns.WithLabelValues(jobID, status).Inc()
}

func (m *Metrics) SetBusQueueDepth(queue string, depth int) {
	if m == nil {
		return
	}
	m.BusQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

func (m *Metrics) RecordError(component, errorCode string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(component, errorCode).Inc()
}

func (m *Metrics) SessionStarted(channel string) {
	if m == nil {
		return
	}
	m.ActiveSessions.WithLabelValues(channel).Inc()
}

func (m *Metrics) SessionEnded(channel string) {
	if m == nil {
		return
	}
	m.ActiveSessions.WithLabelValues(channel).Dec()
}

func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(duration.Seconds())
}

func (m *Metrics) RecordChannelReconnect(channel string) {
	if m == nil {
		return
	}
	m.ChannelReconnects.WithLabelValues(channel).Inc()
}
