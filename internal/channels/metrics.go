package channels

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks message counts, error rates, and latency
// distributions for one channel adapter, feeding both its own
// HealthCheck and the Prometheus gauges registered in
// internal/observability.
type Metrics struct {
	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	messagesFailed   atomic.Uint64

	errorsByCode map[ErrorCode]*atomic.Uint64
	errorsMu     sync.RWMutex

	sendLatency    *LatencyHistogram
	receiveLatency *LatencyHistogram

	connectionsOpened atomic.Uint64
	connectionsClosed atomic.Uint64
	reconnectAttempts atomic.Uint64

	channel   string
	startTime time.Time
}

// NewMetrics creates a Metrics tracker for the named channel.
func NewMetrics(channel string) *Metrics {
	return &Metrics{
		errorsByCode:   make(map[ErrorCode]*atomic.Uint64),
		sendLatency:    NewLatencyHistogram(),
		receiveLatency: NewLatencyHistogram(),
		channel:        channel,
		startTime:      time.Now(),
	}
}

func (m *Metrics) RecordMessageSent()     { m.messagesSent.Add(1) }
func (m *Metrics) RecordMessageReceived() { m.messagesReceived.Add(1) }
func (m *Metrics) RecordMessageFailed()   { m.messagesFailed.Add(1) }

func (m *Metrics) RecordError(code ErrorCode) {
	m.errorsMu.Lock()
	counter, ok := m.errorsByCode[code]
	if !ok {
		counter = &atomic.Uint64{}
		m.errorsByCode[code] = counter
	}
	m.errorsMu.Unlock()
	counter.Add(1)
}

func (m *Metrics) RecordSendLatency(d time.Duration)    { m.sendLatency.Record(d) }
func (m *Metrics) RecordReceiveLatency(d time.Duration) { m.receiveLatency.Record(d) }
func (m *Metrics) RecordConnectionOpened()              { m.connectionsOpened.Add(1) }
func (m *Metrics) RecordConnectionClosed()              { m.connectionsClosed.Add(1) }
func (m *Metrics) RecordReconnectAttempt()               { m.reconnectAttempts.Add(1) }

// Snapshot returns a point-in-time view of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.errorsMu.RLock()
	errs := make(map[ErrorCode]uint64, len(m.errorsByCode))
	for code, counter := range m.errorsByCode {
		errs[code] = counter.Load()
	}
	m.errorsMu.RUnlock()

	return MetricsSnapshot{
		Channel:           m.channel,
		MessagesSent:      m.messagesSent.Load(),
		MessagesReceived:  m.messagesReceived.Load(),
		MessagesFailed:    m.messagesFailed.Load(),
		ErrorsByCode:      errs,
		SendLatency:       m.sendLatency.Snapshot(),
		ReceiveLatency:    m.receiveLatency.Snapshot(),
		ConnectionsOpened: m.connectionsOpened.Load(),
		ConnectionsClosed: m.connectionsClosed.Load(),
		ReconnectAttempts: m.reconnectAttempts.Load(),
		Uptime:            time.Since(m.startTime),
	}
}

// MetricsSnapshot is a point-in-time copy of a Metrics tracker.
type MetricsSnapshot struct {
	Channel           string
	MessagesSent      uint64
	MessagesReceived  uint64
	MessagesFailed    uint64
	ErrorsByCode      map[ErrorCode]uint64
	SendLatency       LatencySnapshot
	ReceiveLatency    LatencySnapshot
	ConnectionsOpened uint64
	ConnectionsClosed uint64
	ReconnectAttempts uint64
	Uptime            time.Duration
}

// LatencyHistogram keeps a fixed-size ring buffer of recent samples
// for percentile estimation without unbounded memory growth.
type LatencyHistogram struct {
	mu      sync.RWMutex
	samples []time.Duration
	head    int
	count   int
	max     int
}

// NewLatencyHistogram creates a histogram retaining the last 1000 samples.
func NewLatencyHistogram() *LatencyHistogram {
	const defaultMaxSamples = 1000
	return &LatencyHistogram{samples: make([]time.Duration, defaultMaxSamples), max: defaultMaxSamples}
}

func (h *LatencyHistogram) Record(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.max == 0 {
		return
	}
	h.samples[h.head] = d
	h.head = (h.head + 1) % h.max
	if h.count < h.max {
		h.count++
	}
}

// Snapshot computes min/max/mean/p50/p95/p99 over the retained samples.
func (h *LatencyHistogram) Snapshot() LatencySnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return LatencySnapshot{}
	}

	sorted := make([]time.Duration, h.count)
	if h.count < h.max {
		copy(sorted, h.samples[:h.count])
	} else {
		for i := 0; i < h.count; i++ {
			sorted[i] = h.samples[(h.head+i)%h.max]
		}
	}
	for i := 1; i < len(sorted); i++ {
		key := sorted[i]
		j := i - 1
		for j >= 0 && sorted[j] > key {
			sorted[j+1] = sorted[j]
			j--
		}
		sorted[j+1] = key
	}

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return LatencySnapshot{
		Count: len(sorted),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / time.Duration(len(sorted)),
		P50:   sorted[len(sorted)*50/100],
		P95:   sorted[len(sorted)*95/100],
		P99:   sorted[len(sorted)*99/100],
	}
}

// LatencySnapshot is a computed set of latency statistics.
type LatencySnapshot struct {
	Count int
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
}
