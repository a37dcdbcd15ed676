package channels

import (
	"testing"
	"time"
)

func TestMetrics_Snapshot(t *testing.T) {
	m := NewMetrics("cli")
	m.RecordMessageSent()
	m.RecordMessageSent()
	m.RecordMessageReceived()
	m.RecordMessageFailed()
	m.RecordError(ErrCodeTimeout)
	m.RecordError(ErrCodeTimeout)
	m.RecordSendLatency(10 * time.Millisecond)
	m.RecordSendLatency(20 * time.Millisecond)

	snap := m.Snapshot()
	if snap.MessagesSent != 2 || snap.MessagesReceived != 1 || snap.MessagesFailed != 1 {
		t.Fatalf("unexpected counts: %+v", snap)
	}
	if snap.ErrorsByCode[ErrCodeTimeout] != 2 {
		t.Fatalf("ErrorsByCode[timeout] = %d, want 2", snap.ErrorsByCode[ErrCodeTimeout])
	}
	if snap.SendLatency.Count != 2 {
		t.Fatalf("SendLatency.Count = %d, want 2", snap.SendLatency.Count)
	}
	if snap.SendLatency.Min != 10*time.Millisecond || snap.SendLatency.Max != 20*time.Millisecond {
		t.Fatalf("unexpected latency bounds: %+v", snap.SendLatency)
	}
}

func TestLatencyHistogram_WrapsRingBuffer(t *testing.T) {
	h := NewLatencyHistogram()
	h.max = 3
	h.samples = make([]time.Duration, 3)

	for i := 1; i <= 5; i++ {
		h.Record(time.Duration(i) * time.Millisecond)
	}

	snap := h.Snapshot()
	if snap.Count != 3 {
		t.Fatalf("Count = %d, want 3 (ring buffer capacity)", snap.Count)
	}
	if snap.Min != 3*time.Millisecond {
		t.Fatalf("Min = %v, want 3ms (oldest two samples evicted)", snap.Min)
	}
}
