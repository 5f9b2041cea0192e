package stats

import "testing"

func TestCountersSnapshot(t *testing.T) {
	c := &Counters{}
	c.RecordCompressed(1024, 100)
	c.RecordSkipped()
	c.RecordRequest()
	c.RecordRequest()
	c.RecordError()
	c.RecordTimeout()
	c.RecordReconnect()

	s := c.Snapshot()
	if s.TotalValuesCompressed != 1 {
		t.Errorf("TotalValuesCompressed = %d, want 1", s.TotalValuesCompressed)
	}
	if s.CompressionSkippedCount != 1 {
		t.Errorf("CompressionSkippedCount = %d, want 1", s.CompressionSkippedCount)
	}
	if s.TotalOriginalBytes != 1024 {
		t.Errorf("TotalOriginalBytes = %d, want 1024", s.TotalOriginalBytes)
	}
	if s.TotalBytesCompressed != 100 {
		t.Errorf("TotalBytesCompressed = %d, want 100", s.TotalBytesCompressed)
	}
	if s.TotalRequests != 2 {
		t.Errorf("TotalRequests = %d, want 2", s.TotalRequests)
	}
	if s.TotalErrors != 1 || s.TotalTimeouts != 1 || s.ReconnectCount != 1 {
		t.Errorf("unexpected snapshot: %+v", s)
	}
}

func TestOTelHooksNilSafe(t *testing.T) {
	var h *OTelHooks
	ctx, span := h.StartSpan(nil, "Get") //nolint:staticcheck
	_ = ctx
	_ = span
	h.ObserveLatencyMS(nil, 1.0) //nolint:staticcheck
	h.ObserveReconnect(nil)      //nolint:staticcheck
}
