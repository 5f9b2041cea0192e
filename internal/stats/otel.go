package stats

import (
	"context"
	"math/rand"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// OTelHooks emits one span per request and latency/reconnect metrics. The
// zero value is a safe no-op — "the hook layer must be a no-op when not
// initialized" (spec.md §4.11) — so embedding code can always call through
// OTelHooks without a nil check.
type OTelHooks struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	// SamplePercent is runtime-tunable 0..=100; StartSpan skips span
	// creation for the complementary fraction of calls.
	SamplePercent int

	latency    metric.Float64Histogram
	reconnects metric.Int64Counter
}

// NewOTelHooks builds metric instruments from meter (may be nil, in which
// case instrument creation is skipped and Observe* become no-ops).
func NewOTelHooks(tracer trace.Tracer, meter metric.Meter, samplePercent int) *OTelHooks {
	h := &OTelHooks{Tracer: tracer, Meter: meter, SamplePercent: samplePercent}
	if meter != nil {
		h.latency, _ = meter.Float64Histogram("valkeyglide.request.latency_ms")
		h.reconnects, _ = meter.Int64Counter("valkeyglide.reconnects")
	}
	return h
}

// StartSpan begins a span named after the command (e.g. "Get", "Batch",
// "send_batch") unless sampling or the zero-value no-op skips it. The
// returned span must never have its SetAttributes called with a reply
// payload — callers pass only command/route metadata, never values, so
// the hook layer cannot retain reply bodies.
func (h *OTelHooks) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if h == nil || h.Tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	if h.SamplePercent < 100 && rand.Intn(100) >= h.SamplePercent {
		return ctx, trace.SpanFromContext(ctx)
	}
	return h.Tracer.Start(ctx, name)
}

func (h *OTelHooks) ObserveLatencyMS(ctx context.Context, ms float64) {
	if h == nil || h.latency == nil {
		return
	}
	h.latency.Record(ctx, ms)
}

func (h *OTelHooks) ObserveReconnect(ctx context.Context) {
	if h == nil || h.reconnects == nil {
		return
	}
	h.reconnects.Add(ctx, 1)
}
