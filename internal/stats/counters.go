// Package stats holds the client's atomic counters and the optional
// Prometheus/OpenTelemetry hook wrappers around them. Grounded on
// modules/backendscheduler's package-level metricXxx Prometheus vars and
// tracer.Start(ctx, ...) span idiom in the teacher repo (see DESIGN.md).
package stats

import "sync/atomic"

// Counters are the atomic counters spec.md §4.11 requires, read via a
// single Snapshot call; each field is read atomically, but not all at
// one instant (see Snapshot).
type Counters struct {
	totalValuesCompressed  atomic.Uint64
	compressionSkippedCount atomic.Uint64
	totalOriginalBytes      atomic.Uint64
	totalBytesCompressed    atomic.Uint64

	totalRequests   atomic.Uint64
	totalErrors     atomic.Uint64
	totalTimeouts   atomic.Uint64
	reconnectCount  atomic.Uint64
}

// Snapshot is a point-in-time, value-type copy of all counters.
type Snapshot struct {
	TotalValuesCompressed  uint64
	CompressionSkippedCount uint64
	TotalOriginalBytes      uint64
	TotalBytesCompressed    uint64

	TotalRequests  uint64
	TotalErrors    uint64
	TotalTimeouts  uint64
	ReconnectCount uint64
}

// Snapshot reads all counters into a single value. It never blocks other
// writers; individual fields may be read from slightly different instants
// under concurrent updates, matching the "single snapshot call" contract
// without requiring a global lock.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		TotalValuesCompressed:   c.totalValuesCompressed.Load(),
		CompressionSkippedCount: c.compressionSkippedCount.Load(),
		TotalOriginalBytes:      c.totalOriginalBytes.Load(),
		TotalBytesCompressed:    c.totalBytesCompressed.Load(),
		TotalRequests:           c.totalRequests.Load(),
		TotalErrors:             c.totalErrors.Load(),
		TotalTimeouts:           c.totalTimeouts.Load(),
		ReconnectCount:          c.reconnectCount.Load(),
	}
}

func (c *Counters) RecordCompressed(originalLen, compressedLen int) {
	c.totalValuesCompressed.Add(1)
	c.totalOriginalBytes.Add(uint64(originalLen))
	c.totalBytesCompressed.Add(uint64(compressedLen))
}

func (c *Counters) RecordSkipped() {
	c.compressionSkippedCount.Add(1)
}

func (c *Counters) RecordRequest()   { c.totalRequests.Add(1) }
func (c *Counters) RecordError()     { c.totalErrors.Add(1) }
func (c *Counters) RecordTimeout()   { c.totalTimeouts.Add(1) }
func (c *Counters) RecordReconnect() { c.reconnectCount.Add(1) }
