package topology

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/singleflight"

	"github.com/valkey-io/valkey-glide-sub003/internal/resp"
)

// RefreshFunc issues CLUSTER SLOTS against any connectable seed and
// returns the raw reply for ParseClusterSlots to turn into a SlotMap.
// Seeds used are whatever the caller wires in; Manager itself holds no
// opinion about which node to ask.
type RefreshFunc func(ctx context.Context) (resp.Value, error)

// ErrSlotNotCovered is returned by ShardFor when a slot has no owner
// and the caller has not opted into allow_non_covered_slots.
type ErrSlotNotCovered struct {
	Slot uint16
}

func (e *ErrSlotNotCovered) Error() string {
	return fmt.Sprintf("topology: slot %d not covered", e.Slot)
}

// Manager owns the atomically-swapped SlotMap and coalesces concurrent
// refresh triggers into a single in-flight CLUSTER SLOTS call via
// singleflight, directly mirroring go-redis's clusterStateHolder (see
// DESIGN.md).
type Manager struct {
	current atomic.Pointer[SlotMap]
	epoch   atomic.Uint64

	refresh RefreshFunc
	group   singleflight.Group
	logger  log.Logger

	periodicInterval time.Duration
	refreshFromSeeds bool // trigger #5: query original seeds, not current view

	stopCh chan struct{}
}

// NewManager builds a Manager. periodicInterval of zero disables the
// periodic refresh ticker (cluster periodic-check policy may disable
// it, per spec.md §3).
func NewManager(refresh RefreshFunc, periodicInterval time.Duration, logger log.Logger) *Manager {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Manager{
		refresh:          refresh,
		logger:           log.With(logger, "component", "topology"),
		periodicInterval: periodicInterval,
		stopCh:           make(chan struct{}),
	}
}

// Current returns the most recently installed SlotMap (nil before the
// first successful refresh). Readers never block on a concurrent swap.
func (m *Manager) Current() *SlotMap { return m.current.Load() }

// Install sets the current SlotMap directly, bypassing CLUSTER SLOTS.
// Used once at startup for standalone deployments (NewStandaloneMap)
// where there is no real cluster to query.
func (m *Manager) Install(sm *SlotMap) { m.current.Store(sm) }

// Refresh triggers (or joins an in-flight) CLUSTER SLOTS-based rebuild.
// Concurrent callers coalesce onto one actual network round trip.
func (m *Manager) Refresh(ctx context.Context) error {
	_, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		reply, err := m.refresh(ctx)
		if err != nil {
			return nil, err
		}
		ranges, err := ParseClusterSlots(reply)
		if err != nil {
			return nil, err
		}
		next := NewSlotMap(m.epoch.Add(1), ranges)
		m.current.Store(next)
		if uncovered := next.UncoveredSlots(); len(uncovered) > 0 {
			level.Warn(m.logger).Log("msg", "slots uncovered after refresh", "count", len(uncovered))
		}
		return next, nil
	})
	return err
}

// OnMoved is trigger #2 from spec.md §4.5: a MOVED reply always
// triggers a refresh, fire-and-forget from the pipeline's perspective.
func (m *Manager) OnMoved(ctx context.Context) {
	go func() {
		if err := m.Refresh(ctx); err != nil {
			level.Warn(m.logger).Log("msg", "refresh after MOVED failed", "err", err)
		}
	}()
}

// OnUnreachable is trigger #4: a node the reconnect supervisor gave up
// on (circuit open) is treated as a topology change worth investigating.
func (m *Manager) OnUnreachable(ctx context.Context, node NodeID) {
	level.Info(m.logger).Log("msg", "node reported unreachable, scheduling refresh", "node", node)
	m.OnMoved(ctx)
}

// RunPeriodic starts the ticker-driven refresh loop (trigger #1); it
// returns immediately if periodicInterval is zero. Call Stop to end it.
func (m *Manager) RunPeriodic(ctx context.Context) {
	if m.periodicInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(m.periodicInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := m.Refresh(ctx); err != nil {
					level.Warn(m.logger).Log("msg", "periodic refresh failed", "err", err)
				}
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the periodic refresh loop.
func (m *Manager) Stop() { close(m.stopCh) }

// ShardFor resolves slot's owning shard. When unmapped, it returns
// ErrSlotNotCovered unless allowNonCovered is set (the cluster SCAN
// cursor's policy override, spec.md §4.5/§4.10).
func (m *Manager) ShardFor(slot uint16, allowNonCovered bool) (*Shard, error) {
	sm := m.Current()
	shard := sm.ShardFor(slot)
	if shard == nil && !allowNonCovered {
		return nil, &ErrSlotNotCovered{Slot: slot}
	}
	return shard, nil
}
