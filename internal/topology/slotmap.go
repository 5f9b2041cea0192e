// Package topology discovers and maintains the cluster slot map (C5):
// CLUSTER SLOTS discovery, an atomically-swapped 16384-entry SlotMap,
// singleflight-coalesced refreshes, and slot-coverage policy. Grounded
// on go-redis's clusterStateHolder (LazyReload backed by
// singleflight.Group) as referenced in other_examples/, adapted to this
// module's own Connection/Request types (see DESIGN.md).
package topology

import "github.com/valkey-io/valkey-glide-sub003/internal/azcrc"

// NodeID is an opaque node identifier, typically "host:port".
type NodeID string

// Shard describes one of the cluster's 16384-slot owners.
type Shard struct {
	Primary  NodeID
	Replicas []NodeID
	// AZByReplica maps an availability zone name to the index (into
	// Replicas) of a replica known to live there, used by the router's
	// AZ_AFFINITY policies.
	AZByReplica map[string]int
}

// SlotMap is the immutable value swapped in atomically on every
// successful refresh. Index i holds the shard owning slot i, or nil if
// unmapped.
type SlotMap struct {
	Epoch  uint64
	Shards [azcrc.SlotCount]*Shard

	nodeSlots map[NodeID][]uint16
}

// NewSlotMap builds a SlotMap from a set of (shard, slot range) triples,
// as parsed out of a CLUSTER SLOTS reply.
func NewSlotMap(epoch uint64, ranges []SlotRange) *SlotMap {
	m := &SlotMap{Epoch: epoch, nodeSlots: make(map[NodeID][]uint16)}
	for _, r := range ranges {
		for slot := r.Start; slot <= r.End; slot++ {
			m.Shards[slot] = r.Shard
			m.nodeSlots[r.Shard.Primary] = append(m.nodeSlots[r.Shard.Primary], slot)
		}
	}
	return m
}

// SlotRange is one contiguous run of slots owned by the same shard, the
// natural unit CLUSTER SLOTS returns per line.
type SlotRange struct {
	Start, End uint16
	Shard      *Shard
}

// ShardFor returns the shard owning slot, or nil if the slot is
// currently unmapped.
func (m *SlotMap) ShardFor(slot uint16) *Shard {
	if m == nil {
		return nil
	}
	return m.Shards[slot]
}

// UncoveredSlots returns every slot index with no owning shard.
func (m *SlotMap) UncoveredSlots() []uint16 {
	var out []uint16
	for i, s := range m.Shards {
		if s == nil {
			out = append(out, uint16(i))
		}
	}
	return out
}

// NodesForScan returns every distinct primary NodeID, used by the
// cluster scan cursor to seed one cursor slice per node.
func (m *SlotMap) NodesForScan() []NodeID {
	seen := make(map[NodeID]bool)
	var out []NodeID
	for _, s := range m.Shards {
		if s == nil || seen[s.Primary] {
			continue
		}
		seen[s.Primary] = true
		out = append(out, s.Primary)
	}
	return out
}

// SlotForKey resolves the target slot for a command's routing key,
// honoring the `{tag}` hash-tag convention (spec.md §4.6).
func SlotForKey(key []byte) uint16 {
	return azcrc.Slot(key)
}

// NewStandaloneMap builds a SlotMap covering every slot with a single
// shard, letting the router treat a non-cluster deployment as a
// degenerate one-shard cluster instead of special-casing it.
func NewStandaloneMap(node NodeID) *SlotMap {
	shard := &Shard{Primary: node}
	return NewSlotMap(0, []SlotRange{{Start: 0, End: azcrc.SlotCount - 1, Shard: shard}})
}
