// Package router resolves a command's routing intent (C6): slot
// hashing, explicit route overrides, ReadFrom policy resolution, and
// AZ-affinity round-robin replica selection.
package router

import (
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/valkey-io/valkey-glide-sub003/internal/azcrc"
	"github.com/valkey-io/valkey-glide-sub003/internal/topology"
)

// Kind discriminates how a command's targets are resolved.
type Kind int

const (
	KindHashedKey Kind = iota
	KindSlotKey
	KindSlotID
	KindRandom
	KindAllPrimaries
	KindAllNodes
	KindByAddress
)

// ReadFrom selects which replica class serves read-only commands.
type ReadFrom int

const (
	ReadFromPrimary ReadFrom = iota
	ReadFromPreferReplica
	ReadFromAZAffinity
	ReadFromAZAffinityReplicasAndPrimary
)

// Route is the resolved set of targets for one command.
type Route struct {
	Kind   Kind
	Slot   uint16
	Nodes  []topology.NodeID
	FanOut bool
}

// ExplicitRoute lets a caller override key-based hashing, mirroring
// spec.md §4.6's {SlotKey, SlotId, Random, AllPrimaries, AllNodes,
// ByAddress} variants.
type ExplicitRoute struct {
	Kind    Kind
	Key     []byte // for SlotKey
	SlotID  uint16 // for SlotID
	Address topology.NodeID // for ByAddress
}

// Router resolves routes against a live topology.Manager. Standalone
// deployments install a single-shard topology.SlotMap (see
// topology.NewStandaloneMap) so Resolve never needs a cluster-vs-standalone
// branch of its own.
type Router struct {
	topo *topology.Manager
	az   string

	// counters holds one atomic round-robin counter per shard primary,
	// keyed by NodeID, satisfying "AZ round-robin state is per-shard,
	// protected by a single atomic counter" (spec.md §4.6).
	counters map[topology.NodeID]*atomic.Uint64
}

// NewRouter builds a Router. az is the client's own availability zone,
// used by the AZ_AFFINITY* ReadFrom policies; empty disables AZ affinity
// even if requested (falls back to PREFER_REPLICA behavior).
func NewRouter(topo *topology.Manager, az string) *Router {
	return &Router{topo: topo, az: az, counters: make(map[topology.NodeID]*atomic.Uint64)}
}

// Resolve computes the route for a command given its first-key argument
// (nil if the command has none), an optional explicit override, whether
// the command is read-only, and the configured ReadFrom policy.
func (r *Router) Resolve(firstKey []byte, explicit *ExplicitRoute, readOnly bool, readFrom ReadFrom) (Route, error) {
	if explicit != nil {
		return r.resolveExplicit(*explicit)
	}
	if firstKey == nil {
		return Route{}, fmt.Errorf("router: command has no key and no explicit route")
	}

	slot := azcrc.Slot(firstKey)
	shard, err := r.topo.ShardFor(slot, false)
	if err != nil {
		return Route{}, err
	}

	var node topology.NodeID
	if readOnly {
		node = r.resolveReadFrom(shard, readFrom)
	} else {
		node = shard.Primary
	}
	return Route{Kind: KindHashedKey, Slot: slot, Nodes: []topology.NodeID{node}}, nil
}

func (r *Router) resolveExplicit(e ExplicitRoute) (Route, error) {
	switch e.Kind {
	case KindSlotKey:
		slot := azcrc.Slot(e.Key)
		shard, err := r.topo.ShardFor(slot, false)
		if err != nil {
			return Route{}, err
		}
		return Route{Kind: KindSlotKey, Slot: slot, Nodes: []topology.NodeID{shard.Primary}}, nil
	case KindSlotID:
		shard, err := r.topo.ShardFor(e.SlotID, false)
		if err != nil {
			return Route{}, err
		}
		return Route{Kind: KindSlotID, Slot: e.SlotID, Nodes: []topology.NodeID{shard.Primary}}, nil
	case KindByAddress:
		return Route{Kind: KindByAddress, Nodes: []topology.NodeID{e.Address}}, nil
	case KindRandom:
		sm := r.topo.Current()
		nodes := sm.NodesForScan()
		if len(nodes) == 0 {
			return Route{}, fmt.Errorf("router: no nodes available for random route")
		}
		return Route{Kind: KindRandom, Nodes: []topology.NodeID{nodes[rand.Intn(len(nodes))]}}, nil
	case KindAllPrimaries:
		sm := r.topo.Current()
		return Route{Kind: KindAllPrimaries, Nodes: sm.NodesForScan(), FanOut: true}, nil
	case KindAllNodes:
		sm := r.topo.Current()
		nodes := sm.NodesForScan()
		for _, s := range sm.Shards {
			if s == nil {
				continue
			}
			nodes = append(nodes, s.Replicas...)
		}
		return Route{Kind: KindAllNodes, Nodes: dedupe(nodes), FanOut: true}, nil
	default:
		return Route{}, fmt.Errorf("router: unknown explicit route kind %d", e.Kind)
	}
}

func dedupe(nodes []topology.NodeID) []topology.NodeID {
	seen := make(map[topology.NodeID]bool, len(nodes))
	out := make([]topology.NodeID, 0, len(nodes))
	for _, n := range nodes {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// resolveReadFrom applies spec.md §4.6's four ReadFrom policies.
func (r *Router) resolveReadFrom(shard *topology.Shard, policy ReadFrom) topology.NodeID {
	switch policy {
	case ReadFromPrimary:
		return shard.Primary
	case ReadFromPreferReplica:
		if replica, ok := r.roundRobinReplica(shard, nil); ok {
			return replica
		}
		return shard.Primary
	case ReadFromAZAffinity:
		if replica, ok := r.roundRobinReplica(shard, &r.az); ok {
			return replica
		}
		if replica, ok := r.roundRobinReplica(shard, nil); ok {
			return replica
		}
		return shard.Primary
	case ReadFromAZAffinityReplicasAndPrimary:
		if replica, ok := r.roundRobinReplica(shard, &r.az); ok {
			return replica
		}
		return shard.Primary
	default:
		return shard.Primary
	}
}

// roundRobinReplica picks the next replica in round-robin order,
// optionally restricted to those known to live in az. ok is false when
// no eligible replica exists (empty shard.Replicas, or none match az).
func (r *Router) roundRobinReplica(shard *topology.Shard, az *string) (topology.NodeID, bool) {
	candidates := shard.Replicas
	if az != nil && *az != "" {
		var local []topology.NodeID
		for name, idx := range shard.AZByReplica {
			if name == *az && idx < len(shard.Replicas) {
				local = append(local, shard.Replicas[idx])
			}
		}
		candidates = local
	}
	if len(candidates) == 0 {
		return "", false
	}

	counter, ok := r.counters[shard.Primary]
	if !ok {
		counter = &atomic.Uint64{}
		r.counters[shard.Primary] = counter
	}
	idx := counter.Add(1) - 1
	return candidates[int(idx)%len(candidates)], true
}
