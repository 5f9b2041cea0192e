// Package scan implements the cluster scan cursor (C10): an opaque
// {id, finished} pair backed by a per-node progress map, merging SCAN
// replies across shard primaries until every node reaches cursor 0.
// Grounded on internal/topology.Manager for node discovery and for the
// uncovered-slot check (SlotMap.UncoveredSlots; see DESIGN.md).
package scan

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/valkey-io/valkey-glide-sub003/internal/resp"
	"github.com/valkey-io/valkey-glide-sub003/internal/topology"
)

// Sender is the minimal dispatch surface scan needs per shard.
type Sender interface {
	Send(ctx context.Context, frame []byte) (resp.Value, error)
}

// ConnFor resolves a Sender for a node.
type ConnFor func(ctx context.Context, node topology.NodeID) (Sender, error)

// Options mirrors the optional SCAN arguments a caller may supply.
type Options struct {
	Match              string
	Count              int
	Type               string
	AllowNonCovered    bool
}

// Registry holds a single client's live cursors by their opaque id so a
// second call with the same id can resume iteration. It is owned by the
// caller (one per Client) rather than process-global state (spec.md §9:
// "Global mutable state. None required."): dropping a Cursor (ceasing to
// reference its id) lets the entry be released by calling Release
// explicitly, since Go has no finalizer the spec can rely on.
type Registry struct {
	mu      sync.Mutex
	cursors map[string]*Cursor
}

// NewRegistry builds an empty cursor registry.
func NewRegistry() *Registry {
	return &Registry{cursors: make(map[string]*Cursor)}
}

// Cursor is the opaque {id, finished} pair spec.md §4.10 describes,
// plus the per-node progress map the client needs to resume.
type Cursor struct {
	ID       string
	Finished bool

	progress map[topology.NodeID]string // node -> its own last-seen cursor
	done     map[topology.NodeID]bool

	reg *Registry
}

// New starts a fresh cluster scan cursor across every node in topo's
// current SlotMap, tracked by reg so a later Resume(id) can find it.
func (reg *Registry) New(topo *topology.Manager) *Cursor {
	id := randomID()
	sm := topo.Current()
	nodes := sm.NodesForScan()

	c := &Cursor{
		ID:       id,
		progress: make(map[topology.NodeID]string, len(nodes)),
		done:     make(map[topology.NodeID]bool, len(nodes)),
		reg:      reg,
	}
	for _, n := range nodes {
		c.progress[n] = "0"
	}
	reg.mu.Lock()
	reg.cursors[id] = c
	reg.mu.Unlock()
	return c
}

// Resume looks up a previously issued cursor by id, for a second call
// advancing the same iteration.
func (reg *Registry) Resume(id string) (*Cursor, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	c, ok := reg.cursors[id]
	return c, ok
}

// Release drops the cursor's per-node progress map, per spec.md §4.10
// ("no server-side state exists for SCAN, but the client's map of
// per-node progress is freed").
func (c *Cursor) Release() {
	c.reg.mu.Lock()
	delete(c.reg.cursors, c.ID)
	c.reg.mu.Unlock()
}

func randomID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Next advances the cursor by one round: pick a node whose scan has not
// finished, issue SCAN with its per-node cursor and opts, merge the
// returned keys, and update that node's progress. Returns the merged
// keys for this round.
func (c *Cursor) Next(ctx context.Context, topo *topology.Manager, connFor ConnFor, opts Options) ([][]byte, error) {
	if !opts.AllowNonCovered {
		if uncovered := topo.Current().UncoveredSlots(); len(uncovered) > 0 {
			return nil, fmt.Errorf("scan: %d slots uncovered and allow_non_covered_slots is false", len(uncovered))
		}
	}

	node, ok := c.nextPendingNode()
	if !ok {
		c.Finished = true
		return nil, nil
	}

	sender, err := connFor(ctx, node)
	if err != nil {
		return nil, err
	}

	args := []string{"SCAN", c.progress[node]}
	if opts.Match != "" {
		args = append(args, "MATCH", opts.Match)
	}
	if opts.Count > 0 {
		args = append(args, "COUNT", fmt.Sprint(opts.Count))
	}
	if opts.Type != "" {
		args = append(args, "TYPE", opts.Type)
	}

	reply, err := sender.Send(ctx, resp.EncodeStrings(args...))
	if err != nil {
		return nil, err
	}
	if reply.IsError() {
		return nil, fmt.Errorf("scan: SCAN failed: %s", reply.Str)
	}
	if len(reply.Array) != 2 {
		return nil, fmt.Errorf("scan: malformed SCAN reply")
	}

	nextCursor := string(reply.Array[0].Bulk)
	c.progress[node] = nextCursor
	if nextCursor == "0" {
		c.done[node] = true
	}

	keys := make([][]byte, 0, len(reply.Array[1].Array))
	for _, v := range reply.Array[1].Array {
		keys = append(keys, v.Bulk)
	}

	if c.allNodesDone() {
		c.Finished = true
	}
	return keys, nil
}

func (c *Cursor) nextPendingNode() (topology.NodeID, bool) {
	for node := range c.progress {
		if !c.done[node] {
			return node, true
		}
	}
	return "", false
}

func (c *Cursor) allNodesDone() bool {
	for node := range c.progress {
		if !c.done[node] {
			return false
		}
	}
	return true
}
