// Package multikey implements spec.md §4.6's single-command multi-key
// cross-slot split: MGET, MSET, MSETNX, DEL, UNLINK, EXISTS, and TOUCH
// each accept more than one key in one command, but a cluster only
// guarantees atomicity within a slot. Grounded on the teacher pack's
// cluster-client reference (other_examples' gravitational/teleport Redis
// client, which special-cases "mget" for cluster mode rather than letting
// it hit a single shard and CROSSSLOT) and on the CROSSSLOT handling
// already present in errors.go.
package multikey

import "fmt"

// Group is one slot's worth of a split multi-key command: the original
// key indices it owns (into the full key list, in original order) and
// the sub-command args to send for just those keys.
type Group struct {
	KeyIndices []int
	Args       []string
}

// Specs maps each multi-key command name to its key stride. MSET/MSETNX
// interleave key/value pairs starting at args[1]; the rest take a bare
// key list starting at args[1].
var Specs = map[string]int{
	"MGET":   1,
	"DEL":    1,
	"UNLINK": 1,
	"EXISTS": 1,
	"TOUCH":  1,
	"MSET":   2,
	"MSETNX": 2,
}

// IsMultiKey reports whether cmd is one of spec.md §4.6's multi-key
// commands.
func IsMultiKey(cmd string) bool {
	_, ok := Specs[cmd]
	return ok
}

// Keys extracts the key at each key-bearing argument position, in
// original order, for a multi-key command with the given stride.
func Keys(args []string, stride int) []string {
	keys := make([]string, 0, (len(args)-1+stride-1)/stride)
	for i := 1; i < len(args); i += stride {
		keys = append(keys, args[i])
	}
	return keys
}

// Split groups a multi-key command's keys (and, for MSET-shaped commands,
// their paired values) by cluster slot, returning one Group per distinct
// slot in first-occurrence order. slotOf computes a key's slot.
func Split(cmd string, args []string, stride int, slotOf func(key string) uint16) ([]Group, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("multikey: %s requires at least one key", cmd)
	}
	if (len(args)-1)%stride != 0 {
		return nil, fmt.Errorf("multikey: %s has a malformed argument count %d", cmd, len(args))
	}

	order := make([]uint16, 0, 4)
	bySlot := make(map[uint16]*Group, 4)
	keyIdx := 0
	for i := 1; i < len(args); i += stride {
		slot := slotOf(args[i])
		g, ok := bySlot[slot]
		if !ok {
			g = &Group{Args: []string{cmd}}
			bySlot[slot] = g
			order = append(order, slot)
		}
		g.KeyIndices = append(g.KeyIndices, keyIdx)
		g.Args = append(g.Args, args[i:i+stride]...)
		keyIdx++
	}

	groups := make([]Group, 0, len(order))
	for _, slot := range order {
		groups = append(groups, *bySlot[slot])
	}
	return groups, nil
}
