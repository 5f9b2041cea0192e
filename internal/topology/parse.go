package topology

import (
	"fmt"
	"strconv"

	"github.com/valkey-io/valkey-glide-sub003/internal/resp"
)

// ParseClusterSlots turns a CLUSTER SLOTS array reply into SlotRanges.
// Each top-level entry is [start, end, [host, port, ...], [replica
// host, port, ...]*].
func ParseClusterSlots(reply resp.Value) ([]SlotRange, error) {
	if reply.Type != resp.TypeArray {
		return nil, fmt.Errorf("topology: CLUSTER SLOTS reply is not an array")
	}
	ranges := make([]SlotRange, 0, len(reply.Array))
	for _, entry := range reply.Array {
		if len(entry.Array) < 3 {
			return nil, fmt.Errorf("topology: CLUSTER SLOTS entry has %d elements, want >= 3", len(entry.Array))
		}
		start, err := asInt(entry.Array[0])
		if err != nil {
			return nil, err
		}
		end, err := asInt(entry.Array[1])
		if err != nil {
			return nil, err
		}
		primary, err := nodeFromEntry(entry.Array[2])
		if err != nil {
			return nil, err
		}

		shard := &Shard{Primary: primary, AZByReplica: map[string]int{}}
		for i := 3; i < len(entry.Array); i++ {
			replica, err := nodeFromEntry(entry.Array[i])
			if err != nil {
				return nil, err
			}
			shard.Replicas = append(shard.Replicas, replica)
		}

		ranges = append(ranges, SlotRange{Start: uint16(start), End: uint16(end), Shard: shard})
	}
	return ranges, nil
}

func asInt(v resp.Value) (int64, error) {
	if v.Type == resp.TypeInteger {
		return v.Int, nil
	}
	return 0, fmt.Errorf("topology: expected integer slot bound, got type %q", v.Type)
}

func nodeFromEntry(v resp.Value) (NodeID, error) {
	if len(v.Array) < 2 {
		return "", fmt.Errorf("topology: node descriptor needs host+port, got %d fields", len(v.Array))
	}
	host := string(v.Array[0].Bulk)
	port, err := asInt(v.Array[1])
	if err != nil {
		return "", err
	}
	return NodeID(host + ":" + strconv.FormatInt(port, 10)), nil
}
