package topology

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/valkey-io/valkey-glide-sub003/internal/resp"
)

func sampleClusterSlotsReply() resp.Value {
	node := func(host string, port int64) resp.Value {
		return resp.Value{Type: resp.TypeArray, Array: []resp.Value{
			{Type: resp.TypeBulkString, Bulk: []byte(host)},
			{Type: resp.TypeInteger, Int: port},
		}}
	}
	entry := func(start, end int64, primary resp.Value, replicas ...resp.Value) resp.Value {
		arr := []resp.Value{
			{Type: resp.TypeInteger, Int: start},
			{Type: resp.TypeInteger, Int: end},
			primary,
		}
		arr = append(arr, replicas...)
		return resp.Value{Type: resp.TypeArray, Array: arr}
	}
	return resp.Value{Type: resp.TypeArray, Array: []resp.Value{
		entry(0, 8191, node("10.0.0.1", 7000), node("10.0.0.2", 7000)),
		entry(8192, 16383, node("10.0.0.3", 7001), node("10.0.0.4", 7001)),
	}}
}

func TestParseClusterSlots(t *testing.T) {
	ranges, err := ParseClusterSlots(sampleClusterSlotsReply())
	require.NoError(t, err)
	require.Len(t, ranges, 2)
	require.Equal(t, NodeID("10.0.0.1:7000"), ranges[0].Shard.Primary)
	require.Equal(t, []NodeID{"10.0.0.2:7000"}, ranges[0].Shard.Replicas)
	require.Equal(t, uint16(8192), ranges[1].Start)
	require.Equal(t, uint16(16383), ranges[1].End)
}

func TestManagerRefreshBuildsFullCoverage(t *testing.T) {
	m := NewManager(func(ctx context.Context) (resp.Value, error) {
		return sampleClusterSlotsReply(), nil
	}, 0, nil)

	require.NoError(t, m.Refresh(context.Background()))
	sm := m.Current()
	require.NotNil(t, sm)
	require.Empty(t, sm.UncoveredSlots())
	require.Equal(t, NodeID("10.0.0.1:7000"), sm.ShardFor(0).Primary)
	require.Equal(t, NodeID("10.0.0.3:7001"), sm.ShardFor(16383).Primary)
}

func TestManagerCoalescesConcurrentRefresh(t *testing.T) {
	calls := 0
	blockCh := make(chan struct{})
	m := NewManager(func(ctx context.Context) (resp.Value, error) {
		calls++
		<-blockCh
		return sampleClusterSlotsReply(), nil
	}, 0, nil)

	done := make(chan error, 2)
	go func() { done <- m.Refresh(context.Background()) }()
	go func() { done <- m.Refresh(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	close(blockCh)

	require.NoError(t, <-done)
	require.NoError(t, <-done)
	require.Equal(t, 1, calls)
}

func TestShardForUncoveredSlotErrorsUnlessAllowed(t *testing.T) {
	m := NewManager(func(ctx context.Context) (resp.Value, error) {
		// Only cover half the keyspace.
		node := resp.Value{Type: resp.TypeArray, Array: []resp.Value{
			{Type: resp.TypeBulkString, Bulk: []byte("10.0.0.1")},
			{Type: resp.TypeInteger, Int: 7000},
		}}
		entry := resp.Value{Type: resp.TypeArray, Array: []resp.Value{
			{Type: resp.TypeInteger, Int: 0},
			{Type: resp.TypeInteger, Int: 100},
			node,
		}}
		return resp.Value{Type: resp.TypeArray, Array: []resp.Value{entry}}, nil
	}, 0, nil)
	require.NoError(t, m.Refresh(context.Background()))

	_, err := m.ShardFor(200, false)
	require.Error(t, err)

	shard, err := m.ShardFor(200, true)
	require.NoError(t, err)
	require.Nil(t, shard)
}
