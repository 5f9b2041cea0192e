package batch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/valkey-io/valkey-glide-sub003/internal/resp"
	"github.com/valkey-io/valkey-glide-sub003/internal/topology"
)

type queueSender struct {
	replies []resp.Value
	i       int
}

func (q *queueSender) Send(ctx context.Context, frame []byte) (resp.Value, error) {
	r := q.replies[q.i%len(q.replies)]
	q.i++
	return r, nil
}

func newTwoShardTopology(t *testing.T) *topology.Manager {
	t.Helper()
	node := func(host string, port int64) resp.Value {
		return resp.Value{Type: resp.TypeArray, Array: []resp.Value{
			{Type: resp.TypeBulkString, Bulk: []byte(host)},
			{Type: resp.TypeInteger, Int: port},
		}}
	}
	entry := func(start, end int64, host string, port int64) resp.Value {
		return resp.Value{Type: resp.TypeArray, Array: []resp.Value{
			{Type: resp.TypeInteger, Int: start},
			{Type: resp.TypeInteger, Int: end},
			node(host, port),
		}}
	}
	m := topology.NewManager(func(ctx context.Context) (resp.Value, error) {
		return resp.Value{Type: resp.TypeArray, Array: []resp.Value{
			entry(0, 8191, "shard-a", 7000),
			entry(8192, 16383, "shard-b", 7001),
		}}, nil
	}, 0, nil)
	require.NoError(t, m.Refresh(context.Background()))
	return m
}

func TestExecAtomicSingleSlot(t *testing.T) {
	topo := newTwoShardTopology(t)
	sender := &queueSender{replies: []resp.Value{
		{Type: resp.TypeSimpleString, Str: "OK"}, // MULTI
		{Type: resp.TypeSimpleString, Str: "QUEUED"},
		{Type: resp.TypeSimpleString, Str: "QUEUED"},
		{Type: resp.TypeArray, Array: []resp.Value{
			{Type: resp.TypeSimpleString, Str: "OK"},
			{Type: resp.TypeInteger, Int: 1},
		}},
	}}

	e := NewEngine(topo, func(ctx context.Context, node topology.NodeID) (Sender, error) {
		return sender, nil
	}, nil)

	results, err := e.ExecAtomic(context.Background(), nil, []Command{
		{Args: []string{"SET", "user:{1}:a", "x"}, FirstKey: []byte("user:{1}:a")},
		{Args: []string{"INCR", "user:{1}:b"}, FirstKey: []byte("user:{1}:b")},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestExecAtomicRejectsCrossSlot(t *testing.T) {
	topo := newTwoShardTopology(t)
	e := NewEngine(topo, func(ctx context.Context, node topology.NodeID) (Sender, error) {
		t.Fatal("should never dial for a cross-slot atomic batch")
		return nil, nil
	}, nil)

	_, err := e.ExecAtomic(context.Background(), nil, []Command{
		{Args: []string{"SET", "a", "1"}, FirstKey: []byte("a")},
		{Args: []string{"SET", "zzz", "2"}, FirstKey: []byte("zzz")},
	})
	require.ErrorIs(t, err, ErrCrossSlot)
}

func TestExecAtomicSurfacesWatchConflict(t *testing.T) {
	topo := newTwoShardTopology(t)
	sender := &queueSender{replies: []resp.Value{
		{Type: resp.TypeSimpleString, Str: "OK"}, // WATCH
		{Type: resp.TypeSimpleString, Str: "OK"}, // MULTI
		{Type: resp.TypeSimpleString, Str: "QUEUED"},
		{Type: resp.TypeNull, ArrayNull: true}, // EXEC returns null on conflict
	}}
	e := NewEngine(topo, func(ctx context.Context, node topology.NodeID) (Sender, error) {
		return sender, nil
	}, nil)

	_, err := e.ExecAtomic(context.Background(), []string{"a"}, []Command{
		{Args: []string{"SET", "a", "1"}, FirstKey: []byte("a")},
	})
	require.ErrorAs(t, err, &WatchConflict{})
}

func TestExecNonAtomicGroupsBySlotAndPreservesOrder(t *testing.T) {
	topo := newTwoShardTopology(t)
	shardASender := &queueSender{replies: []resp.Value{{Type: resp.TypeBulkString, Bulk: []byte("a-val")}}}
	shardBSender := &queueSender{replies: []resp.Value{{Type: resp.TypeBulkString, Bulk: []byte("b-val")}}}

	e := NewEngine(topo, func(ctx context.Context, node topology.NodeID) (Sender, error) {
		if node == topology.NodeID("shard-a:7000") {
			return shardASender, nil
		}
		return shardBSender, nil
	}, nil)

	// "a" hashes to slot 15495 (shard-b), "b" to slot 3300 (shard-a).
	cmds := []Command{
		{Args: []string{"GET", "a"}, FirstKey: []byte("a")},
		{Args: []string{"GET", "b"}, FirstKey: []byte("b")},
	}
	results, err := e.ExecNonAtomic(context.Background(), cmds, true)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, []byte("b-val"), results[0].Reply.Bulk)
	require.Equal(t, []byte("a-val"), results[1].Reply.Bulk)
}

func TestExecNonAtomicRaiseOnErrorFalseCapturesPerCommandErrors(t *testing.T) {
	topo := newTwoShardTopology(t)
	sender := &queueSender{replies: []resp.Value{{Type: resp.TypeError, Str: "ERR boom"}}}

	e := NewEngine(topo, func(ctx context.Context, node topology.NodeID) (Sender, error) {
		return sender, nil
	}, nil)

	results, err := e.ExecNonAtomic(context.Background(), []Command{
		{Args: []string{"GET", "a"}, FirstKey: []byte("a")},
	}, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
}
