package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/valkey-io/valkey-glide-sub003/internal/resp"
	"github.com/valkey-io/valkey-glide-sub003/internal/router"
	"github.com/valkey-io/valkey-glide-sub003/internal/topology"
)

type fakeSender struct {
	replies []resp.Value
	sent    [][]string
}

func (f *fakeSender) Send(ctx context.Context, frame []byte) (resp.Value, error) {
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return reply, nil
}

func newTestTopology(t *testing.T) *topology.Manager {
	t.Helper()
	node := func(host string, port int64) resp.Value {
		return resp.Value{Type: resp.TypeArray, Array: []resp.Value{
			{Type: resp.TypeBulkString, Bulk: []byte(host)},
			{Type: resp.TypeInteger, Int: port},
		}}
	}
	entry := resp.Value{Type: resp.TypeArray, Array: []resp.Value{
		{Type: resp.TypeInteger, Int: 0},
		{Type: resp.TypeInteger, Int: 16383},
		node("primary", 7000),
	}}
	m := topology.NewManager(func(ctx context.Context) (resp.Value, error) {
		return resp.Value{Type: resp.TypeArray, Array: []resp.Value{entry}}, nil
	}, 0, nil)
	require.NoError(t, m.Refresh(context.Background()))
	return m
}

func TestDispatchSucceedsOnFirstTry(t *testing.T) {
	topo := newTestTopology(t)
	r := router.NewRouter(topo, "")
	sender := &fakeSender{replies: []resp.Value{{Type: resp.TypeSimpleString, Str: "OK"}}}

	p := New(r, topo, func(ctx context.Context, node topology.NodeID) (Sender, error) {
		return sender, nil
	}, nil)

	reply, err := p.Dispatch(context.Background(), []string{"SET", "foo", "bar"}, []byte("foo"), nil, false, router.ReadFromPrimary)
	require.NoError(t, err)
	require.Equal(t, "OK", reply.Str)
}

func TestDispatchFollowsMovedRedirect(t *testing.T) {
	topo := newTestTopology(t)
	r := router.NewRouter(topo, "")

	primarySender := &fakeSender{replies: []resp.Value{{Type: resp.TypeError, Str: "MOVED 1 other:9999"}}}
	otherSender := &fakeSender{replies: []resp.Value{{Type: resp.TypeSimpleString, Str: "OK"}}}

	p := New(r, topo, func(ctx context.Context, node topology.NodeID) (Sender, error) {
		if node == "other:9999" {
			return otherSender, nil
		}
		return primarySender, nil
	}, nil)

	reply, err := p.Dispatch(context.Background(), []string{"GET", "foo"}, []byte("foo"), nil, true, router.ReadFromPrimary)
	require.NoError(t, err)
	require.Equal(t, "OK", reply.Str)
}

func TestDispatchFollowsAskRedirectOnce(t *testing.T) {
	topo := newTestTopology(t)
	r := router.NewRouter(topo, "")

	primarySender := &fakeSender{replies: []resp.Value{{Type: resp.TypeError, Str: "ASK 1 other:9999"}}}
	otherSender := &fakeSender{replies: []resp.Value{
		{Type: resp.TypeSimpleString, Str: "OK"}, // ASKING
		{Type: resp.TypeSimpleString, Str: "OK"}, // the retried command
	}}

	p := New(r, topo, func(ctx context.Context, node topology.NodeID) (Sender, error) {
		if node == "other:9999" {
			return otherSender, nil
		}
		return primarySender, nil
	}, nil)

	reply, err := p.Dispatch(context.Background(), []string{"GET", "foo"}, []byte("foo"), nil, true, router.ReadFromPrimary)
	require.NoError(t, err)
	require.Equal(t, "OK", reply.Str)
}

func TestDispatchFanOutPreservesOrder(t *testing.T) {
	topo := newTestTopology(t)
	r := router.NewRouter(topo, "")

	senders := map[topology.NodeID]*fakeSender{
		"a:1": {replies: []resp.Value{{Type: resp.TypeSimpleString, Str: "A"}}},
		"b:2": {replies: []resp.Value{{Type: resp.TypeSimpleString, Str: "B"}}},
	}

	p := New(r, topo, func(ctx context.Context, node topology.NodeID) (Sender, error) {
		return senders[node], nil
	}, nil)

	replies, err := p.DispatchFanOut(context.Background(), []string{"INFO"}, []topology.NodeID{"a:1", "b:2"})
	require.NoError(t, err)
	require.Equal(t, "A", replies[0].Str)
	require.Equal(t, "B", replies[1].Str)
}
