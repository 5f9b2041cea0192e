// Package pipeline implements the request pipeline (C7): the single
// entry point application requests flow through, including
// MOVED/ASK-redirection retries, deadline tracking, and fan-out/
// multi-slot subrequest splitting. Grounded on the teacher's
// tracer.Start-wrapped request-handling methods (modules/backendscheduler)
// for the per-request span shape, and on golang.org/x/sync/errgroup for
// fan-out, a dependency the teacher also declares (see DESIGN.md).
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/valkey-io/valkey-glide-sub003/internal/resp"
	"github.com/valkey-io/valkey-glide-sub003/internal/router"
	"github.com/valkey-io/valkey-glide-sub003/internal/stats"
	"github.com/valkey-io/valkey-glide-sub003/internal/topology"
)

// MaxRedirects bounds MOVED/ASK/CLUSTERDOWN retry attempts per request (spec.md
// §4.7: "a per-request retry counter bounds total attempts to prevent
// live loops").
const MaxRedirects = 16

// ErrAskAlreadyUsed is returned when a second ASK redirect is attempted
// for the same request — "subsequent ASKs on the same request fail".
var ErrAskAlreadyUsed = fmt.Errorf("pipeline: request already retried once for ASK")

// ConnFor resolves a live, Ready connection for node, dialing or reusing
// a pooled one as the caller's ConnectionPool sees fit.
type ConnFor func(ctx context.Context, node topology.NodeID) (Sender, error)

// Sender is the minimal surface pipeline needs from a conn.Connection:
// write a pre-encoded frame, await its reply.
type Sender interface {
	Send(ctx context.Context, frame []byte) (resp.Value, error)
}

// Pipeline dispatches single commands and fan-out/multi-slot groups,
// retrying MOVED/ASK redirects against router + topology.
type Pipeline struct {
	router  *router.Router
	topo    *topology.Manager
	connFor ConnFor
	counters *stats.Counters
}

// New builds a Pipeline.
func New(r *router.Router, topo *topology.Manager, connFor ConnFor, counters *stats.Counters) *Pipeline {
	return &Pipeline{router: r, topo: topo, connFor: connFor, counters: counters}
}

// Dispatch sends one command to its resolved route, retrying redirects
// up to MaxRedirects times, and returns its decoded reply.
func (p *Pipeline) Dispatch(ctx context.Context, args []string, firstKey []byte, explicit *router.ExplicitRoute, readOnly bool, readFrom router.ReadFrom) (resp.Value, error) {
	if p.counters != nil {
		p.counters.RecordRequest()
	}
	frame := resp.EncodeStrings(args...)

	askUsed := false
	for attempt := 0; attempt < MaxRedirects; attempt++ {
		route, err := p.router.Resolve(firstKey, explicit, readOnly, readFrom)
		if err != nil {
			return resp.Value{}, err
		}
		if len(route.Nodes) == 0 {
			return resp.Value{}, fmt.Errorf("pipeline: route resolved to zero nodes")
		}

		sender, err := p.connFor(ctx, route.Nodes[0])
		if err != nil {
			return resp.Value{}, err
		}

		reply, err := sender.Send(ctx, frame)
		if err != nil {
			if ctx.Err() != nil && p.counters != nil {
				p.counters.RecordTimeout()
			}
			if p.counters != nil {
				p.counters.RecordError()
			}
			return resp.Value{}, err
		}
		if !reply.IsError() {
			return reply, nil
		}

		kind, target := classifyRedirect(reply.Str)
		switch kind {
		case redirectMoved:
			p.topo.OnMoved(ctx)
			explicit = &router.ExplicitRoute{Kind: router.KindByAddress, Address: target}
			continue
		case redirectAsk:
			if askUsed {
				if p.counters != nil {
					p.counters.RecordError()
				}
				return resp.Value{}, ErrAskAlreadyUsed
			}
			askUsed = true
			askSender, err := p.connFor(ctx, target)
			if err != nil {
				return resp.Value{}, err
			}
			if _, err := askSender.Send(ctx, resp.EncodeStrings("ASKING")); err != nil {
				return resp.Value{}, err
			}
			reply, err = askSender.Send(ctx, frame)
			if err != nil {
				return resp.Value{}, err
			}
			return reply, nil
		default:
			// CLUSTERDOWN is retried within the same attempt budget; the
			// last attempt's reply is returned as-is.
			if strings.HasPrefix(reply.Str, "CLUSTERDOWN") && attempt < MaxRedirects-1 {
				continue
			}
			if p.counters != nil {
				p.counters.RecordError()
			}
			return reply, nil
		}
	}
	return resp.Value{}, fmt.Errorf("pipeline: exceeded %d redirects", MaxRedirects)
}

type redirectKind int

const (
	redirectNone redirectKind = iota
	redirectMoved
	redirectAsk
)

// classifyRedirect parses "-MOVED <slot> <host>:<port>" / "-ASK <slot>
// <host>:<port>" into a redirect kind and target node.
func classifyRedirect(msg string) (redirectKind, topology.NodeID) {
	var kindWord, arg1, addr string
	n, _ := fmt.Sscanf(msg, "%s %s %s", &kindWord, &arg1, &addr)
	if n < 3 {
		return redirectNone, ""
	}
	switch kindWord {
	case "MOVED":
		return redirectMoved, topology.NodeID(addr)
	case "ASK":
		return redirectAsk, topology.NodeID(addr)
	default:
		return redirectNone, ""
	}
}

// DispatchFanOut issues args against every node in nodes concurrently,
// sharing ctx's deadline, and returns one reply per node in the same
// order (spec.md §4.7 step 3, for AllPrimaries/AllNodes routes).
func (p *Pipeline) DispatchFanOut(ctx context.Context, args []string, nodes []topology.NodeID) ([]resp.Value, error) {
	frame := resp.EncodeStrings(args...)
	replies := make([]resp.Value, len(nodes))

	g, gctx := errgroup.WithContext(ctx)
	for i, node := range nodes {
		i, node := i, node
		g.Go(func() error {
			sender, err := p.connFor(gctx, node)
			if err != nil {
				return err
			}
			reply, err := sender.Send(gctx, frame)
			if err != nil {
				return err
			}
			replies[i] = reply
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return replies, nil
}

// DeadlineFor computes a request's deadline from now, per spec.md §4.7
// step 1. A zero timeout means "no deadline" (ctx carries none).
func DeadlineFor(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
