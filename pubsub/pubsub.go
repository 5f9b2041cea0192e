// Package pubsub implements the PubSub subsystem (C9): an Exact/
// Pattern/Sharded subscription registry, push-frame dispatch to
// callbacks or a pull queue, and post-reconnect reconciliation.
// Grounded on the teacher's RWMutex-guarded state shape
// (modules/backendscheduler.BackendScheduler's workMtx/rpcMtx fields)
// generalized here to protect the subscription registry (see DESIGN.md).
package pubsub

import (
	"context"
	"sync"

	"github.com/valkey-io/valkey-glide-sub003/internal/resp"
)

// Mode distinguishes the three subscription kinds spec.md §4.9 names.
type Mode int

const (
	ModeExact Mode = iota
	ModePattern
	ModeSharded
)

// Msg is the value a callback or puller receives for one published
// message.
type Msg struct {
	Mode    Mode
	Channel string
	Pattern string // set only for ModePattern
	Payload []byte
}

// Callback receives messages for subscriptions configured with one.
type Callback func(msg Msg, userCtx interface{})

// entry tracks one subscribed channel/pattern and whether the server
// has acknowledged it yet.
type entry struct {
	accepted bool
	callback Callback
	userCtx  interface{}
}

// State is the registry of intended and server-acknowledged
// subscriptions across all three modes, plus the bounded pull queue for
// subscriptions with no callback.
type State struct {
	mu       sync.RWMutex
	exact    map[string]*entry
	pattern  map[string]*entry
	sharded  map[string]*entry

	pullQueue chan Msg
}

// NewState builds an empty registry with a pull queue of the given
// capacity (spec.md §4.9: "a bounded in-memory queue").
func NewState(pullQueueCapacity int) *State {
	if pullQueueCapacity <= 0 {
		pullQueueCapacity = 1000
	}
	return &State{
		exact:     make(map[string]*entry),
		pattern:   make(map[string]*entry),
		sharded:   make(map[string]*entry),
		pullQueue: make(chan Msg, pullQueueCapacity),
	}
}

func (s *State) registryFor(mode Mode) map[string]*entry {
	switch mode {
	case ModeExact:
		return s.exact
	case ModePattern:
		return s.pattern
	case ModeSharded:
		return s.sharded
	default:
		return nil
	}
}

// Subscribe registers intent to subscribe to channel under mode. It
// does not itself talk to the server — SUBSCRIBE/PSUBSCRIBE/SSUBSCRIBE
// is the caller's job via the connection the channel routes to; Subscribe
// only records intent so Reconcile knows what to re-issue after a
// reconnect. MarkAccepted should be called once the server actually
// confirms the subscription.
func (s *State) Subscribe(mode Mode, channel string, cb Callback, userCtx interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registryFor(mode)[channel] = &entry{callback: cb, userCtx: userCtx}
}

// Unsubscribe drops channel from the intended set.
func (s *State) Unsubscribe(mode Mode, channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.registryFor(mode), channel)
}

// MarkAccepted flags channel as server-acknowledged, for the
// {intended, actual} poll API.
func (s *State) MarkAccepted(mode Mode, channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.registryFor(mode)[channel]; ok {
		e.accepted = true
	}
}

// Status is the {intended, actual} view spec.md §4.9 asks for.
type Status struct {
	Intended []string
	Actual   []string
}

// StatusFor reports which of mode's intended subscriptions have been
// server-acknowledged.
func (s *State) StatusFor(mode Mode) Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st Status
	for ch, e := range s.registryFor(mode) {
		st.Intended = append(st.Intended, ch)
		if e.accepted {
			st.Actual = append(st.Actual, ch)
		}
	}
	return st
}

// Dispatch routes a decoded push-frame reply to its subscriber: the
// configured callback if any, otherwise the pull queue. It never blocks
// on a full pull queue beyond a non-blocking attempt — a slow puller
// drops messages rather than stalling the read loop, since spec.md §4.9
// only promises delivery through a "bounded" queue, not an unbounded
// one.
func (s *State) Dispatch(msg Msg) {
	s.mu.RLock()
	e, ok := s.registryFor(msg.Mode)[msg.Channel]
	s.mu.RUnlock()

	if ok && e.callback != nil {
		e.callback(msg, e.userCtx)
		return
	}
	select {
	case s.pullQueue <- msg:
	default:
	}
}

// GetMessage blocks until a message arrives on the pull queue or ctx is
// cancelled ("get_pubsub_message", spec.md §4.9).
func (s *State) GetMessage(ctx context.Context) (Msg, error) {
	select {
	case m := <-s.pullQueue:
		return m, nil
	case <-ctx.Done():
		return Msg{}, ctx.Err()
	}
}

// TryGetMessage returns immediately: a message and true, or a zero
// value and false ("try_get_pubsub_message").
func (s *State) TryGetMessage() (Msg, bool) {
	select {
	case m := <-s.pullQueue:
		return m, true
	default:
		return Msg{}, false
	}
}

// Reconcile replays every intended subscription as a (command, channel)
// pair a Connection's Handshake can re-issue (spec.md §4.2 step 6,
// §4.9 "Reconciliation"). Server acknowledgment flags are reset first,
// since a fresh connection starts with nothing actually subscribed.
func (s *State) Reconcile() []ResubscribeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ResubscribeEntry
	for ch, e := range s.exact {
		e.accepted = false
		out = append(out, ResubscribeEntry{Command: "SUBSCRIBE", Channel: ch})
	}
	for ch, e := range s.pattern {
		e.accepted = false
		out = append(out, ResubscribeEntry{Command: "PSUBSCRIBE", Channel: ch})
	}
	for ch, e := range s.sharded {
		e.accepted = false
		out = append(out, ResubscribeEntry{Command: "SSUBSCRIBE", Channel: ch})
	}
	return out
}

// ResubscribeEntry mirrors internal/conn.ResubscribeEntry without
// importing internal/conn, since pubsub is the owner of subscription
// intent and conn only replays what it's handed.
type ResubscribeEntry struct {
	Command string
	Channel string
}

// MsgFromPush decodes a RESP3 push frame's array payload into a Msg.
// Push frames carry ["message", channel, payload] for exact
// subscriptions, ["pmessage", pattern, channel, payload] for pattern
// ones, and ["smessage", channel, payload] for sharded ones.
func MsgFromPush(v resp.Value) (Msg, bool) {
	if v.Type != resp.TypePush || len(v.Array) < 3 {
		return Msg{}, false
	}
	kind := string(v.Array[0].Bulk)
	switch kind {
	case "message":
		return Msg{Mode: ModeExact, Channel: string(v.Array[1].Bulk), Payload: v.Array[2].Bulk}, true
	case "smessage":
		return Msg{Mode: ModeSharded, Channel: string(v.Array[1].Bulk), Payload: v.Array[2].Bulk}, true
	case "pmessage":
		if len(v.Array) < 4 {
			return Msg{}, false
		}
		return Msg{Mode: ModePattern, Pattern: string(v.Array[1].Bulk), Channel: string(v.Array[2].Bulk), Payload: v.Array[3].Bulk}, true
	default:
		return Msg{}, false
	}
}
