// Package batch implements the batch engine (C8): atomic transactions
// (MULTI/WATCH/EXEC, single-slot enforced) and non-atomic pipelines
// (grouped-by-slot parallel dispatch, order-preserving reassembly).
// Grounded on golang.org/x/sync/errgroup for the parallel per-shard
// dispatch, the same dependency the pipeline package uses for fan-out
// (see DESIGN.md).
package batch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/valkey-io/valkey-glide-sub003/internal/azcrc"
	"github.com/valkey-io/valkey-glide-sub003/internal/compressor"
	"github.com/valkey-io/valkey-glide-sub003/internal/resp"
	"github.com/valkey-io/valkey-glide-sub003/internal/topology"
)

// Command is one queued operation: its argument list and the first-key
// argument used for slot hashing (nil for keyless commands).
type Command struct {
	Args     []string
	FirstKey []byte
}

// Sender is the minimal dispatch surface batch needs per shard.
type Sender interface {
	Send(ctx context.Context, frame []byte) (resp.Value, error)
}

// ConnFor resolves a Sender for a shard's primary node.
type ConnFor func(ctx context.Context, node topology.NodeID) (Sender, error)

// ErrCrossSlot is returned when an atomic batch's commands don't all
// hash to the same slot.
var ErrCrossSlot = fmt.Errorf("batch: atomic batch commands span multiple slots")

// WatchConflict is the distinguishable EXEC-returned-null outcome
// (spec.md §4.8): not an error, but not a set of replies either.
type WatchConflict struct{}

func (WatchConflict) Error() string { return "batch: watched key changed, transaction aborted" }

// Engine dispatches atomic and non-atomic batches against a topology.
// codec is optional; when nil, commands are sent and replies returned
// uncompressed.
type Engine struct {
	topo    *topology.Manager
	connFor ConnFor
	codec   *compressor.Codec
}

// NewEngine builds a batch Engine. codec applies the same write/read
// compression policy Client.Execute uses to every value-bearing slot of
// a batched command, per spec.md §4.3 ("each value-bearing slot of a
// batch").
func NewEngine(topo *topology.Manager, connFor ConnFor, codec *compressor.Codec) *Engine {
	return &Engine{topo: topo, connFor: connFor, codec: codec}
}

// compressArgs returns a copy of args with every write-eligible value
// slot compressed, or args unchanged when no codec is configured or the
// command has no compressible value slots.
func (e *Engine) compressArgs(args []string) []string {
	if e.codec == nil || len(args) == 0 || !compressor.IsWriteCompressible(args[0]) {
		return args
	}
	indices := compressor.WriteValueIndices(args[0], len(args))
	if len(indices) == 0 {
		return args
	}
	out := append([]string(nil), args...)
	for _, idx := range indices {
		out[idx] = string(e.codec.CompressForWrite([]byte(out[idx])))
	}
	return out
}

// decompressReply applies the read policy to reply when cmd's args name
// a read-decompressible command, leaving it unchanged otherwise.
func (e *Engine) decompressReply(args []string, reply resp.Value) (resp.Value, error) {
	if e.codec == nil || len(args) == 0 || !compressor.IsReadDecompressible(args[0]) {
		return reply, nil
	}
	return e.codec.DecompressReply(reply)
}

// ExecAtomic issues watch (if any), MULTI, the queued commands, and EXEC
// against the single shard owning every command's key. All keyed
// commands must hash to the same slot or this fails locally with
// ErrCrossSlot before anything is sent.
func (e *Engine) ExecAtomic(ctx context.Context, watch []string, cmds []Command) ([]resp.Value, error) {
	slot, err := commonSlot(watch, cmds)
	if err != nil {
		return nil, err
	}
	shard, err := e.topo.ShardFor(slot, false)
	if err != nil {
		return nil, err
	}
	sender, err := e.connFor(ctx, shard.Primary)
	if err != nil {
		return nil, err
	}

	if len(watch) > 0 {
		args := append([]string{"WATCH"}, watch...)
		if _, err := sender.Send(ctx, resp.EncodeStrings(args...)); err != nil {
			return nil, err
		}
	}
	if _, err := sender.Send(ctx, resp.EncodeStrings("MULTI")); err != nil {
		return nil, err
	}
	for _, cmd := range cmds {
		if _, err := sender.Send(ctx, resp.EncodeStrings(e.compressArgs(cmd.Args)...)); err != nil {
			return nil, err
		}
	}
	execReply, err := sender.Send(ctx, resp.EncodeStrings("EXEC"))
	if err != nil {
		return nil, err
	}
	if execReply.IsNull() {
		return nil, WatchConflict{}
	}
	if execReply.IsError() {
		return nil, fmt.Errorf("batch: EXEC failed: %s", execReply.Str)
	}
	for i, reply := range execReply.Array {
		decoded, derr := e.decompressReply(cmds[i].Args, reply)
		if derr != nil {
			return nil, derr
		}
		execReply.Array[i] = decoded
	}
	return execReply.Array, nil
}

func commonSlot(watch []string, cmds []Command) (uint16, error) {
	var slot uint16
	have := false
	consider := func(key []byte) error {
		if key == nil {
			return nil
		}
		s := azcrc.Slot(key)
		if !have {
			slot, have = s, true
			return nil
		}
		if s != slot {
			return ErrCrossSlot
		}
		return nil
	}
	for _, w := range watch {
		if err := consider([]byte(w)); err != nil {
			return 0, err
		}
	}
	for _, cmd := range cmds {
		if err := consider(cmd.FirstKey); err != nil {
			return 0, err
		}
	}
	if !have {
		return 0, fmt.Errorf("batch: atomic batch has no keyed commands to route")
	}
	return slot, nil
}

// Result is one command's outcome within a non-atomic pipeline: either
// a reply or (when RaiseOnError is false) a captured error.
type Result struct {
	Reply resp.Value
	Err   error
}

// ExecNonAtomic groups cmds by slot, dispatches each group to its
// shard's connection in parallel, and reassembles results in the
// original submission order. When raiseOnError is true, the first
// per-command error aborts the whole batch; otherwise every command's
// outcome — reply or error — is returned in place.
func (e *Engine) ExecNonAtomic(ctx context.Context, cmds []Command, raiseOnError bool) ([]Result, error) {
	groups := make(map[uint16][]int) // slot -> indices into cmds
	for i, cmd := range cmds {
		slot := uint16(0)
		if cmd.FirstKey != nil {
			slot = azcrc.Slot(cmd.FirstKey)
		}
		groups[slot] = append(groups[slot], i)
	}

	results := make([]Result, len(cmds))
	g, gctx := errgroup.WithContext(ctx)
	for slot, indices := range groups {
		slot, indices := slot, indices
		g.Go(func() error {
			shard, err := e.topo.ShardFor(slot, true)
			if err != nil {
				return err
			}
			var node topology.NodeID
			if shard != nil {
				node = shard.Primary
			}
			sender, err := e.connFor(gctx, node)
			if err != nil {
				return err
			}
			for _, idx := range indices {
				reply, err := sender.Send(gctx, resp.EncodeStrings(e.compressArgs(cmds[idx].Args)...))
				if err != nil {
					if raiseOnError {
						return err
					}
					results[idx] = Result{Err: err}
					continue
				}
				if reply.IsError() {
					if raiseOnError {
						return fmt.Errorf("batch: command %d failed: %s", idx, reply.Str)
					}
					results[idx] = Result{Err: fmt.Errorf("batch: command %d failed: %s", idx, reply.Str)}
					continue
				}
				decoded, derr := e.decompressReply(cmds[idx].Args, reply)
				if derr != nil {
					if raiseOnError {
						return derr
					}
					results[idx] = Result{Err: derr}
					continue
				}
				results[idx] = Result{Reply: decoded}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
