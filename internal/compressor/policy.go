package compressor

import (
	"strings"

	"github.com/valkey-io/valkey-glide-sub003/internal/resp"
	"github.com/valkey-io/valkey-glide-sub003/internal/stats"
)

// MinCompressionSizeDefault and MinCompressionSizeFloor implement
// "default 64 bytes, never below 64" from spec.md §4.3.
const (
	MinCompressionSizeDefault = 64
	MinCompressionSizeFloor   = 64
)

// Codec applies the write/read compression policy around a single
// Backend, using min_compression_size as the write threshold and
// recording every outcome in a shared stats.Counters.
type Codec struct {
	backend   Backend
	threshold int
	counters  *stats.Counters
}

// NewCodec builds a Codec. minCompressionSize below the floor is clamped
// up, never down, so a misconfigured small value can't defeat the floor.
func NewCodec(backend Backend, minCompressionSize int, counters *stats.Counters) *Codec {
	if minCompressionSize < MinCompressionSizeFloor {
		minCompressionSize = MinCompressionSizeFloor
	}
	return &Codec{backend: backend, threshold: minCompressionSize, counters: counters}
}

// CompressForWrite applies the write policy to a single value: compress
// only if long enough, and only keep the result if it is strictly
// smaller than the original. Empty values are never compressed.
func (c *Codec) CompressForWrite(value []byte) []byte {
	if len(value) == 0 || len(value) < c.threshold {
		if c.counters != nil {
			c.counters.RecordSkipped()
		}
		return value
	}
	compressed, err := c.backend.Compress(nil, value)
	if err != nil || len(compressed) >= len(value) {
		if c.counters != nil {
			c.counters.RecordSkipped()
		}
		return value
	}
	framed := Wrap(c.backend.ID(), compressed)
	if len(framed) >= len(value) {
		if c.counters != nil {
			c.counters.RecordSkipped()
		}
		return value
	}
	if c.counters != nil {
		c.counters.RecordCompressed(len(value), len(framed))
	}
	return framed
}

// DecompressForRead applies the read policy to a single bulk reply:
// bytes without the envelope magic pass through unchanged; bytes with a
// recognized backend id are decompressed; an unrecognized backend id is
// an error the caller surfaces as a DecodeError.
func (c *Codec) DecompressForRead(value []byte) ([]byte, error) {
	if !HasEnvelope(value) {
		return value, nil
	}
	id, payload, err := Unwrap(value)
	if err != nil {
		return nil, err
	}
	backend := c.backend
	if backend.ID() != id {
		// Cross-backend read: build a throwaway backend of the envelope's
		// own id rather than assume the codec's configured backend
		// matches, per spec.md §4.3 ("Cross-backend reads succeed").
		fallback, ferr := newDefaultBackend(id)
		if ferr != nil {
			return nil, ferr
		}
		backend = fallback
	}
	out, err := backend.Decompress(nil, payload)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DecompressReply applies the read policy across reply's full shape: a
// single bulk string (GET, GETEX, GETDEL) or an array of bulk strings
// (MGET), scanning each element for the envelope prefix rather than
// assuming a lone top-level bulk (spec.md §4.3: "scan each bulk reply").
func (c *Codec) DecompressReply(reply resp.Value) (resp.Value, error) {
	switch reply.Type {
	case resp.TypeArray:
		if reply.ArrayNull {
			return reply, nil
		}
		out := make([]resp.Value, len(reply.Array))
		for i, elem := range reply.Array {
			if elem.Type == resp.TypeBulkString && !elem.BulkNull {
				decoded, err := c.DecompressForRead(elem.Bulk)
				if err != nil {
					return resp.Value{}, err
				}
				elem.Bulk = decoded
			}
			out[i] = elem
		}
		reply.Array = out
		return reply, nil
	case resp.TypeBulkString:
		if reply.BulkNull {
			return reply, nil
		}
		decoded, err := c.DecompressForRead(reply.Bulk)
		if err != nil {
			return resp.Value{}, err
		}
		reply.Bulk = decoded
		return reply, nil
	default:
		return reply, nil
	}
}

func newDefaultBackend(id BackendID) (Backend, error) {
	switch id {
	case BackendZSTD:
		return NewZSTDBackend(ZSTDLevelDefault)
	case BackendLZ4:
		return NewLZ4Backend(LZ4LevelDefault)
	default:
		return nil, &EnvelopeError{Msg: "unknown backend id"}
	}
}

// writeCommands are the designated write commands whose value arguments
// are eligible for compression (spec.md §4.3). APPEND and SETRANGE are
// deliberately excluded: both mutate a stored value in place server-side,
// which would break a previously-written envelope (spec.md §9 open
// question, resolved against compressing them).
var writeCommands = map[string]bool{
	"SET": true, "SETEX": true, "PSETEX": true, "SETNX": true,
	"MSET": true, "MSETNX": true, "GETSET": true,
}

// readCommands are the designated read commands whose bulk replies are
// scanned for the envelope prefix.
var readCommands = map[string]bool{
	"GET": true, "MGET": true, "GETEX": true, "GETDEL": true,
}

// IsWriteCompressible reports whether cmd is one of the designated
// write commands eligible for value compression.
func IsWriteCompressible(cmd string) bool {
	return writeCommands[strings.ToUpper(cmd)]
}

// WriteValueIndices returns the argument indices holding value payloads
// for cmd, given its total argument count (including the command name
// itself at index 0). Multi-value commands like MSET/MSETNX report every
// value slot, not just the last one (spec.md §4.3: "each value-bearing
// slot").
func WriteValueIndices(cmd string, argc int) []int {
	switch strings.ToUpper(cmd) {
	case "SET", "SETNX", "GETSET":
		if argc > 2 {
			return []int{2}
		}
	case "SETEX", "PSETEX":
		if argc > 3 {
			return []int{3}
		}
	case "MSET", "MSETNX":
		var indices []int
		for i := 2; i < argc; i += 2 {
			indices = append(indices, i)
		}
		return indices
	}
	return nil
}

// IsReadDecompressible reports whether cmd is one of the designated
// read commands whose bulk replies get scanned for the envelope prefix.
func IsReadDecompressible(cmd string) bool {
	return readCommands[strings.ToUpper(cmd)]
}
