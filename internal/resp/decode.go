package resp

import (
	"bytes"
	"errors"
	"math"
	"strconv"
)

var (
	posInf = math.Inf(1)
	negInf = math.Inf(-1)
)

// ErrNeedMore signals the buffer holds a partial frame; the caller should
// append more bytes from the socket and retry decoding from the start of
// the same buffer. Decode never consumes bytes it can't fully interpret,
// so retrying is always safe.
var ErrNeedMore = errors.New("resp: need more data")

// DecodeErrorKind distinguishes fatal protocol violations from recoverable
// ones so the caller (the Connection read loop) knows whether to close the
// socket.
type DecodeErrorKind int

const (
	// MalformedFrame is fatal: the byte stream no longer looks like RESP.
	MalformedFrame DecodeErrorKind = iota
	// ValueTooLarge means a length prefix exceeded the configured cap.
	ValueTooLarge
	// UnexpectedType means a RESP3-only type tag arrived on a RESP2
	// connection, or an unrecognized tag byte.
	UnexpectedType
)

// DecodeError wraps a protocol-level failure with its kind.
type DecodeError struct {
	Kind DecodeErrorKind
	Msg  string
}

func (e *DecodeError) Error() string { return e.Msg }

func malformed(msg string) error      { return &DecodeError{Kind: MalformedFrame, Msg: msg} }
func tooLarge(msg string) error       { return &DecodeError{Kind: ValueTooLarge, Msg: msg} }
func unexpectedType(msg string) error { return &DecodeError{Kind: UnexpectedType, Msg: msg} }

// Decoder decodes RESP values from a growing byte buffer. It never copies
// the input buffer; Decode returns slices/strings derived from it, so
// callers must treat the consumed prefix as owned by the returned Value
// until they're done with it (the Connection read loop compacts its
// buffer only after the caller has moved returned bulk payloads elsewhere,
// e.g. into compression decode).
type Decoder struct {
	// MaxBulkLen caps any single bulk string or verbatim string payload;
	// big numbers are not capped. Zero means "use DefaultMaxBulkLen".
	MaxBulkLen int
	// RESP3 enables RESP3-only type tags; when false, encountering one is
	// an UnexpectedType error.
	RESP3 bool
}

// DefaultMaxBulkLen is used when Decoder.MaxBulkLen is zero.
const DefaultMaxBulkLen = 512 * 1024 * 1024

func (d *Decoder) maxBulkLen() int {
	if d.MaxBulkLen <= 0 {
		return DefaultMaxBulkLen
	}
	return d.MaxBulkLen
}

// Decode attempts to parse exactly one RESP value from the front of buf.
// On success it returns the value and the number of bytes consumed. If buf
// holds an incomplete frame it returns ErrNeedMore and consumed == 0. Any
// other error is fatal to the connection (MalformedFrame/UnexpectedType)
// or a configured limit violation (ValueTooLarge).
func (d *Decoder) Decode(buf []byte) (value Value, consumed int, err error) {
	return d.decode(buf, 0)
}

// depth guards against pathological nesting (e.g. a server bug sending
// recursive arrays) from blowing the Go stack.
const maxDecodeDepth = 128

func (d *Decoder) decode(buf []byte, depth int) (Value, int, error) {
	if depth > maxDecodeDepth {
		return Value{}, 0, malformed("resp: nesting too deep")
	}
	if len(buf) == 0 {
		return Value{}, 0, ErrNeedMore
	}

	tag := buf[0]
	switch Type(tag) {
	case TypeSimpleString:
		return d.decodeLine(buf, TypeSimpleString)
	case TypeError:
		return d.decodeLine(buf, TypeError)
	case TypeInteger:
		return d.decodeInteger(buf)
	case TypeBulkString:
		return d.decodeBulk(buf)
	case TypeArray:
		return d.decodeAggregate(buf, depth, TypeArray)
	default:
	}

	if !d.RESP3 {
		return Value{}, 0, unexpectedType("resp: unexpected type tag " + strconv.QuoteRune(rune(tag)) + " on RESP2 connection")
	}

	switch Type(tag) {
	case TypeDouble:
		return d.decodeDouble(buf)
	case TypeBoolean:
		return d.decodeBoolean(buf)
	case TypeNull:
		return d.decodeNull(buf)
	case TypeBigNumber:
		return d.decodeLine(buf, TypeBigNumber)
	case TypeVerbatim:
		return d.decodeVerbatim(buf)
	case TypeMap:
		return d.decodeMap(buf, depth)
	case TypeSet:
		return d.decodeAggregate(buf, depth, TypeSet)
	case TypePush:
		return d.decodeAggregate(buf, depth, TypePush)
	default:
		return Value{}, 0, unexpectedType("resp: unknown type tag " + strconv.QuoteRune(rune(tag)))
	}
}

// findCRLF locates the terminator of the current line starting at buf[1:]
// (buf[0] is the type tag). Returns the index of '\r' or -1 if not found.
func findCRLF(buf []byte) int {
	return bytes.Index(buf, []byte("\r\n"))
}

func (d *Decoder) decodeLine(buf []byte, typ Type) (Value, int, error) {
	idx := findCRLF(buf)
	if idx < 0 {
		return Value{}, 0, ErrNeedMore
	}
	return Value{Type: typ, Str: string(buf[1:idx])}, idx + 2, nil
}

func (d *Decoder) decodeInteger(buf []byte) (Value, int, error) {
	idx := findCRLF(buf)
	if idx < 0 {
		return Value{}, 0, ErrNeedMore
	}
	n, err := strconv.ParseInt(string(buf[1:idx]), 10, 64)
	if err != nil {
		return Value{}, 0, malformed("resp: invalid integer: " + err.Error())
	}
	return Value{Type: TypeInteger, Int: n}, idx + 2, nil
}

func (d *Decoder) decodeDouble(buf []byte) (Value, int, error) {
	idx := findCRLF(buf)
	if idx < 0 {
		return Value{}, 0, ErrNeedMore
	}
	s := string(buf[1:idx])
	var f float64
	var err error
	switch s {
	case "inf":
		f = posInf
	case "-inf":
		f = negInf
	default:
		f, err = strconv.ParseFloat(s, 64)
	}
	if err != nil {
		return Value{}, 0, malformed("resp: invalid double: " + err.Error())
	}
	return Value{Type: TypeDouble, Dbl: f}, idx + 2, nil
}

func (d *Decoder) decodeBoolean(buf []byte) (Value, int, error) {
	idx := findCRLF(buf)
	if idx < 0 {
		return Value{}, 0, ErrNeedMore
	}
	if idx != 2 {
		return Value{}, 0, malformed("resp: invalid boolean")
	}
	switch buf[1] {
	case 't':
		return Value{Type: TypeBoolean, Bool: true}, idx + 2, nil
	case 'f':
		return Value{Type: TypeBoolean, Bool: false}, idx + 2, nil
	default:
		return Value{}, 0, malformed("resp: invalid boolean tag")
	}
}

func (d *Decoder) decodeNull(buf []byte) (Value, int, error) {
	idx := findCRLF(buf)
	if idx < 0 {
		return Value{}, 0, ErrNeedMore
	}
	return Value{Type: TypeNull}, idx + 2, nil
}

func (d *Decoder) decodeBulk(buf []byte) (Value, int, error) {
	idx := findCRLF(buf)
	if idx < 0 {
		return Value{}, 0, ErrNeedMore
	}
	n, err := strconv.Atoi(string(buf[1:idx]))
	if err != nil {
		return Value{}, 0, malformed("resp: invalid bulk length: " + err.Error())
	}
	header := idx + 2
	if n < 0 {
		// RESP2 null bulk string: "$-1\r\n"
		return Value{Type: TypeBulkString, BulkNull: true}, header, nil
	}
	if n > d.maxBulkLen() {
		return Value{}, 0, tooLarge("resp: bulk string exceeds configured cap")
	}
	if len(buf) < header+n+2 {
		return Value{}, 0, ErrNeedMore
	}
	payload := buf[header : header+n]
	return Value{Type: TypeBulkString, Bulk: payload}, header + n + 2, nil
}

func (d *Decoder) decodeVerbatim(buf []byte) (Value, int, error) {
	v, consumed, err := d.decodeBulk(buf)
	if err != nil {
		return Value{}, 0, err
	}
	v.Type = TypeVerbatim
	if len(v.Bulk) < 4 || v.Bulk[3] != ':' {
		return Value{}, 0, malformed("resp: invalid verbatim string format")
	}
	v.VerbatimFormat = string(v.Bulk[:3])
	v.Str = string(v.Bulk[4:])
	v.Bulk = nil
	return v, consumed, nil
}

func (d *Decoder) decodeAggregate(buf []byte, depth int, typ Type) (Value, int, error) {
	idx := findCRLF(buf)
	if idx < 0 {
		return Value{}, 0, ErrNeedMore
	}
	header := string(buf[1:idx])
	total := idx + 2

	if header == "?" {
		if !d.RESP3 {
			return Value{}, 0, unexpectedType("resp: streamed aggregate on RESP2 connection")
		}
		elems, consumed, err := d.decodeStreamedElements(buf[total:], depth)
		if err != nil {
			return Value{}, 0, err
		}
		total += consumed
		return Value{Type: typ, Array: elems}, total, nil
	}

	n, err := strconv.Atoi(header)
	if err != nil {
		return Value{}, 0, malformed("resp: invalid aggregate length: " + err.Error())
	}
	if n < 0 {
		return Value{Type: typ, ArrayNull: true}, total, nil
	}
	elems, consumed, err := d.decodeElements(buf[total:], depth, n)
	if err != nil {
		return Value{}, 0, err
	}
	total += consumed
	return Value{Type: typ, Array: elems}, total, nil
}

// decodeElements reads exactly count elements.
func (d *Decoder) decodeElements(buf []byte, depth int, count int) ([]Value, int, error) {
	elems := make([]Value, 0, count)
	var pos int
	for i := 0; i < count; i++ {
		v, n, err := d.decode(buf[pos:], depth+1)
		if err != nil {
			return nil, 0, err
		}
		elems = append(elems, v)
		pos += n
	}
	return elems, pos, nil
}

// decodeStreamedElements reads elements until the RESP3 streamed-end
// marker ".\r\n", used for aggregates whose length was "?" instead of a
// count (RESP3 streamed aggregates).
func (d *Decoder) decodeStreamedElements(buf []byte, depth int) ([]Value, int, error) {
	var elems []Value
	var pos int
	for {
		if pos >= len(buf) {
			return nil, 0, ErrNeedMore
		}
		if buf[pos] == '.' {
			idx := findCRLF(buf[pos:])
			if idx < 0 {
				return nil, 0, ErrNeedMore
			}
			if idx != 1 {
				return nil, 0, malformed("resp: invalid streamed-end marker")
			}
			pos += idx + 2
			return elems, pos, nil
		}
		v, n, err := d.decode(buf[pos:], depth+1)
		if err != nil {
			return nil, 0, err
		}
		elems = append(elems, v)
		pos += n
	}
}

func (d *Decoder) decodeMap(buf []byte, depth int) (Value, int, error) {
	idx := findCRLF(buf)
	if idx < 0 {
		return Value{}, 0, ErrNeedMore
	}
	n, err := strconv.Atoi(string(buf[1:idx]))
	if err != nil {
		return Value{}, 0, malformed("resp: invalid map length: " + err.Error())
	}
	total := idx + 2
	if n < 0 {
		return Value{}, 0, malformed("resp: map cannot be null")
	}
	entries := make([]MapEntry, 0, n)
	pos := total
	for i := 0; i < n; i++ {
		k, kn, err := d.decode(buf[pos:], depth+1)
		if err != nil {
			return Value{}, 0, err
		}
		pos += kn
		v, vn, err := d.decode(buf[pos:], depth+1)
		if err != nil {
			return Value{}, 0, err
		}
		pos += vn
		entries = append(entries, MapEntry{Key: k, Value: v})
	}
	return Value{Type: TypeMap, Map: entries}, pos, nil
}
