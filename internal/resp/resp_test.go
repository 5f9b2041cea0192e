package resp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeCommand(t *testing.T) {
	got := EncodeStrings("SET", "k", "v")
	require.Equal(t, "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n", string(got))
}

func TestDecodeSimpleString(t *testing.T) {
	d := &Decoder{}
	v, n, err := d.Decode([]byte("+OK\r\n"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, TypeSimpleString, v.Type)
	require.Equal(t, "OK", v.Str)
}

func TestDecodeNeedMore(t *testing.T) {
	d := &Decoder{}
	_, _, err := d.Decode([]byte("$5\r\nhel"))
	require.ErrorIs(t, err, ErrNeedMore)

	_, _, err = d.Decode([]byte("+OK"))
	require.ErrorIs(t, err, ErrNeedMore)

	_, _, err = d.Decode(nil)
	require.ErrorIs(t, err, ErrNeedMore)
}

func TestDecodeBulkString(t *testing.T) {
	d := &Decoder{}
	v, n, err := d.Decode([]byte("$5\r\nhello\r\n"))
	require.NoError(t, err)
	require.Equal(t, 11, n)
	require.Equal(t, []byte("hello"), v.Bulk)
	require.False(t, v.BulkNull)
}

func TestDecodeNullBulk(t *testing.T) {
	d := &Decoder{}
	v, n, err := d.Decode([]byte("$-1\r\n"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.True(t, v.BulkNull)
	require.True(t, v.IsNull())
}

func TestDecodeInteger(t *testing.T) {
	d := &Decoder{}
	v, _, err := d.Decode([]byte(":1000\r\n"))
	require.NoError(t, err)
	require.Equal(t, int64(1000), v.Int)

	v, _, err = d.Decode([]byte(":-5\r\n"))
	require.NoError(t, err)
	require.Equal(t, int64(-5), v.Int)
}

func TestDecodeError(t *testing.T) {
	d := &Decoder{}
	v, _, err := d.Decode([]byte("-ERR something bad\r\n"))
	require.NoError(t, err)
	require.True(t, v.IsError())
	require.Equal(t, "ERR something bad", v.Str)
}

func TestDecodeArray(t *testing.T) {
	d := &Decoder{}
	v, n, err := d.Decode([]byte("*2\r\n$3\r\nfoo\r\n:7\r\n"))
	require.NoError(t, err)
	require.Equal(t, 17, n)
	require.Len(t, v.Array, 2)
	require.Equal(t, []byte("foo"), v.Array[0].Bulk)
	require.Equal(t, int64(7), v.Array[1].Int)
}

func TestDecodeNullArray(t *testing.T) {
	d := &Decoder{}
	v, _, err := d.Decode([]byte("*-1\r\n"))
	require.NoError(t, err)
	require.True(t, v.ArrayNull)
	require.True(t, v.IsNull())
}

func TestDecodeNestedArray(t *testing.T) {
	d := &Decoder{}
	v, _, err := d.Decode([]byte("*1\r\n*2\r\n:1\r\n:2\r\n"))
	require.NoError(t, err)
	require.Len(t, v.Array, 1)
	require.Len(t, v.Array[0].Array, 2)
}

func TestDecodeRESP3Types(t *testing.T) {
	d := &Decoder{RESP3: true}

	v, _, err := d.Decode([]byte(",3.14\r\n"))
	require.NoError(t, err)
	require.Equal(t, TypeDouble, v.Type)
	require.InDelta(t, 3.14, v.Dbl, 0.0001)

	v, _, err = d.Decode([]byte("#t\r\n"))
	require.NoError(t, err)
	require.True(t, v.Bool)

	v, _, err = d.Decode([]byte("#f\r\n"))
	require.NoError(t, err)
	require.False(t, v.Bool)

	v, _, err = d.Decode([]byte("_\r\n"))
	require.NoError(t, err)
	require.True(t, v.IsNull())

	v, _, err = d.Decode([]byte("(3492890328409238509324850943850943825024385\r\n"))
	require.NoError(t, err)
	require.Equal(t, TypeBigNumber, v.Type)

	v, _, err = d.Decode([]byte("=15\r\ntxt:Some string\r\n"))
	require.NoError(t, err)
	require.Equal(t, "txt", v.VerbatimFormat)
	require.Equal(t, "Some string", v.Str)

	v, _, err = d.Decode([]byte("%2\r\n$3\r\nkey\r\n:1\r\n$3\r\nfoo\r\n:2\r\n"))
	require.NoError(t, err)
	require.Len(t, v.Map, 2)
	require.Equal(t, []byte("key"), v.Map[0].Key.Bulk)

	v, _, err = d.Decode([]byte("~2\r\n:1\r\n:2\r\n"))
	require.NoError(t, err)
	require.Equal(t, TypeSet, v.Type)

	v, _, err = d.Decode([]byte(">3\r\n$7\r\nmessage\r\n$2\r\nch\r\n$2\r\nhi\r\n"))
	require.NoError(t, err)
	require.Equal(t, TypePush, v.Type)
	require.Len(t, v.Array, 3)
}

func TestDecodeRESP3RejectedOnRESP2(t *testing.T) {
	d := &Decoder{RESP3: false}
	_, _, err := d.Decode([]byte(",3.14\r\n"))
	var derr *DecodeError
	require.ErrorAs(t, err, &derr)
	require.Equal(t, UnexpectedType, derr.Kind)
}

func TestDecodeStreamedArray(t *testing.T) {
	d := &Decoder{RESP3: true}
	v, n, err := d.Decode([]byte("*?\r\n:1\r\n:2\r\n.\r\n"))
	require.NoError(t, err)
	require.Equal(t, 15, n)
	require.Len(t, v.Array, 2)
}

func TestDecodeValueTooLarge(t *testing.T) {
	d := &Decoder{MaxBulkLen: 3}
	_, _, err := d.Decode([]byte("$10\r\n0123456789\r\n"))
	var derr *DecodeError
	require.ErrorAs(t, err, &derr)
	require.Equal(t, ValueTooLarge, derr.Kind)
}

func TestDecodeMalformedInteger(t *testing.T) {
	d := &Decoder{}
	_, _, err := d.Decode([]byte(":notanumber\r\n"))
	var derr *DecodeError
	require.ErrorAs(t, err, &derr)
	require.Equal(t, MalformedFrame, derr.Kind)
}

func TestDecodeIdempotenceRoundtrip(t *testing.T) {
	// encoding-then-decoding any bulk command round trips to the same bytes.
	cmd := EncodeStrings("SET", "key", "value with spaces \r\n weirdness")
	d := &Decoder{}
	v, n, err := d.Decode(cmd)
	require.NoError(t, err)
	require.Equal(t, len(cmd), n)
	require.Equal(t, TypeArray, v.Type)
	require.Equal(t, []byte("SET"), v.Array[0].Bulk)
	require.Equal(t, []byte("value with spaces \r\n weirdness"), v.Array[2].Bulk)
}
