// Package resp encodes commands and decodes replies for RESP2 and RESP3,
// the wire protocols spoken by Valkey and Redis.
package resp

import (
	"bytes"
	"strconv"
)

// Arg is anything that can be rendered as a single RESP bulk string:
// strings and byte slices both travel as raw bytes on the wire.
type Arg interface{ ~string | ~[]byte }

// EncodeCommand renders args as a RESP array of bulk strings:
//
//	*N\r\n$len\r\nbytes\r\n ... (N times)
func EncodeCommand(args ...[]byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte('*')
	buf.WriteString(strconv.Itoa(len(args)))
	buf.WriteString("\r\n")
	for _, a := range args {
		buf.WriteByte('$')
		buf.WriteString(strconv.Itoa(len(a)))
		buf.WriteString("\r\n")
		buf.Write(a)
		buf.WriteString("\r\n")
	}
	return buf.Bytes()
}

// EncodeStrings is a convenience wrapper over EncodeCommand for callers
// holding plain strings (the common case for command-name wrappers).
func EncodeStrings(args ...string) []byte {
	raw := make([][]byte, len(args))
	for i, a := range args {
		raw[i] = []byte(a)
	}
	return EncodeCommand(raw...)
}
