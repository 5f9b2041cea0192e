package compressor

import "fmt"

// envelopeMagic is the fixed 4-byte prefix that marks a stored value as
// compressed. It is an implementation-chosen constant (spec.md §6 leaves
// the exact bytes to the implementation, only mandating "fixed 4-byte
// magic, documented"); chosen here to be vanishingly unlikely to appear
// as the start of an uncompressed application value.
var envelopeMagic = [4]byte{0xB5, 0x4E, 0x9A, 0x01}

const envelopeHeaderLen = 5 // 4-byte magic + 1-byte backend id

// HasEnvelope reports whether b begins with the compression magic.
func HasEnvelope(b []byte) bool {
	if len(b) < envelopeHeaderLen {
		return false
	}
	return b[0] == envelopeMagic[0] && b[1] == envelopeMagic[1] && b[2] == envelopeMagic[2] && b[3] == envelopeMagic[3]
}

// Wrap frames a backend's compressed payload behind the envelope header.
func Wrap(id BackendID, payload []byte) []byte {
	out := make([]byte, 0, envelopeHeaderLen+len(payload))
	out = append(out, envelopeMagic[:]...)
	out = append(out, byte(id))
	out = append(out, payload...)
	return out
}

// EnvelopeError reports a malformed envelope or an unrecognized backend
// id (spec.md §7: "DecodeError — compression envelope malformed or
// unknown backend id").
type EnvelopeError struct {
	Msg string
}

func (e *EnvelopeError) Error() string { return "compressor: " + e.Msg }

// Unwrap splits a framed value into its backend id and payload. b must
// already have been confirmed to carry the magic via HasEnvelope.
func Unwrap(b []byte) (BackendID, []byte, error) {
	if len(b) < envelopeHeaderLen {
		return 0, nil, &EnvelopeError{Msg: fmt.Sprintf("envelope too short: %d bytes", len(b))}
	}
	id := BackendID(b[4])
	if id != BackendZSTD && id != BackendLZ4 {
		return 0, nil, &EnvelopeError{Msg: fmt.Sprintf("unknown backend id %d", id)}
	}
	return id, b[envelopeHeaderLen:], nil
}
