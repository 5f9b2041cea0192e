// Package compressor implements the pluggable value-compression codec
// (C3): a framed envelope around a backend-native payload, plus the
// write/read policies that decide when to compress and when to pass
// bytes through unchanged. Grounded on the teacher's pkg/cache package,
// which wraps klauspost/compress and pierrec/lz4 behind a small interface
// for memcached/redis cache value codecs (see DESIGN.md).
package compressor

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// BackendID identifies the compression algorithm embedded in an
// envelope's second byte. Values are part of the wire/at-rest format
// and must never change once assigned.
type BackendID byte

const (
	BackendZSTD BackendID = 1
	BackendLZ4  BackendID = 2
)

func (b BackendID) String() string {
	switch b {
	case BackendZSTD:
		return "zstd"
	case BackendLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("backend(%d)", byte(b))
	}
}

// Backend compresses and decompresses whole values. Implementations own
// their own level validation and are safe for concurrent use.
type Backend interface {
	ID() BackendID
	Compress(dst []byte, src []byte) ([]byte, error)
	Decompress(dst []byte, src []byte) ([]byte, error)
}

// ZSTD level range per spec: -131072..=22, default 3.
const (
	ZSTDLevelMin     = -131072
	ZSTDLevelMax     = 22
	ZSTDLevelDefault = 3
)

// LZ4 level range per spec: -128..=12, default 0.
const (
	LZ4LevelMin     = -128
	LZ4LevelMax     = 12
	LZ4LevelDefault = 0
)

// ValidateZSTDLevel rejects a level outside the backend's supported
// range; callers turn this into a ConfigurationError at client
// construction time.
func ValidateZSTDLevel(level int) error {
	if level < ZSTDLevelMin || level > ZSTDLevelMax {
		return fmt.Errorf("zstd compression level %d out of range [%d, %d]", level, ZSTDLevelMin, ZSTDLevelMax)
	}
	return nil
}

// ValidateLZ4Level rejects a level outside the backend's supported range.
func ValidateLZ4Level(level int) error {
	if level < LZ4LevelMin || level > LZ4LevelMax {
		return fmt.Errorf("lz4 compression level %d out of range [%d, %d]", level, LZ4LevelMin, LZ4LevelMax)
	}
	return nil
}

type zstdBackend struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZSTDBackend builds a reusable ZSTD backend at the given level. The
// encoder/decoder pair is built once and reused across Compress calls,
// matching zstd's documented concurrent-safe usage pattern.
func NewZSTDBackend(level int) (Backend, error) {
	if err := ValidateZSTDLevel(level); err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdSDKLevel(level)))
	if err != nil {
		return nil, fmt.Errorf("compressor: build zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("compressor: build zstd decoder: %w", err)
	}
	return &zstdBackend{encoder: enc, decoder: dec}, nil
}

// zstdSDKLevel maps our signed spec-level range onto the klauspost/compress
// EncoderLevel enum; values outside its own small enum fall back to the
// nearest supported speed/ratio tradeoff, since the underlying library
// doesn't expose the full negative range the spec allows for.
func zstdSDKLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 1:
		return zstd.SpeedFastest
	case level <= 3:
		return zstd.SpeedDefault
	case level <= 9:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

func (z *zstdBackend) ID() BackendID { return BackendZSTD }

func (z *zstdBackend) Compress(dst, src []byte) ([]byte, error) {
	return z.encoder.EncodeAll(src, dst), nil
}

func (z *zstdBackend) Decompress(dst, src []byte) ([]byte, error) {
	out, err := z.decoder.DecodeAll(src, dst)
	if err != nil {
		return nil, fmt.Errorf("compressor: zstd decode: %w", err)
	}
	return out, nil
}

type lz4Backend struct {
	level lz4.CompressionLevel
}

// NewLZ4Backend builds an LZ4 backend at the given level.
func NewLZ4Backend(level int) (Backend, error) {
	if err := ValidateLZ4Level(level); err != nil {
		return nil, err
	}
	return &lz4Backend{level: lz4SDKLevel(level)}, nil
}

func lz4SDKLevel(level int) lz4.CompressionLevel {
	if level <= 0 {
		return lz4.Fast
	}
	return lz4.Level(level)
}

func (l *lz4Backend) ID() BackendID { return BackendLZ4 }

func (l *lz4Backend) Compress(dst, src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	defer w.Close()
	if err := w.Apply(lz4.CompressionLevelOption(l.level)); err != nil {
		return nil, fmt.Errorf("compressor: configure lz4 writer: %w", err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("compressor: lz4 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compressor: lz4 close: %w", err)
	}
	return append(dst, buf.Bytes()...), nil
}

func (l *lz4Backend) Decompress(dst, src []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(src))
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("compressor: lz4 decode: %w", err)
	}
	return append(dst, buf.Bytes()...), nil
}
