package compressor

import (
	"bytes"
	"strings"
	"testing"

	"github.com/valkey-io/valkey-glide-sub003/internal/stats"
)

func TestZSTDRoundTrip(t *testing.T) {
	b, err := NewZSTDBackend(ZSTDLevelDefault)
	if err != nil {
		t.Fatal(err)
	}
	src := []byte(strings.Repeat("A", 1024))
	compressed, err := b.Compress(nil, src)
	if err != nil {
		t.Fatal(err)
	}
	out, err := b.Decompress(nil, compressed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, src) {
		t.Fatal("zstd round-trip mismatch")
	}
}

func TestLZ4RoundTrip(t *testing.T) {
	b, err := NewLZ4Backend(LZ4LevelDefault)
	if err != nil {
		t.Fatal(err)
	}
	src := []byte(strings.Repeat("B", 1024))
	compressed, err := b.Compress(nil, src)
	if err != nil {
		t.Fatal(err)
	}
	out, err := b.Decompress(nil, compressed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, src) {
		t.Fatal("lz4 round-trip mismatch")
	}
}

func TestValidateLevelRanges(t *testing.T) {
	if err := ValidateZSTDLevel(ZSTDLevelMin); err != nil {
		t.Errorf("min zstd level should be accepted: %v", err)
	}
	if err := ValidateZSTDLevel(ZSTDLevelMax); err != nil {
		t.Errorf("max zstd level should be accepted: %v", err)
	}
	if err := ValidateZSTDLevel(ZSTDLevelMax + 1); err == nil {
		t.Error("level one beyond zstd max should be rejected")
	}
	if err := ValidateLZ4Level(LZ4LevelMin - 1); err == nil {
		t.Error("level one below lz4 min should be rejected")
	}
	if err := ValidateLZ4Level(LZ4LevelMax); err != nil {
		t.Errorf("max lz4 level should be accepted: %v", err)
	}
}

func TestCodecWritePolicyThreshold(t *testing.T) {
	backend, _ := NewZSTDBackend(ZSTDLevelDefault)
	counters := &stats.Counters{}
	codec := NewCodec(backend, 64, counters)

	below := []byte(strings.Repeat("x", 63))
	out := codec.CompressForWrite(below)
	if !bytes.Equal(out, below) {
		t.Error("value below threshold must be stored unchanged")
	}
	snap := counters.Snapshot()
	if snap.CompressionSkippedCount != 1 || snap.TotalValuesCompressed != 0 {
		t.Errorf("unexpected counters after below-threshold write: %+v", snap)
	}
}

func TestCodecWritePolicyCompressesAtThreshold(t *testing.T) {
	backend, _ := NewZSTDBackend(ZSTDLevelDefault)
	counters := &stats.Counters{}
	codec := NewCodec(backend, 64, counters)

	// Highly compressible payload at exactly the threshold.
	value := []byte(strings.Repeat("A", 64))
	out := codec.CompressForWrite(value)
	if !HasEnvelope(out) {
		t.Fatal("expected compressed envelope for compressible value at threshold")
	}
	if len(out) >= len(value) {
		t.Errorf("compressed output (%d) must be strictly smaller than original (%d)", len(out), len(value))
	}
	snap := counters.Snapshot()
	if snap.TotalValuesCompressed != 1 {
		t.Errorf("expected one compressed value, got %+v", snap)
	}
	if snap.TotalOriginalBytes != uint64(len(value)) {
		t.Errorf("total_original_bytes = %d, want %d", snap.TotalOriginalBytes, len(value))
	}
}

func TestCodecWritePolicyIncompressibleSkips(t *testing.T) {
	backend, _ := NewZSTDBackend(ZSTDLevelDefault)
	counters := &stats.Counters{}
	codec := NewCodec(backend, 64, counters)

	// Random-looking bytes that zstd cannot shrink below the envelope overhead.
	value := make([]byte, 64)
	for i := range value {
		value[i] = byte(i*97 + 53)
	}
	out := codec.CompressForWrite(value)
	if !bytes.Equal(out, value) {
		t.Error("incompressible value must be stored unchanged")
	}
	snap := counters.Snapshot()
	if snap.CompressionSkippedCount != 1 {
		t.Errorf("expected one skip, got %+v", snap)
	}
}

func TestCodecEmptyValueCountsAsSkipped(t *testing.T) {
	backend, _ := NewZSTDBackend(ZSTDLevelDefault)
	counters := &stats.Counters{}
	codec := NewCodec(backend, 64, counters)

	out := codec.CompressForWrite(nil)
	if len(out) != 0 {
		t.Error("empty value must remain empty")
	}
	snap := counters.Snapshot()
	if snap.CompressionSkippedCount != 1 || snap.TotalValuesCompressed != 0 {
		t.Errorf("empty value must count as one skip: %+v", snap)
	}
}

func TestCodecReadPassthroughWithoutEnvelope(t *testing.T) {
	backend, _ := NewZSTDBackend(ZSTDLevelDefault)
	codec := NewCodec(backend, 64, nil)

	plain := []byte("plain-value-no-magic")
	out, err := codec.DecompressForRead(plain)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, plain) {
		t.Error("plain bytes without envelope must pass through unchanged")
	}
}

func TestCodecCrossBackendRead(t *testing.T) {
	zstdBackend, _ := NewZSTDBackend(ZSTDLevelDefault)
	codec := NewCodec(zstdBackend, 1, nil)

	lz4Backend, _ := NewLZ4Backend(LZ4LevelDefault)
	src := []byte(strings.Repeat("C", 256))
	compressed, err := lz4Backend.Compress(nil, src)
	if err != nil {
		t.Fatal(err)
	}
	framed := Wrap(BackendLZ4, compressed)

	out, err := codec.DecompressForRead(framed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, src) {
		t.Error("cross-backend read must still decode using the embedded backend id")
	}
}

func TestUnwrapUnknownBackendID(t *testing.T) {
	framed := Wrap(BackendID(99), []byte("payload"))
	if _, _, err := Unwrap(framed); err == nil {
		t.Error("unknown backend id must error")
	}
}

func TestIsWriteCompressibleExcludesAppendAndSetrange(t *testing.T) {
	if IsWriteCompressible("APPEND") {
		t.Error("APPEND must not be in the compressed write set")
	}
	if IsWriteCompressible("SETRANGE") {
		t.Error("SETRANGE must not be in the compressed write set")
	}
	if !IsWriteCompressible("set") {
		t.Error("SET must be compressible (case-insensitive)")
	}
}

func TestIsReadDecompressible(t *testing.T) {
	if !IsReadDecompressible("mget") {
		t.Error("MGET must be decompressible")
	}
	if IsReadDecompressible("TTL") {
		t.Error("TTL is not a designated read command")
	}
}
