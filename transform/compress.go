package transform

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/buengese/sgzip"
	"github.com/cyberdelia/lzo"
	"github.com/klauspost/compress/zstd"
)

const (
	lzoHeaderSize = 12
	lzoMagic      = 0x4c5a4f58
	lzoVersion    = 1
)

// CompressGzipBlock/DecompressGzipBlock compress one block as a
// standalone sgzip member, the same library backend/compress/compress.go
// wires in for its gzip path. A stateful stream
// "re-parameterized per file for level, then finalized and reset for
// each block" — this package reads "reset for each block" as a fresh
// writer per block rather than literal internal-state reset, so
// neither side of the restore path depends on buffering state across
// record boundaries.
func CompressGzipBlock(block []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := sgzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("transform: gzip init: %w", err)
	}
	if _, err := w.Write(block); err != nil {
		return nil, fmt.Errorf("transform: gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("transform: gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// DecompressGzipBlock inverts CompressGzipBlock.
func DecompressGzipBlock(payload []byte) ([]byte, error) {
	r, err := sgzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("transform: gzip reader: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("transform: gzip read: %w", err)
	}
	return out, nil
}

// CompressLZOBlock/DecompressLZOBlock implement the 12-byte header
// framing used here: magic, level, version, size.
func CompressLZOBlock(block []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzo.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("transform: lzo init: %w", err)
	}
	if _, err := w.Write(block); err != nil {
		return nil, fmt.Errorf("transform: lzo write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("transform: lzo close: %w", err)
	}
	compressed := buf.Bytes()

	header := make([]byte, lzoHeaderSize)
	binary.BigEndian.PutUint32(header[0:4], lzoMagic)
	binary.BigEndian.PutUint16(header[4:6], uint16(level))
	binary.BigEndian.PutUint16(header[6:8], lzoVersion)
	binary.BigEndian.PutUint32(header[8:12], uint32(len(compressed)))
	return append(header, compressed...), nil
}

// DecompressLZOBlock validates the header ("the
// receiver validates version == 1 and that size + header ==
// frame_length") before inflating the body.
func DecompressLZOBlock(payload []byte) ([]byte, error) {
	if len(payload) < lzoHeaderSize {
		return nil, fmt.Errorf("transform: lzo frame shorter than header")
	}
	header := payload[:lzoHeaderSize]
	if binary.BigEndian.Uint32(header[0:4]) != lzoMagic {
		return nil, fmt.Errorf("transform: bad lzo magic")
	}
	version := binary.BigEndian.Uint16(header[6:8])
	if version != lzoVersion {
		return nil, fmt.Errorf("transform: unsupported lzo frame version %d", version)
	}
	size := binary.BigEndian.Uint32(header[8:12])
	body := payload[lzoHeaderSize:]
	if uint32(len(body)) != size || uint32(len(payload)) != lzoHeaderSize+size {
		return nil, fmt.Errorf("transform: lzo frame length mismatch: header says %d, got %d", size, len(body))
	}
	r, err := lzo.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("transform: lzo reader: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// CompressZstdBlock/DecompressZstdBlock are a domain-stack enrichment
// not in the original catalog: zstd mirrors rclone's
// own backend/compress/zstd_handler.go usage of
// github.com/klauspost/compress/zstd.
func CompressZstdBlock(block []byte, level int) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("transform: zstd init: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(block, nil), nil
}

func DecompressZstdBlock(payload []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("transform: zstd reader init: %w", err)
	}
	defer dec.Close()
	return dec.DecodeAll(payload, nil)
}
