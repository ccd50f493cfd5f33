package transform

import (
	"encoding/binary"
	"fmt"
)

// AddrHeaderSize is the fixed size of the sparse/offsets address
// prefix.
const AddrHeaderSize = 8

// SparseEncoder tracks the virtual file address across the blocks of
// one file's data phase and decides, per block, whether to emit an
// address-prefixed buffer or skip a run of zero bytes entirely.
type SparseEncoder struct {
	offsets bool
	addr    uint64
}

// NewSparseEncoder constructs an encoder. offsets selects the
// "always prepend the device-reported read offset" variant rather
// than zero-block elision.
func NewSparseEncoder(offsets bool) *SparseEncoder {
	return &SparseEncoder{offsets: offsets}
}

// Encode applies the sparse stage to one block. fullBlock indicates
// the block is a full-sized read whose tail does not exceed the file
// size — only full blocks are eligible for zero-block elision.
// readOffset is the device-reported offset for the Offsets variant;
// it is ignored otherwise.
//
// Returns (nil, true) when the block is elided; otherwise the
// address-prefixed buffer to emit.
func (s *SparseEncoder) Encode(block []byte, fullBlock bool, readOffset uint64) (out []byte, skipped bool) {
	if s.offsets {
		out = make([]byte, AddrHeaderSize+len(block))
		binary.BigEndian.PutUint64(out, readOffset)
		copy(out[AddrHeaderSize:], block)
		s.addr += uint64(len(block))
		return out, false
	}

	if fullBlock && isAllZero(block) {
		s.addr += uint64(len(block))
		return nil, true
	}

	out = make([]byte, AddrHeaderSize+len(block))
	binary.BigEndian.PutUint64(out, s.addr)
	copy(out[AddrHeaderSize:], block)
	s.addr += uint64(len(block))
	return out, false
}

func isAllZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// DecodeSparseBlock splits an address-prefixed buffer back into its
// file address and payload.
func DecodeSparseBlock(payload []byte) (addr uint64, data []byte, err error) {
	if len(payload) < AddrHeaderSize {
		return 0, nil, fmt.Errorf("transform: sparse block shorter than address header")
	}
	return binary.BigEndian.Uint64(payload), payload[AddrHeaderSize:], nil
}

// SparseWriter is the minimal random-access write surface the restore
// side needs to place sparse blocks at their recorded file address.
type SparseWriter interface {
	WriteAt(p []byte, off int64) (n int, err error)
}

// ApplySparseWrite writes one decoded sparse block at its recorded
// address. Gaps between blocks are left as filesystem holes (or
// zero-filled, depending on the underlying file), matching the
// elision done at encode time.
func ApplySparseWrite(w SparseWriter, addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	_, err := w.WriteAt(data, int64(addr))
	if err != nil {
		return fmt.Errorf("transform: sparse write at %d: %w", addr, err)
	}
	return nil
}
