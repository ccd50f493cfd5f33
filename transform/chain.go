package transform

import (
	"fmt"

	"github.com/fametec/filed/cryptoengine"
	"github.com/fametec/filed/digest"
	"github.com/fametec/filed/fileattr"
)

// Encoder drives the per-file forward chain BackupFSM's ReadLoop
// calls once per block read: digest update, then sparse/offset prefix,
// then compression, then cipher. Digest is fed the pre-sparse,
// pre-compress plaintext, a job-wide choice, so a restored file's
// digest is independent of whichever compression or sparse
// representation happened to be chosen for the wire. See DESIGN.md's
// Open Question decisions.
type Encoder struct {
	sel           Selection
	sparse        *SparseEncoder
	compressAlgo  fileattr.CompressAlgo
	compressLevel int
	digestEngine  *digest.Engine
	cipher        *cryptoengine.CipherContext
}

// NewEncoder builds an Encoder for one file's data phase. digestEngine
// and cipher may be nil when the file carries no digest or isn't
// encrypted.
func NewEncoder(sel Selection, compressAlgo fileattr.CompressAlgo, compressLevel int, digestEngine *digest.Engine, cipher *cryptoengine.CipherContext) *Encoder {
	e := &Encoder{
		sel:           sel,
		compressAlgo:  compressAlgo,
		compressLevel: compressLevel,
		digestEngine:  digestEngine,
		cipher:        cipher,
	}
	if sel.Sparse || sel.Offsets {
		e.sparse = NewSparseEncoder(sel.Offsets)
	}
	return e
}

// Transform applies the chain to one block. fullBlock and readOffset
// are only consulted when the sparse stage is active. A nil, nil
// return means the block was zero-elided: nothing should be emitted
// for it.
func (e *Encoder) Transform(block []byte, fullBlock bool, readOffset uint64) ([]byte, error) {
	if e.digestEngine != nil {
		e.digestEngine.Update(block)
	}

	buf := block
	if e.sparse != nil {
		out, skipped := e.sparse.Encode(block, fullBlock, readOffset)
		if skipped {
			return nil, nil
		}
		buf = out
	}

	var err error
	switch e.compressAlgo {
	case fileattr.CompressGzip:
		buf, err = CompressGzipBlock(buf, e.compressLevel)
	case fileattr.CompressLZO:
		buf, err = CompressLZOBlock(buf, e.compressLevel)
	case fileattr.CompressZstd:
		buf, err = CompressZstdBlock(buf, e.compressLevel)
	}
	if err != nil {
		return nil, fmt.Errorf("transform: compress: %w", err)
	}

	if e.cipher != nil {
		return e.cipher.Update(buf)
	}
	return buf, nil
}

// Finalize flushes any buffered cipher bytes at end of file. It
// returns nil, nil when the file isn't encrypted.
func (e *Encoder) Finalize() ([]byte, error) {
	if e.cipher == nil {
		return nil, nil
	}
	return e.cipher.Finalize()
}

// Decoder drives the restore-side inverse chain: cipher
// decrypt, packet-length deframe (only meaningful when encrypted —
// otherwise each Record already carries exactly one block), then
// decompress. Sparse re-seeking is left to the caller, since it needs
// a random-access file handle this package has no business owning.
type Decoder struct {
	compressAlgo fileattr.CompressAlgo
	cipher       *cryptoengine.CipherDecodeContext
	deframer     cryptoengine.Deframer
}

// NewDecoder builds a Decoder for one file's data phase. cipher is nil
// when the stream isn't encrypted.
func NewDecoder(compressAlgo fileattr.CompressAlgo, cipher *cryptoengine.CipherDecodeContext) *Decoder {
	return &Decoder{compressAlgo: compressAlgo, cipher: cipher}
}

// Feed accepts one wire record's payload and returns zero or more
// decompressed blocks (each one corresponding to a single original
// Encoder.Transform call's output — still sparse-header-prefixed if
// the file's selection carried Sparse or Offsets).
func (d *Decoder) Feed(payload []byte) ([][]byte, error) {
	var frames [][]byte
	if d.cipher != nil {
		plaintext, err := d.cipher.Decrypt(payload)
		if err != nil {
			return nil, fmt.Errorf("transform: decrypt: %w", err)
		}
		frames = d.deframer.Feed(plaintext)
	} else {
		frames = [][]byte{payload}
	}

	out := make([][]byte, 0, len(frames))
	for _, f := range frames {
		block, err := d.decompress(f)
		if err != nil {
			return nil, err
		}
		out = append(out, block)
	}
	return out, nil
}

func (d *Decoder) decompress(payload []byte) ([]byte, error) {
	switch d.compressAlgo {
	case fileattr.CompressGzip:
		return DecompressGzipBlock(payload)
	case fileattr.CompressLZO:
		return DecompressLZOBlock(payload)
	case fileattr.CompressZstd:
		return DecompressZstdBlock(payload)
	default:
		return payload, nil
	}
}

// Finish signals the end of the file's data phase, discarding any
// PKCS#7 padding remnant still buffered in the cipher/deframer.
func (d *Decoder) Finish() {
	if d.cipher != nil {
		d.cipher.Finish()
		d.deframer.Finish()
	}
}
