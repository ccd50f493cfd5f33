package transform

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fametec/filed/cryptoengine"
	"github.com/fametec/filed/digest"
	"github.com/fametec/filed/fileattr"
)

func TestSelectDataStreamPlain(t *testing.T) {
	sel, err := SelectDataStream(fileattr.Flags(0), fileattr.CompressNone)
	require.NoError(t, err)
	assert.False(t, sel.Sparse)
	assert.False(t, sel.Encrypt)
}

func TestSelectDataStreamSparseOffsetsExclusive(t *testing.T) {
	_, err := SelectDataStream(fileattr.Sparse|fileattr.Offsets, fileattr.CompressNone)
	assert.Error(t, err)
}

func TestSelectDataStreamOffsetsRejectsNative(t *testing.T) {
	_, err := SelectDataStream(fileattr.Offsets, fileattr.CompressNone) // native is default (PortableLayout unset)
	assert.Error(t, err)
}

func TestSelectDataStreamEncryptClearedBySparse(t *testing.T) {
	sel, err := SelectDataStream(fileattr.PortableLayout|fileattr.Sparse|fileattr.Encrypt, fileattr.CompressNone)
	require.NoError(t, err)
	assert.True(t, sel.Sparse)
	assert.False(t, sel.Encrypt)
}

// S2 — sparse all-zero file: every full block is elided.
func TestSparseEncoderAllZero(t *testing.T) {
	enc := NewSparseEncoder(false)
	block := make([]byte, 4096)
	for offset := 0; offset < 65536; offset += 4096 {
		out, skipped := enc.Encode(block, true, 0)
		assert.True(t, skipped)
		assert.Nil(t, out)
	}
}

// S3 — mixed sparse file: middle block elided, the others carry
// address headers matching their true offsets.
func TestSparseEncoderMixed(t *testing.T) {
	enc := NewSparseEncoder(false)
	first := bytes.Repeat([]byte{0xAA}, 4096)
	zero := make([]byte, 4096)
	third := bytes.Repeat([]byte{0xBB}, 4096)

	out1, skipped1 := enc.Encode(first, true, 0)
	require.False(t, skipped1)
	addr1, data1, err := DecodeSparseBlock(out1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), addr1)
	assert.Equal(t, first, data1)

	_, skipped2 := enc.Encode(zero, true, 0)
	assert.True(t, skipped2)

	out3, skipped3 := enc.Encode(third, true, 0)
	require.False(t, skipped3)
	addr3, data3, err := DecodeSparseBlock(out3)
	require.NoError(t, err)
	assert.Equal(t, uint64(8192), addr3)
	assert.Equal(t, third, data3)
}

func TestGzipBlockRoundTrip(t *testing.T) {
	original := bytes.Repeat([]byte("the quick brown fox "), 500)
	compressed, err := CompressGzipBlock(original, 6)
	require.NoError(t, err)
	decompressed, err := DecompressGzipBlock(compressed)
	require.NoError(t, err)
	assert.Equal(t, original, decompressed)
}

func TestLZOBlockRoundTrip(t *testing.T) {
	original := bytes.Repeat([]byte{0x01, 0x02, 0x03}, 1000)
	compressed, err := CompressLZOBlock(original, 5)
	require.NoError(t, err)
	decompressed, err := DecompressLZOBlock(compressed)
	require.NoError(t, err)
	assert.Equal(t, original, decompressed)
}

// S7 — LZO frame with an unsupported version must fail closed.
func TestLZOBlockBadVersion(t *testing.T) {
	compressed, err := CompressLZOBlock([]byte("x"), 5)
	require.NoError(t, err)
	compressed[6] = 0
	compressed[7] = 2 // version field, big-endian uint16 = 2
	_, err = DecompressLZOBlock(compressed)
	assert.Error(t, err)
}

func TestZstdBlockRoundTrip(t *testing.T) {
	original := bytes.Repeat([]byte("zstd enrichment payload "), 200)
	compressed, err := CompressZstdBlock(original, 3)
	require.NoError(t, err)
	decompressed, err := DecompressZstdBlock(compressed)
	require.NoError(t, err)
	assert.Equal(t, original, decompressed)
}

// S4 — encrypt + gzip: decrypt then ungzip the concatenated payloads
// must reproduce the original bytes.
func TestEncoderDecoderEncryptGzipRoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	eng, err := cryptoengine.NewEngine([]*rsa.PublicKey{&priv.PublicKey}, nil, nil, digest.None)
	require.NoError(t, err)

	cipherCtx, err := eng.NewCipherContext()
	require.NoError(t, err)

	sel := Selection{ID: 0, Encrypt: true}
	digestEngine, err := digest.NewEngine(digest.MD5, digest.None)
	require.NoError(t, err)
	encoder := NewEncoder(sel, fileattr.CompressGzip, 6, digestEngine, cipherCtx)

	original := make([]byte, 10*1024)
	_, err = rand.Read(original)
	require.NoError(t, err)

	const blockSize = 4096
	var ciphertext bytes.Buffer
	for off := 0; off < len(original); off += blockSize {
		end := off + blockSize
		if end > len(original) {
			end = len(original)
		}
		out, err := encoder.Transform(original[off:end], end-off == blockSize, 0)
		require.NoError(t, err)
		ciphertext.Write(out)
	}
	out, err := encoder.Finalize()
	require.NoError(t, err)
	ciphertext.Write(out)

	sessionKey, err := cryptoengine.DecodeSession(eng.SessionRecord(), []*rsa.PrivateKey{priv})
	require.NoError(t, err)
	restoreEng, err := cryptoengine.NewRestoreEngine(sessionKey)
	require.NoError(t, err)
	decodeCtx, err := restoreEng.NewCipherDecodeContext()
	require.NoError(t, err)
	decoder := NewDecoder(fileattr.CompressGzip, decodeCtx)

	var reconstructed bytes.Buffer
	blocks, err := decoder.Feed(ciphertext.Bytes())
	require.NoError(t, err)
	for _, b := range blocks {
		reconstructed.Write(b)
	}
	decoder.Finish()

	assert.Equal(t, original, reconstructed.Bytes())
}
