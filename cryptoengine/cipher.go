package cryptoengine

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
)

// blockSize is fixed to AES's 16 bytes; the session cipher is always
// AES-256-CBC.
const blockSize = aes.BlockSize

// bufferPool mirrors backend/crypt/cipher.go's pool of reusable byte
// slices for per-block work, avoiding an allocation on every Update.
var bufferPool = sync.Pool{
	New: func() interface{} { return make([]byte, 0, 64*1024) },
}

func getBuffer() []byte  { return bufferPool.Get().([]byte)[:0] }
func putBuffer(b []byte) { bufferPool.Put(b) } //nolint:staticcheck

// CipherContext is the per-file encrypt side of the Cipher stage.
// Each call to Update frames its argument behind a 4-byte big-endian
// plaintext-length header, encrypts whole blocks
// immediately, and buffers any partial final block until the next
// call or Finalize. The random per-file IV is emitted once, as plain
// bytes prefixed to the first ciphertext it returns, so Decrypt can
// recover it without an extra record type.
type CipherContext struct {
	mode    cipher.BlockMode
	pending []byte // plaintext awaiting a full block
	ivSent  bool
	iv      []byte
}

// NewCipherContext allocates an encrypting CipherContext under the
// job's session key.
func (e *Engine) NewCipherContext() (*CipherContext, error) {
	block, err := aes.NewCipher(e.sessionKey[:])
	if err != nil {
		return nil, fmt.Errorf("cryptoengine: new cipher: %w", err)
	}
	iv := make([]byte, blockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("cryptoengine: iv: %w", err)
	}
	return &CipherContext{mode: cipher.NewCBCEncrypter(block, iv), iv: iv}, nil
}

// Update encrypts as many whole blocks as the accumulated
// length-prefixed plaintext allows, retaining any remainder inside
// the context. The returned slice may be shorter than plaintext, or
// empty, until a block boundary is crossed.
func (c *CipherContext) Update(plaintext []byte) ([]byte, error) {
	frame := make([]byte, 4+len(plaintext))
	binary.BigEndian.PutUint32(frame, uint32(len(plaintext)))
	copy(frame[4:], plaintext)

	buf := getBuffer()
	buf = append(buf, c.pending...)
	buf = append(buf, frame...)

	wholeLen := (len(buf) / blockSize) * blockSize
	whole := buf[:wholeLen]

	out := make([]byte, 0, blockSize+wholeLen)
	if !c.ivSent {
		out = append(out, c.iv...)
		c.ivSent = true
	}
	if wholeLen > 0 {
		ciphertext := make([]byte, wholeLen)
		c.mode.CryptBlocks(ciphertext, whole)
		out = append(out, ciphertext...)
	}

	c.pending = append(c.pending[:0], buf[wholeLen:]...)
	putBuffer(buf)
	return out, nil
}

// Finalize pads the last partial block with PKCS#7 and encrypts it,
// ending the file's encrypted data phase.
func (c *CipherContext) Finalize() ([]byte, error) {
	padded := pad(blockSize, c.pending)
	out := make([]byte, len(padded))
	c.mode.CryptBlocks(out, padded)
	c.pending = nil
	if !c.ivSent {
		out = append(append([]byte{}, c.iv...), out...)
		c.ivSent = true
	}
	return out, nil
}

// CipherDecodeContext is the restore-side inverse: it recovers the IV
// from the first bytes it sees, decrypts whole ciphertext blocks as
// they accumulate, and hands the resulting plaintext byte stream to a
// Deframer. Any bytes left over at the end of the file's data phase
// are PKCS#7 padding and are discarded by Deframer.Finish, never fed
// back in as a phantom frame.
type CipherDecodeContext struct {
	block    cipher.Block
	mode     cipher.BlockMode
	ivWanted int
	ivBuf    []byte
	pending  []byte
}

// NewCipherDecodeContext allocates a decrypting context under the
// job's session key; the IV is pulled from the first Decrypt call(s).
func (e *Engine) NewCipherDecodeContext() (*CipherDecodeContext, error) {
	block, err := aes.NewCipher(e.sessionKey[:])
	if err != nil {
		return nil, fmt.Errorf("cryptoengine: new cipher: %w", err)
	}
	return &CipherDecodeContext{block: block, ivWanted: blockSize}, nil
}

// Decrypt consumes raw ciphertext bytes (including, on the first
// call(s), the leading IV) and returns whatever plaintext the newly
// completed whole blocks yield. Partial blocks are retained across
// calls: partial ciphertext is retained across
// record boundaries and across EndOfData markers of the data phase".
func (c *CipherDecodeContext) Decrypt(ciphertext []byte) ([]byte, error) {
	if c.mode == nil {
		need := c.ivWanted - len(c.ivBuf)
		if need > len(ciphertext) {
			c.ivBuf = append(c.ivBuf, ciphertext...)
			return nil, nil
		}
		c.ivBuf = append(c.ivBuf, ciphertext[:need]...)
		ciphertext = ciphertext[need:]
		c.mode = cipher.NewCBCDecrypter(c.block, c.ivBuf)
	}

	buf := getBuffer()
	buf = append(buf, c.pending...)
	buf = append(buf, ciphertext...)

	wholeLen := (len(buf) / blockSize) * blockSize
	whole := buf[:wholeLen]

	var plaintext []byte
	if wholeLen > 0 {
		plaintext = make([]byte, wholeLen)
		c.mode.CryptBlocks(plaintext, whole)
	}

	c.pending = append(c.pending[:0], buf[wholeLen:]...)
	putBuffer(buf)
	return plaintext, nil
}

// Finish signals the end of the file's encrypted data phase. Any
// bytes still pending are PKCS#7 padding remnants of the final block
// and are dropped; there is nothing further to decrypt.
func (c *CipherDecodeContext) Finish() {
	c.pending = nil
}
