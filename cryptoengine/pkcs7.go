// Package cryptoengine implements CryptoEngine and CipherContext:
// per-job session-key establishment, per-file cipher allocation, the
// length-prefixed block-cipher packet format, and signature emission.
//
// Structurally grounded on backend/crypt/cipher.go — the sync.Pool
// buffer reuse, the encrypter/decrypter struct pair with an internal
// read-ahead buffer, and the finish/unFinish lifecycle are all adapted
// from there. The actual cryptographic scheme differs: this package
// uses an RSA-wrapped-per-recipient session key and a 4-byte
// plaintext-length-prefixed block cipher packet, not a
// nacl/secretbox shared secret, so AES-CBC + RSA-OAEP (stdlib
// crypto/aes, crypto/cipher, crypto/rsa) replace
// golang.org/x/crypto/nacl/secretbox here — see DESIGN.md.
package cryptoengine

import (
	"bytes"
	"fmt"
)

// pad/unpad are a small PKCS#7 helper in the same (blockSize, buf)
// calling convention as rclone's backend/crypt/pkcs7 package
// (itself only present in the retrieval pack as a test file —
// cipher.go's calls `pkcs7.Pad(nameCipherBlockSize, []byte(plaintext))`
// / `pkcs7.Unpad(nameCipherBlockSize, paddedPlaintext)` fix the shape).

func pad(blockSize int, buf []byte) []byte {
	padLen := blockSize - len(buf)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(buf, padding...)
}

func unpad(blockSize int, buf []byte) ([]byte, error) {
	if len(buf) == 0 || len(buf)%blockSize != 0 {
		return nil, fmt.Errorf("cryptoengine: bad padded buffer length %d", len(buf))
	}
	padLen := int(buf[len(buf)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(buf) {
		return nil, fmt.Errorf("cryptoengine: bad padding length %d", padLen)
	}
	for _, b := range buf[len(buf)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("cryptoengine: bad padding bytes")
		}
	}
	return buf[:len(buf)-padLen], nil
}
