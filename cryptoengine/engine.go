package cryptoengine

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"fmt"

	"github.com/fametec/filed/digest"
)

const sessionKeySize = 32 // AES-256

// sessionBlobVersion is bumped if the wire shape of the encoded
// session record ever changes.
const sessionBlobVersion = 1

// Engine is the job-wide CryptoEngine: it generates one
// random session key per job, wraps it under each recipient's RSA
// public key, and caches the resulting ENCRYPTED_SESSION_DATA record
// so it can be re-emitted at the start of every encrypted file's data
// phase without re-deriving anything.
type Engine struct {
	sessionKey  [sessionKeySize]byte
	sessionBlob []byte

	signer     *rsa.PrivateKey
	signerCert []byte // DER-encoded certificate, opaque to this package
	SignerAlgo digest.Type
}

// NewEngine generates a fresh session key, wraps it for each
// recipient, and optionally configures signing for the job's
// per-file SIGNED_DIGEST record. signer/signerCert may both be nil if
// the job doesn't sign.
func NewEngine(recipients []*rsa.PublicKey, signer *rsa.PrivateKey, signerCert []byte, signerAlgo digest.Type) (*Engine, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("cryptoengine: at least one recipient is required")
	}
	e := &Engine{signer: signer, signerCert: signerCert, SignerAlgo: signerAlgo}
	if _, err := rand.Read(e.sessionKey[:]); err != nil {
		return nil, fmt.Errorf("cryptoengine: session key: %w", err)
	}
	blob, err := encodeSession(e.sessionKey[:], recipients)
	if err != nil {
		return nil, err
	}
	e.sessionBlob = blob
	return e, nil
}

// SessionRecord returns the cached ENCRYPTED_SESSION_DATA payload,
// unchanged for the life of the job.
func (e *Engine) SessionRecord() []byte { return e.sessionBlob }

// Sign produces the signature bytes for a finalized file digest,
// using the job's configured signer key. Returns nil, nil if the job
// has no signer configured.
func (e *Engine) Sign(fileDigest []byte) ([]byte, error) {
	if e.signer == nil {
		return nil, nil
	}
	hashed := sha256.Sum256(fileDigest)
	sig, err := rsa.SignPKCS1v15(rand.Reader, e.signer, crypto.SHA256, hashed[:])
	if err != nil {
		return nil, fmt.Errorf("cryptoengine: sign: %w", err)
	}
	return sig, nil
}

// encodeSession lays out:
//
//	byte    version
//	uint16  key length
//	uint16  recipient count
//	repeated per recipient:
//	  byte    fingerprint length
//	  []byte  fingerprint (sha256 of the recipient's DER public key, truncated to 8 bytes)
//	  uint16  wrapped key length
//	  []byte  wrapped key (RSA-OAEP/SHA-256)
func encodeSession(sessionKey []byte, recipients []*rsa.PublicKey) ([]byte, error) {
	out := []byte{sessionBlobVersion}
	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(sessionKey)))
	out = append(out, lenBuf...)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(recipients)))
	out = append(out, lenBuf...)

	for _, pub := range recipients {
		der, err := x509.MarshalPKIXPublicKey(pub)
		if err != nil {
			return nil, fmt.Errorf("cryptoengine: marshal recipient key: %w", err)
		}
		fp := sha256.Sum256(der)
		fingerprint := fp[:8]

		wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, sessionKey, nil)
		if err != nil {
			return nil, fmt.Errorf("cryptoengine: wrap session key: %w", err)
		}

		out = append(out, byte(len(fingerprint)))
		out = append(out, fingerprint...)
		binary.BigEndian.PutUint16(lenBuf, uint16(len(wrapped)))
		out = append(out, lenBuf...)
		out = append(out, wrapped...)
	}
	return out, nil
}

// DecodeSession unwraps the session key matching one of the caller's
// private keys from an ENCRYPTED_SESSION_DATA payload, for the
// restore side. It tries every supplied key against every recipient
// slot, since fingerprints alone don't prove which key unwraps which
// slot without also attempting the RSA-OAEP decrypt.
func DecodeSession(blob []byte, candidates []*rsa.PrivateKey) (sessionKey []byte, err error) {
	if len(blob) < 5 || blob[0] != sessionBlobVersion {
		return nil, fmt.Errorf("cryptoengine: unrecognized session blob")
	}
	keyLen := int(binary.BigEndian.Uint16(blob[1:3]))
	count := int(binary.BigEndian.Uint16(blob[3:5]))
	pos := 5

	for i := 0; i < count; i++ {
		if pos >= len(blob) {
			return nil, fmt.Errorf("cryptoengine: truncated session blob")
		}
		fpLen := int(blob[pos])
		pos++
		if pos+fpLen+2 > len(blob) {
			return nil, fmt.Errorf("cryptoengine: truncated session blob")
		}
		pos += fpLen
		wrappedLen := int(binary.BigEndian.Uint16(blob[pos : pos+2]))
		pos += 2
		if pos+wrappedLen > len(blob) {
			return nil, fmt.Errorf("cryptoengine: truncated session blob")
		}
		wrapped := blob[pos : pos+wrappedLen]
		pos += wrappedLen

		for _, priv := range candidates {
			key, decErr := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
			if decErr == nil && len(key) == keyLen {
				return key, nil
			}
		}
	}
	return nil, fmt.Errorf("cryptoengine: no candidate key unwraps the session")
}

// NewRestoreEngine builds an Engine for the restore side once the
// session key has been recovered via DecodeSession.
func NewRestoreEngine(sessionKey []byte) (*Engine, error) {
	if len(sessionKey) != sessionKeySize {
		return nil, fmt.Errorf("cryptoengine: session key must be %d bytes, got %d", sessionKeySize, len(sessionKey))
	}
	e := &Engine{}
	copy(e.sessionKey[:], sessionKey)
	return e, nil
}
