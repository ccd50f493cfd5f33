// Package restorefsm implements RestoreFSM: the
// receive-side per-file state machine that dispatches by stream id,
// drives a file's decrypt → deframe → decompress → sparse-seek →
// write pipeline, buffers ACL/xattr records in a DelayQueue until the
// file's attributes are set, and verifies a pending signature at
// CloseCurrent.
//
// Like backupfsm, this has no single teacher analogue; it is written
// directly, in the module's established idiom.
package restorefsm

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/fametec/filed/cryptoengine"
	"github.com/fametec/filed/digest"
	"github.com/fametec/filed/fileattr"
	"github.com/fametec/filed/jobctx"
	"github.com/fametec/filed/metadata"
	"github.com/fametec/filed/record"
	"github.com/fametec/filed/streamid"
	"github.com/fametec/filed/transform"
)

// ReplaceMode controls OpenTarget's creation policy.
type ReplaceMode int

const (
	ReplaceAlways ReplaceMode = iota
	ReplaceIfNewer
	ReplaceIfOlder
	ReplaceNever
)

// Target is the per-file random-access output handle RestoreFSM
// writes decoded blocks to.
type Target interface {
	WriteAt(p []byte, off int64) (int, error)
	Close() error
}

// Collaborators are the filesystem-specific operations RestoreFSM
// delegates to rather than owning directly — mirroring how this module
// treats OS specifics elsewhere (MetadataBackend, FileSource): this
// package owns the protocol state machine, not what a given mode bit
// means on disk.
type Collaborators struct {
	// PathMapper rewrites a wire path to a local disk path. A nil
	// mapper uses the wire path unchanged.
	PathMapper func(wirePath string) string
	// Stat reports an existing target's mtime for the replace policy.
	// ok is false when nothing exists at path.
	Stat func(path string) (mtime time.Time, ok bool)
	// OpenForWrite creates/truncates path and returns a writable
	// handle for a file whose data phase is about to begin.
	OpenForWrite func(path string, pkt fileattr.Packet) (Target, error)
	// CreateNonRegular handles any classification that never opens a
	// data phase (symlinks, directories, deleted markers, plugin
	// config, …): creating a symlink, making a directory, or simply
	// recording attributes — whatever the Packet's Stat.Mode and
	// LinkTarget call for.
	CreateNonRegular func(path string, pkt fileattr.Packet) error
	// SetFinalAttrs applies mode/uid/gid/mtime once a file's data
	// phase (if any) has finished.
	SetFinalAttrs func(path string, pkt fileattr.Packet) error
}

// Report accumulates the restore-side counters that need to be
// surfaced to the user at job end.
type Report struct {
	UnsupportedDataStreams   int
	UnsupportedAttrStreams   int
	UnsupportedForkStreams   int
	UnsupportedFinderInfo    int
	UnsupportedACLXattr      int
	ACLErrors                int
	XattrErrors              int
	SignatureFailures        int
	SizeMismatches           int
	DigestMismatches         int
	Status                   jobctx.Status
}

// fileState is the per-file RestoreContext.
type fileState struct {
	fi          uint32
	pkt         fileattr.Packet
	path        string
	target      Target
	forkTarget  Target
	hasData     bool
	writeOffset int64

	compress     fileattr.CompressAlgo
	addrPrefixed bool
	decoder      *transform.Decoder
	cipherCtx    *cryptoengine.CipherDecodeContext

	fileDigest   *digest.Handle
	pendingDigest []byte
	pendingDigestAlgo digest.Type
	pendingSig   []byte

	delay DelayQueue
}

// FSM runs the restore state machine.
type FSM struct {
	ctx    *jobctx.Context
	meta   metadata.Backend
	crypto *cryptoengine.Engine
	mode   ReplaceMode
	coll   Collaborators
	report Report

	verifierKey *rsa.PublicKey

	cur *fileState
}

// New builds an FSM. crypto starts nil; the caller installs one with
// InstallSession before encrypted data arrives. Feed itself ignores
// ENCRYPTED_SESSION_DATA records.
func New(ctx *jobctx.Context, meta metadata.Backend, mode ReplaceMode, coll Collaborators) *FSM {
	return &FSM{ctx: ctx, meta: meta, mode: mode, coll: coll}
}

// InstallSession lets the caller supply a ready CryptoEngine once it
// has unwrapped a job's session key (e.g. via cryptoengine.DecodeSession
// against the job's configured private keys). Subsequent
// EncryptedSessionData records are accepted as no-ops once a session
// is installed for the job.
func (f *FSM) InstallSession(eng *cryptoengine.Engine) { f.crypto = eng }

// InstallVerifierKey supplies the job's signer public key so closeCurrent
// can verify a pending SIGNED_DIGEST record against the file's running
// digest, mirroring how InstallSession supplies the decrypt-side key.
// Until a caller installs one, any SIGNED_DIGEST record that does
// arrive cannot be verified and is reported as a signature failure.
func (f *FSM) InstallVerifierKey(pub *rsa.PublicKey) { f.verifierKey = pub }

// Report returns the accumulated restore report so far.
func (f *FSM) Report() Report { return f.report }

// Feed processes one wire record, advancing the state machine.
// A non-nil error means the job must terminate.
func (f *FSM) Feed(rec record.Record) error {
	if f.ctx.Canceled() {
		return errors.New("restorefsm: job canceled")
	}

	switch {
	case rec.StreamID == streamid.EndOfData:
		return f.closeCurrent()
	case rec.StreamID == streamid.UnixAttributes || rec.StreamID == streamid.UnixAttributesEx:
		if f.cur != nil {
			if err := f.closeCurrent(); err != nil {
				return err
			}
		}
		return f.seeAttributes(rec)
	case rec.StreamID == streamid.EncryptedSessionData:
		return nil // session already installed out of band; see InstallSession
	case streamid.IsDigest(rec.StreamID):
		return f.storeDigest(rec)
	case rec.StreamID == streamid.SignedDigest:
		if f.cur != nil {
			f.cur.pendingSig = rec.Payload
		}
		return nil
	case streamid.IsACL(rec.StreamID) || streamid.IsXattr(rec.StreamID):
		return f.enqueueMetadata(rec)
	case streamid.IsFork(rec.StreamID):
		f.report.UnsupportedForkStreams++ // fork writing needs an OS-specific target; see DESIGN.md
		return nil
	case rec.StreamID == streamid.HFSPlusAttributes:
		f.report.UnsupportedFinderInfo++
		return nil
	default:
		return f.writeData(rec)
	}
}

func (f *FSM) seeAttributes(rec record.Record) error {
	pkt, err := fileattr.Decode(rec.Payload)
	if err != nil {
		f.report.UnsupportedAttrStreams++
		f.ctx.IncJobErrors()
		return nil
	}
	f.ctx.IncFilesExamined()

	path := pkt.Path
	if f.coll.PathMapper != nil {
		path = f.coll.PathMapper(path)
	}

	st := &fileState{fi: rec.FileIndex, pkt: pkt, path: path}
	f.cur = st

	if pkt.DataStream == 0 {
		if f.coll.CreateNonRegular != nil {
			if err := f.coll.CreateNonRegular(path, pkt); err != nil {
				f.ctx.IncJobErrors()
			}
		}
		return nil
	}

	if !f.allowedByReplacePolicy(path, pkt) {
		f.cur = nil
		return nil
	}

	if f.coll.OpenForWrite == nil {
		return nil
	}
	target, err := f.coll.OpenForWrite(path, pkt)
	if err != nil {
		f.ctx.IncJobErrors()
		f.cur = nil
		return nil
	}
	st.target = target
	st.hasData = true

	fileAlgo := digestAlgoFromWire(pkt.DigestAlgo)
	handle, err := digest.NewHandle(fileAlgo)
	if err != nil {
		return &record.FatalError{Err: fmt.Errorf("restorefsm: %s: digest init: %w", path, err)}
	}
	st.fileDigest = handle

	return nil
}

// allowedByReplacePolicy implements the replace-mode check at
// OpenTarget: Never with an existing target demotes to
// AttrsOnly (no data write).
func (f *FSM) allowedByReplacePolicy(path string, pkt fileattr.Packet) bool {
	if f.coll.Stat == nil {
		return true
	}
	existingMtime, exists := f.coll.Stat(path)
	if !exists {
		return true
	}
	switch f.mode {
	case ReplaceNever:
		return false
	case ReplaceIfNewer:
		return pkt.Stat.Mtime.After(existingMtime)
	case ReplaceIfOlder:
		return pkt.Stat.Mtime.Before(existingMtime)
	default:
		return true
	}
}

func (f *FSM) writeData(rec record.Record) error {
	st := f.cur
	if st == nil || !st.hasData {
		f.report.UnsupportedDataStreams++
		return nil
	}

	if st.decoder == nil {
		compress, addrPrefixed, encrypted, fork, err := transform.DecodeStreamID(rec.StreamID)
		if err != nil {
			f.report.UnsupportedDataStreams++
			return nil
		}
		if fork {
			f.report.UnsupportedForkStreams++
			return nil
		}
		st.compress = compress
		st.addrPrefixed = addrPrefixed
		if encrypted {
			if f.crypto == nil {
				return &record.FatalError{Err: fmt.Errorf("restorefsm: %s: encrypted stream with no session installed", st.path)}
			}
			cipherCtx, err := f.crypto.NewCipherDecodeContext()
			if err != nil {
				return &record.FatalError{Err: fmt.Errorf("restorefsm: %s: cipher init: %w", st.path, err)}
			}
			st.cipherCtx = cipherCtx
		}
		st.decoder = transform.NewDecoder(compress, st.cipherCtx)
	}

	blocks, err := st.decoder.Feed(rec.Payload)
	if err != nil {
		// A corrupt compression or cipher frame leaves the decoder in
		// an unrecoverable state for this file; a malformed LZO
		// header in particular must fail the job rather than write a
		// silently truncated or garbled file.
		if st.target != nil {
			_ = st.target.Close()
		}
		f.cur = nil
		return &record.FatalError{Err: fmt.Errorf("restorefsm: %s: %w", st.path, err)}
	}

	for _, block := range blocks {
		data := block
		addr := st.writeOffset
		if st.addrPrefixed {
			a, d, decErr := transform.DecodeSparseBlock(block)
			if decErr != nil {
				f.ctx.IncJobErrors()
				continue
			}
			addr = int64(a)
			data = d
		}
		// The backup side digests raw blocks, elided zero blocks
		// included, so a hole before this block is digested as zeros.
		for gap := addr - st.writeOffset; gap > 0 && st.fileDigest.Type() != digest.None; {
			n := min(gap, 64*1024)
			st.fileDigest.Update(make([]byte, n))
			gap -= n
		}
		st.fileDigest.Update(data)
		if err := transform.ApplySparseWrite(st.target, uint64(addr), data); err != nil {
			f.ctx.IncJobErrors()
			continue
		}
		st.writeOffset = addr + int64(len(data))
		f.ctx.AddBytesRead(int64(len(data)))
	}
	return nil
}

func (f *FSM) storeDigest(rec record.Record) error {
	if f.cur == nil {
		f.report.UnsupportedAttrStreams++
		return nil
	}
	f.cur.pendingDigest = rec.Payload
	f.cur.pendingDigestAlgo = digestTypeForStream(rec.StreamID)
	return nil
}

func (f *FSM) enqueueMetadata(rec record.Record) error {
	if f.cur == nil {
		f.report.UnsupportedACLXattr++
		return nil
	}
	f.cur.delay.Enqueue(rec.StreamID, rec.Payload)
	return nil
}

// closeCurrent implements CloseCurrent: flush cipher,
// finalize digests, verify signature, set file attrs, drain
// DelayQueue (ACLs then xattrs), close handle.
func (f *FSM) closeCurrent() error {
	st := f.cur
	f.cur = nil
	if st == nil {
		return nil
	}

	if st.decoder != nil {
		st.decoder.Finish()
	}

	if st.hasData && f.coll.SetFinalAttrs != nil {
		if err := f.coll.SetFinalAttrs(st.path, st.pkt); err != nil {
			f.ctx.IncJobErrors()
		}
	}

	var computedDigest []byte
	if st.fileDigest != nil {
		computedDigest = st.fileDigest.Finalize()
	}
	if computedDigest != nil && st.pendingDigest != nil {
		if st.fileDigest.Type() == st.pendingDigestAlgo {
			if !bytesEqual(computedDigest, st.pendingDigest) {
				f.report.DigestMismatches++
			}
		}
		// Digest-algorithm disagreement re-read is a known gap, not
		// implemented (DESIGN.md "Open Question decisions" #1): the
		// on-the-fly running digest may use a different algorithm than
		// the one the stream recorded, and this FSM does not re-read
		// the restored file to recompute it under the recorded
		// algorithm.
	}

	if st.pendingSig != nil {
		if !f.verifySignature(computedDigest, st.pendingSig) {
			f.report.SignatureFailures++
			f.ctx.IncJobErrors()
		}
	}

	if st.hasData && st.pkt.Stat.Size > 0 && st.writeOffset != st.pkt.Stat.Size {
		f.report.SizeMismatches++
	}

	if f.meta != nil {
		f.meta.SetTarget(st.path)
	}
	st.delay.Drain(
		func(id streamid.ID, payload []byte) error {
			if f.meta == nil {
				return nil
			}
			err := f.meta.RestoreACL(id, payload)
			if err != nil {
				f.ctx.RecordACLError()
				f.report.ACLErrors++
			}
			return err
		},
		func(id streamid.ID, payload []byte) error {
			if f.meta == nil {
				return nil
			}
			err := f.meta.RestoreXattr(id, payload)
			if err != nil {
				f.ctx.RecordXattrError()
				f.report.XattrErrors++
			}
			return err
		},
	)

	if st.target != nil {
		if err := st.target.Close(); err != nil {
			f.ctx.IncJobErrors()
		}
	}
	if st.forkTarget != nil {
		_ = st.forkTarget.Close()
	}
	return nil
}

// verifySignature checks sig against the RSA public key installed via
// InstallVerifierKey, mirroring the PKCS#1v1.5/SHA-256 scheme
// cryptoengine.Engine.Sign uses on the backup side. Without an
// installed key or a computed digest to check against, verification
// cannot succeed — distribution of the signer's public key to the
// restore side is outside this core's scope, so a job that never
// installs one always reports its signed files as failures rather
// than silently accepting them.
func (f *FSM) verifySignature(computedDigest, sig []byte) bool {
	if f.verifierKey == nil || computedDigest == nil {
		return false
	}
	hashed := sha256.Sum256(computedDigest)
	return rsa.VerifyPKCS1v15(f.verifierKey, crypto.SHA256, hashed[:], sig) == nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func digestTypeForStream(id streamid.ID) digest.Type {
	switch id {
	case streamid.MD5Digest:
		return digest.MD5
	case streamid.SHA1Digest:
		return digest.SHA1
	case streamid.SHA256Digest:
		return digest.SHA256
	case streamid.SHA512Digest:
		return digest.SHA512
	default:
		return digest.None
	}
}

// digestAlgoFromWire maps the DigestAlgo the backup side placed on the
// AttributePacket to the digest.Type the running digest is opened
// with, the same mapping backupfsm.fileAlgoFor uses in reverse.
func digestAlgoFromWire(a fileattr.DigestAlgo) digest.Type {
	switch a {
	case fileattr.DigestMD5:
		return digest.MD5
	case fileattr.DigestSHA1:
		return digest.SHA1
	case fileattr.DigestSHA256:
		return digest.SHA256
	case fileattr.DigestSHA512:
		return digest.SHA512
	default:
		return digest.None
	}
}
