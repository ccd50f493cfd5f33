// Package backupfsm implements BackupFSM: the per-file
// backup-side state machine that classifies a FileEntry, emits its
// attribute record, and — for entries that carry data — drives the
// read/transform/send loop through to its fork, ACL, xattr, digest,
// and signature follow-up records.
//
// The control-flow shape (classify up front, route to narrow
// per-branch handlers, accumulate into JobContext counters) has no
// single teacher analogue — rclone is a sync tool, not a
// state-machine backup agent — so this package is written directly,
// in the idiom the rest of the module already established (explicit
// error returns, jobctx counters, no channels where a plain call will
// do).
package backupfsm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fametec/filed/cryptoengine"
	"github.com/fametec/filed/digest"
	"github.com/fametec/filed/fileattr"
	"github.com/fametec/filed/jobctx"
	"github.com/fametec/filed/metadata"
	"github.com/fametec/filed/record"
	"github.com/fametec/filed/streamid"
	"github.com/fametec/filed/transform"
)

// ErrCanceled is returned by Process when the job's cancellation flag
// was observed; the caller should stop pulling further entries.
var ErrCanceled = errors.New("backupfsm: job canceled")

const readBlockSize = 64 * 1024

// Source is one file's readable content. FileSource (the traversal
// collaborator) decides which entries exist; Source is
// only how BackupFSM reads the bytes of one already-classified entry.
type Source interface {
	Read(p []byte) (n int, err error)
	Close() error
}

// Opener resolves a FileEntry that needs a data phase to a Source.
type Opener func(entry *fileattr.FileEntry) (Source, error)

// ForkOpener resolves a FileEntry's HfsPlus resource fork to a Source,
// the fork-data counterpart to Opener. Reading a resource fork is
// OS-specific (there is no portable path to it), so a caller that
// never sets one via FSM.SetForkOpener gets an honest per-file error
// on every fork-bearing entry instead of a silently skipped fork.
type ForkOpener func(entry *fileattr.FileEntry) (Source, error)

type hardlinkRecord struct {
	digest []byte
	algo   digest.Type
}

// FSM runs the backup state machine against one RecordLink for a
// sequence of FileEntry values.
type FSM struct {
	codec    *record.Codec
	ctx      *jobctx.Context
	meta     metadata.Backend
	crypto   *cryptoengine.Engine
	open     Opener
	forkOpen ForkOpener

	// hardlinks maps the file_index of an already-saved multiply-linked
	// file to the digest recorded for it, so a later HardlinkRef entry
	// can re-emit that digest without touching the data again.
	hardlinks map[uint32]hardlinkRecord
}

// New builds an FSM. meta and crypto may be nil when the job has no
// ACL/xattr backend or no encryption configured, respectively.
func New(link record.Link, ctx *jobctx.Context, meta metadata.Backend, crypto *cryptoengine.Engine, open Opener) *FSM {
	return &FSM{
		codec:     record.NewCodec(link),
		ctx:       ctx,
		meta:      meta,
		crypto:    crypto,
		open:      open,
		hardlinks: make(map[uint32]hardlinkRecord),
	}
}

// SetForkOpener installs the collaborator used to read a file's HfsPlus
// resource fork. Without one, a fork-bearing entry's fork phase is
// counted as a job error rather than silently dropped.
func (f *FSM) SetForkOpener(open ForkOpener) { f.forkOpen = open }

// Process runs one FileEntry through Classify and its resulting
// branch. A non-nil, non-ErrCanceled error is always a *record.FatalError
// and means the job must stop.
func (f *FSM) Process(entry *fileattr.FileEntry) error {
	f.ctx.IncFilesExamined()
	if f.ctx.Canceled() {
		return ErrCanceled
	}
	f.ctx.SetLastFilename(entry.Path)

	switch {
	case entry.Class.IsSkip():
		f.ctx.IncJobErrors()
		return nil
	case entry.Class == fileattr.HardlinkRef:
		return f.emitHardlinkRef(entry)
	case entry.Class.RequiresFullStream() && entry.Stat.Size > 0:
		return f.fullStream(entry)
	default:
		return f.attrsOnly(entry, 0, 0)
	}
}

// attrsOnly covers Classify's emit-attrs-only branch: symlinks,
// deleted entries, mount-point markers, restore objects, plugin
// config, directory markers, and zero-size regular/fifo/rawdevice
// entries that never open a Source.
func (f *FSM) attrsOnly(entry *fileattr.FileEntry, linkFI uint32, dataStream int32) error {
	fi := uint32(f.ctx.IncFilesSent())
	if err := f.emitAttributes(entry, fi, linkFI, dataStream); err != nil {
		return err
	}
	return f.signalEOD()
}

// emitHardlinkRef implements the HardlinkRef branch: attrs-only, plus
// a digest record copied from the original file's already-recorded
// digest, and no data phase.
func (f *FSM) emitHardlinkRef(entry *fileattr.FileEntry) error {
	fi := uint32(f.ctx.IncFilesSent())
	if err := f.emitAttributes(entry, fi, entry.HardlinkOfFileFI, 0); err != nil {
		return err
	}
	if orig, ok := f.hardlinks[entry.HardlinkOfFileFI]; ok && orig.digest != nil {
		if err := f.sendRecord(fi, digestStreamID(orig.algo), orig.digest); err != nil {
			return err
		}
	}
	return f.signalEOD()
}

// fullStream covers OpenSource → ReadLoop → EndOfFile → SendEOD →
// … → FinalizeDigests → Done.
func (f *FSM) fullStream(entry *fileattr.FileEntry) error {
	sel, err := transform.SelectDataStream(entry.Flags, entry.CompressAlgo)
	if err != nil {
		return &record.FatalError{Err: fmt.Errorf("backupfsm: %s: %w", entry.Path, err)}
	}

	fi := uint32(f.ctx.IncFilesSent())
	if err := f.emitAttributes(entry, fi, 0, int32(sel.ID)); err != nil {
		return err
	}

	if sel.Encrypt {
		if f.crypto == nil {
			return &record.FatalError{Err: fmt.Errorf("backupfsm: %s: encrypt flag set with no crypto session", entry.Path)}
		}
		if err := f.sendRecord(fi, streamid.EncryptedSessionData, f.crypto.SessionRecord()); err != nil {
			return err
		}
	}

	src, err := f.open(entry)
	if err != nil {
		f.ctx.IncJobErrors()
		return nil // file-scoped: open failed, count and continue
	}
	defer src.Close()

	digestEngine, err := digest.NewEngine(fileAlgoFor(entry.DigestAlgo), f.ctx.SignerAlgo)
	if err != nil {
		return &record.FatalError{Err: fmt.Errorf("backupfsm: %s: digest init: %w", entry.Path, err)}
	}

	var cipher *cryptoengine.CipherContext
	if sel.Encrypt {
		cipher, err = f.crypto.NewCipherContext()
		if err != nil {
			return &record.FatalError{Err: fmt.Errorf("backupfsm: %s: cipher init: %w", entry.Path, err)}
		}
	}

	chain := transform.NewEncoder(sel, entry.CompressAlgo, entry.CompressLevel, digestEngine, cipher)

	var readOffset uint64
	buf := make([]byte, readBlockSize)
	for {
		if f.ctx.Canceled() {
			return ErrCanceled
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			full := n == readBlockSize
			out, xformErr := chain.Transform(buf[:n], full, readOffset)
			if xformErr != nil {
				return &record.FatalError{Err: fmt.Errorf("backupfsm: %s: transform: %w", entry.Path, xformErr)}
			}
			readOffset += uint64(n)
			f.ctx.AddBytesRead(int64(n))
			if len(out) > 0 {
				if f.ctx.Rate != nil {
					if err := f.ctx.Rate.WaitN(context.Background(), len(out)); err != nil {
						return &record.FatalError{Err: fmt.Errorf("backupfsm: %s: rate limiter: %w", entry.Path, err)}
					}
				}
				if err := f.sendRecord(fi, sel.ID, out); err != nil {
					return err
				}
				f.ctx.AddBytesSent(int64(len(out)))
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				f.ctx.IncJobErrors()
			}
			break
		}
	}

	if cipher != nil {
		tail, err := chain.Finalize()
		if err != nil {
			return &record.FatalError{Err: fmt.Errorf("backupfsm: %s: cipher finalize: %w", entry.Path, err)}
		}
		if len(tail) > 0 {
			if err := f.sendRecord(fi, sel.ID, tail); err != nil {
				return err
			}
			f.ctx.AddBytesSent(int64(len(tail)))
		}
	}

	if err := f.emitForkAndMetadata(entry, fi); err != nil {
		return err
	}

	fileDigest := digestEngine.File.Finalize()
	if digestEngine.File.Type() != digest.None {
		if err := f.sendRecord(fi, digestStreamID(digestEngine.File.Type()), fileDigest); err != nil {
			return err
		}
		if entry.Stat.Nlink > 1 {
			f.hardlinks[fi] = hardlinkRecord{digest: fileDigest, algo: digestEngine.File.Type()}
		}
	}
	if digestEngine.Signer.Type() != digest.None && f.crypto != nil {
		signerDigest := digestEngine.Signer.Finalize()
		sig, err := f.crypto.Sign(signerDigest)
		if err != nil {
			return &record.FatalError{Err: fmt.Errorf("backupfsm: %s: sign: %w", entry.Path, err)}
		}
		if sig != nil {
			if err := f.sendRecord(fi, streamid.SignedDigest, sig); err != nil {
				return err
			}
		}
	}

	return f.signalEOD()
}

func (f *FSM) emitForkAndMetadata(entry *fileattr.FileEntry, fi uint32) error {
	if entry.Class == fileattr.Regular && entry.Flags.Has(fileattr.HfsPlus) && entry.ForkLength > 0 {
		if err := f.emitFork(entry, fi); err != nil {
			return err
		}
	}

	if f.meta == nil {
		return nil
	}
	if entry.Flags.Has(fileattr.Acl) {
		records, errCount := f.meta.BackupACL(entry.Path)
		for i := 0; i < errCount; i++ {
			f.ctx.RecordACLError()
		}
		for _, r := range records {
			if err := f.sendRecord(fi, r.StreamID, r.Payload); err != nil {
				return err
			}
		}
	}
	if entry.Flags.Has(fileattr.Xattr) {
		records, errCount := f.meta.BackupXattr(entry.Path)
		for i := 0; i < errCount; i++ {
			f.ctx.RecordXattrError()
		}
		for _, r := range records {
			if err := f.sendRecord(fi, r.StreamID, r.Payload); err != nil {
				return err
			}
		}
	}
	return nil
}

// emitFork sends a file's resource-fork data phase. Fork encryption
// needs its own cipher context wired against the job's session, which
// this core doesn't yet do, so an encrypted fork is counted as a job
// error rather than sent unencrypted under an ENCRYPTED_MACOS_FORK_DATA
// id. Without a ForkOpener installed at all, there is no OS-specific
// reader to pull fork bytes from, so that's counted the same way.
func (f *FSM) emitFork(entry *fileattr.FileEntry, fi uint32) error {
	if f.forkOpen == nil || entry.Flags.Has(fileattr.Encrypt) {
		f.ctx.IncJobErrors()
		return nil
	}

	src, err := f.forkOpen(entry)
	if err != nil {
		f.ctx.IncJobErrors()
		return nil
	}
	defer src.Close()

	forkID := transform.SelectForkStream(false)
	buf := make([]byte, readBlockSize)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if err := f.sendRecord(fi, forkID, buf[:n]); err != nil {
				return err
			}
			f.ctx.AddBytesSent(int64(n))
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				f.ctx.IncJobErrors()
			}
			break
		}
	}
	return nil
}

func (f *FSM) emitAttributes(entry *fileattr.FileEntry, fi, linkFI uint32, dataStream int32) error {
	pkt := fileattr.FromEntry(entry, fi, linkFI, dataStream)
	payload := fileattr.Encode(pkt)
	return f.sendRecord(fi, streamid.UnixAttributesEx, payload)
}

func (f *FSM) sendRecord(fi uint32, id streamid.ID, payload []byte) error {
	if err := f.codec.SendRecord(fi, id, payload); err != nil {
		return err
	}
	return nil
}

func (f *FSM) signalEOD() error {
	return f.codec.SignalEOD()
}

func digestStreamID(t digest.Type) streamid.ID {
	switch t {
	case digest.MD5:
		return streamid.MD5Digest
	case digest.SHA1:
		return streamid.SHA1Digest
	case digest.SHA256:
		return streamid.SHA256Digest
	case digest.SHA512:
		return streamid.SHA512Digest
	default:
		return streamid.MD5Digest
	}
}

func fileAlgoFor(a fileattr.DigestAlgo) digest.Type {
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
