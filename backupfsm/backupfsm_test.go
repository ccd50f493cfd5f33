package backupfsm_test

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fametec/filed/backupfsm"
	"github.com/fametec/filed/digest"
	"github.com/fametec/filed/fileattr"
	"github.com/fametec/filed/jobctx"
	"github.com/fametec/filed/record"
	"github.com/fametec/filed/streamid"
)

type memSource struct {
	r *bytes.Reader
}

func (m *memSource) Read(p []byte) (int, error) { return m.r.Read(p) }
func (m *memSource) Close() error                { return nil }

func newOpener(content []byte) backupfsm.Opener {
	return func(entry *fileattr.FileEntry) (backupfsm.Source, error) {
		return &memSource{r: bytes.NewReader(content)}, nil
	}
}

// S1 — plain regular file, no options.
func TestFullStreamPlainFile(t *testing.T) {
	var buf bytes.Buffer
	link := record.NewByteLink(&buf, &buf)
	ctx := jobctx.New(digest.None, digest.None, 0)
	fsm := backupfsm.New(link, ctx, nil, nil, newOpener([]byte("hello\n")))

	entry := &fileattr.FileEntry{
		Path:  "/a/b.txt",
		Class: fileattr.Regular,
		Flags: fileattr.PortableLayout,
		Stat: fileattr.Stat{
			Size:  6,
			Mtime: time.Unix(1700000000, 0),
			Mode:  0644,
			Nlink: 1,
		},
	}
	require.NoError(t, fsm.Process(entry))

	codec := record.NewCodec(link)
	rec, err := codec.RecvRecord()
	require.NoError(t, err)
	assert.Equal(t, streamid.UnixAttributesEx, rec.StreamID)
	assert.Equal(t, uint32(1), rec.FileIndex)

	rec, err = codec.RecvRecord()
	require.NoError(t, err)
	assert.Equal(t, streamid.FileData, rec.StreamID)
	assert.Equal(t, []byte("hello\n"), rec.Payload)

	rec, err = codec.RecvRecord()
	require.NoError(t, err)
	assert.Equal(t, streamid.EndOfData, rec.StreamID)

	snap := ctx.Snapshot()
	assert.Equal(t, int64(1), snap.FilesSent)
	assert.Equal(t, int64(6), snap.BytesSent)
	assert.Equal(t, int64(0), snap.JobErrors)
}

// S2 — sparse all-zero 64 KiB file: no data records at all.
func TestFullStreamSparseAllZero(t *testing.T) {
	var buf bytes.Buffer
	link := record.NewByteLink(&buf, &buf)
	ctx := jobctx.New(digest.None, digest.None, 0)
	zero := make([]byte, 65536)
	fsm := backupfsm.New(link, ctx, nil, nil, newOpener(zero))

	entry := &fileattr.FileEntry{
		Path:  "/z.bin",
		Class: fileattr.Regular,
		Flags: fileattr.Sparse | fileattr.PortableLayout,
		Stat:  fileattr.Stat{Size: 65536, Nlink: 1},
	}
	require.NoError(t, fsm.Process(entry))

	codec := record.NewCodec(link)
	rec, err := codec.RecvRecord()
	require.NoError(t, err)
	assert.Equal(t, streamid.UnixAttributesEx, rec.StreamID)

	rec, err = codec.RecvRecord()
	require.NoError(t, err)
	assert.Equal(t, streamid.EndOfData, rec.StreamID)
}

// Hardlink second appearance (S5): attrs-only plus a copied digest,
// no data stream.
func TestHardlinkRefReusesDigest(t *testing.T) {
	var buf bytes.Buffer
	link := record.NewByteLink(&buf, &buf)
	ctx := jobctx.New(digest.MD5, digest.None, 0)
	fsm := backupfsm.New(link, ctx, nil, nil, newOpener([]byte("shared content")))

	original := &fileattr.FileEntry{
		Path:       "/x",
		Class:      fileattr.Regular,
		DigestAlgo: fileattr.DigestMD5,
		Stat:       fileattr.Stat{Size: int64(len("shared content")), Nlink: 2},
	}
	require.NoError(t, fsm.Process(original))

	codec := record.NewCodec(link)
	_, err := codec.RecvRecord() // attrs
	require.NoError(t, err)
	_, err = codec.RecvRecord() // data
	require.NoError(t, err)
	digestRec, err := codec.RecvRecord()
	require.NoError(t, err)
	require.Equal(t, streamid.MD5Digest, digestRec.StreamID)
	_, err = codec.RecvRecord() // EOD
	require.NoError(t, err)

	ref := &fileattr.FileEntry{
		Path:             "/y",
		Class:            fileattr.HardlinkRef,
		LinkTarget:       "/x",
		HardlinkOfFileFI: 1,
		Stat:             fileattr.Stat{Nlink: 2},
	}
	require.NoError(t, fsm.Process(ref))

	attrsRec, err := codec.RecvRecord()
	require.NoError(t, err)
	assert.Equal(t, streamid.UnixAttributesEx, attrsRec.StreamID)

	refDigest, err := codec.RecvRecord()
	require.NoError(t, err)
	assert.Equal(t, streamid.MD5Digest, refDigest.StreamID)
	assert.Equal(t, digestRec.Payload, refDigest.Payload)

	eod, err := codec.RecvRecord()
	require.NoError(t, err)
	assert.Equal(t, streamid.EndOfData, eod.StreamID)
}

func TestSkipClassificationCountsErrorAndNoRecords(t *testing.T) {
	var buf bytes.Buffer
	link := record.NewByteLink(&buf, &buf)
	ctx := jobctx.New(digest.None, digest.None, 0)
	fsm := backupfsm.New(link, ctx, nil, nil, newOpener(nil))

	entry := &fileattr.FileEntry{Path: "/s", Class: fileattr.NotAccessible}
	require.NoError(t, fsm.Process(entry))

	assert.Equal(t, 0, buf.Len())
	snap := ctx.Snapshot()
	assert.Equal(t, int64(1), snap.JobErrors)
	assert.Equal(t, int64(0), snap.FilesSent)
}

func TestCanceledEntryAbortsWithoutEmitting(t *testing.T) {
	var buf bytes.Buffer
	link := record.NewByteLink(&buf, &buf)
	ctx := jobctx.New(digest.None, digest.None, 0)
	ctx.Cancel()
	fsm := backupfsm.New(link, ctx, nil, nil, newOpener(nil))

	err := fsm.Process(&fileattr.FileEntry{Path: "/c", Class: fileattr.Regular, Stat: fileattr.Stat{Size: 1}})
	assert.ErrorIs(t, err, backupfsm.ErrCanceled)
	assert.Equal(t, 0, buf.Len())
}

// HfsPlus entries with a declared fork send a MACOS_FORK_DATA phase
// when a ForkOpener is installed.
func TestFullStreamWithForkOpener(t *testing.T) {
	var buf bytes.Buffer
	link := record.NewByteLink(&buf, &buf)
	ctx := jobctx.New(digest.None, digest.None, 0)
	fsm := backupfsm.New(link, ctx, nil, nil, newOpener([]byte("data")))
	fsm.SetForkOpener(newOpener([]byte("rsrc")))

	entry := &fileattr.FileEntry{
		Path:       "/a/b.txt",
		Class:      fileattr.Regular,
		Flags:      fileattr.PortableLayout | fileattr.HfsPlus,
		ForkLength: 4,
		Stat:       fileattr.Stat{Size: 4, Nlink: 1},
	}
	require.NoError(t, fsm.Process(entry))

	codec := record.NewCodec(link)
	_, err := codec.RecvRecord() // attrs
	require.NoError(t, err)
	_, err = codec.RecvRecord() // data
	require.NoError(t, err)

	forkRec, err := codec.RecvRecord()
	require.NoError(t, err)
	assert.Equal(t, streamid.MacOSForkData, forkRec.StreamID)
	assert.Equal(t, []byte("rsrc"), forkRec.Payload)

	eod, err := codec.RecvRecord()
	require.NoError(t, err)
	assert.Equal(t, streamid.EndOfData, eod.StreamID)

	snap := ctx.Snapshot()
	assert.Equal(t, int64(0), snap.JobErrors)
}

// Without a ForkOpener installed, a declared fork is counted as a job
// error instead of being silently skipped.
func TestFullStreamForkWithoutOpenerCountsError(t *testing.T) {
	var buf bytes.Buffer
	link := record.NewByteLink(&buf, &buf)
	ctx := jobctx.New(digest.None, digest.None, 0)
	fsm := backupfsm.New(link, ctx, nil, nil, newOpener([]byte("data")))

	entry := &fileattr.FileEntry{
		Path:       "/a/b.txt",
		Class:      fileattr.Regular,
		Flags:      fileattr.PortableLayout | fileattr.HfsPlus,
		ForkLength: 4,
		Stat:       fileattr.Stat{Size: 4, Nlink: 1},
	}
	require.NoError(t, fsm.Process(entry))

	codec := record.NewCodec(link)
	_, err := codec.RecvRecord() // attrs
	require.NoError(t, err)
	_, err = codec.RecvRecord() // data
	require.NoError(t, err)

	eod, err := codec.RecvRecord()
	require.NoError(t, err)
	assert.Equal(t, streamid.EndOfData, eod.StreamID)

	snap := ctx.Snapshot()
	assert.Equal(t, int64(1), snap.JobErrors)
}

var _ io.Closer = (*memSource)(nil)
