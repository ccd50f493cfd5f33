package restorefsm_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fametec/filed/backupfsm"
	"github.com/fametec/filed/digest"
	"github.com/fametec/filed/fileattr"
	"github.com/fametec/filed/jobctx"
	"github.com/fametec/filed/record"
	"github.com/fametec/filed/restorefsm"
)

// memTarget is a growable in-memory random-access file.
type memTarget struct {
	buf    []byte
	closed bool
}

func (m *memTarget) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[off:end], p)
	return len(p), nil
}

func (m *memTarget) Close() error { m.closed = true; return nil }

type memSource struct{ r *bytes.Reader }

func (s *memSource) Read(p []byte) (int, error) { return s.r.Read(p) }
func (s *memSource) Close() error                { return nil }

// backupRecords drives one FileEntry through backupfsm and returns the
// raw wire bytes its records were framed into.
func backupRecords(t *testing.T, entry *fileattr.FileEntry, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	link := record.NewByteLink(&buf, &buf)
	ctx := jobctx.New(digest.None, digest.None, 0)
	opener := func(*fileattr.FileEntry) (backupfsm.Source, error) {
		return &memSource{r: bytes.NewReader(content)}, nil
	}
	fsm := backupfsm.New(link, ctx, nil, nil, opener)
	require.NoError(t, fsm.Process(entry))
	return buf.Bytes()
}

func feedAll(t *testing.T, fsm *restorefsm.FSM, wire []byte) {
	t.Helper()
	link := record.NewByteLink(nil, bytes.NewReader(wire))
	codec := record.NewCodec(link)
	for {
		rec, err := codec.RecvRecord()
		if err != nil {
			break
		}
		require.NoError(t, fsm.Feed(rec))
	}
}

// S1-style round trip: backup a plain file, restore it, and check the
// bytes match.
func TestRoundTripPlainFile(t *testing.T) {
	content := []byte("hello from the other side\n")
	entry := &fileattr.FileEntry{
		Path:  "/a/b.txt",
		Class: fileattr.Regular,
		Flags: fileattr.PortableLayout,
		Stat: fileattr.Stat{
			Size:  int64(len(content)),
			Mtime: time.Unix(1700000000, 0),
			Mode:  0644,
			Nlink: 1,
		},
	}
	wire := backupRecords(t, entry, content)

	var target memTarget
	ctx := jobctx.New(digest.None, digest.None, 0)
	coll := restorefsm.Collaborators{
		OpenForWrite: func(path string, pkt fileattr.Packet) (restorefsm.Target, error) {
			return &target, nil
		},
	}
	fsm := restorefsm.New(ctx, nil, restorefsm.ReplaceAlways, coll)
	feedAll(t, fsm, wire)

	assert.Equal(t, content, target.buf)
	assert.True(t, target.closed)
}

// S6 — replace=Never against an existing target demotes to AttrsOnly:
// the existing content must be left untouched.
func TestReplaceNeverSkipsExistingTarget(t *testing.T) {
	content := []byte("new content that must not land")
	entry := &fileattr.FileEntry{
		Path:  "/keep.txt",
		Class: fileattr.Regular,
		Flags: fileattr.PortableLayout,
		Stat:  fileattr.Stat{Size: int64(len(content)), Mtime: time.Unix(1700000000, 0), Nlink: 1},
	}
	wire := backupRecords(t, entry, content)

	opened := false
	ctx := jobctx.New(digest.None, digest.None, 0)
	coll := restorefsm.Collaborators{
		Stat: func(path string) (time.Time, bool) {
			return time.Unix(1600000000, 0), true // something already exists
		},
		OpenForWrite: func(path string, pkt fileattr.Packet) (restorefsm.Target, error) {
			opened = true
			return &memTarget{}, nil
		},
	}
	fsm := restorefsm.New(ctx, nil, restorefsm.ReplaceNever, coll)
	feedAll(t, fsm, wire)

	assert.False(t, opened, "OpenForWrite must not be called when replace=Never skips an existing target")
}

// S7 — a corrupt LZO-compressed data block must fail the file fatally
// rather than writing a partial or garbled file.
func TestCorruptLZOBlockIsFatal(t *testing.T) {
	content := bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04}, 4096)
	entry := &fileattr.FileEntry{
		Path:          "/c.bin",
		Class:         fileattr.Regular,
		Flags:         fileattr.PortableLayout | fileattr.Compress,
		CompressAlgo:  fileattr.CompressLZO,
		CompressLevel: 5,
		Stat:          fileattr.Stat{Size: int64(len(content)), Nlink: 1},
	}
	wire := backupRecords(t, entry, content)

	// Corrupt the LZO frame header's version field. The 12-byte header
	// opens the payload of the first data record, and its version
	// occupies bytes 6-7; flipping them is enough to make
	// DecompressLZOBlock fail closed.
	idx := bytes.Index(wire, []byte{0x4c, 0x5a, 0x4f, 0x58}) // lzoMagic, big-endian
	require.GreaterOrEqual(t, idx, 0, "expected an LZO frame magic in the wire bytes")
	wire[idx+6] = 0xFF
	wire[idx+7] = 0xFF

	var target memTarget
	ctx := jobctx.New(digest.None, digest.None, 0)
	coll := restorefsm.Collaborators{
		OpenForWrite: func(path string, pkt fileattr.Packet) (restorefsm.Target, error) {
			return &target, nil
		},
	}
	fsm := restorefsm.New(ctx, nil, restorefsm.ReplaceAlways, coll)

	link := record.NewByteLink(nil, bytes.NewReader(wire))
	codec := record.NewCodec(link)
	var fatal error
	for {
		rec, err := codec.RecvRecord()
		if err != nil {
			break
		}
		if err := fsm.Feed(rec); err != nil {
			fatal = err
			break
		}
	}

	require.Error(t, fatal)
	var fe *record.FatalError
	assert.ErrorAs(t, fatal, &fe)
	assert.True(t, target.closed, "a failed decode must still close the partially-opened target")
}
