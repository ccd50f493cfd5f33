package filesource_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fametec/filed/fileattr"
	"github.com/fametec/filed/filesource"
)

func drain(t *testing.T, src *filesource.Source) []*fileattr.FileEntry {
	t.Helper()
	var out []*fileattr.FileEntry
	for {
		e, err := src.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, e)
	}
}

func TestWalkPairsDirBeginAndEnd(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "empty.txt"), nil, 0o644))

	src, err := filesource.Open(filesource.Config{Root: root})
	require.NoError(t, err)

	entries := drain(t, src)

	require.NotEmpty(t, entries)
	assert.Equal(t, fileattr.DirBegin, entries[0].Class)
	assert.Equal(t, root, entries[0].Path)
	assert.Equal(t, fileattr.DirEnd, entries[len(entries)-1].Class)
	assert.Equal(t, root, entries[len(entries)-1].Path)

	var sawSubBegin, sawSubEnd, sawFile, sawEmpty bool
	for _, e := range entries {
		switch {
		case e.Class == fileattr.DirBegin && e.Path == filepath.Join(root, "sub"):
			sawSubBegin = true
		case e.Class == fileattr.DirEnd && e.Path == filepath.Join(root, "sub"):
			sawSubEnd = true
		case e.Class == fileattr.Regular && e.Path == filepath.Join(root, "sub", "a.txt"):
			sawFile = true
			assert.EqualValues(t, 5, e.Stat.Size)
		case e.Class == fileattr.RegularEmpty && e.Path == filepath.Join(root, "empty.txt"):
			sawEmpty = true
		}
	}
	assert.True(t, sawSubBegin, "missing sub DirBegin")
	assert.True(t, sawSubEnd, "missing sub DirEnd")
	assert.True(t, sawFile, "missing regular file entry")
	assert.True(t, sawEmpty, "missing empty file entry")
}

func TestWalkClassifiesSymlink(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "target.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	link := filepath.Join(root, "link.txt")
	require.NoError(t, os.Symlink(target, link))

	src, err := filesource.Open(filesource.Config{Root: root})
	require.NoError(t, err)
	entries := drain(t, src)

	var found bool
	for _, e := range entries {
		if e.Path == link {
			found = true
			assert.Equal(t, fileattr.SymLink, e.Class)
			assert.Equal(t, target, e.LinkTarget)
		}
	}
	assert.True(t, found, "missing symlink entry")
}

func TestOpenerReadsFileContent(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "data.bin")
	require.NoError(t, os.WriteFile(p, []byte("payload"), 0o644))

	f, err := filesource.Opener(&fileattr.FileEntry{Path: p})
	require.NoError(t, err)
	defer f.Close()

	buf, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf))
}

func TestOpenNonDirectoryFails(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	_, err := filesource.Open(filesource.Config{Root: p})
	assert.Error(t, err)
}
