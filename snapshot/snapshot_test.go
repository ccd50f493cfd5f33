package snapshot_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fametec/filed/fileattr"
	"github.com/fametec/filed/snapshot"
)

func TestNoopProviderMapsRootsToThemselves(t *testing.T) {
	var p snapshot.NoopProvider
	roots, err := p.Prepare([]string{"/data", "/etc"})
	require.NoError(t, err)
	assert.Equal(t, "/data", roots.Mapping["/data"])
	assert.Equal(t, "/etc", roots.Mapping["/etc"])
	assert.NoError(t, p.Close(true))
}

func TestRootsResolveRewritesPrefix(t *testing.T) {
	roots := snapshot.Roots{Mapping: map[string]string{
		"/data": "/mnt/shadow1",
	}}
	assert.Equal(t, "/mnt/shadow1/a/b.txt", roots.Resolve("/data/a/b.txt"))
	assert.Equal(t, "/other/c.txt", roots.Resolve("/other/c.txt"))
}

func TestApplyToEntrySetsVolumePath(t *testing.T) {
	roots := snapshot.Roots{Mapping: map[string]string{"/data": "/mnt/shadow1"}}
	entry := &fileattr.FileEntry{Path: "/data/file.txt"}
	snapshot.ApplyToEntry(entry, roots)
	assert.Equal(t, "/mnt/shadow1/file.txt", entry.VolumePath)
}
