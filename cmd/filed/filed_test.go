package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBackupRestoreRoundTrip drives the actual CLI entry points
// (bypassing cobra's argument parsing, not its RunE bodies) over a
// real temp directory tree, the way the rest of this module's tests
// pair backupfsm output against restorefsm input.
func TestBackupRestoreRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "hello.txt"), []byte("hello from filed\n"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(srcDir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "sub", "nested.txt"), []byte("nested content"), 0644))

	streamFile := filepath.Join(t.TempDir(), "stream.bin")

	backupOpts = DefaultOptions()
	backupOpts.Compress = "gzip"
	backupOpts.Digest = "sha256"
	backupEncrypt = false
	backupExtraOpts = nil
	require.NoError(t, runBackup(nil, []string{srcDir, streamFile}))

	destDir := t.TempDir()
	restoreReplace = "always"
	restoreXattr = false
	restoreKeyPath = ""
	require.NoError(t, runRestore(nil, []string{streamFile, destDir}))

	got, err := os.ReadFile(filepath.Join(destDir, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello from filed\n", string(got))

	gotNested, err := os.ReadFile(filepath.Join(destDir, "sub", "nested.txt"))
	require.NoError(t, err)
	assert.Equal(t, "nested content", string(gotNested))
}

func TestDigestAlgoUnknown(t *testing.T) {
	_, _, err := digestAlgo("rot13")
	assert.Error(t, err)
}

func TestCompressAlgoUnknown(t *testing.T) {
	_, err := compressAlgo("bzip2")
	assert.Error(t, err)
}

func TestParseReplaceModeUnknown(t *testing.T) {
	_, err := parseReplaceMode("sometimes")
	assert.Error(t, err)
}
