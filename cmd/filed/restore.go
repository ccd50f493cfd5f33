package main

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fametec/filed/cryptoengine"
	"github.com/fametec/filed/digest"
	"github.com/fametec/filed/fileattr"
	"github.com/fametec/filed/internal/agentlog"
	"github.com/fametec/filed/jobctx"
	"github.com/fametec/filed/metadata"
	"github.com/fametec/filed/record"
	"github.com/fametec/filed/restorefsm"
	"github.com/fametec/filed/streamid"
)

var (
	restoreReplace string
	restoreXattr   bool
	restoreKeyPath string
)

var restoreCmd = &cobra.Command{
	Use:   "restore <in> <dest>",
	Short: "replay a backup stream onto disk under dest",
	Args:  cobra.ExactArgs(2),
	RunE:  runRestore,
}

func init() {
	f := restoreCmd.Flags()
	f.StringVar(&restoreReplace, "replace", "always", "always, ifnewer, ifolder, or never")
	f.BoolVar(&restoreXattr, "xattr", false, "restore extended attributes")
	f.StringVar(&restoreKeyPath, "key", "", "PEM-encoded RSA private key matching an --encrypt backup's session")
	root.AddCommand(restoreCmd)
}

func parseReplaceMode(s string) (restorefsm.ReplaceMode, error) {
	switch strings.ToLower(s) {
	case "", "always":
		return restorefsm.ReplaceAlways, nil
	case "ifnewer":
		return restorefsm.ReplaceIfNewer, nil
	case "ifolder":
		return restorefsm.ReplaceIfOlder, nil
	case "never":
		return restorefsm.ReplaceNever, nil
	default:
		return 0, fmt.Errorf("unknown replace mode %q", s)
	}
}

func runRestore(cmd *cobra.Command, args []string) error {
	in, dest := args[0], args[1]
	mode, err := parseReplaceMode(restoreReplace)
	if err != nil {
		return err
	}

	inFile, err := os.Open(in)
	if err != nil {
		return err
	}
	defer inFile.Close()

	ctx := jobctx.New(digest.None, digest.None, 0)

	var meta metadata.Backend
	if restoreXattr {
		meta = metadata.NewUnixBackend(false)
	}

	coll := restorefsm.Collaborators{
		PathMapper: func(wirePath string) string {
			return filepath.Join(dest, filepath.FromSlash(wirePath))
		},
		Stat: func(path string) (time.Time, bool) {
			fi, err := os.Lstat(path)
			if err != nil {
				return time.Time{}, false
			}
			return fi.ModTime(), true
		},
		OpenForWrite: func(path string, pkt fileattr.Packet) (restorefsm.Target, error) {
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return nil, err
			}
			return os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(pkt.Stat.Mode&0777))
		},
		CreateNonRegular: func(path string, pkt fileattr.Packet) error {
			return createNonRegular(path, pkt)
		},
		SetFinalAttrs: func(path string, pkt fileattr.Packet) error {
			return setFinalAttrs(path, pkt)
		},
	}

	fsm := restorefsm.New(ctx, meta, mode, coll)

	if restoreKeyPath != "" {
		eng, err := loadRestoreEngine(restoreKeyPath, inFile)
		if err != nil {
			return err
		}
		if eng != nil {
			fsm.InstallSession(eng)
		}
	}

	codec := record.NewCodec(record.NewByteLink(nil, inFile))
	for {
		rec, err := codec.RecvRecord()
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		if err := fsm.Feed(rec); err != nil {
			return err
		}
	}

	rep := fsm.Report()
	snap := ctx.Snapshot()
	agentlog.Noticef("restore", "done: examined=%d errors=%d unsupported_data=%d unsupported_attrs=%d "+
		"unsupported_fork=%d unsupported_finderinfo=%d size_mismatches=%d digest_mismatches=%d sig_failures=%d",
		snap.FilesExamined, snap.JobErrors, rep.UnsupportedDataStreams, rep.UnsupportedAttrStreams,
		rep.UnsupportedForkStreams, rep.UnsupportedFinderInfo, rep.SizeMismatches, rep.DigestMismatches, rep.SignatureFailures)
	return nil
}

// createNonRegular applies a non-data classification to disk:
// symlinks, directories, and deleted/marker entries that never open a
// data phase.
func createNonRegular(path string, pkt fileattr.Packet) error {
	// Stat.Mode carries Go's fs.FileMode bits (statOf in filesource
	// stores uint32(fi.Mode()), not the raw POSIX mode_t), so
	// classification here uses fs.FileMode's own type bits rather
	// than S_IFMT constants.
	mode := os.FileMode(pkt.Stat.Mode)
	switch {
	case mode&os.ModeSymlink != 0:
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		_ = os.Remove(path)
		return os.Symlink(pkt.LinkTarget, path)
	case mode.IsDir():
		return os.MkdirAll(path, 0755)
	default:
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		return f.Close()
	}
}

// setFinalAttrs applies mode and mtime once a file's data phase has
// finished, the stat-time replay the spec's "delayed metadata" design
// depends on running after.
func setFinalAttrs(path string, pkt fileattr.Packet) error {
	if err := os.Chmod(path, os.FileMode(pkt.Stat.Mode&0777)); err != nil {
		return err
	}
	return os.Chtimes(path, pkt.Stat.Atime, pkt.Stat.Mtime)
}

// loadRestoreEngine reads a PEM private key and peeks the stream's
// first ENCRYPTED_SESSION_DATA record to decode the job's session key,
// without consuming bytes the main record loop still needs: it reads
// via a TeeReader-free rewind since in is a regular file.
func loadRestoreEngine(keyPath string, f *os.File) (*cryptoengine.Engine, error) {
	pemBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", keyPath, err)
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%s: not a PEM file", keyPath)
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", keyPath, err)
	}

	codec := record.NewCodec(record.NewByteLink(nil, f))
	for {
		rec, err := codec.RecvRecord()
		if err != nil {
			break
		}
		if rec.StreamID == streamid.EncryptedSessionData {
			sessionKey, err := cryptoengine.DecodeSession(rec.Payload, []*rsa.PrivateKey{priv})
			if err != nil {
				return nil, fmt.Errorf("decode session: %w", err)
			}
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return nil, err
			}
			return cryptoengine.NewRestoreEngine(sessionKey)
		}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return nil, nil
}
