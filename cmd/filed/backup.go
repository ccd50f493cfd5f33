package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fametec/filed/backupfsm"
	"github.com/fametec/filed/cryptoengine"
	"github.com/fametec/filed/digest"
	"github.com/fametec/filed/fileattr"
	"github.com/fametec/filed/filesource"
	"github.com/fametec/filed/heartbeat"
	"github.com/fametec/filed/internal/agentlog"
	"github.com/fametec/filed/jobctx"
	"github.com/fametec/filed/metadata"
	"github.com/fametec/filed/record"
)

var backupOpts = DefaultOptions()
var backupExtraOpts []string
var backupEncrypt bool

var backupCmd = &cobra.Command{
	Use:   "backup <root> <out>",
	Short: "walk a directory and write its backup stream to a file",
	Args:  cobra.ExactArgs(2),
	RunE:  runBackup,
}

func init() {
	f := backupCmd.Flags()
	f.BoolVar(&backupOpts.Sparse, "sparse", backupOpts.Sparse, "encode all-zero blocks as holes")
	f.StringVar(&backupOpts.Compress, "compress", backupOpts.Compress, "none, gzip, lzo, or zstd")
	f.IntVar(&backupOpts.CompressLevel, "compress-level", backupOpts.CompressLevel, "compression level")
	f.StringVar(&backupOpts.Digest, "digest", backupOpts.Digest, "none, md5, sha1, sha256, or sha512")
	f.BoolVar(&backupOpts.Xattr, "xattr", backupOpts.Xattr, "back up extended attributes")
	f.IntVar(&backupOpts.RateLimit, "rate-limit", backupOpts.RateLimit, "bytes/sec, 0 = unlimited")
	f.DurationVar(&backupOpts.HeartbeatInterval, "heartbeat-interval", backupOpts.HeartbeatInterval, "progress tick interval")
	f.BoolVar(&backupOpts.FollowSymlinks, "follow-symlinks", backupOpts.FollowSymlinks, "follow symlinks during traversal")
	f.BoolVar(&backupEncrypt, "encrypt", false, "encrypt file data; writes <out>.pem with the session-decoding private key")
	f.StringArrayVar(&backupExtraOpts, "opt", nil, "extra option as key=value (overlays the struct field by its config tag)")
	root.AddCommand(backupCmd)
}

func digestAlgo(name string) (fileattr.DigestAlgo, digest.Type, error) {
	switch name {
	case "", "none":
		return fileattr.DigestNone, digest.None, nil
	case "md5":
		return fileattr.DigestMD5, digest.MD5, nil
	case "sha1":
		return fileattr.DigestSHA1, digest.SHA1, nil
	case "sha256":
		return fileattr.DigestSHA256, digest.SHA256, nil
	case "sha512":
		return fileattr.DigestSHA512, digest.SHA512, nil
	default:
		return 0, 0, fmt.Errorf("unknown digest %q", name)
	}
}

func compressAlgo(name string) (fileattr.CompressAlgo, error) {
	switch name {
	case "", "none":
		return fileattr.CompressNone, nil
	case "gzip":
		return fileattr.CompressGzip, nil
	case "lzo":
		return fileattr.CompressLZO, nil
	case "zstd":
		return fileattr.CompressZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

func runBackup(cmd *cobra.Command, args []string) error {
	rootDir, out := args[0], args[1]
	if err := applyOpts(&backupOpts, backupExtraOpts); err != nil {
		return err
	}

	fileDigestAlgo, fileDigestType, err := digestAlgo(backupOpts.Digest)
	if err != nil {
		return err
	}
	compress, err := compressAlgo(backupOpts.Compress)
	if err != nil {
		return err
	}

	flags := fileattr.PortableLayout
	if backupOpts.Sparse {
		flags |= fileattr.Sparse
	}
	if compress != fileattr.CompressNone {
		flags |= fileattr.Compress
	}
	if backupOpts.Xattr {
		flags |= fileattr.Xattr
	}

	var crypto *cryptoengine.Engine
	if backupEncrypt {
		flags |= fileattr.Encrypt
		crypto, err = setupEncryption(out)
		if err != nil {
			return err
		}
	}

	src, err := filesource.Open(filesource.Config{
		Root:           rootDir,
		StripPrefix:    rootDir,
		Flags:          flags,
		DigestAlgo:     fileDigestAlgo,
		CompressAlgo:   compress,
		CompressLevel:  backupOpts.CompressLevel,
		FollowSymlinks: backupOpts.FollowSymlinks,
	})
	if err != nil {
		return err
	}

	outFile, err := os.Create(out)
	if err != nil {
		return err
	}
	defer outFile.Close()

	link := record.NewByteLink(outFile, bytes.NewReader(nil))
	ctx := jobctx.New(fileDigestType, digest.None, backupOpts.RateLimit)

	var meta metadata.Backend
	if backupOpts.Xattr {
		meta = metadata.NewUnixBackend(backupOpts.FollowSymlinks)
	}

	opener := backupfsm.Opener(func(entry *fileattr.FileEntry) (backupfsm.Source, error) {
		return filesource.Opener(entry)
	})
	fsm := backupfsm.New(link, ctx, meta, crypto, opener)

	mon := heartbeat.New(ctx, backupOpts.HeartbeatInterval, func(s jobctx.Snapshot) {
		agentlog.Infof("backup", "examined=%d sent=%d bytes=%d errors=%d last=%s",
			s.FilesExamined, s.FilesSent, s.BytesSent, s.JobErrors, s.LastFilename)
	})
	go mon.Start(context.Background())
	defer mon.Stop()

	for {
		entry, err := src.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		if err := fsm.Process(entry); err != nil {
			if err == backupfsm.ErrCanceled {
				break
			}
			return err
		}
	}

	snap := ctx.Snapshot()
	agentlog.Noticef("backup", "done: examined=%d sent=%d bytes=%d errors=%d",
		snap.FilesExamined, snap.FilesSent, snap.BytesSent, snap.JobErrors)
	return nil
}

// setupEncryption generates an ephemeral per-run RSA keypair, writes
// the private key to out+".pem" so a later `filed restore --key`
// invocation can decode the session, and returns a CryptoEngine with
// that keypair as the sole recipient.
func setupEncryption(out string) (*cryptoengine.Engine, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate session recipient key: %w", err)
	}
	keyPath := out + ".pem"
	der := x509.MarshalPKCS1PrivateKey(key)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0600); err != nil {
		return nil, fmt.Errorf("write %s: %w", keyPath, err)
	}
	agentlog.Noticef("backup", "wrote session-decoding key to %s", keyPath)
	return cryptoengine.NewEngine([]*rsa.PublicKey{&key.PublicKey}, nil, nil, digest.None)
}
