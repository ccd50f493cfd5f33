// Package filesource implements a local-filesystem FileSource: it
// walks a directory tree and yields already-classified FileEntry
// values in traversal order, pairing every directory with a DirBegin
// and a DirEnd marker the way BackupFSM expects.
//
// The depth-first, stack-of-frames walk shape replaces
// filepath.WalkDir because the wire protocol needs DirEnd markers
// interleaved between a directory's last child and its siblings;
// filepath.WalkDir's single callback has no hook for "a directory's
// children are exhausted." Per-entry stat decoding is grounded on
// backend/local/stat_unix.go, linkinfo_unix.go and
// read_device_unix.go: each reaches for info.Sys().(*syscall.Stat_t)
// for the fields os.FileInfo doesn't expose, with a devUnset-style
// zero fallback when the assertion fails.
package filesource

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fametec/filed/fileattr"
)

// Config selects the root to walk and the option flags applied to
// every entry it yields. A real job would vary CompressAlgo/DigestAlgo
// per include rule; this collaborator applies one fixed policy to the
// whole tree, which is enough for cmd/filed and for tests.
type Config struct {
	Root           string
	StripPrefix    string
	Flags          fileattr.Flags
	DigestAlgo     fileattr.DigestAlgo
	CompressAlgo   fileattr.CompressAlgo
	CompressLevel  int
	FollowSymlinks bool
}

type frame struct {
	path    string
	entries []fs.DirEntry
	idx     int
	begun   bool
}

// Source is a FileSource over a local directory tree. It is not safe
// for concurrent use; a job owns one Source per traversal.
type Source struct {
	cfg   Config
	stack []*frame
	done  bool
}

// Open starts a traversal rooted at cfg.Root.
func Open(cfg Config) (*Source, error) {
	fi, err := os.Lstat(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("filesource: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("filesource: root %q is not a directory", cfg.Root)
	}
	return &Source{cfg: cfg, stack: []*frame{{path: cfg.Root}}}, nil
}

// Next returns the next FileEntry in traversal order, or io.EOF once
// the tree is exhausted. A stat or readdir failure on one entry is
// reported as a NotAccessible/StatFailed FileEntry rather than an
// error return, matching the classification catalog's own log-and-skip
// convention; Next only returns a non-nil error for io.EOF.
func (s *Source) Next() (*fileattr.FileEntry, error) {
	for {
		if s.done || len(s.stack) == 0 {
			s.done = true
			return nil, io.EOF
		}
		top := s.stack[len(s.stack)-1]

		if !top.begun {
			top.begun = true
			entries, err := os.ReadDir(top.path)
			if err != nil {
				s.stack = s.stack[:len(s.stack)-1]
				return s.entry(top.path, fileattr.NotAccessible, fileattr.Stat{}, ""), nil
			}
			top.entries = entries
			return s.dirEntry(top.path, fileattr.DirBegin), nil
		}

		if top.idx >= len(top.entries) {
			s.stack = s.stack[:len(s.stack)-1]
			return s.dirEntry(top.path, fileattr.DirEnd), nil
		}

		de := top.entries[top.idx]
		top.idx++
		full := filepath.Join(top.path, de.Name())

		entry, recurse, err := s.classify(full, de)
		if err != nil {
			return s.entry(full, fileattr.StatFailed, fileattr.Stat{}, ""), nil
		}
		if recurse {
			s.stack = append(s.stack, &frame{path: full})
			continue
		}
		return entry, nil
	}
}

func (s *Source) classify(path string, de fs.DirEntry) (*fileattr.FileEntry, bool, error) {
	fi, err := de.Info()
	if err != nil {
		return nil, false, err
	}
	mode := fi.Mode()

	if mode&os.ModeSymlink != 0 && !s.cfg.FollowSymlinks {
		target, err := os.Readlink(path)
		if err != nil {
			return nil, false, err
		}
		st := statOf(fi)
		return s.entry(path, fileattr.SymLink, st, target), false, nil
	}
	if mode&os.ModeSymlink != 0 {
		fi, err = os.Stat(path)
		if err != nil {
			return s.entry(path, fileattr.FollowFailed, fileattr.Stat{}, ""), false, nil
		}
		mode = fi.Mode()
	}

	if mode.IsDir() {
		return nil, true, nil
	}
	if mode&os.ModeNamedPipe != 0 {
		return s.entry(path, fileattr.Fifo, statOf(fi), ""), false, nil
	}
	if mode&(os.ModeDevice|os.ModeCharDevice) != 0 {
		return s.entry(path, fileattr.RawDevice, statOf(fi), ""), false, nil
	}
	if !mode.IsRegular() {
		return s.entry(path, fileattr.Special, statOf(fi), ""), false, nil
	}
	if fi.Size() == 0 {
		return s.entry(path, fileattr.RegularEmpty, statOf(fi), ""), false, nil
	}
	return s.entry(path, fileattr.Regular, statOf(fi), ""), false, nil
}

func (s *Source) dirEntry(path string, class fileattr.Classification) *fileattr.FileEntry {
	st := fileattr.Stat{}
	if fi, err := os.Lstat(path); err == nil {
		st = statOf(fi)
	}
	return s.entry(path, class, st, "")
}

func (s *Source) entry(path string, class fileattr.Classification, st fileattr.Stat, linkTarget string) *fileattr.FileEntry {
	return &fileattr.FileEntry{
		Path:          path,
		Class:         class,
		Stat:          st,
		LinkTarget:    linkTarget,
		Flags:         s.cfg.Flags,
		DigestAlgo:    s.cfg.DigestAlgo,
		CompressAlgo:  s.cfg.CompressAlgo,
		CompressLevel: s.cfg.CompressLevel,
		StripPrefix:   s.cfg.StripPrefix,
	}
}

// Opener resolves a Regular/RegularEmpty/RawDevice/Fifo FileEntry to
// its readable content by reopening the path it was discovered at.
// *os.File satisfies backupfsm.Source directly; the caller wires this
// in as a backupfsm.Opener with a one-line closure (see cmd/filed).
func Opener(entry *fileattr.FileEntry) (*os.File, error) {
	f, err := os.Open(entry.Path)
	if err != nil {
		return nil, fmt.Errorf("filesource: %w", err)
	}
	return f, nil
}
