//go:build !windows && !plan9

// Adapted from rclone's backend/local/xattr.go: the
// not-supported-error detection (ENOTSUP/ENOATTR/EINVAL) and the
// "user." prefix convention are carried over close to verbatim, just
// rehomed onto the MetadataBackend interface instead of an rclone
// Fs/Object pair.
package metadata

import (
	"fmt"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/pkg/xattr"

	"github.com/fametec/filed/streamid"
)

const xattrKeyPrefix = "user."

// UnixBackend implements Backend using github.com/pkg/xattr for
// extended attributes. Its ACL side is a documented no-op: POSIX ACL
// syscalls are explicitly out of scope and no ACL
// library exists anywhere in the retrieval pack. See DESIGN.md "Open
// Question decisions".
type UnixBackend struct {
	followSymlinks bool
	// supported is 1 until a syscall tells us otherwise, then 0 for
	// the rest of the job — mirrors backend/local/xattr.go's
	// f.xattrSupported CompareAndSwap gate.
	supported atomic.Int32
	// target is the path RestoreACL/RestoreXattr apply to, set by
	// RestoreFSM before draining a file's DelayQueue.
	target string
}

// SetTarget records the path that subsequent RestoreACL/RestoreXattr
// calls apply to.
func (b *UnixBackend) SetTarget(path string) { b.target = path }

// NewUnixBackend constructs a Backend for the local filesystem.
func NewUnixBackend(followSymlinks bool) *UnixBackend {
	b := &UnixBackend{followSymlinks: followSymlinks}
	b.supported.Store(1)
	return b
}

// isNotSupported mirrors xattrIsNotSupported in backend/local/xattr.go:
// xattrs can come back ENOTSUP, ENOATTR, or (on some platforms) EINVAL.
func (b *UnixBackend) isNotSupported(err error) bool {
	xerr, ok := err.(*xattr.Error)
	if !ok {
		return false
	}
	if xerr.Err == syscall.EINVAL || xerr.Err == syscall.ENOTSUP || xerr.Err == xattr.ENOATTR {
		b.supported.CompareAndSwap(1, 0)
		return true
	}
	return false
}

// BackupACL is a no-op: see the UnixBackend doc comment.
func (b *UnixBackend) BackupACL(path string) ([]Record, int) { return nil, 0 }

// RestoreACL is a no-op: see the UnixBackend doc comment.
func (b *UnixBackend) RestoreACL(id streamid.ID, payload []byte) error { return nil }

// BackupXattr lists and reads the file's extended attributes under the
// "user." prefix, rendering one Record per key.
func (b *UnixBackend) BackupXattr(path string) ([]Record, int) {
	if b.supported.Load() == 0 {
		return nil, 0
	}
	var (
		list []string
		err  error
	)
	if b.followSymlinks {
		list, err = xattr.List(path)
	} else {
		list, err = xattr.LList(path)
	}
	if err != nil {
		if b.isNotSupported(err) {
			return nil, 0
		}
		return nil, 1
	}
	errCount := 0
	records := make([]Record, 0, len(list))
	for _, k := range list {
		lk := strings.ToLower(k)
		if !strings.HasPrefix(lk, xattrKeyPrefix) {
			continue
		}
		var v []byte
		if b.followSymlinks {
			v, err = xattr.Get(path, k)
		} else {
			v, err = xattr.LGet(path, k)
		}
		if err != nil {
			if b.isNotSupported(err) {
				return records, errCount
			}
			errCount++
			continue
		}
		records = append(records, Record{
			StreamID: streamid.XACLXattr,
			Payload:  encodeXattr(strings.TrimPrefix(lk, xattrKeyPrefix), v),
		})
	}
	return records, errCount
}

// RestoreXattr applies one xattr record to the current SetTarget path.
func (b *UnixBackend) RestoreXattr(id streamid.ID, payload []byte) error {
	if b.supported.Load() == 0 {
		return nil
	}
	key, value, err := decodeXattr(payload)
	if err != nil {
		return err
	}
	fullKey := xattrKeyPrefix + key
	if b.followSymlinks {
		err = xattr.Set(b.target, fullKey, value)
	} else {
		err = xattr.LSet(b.target, fullKey, value)
	}
	if err != nil {
		if b.isNotSupported(err) {
			return nil
		}
		return fmt.Errorf("metadata: failed to set xattr key %q: %w", key, err)
	}
	return nil
}

// encodeXattr/decodeXattr frame (key, value) as a NUL-delimited pair so
// a single xattr Record payload is self-contained for RestoreFSM's
// DelayQueue).
func encodeXattr(key string, value []byte) []byte {
	buf := make([]byte, 0, len(key)+len(value)+1)
	buf = append(buf, key...)
	buf = append(buf, 0)
	buf = append(buf, value...)
	return buf
}

func decodeXattr(payload []byte) (key string, value []byte, err error) {
	idx := -1
	for i, b := range payload {
		if b == 0 {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", nil, fmt.Errorf("metadata: malformed xattr record")
	}
	return string(payload[:idx]), payload[idx+1:], nil
}

var _ Backend = (*UnixBackend)(nil)
