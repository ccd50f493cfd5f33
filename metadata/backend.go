// Package metadata implements the MetadataBackend collaborator: ACL
// and extended-attribute backup/restore, behind one interface with
// one per-OS implementation selected at construction — no runtime
// class switching beyond that.
package metadata

import (
	"github.com/fametec/filed/streamid"
)

// Record is one ACL or xattr record a backend emits or consumes.
type Record struct {
	StreamID streamid.ID
	Payload  []byte
}

// Backend is the MetadataBackend collaborator interface.
// Implementations back the Acl/Xattr option flags on a FileEntry.
//
// A minimal interface sketch would be restore_acl(stream_id, bytes) with no
// path argument; in practice a backend needs to know which file it's
// restoring onto. RestoreFSM calls SetTarget once per file (when it
// opens the output handle) and then RestoreACL/RestoreXattr any number
// of times as it drains the DelayQueue against that target.
type Backend interface {
	BackupACL(path string) (records []Record, errCount int)
	BackupXattr(path string) (records []Record, errCount int)
	SetTarget(path string)
	RestoreACL(id streamid.ID, payload []byte) error
	RestoreXattr(id streamid.ID, payload []byte) error
}
