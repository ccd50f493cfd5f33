// Package snapshot implements the SnapshotProvider collaborator
// boundary: backup-side path mapping for a point-in-time copy of the
// volume being read. A caller calls Prepare before traversal starts
// and Close once after the job ends. The FSMs, filesource and cmd/filed
// do not use this package; they read live paths.
//
// No teacher file implements a volume-snapshot facility directly
// (rclone reads live paths; VSS/LVM/ZFS snapshot orchestration is
// platform-specific OS machinery outside its scope), so this package
// is written fresh in the module's own idiom: an interface plus the
// no-op implementation most jobs actually run with, the way the
// module already treats CryptoEngine and MetadataBackend as optional
// collaborators that default to a harmless stand-in.
package snapshot

import "github.com/fametec/filed/fileattr"

// Roots maps an original path to the path FileSource should actually
// read from, typically a shadow-copy mount point standing in for the
// live volume.
type Roots struct {
	// Mapping associates each requested root with the path to walk
	// instead. A root absent from Mapping is read from its original
	// location unchanged.
	Mapping map[string]string
}

// Resolve rewrites path's prefix according to Mapping, or returns path
// unchanged if no mapping entry's prefix matches.
func (r Roots) Resolve(path string) string {
	for from, to := range r.Mapping {
		if len(path) >= len(from) && path[:len(from)] == from {
			return to + path[len(from):]
		}
	}
	return path
}

// Provider is the SnapshotProvider collaborator.
type Provider interface {
	// Prepare creates (or locates) the point-in-time copy and returns
	// the root mapping FileSource should read through. Called once,
	// before traversal starts.
	Prepare(roots []string) (Roots, error)

	// Close releases the snapshot. jobOK reports whether the job
	// completed without a fatal error, in case the provider wants to
	// keep a failed job's snapshot around for diagnosis instead of
	// discarding it immediately.
	Close(jobOK bool) error
}

// NoopProvider is a Provider that performs no snapshotting: every root
// maps to itself. This is what a job runs with when no volume-snapshot
// facility is configured.
type NoopProvider struct{}

// Prepare implements Provider.
func (NoopProvider) Prepare(roots []string) (Roots, error) {
	m := make(map[string]string, len(roots))
	for _, r := range roots {
		m[r] = r
	}
	return Roots{Mapping: m}, nil
}

// Close implements Provider.
func (NoopProvider) Close(jobOK bool) error { return nil }

var _ Provider = NoopProvider{}

// ApplyToEntry stamps entry.VolumePath from roots: the snapshot path
// the entry is read through, kept beside its original Path. The
// attribute packet does not carry VolumePath (fileattr.FromEntry
// ignores it), so it never reaches the restore side.
func ApplyToEntry(entry *fileattr.FileEntry, roots Roots) {
	entry.VolumePath = roots.Resolve(entry.Path)
}
