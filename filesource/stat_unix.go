//go:build unix

package filesource

import (
	"io/fs"
	"syscall"

	"github.com/fametec/filed/fileattr"
)

// statOf decodes the syscall.Stat_t fields os.FileInfo doesn't expose
// directly. Grounded on backend/local/stat_unix.go and
// linkinfo_unix.go's info.Sys().(*syscall.Stat_t) pattern; unlike
// read_device_unix.go's devUnset fallback, a failed assertion here
// just leaves the platform-specific fields zeroed rather than
// returning a sentinel, since Stat has no reserved "unset" value.
// Atime/ctime field names differ across unix flavors (Atim vs
// Atimespec), so those two fields are resolved by platformTimes in a
// per-OS file, the same split backend/local uses for
// metadata_linux.go/metadata_bsd.go.
func statOf(fi fs.FileInfo) fileattr.Stat {
	st := fileattr.Stat{
		Mode:  uint32(fi.Mode()),
		Size:  fi.Size(),
		Mtime: fi.ModTime(),
	}
	sys, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return st
	}
	st.Dev = uint64(sys.Dev)
	st.Ino = uint64(sys.Ino)
	st.Nlink = uint32(sys.Nlink)
	st.UID = sys.Uid
	st.GID = sys.Gid
	st.Rdev = uint64(sys.Rdev)
	st.Blksize = int64(sys.Blksize)
	st.Blocks = sys.Blocks
	st.Atime, st.Ctime = platformTimes(sys)
	return st
}
