//go:build windows || plan9

package filesource

import (
	"io/fs"

	"github.com/fametec/filed/fileattr"
)

// statOf has no syscall.Stat_t on these platforms; it falls back to
// what os.FileInfo exposes directly, leaving uid/gid/dev/ino at zero.
func statOf(fi fs.FileInfo) fileattr.Stat {
	return fileattr.Stat{
		Mode:  uint32(fi.Mode()),
		Size:  fi.Size(),
		Mtime: fi.ModTime(),
		Atime: fi.ModTime(),
		Ctime: fi.ModTime(),
	}
}
