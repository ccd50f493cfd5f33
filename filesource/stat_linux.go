//go:build linux

package filesource

import (
	"syscall"
	"time"
)

func platformTimes(sys *syscall.Stat_t) (atime, ctime time.Time) {
	return time.Unix(sys.Atim.Sec, sys.Atim.Nsec), time.Unix(sys.Ctim.Sec, sys.Ctim.Nsec)
}
