//go:build linux

package fs

import (
	"time"

	"golang.org/x/sys/unix"
)

// birthTime asks statx for the creation time. Filesystems that do not track
// it leave STATX_BTIME unset in the returned mask.
func birthTime(path string) time.Time {
	var stx unix.Statx_t
	err := unix.Statx(unix.AT_FDCWD, path, unix.AT_SYMLINK_NOFOLLOW, unix.STATX_BTIME, &stx)
	if err != nil || stx.Mask&unix.STATX_BTIME == 0 {
		return time.Time{}
	}
	return time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec))
}
