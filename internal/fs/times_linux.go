//go:build linux

package fs

import (
	"os"
	"time"

	"golang.org/x/sys/unix"

	"dupefind/internal/dupe"
)

// readTimes uses statx so the birth time is available where the filesystem
// records one.
func readTimes(path string) (dupe.FileTimes, error) {
	var stx unix.Statx_t
	err := unix.Statx(unix.AT_FDCWD, path, unix.AT_STATX_SYNC_AS_STAT,
		unix.STATX_ATIME|unix.STATX_MTIME|unix.STATX_BTIME, &stx)
	if err != nil {
		return dupe.FileTimes{}, &os.PathError{Op: "statx", Path: path, Err: err}
	}

	times := dupe.FileTimes{}
	if stx.Mask&unix.STATX_MTIME != 0 {
		times.Modified = dupe.KnownTime(statxTime(stx.Mtime))
	}
	if stx.Mask&unix.STATX_ATIME != 0 {
		times.Accessed = dupe.KnownTime(statxTime(stx.Atime))
	}
	if stx.Mask&unix.STATX_BTIME != 0 {
		times.Created = dupe.KnownTime(statxTime(stx.Btime))
	}
	return times, nil
}

// writeTimes sets atime and mtime in one utimensat call. Linux has no way to
// set the birth time, so Created is ignored.
func writeTimes(path string, times dupe.FileTimes) error {
	if !times.Modified.Known() && !times.Accessed.Known() {
		return nil
	}
	ts := []unix.Timespec{timespec(times.Accessed), timespec(times.Modified)}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, path, ts, 0); err != nil {
		return &os.PathError{Op: "utimensat", Path: path, Err: err}
	}
	return nil
}

func statxTime(ts unix.StatxTimestamp) time.Time {
	return time.Unix(ts.Sec, int64(ts.Nsec))
}

func timespec(ts dupe.Timestamp) unix.Timespec {
	if !ts.Known() {
		return unix.Timespec{Nsec: unix.UTIME_OMIT}
	}
	return unix.NsecToTimespec(ts.Time().UnixNano())
}
