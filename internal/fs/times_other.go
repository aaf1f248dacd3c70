//go:build !linux && !windows

package fs

import (
	"os"
	"time"

	"dupefind/internal/dupe"
)

// readTimes reports the modification time only; the access and birth times
// live in platform specific stat fields.
func readTimes(path string) (dupe.FileTimes, error) {
	info, err := os.Stat(path)
	if err != nil {
		return dupe.FileTimes{}, err
	}
	return dupe.FileTimes{Modified: dupe.KnownTime(info.ModTime())}, nil
}

func writeTimes(path string, times dupe.FileTimes) error {
	if !times.Modified.Known() && !times.Accessed.Known() {
		return nil
	}
	// os.Chtimes leaves a zero time.Time unchanged.
	var atime, mtime time.Time
	if times.Accessed.Known() {
		atime = times.Accessed.Time()
	}
	if times.Modified.Known() {
		mtime = times.Modified.Time()
	}
	return os.Chtimes(path, atime, mtime)
}
