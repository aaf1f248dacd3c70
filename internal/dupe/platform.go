package dupe

import (
	"errors"
	"fmt"
	"io/fs"
)

// FileTimes holds the three timestamps of a file. Any of them may be unknown.
type FileTimes struct {
	Created  Timestamp
	Modified Timestamp
	Accessed Timestamp
}

// TimestampPreserver reads and writes file metadata that a byte copy does not
// carry over. One implementation per platform is selected at build time.
type TimestampPreserver interface {
	// ReadTimes returns the three timestamps of path. A timestamp the platform
	// cannot report is returned as unknown rather than as an error.
	ReadTimes(path string) (FileTimes, error)

	// WriteTimes sets the timestamps of path in one operation where the
	// platform allows it. Unknown timestamps are left unchanged; a creation
	// time the platform cannot set is ignored.
	WriteTimes(path string, times FileTimes) error

	// CopyAttributes copies platform attribute bits (permission bits on Unix,
	// file attributes on Windows) from src to dst.
	CopyAttributes(src, dst string) error
}

// ReparseDetector reports whether a directory entry redirects elsewhere in a
// way the platform does not express as a symlink.
type ReparseDetector interface {
	IsReparsePoint(path string, info fs.FileInfo) bool
}

// PrivilegeManager elevates the process so that files can be read regardless
// of their access control lists.
type PrivilegeManager interface {
	AcquireBackupPrivilege() error
}

// Platform bundles the platform capabilities the core depends on.
type Platform interface {
	TimestampPreserver
	ReparseDetector
	PrivilegeManager
}

// PreserveTimes captures the timestamps and attributes of src, runs fn, and
// then applies the captured metadata to dst. fn reports whether it created
// dst; a dst it did not create is never touched. The restore runs after a
// failure too, so a partial write still carries the source metadata. An error
// from fn takes precedence over a restore error.
func PreserveTimes(p TimestampPreserver, src, dst string, fn func() (bool, error)) error {
	times, err := p.ReadTimes(src)
	if err != nil {
		return fmt.Errorf("reading times of %s: %w", src, err)
	}

	created, err := fn()
	if !created {
		return err
	}
	restoreErr := restoreMetadata(p, src, dst, times)
	if err != nil || restoreErr == nil || errors.Is(restoreErr, fs.ErrNotExist) {
		return err
	}
	return restoreErr
}

func restoreMetadata(p TimestampPreserver, src, dst string, times FileTimes) error {
	// Times before attributes: a read-only attribute on Windows blocks SetFileTime.
	if err := p.WriteTimes(dst, times); err != nil {
		return fmt.Errorf("restoring times on %s: %w", dst, err)
	}
	if err := p.CopyAttributes(src, dst); err != nil {
		return fmt.Errorf("restoring attributes on %s: %w", dst, err)
	}
	return nil
}
