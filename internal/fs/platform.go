package fs

import (
	"fmt"
	"io/fs"
	"os"

	"dupefind/internal/dupe"
)

// OSPlatform is the real implementation of dupe.Platform. The timestamp,
// reparse-point and privilege primitives behind it are chosen at build time.
type OSPlatform struct{}

// NewOSPlatform creates the platform layer for the running operating system.
func NewOSPlatform() *OSPlatform {
	return &OSPlatform{}
}

// ReadTimes returns the creation, modification and access times of path,
// following symlinks. Times the platform does not record are unknown.
func (p *OSPlatform) ReadTimes(path string) (dupe.FileTimes, error) {
	return readTimes(path)
}

// WriteTimes sets the times of path. Unknown times are left unchanged.
func (p *OSPlatform) WriteTimes(path string, times dupe.FileTimes) error {
	return writeTimes(path, times)
}

// CopyAttributes copies attribute bits from src to dst.
func (p *OSPlatform) CopyAttributes(src, dst string) error {
	return copyAttributes(src, dst)
}

// IsReparsePoint reports whether a directory entry is a reparse point that
// is not a plain symlink. Always false outside Windows.
func (p *OSPlatform) IsReparsePoint(path string, info fs.FileInfo) bool {
	return isReparsePoint(path, info)
}

// AcquireBackupPrivilege enables privileges that bypass read and write
// access checks. A no-op outside Windows.
func (p *OSPlatform) AcquireBackupPrivilege() error {
	return acquireBackupPrivilege()
}

// CheckRegularFile returns an error unless path is a regular file.
// Used to validate hashfile arguments before any work starts.
func CheckRegularFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat path: %w", err)
	}
	mode := info.Mode()
	switch {
	case mode.IsDir():
		return fmt.Errorf("path is a directory: %s", path)
	case mode&os.ModeDevice != 0:
		return fmt.Errorf("device files not supported: %s", path)
	case mode&os.ModeSocket != 0:
		return fmt.Errorf("sockets not supported: %s", path)
	}
	return nil
}

var _ dupe.Platform = (*OSPlatform)(nil)
