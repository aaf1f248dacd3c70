//go:build windows

package fs

import (
	"io/fs"
	"os"
	"syscall"

	"golang.org/x/sys/windows"
)

// settableAttributes are the attribute bits SetFileAttributes accepts.
const settableAttributes = windows.FILE_ATTRIBUTE_READONLY |
	windows.FILE_ATTRIBUTE_HIDDEN |
	windows.FILE_ATTRIBUTE_SYSTEM |
	windows.FILE_ATTRIBUTE_ARCHIVE |
	windows.FILE_ATTRIBUTE_NOT_CONTENT_INDEXED

func copyAttributes(src, dst string) error {
	srcp, err := windows.UTF16PtrFromString(src)
	if err != nil {
		return &os.PathError{Op: "GetFileAttributes", Path: src, Err: err}
	}
	attrs, err := windows.GetFileAttributes(srcp)
	if err != nil {
		return &os.PathError{Op: "GetFileAttributes", Path: src, Err: err}
	}
	dstp, err := windows.UTF16PtrFromString(dst)
	if err != nil {
		return &os.PathError{Op: "SetFileAttributes", Path: dst, Err: err}
	}
	if err := windows.SetFileAttributes(dstp, attrs&settableAttributes); err != nil {
		return &os.PathError{Op: "SetFileAttributes", Path: dst, Err: err}
	}
	return nil
}

// isReparsePoint checks the attributes already fetched with the directory
// listing and falls back to a fresh query.
func isReparsePoint(path string, info fs.FileInfo) bool {
	if info != nil {
		if data, ok := info.Sys().(*syscall.Win32FileAttributeData); ok {
			return data.FileAttributes&windows.FILE_ATTRIBUTE_REPARSE_POINT != 0
		}
	}
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return false
	}
	attrs, err := windows.GetFileAttributes(p)
	if err != nil {
		return false
	}
	return attrs&windows.FILE_ATTRIBUTE_REPARSE_POINT != 0
}
