//go:build windows

package fs

import (
	"os"
	"time"

	"golang.org/x/sys/windows"

	"dupefind/internal/dupe"
)

// openForMetadata opens path for attribute access only. Backup semantics let
// the handle refer to a directory as well as a file.
func openForMetadata(path string, access uint32) (windows.Handle, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return windows.InvalidHandle, &os.PathError{Op: "open", Path: path, Err: err}
	}
	h, err := windows.CreateFile(p, access,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil, windows.OPEN_EXISTING, windows.FILE_FLAG_BACKUP_SEMANTICS, 0)
	if err != nil {
		return windows.InvalidHandle, &os.PathError{Op: "CreateFile", Path: path, Err: err}
	}
	return h, nil
}

func readTimes(path string) (dupe.FileTimes, error) {
	h, err := openForMetadata(path, windows.FILE_READ_ATTRIBUTES)
	if err != nil {
		return dupe.FileTimes{}, err
	}
	defer windows.CloseHandle(h)

	var created, accessed, modified windows.Filetime
	if err := windows.GetFileTime(h, &created, &accessed, &modified); err != nil {
		return dupe.FileTimes{}, &os.PathError{Op: "GetFileTime", Path: path, Err: err}
	}
	return dupe.FileTimes{
		Created:  filetimeStamp(created),
		Modified: filetimeStamp(modified),
		Accessed: filetimeStamp(accessed),
	}, nil
}

// writeTimes sets all three times with one SetFileTime call. A nil pointer
// leaves that time unchanged.
func writeTimes(path string, times dupe.FileTimes) error {
	h, err := openForMetadata(path, windows.FILE_WRITE_ATTRIBUTES)
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)

	if err := windows.SetFileTime(h, filetimePtr(times.Created), filetimePtr(times.Accessed), filetimePtr(times.Modified)); err != nil {
		return &os.PathError{Op: "SetFileTime", Path: path, Err: err}
	}
	return nil
}

func filetimeStamp(ft windows.Filetime) dupe.Timestamp {
	if ft.HighDateTime == 0 && ft.LowDateTime == 0 {
		return dupe.UnknownTime()
	}
	return dupe.KnownTime(time.Unix(0, ft.Nanoseconds()))
}

func filetimePtr(ts dupe.Timestamp) *windows.Filetime {
	if !ts.Known() {
		return nil
	}
	ft := windows.NsecToFiletime(ts.Time().UnixNano())
	return &ft
}
