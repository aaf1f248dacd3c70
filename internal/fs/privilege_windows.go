//go:build windows

package fs

import (
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sys/windows"
)

var backupPrivileges = []string{"SeBackupPrivilege", "SeRestorePrivilege"}

// ErrPrivilegeNotHeld is returned when the process token does not hold a
// privilege it was asked to enable.
var ErrPrivilegeNotHeld = errors.New("privilege not held by the process token")

// acquireBackupPrivilege enables the backup and restore privileges on the
// process token. A token that does not hold them is left as it was.
func acquireBackupPrivilege() error {
	// AdjustTokenPrivileges reports a missing privilege only through the
	// thread's last error.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var token windows.Token
	err := windows.OpenProcessToken(windows.CurrentProcess(),
		windows.TOKEN_ADJUST_PRIVILEGES|windows.TOKEN_QUERY, &token)
	if err != nil {
		return fmt.Errorf("opening process token: %w", err)
	}
	defer token.Close()

	for _, name := range backupPrivileges {
		namep, err := windows.UTF16PtrFromString(name)
		if err != nil {
			return fmt.Errorf("encoding privilege name %s: %w", name, err)
		}
		var luid windows.LUID
		if err := windows.LookupPrivilegeValue(nil, namep, &luid); err != nil {
			return fmt.Errorf("looking up %s: %w", name, err)
		}
		privs := windows.Tokenprivileges{
			PrivilegeCount: 1,
			Privileges: [1]windows.LUIDAndAttributes{
				{Luid: luid, Attributes: windows.SE_PRIVILEGE_ENABLED},
			},
		}
		err = windows.AdjustTokenPrivileges(token, false, &privs, 0, nil, nil)
		if err := adjustResult(name, err, windows.GetLastError()); err != nil {
			return err
		}
	}
	return nil
}

// adjustResult interprets an AdjustTokenPrivileges call: callErr is its
// returned error and lastErr the thread's last error right after it.
func adjustResult(name string, callErr, lastErr error) error {
	if callErr != nil {
		return fmt.Errorf("enabling %s: %w", name, callErr)
	}
	if errors.Is(lastErr, windows.ERROR_NOT_ALL_ASSIGNED) {
		return fmt.Errorf("enabling %s: %w", name, ErrPrivilegeNotHeld)
	}
	return nil
}
