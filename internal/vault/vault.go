// Package vault stores archived hashfiles in memory, on a filesystem or in
// an S3 bucket.
package vault

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a requested hashfile is not in the vault.
var ErrNotFound = errors.New("hashfile not found")

// validateName rejects names that would escape the vault's hashfile area.
func validateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("invalid hashfile name %q", name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("hashfile name %q must not contain path separators", name)
	}
	return nil
}
