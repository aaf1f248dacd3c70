package dupe

import "io"

// Vault archives generated hashfiles outside the machine that produced them.
// All operations stream so large hashfiles are never held in memory.
type Vault interface {
	// PutHashfile stores a hashfile under name, replacing any previous one.
	// size is the number of bytes that will be read from r.
	PutHashfile(name string, r io.Reader, size int64) error

	// GetHashfile writes the hashfile stored under name to w.
	GetHashfile(name string, w io.Writer) error

	// ListHashfiles returns the names of all archived hashfiles in sorted order.
	ListHashfiles() ([]string, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup() error
}
