package testutil

import (
	"dupefind/internal/dupe"
	"dupefind/internal/vault"
)

// NewTestVault creates a new in-memory vault for testing.
func NewTestVault() dupe.Vault {
	return vault.NewMemoryVault("test-vault")
}
