package testutil

import (
	"dupefind/internal/dupe"
	"dupefind/internal/encryption"
)

// NewTestEncryptor creates a deterministic, reversible encryptor for testing.
func NewTestEncryptor() dupe.Encryptor {
	return encryption.NewTestEncryptor()
}
