package vault

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"sync"

	"dupefind/internal/dupe"
)

// MemoryVault keeps hashfiles in memory. It is useful for tests and safe for
// concurrent use.
type MemoryVault struct {
	name      string
	hashfiles map[string][]byte
	mu        sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:      name,
		hashfiles: make(map[string][]byte),
	}
}

// PutHashfile stores the hashfile read from r under name, replacing any
// previous hashfile of that name.
func (m *MemoryVault) PutHashfile(name string, r io.Reader, size int64) error {
	if err := validateName(name); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading hashfile: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashfiles[name] = data
	return nil
}

// GetHashfile writes the hashfile stored under name to w.
func (m *MemoryVault) GetHashfile(name string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.hashfiles[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing hashfile: %w", err)
	}
	return nil
}

// ListHashfiles returns the stored names in sorted order.
func (m *MemoryVault) ListHashfiles() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.hashfiles))
	for name := range m.hashfiles {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// ValidateSetup always succeeds for the memory vault.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}

var _ dupe.Vault = (*MemoryVault)(nil)
