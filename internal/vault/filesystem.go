package vault

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"dupefind/internal/dupe"
)

// FileSystemVault stores hashfiles as plain files:
//
//	<root>/
//	  hashfiles/
//	    <name>
type FileSystemVault struct {
	name         string
	root         string
	hashfilesDir string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	hashfilesDir := filepath.Join(root, "hashfiles")
	if err := os.MkdirAll(hashfilesDir, 0755); err != nil {
		return nil, fmt.Errorf("creating hashfiles directory: %w", err)
	}

	return &FileSystemVault{
		name:         name,
		root:         root,
		hashfilesDir: hashfilesDir,
	}, nil
}

// PutHashfile stores the hashfile read from r under name. The file appears
// under its final name only once it is complete.
func (v *FileSystemVault) PutHashfile(name string, r io.Reader, size int64) error {
	if err := validateName(name); err != nil {
		return err
	}
	return v.writeFile(filepath.Join(v.hashfilesDir, name), r, size)
}

// GetHashfile writes the hashfile stored under name to w.
func (v *FileSystemVault) GetHashfile(name string, w io.Writer) error {
	if err := validateName(name); err != nil {
		return err
	}
	f, err := os.Open(filepath.Join(v.hashfilesDir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("opening hashfile: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("reading hashfile: %w", err)
	}
	return nil
}

// ListHashfiles returns the stored names in sorted order. Unfinished uploads
// are not listed.
func (v *FileSystemVault) ListHashfiles() ([]string, error) {
	entries, err := os.ReadDir(v.hashfilesDir)
	if err != nil {
		return nil, fmt.Errorf("listing hashfiles: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}

// ValidateSetup verifies that the vault directories are accessible.
func (v *FileSystemVault) ValidateSetup() error {
	for _, dir := range []string{v.root, v.hashfilesDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}
	return nil
}

// writeFile writes r to destPath through a temp file in the same directory
// and a rename.
func (v *FileSystemVault) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing hashfile: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	success = true
	return nil
}

var _ dupe.Vault = (*FileSystemVault)(nil)
