package dupe

import (
	"fmt"
	"os"
	"path/filepath"
)

// ResolveCollision returns the first "<stem>.collision_N<ext>" sibling of
// dest, N counting from 1, for which exists reports false.
//
// The check is advisory: nothing stops another process from creating the
// returned path before the caller does.
func ResolveCollision(dest string, exists func(string) bool) string {
	dir, base := filepath.Split(dest)
	stem, ext := splitExt(base)
	for n := 1; ; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s.collision_%d%s", stem, n, ext))
		if !exists(candidate) {
			return candidate
		}
	}
}

// PathExists reports whether anything, including a dangling symlink, occupies path.
func PathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
