package dupe

import (
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// WalkEntry is one leaf discovered by the Walker.
type WalkEntry struct {
	// Path is where the entry was found, below the root.
	Path string
	// ResolvedPath is Path with symlinks resolved. Equal to Path for plain files.
	ResolvedPath string
	// LinkedDir marks a symlinked or reparse-point directory kept as a leaf.
	LinkedDir bool
}

// IgnoreMatcher decides whether a path relative to the walk root is excluded.
type IgnoreMatcher interface {
	Match(relativePath string) bool
}

// Walker enumerates the regular files below a root directory.
//
// Each directory yields its own files before any of its subdirectories are
// entered, and subdirectories are entered in name order. Symlinks and reparse
// points are never descended into, so the walk terminates on cyclic trees.
type Walker struct {
	Reparse ReparseDetector
	Ignore  IgnoreMatcher
	Logger  Logger

	// KeepLinkedDirs yields symlinked directories as leaf entries instead of
	// dropping them.
	KeepLinkedDirs bool

	// OnError, when set, is called for every directory that cannot be listed.
	OnError func(dir string, err error)
}

// Files returns a lazy sequence of the files under root. Every call restarts
// the walk from the root. Root must be an absolute, symlink-free path; use
// ResolveRoot to obtain one.
func (w *Walker) Files(root string) iter.Seq[WalkEntry] {
	return func(yield func(WalkEntry) bool) {
		seen := make(map[string]struct{})
		stack := []string{root}

		for len(stack) > 0 {
			dir := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			subdirs, ok := w.visit(root, dir, seen, yield)
			if !ok {
				return
			}
			// Push in reverse so the first subdirectory is visited next.
			for _, sub := range slices.Backward(subdirs) {
				stack = append(stack, sub)
			}
		}
	}
}

// visit yields the leaves of dir and returns its subdirectories in name order.
// The bool is false once the consumer stopped the iteration.
func (w *Walker) visit(root, dir string, seen map[string]struct{}, yield func(WalkEntry) bool) ([]string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		w.logger().Warn("cannot list directory", "dir", dir, "error", err)
		if w.OnError != nil {
			w.OnError(dir, err)
		}
		// os.ReadDir returns what it read before failing; keep going with it.
		if len(entries) == 0 {
			return nil, true
		}
	}

	var subdirs []string
	for _, d := range entries {
		p := filepath.Join(dir, d.Name())
		if w.ignored(root, p) {
			continue
		}

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			entry, ok := w.followLink(root, p)
			if !ok {
				continue
			}
			if !w.emit(entry, seen, yield) {
				return nil, false
			}

		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				w.logger().Warn("cannot stat directory", "dir", p, "error", err)
				continue
			}
			if w.Reparse != nil && w.Reparse.IsReparsePoint(p, info) {
				if !w.KeepLinkedDirs {
					w.logger().Debug("not descending into reparse point", "path", p)
					continue
				}
				if !w.emit(WalkEntry{Path: p, ResolvedPath: p, LinkedDir: true}, seen, yield) {
					return nil, false
				}
				continue
			}
			subdirs = append(subdirs, p)

		case d.Type().IsRegular():
			if !w.emit(WalkEntry{Path: p, ResolvedPath: p}, seen, yield) {
				return nil, false
			}

		default:
			w.logger().Debug("skipping special file", "path", p, "type", d.Type().String())
		}
	}
	return subdirs, true
}

// followLink classifies a symlink. Links to regular files outside root are
// yielded under their resolved path; a target below root is left to be found
// at its own location. Links to directories are yielded only when
// KeepLinkedDirs is set.
func (w *Walker) followLink(root, p string) (WalkEntry, bool) {
	info, err := os.Stat(p)
	if err != nil {
		w.logger().Debug("skipping dangling symlink", "path", p, "error", err)
		return WalkEntry{}, false
	}
	if info.IsDir() {
		if !w.KeepLinkedDirs {
			w.logger().Debug("not descending into symlinked directory", "path", p)
			return WalkEntry{}, false
		}
		return WalkEntry{Path: p, ResolvedPath: p, LinkedDir: true}, true
	}
	if !info.Mode().IsRegular() {
		return WalkEntry{}, false
	}
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		w.logger().Warn("cannot resolve symlink", "path", p, "error", err)
		return WalkEntry{}, false
	}
	if within(root, resolved) {
		w.logger().Debug("skipping symlink to a file inside the root", "path", p, "resolved", resolved)
		return WalkEntry{}, false
	}
	return WalkEntry{Path: p, ResolvedPath: resolved}, true
}

// emit yields entry unless its resolved path was already yielded.
func (w *Walker) emit(entry WalkEntry, seen map[string]struct{}, yield func(WalkEntry) bool) bool {
	if _, dup := seen[entry.ResolvedPath]; dup {
		w.logger().Debug("skipping already visited file", "path", entry.Path, "resolved", entry.ResolvedPath)
		return true
	}
	seen[entry.ResolvedPath] = struct{}{}
	return yield(entry)
}

func (w *Walker) ignored(root, p string) bool {
	if w.Ignore == nil {
		return false
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return w.Ignore.Match(rel)
}

// within reports whether path lies below dir.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Walker) logger() Logger {
	if w.Logger == nil {
		return NewNopLogger()
	}
	return w.Logger
}

// ResolveRoot turns a user supplied directory into the absolute, symlink-free
// form the Walker expects.
func ResolveRoot(rawPath string) (string, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return "", fmt.Errorf("resolving absolute path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return "", fmt.Errorf("resolving symlinks: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path is not a directory: %s", resolved)
	}
	return resolved, nil
}
