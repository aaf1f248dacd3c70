package fs

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"dupefind/internal/dupe"
)

// IgnoreFileName is the per-root file of extra ignore patterns.
const IgnoreFileName = ".dupeignore"

// defaultIgnorePatterns are always applied regardless of config or .dupeignore.
// Only the root's own ignore file is skipped; one deeper in the tree is data.
var defaultIgnorePatterns = []string{"/" + IgnoreFileName}

// ignorePattern is a parsed ignore pattern with its matching strategy.
type ignorePattern struct {
	pattern   string
	matchPath bool // match the relative path instead of the basename
}

// IgnoreMatcher prunes files and directories from a walk.
// Patterns without '/' match the basename of any entry at any depth.
// Patterns with '/', or anchored with a leading '/', match the full path
// relative to the walk root; a match on a directory excludes everything below
// it. A trailing '/' is dropped.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings.
// Blank lines and lines starting with '#' are skipped, as are patterns that
// filepath.Match rejects.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []ignorePattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		anchored := strings.HasPrefix(raw, "/")
		raw = strings.TrimPrefix(strings.TrimSuffix(raw, "/"), "/")
		if raw == "" {
			continue
		}
		if _, err := filepath.Match(raw, ""); err != nil {
			continue
		}
		patterns = append(patterns, ignorePattern{
			pattern:   raw,
			matchPath: anchored || strings.Contains(raw, "/"),
		})
	}
	return &IgnoreMatcher{patterns: patterns}
}

// LoadIgnoreMatcher combines the default patterns, the configured patterns and
// the patterns of root's .dupeignore file, if any.
func LoadIgnoreMatcher(root string, configured []string) (*IgnoreMatcher, error) {
	fromFile, err := ParseIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	all := make([]string, 0, len(defaultIgnorePatterns)+len(configured)+len(fromFile))
	all = append(all, defaultIgnorePatterns...)
	all = append(all, configured...)
	all = append(all, fromFile...)
	return NewIgnoreMatcher(all), nil
}

// Match reports whether the entry at relativePath should be skipped.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	if len(m.patterns) == 0 || relativePath == "" {
		return false
	}

	normalized := filepath.ToSlash(relativePath)
	basename := filepath.Base(relativePath)

	for _, p := range m.patterns {
		target := basename
		if p.matchPath {
			target = normalized
		}
		if matched, _ := filepath.Match(p.pattern, target); matched {
			return true
		}
	}
	return false
}

// Len returns the number of active patterns.
func (m *IgnoreMatcher) Len() int { return len(m.patterns) }

// ParseIgnoreFile reads an ignore file and returns its raw lines.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}

var _ dupe.IgnoreMatcher = (*IgnoreMatcher)(nil)
