package dupe

import (
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"
)

// Policy decides which members of a duplicate group are copied and under
// which destination path. It must return one decision per record.
type Policy func(group DuplicateGroup) []CopyDecision

const (
	PolicyKeepAll = "keep-all"
	PolicyKeepOne = "keep-one"
)

// DefaultPolicy is used when no policy is configured.
const DefaultPolicy = PolicyKeepOne

var policies = map[string]Policy{
	PolicyKeepAll: KeepAllRenameDuplicates,
	PolicyKeepOne: KeepOneDropDuplicates,
}

// LookupPolicy returns the policy registered under name.
func LookupPolicy(name string) (Policy, error) {
	if name == "" {
		name = DefaultPolicy
	}
	p, ok := policies[name]
	if !ok {
		return nil, fmt.Errorf("unknown policy %q (valid: %s)", name, strings.Join(PolicyNames(), ", "))
	}
	return p, nil
}

// PolicyNames returns the registered policy names in sorted order.
func PolicyNames() []string {
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// KeepAllRenameDuplicates copies every record. The earliest modified record
// keeps its name; the others get a ".dupe_N" marker before the extension,
// numbered in modification order.
func KeepAllRenameDuplicates(group DuplicateGroup) []CopyDecision {
	decisions := make([]CopyDecision, 0, group.Len())
	for i, rec := range byModTime(group.Records) {
		name := filepath.Base(rec.AbsolutePath)
		if i > 0 {
			name = insertMarker(name, fmt.Sprintf(".dupe_%d", i))
		}
		decisions = append(decisions, CopyDecision{
			Record:      rec,
			Destination: filepath.Join(rec.RelativeGroupPath, name),
		})
	}
	return decisions
}

// KeepOneDropDuplicates copies only the earliest modified record and skips
// the rest of the group.
func KeepOneDropDuplicates(group DuplicateGroup) []CopyDecision {
	decisions := make([]CopyDecision, 0, group.Len())
	for i, rec := range byModTime(group.Records) {
		if i > 0 {
			decisions = append(decisions, CopyDecision{Record: rec, Skip: true})
			continue
		}
		decisions = append(decisions, CopyDecision{
			Record:      rec,
			Destination: filepath.Join(rec.RelativeGroupPath, filepath.Base(rec.AbsolutePath)),
		})
	}
	return decisions
}

// byModTime returns a copy of records stably sorted by modification time.
// Unknown times sort last.
func byModTime(records []FileRecord) []FileRecord {
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b FileRecord) int {
		switch {
		case a.ModifiedAt.Before(b.ModifiedAt):
			return -1
		case b.ModifiedAt.Before(a.ModifiedAt):
			return 1
		default:
			return 0
		}
	})
	return sorted
}

// insertMarker places marker between the stem and extension of name.
func insertMarker(name, marker string) string {
	stem, ext := splitExt(name)
	return stem + marker + ext
}

// splitExt splits name into stem and extension. Leading dots belong to the
// stem, so ".profile" has no extension.
func splitExt(name string) (string, string) {
	ext := filepath.Ext(strings.TrimLeft(name, "."))
	return name[:len(name)-len(ext)], ext
}
