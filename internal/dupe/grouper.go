package dupe

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

// RecordSource yields FileRecords one at a time. ReadRecord returns io.EOF
// after the last record.
type RecordSource interface {
	ReadRecord() (FileRecord, error)
}

// RecordSink accepts FileRecords in order.
type RecordSink interface {
	WriteRecord(rec FileRecord) error
}

// GroupOptions tunes how records are grouped.
type GroupOptions struct {
	// VerifySize splits a digest-pair group whose members disagree on size.
	// Off by default: the digest pair alone is the grouping key.
	VerifySize bool
}

// Groups is the complete digest-pair index of one hashfile. It is only
// available after every record has been read.
type Groups struct {
	groups     []DuplicateGroup
	total      int
	unreadable int
}

// GroupRecords reads src to the end and groups its records by digest pair.
// Records without digests are counted but never grouped.
func GroupRecords(src RecordSource, opts GroupOptions, logger Logger) (*Groups, error) {
	byKey := make(map[DigestPair][]FileRecord)
	var keys []DigestPair
	g := &Groups{}

	for {
		rec, err := src.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading record: %w", err)
		}
		g.total++
		if rec.Digests.Absent() {
			g.unreadable++
			logger.Debug("record has no digests, not grouped", "path", rec.AbsolutePath)
			continue
		}
		if _, ok := byKey[rec.Digests]; !ok {
			keys = append(keys, rec.Digests)
		}
		byKey[rec.Digests] = append(byKey[rec.Digests], rec)
	}

	slices.SortFunc(keys, compareKeys)

	for _, key := range keys {
		records := byKey[key]
		if !opts.VerifySize {
			g.groups = append(g.groups, DuplicateGroup{Key: key, Records: records})
			continue
		}
		split := splitBySize(key, records)
		if len(split) > 1 {
			logger.Warn("digest pair shared by files of different sizes, splitting group",
				"md5", key.MD5, "sha1", key.SHA1, "groups", len(split))
		}
		g.groups = append(g.groups, split...)
	}

	return g, nil
}

// splitBySize partitions records by size, keeping first-appearance order for
// both the partitions and their members.
func splitBySize(key DigestPair, records []FileRecord) []DuplicateGroup {
	var out []DuplicateGroup
	index := make(map[int64]int)
	for _, rec := range records {
		i, ok := index[rec.Size]
		if !ok {
			i = len(out)
			index[rec.Size] = i
			out = append(out, DuplicateGroup{Key: key})
		}
		out[i].Records = append(out[i].Records, rec)
	}
	return out
}

func compareKeys(a, b DigestPair) int {
	if c := strings.Compare(a.MD5, b.MD5); c != 0 {
		return c
	}
	return strings.Compare(a.SHA1, b.SHA1)
}

// Sorted returns every group, singletons included, ordered by digest pair.
func (g *Groups) Sorted() []DuplicateGroup {
	return g.groups
}

// Duplicates returns the groups with more than one member, ordered by digest
// pair, with members ordered by absolute path.
func (g *Groups) Duplicates() []DuplicateGroup {
	var out []DuplicateGroup
	for _, group := range g.groups {
		if group.Len() < 2 {
			continue
		}
		records := slices.Clone(group.Records)
		slices.SortStableFunc(records, func(a, b FileRecord) int {
			return strings.Compare(a.AbsolutePath, b.AbsolutePath)
		})
		out = append(out, DuplicateGroup{Key: group.Key, Records: records})
	}
	return out
}

// Total returns the number of records read, including unreadable ones.
func (g *Groups) Total() int { return g.total }

// Unreadable returns the number of records without digests.
func (g *Groups) Unreadable() int { return g.unreadable }

// WriteDupefile writes the members of every duplicate group to sink.
// Returns the number of records written.
func (g *Groups) WriteDupefile(sink RecordSink) (int, error) {
	n := 0
	for _, group := range g.Duplicates() {
		for _, rec := range group.Records {
			if err := sink.WriteRecord(rec); err != nil {
				return n, fmt.Errorf("writing record %s: %w", rec.AbsolutePath, err)
			}
			n++
		}
	}
	return n, nil
}
