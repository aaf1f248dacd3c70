package dupe

import (
	"time"
)

// Timestamp is a file time that may be unknown.
// The zero value is the unknown marker.
type Timestamp struct {
	t     time.Time
	known bool
}

// KnownTime returns a Timestamp holding t.
func KnownTime(t time.Time) Timestamp {
	return Timestamp{t: t, known: true}
}

// UnknownTime returns the unknown marker.
func UnknownTime() Timestamp {
	return Timestamp{}
}

// Known reports whether the timestamp holds a value.
func (ts Timestamp) Known() bool { return ts.known }

// Time returns the instant, or the zero time when unknown.
func (ts Timestamp) Time() time.Time { return ts.t }

// Before orders timestamps with unknown values after all known ones.
func (ts Timestamp) Before(other Timestamp) bool {
	switch {
	case ts.known && other.known:
		return ts.t.Before(other.t)
	case ts.known:
		return true
	default:
		return false
	}
}

// Equal reports whether both timestamps are unknown or hold the same instant.
func (ts Timestamp) Equal(other Timestamp) bool {
	if ts.known != other.known {
		return false
	}
	return !ts.known || ts.t.Equal(other.t)
}

// DigestPair is the compound content key: MD5 and SHA-1 of the whole file,
// lowercase hex. Both are empty when the file could not be read.
type DigestPair struct {
	MD5  string
	SHA1 string
}

// Absent reports whether the pair carries no digests.
func (d DigestPair) Absent() bool {
	return d.MD5 == "" && d.SHA1 == ""
}

// FileRecord is one regular file discovered under a scan root.
// Records are values; nothing mutates a record after the fingerprinter
// produced it.
type FileRecord struct {
	RelativeGroupPath string // containing directory relative to the root, "" at the root
	AbsoluteDirectory string
	AbsolutePath      string
	Size              int64
	CreatedAt         Timestamp
	ModifiedAt        Timestamp
	AccessedAt        Timestamp
	Digests           DigestPair
}

// DuplicateGroup is every record sharing one digest pair, in the order the
// grouper encountered them.
type DuplicateGroup struct {
	Key     DigestPair
	Records []FileRecord
}

// Len returns the number of records in the group.
func (g DuplicateGroup) Len() int { return len(g.Records) }

// CopyDecision pairs a record with the destination path (relative to the
// destination root) it should be copied to. Skip marks a record that is
// redundant with one already scheduled.
type CopyDecision struct {
	Record      FileRecord
	Destination string
	Skip        bool
}
