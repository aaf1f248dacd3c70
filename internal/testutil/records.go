package testutil

import (
	"io"
	"path/filepath"
	"time"

	"dupefind/internal/dupe"
)

// RecordBuffer is an in-memory RecordSource and RecordSink.
type RecordBuffer struct {
	Records []dupe.FileRecord
	pos     int
}

// NewRecordBuffer creates a buffer that yields records in order.
func NewRecordBuffer(records ...dupe.FileRecord) *RecordBuffer {
	return &RecordBuffer{Records: records}
}

func (b *RecordBuffer) ReadRecord() (dupe.FileRecord, error) {
	if b.pos >= len(b.Records) {
		return dupe.FileRecord{}, io.EOF
	}
	rec := b.Records[b.pos]
	b.pos++
	return rec, nil
}

func (b *RecordBuffer) WriteRecord(rec dupe.FileRecord) error {
	b.Records = append(b.Records, rec)
	return nil
}

// Paths returns the AbsolutePath of every buffered record.
func (b *RecordBuffer) Paths() []string {
	out := make([]string, len(b.Records))
	for i, rec := range b.Records {
		out[i] = rec.AbsolutePath
	}
	return out
}

// NewRecord builds a record for a file at absPath below root with the given
// content and modification time. Size and digests are derived from content.
func NewRecord(root, absPath, content string, mtime time.Time) dupe.FileRecord {
	dir := filepath.Dir(absPath)
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." {
		rel = ""
	}
	return dupe.FileRecord{
		RelativeGroupPath: rel,
		AbsoluteDirectory: dir,
		AbsolutePath:      absPath,
		Size:              int64(len(content)),
		ModifiedAt:        dupe.KnownTime(mtime),
		Digests:           DigestsOf([]byte(content)),
	}
}

var (
	_ dupe.RecordSource = (*RecordBuffer)(nil)
	_ dupe.RecordSink   = (*RecordBuffer)(nil)
)
