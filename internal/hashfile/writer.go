package hashfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"dupefind/internal/dupe"
)

// ErrUnencodable is returned for a record with a field that would not read
// back unchanged. The csv reader folds "\r\n" inside quoted fields to "\n".
var ErrUnencodable = errors.New("field cannot be stored in a hashfile")

// Writer writes FileRecords as comma-separated rows.
type Writer struct {
	csv   *csv.Writer
	count int
}

// NewWriter creates a Writer on w. Call Flush when done.
func NewWriter(w io.Writer) *Writer {
	return &Writer{csv: csv.NewWriter(w)}
}

// WriteRecord writes one row.
func (w *Writer) WriteRecord(rec dupe.FileRecord) error {
	row := EncodeRecord(rec)
	for _, field := range row {
		if strings.Contains(field, "\r\n") {
			return fmt.Errorf("%w: %q", ErrUnencodable, field)
		}
	}
	if err := w.csv.Write(row); err != nil {
		return fmt.Errorf("writing row: %w", err)
	}
	w.count++
	return nil
}

// Count returns the number of rows written.
func (w *Writer) Count() int { return w.count }

// Flush writes buffered rows to the underlying writer.
func (w *Writer) Flush() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("flushing rows: %w", err)
	}
	return nil
}

var _ dupe.RecordSink = (*Writer)(nil)
