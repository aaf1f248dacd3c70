package hashfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"dupefind/internal/dupe"
)

// Reader reads FileRecords from comma-separated rows.
type Reader struct {
	csv *csv.Reader
}

// NewReader creates a Reader on r.
func NewReader(r io.Reader) *Reader {
	cr := csv.NewReader(r)
	// Column count is checked by DecodeRecord so the error names the row.
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	return &Reader{csv: cr}
}

// ReadRecord returns the next record, or io.EOF after the last one.
// Decode errors carry the line number and wrap ErrMalformedRow.
func (r *Reader) ReadRecord() (dupe.FileRecord, error) {
	row, err := r.csv.Read()
	if errors.Is(err, io.EOF) {
		return dupe.FileRecord{}, io.EOF
	}
	if err != nil {
		return dupe.FileRecord{}, fmt.Errorf("%w: %w", ErrMalformedRow, err)
	}
	rec, err := DecodeRecord(row)
	if err != nil {
		line, _ := r.csv.FieldPos(0)
		return dupe.FileRecord{}, fmt.Errorf("line %d: %w", line, err)
	}
	return rec, nil
}

// ReadAll returns every remaining record.
func (r *Reader) ReadAll() ([]dupe.FileRecord, error) {
	var out []dupe.FileRecord
	for {
		rec, err := r.ReadRecord()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

var _ dupe.RecordSource = (*Reader)(nil)
