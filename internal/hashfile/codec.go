// Package hashfile reads and writes the textual inventory of fingerprinted
// files. Each row is one dupe.FileRecord in a fixed 12-column layout.
package hashfile

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"dupefind/internal/dupe"
)

// Column positions.
const (
	colRelativeGroupPath = iota
	colAbsoluteDirectory
	colAbsolutePath
	colSize
	colCreatedRaw
	colModifiedRaw
	colAccessedRaw
	colCreatedFormatted
	colModifiedFormatted
	colAccessedFormatted
	colMD5
	colSHA1

	// NumColumns is the number of fields in every row.
	NumColumns
)

// TimeLayout is the formatted timestamp pattern. Timestamps are written in UTC.
const TimeLayout = "2006-01-02 15:04:05.000000"

// fallbackTimeLayout accepts formatted timestamps without fractional seconds.
const fallbackTimeLayout = "2006-01-02 15:04:05"

const (
	md5HexLen  = 32
	sha1HexLen = 40
)

// ErrMalformedRow is wrapped by every decode error.
var ErrMalformedRow = errors.New("malformed hashfile row")

// EncodeRecord converts rec to its row representation.
func EncodeRecord(rec dupe.FileRecord) []string {
	row := make([]string, NumColumns)
	row[colRelativeGroupPath] = rec.RelativeGroupPath
	row[colAbsoluteDirectory] = rec.AbsoluteDirectory
	row[colAbsolutePath] = rec.AbsolutePath
	row[colSize] = strconv.FormatInt(rec.Size, 10)
	row[colCreatedRaw], row[colCreatedFormatted] = encodeTimestamp(rec.CreatedAt)
	row[colModifiedRaw], row[colModifiedFormatted] = encodeTimestamp(rec.ModifiedAt)
	row[colAccessedRaw], row[colAccessedFormatted] = encodeTimestamp(rec.AccessedAt)
	row[colMD5] = rec.Digests.MD5
	row[colSHA1] = rec.Digests.SHA1
	return row
}

// DecodeRecord converts a row back into a FileRecord. Timestamps that cannot
// be parsed become unknown; every other problem is an error wrapping
// ErrMalformedRow.
func DecodeRecord(row []string) (dupe.FileRecord, error) {
	if len(row) != NumColumns {
		return dupe.FileRecord{}, fmt.Errorf("%w: expected %d columns, got %d", ErrMalformedRow, NumColumns, len(row))
	}

	size, err := strconv.ParseInt(row[colSize], 10, 64)
	if err != nil || size < 0 {
		return dupe.FileRecord{}, fmt.Errorf("%w: invalid size %q", ErrMalformedRow, row[colSize])
	}

	digests, err := decodeDigests(row[colMD5], row[colSHA1])
	if err != nil {
		return dupe.FileRecord{}, err
	}

	return dupe.FileRecord{
		RelativeGroupPath: row[colRelativeGroupPath],
		AbsoluteDirectory: row[colAbsoluteDirectory],
		AbsolutePath:      row[colAbsolutePath],
		Size:              size,
		CreatedAt:         decodeTimestamp(row[colCreatedRaw], row[colCreatedFormatted]),
		ModifiedAt:        decodeTimestamp(row[colModifiedRaw], row[colModifiedFormatted]),
		AccessedAt:        decodeTimestamp(row[colAccessedRaw], row[colAccessedFormatted]),
		Digests:           digests,
	}, nil
}

// encodeTimestamp returns the raw (Unix nanoseconds) and formatted columns.
// Unknown timestamps leave both empty.
func encodeTimestamp(ts dupe.Timestamp) (string, string) {
	if !ts.Known() {
		return "", ""
	}
	t := ts.Time()
	return strconv.FormatInt(t.UnixNano(), 10), t.UTC().Format(TimeLayout)
}

// decodeTimestamp trusts the formatted column. The raw column only restores
// sub-microsecond precision, and only when it agrees with the formatted value.
func decodeTimestamp(raw, formatted string) dupe.Timestamp {
	t, precision, ok := parseFormatted(formatted)
	if !ok {
		return dupe.UnknownTime()
	}
	if ns, err := strconv.ParseInt(raw, 10, 64); err == nil {
		precise := time.Unix(0, ns).UTC()
		if precise.Truncate(precision).Equal(t) {
			return dupe.KnownTime(precise)
		}
	}
	return dupe.KnownTime(t)
}

func parseFormatted(s string) (time.Time, time.Duration, bool) {
	if s == "" {
		return time.Time{}, 0, false
	}
	if t, err := time.ParseInLocation(TimeLayout, s, time.UTC); err == nil {
		return t, time.Microsecond, true
	}
	if t, err := time.ParseInLocation(fallbackTimeLayout, s, time.UTC); err == nil {
		return t, time.Second, true
	}
	return time.Time{}, 0, false
}

func decodeDigests(md5Hex, sha1Hex string) (dupe.DigestPair, error) {
	if md5Hex == "" && sha1Hex == "" {
		return dupe.DigestPair{}, nil
	}
	if !isLowerHex(md5Hex, md5HexLen) {
		return dupe.DigestPair{}, fmt.Errorf("%w: invalid md5 digest %q", ErrMalformedRow, md5Hex)
	}
	if !isLowerHex(sha1Hex, sha1HexLen) {
		return dupe.DigestPair{}, fmt.Errorf("%w: invalid sha1 digest %q", ErrMalformedRow, sha1Hex)
	}
	return dupe.DigestPair{MD5: md5Hex, SHA1: sha1Hex}, nil
}

func isLowerHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
