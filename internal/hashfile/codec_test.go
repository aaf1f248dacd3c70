package hashfile

import (
	"errors"
	"strings"
	"testing"
	"time"

	"dupefind/internal/dupe"
)

const (
	testMD5  = "9e107d9d372bb6826bd81d3542a419d6"
	testSHA1 = "2fd4e1c67a2d28fced849ee1bb76e7391b93eb12"
)

func sampleRecord() dupe.FileRecord {
	mtime := time.Date(2023, 6, 1, 12, 30, 45, 123456789, time.UTC)
	return dupe.FileRecord{
		RelativeGroupPath: "photos/2023",
		AbsoluteDirectory: "/data/photos/2023",
		AbsolutePath:      "/data/photos/2023/beach, day 1.jpg",
		Size:              4096,
		CreatedAt:         dupe.KnownTime(mtime.Add(-time.Hour)),
		ModifiedAt:        dupe.KnownTime(mtime),
		AccessedAt:        dupe.UnknownTime(),
		Digests:           dupe.DigestPair{MD5: testMD5, SHA1: testSHA1},
	}
}

func assertRecordEqual(t *testing.T, got, want dupe.FileRecord) {
	t.Helper()
	if got.RelativeGroupPath != want.RelativeGroupPath ||
		got.AbsoluteDirectory != want.AbsoluteDirectory ||
		got.AbsolutePath != want.AbsolutePath ||
		got.Size != want.Size ||
		got.Digests != want.Digests {
		t.Errorf("record = %+v, want %+v", got, want)
	}
	for _, ts := range []struct {
		name      string
		got, want dupe.Timestamp
	}{
		{"CreatedAt", got.CreatedAt, want.CreatedAt},
		{"ModifiedAt", got.ModifiedAt, want.ModifiedAt},
		{"AccessedAt", got.AccessedAt, want.AccessedAt},
	} {
		if !ts.got.Equal(ts.want) {
			t.Errorf("%s = %v (known=%v), want %v (known=%v)",
				ts.name, ts.got.Time(), ts.got.Known(), ts.want.Time(), ts.want.Known())
		}
	}
}

func TestEncodeRecord(t *testing.T) {
	t.Parallel()
	row := EncodeRecord(sampleRecord())

	if len(row) != NumColumns {
		t.Fatalf("len(row) = %d, want %d", len(row), NumColumns)
	}
	if row[colModifiedFormatted] != "2023-06-01 12:30:45.123456" {
		t.Errorf("modified formatted = %q", row[colModifiedFormatted])
	}
	if row[colModifiedRaw] != "1685622645123456789" {
		t.Errorf("modified raw = %q", row[colModifiedRaw])
	}
	if row[colAccessedRaw] != "" || row[colAccessedFormatted] != "" {
		t.Errorf("unknown accessed time encoded as %q / %q", row[colAccessedRaw], row[colAccessedFormatted])
	}
}

func TestDecodeRecord(t *testing.T) {
	t.Run("round trips every field", func(t *testing.T) {
		t.Parallel()
		want := sampleRecord()
		got, err := DecodeRecord(EncodeRecord(want))
		if err != nil {
			t.Fatalf("DecodeRecord() error = %v", err)
		}
		assertRecordEqual(t, got, want)
	})

	t.Run("round trips absent digests", func(t *testing.T) {
		t.Parallel()
		want := sampleRecord()
		want.Digests = dupe.DigestPair{}
		got, err := DecodeRecord(EncodeRecord(want))
		if err != nil {
			t.Fatalf("DecodeRecord() error = %v", err)
		}
		if !got.Digests.Absent() {
			t.Errorf("Digests = %+v, want absent", got.Digests)
		}
	})

	t.Run("keeps local time instants", func(t *testing.T) {
		t.Parallel()
		loc := time.FixedZone("UTC+5", 5*3600)
		want := sampleRecord()
		want.ModifiedAt = dupe.KnownTime(time.Date(2001, 2, 3, 4, 5, 6, 0, loc))
		got, err := DecodeRecord(EncodeRecord(want))
		if err != nil {
			t.Fatalf("DecodeRecord() error = %v", err)
		}
		if !got.ModifiedAt.Time().Equal(want.ModifiedAt.Time()) {
			t.Errorf("ModifiedAt = %v, want %v", got.ModifiedAt.Time(), want.ModifiedAt.Time())
		}
	})
}

func TestDecodeTimestamp(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		formatted string
		want      dupe.Timestamp
	}{
		{
			name:      "primary layout",
			formatted: "2020-01-02 03:04:05.678900",
			want:      dupe.KnownTime(time.Date(2020, 1, 2, 3, 4, 5, 678900000, time.UTC)),
		},
		{
			name:      "fallback layout without fraction",
			formatted: "2020-01-02 03:04:05",
			want:      dupe.KnownTime(time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)),
		},
		{
			name:      "raw restores nanoseconds when it agrees",
			raw:       "1577934245678900123",
			formatted: "2020-01-02 03:04:05.678900",
			want:      dupe.KnownTime(time.Unix(0, 1577934245678900123)),
		},
		{
			name:      "disagreeing raw is ignored",
			raw:       "42",
			formatted: "2020-01-02 03:04:05.678900",
			want:      dupe.KnownTime(time.Date(2020, 1, 2, 3, 4, 5, 678900000, time.UTC)),
		},
		{
			name:      "malformed formatted value is unknown",
			raw:       "1577934245678900123",
			formatted: "02/01/2020 3:04",
			want:      dupe.UnknownTime(),
		},
		{
			name: "empty is unknown",
			want: dupe.UnknownTime(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := decodeTimestamp(tt.raw, tt.formatted)
			if !got.Equal(tt.want) {
				t.Errorf("decodeTimestamp(%q, %q) = %v (known=%v), want %v (known=%v)",
					tt.raw, tt.formatted, got.Time(), got.Known(), tt.want.Time(), tt.want.Known())
			}
		})
	}
}

func TestDecodeRecord_Malformed(t *testing.T) {
	valid := func() []string { return EncodeRecord(sampleRecord()) }

	tests := []struct {
		name   string
		mutate func([]string) []string
	}{
		{"too few columns", func(r []string) []string { return r[:NumColumns-1] }},
		{"too many columns", func(r []string) []string { return append(r, "extra") }},
		{"non-numeric size", func(r []string) []string { r[colSize] = "big"; return r }},
		{"negative size", func(r []string) []string { r[colSize] = "-1"; return r }},
		{"uppercase md5", func(r []string) []string { r[colMD5] = strings.ToUpper(testMD5); return r }},
		{"short sha1", func(r []string) []string { r[colSHA1] = testSHA1[:39]; return r }},
		{"only one digest", func(r []string) []string { r[colSHA1] = ""; return r }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := DecodeRecord(tt.mutate(valid()))
			if !errors.Is(err, ErrMalformedRow) {
				t.Errorf("DecodeRecord() error = %v, want ErrMalformedRow", err)
			}
		})
	}

	t.Run("malformed timestamp keeps the record usable", func(t *testing.T) {
		t.Parallel()
		row := valid()
		row[colModifiedFormatted] = "yesterday"
		rec, err := DecodeRecord(row)
		if err != nil {
			t.Fatalf("DecodeRecord() error = %v", err)
		}
		if rec.ModifiedAt.Known() {
			t.Error("ModifiedAt should be unknown")
		}
		if rec.Digests.MD5 != testMD5 {
			t.Errorf("Digests.MD5 = %q, want %q", rec.Digests.MD5, testMD5)
		}
	})
}
