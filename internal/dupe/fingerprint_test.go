package dupe_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"dupefind/internal/dupe"
	"dupefind/internal/fs"
	"dupefind/internal/testutil"
)

func TestFingerprinter_Fingerprint(t *testing.T) {
	mtime := time.Date(2022, 5, 6, 7, 8, 9, 0, time.UTC)

	t.Run("records digests size and times", func(t *testing.T) {
		t.Parallel()
		root := resolvedRoot(t)
		content := strings.Repeat("0123456789", 20000) // spans several chunks
		testutil.WriteTree(t, root, map[string]string{"sub/data.bin": content})
		path := filepath.Join(root, "sub", "data.bin")
		testutil.SetModTime(t, path, mtime)

		fp := dupe.NewFingerprinter(fs.NewOSPlatform(), dupe.NewNopLogger())
		rec := fp.Fingerprint(root, dupe.WalkEntry{Path: path, ResolvedPath: path})

		if rec.RelativeGroupPath != "sub" {
			t.Errorf("RelativeGroupPath = %q, want sub", rec.RelativeGroupPath)
		}
		if rec.AbsoluteDirectory != filepath.Join(root, "sub") || rec.AbsolutePath != path {
			t.Errorf("paths = %q, %q", rec.AbsoluteDirectory, rec.AbsolutePath)
		}
		if rec.Size != int64(len(content)) {
			t.Errorf("Size = %d, want %d", rec.Size, len(content))
		}
		if want := testutil.DigestsOf([]byte(content)); rec.Digests != want {
			t.Errorf("Digests = %+v, want %+v", rec.Digests, want)
		}
		if !rec.ModifiedAt.Time().Equal(mtime) {
			t.Errorf("ModifiedAt = %v, want %v", rec.ModifiedAt.Time(), mtime)
		}
	})

	t.Run("root level file has empty group path", func(t *testing.T) {
		t.Parallel()
		root := resolvedRoot(t)
		testutil.WriteTree(t, root, map[string]string{"top.txt": "x"})
		path := filepath.Join(root, "top.txt")

		fp := dupe.NewFingerprinter(fs.NewOSPlatform(), dupe.NewNopLogger())
		if rec := fp.Fingerprint(root, dupe.WalkEntry{Path: path, ResolvedPath: path}); rec.RelativeGroupPath != "" {
			t.Errorf("RelativeGroupPath = %q, want empty", rec.RelativeGroupPath)
		}
	})

	t.Run("access time survives hashing", func(t *testing.T) {
		t.Parallel()
		root := resolvedRoot(t)
		testutil.WriteTree(t, root, map[string]string{"read.txt": "content"})
		path := filepath.Join(root, "read.txt")
		atime := time.Date(2020, 2, 3, 4, 5, 6, 0, time.UTC)
		if err := os.Chtimes(path, atime, mtime); err != nil {
			t.Fatalf("Chtimes() error = %v", err)
		}

		platform := fs.NewOSPlatform()
		fp := dupe.NewFingerprinter(platform, dupe.NewNopLogger())
		rec := fp.Fingerprint(root, dupe.WalkEntry{Path: path, ResolvedPath: path})
		if !rec.AccessedAt.Known() {
			t.Skip("platform does not report access times")
		}
		if !rec.AccessedAt.Time().Equal(atime) {
			t.Errorf("AccessedAt = %v, want %v", rec.AccessedAt.Time(), atime)
		}

		after, err := platform.ReadTimes(path)
		if err != nil {
			t.Fatalf("ReadTimes() error = %v", err)
		}
		if !after.Accessed.Time().Equal(atime) {
			t.Errorf("access time after hashing = %v, want %v", after.Accessed.Time(), atime)
		}
		if !after.Modified.Time().Equal(mtime) {
			t.Errorf("modification time after hashing = %v, want %v", after.Modified.Time(), mtime)
		}
	})

	t.Run("identical bytes give identical digests", func(t *testing.T) {
		t.Parallel()
		root := resolvedRoot(t)
		testutil.WriteTree(t, root, map[string]string{"a.txt": "same", "b/c.txt": "same", "d.txt": "diff"})

		fp := dupe.NewFingerprinter(fs.NewOSPlatform(), dupe.NewNopLogger())
		digest := func(rel string) dupe.DigestPair {
			p := filepath.Join(root, filepath.FromSlash(rel))
			return fp.Fingerprint(root, dupe.WalkEntry{Path: p, ResolvedPath: p}).Digests
		}
		if digest("a.txt") != digest("b/c.txt") {
			t.Error("identical content produced different digests")
		}
		if digest("a.txt") != digest("a.txt") {
			t.Error("rehashing produced different digests")
		}
		if digest("a.txt") == digest("d.txt") {
			t.Error("different content produced equal digests")
		}
	})

	t.Run("unreadable file has no digests", func(t *testing.T) {
		t.Parallel()
		root := resolvedRoot(t)
		path := filepath.Join(root, "vanished.txt")

		logger := testutil.NewRecordingLogger()
		fp := dupe.NewFingerprinter(fs.NewOSPlatform(), logger)
		rec := fp.Fingerprint(root, dupe.WalkEntry{Path: path, ResolvedPath: path})

		if !rec.Digests.Absent() {
			t.Errorf("Digests = %+v, want absent", rec.Digests)
		}
		if rec.AbsolutePath != path {
			t.Errorf("AbsolutePath = %q, want %q", rec.AbsolutePath, path)
		}
		if logger.Count("WARN", "cannot hash file") != 1 {
			t.Errorf("expected a hash warning, got:\n%s", logger)
		}
	})

	t.Run("timestamp failure leaves times unknown", func(t *testing.T) {
		t.Parallel()
		root := resolvedRoot(t)
		testutil.WriteTree(t, root, map[string]string{"a.txt": "x"})
		path := filepath.Join(root, "a.txt")

		platform := testutil.NewFaultyPlatform()
		platform.FailReadTimes(path, errors.New("boom"))
		rec := dupe.NewFingerprinter(platform, dupe.NewNopLogger()).
			Fingerprint(root, dupe.WalkEntry{Path: path, ResolvedPath: path})

		if rec.ModifiedAt.Known() || rec.CreatedAt.Known() || rec.AccessedAt.Known() {
			t.Error("times should be unknown")
		}
		if rec.Digests.Absent() {
			t.Error("digests should still be computed")
		}
	})
}

func TestFingerprinter_FingerprintAll(t *testing.T) {
	root := resolvedRoot(t)
	files := make(map[string]string)
	for i := range 40 {
		files[filepath.ToSlash(filepath.Join(string(rune('a'+i%5)), strings.Repeat("f", i%7+1)+".txt"))] = strings.Repeat("x", i)
	}
	testutil.WriteTree(t, root, files)

	collect := func(t *testing.T, workers int) []dupe.FileRecord {
		t.Helper()
		fp := dupe.NewFingerprinter(fs.NewOSPlatform(), dupe.NewNopLogger())
		var out []dupe.FileRecord
		err := fp.FingerprintAll(context.Background(), root, newWalker().Files(root), workers, func(rec dupe.FileRecord) error {
			out = append(out, rec)
			return nil
		})
		if err != nil {
			t.Fatalf("FingerprintAll() error = %v", err)
		}
		return out
	}

	t.Run("output order does not depend on worker count", func(t *testing.T) {
		sequential := collect(t, 1)
		parallel := collect(t, 8)
		if len(sequential) == 0 || len(sequential) != len(parallel) {
			t.Fatalf("got %d and %d records", len(sequential), len(parallel))
		}
		for i := range sequential {
			if sequential[i].AbsolutePath != parallel[i].AbsolutePath || sequential[i].Digests != parallel[i].Digests {
				t.Errorf("record %d differs: %s vs %s", i, sequential[i].AbsolutePath, parallel[i].AbsolutePath)
			}
		}
	})

	t.Run("emit error stops the pipeline", func(t *testing.T) {
		for _, workers := range []int{1, 4} {
			fp := dupe.NewFingerprinter(fs.NewOSPlatform(), dupe.NewNopLogger())
			stop := errors.New("stop")
			n := 0
			err := fp.FingerprintAll(context.Background(), root, newWalker().Files(root), workers, func(dupe.FileRecord) error {
				n++
				if n == 3 {
					return stop
				}
				return nil
			})
			if !errors.Is(err, stop) {
				t.Errorf("workers=%d: error = %v, want stop", workers, err)
			}
			if n != 3 {
				t.Errorf("workers=%d: emitted %d records after error, want 3", workers, n)
			}
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		fp := dupe.NewFingerprinter(fs.NewOSPlatform(), dupe.NewNopLogger())
		err := fp.FingerprintAll(ctx, root, newWalker().Files(root), 1, func(dupe.FileRecord) error { return nil })
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	})

	t.Run("paths are unique", func(t *testing.T) {
		records := collect(t, 4)
		paths := make([]string, len(records))
		for i, r := range records {
			paths[i] = r.AbsolutePath
		}
		slices.Sort(paths)
		if len(slices.Compact(paths)) != len(records) {
			t.Error("duplicate paths in output")
		}
	})
}
