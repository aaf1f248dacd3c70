package dupe_test

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
	"time"

	"dupefind/internal/dupe"
	"dupefind/internal/testutil"
)

// sourceTree writes three copies of one file and a unique file below a fresh
// root and returns the root with its records in walk order.
func sourceTree(t *testing.T) (string, []dupe.FileRecord) {
	t.Helper()
	root := resolvedRoot(t)
	files := []struct {
		rel     string
		content string
		mtime   time.Time
	}{
		{"u.txt", "unique", baseTime},
		{"a/x.txt", "dup", baseTime.Add(1 * time.Hour)},
		{"b/x.txt", "dup", baseTime.Add(2 * time.Hour)},
		{"c/x.txt", "dup", baseTime.Add(3 * time.Hour)},
	}

	var records []dupe.FileRecord
	for _, f := range files {
		path := filepath.Join(root, filepath.FromSlash(f.rel))
		testutil.WriteTree(t, root, map[string]string{f.rel: f.content})
		testutil.SetModTime(t, path, f.mtime)
		records = append(records, testutil.NewRecord(root, path, f.content, f.mtime))
	}
	return root, records
}

func replicate(t *testing.T, dest string, opts dupe.ReplicateOptions, records []dupe.FileRecord) (*dupe.ReplicationSummary, error) {
	t.Helper()
	groups, err := dupe.GroupRecords(testutil.NewRecordBuffer(records...), dupe.GroupOptions{}, dupe.NewNopLogger())
	if err != nil {
		t.Fatalf("GroupRecords() error = %v", err)
	}
	r := dupe.NewReplicator(dest, opts, testutil.NewFaultyPlatform(), dupe.NewNopLogger(), nil)
	return r.Run(context.Background(), groups.Sorted())
}

func TestReplicator_Run(t *testing.T) {
	t.Run("keep-one copies one file per group", func(t *testing.T) {
		t.Parallel()
		_, records := sourceTree(t)
		dest := filepath.Join(t.TempDir(), "out")

		summary, err := replicate(t, dest, dupe.ReplicateOptions{Policy: dupe.KeepOneDropDuplicates}, records)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		want := []string{"a/x.txt", "u.txt"}
		if got := testutil.ListFiles(t, dest); !slices.Equal(got, want) {
			t.Errorf("dest files = %v, want %v", got, want)
		}
		if summary.Groups != 2 || summary.Copied != 2 || summary.Skipped != 2 {
			t.Errorf("summary = %+v", summary)
		}
		if summary.Bytes != int64(len("dup")+len("unique")) {
			t.Errorf("Bytes = %d", summary.Bytes)
		}
	})

	t.Run("keep-all renames the later copies", func(t *testing.T) {
		t.Parallel()
		_, records := sourceTree(t)
		dest := filepath.Join(t.TempDir(), "out")

		summary, err := replicate(t, dest, dupe.ReplicateOptions{Policy: dupe.KeepAllRenameDuplicates}, records)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		want := []string{"a/x.txt", "b/x.dupe_1.txt", "c/x.dupe_2.txt", "u.txt"}
		if got := testutil.ListFiles(t, dest); !slices.Equal(got, want) {
			t.Errorf("dest files = %v, want %v", got, want)
		}
		if summary.Copied != 4 || summary.Skipped != 0 {
			t.Errorf("summary = %+v", summary)
		}
		for _, rel := range want {
			if rel == "u.txt" {
				continue
			}
			if got := testutil.ReadFile(t, filepath.Join(dest, filepath.FromSlash(rel))); got != "dup" {
				t.Errorf("%s content = %q", rel, got)
			}
		}
	})

	t.Run("existing destination gets a collision name", func(t *testing.T) {
		t.Parallel()
		_, records := sourceTree(t)
		dest := t.TempDir()
		testutil.WriteTree(t, dest, map[string]string{"u.txt": "already here"})

		summary, err := replicate(t, dest, dupe.ReplicateOptions{}, records)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if got := testutil.ReadFile(t, filepath.Join(dest, "u.txt")); got != "already here" {
			t.Errorf("existing file overwritten: %q", got)
		}
		if got := testutil.ReadFile(t, filepath.Join(dest, "u.collision_1.txt")); got != "unique" {
			t.Errorf("collision copy content = %q", got)
		}
		if summary.Collisions != 1 {
			t.Errorf("Collisions = %d, want 1", summary.Collisions)
		}
	})

	t.Run("repeated run never overwrites", func(t *testing.T) {
		t.Parallel()
		_, records := sourceTree(t)
		dest := t.TempDir()

		for range 2 {
			if _, err := replicate(t, dest, dupe.ReplicateOptions{}, records); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
		}
		want := []string{"a/x.collision_1.txt", "a/x.txt", "u.collision_1.txt", "u.txt"}
		if got := testutil.ListFiles(t, dest); !slices.Equal(got, want) {
			t.Errorf("dest files = %v, want %v", got, want)
		}
	})

	t.Run("preserves file modification times", func(t *testing.T) {
		t.Parallel()
		_, records := sourceTree(t)
		dest := t.TempDir()

		if _, err := replicate(t, dest, dupe.ReplicateOptions{Policy: dupe.KeepAllRenameDuplicates}, records); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		checks := map[string]time.Time{
			"u.txt":          baseTime,
			"a/x.txt":        baseTime.Add(1 * time.Hour),
			"b/x.dupe_1.txt": baseTime.Add(2 * time.Hour),
			"c/x.dupe_2.txt": baseTime.Add(3 * time.Hour),
		}
		for rel, want := range checks {
			if got := testutil.ModTime(t, filepath.Join(dest, filepath.FromSlash(rel))); !got.Equal(want) {
				t.Errorf("%s mtime = %v, want %v", rel, got, want)
			}
		}
	})

	t.Run("created directories take source directory times", func(t *testing.T) {
		t.Parallel()
		src, records := sourceTree(t)
		dirTime := baseTime.Add(-24 * time.Hour)
		testutil.SetModTime(t, filepath.Join(src, "a"), dirTime)
		dest := filepath.Join(t.TempDir(), "out")

		if _, err := replicate(t, dest, dupe.ReplicateOptions{}, records); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if got := testutil.ModTime(t, filepath.Join(dest, "a")); !got.Equal(dirTime) {
			t.Errorf("dest dir mtime = %v, want %v", got, dirTime)
		}
	})

	t.Run("dry run changes nothing", func(t *testing.T) {
		t.Parallel()
		_, records := sourceTree(t)
		dest := filepath.Join(t.TempDir(), "out")

		summary, err := replicate(t, dest, dupe.ReplicateOptions{Policy: dupe.KeepAllRenameDuplicates, DryRun: true}, records)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if _, err := os.Stat(dest); !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("dest exists after dry run: %v", err)
		}
		if summary.Copied != 4 {
			t.Errorf("Copied = %d, want 4", summary.Copied)
		}
	})

	t.Run("dry run logs every planned action", func(t *testing.T) {
		t.Parallel()
		_, records := sourceTree(t)
		dest := filepath.Join(t.TempDir(), "out")
		groups, err := dupe.GroupRecords(testutil.NewRecordBuffer(records...), dupe.GroupOptions{}, dupe.NewNopLogger())
		if err != nil {
			t.Fatalf("GroupRecords() error = %v", err)
		}
		logger := testutil.NewRecordingLogger()

		r := dupe.NewReplicator(dest, dupe.ReplicateOptions{DryRun: true}, testutil.NewFaultyPlatform(), logger, nil)
		if _, err := r.Run(context.Background(), groups.Sorted()); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if n := logger.Count("INFO", "DRY: copy"); n != 2 {
			t.Errorf("logged %d dry copies, want 2:\n%s", n, logger)
		}
		if logger.Count("INFO", "DRY: create directory") == 0 {
			t.Errorf("no dry directory creation logged:\n%s", logger)
		}
	})

	t.Run("parallel workers copy everything", func(t *testing.T) {
		t.Parallel()
		root := resolvedRoot(t)
		var records []dupe.FileRecord
		for i := range 40 {
			rel := fmt.Sprintf("d%d/f%02d.txt", i%6, i)
			content := fmt.Sprintf("content %d", i%10)
			testutil.WriteTree(t, root, map[string]string{rel: content})
			path := filepath.Join(root, filepath.FromSlash(rel))
			mtime := baseTime.Add(time.Duration(i) * time.Minute)
			testutil.SetModTime(t, path, mtime)
			records = append(records, testutil.NewRecord(root, path, content, mtime))
		}
		dest := filepath.Join(t.TempDir(), "out")

		summary, err := replicate(t, dest, dupe.ReplicateOptions{Policy: dupe.KeepAllRenameDuplicates, Workers: 8}, records)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if summary.Copied != 40 || len(testutil.ListFiles(t, dest)) != 40 {
			t.Errorf("copied %d, listed %d, want 40", summary.Copied, len(testutil.ListFiles(t, dest)))
		}
	})
}

func TestReplicator_Failures(t *testing.T) {
	fiveFiles := func(t *testing.T) []dupe.FileRecord {
		t.Helper()
		root := resolvedRoot(t)
		var records []dupe.FileRecord
		for i := range 5 {
			rel := fmt.Sprintf("f%d.txt", i)
			testutil.WriteTree(t, root, map[string]string{rel: rel})
			records = append(records, testutil.NewRecord(root, filepath.Join(root, rel), rel, baseTime))
		}
		if err := os.Remove(records[2].AbsolutePath); err != nil {
			t.Fatalf("Remove() error = %v", err)
		}
		return records
	}

	t.Run("continue on error copies the rest", func(t *testing.T) {
		t.Parallel()
		records := fiveFiles(t)
		dest := t.TempDir()

		summary, err := replicate(t, dest, dupe.ReplicateOptions{ContinueOnError: true}, records)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if summary.Copied != 4 || len(summary.Failures) != 1 {
			t.Fatalf("summary = %+v", summary)
		}
		if summary.Failures[0].Source != records[2].AbsolutePath {
			t.Errorf("failed source = %s", summary.Failures[0].Source)
		}
		if !errors.Is(summary.Failures[0].Err, fs.ErrNotExist) {
			t.Errorf("failure error = %v, want not-exist", summary.Failures[0].Err)
		}
		if n := len(testutil.ListFiles(t, dest)); n != 4 {
			t.Errorf("dest has %d files, want 4", n)
		}
	})

	t.Run("first failure aborts", func(t *testing.T) {
		t.Parallel()
		records := fiveFiles(t)
		dest := t.TempDir()

		summary, err := replicate(t, dest, dupe.ReplicateOptions{}, records)
		if !errors.Is(err, fs.ErrNotExist) {
			t.Fatalf("Run() error = %v, want not-exist", err)
		}
		if len(summary.Failures) != 1 || summary.Copied >= 4 {
			t.Errorf("summary = %+v", summary)
		}
	})

	t.Run("destination created after the collision check is left untouched", func(t *testing.T) {
		t.Parallel()
		root := resolvedRoot(t)
		src := filepath.Join(root, "f.txt")
		testutil.WriteTree(t, root, map[string]string{"f.txt": "source"})
		testutil.SetModTime(t, src, baseTime)
		records := []dupe.FileRecord{testutil.NewRecord(root, src, "source", baseTime)}
		groups, err := dupe.GroupRecords(testutil.NewRecordBuffer(records...), dupe.GroupOptions{}, dupe.NewNopLogger())
		if err != nil {
			t.Fatalf("GroupRecords() error = %v", err)
		}

		dest := t.TempDir()
		foreign := filepath.Join(dest, "f.txt")
		foreignTime := baseTime.Add(-48 * time.Hour)
		platform := testutil.NewFaultyPlatform()
		platform.BeforeReadTimes(src, func() {
			if err := os.WriteFile(foreign, []byte("foreign"), 0600); err != nil {
				t.Errorf("WriteFile() error = %v", err)
			}
			if err := os.Chtimes(foreign, foreignTime, foreignTime); err != nil {
				t.Errorf("Chtimes() error = %v", err)
			}
		})

		r := dupe.NewReplicator(dest, dupe.ReplicateOptions{ContinueOnError: true}, platform, dupe.NewNopLogger(), nil)
		summary, err := r.Run(context.Background(), groups.Sorted())
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(summary.Failures) != 1 || !errors.Is(summary.Failures[0].Err, fs.ErrExist) {
			t.Fatalf("failures = %+v, want one ErrExist", summary.Failures)
		}

		if got := testutil.ReadFile(t, foreign); got != "foreign" {
			t.Errorf("content = %q, want foreign", got)
		}
		if got := testutil.ModTime(t, foreign); !got.Equal(foreignTime) {
			t.Errorf("mtime = %v, want %v", got, foreignTime)
		}
		if runtime.GOOS != "windows" {
			info, err := os.Stat(foreign)
			if err != nil {
				t.Fatalf("Stat() error = %v", err)
			}
			if info.Mode().Perm() != 0600 {
				t.Errorf("mode = %v, want 0600", info.Mode().Perm())
			}
		}
	})

	t.Run("cancelled context stops scheduling", func(t *testing.T) {
		t.Parallel()
		_, records := sourceTree(t)
		groups, err := dupe.GroupRecords(testutil.NewRecordBuffer(records...), dupe.GroupOptions{}, dupe.NewNopLogger())
		if err != nil {
			t.Fatalf("GroupRecords() error = %v", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		r := dupe.NewReplicator(t.TempDir(), dupe.ReplicateOptions{}, testutil.NewFaultyPlatform(), dupe.NewNopLogger(), nil)
		summary, err := r.Run(ctx, groups.Sorted())
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
		if summary.Copied != 0 {
			t.Errorf("Copied = %d, want 0", summary.Copied)
		}
	})
}

type copyLog struct {
	results []dupe.CopyResult
}

func (l *copyLog) RecordCopy(res dupe.CopyResult) error {
	l.results = append(l.results, res)
	return nil
}

func TestReplicator_Recorder(t *testing.T) {
	t.Parallel()
	_, records := sourceTree(t)
	groups, err := dupe.GroupRecords(testutil.NewRecordBuffer(records...), dupe.GroupOptions{}, dupe.NewNopLogger())
	if err != nil {
		t.Fatalf("GroupRecords() error = %v", err)
	}
	dest := t.TempDir()
	log := &copyLog{}

	r := dupe.NewReplicator(dest, dupe.ReplicateOptions{}, testutil.NewFaultyPlatform(), dupe.NewNopLogger(), log)
	if _, err := r.Run(context.Background(), groups.Sorted()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(log.results) != 2 {
		t.Fatalf("recorded %d results, want 2", len(log.results))
	}
	for _, res := range log.results {
		if res.Err != nil || res.Bytes == 0 || !strings.HasPrefix(res.Destination, dest) {
			t.Errorf("unexpected result %+v", res)
		}
	}
}
