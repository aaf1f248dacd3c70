package dupe

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// copier performs the filesystem side of replication.
type copier struct {
	times  TimestampPreserver
	logger Logger
}

func newCopier(times TimestampPreserver, logger Logger) *copier {
	return &copier{times: times, logger: logger}
}

// copyFile copies src to a new file at dst and restores src's timestamps and
// attributes on dst. dst must not exist; if it does, it is left as found.
// Metadata is restored even when the byte copy fails part way.
func (c *copier) copyFile(src, dst string) (int64, error) {
	var written int64
	err := PreserveTimes(c.times, src, dst, func() (bool, error) {
		in, err := os.Open(src)
		if err != nil {
			return false, fmt.Errorf("opening source file: %w", err)
		}
		defer in.Close()

		out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err != nil {
			if errors.Is(err, fs.ErrExist) {
				return false, fmt.Errorf("destination appeared after collision check: %w", err)
			}
			return false, fmt.Errorf("creating destination file: %w", err)
		}
		defer out.Close()

		if written, err = io.Copy(out, in); err != nil {
			return true, fmt.Errorf("copying content: %w", err)
		}

		// Close before the restore: flushing could touch mtime.
		if err := out.Close(); err != nil {
			return true, fmt.Errorf("closing destination file: %w", err)
		}
		return true, nil
	})
	return written, err
}

// createdDir is a destination directory made during replication and the
// source directory whose timestamps it takes, if any.
type createdDir struct {
	Path   string
	Source string
}

// makeDirs creates dstDir and any missing ancestors up to and including
// destRoot, returning the directories that were (or, in dry-run mode, would
// be) created, shallowest first. A created directory below destRoot is paired
// with the source directory at the same depth below srcDir when their names
// match.
func (c *copier) makeDirs(destRoot, srcDir, dstDir string, dryRun bool) ([]createdDir, error) {
	// missing[i] is i levels above dstDir.
	var missing []string
	for d := dstDir; ; d = filepath.Dir(d) {
		info, err := os.Stat(d)
		if err == nil {
			if !info.IsDir() {
				return nil, fmt.Errorf("destination path is not a directory: %s", d)
			}
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("stat destination directory: %w", err)
		}
		missing = append(missing, d)
		if d == destRoot || filepath.Dir(d) == d {
			break
		}
	}

	if len(missing) == 0 {
		return nil, nil
	}

	if !dryRun {
		if err := os.MkdirAll(dstDir, 0755); err != nil {
			return nil, fmt.Errorf("creating destination directory: %w", err)
		}
	}

	created := make([]createdDir, len(missing))
	src := srcDir
	for i, dir := range missing {
		cd := createdDir{Path: dir}
		if dir != destRoot && filepath.Base(dir) == filepath.Base(src) {
			cd.Source = src
		}
		created[len(missing)-1-i] = cd
		src = filepath.Dir(src)
	}
	return created, nil
}

// copyDirTimes is best effort: a directory whose times cannot be copied is
// still usable. It runs after the directory's contents are in place since
// every file created inside bumps the modification time.
func (c *copier) copyDirTimes(src, dst string) {
	times, err := c.times.ReadTimes(src)
	if err != nil {
		c.logger.Warn("cannot read source directory times", "dir", src, "error", err)
		return
	}
	if err := c.times.WriteTimes(dst, times); err != nil {
		c.logger.Warn("cannot set destination directory times", "dir", dst, "error", err)
	}
}
