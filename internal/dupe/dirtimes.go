package dupe

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"
)

// DirTimesSummary reports what a propagation run did.
type DirTimesSummary struct {
	Files       int // files whose modification time was aggregated
	Directories int // directories updated, or that would be in dry-run mode
	Failed      int
}

// DirTimePropagator sets every directory's modification time to the latest
// modification time of any file below it.
type DirTimePropagator struct {
	walker *Walker
	times  TimestampPreserver
	logger Logger
}

// NewDirTimePropagator creates a propagator that discovers files with walker.
func NewDirTimePropagator(walker *Walker, times TimestampPreserver, logger Logger) *DirTimePropagator {
	return &DirTimePropagator{walker: walker, times: times, logger: logger}
}

// Propagate aggregates the latest file modification time for root and every
// directory below it that contains files, then writes the aggregates.
// Directories without descendant files are left alone. A directory that
// cannot be updated is logged and the run continues; the failures are
// returned joined.
func (p *DirTimePropagator) Propagate(ctx context.Context, root string, dryRun bool) (*DirTimesSummary, error) {
	summary := &DirTimesSummary{}

	latest, err := p.aggregate(ctx, root, summary)
	if err != nil {
		return summary, err
	}

	// Every target is known before the first write, so order only affects logs.
	dirs := make([]string, 0, len(latest))
	for dir := range latest {
		dirs = append(dirs, dir)
	}
	slices.Sort(dirs)

	var errs []error
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		t := latest[dir]
		if dryRun {
			p.logger.Info("DRY: set directory time", "dir", dir, "mtime", t.UTC().Format(time.RFC3339Nano))
			summary.Directories++
			continue
		}
		ts := KnownTime(t)
		if err := p.times.WriteTimes(dir, FileTimes{Modified: ts, Accessed: ts}); err != nil {
			p.logger.Error("cannot set directory time", "dir", dir, "error", err)
			errs = append(errs, fmt.Errorf("setting time of %s: %w", dir, err))
			summary.Failed++
			continue
		}
		p.logger.Debug("set directory time", "dir", dir, "mtime", t.UTC().Format(time.RFC3339Nano))
		summary.Directories++
	}

	return summary, errors.Join(errs...)
}

// aggregate is the read pass: it maps each directory to the maximum mtime of
// the files below it.
func (p *DirTimePropagator) aggregate(ctx context.Context, root string, summary *DirTimesSummary) (map[string]time.Time, error) {
	latest := make(map[string]time.Time)
	for entry := range p.walker.Files(root) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.LinkedDir {
			continue
		}
		times, err := p.times.ReadTimes(entry.ResolvedPath)
		if err != nil || !times.Modified.Known() {
			p.logger.Warn("cannot read file time, not aggregated", "path", entry.ResolvedPath, "error", err)
			continue
		}
		summary.Files++

		mtime := times.Modified.Time()
		for dir := filepath.Dir(entry.Path); ; dir = filepath.Dir(dir) {
			if cur, ok := latest[dir]; !ok || mtime.After(cur) {
				latest[dir] = mtime
			}
			if dir == root || filepath.Dir(dir) == dir {
				break
			}
		}
	}
	return latest, nil
}
