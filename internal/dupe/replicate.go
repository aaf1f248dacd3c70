package dupe

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ReplicateOptions configures a replication run.
type ReplicateOptions struct {
	Policy          Policy
	DryRun          bool
	ContinueOnError bool
	// Workers is the number of concurrent copies. Values below 2 copy
	// sequentially in decision order.
	Workers int
}

// CopyResult is the outcome of one copy decision.
type CopyResult struct {
	Source      string
	Destination string // final path, after collision resolution
	Collision   bool
	Bytes       int64
	DryRun      bool
	Err         error
}

// CopyRecorder receives the result of every attempted copy.
type CopyRecorder interface {
	RecordCopy(result CopyResult) error
}

// ReplicationSummary counts what a run did.
type ReplicationSummary struct {
	Groups     int
	Copied     int
	Skipped    int
	Collisions int
	Bytes      int64
	Failures   []CopyResult
}

// Replicator copies the representatives a policy selects into a destination
// tree, resolving name collisions and restoring file metadata.
type Replicator struct {
	dest     string
	opts     ReplicateOptions
	times    TimestampPreserver
	logger   Logger
	recorder CopyRecorder
	copier   *copier

	// dirGroup collapses concurrent creation of the same directory into one MkdirAll.
	dirGroup    singleflight.Group
	createdDirs sync.Map // destination dir -> struct{}

	dirTimesMu sync.Mutex
	dirTimes   []createdDir

	// claimMu guards dirLocks and claimed. Each destination directory has its
	// own lock so collision resolution is serialized per directory.
	claimMu  sync.Mutex
	dirLocks map[string]*sync.Mutex
	claimed  map[string]struct{}

	summaryMu sync.Mutex
	summary   ReplicationSummary
}

// NewReplicator creates a Replicator writing below dest.
// recorder may be nil.
func NewReplicator(dest string, opts ReplicateOptions, times TimestampPreserver, logger Logger, recorder CopyRecorder) *Replicator {
	if opts.Policy == nil {
		opts.Policy = KeepOneDropDuplicates
	}
	return &Replicator{
		dest:     dest,
		opts:     opts,
		times:    times,
		logger:   logger,
		recorder: recorder,
		copier:   newCopier(times, logger),
		dirLocks: make(map[string]*sync.Mutex),
		claimed:  make(map[string]struct{}),
	}
}

// Run applies the policy to every group and performs the resulting copies.
// Without ContinueOnError the first failed copy stops the run and its error
// is returned; copies already in flight are allowed to finish.
func (r *Replicator) Run(ctx context.Context, groups []DuplicateGroup) (*ReplicationSummary, error) {
	workers := max(r.opts.Workers, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

schedule:
	for _, group := range groups {
		r.addGroup()
		for _, d := range r.opts.Policy(group) {
			if d.Skip {
				r.logger.Debug("skipping file", "path", d.Record.AbsolutePath)
				r.addSkipped()
				continue
			}
			if gctx.Err() != nil {
				break schedule
			}
			g.Go(func() error {
				// A slot may free up only after another copy already failed.
				if gctx.Err() != nil {
					return nil
				}
				res := r.replicateOne(d)
				r.record(res)
				if res.Err != nil && !r.opts.ContinueOnError {
					return fmt.Errorf("copying %s: %w", res.Source, res.Err)
				}
				return nil
			})
		}
	}

	err := g.Wait()
	r.restoreDirTimes()
	summary := r.snapshot()
	if err != nil {
		return summary, err
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// replicateOne carries out a single copy decision.
func (r *Replicator) replicateOne(d CopyDecision) CopyResult {
	src := d.Record.AbsolutePath
	dest, collision := r.claimDestination(filepath.Join(r.dest, d.Destination))
	res := CopyResult{Source: src, Destination: dest, Collision: collision, DryRun: r.opts.DryRun}

	r.logger.Debug("copying file", "src", src, "dest", dest)
	if collision {
		r.logger.Warn("destination exists, collision resolved",
			"dest", filepath.Join(r.dest, d.Destination), "resolved", dest)
	}

	if err := r.ensureDir(d.Record.AbsoluteDirectory, filepath.Dir(dest)); err != nil {
		res.Err = err
		return res
	}

	if r.opts.DryRun {
		r.logger.Info("DRY: copy", "src", src, "dest", dest)
		res.Bytes = d.Record.Size
		return res
	}

	n, err := r.copier.copyFile(src, dest)
	res.Bytes = n
	res.Err = err
	return res
}

// claimDestination picks the final path for dest and reserves it for this
// run. The boolean reports whether dest was taken and an alternate chosen.
func (r *Replicator) claimDestination(dest string) (string, bool) {
	unlock := r.lockDir(filepath.Dir(dest))
	defer unlock()

	exists := func(p string) bool {
		r.claimMu.Lock()
		_, taken := r.claimed[p]
		r.claimMu.Unlock()
		return taken || PathExists(p)
	}

	final, collision := dest, false
	if exists(dest) {
		final, collision = ResolveCollision(dest, exists), true
	}

	r.claimMu.Lock()
	r.claimed[final] = struct{}{}
	r.claimMu.Unlock()
	return final, collision
}

func (r *Replicator) lockDir(dir string) func() {
	r.claimMu.Lock()
	mu, ok := r.dirLocks[dir]
	if !ok {
		mu = &sync.Mutex{}
		r.dirLocks[dir] = mu
	}
	r.claimMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// ensureDir makes sure dstDir exists. Directories created here receive the
// timestamps of the matching source directory.
func (r *Replicator) ensureDir(srcDir, dstDir string) error {
	if _, ok := r.createdDirs.Load(dstDir); ok {
		return nil
	}
	_, err, _ := r.dirGroup.Do(dstDir, func() (any, error) {
		if _, ok := r.createdDirs.Load(dstDir); ok {
			return nil, nil
		}
		created, err := r.copier.makeDirs(r.dest, srcDir, dstDir, r.opts.DryRun)
		if err != nil {
			return nil, err
		}
		for _, dir := range created {
			if r.opts.DryRun {
				r.logger.Info("DRY: create directory", "dir", dir.Path)
				continue
			}
			r.logger.Debug("created directory", "dir", dir.Path)
			if dir.Source != "" {
				r.dirTimesMu.Lock()
				r.dirTimes = append(r.dirTimes, dir)
				r.dirTimesMu.Unlock()
			}
		}
		r.createdDirs.Store(dstDir, struct{}{})
		return nil, nil
	})
	return err
}

// restoreDirTimes gives every directory created by the run the timestamps of
// its source directory, once no more files will be written into it.
func (r *Replicator) restoreDirTimes() {
	r.dirTimesMu.Lock()
	defer r.dirTimesMu.Unlock()
	for _, dir := range r.dirTimes {
		r.copier.copyDirTimes(dir.Source, dir.Path)
	}
}

func (r *Replicator) record(res CopyResult) {
	r.summaryMu.Lock()
	switch {
	case res.Err != nil:
		r.summary.Failures = append(r.summary.Failures, res)
	default:
		r.summary.Copied++
		r.summary.Bytes += res.Bytes
	}
	if res.Collision {
		r.summary.Collisions++
	}
	r.summaryMu.Unlock()

	if res.Err != nil {
		r.logger.Error("copy failed", "src", res.Source, "dest", res.Destination, "error", res.Err)
	}
	if r.recorder != nil {
		if err := r.recorder.RecordCopy(res); err != nil {
			r.logger.Warn("cannot record copy result", "src", res.Source, "error", err)
		}
	}
}

func (r *Replicator) addGroup() {
	r.summaryMu.Lock()
	r.summary.Groups++
	r.summaryMu.Unlock()
}

func (r *Replicator) addSkipped() {
	r.summaryMu.Lock()
	r.summary.Skipped++
	r.summaryMu.Unlock()
}

func (r *Replicator) snapshot() *ReplicationSummary {
	r.summaryMu.Lock()
	defer r.summaryMu.Unlock()
	s := r.summary
	s.Failures = append([]CopyResult(nil), r.summary.Failures...)
	return &s
}
