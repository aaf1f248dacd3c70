package dupe

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
)

// chunkSize is the read size used while hashing.
const chunkSize = 64 * 1024

// Fingerprinter turns walk entries into FileRecords.
type Fingerprinter struct {
	times  TimestampPreserver
	logger Logger
	bufs   sync.Pool
}

// NewFingerprinter creates a Fingerprinter reading timestamps through times.
func NewFingerprinter(times TimestampPreserver, logger Logger) *Fingerprinter {
	return &Fingerprinter{
		times:  times,
		logger: logger,
		bufs: sync.Pool{
			New: func() any {
				b := make([]byte, chunkSize)
				return &b
			},
		},
	}
}

// Fingerprint builds the record for one entry found below root and puts the
// file's access time back after reading it. It never fails: an unreadable file yields a record without digests and a
// timestamp that cannot be read is recorded as unknown.
func (f *Fingerprinter) Fingerprint(root string, entry WalkEntry) FileRecord {
	rel, err := filepath.Rel(root, filepath.Dir(entry.Path))
	if err != nil || rel == "." {
		rel = ""
	}

	rec := FileRecord{
		RelativeGroupPath: rel,
		AbsoluteDirectory: filepath.Dir(entry.ResolvedPath),
		AbsolutePath:      entry.ResolvedPath,
	}

	if info, err := os.Stat(entry.ResolvedPath); err != nil {
		f.logger.Warn("cannot stat file", "path", entry.ResolvedPath, "error", err)
	} else if !entry.LinkedDir {
		rec.Size = info.Size()
	}

	times, err := f.times.ReadTimes(entry.ResolvedPath)
	if err != nil {
		f.logger.Warn("cannot read file times", "path", entry.ResolvedPath, "error", err)
	}
	rec.CreatedAt = times.Created
	rec.ModifiedAt = times.Modified
	rec.AccessedAt = times.Accessed

	if entry.LinkedDir {
		return rec
	}

	digests, err := f.digest(entry.ResolvedPath)
	if err != nil {
		f.logger.Warn("cannot hash file", "path", entry.ResolvedPath, "error", err)
		return rec
	}
	rec.Digests = digests

	// Reading the content may have bumped the access time.
	if times.Accessed.Known() {
		if err := f.times.WriteTimes(entry.ResolvedPath, FileTimes{Accessed: times.Accessed}); err != nil {
			f.logger.Debug("cannot restore access time", "path", entry.ResolvedPath, "error", err)
		}
	}
	return rec
}

// digest streams the file through MD5 and SHA-1 in fixed size chunks.
func (f *Fingerprinter) digest(path string) (DigestPair, error) {
	file, err := os.Open(path)
	if err != nil {
		return DigestPair{}, fmt.Errorf("opening file: %w", err)
	}
	defer file.Close()

	bufPtr := f.bufs.Get().(*[]byte)
	defer f.bufs.Put(bufPtr)
	buf := (*bufPtr)[:cap(*bufPtr)]

	md5h := md5.New()
	sha1h := sha1.New()
	// Wrapping hides *os.File's WriteTo so CopyBuffer uses buf.
	if _, err := io.CopyBuffer(io.MultiWriter(md5h, sha1h), struct{ io.Reader }{file}, buf); err != nil {
		return DigestPair{}, fmt.Errorf("reading file: %w", err)
	}

	return DigestPair{
		MD5:  hex.EncodeToString(md5h.Sum(nil)),
		SHA1: hex.EncodeToString(sha1h.Sum(nil)),
	}, nil
}

// FingerprintAll fingerprints every entry using up to workers goroutines and
// passes the records to emit in the order the entries were produced, so the
// output does not depend on the worker count. The first error from emit stops
// the pipeline and is returned.
func (f *Fingerprinter) FingerprintAll(ctx context.Context, root string, entries iter.Seq[WalkEntry], workers int, emit func(FileRecord) error) error {
	if workers <= 1 {
		for entry := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := emit(f.Fingerprint(root, entry)); err != nil {
				return err
			}
		}
		return nil
	}

	type job struct {
		seq   int
		entry WalkEntry
	}
	type result struct {
		seq int
		rec FileRecord
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	jobs := make(chan job, workers)
	results := make(chan result, workers)

	g.Go(func() error {
		defer close(jobs)
		seq := 0
		for entry := range entries {
			select {
			case jobs <- job{seq: seq, entry: entry}:
			case <-gctx.Done():
				return gctx.Err()
			}
			seq++
		}
		return nil
	})

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for j := range jobs {
				rec := f.Fingerprint(root, j.entry)
				select {
				case results <- result{seq: j.seq, rec: rec}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	// Reorder buffer: hold results until every earlier sequence was emitted.
	var emitErr error
	pending := make(map[int]FileRecord)
	next := 0
	for r := range results {
		if emitErr != nil {
			continue
		}
		pending[r.seq] = r.rec
		for {
			rec, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			if err := emit(rec); err != nil {
				emitErr = err
				cancel()
				break
			}
		}
	}

	if err := g.Wait(); err != nil && emitErr == nil {
		return err
	}
	return emitErr
}
