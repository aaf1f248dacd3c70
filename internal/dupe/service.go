package dupe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// EncryptedSuffix marks an age-encrypted hashfile.
const EncryptedSuffix = ".age"

// ErrNoVault is returned by archive operations when no vault is configured.
var ErrNoVault = errors.New("no vault configured")

// DupeService is the orchestration layer that runs the four dedup actions
// against the collaborators it was constructed with.
type DupeService struct {
	walker    *Walker
	platform  Platform
	history   History
	vault     Vault
	encryptor Encryptor
	logger    Logger
	clock     Clock
}

// NewDupeService creates a DupeService. history, vault and encryptor may be
// nil; the operations that need them then fail or skip recording.
func NewDupeService(walker *Walker, platform Platform, history History, vault Vault, encryptor Encryptor, logger Logger, clock Clock) *DupeService {
	return &DupeService{
		walker:    walker,
		platform:  platform,
		history:   history,
		vault:     vault,
		encryptor: encryptor,
		logger:    logger,
		clock:     clock,
	}
}

// EnableBackupPrivilege asks the platform for read access that bypasses
// access control lists. Failure is logged and normal access rules apply.
func (s *DupeService) EnableBackupPrivilege() bool {
	if err := s.platform.AcquireBackupPrivilege(); err != nil {
		s.logger.Warn("backup privilege not acquired, normal access rules apply", "error", err)
		return false
	}
	s.logger.Debug("backup privilege acquired")
	return true
}

// HashSummary describes a generated hashfile.
type HashSummary struct {
	Root         string
	Files        int
	Unreadable   int
	Bytes        int64
	UnlistedDirs int
}

// GenerateHashfile walks rawRoot, fingerprints every file on workers
// goroutines and writes one record per file to sink in walk order.
func (s *DupeService) GenerateHashfile(ctx context.Context, rawRoot string, sink RecordSink, workers int) (*HashSummary, error) {
	root, err := ResolveRoot(rawRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	summary := &HashSummary{Root: root}

	w := *s.walker
	onError := w.OnError
	w.OnError = func(dir string, err error) {
		summary.UnlistedDirs++
		if onError != nil {
			onError(dir, err)
		}
	}

	s.logger.Info("generating hashfile", "root", root, "workers", workers)
	fp := NewFingerprinter(s.platform, s.logger)
	err = fp.FingerprintAll(ctx, root, w.Files(root), workers, func(rec FileRecord) error {
		summary.Files++
		summary.Bytes += rec.Size
		if rec.Digests.Absent() {
			summary.Unreadable++
		}
		if err := sink.WriteRecord(rec); err != nil {
			return fmt.Errorf("writing record %s: %w", rec.AbsolutePath, err)
		}
		return nil
	})
	if err != nil {
		return summary, err
	}

	s.logger.Info("hashfile generated",
		"files", summary.Files,
		"unreadable", summary.Unreadable,
		"size", humanize.IBytes(uint64(summary.Bytes)))
	return summary, nil
}

// DupeReport describes a dupefile.
type DupeReport struct {
	Groups     []DuplicateGroup // duplicate groups in dupefile order
	Records    int              // records read from the hashfile
	Unreadable int
	Written    int   // records written to the dupefile
	Redundant  int64 // bytes held by every copy beyond the first in each group
}

// CreateDupefile reads a complete hashfile from src and writes the members of
// every duplicate group to sink, ordered by digest pair and then path.
func (s *DupeService) CreateDupefile(src RecordSource, sink RecordSink, opts GroupOptions) (*DupeReport, error) {
	groups, err := GroupRecords(src, opts, s.logger)
	if err != nil {
		return nil, fmt.Errorf("grouping records: %w", err)
	}

	report := &DupeReport{
		Groups:     groups.Duplicates(),
		Records:    groups.Total(),
		Unreadable: groups.Unreadable(),
	}
	for _, g := range report.Groups {
		for _, rec := range g.Records[1:] {
			report.Redundant += rec.Size
		}
	}

	if report.Written, err = groups.WriteDupefile(sink); err != nil {
		return report, err
	}

	s.logger.Info("dupefile written",
		"records", report.Records,
		"groups", len(report.Groups),
		"duplicates", report.Written,
		"redundant", humanize.IBytes(uint64(report.Redundant)))
	return report, nil
}

// Replicate reads a complete hashfile from src and copies the files the
// policy selects into dest. operationID, when non-zero, is the operation
// every copy result is recorded against.
func (s *DupeService) Replicate(ctx context.Context, src RecordSource, rawDest string, opts ReplicateOptions, groupOpts GroupOptions, operationID int64) (*ReplicationSummary, error) {
	dest, err := filepath.Abs(rawDest)
	if err != nil {
		return nil, fmt.Errorf("resolving destination: %w", err)
	}
	if info, err := os.Stat(dest); err == nil && !info.IsDir() {
		return nil, fmt.Errorf("destination is not a directory: %s", dest)
	}

	groups, err := GroupRecords(src, groupOpts, s.logger)
	if err != nil {
		return nil, fmt.Errorf("grouping records: %w", err)
	}
	if groups.Unreadable() > 0 {
		s.logger.Warn("records without digests are not replicated", "count", groups.Unreadable())
	}

	var recorder CopyRecorder
	if s.history != nil && operationID != 0 {
		recorder = &historyRecorder{history: s.history, operationID: operationID, clock: s.clock}
	}

	s.logger.Info("replicating", "dest", dest, "groups", len(groups.Sorted()), "dry_run", opts.DryRun)
	summary, err := NewReplicator(dest, opts, s.platform, s.logger, recorder).Run(ctx, groups.Sorted())
	if err != nil {
		return summary, err
	}

	s.logger.Info("replication complete",
		"copied", summary.Copied,
		"skipped", summary.Skipped,
		"collisions", summary.Collisions,
		"failed", len(summary.Failures),
		"size", humanize.IBytes(uint64(summary.Bytes)))
	return summary, nil
}

// PropagateDirTimes sets the modification time of rawRoot and every
// directory below it to the latest modification time of the files it holds.
func (s *DupeService) PropagateDirTimes(ctx context.Context, rawRoot string, dryRun bool) (*DirTimesSummary, error) {
	root, err := ResolveRoot(rawRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	summary, err := NewDirTimePropagator(s.walker, s.platform, s.logger).Propagate(ctx, root, dryRun)
	if summary != nil {
		s.logger.Info("directory times propagated",
			"root", root, "files", summary.Files, "directories", summary.Directories, "failed", summary.Failed)
	}
	return summary, err
}

// ArchiveHashfile uploads the hashfile at path to the vault under name,
// encrypting it first when encrypt is set. Returns the archived name, which
// carries EncryptedSuffix for encrypted uploads.
func (s *DupeService) ArchiveHashfile(path, name string, encrypt bool) (string, error) {
	if s.vault == nil {
		return "", ErrNoVault
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening hashfile: %w", err)
	}
	defer f.Close()

	var (
		r    io.Reader = f
		size int64
	)
	if encrypt {
		if s.encryptor == nil || !s.encryptor.IsConfigured() {
			return "", fmt.Errorf("encryption keys are not configured")
		}
		tmp, err := os.CreateTemp("", "dupefind-archive-*"+EncryptedSuffix)
		if err != nil {
			return "", fmt.Errorf("creating temp file: %w", err)
		}
		defer os.Remove(tmp.Name())
		defer tmp.Close()

		if err := s.encryptor.Encrypt(f, tmp); err != nil {
			return "", fmt.Errorf("encrypting hashfile: %w", err)
		}
		if size, err = tmp.Seek(0, io.SeekCurrent); err != nil {
			return "", fmt.Errorf("measuring encrypted hashfile: %w", err)
		}
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return "", fmt.Errorf("rewinding encrypted hashfile: %w", err)
		}
		r = tmp
		if !strings.HasSuffix(name, EncryptedSuffix) {
			name += EncryptedSuffix
		}
	} else {
		info, err := f.Stat()
		if err != nil {
			return "", fmt.Errorf("stat hashfile: %w", err)
		}
		size = info.Size()
	}

	if err := s.vault.PutHashfile(name, r, size); err != nil {
		return "", fmt.Errorf("uploading hashfile to vault: %w", err)
	}
	s.logger.Info("hashfile archived", "name", name, "size", humanize.IBytes(uint64(size)), "encrypted", encrypt)
	return name, nil
}

// ListArchivedHashfiles returns the names of the hashfiles in the vault.
func (s *DupeService) ListArchivedHashfiles() ([]string, error) {
	if s.vault == nil {
		return nil, ErrNoVault
	}
	names, err := s.vault.ListHashfiles()
	if err != nil {
		return nil, fmt.Errorf("listing vault: %w", err)
	}
	return names, nil
}

// FetchArchivedHashfile writes an archived hashfile to w. With a non-nil
// dec an encrypted hashfile is decrypted on the way; otherwise it is written
// as stored.
func (s *DupeService) FetchArchivedHashfile(name string, w io.Writer, dec DecryptionContext) error {
	if s.vault == nil {
		return ErrNoVault
	}
	if dec == nil || !strings.HasSuffix(name, EncryptedSuffix) {
		if err := s.vault.GetHashfile(name, w); err != nil {
			return fmt.Errorf("downloading hashfile: %w", err)
		}
		return nil
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(s.vault.GetHashfile(name, pw))
	}()
	if err := dec.Decrypt(pr, w); err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("decrypting hashfile: %w", err)
	}
	return nil
}

// GetHistory returns the most recent operations, newest first.
func (s *DupeService) GetHistory(limit int) ([]*Operation, error) {
	if s.history == nil {
		return nil, nil
	}
	ops, err := s.history.ListOperations(limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

// GetCopyResults returns the recorded copies of one operation.
func (s *DupeService) GetCopyResults(operationID int64) ([]*CopyRecord, error) {
	if s.history == nil {
		return nil, nil
	}
	records, err := s.history.ListCopyResults(operationID)
	if err != nil {
		return nil, fmt.Errorf("listing copy results: %w", err)
	}
	return records, nil
}
