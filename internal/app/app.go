package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dupefind/internal/config"
	"dupefind/internal/database"
	"dupefind/internal/dupe"
	"dupefind/internal/encryption"
	"dupefind/internal/fs"
	"dupefind/internal/hashfile"
	"dupefind/internal/vault"
)

// Options adjusts how NewDupeApp wires the application. The zero value is
// what the CLI uses.
type Options struct {
	// Verbose logs at debug level regardless of the configured level.
	Verbose bool

	// Stderr receives a copy of every log line. Defaults to os.Stderr.
	Stderr io.Writer

	// Passphrase unlocks the private key. Defaults to TerminalPassphrase.
	Passphrase PassphraseFunc

	Clock dupe.Clock

	IDs dupe.IDGenerator
}

// DupeApp is the application layer between the CLI and DupeService.
// It constructs all dependencies from config, exposes the actions with raw
// string paths, and records each action in the run history.
type DupeApp struct {
	cfg        *config.Config
	history    *database.SQLiteHistory
	vault      dupe.Vault
	encryptor  dupe.Encryptor
	platform   *fs.OSPlatform
	logger     dupe.Logger
	clock      dupe.Clock
	passphrase PassphraseFunc
	dec        dupe.DecryptionContext
	op         *RunOperation
	logFile    *os.File
}

// NewDupeApp creates a fully wired DupeApp from cfg. operation names the CLI
// command being run. The caller must call Close when done.
func NewDupeApp(ctx context.Context, cfg *config.Config, operation string, opts Options) (*DupeApp, error) {
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Passphrase == nil {
		opts.Passphrase = TerminalPassphrase
	}
	if opts.Clock == nil {
		opts.Clock = dupe.RealClock{}
	}
	if opts.IDs == nil {
		opts.IDs = dupe.UUIDGenerator{}
	}

	level, err := ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}

	runID := opts.IDs.New()
	l, logFile, err := newLogger(cfg.LogDir, runID, level, opts.Stderr)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: l}

	fail := func(err error) (*DupeApp, error) {
		logFile.Close()
		return nil, err
	}

	history, err := database.NewHistoryFromConfig(cfg.Database)
	if err != nil {
		return fail(fmt.Errorf("creating history: %w", err))
	}
	if err := history.CheckMigrations(); err != nil {
		history.Close()
		return fail(fmt.Errorf("history schema out of date: %w", err))
	}

	var v dupe.Vault
	if len(cfg.Vaults) > 0 {
		if v, err = vault.NewVaultFromConfig(ctx, cfg.Vaults[0]); err != nil {
			history.Close()
			return fail(fmt.Errorf("creating vault: %w", err))
		}
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		history.Close()
		return fail(fmt.Errorf("creating encryptor: %w", err))
	}

	return &DupeApp{
		cfg:        cfg,
		history:    history,
		vault:      v,
		encryptor:  enc,
		platform:   fs.NewOSPlatform(),
		logger:     logger,
		clock:      opts.Clock,
		passphrase: opts.Passphrase,
		op:         NewRunOperation(runID, operation),
		logFile:    logFile,
	}, nil
}

// Config returns the configuration the app was built from.
func (a *DupeApp) Config() *config.Config { return a.cfg }

// RunID identifies this invocation in the log and the history.
func (a *DupeApp) RunID() string { return a.op.RunID }

// persistOperation saves the operation to the history, giving it an ID.
// Only actions that read trees, write files or use the vault call it.
func (a *DupeApp) persistOperation(params ...string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = strings.Join(params, " ")
	op := &dupe.Operation{
		RunID:      a.op.RunID,
		Operation:  a.op.Operation,
		Parameters: a.op.Parameters,
		Status:     dupe.StatusRunning,
		StartedAt:  a.clock.Now(),
	}
	if err := a.history.CreateOperation(op); err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = op.ID
	return nil
}

// track marks the operation failed when err is non-nil and returns err.
func (a *DupeApp) track(err error) error {
	if err != nil {
		a.op.Fail(err)
	}
	return err
}

// service builds a DupeService whose walker applies the configured ignore
// patterns and root's .dupeignore. root may be empty when nothing is walked.
func (a *DupeApp) service(root string, exclude ...string) (*dupe.DupeService, error) {
	w := &dupe.Walker{
		Reparse:        a.platform,
		Logger:         a.logger,
		KeepLinkedDirs: a.cfg.Filesystem.KeepLinkedDirs,
	}
	if root != "" {
		ignore, err := fs.LoadIgnoreMatcher(root, a.cfg.Filesystem.Ignore)
		if err != nil {
			return nil, fmt.Errorf("loading ignore patterns: %w", err)
		}
		w.Ignore = excludePaths{IgnoreMatcher: ignore, paths: exclude}
	}
	svc := dupe.NewDupeService(w, a.platform, a.history, a.vault, a.encryptor, a.logger, a.clock)
	if root != "" && a.cfg.Filesystem.BackupPrivilege {
		svc.EnableBackupPrivilege()
	}
	return svc, nil
}

// excludePaths additionally ignores exact paths relative to the walk root.
type excludePaths struct {
	dupe.IgnoreMatcher
	paths []string
}

func (m excludePaths) Match(rel string) bool {
	for _, p := range m.paths {
		if rel == p {
			return true
		}
	}
	return m.IgnoreMatcher.Match(rel)
}

// HashResult describes a finished hash action.
type HashResult struct {
	*dupe.HashSummary
	Output   string
	Archived string // vault name, empty unless archived
}

// Hash fingerprints every file below rawRoot and writes the hashfile to
// output ("-" for stdout). With archive set the hashfile is uploaded to the
// vault afterwards, encrypted when encrypt is set.
func (a *DupeApp) Hash(ctx context.Context, rawRoot, output string, workers int, archive, encrypt bool) (*HashResult, error) {
	if err := a.persistOperation(rawRoot, output); err != nil {
		return nil, err
	}
	res, err := a.hash(ctx, rawRoot, output, workers, archive, encrypt)
	if err == nil {
		a.op.Summarize("%d files, %d unreadable", res.Files, res.Unreadable)
	}
	return res, a.track(err)
}

func (a *DupeApp) hash(ctx context.Context, rawRoot, output string, workers int, archive, encrypt bool) (*HashResult, error) {
	if archive && output == hashfile.Stdio {
		return nil, fmt.Errorf("archiving needs an output file, not stdout")
	}
	root, err := dupe.ResolveRoot(rawRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	if workers <= 0 {
		workers = a.cfg.Filesystem.Workers
	}

	var exclude []string
	if output != hashfile.Stdio {
		if output, err = filepath.Abs(output); err != nil {
			return nil, fmt.Errorf("resolving output: %w", err)
		}
		if dir, err := filepath.EvalSymlinks(filepath.Dir(output)); err == nil {
			rel, err := filepath.Rel(root, filepath.Join(dir, filepath.Base(output)))
			if err == nil && filepath.IsLocal(rel) {
				exclude = append(exclude, rel)
			}
		}
	}

	svc, err := a.service(root, exclude...)
	if err != nil {
		return nil, err
	}
	w, err := hashfile.Create(output)
	if err != nil {
		return nil, err
	}
	summary, err := svc.GenerateHashfile(ctx, root, w, workers)
	if cerr := w.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("closing hashfile: %w", cerr)
	}
	res := &HashResult{HashSummary: summary, Output: output}
	if err != nil {
		return res, err
	}

	if archive {
		if res.Archived, err = svc.ArchiveHashfile(output, filepath.Base(output), encrypt); err != nil {
			return res, err
		}
	}
	return res, nil
}

// Dupes reads the hashfile at input and writes its duplicate groups to
// output ("-" for stdout).
func (a *DupeApp) Dupes(input, output string, verifySize bool) (*dupe.DupeReport, error) {
	if err := a.persistOperation(input, output); err != nil {
		return nil, err
	}
	report, err := a.dupes(input, output, verifySize)
	if err == nil {
		a.op.Summarize("%d groups, %d duplicates", len(report.Groups), report.Written)
	}
	return report, a.track(err)
}

func (a *DupeApp) dupes(input, output string, verifySize bool) (*dupe.DupeReport, error) {
	src, err := a.openHashfile(input)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	svc, err := a.service("")
	if err != nil {
		return nil, err
	}
	w, err := hashfile.Create(output)
	if err != nil {
		return nil, err
	}
	report, err := svc.CreateDupefile(src, w, dupe.GroupOptions{VerifySize: verifySize || a.cfg.Replicate.VerifySize})
	if cerr := w.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("closing dupefile: %w", cerr)
	}
	return report, err
}

// CopyOptions are the replication settings after flags and config are merged.
type CopyOptions struct {
	Policy          string
	DryRun          bool
	ContinueOnError bool
	Workers         int
	VerifySize      bool
}

// CopyOptionsFromConfig returns the replication defaults of cfg.
func CopyOptionsFromConfig(cfg config.ReplicateConfig) CopyOptions {
	return CopyOptions{
		Policy:          cfg.Policy,
		ContinueOnError: cfg.ContinueOnError,
		Workers:         cfg.Workers,
		VerifySize:      cfg.VerifySize,
	}
}

// Copy replicates the files of the hashfile at input into dest. Every copy
// outcome is recorded in the history under this run.
func (a *DupeApp) Copy(ctx context.Context, input, dest string, opts CopyOptions) (*dupe.ReplicationSummary, error) {
	policy, err := dupe.LookupPolicy(opts.Policy)
	if err != nil {
		return nil, err
	}
	if err := a.persistOperation(input, dest, "policy="+opts.Policy); err != nil {
		return nil, err
	}
	summary, err := a.copy(ctx, input, dest, policy, opts)
	if err == nil {
		a.op.Summarize("%d copied, %d skipped, %d collisions, %d failed",
			summary.Copied, summary.Skipped, summary.Collisions, len(summary.Failures))
		if len(summary.Failures) > 0 {
			a.op.Status = dupe.StatusError
		}
	}
	return summary, a.track(err)
}

func (a *DupeApp) copy(ctx context.Context, input, dest string, policy dupe.Policy, opts CopyOptions) (*dupe.ReplicationSummary, error) {
	src, err := a.openHashfile(input)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	svc, err := a.service("")
	if err != nil {
		return nil, err
	}
	if a.cfg.Filesystem.BackupPrivilege {
		svc.EnableBackupPrivilege()
	}
	ropts := dupe.ReplicateOptions{
		Policy:          policy,
		DryRun:          opts.DryRun,
		ContinueOnError: opts.ContinueOnError,
		Workers:         opts.Workers,
	}
	return svc.Replicate(ctx, src, dest, ropts, dupe.GroupOptions{VerifySize: opts.VerifySize}, a.op.ID)
}

// DirTimes sets the modification time of every directory below rawRoot to
// that of its newest file.
func (a *DupeApp) DirTimes(ctx context.Context, rawRoot string, dryRun bool) (*dupe.DirTimesSummary, error) {
	if err := a.persistOperation(rawRoot); err != nil {
		return nil, err
	}
	summary, err := a.dirTimes(ctx, rawRoot, dryRun)
	if summary != nil {
		a.op.Summarize("%d directories, %d failed", summary.Directories, summary.Failed)
	}
	return summary, a.track(err)
}

func (a *DupeApp) dirTimes(ctx context.Context, rawRoot string, dryRun bool) (*dupe.DirTimesSummary, error) {
	root, err := dupe.ResolveRoot(rawRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	svc, err := a.service(root)
	if err != nil {
		return nil, err
	}
	return svc.PropagateDirTimes(ctx, root, dryRun)
}

// openHashfile opens a hashfile for reading. A name ending in ".age" is
// decrypted on the fly after unlocking the private key; the compression is
// then chosen by the name without that suffix.
func (a *DupeApp) openHashfile(path string) (*hashfile.FileReader, error) {
	if !strings.HasSuffix(path, dupe.EncryptedSuffix) {
		return hashfile.Open(path)
	}

	dec, err := a.unlock()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening hashfile: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		err := dec.Decrypt(f, pw)
		f.Close()
		pw.CloseWithError(err)
	}()

	r, err := hashfile.NewFileReader(pr, hashfile.CompressionFor(strings.TrimSuffix(path, dupe.EncryptedSuffix)))
	if err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	return r, nil
}

// unlock asks for the passphrase once per app.
func (a *DupeApp) unlock() (dupe.DecryptionContext, error) {
	if a.dec != nil {
		return a.dec, nil
	}
	if !a.encryptor.IsConfigured() {
		return nil, fmt.Errorf("encryption keys are not configured, run keys init")
	}
	passphrase, err := a.passphrase("Passphrase: ")
	if err != nil {
		return nil, err
	}
	dec, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return nil, fmt.Errorf("unlocking private key: %w", err)
	}
	a.dec = dec
	return dec, nil
}

// SetupKeys generates the age key pair protected by passphrase.
func (a *DupeApp) SetupKeys(passphrase string) error {
	if err := a.encryptor.Setup(passphrase); err != nil {
		return fmt.Errorf("setting up encryption keys: %w", err)
	}
	a.logger.Info("encryption keys created",
		"public_key", a.cfg.Encryption.PublicKeyPath,
		"private_key", a.cfg.Encryption.PrivateKeyPath)
	return nil
}

// ListArchive returns the names of the hashfiles in the vault.
func (a *DupeApp) ListArchive() ([]string, error) {
	svc, err := a.service("")
	if err != nil {
		return nil, err
	}
	return svc.ListArchivedHashfiles()
}

// FetchArchive downloads an archived hashfile to output ("-" for stdout).
// With decrypt set an encrypted hashfile is decrypted and written without
// its ".age" suffix when output is a directory.
func (a *DupeApp) FetchArchive(name, output string, decrypt bool) (string, error) {
	if err := a.persistOperation(name, output); err != nil {
		return "", err
	}
	path, err := a.fetchArchive(name, output, decrypt)
	if err == nil {
		a.op.Summarize("fetched %s", name)
	}
	return path, a.track(err)
}

func (a *DupeApp) fetchArchive(name, output string, decrypt bool) (string, error) {
	svc, err := a.service("")
	if err != nil {
		return "", err
	}

	var dec dupe.DecryptionContext
	if decrypt && strings.HasSuffix(name, dupe.EncryptedSuffix) {
		if dec, err = a.unlock(); err != nil {
			return "", err
		}
	}

	if output == hashfile.Stdio {
		return output, svc.FetchArchivedHashfile(name, os.Stdout, dec)
	}
	if info, err := os.Stat(output); err == nil && info.IsDir() {
		base := name
		if dec != nil {
			base = strings.TrimSuffix(base, dupe.EncryptedSuffix)
		}
		output = filepath.Join(output, base)
	}

	f, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", output, err)
	}
	if err := svc.FetchArchivedHashfile(name, f, dec); err != nil {
		f.Close()
		os.Remove(output)
		return "", err
	}
	return output, f.Close()
}

// GetHistory returns the most recent operations, newest first.
func (a *DupeApp) GetHistory(limit int) ([]*dupe.Operation, error) {
	return a.history.ListOperations(limit)
}

// ErrRunNotFound is returned by GetRun for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// GetRun returns one recorded operation and its copy results.
func (a *DupeApp) GetRun(runID string) (*dupe.Operation, []*dupe.CopyRecord, error) {
	op, err := a.history.FindOperationByRunID(runID)
	if err != nil {
		return nil, nil, err
	}
	if op == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	records, err := a.history.ListCopyResults(op.ID)
	if err != nil {
		return nil, nil, err
	}
	return op, records, nil
}

// BackupHistory writes a consistent snapshot of the history database to dest.
func (a *DupeApp) BackupHistory(dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("backup target already exists: %s", dest)
	}
	if err := a.history.BackupTo(dest); err != nil {
		return err
	}
	a.logger.Info("history backed up", "source", a.history.Path(), "dest", dest)
	return nil
}

// Close finalizes the operation and closes all resources.
func (a *DupeApp) Close() error {
	var errs []error

	if a.op.Persisted() {
		if err := a.history.FinishOperation(a.op.ID, a.op.Status, a.op.Summary, a.clock.Now()); err != nil {
			errs = append(errs, fmt.Errorf("finishing operation: %w", err))
		}
	}
	if err := a.history.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing history: %w", err))
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing log file: %w", err))
		}
	}
	return errors.Join(errs...)
}
