package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"dupefind/internal/app"
	"dupefind/internal/config"
	"dupefind/internal/dupe"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// usageError is a command line that cannot run. It is reported before any
// I/O and exits with status 2.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// usageArgs turns argument validation failures into usage errors.
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return &usageError{err}
		}
		return nil
	}
}

func exitCode(err error) int {
	var uerr *usageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &uerr):
		return 2
	default:
		return 1
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	code := exitCode(err)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		if code == 2 {
			fmt.Fprintf(os.Stderr, "Run '%s --help' for usage.\n", rootCmd.CommandPath())
		}
	}
	os.Exit(code)
}

var (
	configPath string
	verbose    bool
)

// loadConfig reads the config file, falling back to defaults when it does
// not exist.
func loadConfig() (*config.Config, app.Defaults, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, defaults, fmt.Errorf("getting defaults: %w", err)
	}
	if configPath != "" {
		defaults.ConfigPath = configPath
	}
	cfg, err := config.Load(defaults.ConfigPath, defaults.BaseDir)
	if err != nil {
		return nil, defaults, fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults, nil
}

// newApp reads the config and creates a DupeApp. The caller must defer
// app.Close(). operation identifies the command in the run history.
func newApp(ctx context.Context, operation string) (*app.DupeApp, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.NewDupeApp(ctx, cfg, operation, app.Options{Verbose: verbose})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// closeApp closes a and reports a teardown failure unless the command
// already failed.
func closeApp(a *app.DupeApp, err *error) {
	if cerr := a.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}

var rootCmd = &cobra.Command{
	Use:           "dupefind",
	Short:         "Find duplicate files and copy a deduplicated tree",
	Args:          usageArgs(cobra.NoArgs),
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return &usageError{errors.New("an action is required: hash, dupes, copy or dirtimes")}
	},
}

// hash command
var hashCmd = &cobra.Command{
	Use:   "hash ROOT",
	Short: "Fingerprint every file below ROOT into a hashfile",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		output, _ := cmd.Flags().GetString("output")
		workers, _ := cmd.Flags().GetInt("workers")
		archive, _ := cmd.Flags().GetBool("archive")
		encrypt, _ := cmd.Flags().GetBool("encrypt")
		if encrypt && !archive {
			return &usageError{errors.New("--encrypt applies to --archive")}
		}

		a, err := newApp(cmd.Context(), "hash")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		res, err := a.Hash(cmd.Context(), args[0], output, workers, archive, encrypt)
		if err != nil {
			return fmt.Errorf("hashing: %w", err)
		}

		fmt.Fprintf(os.Stderr, "Hashed %d file(s), %s", res.Files, humanize.IBytes(uint64(res.Bytes)))
		if res.Unreadable > 0 {
			fmt.Fprintf(os.Stderr, ", %s", color.YellowString("%d unreadable", res.Unreadable))
		}
		fmt.Fprintln(os.Stderr)
		if res.Archived != "" {
			fmt.Fprintf(os.Stderr, "Archived as %s\n", res.Archived)
		}
		return nil
	},
}

// dupes command
var dupesCmd = &cobra.Command{
	Use:   "dupes HASHFILE",
	Short: "Write the duplicate groups of a hashfile",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		output, _ := cmd.Flags().GetString("output")
		tree, _ := cmd.Flags().GetBool("tree")
		verifySize, _ := cmd.Flags().GetBool("verify-size")

		a, err := newApp(cmd.Context(), "dupes")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		report, err := a.Dupes(args[0], output, verifySize)
		if err != nil {
			return fmt.Errorf("finding duplicates: %w", err)
		}

		if tree {
			fmt.Fprint(treeOut(output), renderGroups(report.Groups))
		}
		fmt.Fprintf(os.Stderr, "%d duplicate group(s), %d file(s), %s redundant\n",
			len(report.Groups), report.Written, humanize.IBytes(uint64(report.Redundant)))
		return nil
	},
}

// copy command
var copyCmd = &cobra.Command{
	Use:   "copy HASHFILE DEST",
	Short: "Copy the files of a hashfile into DEST, deduplicated by policy",
	Args:  usageArgs(cobra.ExactArgs(2)),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd.Context(), "copy")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		opts := app.CopyOptionsFromConfig(a.Config().Replicate)
		flags := cmd.Flags()
		if flags.Changed("policy") {
			opts.Policy, _ = flags.GetString("policy")
		}
		if flags.Changed("continue-on-error") {
			opts.ContinueOnError, _ = flags.GetBool("continue-on-error")
		}
		if flags.Changed("workers") {
			opts.Workers, _ = flags.GetInt("workers")
		}
		if flags.Changed("verify-size") {
			opts.VerifySize, _ = flags.GetBool("verify-size")
		}
		opts.DryRun, _ = flags.GetBool("dry-run")

		if opts.DryRun {
			fmt.Fprintln(os.Stderr, color.YellowString("DRY RUN MODE - No files will be copied"))
		}
		summary, err := a.Copy(cmd.Context(), args[0], args[1], opts)
		if err != nil {
			return fmt.Errorf("copying: %w", err)
		}
		printReplication(os.Stderr, summary, opts.DryRun)
		if n := len(summary.Failures); n > 0 {
			return fmt.Errorf("%d file(s) could not be copied", n)
		}
		return nil
	},
}

// dirtimes command
var dirtimesCmd = &cobra.Command{
	Use:   "dirtimes ROOT",
	Short: "Set every directory's modification time to that of its newest file",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		a, err := newApp(cmd.Context(), "dirtimes")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		if dryRun {
			fmt.Fprintln(os.Stderr, color.YellowString("DRY RUN MODE - No directory times will be changed"))
		}
		summary, err := a.DirTimes(cmd.Context(), args[0], dryRun)
		if summary != nil {
			fmt.Fprintf(os.Stderr, "Set %d directory time(s) from %d file(s)", summary.Directories, summary.Files)
			if summary.Failed > 0 {
				fmt.Fprintf(os.Stderr, ", %s", color.RedString("%d failed", summary.Failed))
			}
			fmt.Fprintln(os.Stderr)
		}
		if err != nil {
			return fmt.Errorf("setting directory times: %w", err)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history [RUN_ID]",
	Short: "View recorded runs, or the copies of one run",
	Args:  usageArgs(cobra.MaximumNArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		limit, _ := cmd.Flags().GetInt("limit")
		backup, _ := cmd.Flags().GetString("backup")

		a, err := newApp(cmd.Context(), "history")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		if backup != "" {
			if err := a.BackupHistory(backup); err != nil {
				return err
			}
			fmt.Printf("History backed up to %s\n", backup)
			return nil
		}

		if len(args) == 1 {
			op, copies, err := a.GetRun(args[0])
			if err != nil {
				return err
			}
			printOperations(os.Stdout, []*dupe.Operation{op})
			printCopies(os.Stdout, copies)
			return nil
		}

		ops, err := a.GetHistory(limit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}
		printOperations(os.Stdout, ops)
		return nil
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the defaults",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}
		if configPath != "" {
			defaults.ConfigPath = configPath
		}

		cfg := config.NewConfig(defaults.BaseDir)
		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return err
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Base Dir: %s\n", defaults.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View the effective configuration",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, defaults, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Printf("# Configuration from %s\n\n", defaults.ConfigPath)
		m := &config.Manager{}
		return m.Write(os.Stdout, cfg)
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the hashfile encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the age key pair, protected by a passphrase",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd.Context(), "keys")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		passphrase, err := app.NewPassphrase(app.TerminalPassphrase)
		if err != nil {
			return err
		}
		if err := a.SetupKeys(passphrase); err != nil {
			return err
		}
		fmt.Printf("Public key:  %s\n", a.Config().Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", a.Config().Encryption.PrivateKeyPath)
		return nil
	},
}

// archive command
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Access hashfiles archived in the vault",
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived hashfiles",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd.Context(), "archive")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		names, err := a.ListArchive()
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var archiveGetCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Download an archived hashfile",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		output, _ := cmd.Flags().GetString("output")
		decrypt, _ := cmd.Flags().GetBool("decrypt")

		a, err := newApp(cmd.Context(), "archive")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		path, err := a.FetchArchive(args[0], output, decrypt)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", args[0], err)
		}
		if path != "-" {
			fmt.Fprintf(os.Stderr, "Saved %s\n", path)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $"+app.EnvConfigPath+" or ~/.config/dupefind.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err}
	})

	rootCmd.AddCommand(hashCmd)
	hashCmd.Flags().StringP("output", "o", "-", "Hashfile to write (.gz or .zst to compress), - for stdout")
	hashCmd.Flags().Int("workers", 0, "Files hashed concurrently (default from config)")
	hashCmd.Flags().Bool("archive", false, "Upload the hashfile to the vault")
	hashCmd.Flags().Bool("encrypt", false, "Encrypt the archived hashfile")

	rootCmd.AddCommand(dupesCmd)
	dupesCmd.Flags().StringP("output", "o", "-", "Dupefile to write, - for stdout")
	dupesCmd.Flags().Bool("tree", false, "Print the duplicate groups as a tree")
	dupesCmd.Flags().Bool("verify-size", false, "Split groups whose members differ in size")

	rootCmd.AddCommand(copyCmd)
	copyCmd.Flags().String("policy", dupe.DefaultPolicy, "Selection policy: keep-one or keep-all")
	copyCmd.Flags().Bool("dry-run", false, "Log the copies without performing them")
	copyCmd.Flags().Bool("continue-on-error", false, "Keep copying after a failure")
	copyCmd.Flags().Int("workers", 1, "Concurrent copies")
	copyCmd.Flags().Bool("verify-size", false, "Split groups whose members differ in size")

	rootCmd.AddCommand(dirtimesCmd)
	dirtimesCmd.Flags().Bool("dry-run", false, "Log the new times without setting them")

	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")
	historyCmd.Flags().String("backup", "", "Write a snapshot of the history database to this file")

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysInitCmd)

	rootCmd.AddCommand(archiveCmd)
	archiveCmd.AddCommand(archiveListCmd)
	archiveCmd.AddCommand(archiveGetCmd)
	archiveGetCmd.Flags().StringP("output", "o", ".", "File or directory to write, - for stdout")
	archiveGetCmd.Flags().Bool("decrypt", false, "Decrypt an encrypted hashfile")
}
