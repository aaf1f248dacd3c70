package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"

	"dupefind/internal/dupe"
)

// Config represents the main configuration for dupefind.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level"` // "debug", "info", "warn" or "error"
	Vaults     []VaultConfig    `toml:"vaults"`
	Encryption EncryptionConfig `toml:"encryption"`
	Database   DatabaseConfig   `toml:"database"`
	Filesystem FilesystemConfig `toml:"filesystem"`
	Replicate  ReplicateConfig  `toml:"replicate"`
}

// EncryptionConfig holds paths to the age key pair used for hashfile encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// FilesystemConfig controls how source trees are walked and hashed.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`

	// Workers is the number of files hashed concurrently.
	Workers int `toml:"workers"`

	// KeepLinkedDirs records symlinked directories as entries instead of
	// dropping them.
	KeepLinkedDirs bool `toml:"keep_linked_dirs"`

	// BackupPrivilege requests the Windows backup and restore privileges
	// before walking. Ignored elsewhere.
	BackupPrivilege bool `toml:"backup_privilege"`
}

// ReplicateConfig holds the defaults of the copy command.
type ReplicateConfig struct {
	Policy          string `toml:"policy"` // "keep-one" or "keep-all"
	ContinueOnError bool   `toml:"continue_on_error"`
	Workers         int    `toml:"workers"`
	VerifySize      bool   `toml:"verify_size"`
}

// VaultConfig represents configuration for a hashfile archive.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // S3-compatible services
	S3Profile  string `toml:"s3_profile,omitempty"`

	// Static credentials. When unset the default AWS credential chain is used.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// DatabaseConfig represents configuration for the run history database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

var logLevels = []string{"debug", "info", "warn", "error"}

// NewConfig creates a Config with every setting at its default, rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "dupefind.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "dupefind.key"),
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Filesystem: FilesystemConfig{
			Workers:         runtime.NumCPU(),
			BackupPrivilege: true,
		},
		Replicate: ReplicateConfig{
			Policy:  dupe.DefaultPolicy,
			Workers: 1,
		},
	}
}

// applyDefaults fills every unset field of c from NewConfig(baseDir).
// Booleans cannot be told apart from an explicit false and are left alone.
func (c *Config) applyDefaults(baseDir string) {
	if c.BaseDir == "" {
		c.BaseDir = baseDir
	}
	d := NewConfig(c.BaseDir)
	if c.LogDir == "" {
		c.LogDir = d.LogDir
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Encryption.Type == "" {
		c.Encryption.Type = d.Encryption.Type
	}
	if c.Encryption.PublicKeyPath == "" {
		c.Encryption.PublicKeyPath = d.Encryption.PublicKeyPath
	}
	if c.Encryption.PrivateKeyPath == "" {
		c.Encryption.PrivateKeyPath = d.Encryption.PrivateKeyPath
	}
	if c.Database.Type == "" {
		c.Database = d.Database
	}
	if c.Database.Type == "sqlite" && c.Database.DataDir == "" {
		c.Database.DataDir = d.Database.DataDir
	}
	if c.Filesystem.Workers == 0 {
		c.Filesystem.Workers = d.Filesystem.Workers
	}
	if c.Replicate.Policy == "" {
		c.Replicate.Policy = d.Replicate.Policy
	}
	if c.Replicate.Workers == 0 {
		c.Replicate.Workers = d.Replicate.Workers
	}
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	level := strings.ToLower(c.LogLevel)
	valid := false
	for _, l := range logLevels {
		valid = valid || l == level
	}
	if !valid {
		return fmt.Errorf("log_level %q is not one of %s", c.LogLevel, strings.Join(logLevels, ", "))
	}
	if _, err := dupe.LookupPolicy(c.Replicate.Policy); err != nil {
		return fmt.Errorf("replicate.policy: %w", err)
	}
	if c.Filesystem.Workers < 0 || c.Replicate.Workers < 0 {
		return fmt.Errorf("worker counts must not be negative")
	}
	for _, pattern := range c.Filesystem.Ignore {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("filesystem.ignore pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader. Keys the Config does not
// define are an error so that typos do not silently fall back to defaults.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Load reads the config at path, filling unset fields with defaults rooted
// at baseDir. A missing file yields the defaults.
func Load(path, baseDir string) (*Config, error) {
	cfg, err := ReadFromFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewConfig(baseDir), nil
	}
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return f.Close()
}

// Init writes cfg to a new config file at path. An existing file is never
// overwritten.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
