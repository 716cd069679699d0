package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"clipvault/internal/clip"
)

// Defaults applied by ApplyDefaults when a field is left at its zero value.
const (
	DefaultMaxSize            = "1GB"
	DefaultCheckInterval      = 60   // seconds
	DefaultPollIntervalMillis = 100  // notification queue polling
	DefaultRetryDelayMillis   = 2000 // wait after a failed delivery
	DefaultJoinTimeoutMillis  = 3000 // relay shutdown
	DefaultDebounceMillis     = 50   // sync file change bursts
	DefaultHash               = "md5"
	DefaultSyncFileName       = "SyncClipboard.json"
)

// Config represents the main configuration for clipvault.
type Config struct {
	HostID     string           `toml:"host_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Ingest     IngestConfig     `toml:"ingest"`
	Store      StoreConfig      `toml:"store"`
	Eviction   EvictionConfig   `toml:"eviction"`
	Retention  RetentionConfig  `toml:"retention"`
	Notify     NotifyConfig     `toml:"notify"`
	Database   DatabaseConfig   `toml:"database"`
	Vault      VaultConfig      `toml:"vault"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// IngestConfig locates the files written by the clipboard-sync client.
type IngestConfig struct {
	SyncFile  string `toml:"sync_file"`  // canonical JSON sync file
	SourceDir string `toml:"source_dir"` // directory holding payload files named by the File field
	// DebounceMillis coalesces bursts of change events into one read.
	DebounceMillis int `toml:"debounce_ms"`
}

// StoreConfig configures the content-addressed backup directory.
type StoreConfig struct {
	BackupDir string `toml:"backup_dir"`
	Hash      string `toml:"hash"` // "md5" (default, matches the sync client) or "sha256"
}

// EvictionConfig bounds the backup directory size.
type EvictionConfig struct {
	MaxSize       string `toml:"max_size"`       // human size string, e.g. "500MB"
	CheckInterval int    `toml:"check_interval"` // seconds between passes
	// Exclude lists glob patterns for files the monitor never deletes.
	// Patterns may also be listed in a .evictignore file in the backup dir.
	Exclude []string `toml:"exclude"`
}

// RetentionConfig prunes old history records. Zero disables each rule.
type RetentionConfig struct {
	MaxItems int `toml:"max_items"`
	MaxDays  int `toml:"max_days"`
}

// NotifyConfig configures the push channel that is told "history changed".
// An empty Endpoint disables delivery.
type NotifyConfig struct {
	Endpoint           string `toml:"endpoint"`
	PollIntervalMillis int    `toml:"poll_interval_ms"`
	RetryDelayMillis   int    `toml:"retry_delay_ms"`
	JoinTimeoutMillis  int    `toml:"join_timeout_ms"`
}

// DatabaseConfig represents configuration for the metadata database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// VaultConfig configures where history snapshots are pushed.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", "filesystem" or "" (disabled)
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"` // for S3-compatible stores
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for snapshot encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
	Armor          bool   `toml:"armor"` // PEM-style ASCII snapshots instead of binary
}

// NewConfig creates a new Config with every path laid out under baseDir.
func NewConfig(hostID, baseDir string) *Config {
	cfg := &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Ingest: IngestConfig{
			SyncFile:  filepath.Join(baseDir, "sync", DefaultSyncFileName),
			SourceDir: filepath.Join(baseDir, "sync", "file"),
		},
		Store: StoreConfig{
			BackupDir: filepath.Join(baseDir, "backup"),
		},
		Retention: RetentionConfig{
			MaxItems: 500,
			MaxDays:  30,
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Vault: VaultConfig{
			Type:        "filesystem",
			Name:        "local",
			FSVaultRoot: filepath.Join(baseDir, "vault"),
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "clipvault.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "clipvault.key"),
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued tunables.
func (c *Config) ApplyDefaults() {
	if c.Store.Hash == "" {
		c.Store.Hash = DefaultHash
	}
	if c.Eviction.MaxSize == "" {
		c.Eviction.MaxSize = DefaultMaxSize
	}
	if c.Eviction.CheckInterval == 0 {
		c.Eviction.CheckInterval = DefaultCheckInterval
	}
	if c.Notify.PollIntervalMillis == 0 {
		c.Notify.PollIntervalMillis = DefaultPollIntervalMillis
	}
	if c.Notify.RetryDelayMillis == 0 {
		c.Notify.RetryDelayMillis = DefaultRetryDelayMillis
	}
	if c.Notify.JoinTimeoutMillis == 0 {
		c.Notify.JoinTimeoutMillis = DefaultJoinTimeoutMillis
	}
	if c.Ingest.DebounceMillis == 0 {
		c.Ingest.DebounceMillis = DefaultDebounceMillis
	}
}

// Validate checks the options the core cannot run without. Every failure
// wraps clip.ErrConfig.
func (c *Config) Validate() error {
	if c.Ingest.SyncFile == "" {
		return fmt.Errorf("%w: ingest.sync_file is required", clip.ErrConfig)
	}
	if c.Ingest.SourceDir == "" {
		return fmt.Errorf("%w: ingest.source_dir is required", clip.ErrConfig)
	}
	if c.Store.BackupDir == "" {
		return fmt.Errorf("%w: store.backup_dir is required", clip.ErrConfig)
	}
	switch c.Store.Hash {
	case "md5", "sha256":
	default:
		return fmt.Errorf("%w: store.hash must be md5 or sha256, got %q", clip.ErrConfig, c.Store.Hash)
	}
	if _, err := c.MaxSizeBytes(); err != nil {
		return err
	}
	if c.Eviction.CheckInterval <= 0 {
		return fmt.Errorf("%w: eviction.check_interval must be positive", clip.ErrConfig)
	}
	if c.Retention.MaxItems < 0 || c.Retention.MaxDays < 0 {
		return fmt.Errorf("%w: retention limits must not be negative", clip.ErrConfig)
	}
	return nil
}

// ResolvePaths makes every configured path absolute against the working
// directory. Empty paths stay empty.
func (c *Config) ResolvePaths() error {
	for _, p := range []*string{
		&c.BaseDir,
		&c.LogDir,
		&c.Ingest.SyncFile,
		&c.Ingest.SourceDir,
		&c.Store.BackupDir,
		&c.Database.DataDir,
		&c.Vault.FSVaultRoot,
		&c.Encryption.PublicKeyPath,
		&c.Encryption.PrivateKeyPath,
	} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("%w: resolving %s: %v", clip.ErrConfig, *p, err)
		}
		*p = abs
	}
	return nil
}

// MaxSizeBytes parses the eviction ceiling.
func (c *Config) MaxSizeBytes() (int64, error) {
	n, err := ParseSize(c.Eviction.MaxSize)
	if err != nil {
		return 0, fmt.Errorf("eviction.max_size: %w", err)
	}
	return n, nil
}

// CheckInterval returns the eviction pass interval.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Eviction.CheckInterval) * time.Second
}

// Debounce returns how long the watcher waits for a burst of events to settle.
func (c *IngestConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMillis) * time.Millisecond
}

// PollInterval returns the notification queue polling interval.
func (c *NotifyConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

// RetryDelay returns the wait after a failed delivery.
func (c *NotifyConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMillis) * time.Millisecond
}

// JoinTimeout bounds how long shutdown waits for the relay worker.
func (c *NotifyConfig) JoinTimeout() time.Duration {
	return time.Duration(c.JoinTimeoutMillis) * time.Millisecond
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader and applies defaults.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to decode config: %v", clip.ErrConfig, err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path, refusing to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
