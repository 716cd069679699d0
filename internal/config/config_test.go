package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"clipvault/internal/clip"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := NewConfig("test-host-abc", "/home/user/.local/share/clipvault")
	original.Eviction.MaxSize = "500MB"
	original.Notify.Endpoint = "ws://localhost:5000/ws"
	original.Vault = VaultConfig{Type: "s3", Name: "offsite", S3Bucket: "clips", S3Region: "eu-west-1"}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.HostID != original.HostID {
		t.Errorf("HostID = %q, want %q", got.HostID, original.HostID)
	}
	if got.Ingest.SyncFile != original.Ingest.SyncFile {
		t.Errorf("Ingest.SyncFile = %q, want %q", got.Ingest.SyncFile, original.Ingest.SyncFile)
	}
	if got.Store.BackupDir != original.Store.BackupDir {
		t.Errorf("Store.BackupDir = %q, want %q", got.Store.BackupDir, original.Store.BackupDir)
	}
	if got.Eviction.MaxSize != "500MB" {
		t.Errorf("Eviction.MaxSize = %q, want %q", got.Eviction.MaxSize, "500MB")
	}
	if got.Notify.Endpoint != original.Notify.Endpoint {
		t.Errorf("Notify.Endpoint = %q, want %q", got.Notify.Endpoint, original.Notify.Endpoint)
	}
	if got.Vault.Type != "s3" || got.Vault.S3Bucket != "clips" {
		t.Errorf("Vault = %+v, want s3 bucket clips", got.Vault)
	}
	if got.Retention.MaxItems != 500 || got.Retention.MaxDays != 30 {
		t.Errorf("Retention = %+v, want 500 items / 30 days", got.Retention)
	}
}

func TestManager_Read_AppliesDefaults(t *testing.T) {
	m := &Manager{}
	cfg, err := m.Read(strings.NewReader(`
[ingest]
sync_file = "/sync/SyncClipboard.json"
source_dir = "/sync/file"
[store]
backup_dir = "/backup"
`))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if cfg.Store.Hash != DefaultHash {
		t.Errorf("Store.Hash = %q, want %q", cfg.Store.Hash, DefaultHash)
	}
	if cfg.Eviction.MaxSize != DefaultMaxSize {
		t.Errorf("Eviction.MaxSize = %q, want %q", cfg.Eviction.MaxSize, DefaultMaxSize)
	}
	if cfg.CheckInterval().Seconds() != DefaultCheckInterval {
		t.Errorf("CheckInterval() = %v, want %ds", cfg.CheckInterval(), DefaultCheckInterval)
	}
	if cfg.Ingest.Debounce() != DefaultDebounceMillis*time.Millisecond {
		t.Errorf("Debounce() = %v, want %dms", cfg.Ingest.Debounce(), DefaultDebounceMillis)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestManager_Read_Extras(t *testing.T) {
	m := &Manager{}
	cfg, err := m.Read(strings.NewReader(`
[ingest]
sync_file = "/sync/SyncClipboard.json"
source_dir = "/sync/file"
debounce_ms = 200
[store]
backup_dir = "/backup"
[eviction]
exclude = ["*.keep", "pinned-*"]
[encryption]
type = "age"
armor = true
`))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if cfg.Ingest.Debounce() != 200*time.Millisecond {
		t.Errorf("Debounce() = %v, want 200ms", cfg.Ingest.Debounce())
	}
	if len(cfg.Eviction.Exclude) != 2 || cfg.Eviction.Exclude[1] != "pinned-*" {
		t.Errorf("Eviction.Exclude = %v", cfg.Eviction.Exclude)
	}
	if !cfg.Encryption.Armor {
		t.Error("Encryption.Armor = false, want true")
	}
}

func TestManager_Read_InvalidTOML(t *testing.T) {
	m := &Manager{}
	_, err := m.Read(strings.NewReader("host_id = [unterminated"))
	if !errors.Is(err, clip.ErrConfig) {
		t.Errorf("Read() error = %v, want ErrConfig", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing sync file", func(c *Config) { c.Ingest.SyncFile = "" }},
		{"missing source dir", func(c *Config) { c.Ingest.SourceDir = "" }},
		{"missing backup dir", func(c *Config) { c.Store.BackupDir = "" }},
		{"unknown hash", func(c *Config) { c.Store.Hash = "crc32" }},
		{"bad ceiling", func(c *Config) { c.Eviction.MaxSize = "5XB" }},
		{"zero interval", func(c *Config) { c.Eviction.CheckInterval = -1 }},
		{"negative retention", func(c *Config) { c.Retention.MaxDays = -3 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("host", "/base")
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, clip.ErrConfig) {
				t.Errorf("Validate() error = %v, want ErrConfig", err)
			}
		})
	}

	t.Run("defaults are valid", func(t *testing.T) {
		if err := NewConfig("host", "/base").Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})
}

func TestConfig_ResolvePaths(t *testing.T) {
	wd := t.TempDir()
	t.Chdir(wd)

	cfg := NewConfig("host", "data")
	cfg.Store.BackupDir = "/srv/backup"
	cfg.Vault.FSVaultRoot = ""
	if err := cfg.ResolvePaths(); err != nil {
		t.Fatalf("ResolvePaths() error = %v", err)
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"absolute backup dir untouched", cfg.Store.BackupDir, "/srv/backup"},
		{"base dir", cfg.BaseDir, filepath.Join(wd, "data")},
		{"sync file", cfg.Ingest.SyncFile, filepath.Join(wd, "data", "sync", DefaultSyncFileName)},
		{"source dir", cfg.Ingest.SourceDir, filepath.Join(wd, "data", "sync", "file")},
		{"database dir", cfg.Database.DataDir, filepath.Join(wd, "data", "db")},
		{"empty vault root stays empty", cfg.Vault.FSVaultRoot, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestInit(t *testing.T) {
	t.Run("writes new config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "clipvault.toml")
		if err := Init(path, NewConfig("host-1", "/base")); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.HostID != "host-1" {
			t.Errorf("HostID = %q, want %q", got.HostID, "host-1")
		}
	})

	t.Run("refuses to overwrite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "clipvault.toml")
		if err := os.WriteFile(path, []byte("host_id = \"x\"\n"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := Init(path, NewConfig("host-2", "/base")); err == nil {
			t.Error("Init() expected error for existing file")
		}
	})
}
