package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"clipvault/internal/clip"
	"clipvault/internal/config"
	"clipvault/internal/database"
	"clipvault/internal/encryption"
	"clipvault/internal/evict"
	"clipvault/internal/fs"
	"clipvault/internal/ingest"
	"clipvault/internal/model"
	"clipvault/internal/notify"
	"clipvault/internal/retention"
	"clipvault/internal/store"
	"clipvault/internal/vault"
)

// SnapshotName is the vault object holding the encrypted history database.
const SnapshotName = "history.db"

// App is the application layer between the CLI and the core components.
// It constructs all dependencies from config, exposes high-level operations
// and manages the DB lifecycle on Close.
type App struct {
	cfg       *config.Config
	db        clip.Database
	vault     clip.Vault // nil when no vault is configured
	encryptor clip.Encryptor
	store     *store.ChecksumStore
	pruner    *retention.Pruner
	monitor   *evict.Monitor
	relay     *notify.Relay
	pipeline  *ingest.Pipeline
	op        *Operation
	logger    clip.Logger
	logFile   *os.File
}

// Options tune NewApp beyond what the config file holds.
type Options struct {
	Operation string // CLI command name, used in the run ID
	Verbose   bool   // log debug lines
}

// NewApp creates a fully wired App from the given config.
// The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ResolvePaths(); err != nil {
		return nil, err
	}

	op := NewOperation(opts.Operation, clip.RealClock{}.Now())
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	l, logFile, err := newLogger(cfg.LogDir, op.RunID(), level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: l}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating database: %w", err)
	}

	var v clip.Vault
	if cfg.Vault.Type != "" {
		v, err = vault.NewVaultFromConfig(ctx, cfg.Vault)
		if err != nil {
			db.Close()
			logFile.Close()
			return nil, fmt.Errorf("creating vault: %w", err)
		}
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	a, err := assemble(cfg, db, v, enc, logger, clip.RealClock{}, clip.UUIDGenerator{})
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, err
	}
	a.op = op
	a.logFile = logFile
	return a, nil
}

// assemble wires the core components around already-opened resources.
func assemble(cfg *config.Config, db clip.Database, v clip.Vault, enc clip.Encryptor, logger clip.Logger, clock clip.Clock, ids clip.IDGenerator) (*App, error) {
	lock := clip.NewDirLock()

	st, err := store.NewChecksumStore(cfg.Store.BackupDir, cfg.Store.Hash, db, lock, clock, logger)
	if err != nil {
		return nil, fmt.Errorf("creating backup store: %w", err)
	}

	pruner := retention.NewPruner(db, db, cfg.Retention.MaxItems, cfg.Retention.MaxDays, clock, logger)

	ceiling, err := cfg.MaxSizeBytes()
	if err != nil {
		return nil, err
	}
	monitor, err := evict.NewMonitor(evict.Options{
		Dir:      cfg.Store.BackupDir,
		Ceiling:  ceiling,
		Interval: cfg.CheckInterval(),
		Exclude:  cfg.Eviction.Exclude,
	}, db, db, lock, pruner, logger)
	if err != nil {
		return nil, fmt.Errorf("creating eviction monitor: %w", err)
	}

	relay := notify.NewRelayFromConfig(cfg.Notify, logger)
	pipeline := ingest.NewPipeline(cfg.Ingest, st, db, relay, clock, ids, logger)

	return &App{
		cfg:       cfg,
		db:        db,
		vault:     v,
		encryptor: enc,
		store:     st,
		pruner:    pruner,
		monitor:   monitor,
		relay:     relay,
		pipeline:  pipeline,
		op:        NewOperation("app", clock.Now()),
		logger:    logger,
	}, nil
}

// Run starts the watcher, the eviction loop and the notification relay and
// blocks until ctx is done or one of them fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.pipeline.Prime(); err != nil {
		a.logger.Info("no sync file to prime from", "path", a.cfg.Ingest.SyncFile, "error", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.relay.Start(ctx)
	defer a.relay.Stop()

	errc := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errc <- a.pipeline.Watch(ctx)
	}()
	go func() {
		defer wg.Done()
		errc <- a.monitor.Run(ctx)
	}()

	// The first component to return ends the run. Both return nil on cancel.
	first := <-errc
	cancel()
	wg.Wait()
	close(errc)
	for err := range errc {
		if first == nil {
			first = err
		}
	}

	a.logger.Info("clipvault stopped", "relay", fmt.Sprintf("%+v", a.relay.Stats()))
	return first
}

// StoreFile copies path into the backup directory. An empty checksum is
// computed with the configured hash.
func (a *App) StoreFile(ctx context.Context, path, checksum string) (*model.Artifact, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	if checksum == "" {
		checksum, err = a.store.Checksum(abs)
		if err != nil {
			return nil, err
		}
	}
	return a.store.Store(ctx, abs, checksum, filepath.Base(abs))
}

// EvictOnce runs a single eviction and retention pass.
func (a *App) EvictOnce(ctx context.Context) (*evict.Report, error) {
	return a.monitor.RunOnce(ctx)
}

// History lists history records newest first.
func (a *App) History(filter model.HistoryFilter) ([]*model.HistoryRecord, error) {
	return a.db.ListHistory(filter)
}

// Status summarises the backup directory and history log.
type Status struct {
	BackupDir     string
	Files         int
	TotalSize     int64
	Ceiling       int64
	Artifacts     int
	HistoryCount  int64
	MaxItems      int
	MaxDays       int
	VaultType     string
	KeysPresent   bool
	NotifyEnabled bool
}

// Status reports current usage against the effective limits.
func (a *App) Status() (*Status, error) {
	entries, err := fs.ListRegularFiles(a.cfg.Store.BackupDir)
	if err != nil {
		return nil, err
	}
	artifacts, err := a.db.ListArtifacts()
	if err != nil {
		return nil, err
	}
	count, err := a.db.CountHistory()
	if err != nil {
		return nil, err
	}

	s := &Status{
		BackupDir:     a.cfg.Store.BackupDir,
		Files:         len(entries),
		Ceiling:       a.monitor.Ceiling(),
		Artifacts:     len(artifacts),
		HistoryCount:  count,
		VaultType:     a.cfg.Vault.Type,
		KeysPresent:   a.encryptor.IsConfigured(),
		NotifyEnabled: a.cfg.Notify.Endpoint != "",
	}
	for _, e := range entries {
		s.TotalSize += e.Size
	}
	s.MaxItems, s.MaxDays = a.pruner.Limits()
	return s, nil
}

// GetSetting returns a runtime override and whether it is set.
func (a *App) GetSetting(key string) (string, bool, error) {
	if err := checkSettingKey(key); err != nil {
		return "", false, err
	}
	return a.db.GetSetting(key)
}

// Settings returns every known override that is currently set.
func (a *App) Settings() (map[string]string, error) {
	out := make(map[string]string)
	for _, key := range clip.SettingKeys {
		v, ok, err := a.db.GetSetting(key)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = v
		}
	}
	return out, nil
}

// SetSetting validates and stores a runtime override. The running monitor
// and pruner pick it up on their next pass.
func (a *App) SetSetting(key, value string) error {
	if err := checkSettingKey(key); err != nil {
		return err
	}
	switch key {
	case clip.SettingMaxStorage:
		n, err := config.ParseSize(value)
		if err != nil {
			return err
		}
		if n <= 0 {
			return fmt.Errorf("%w: %s must be positive", clip.ErrConfig, key)
		}
	default:
		if _, err := retention.ParseLimit(value); err != nil {
			return fmt.Errorf("%w: %s %v", clip.ErrConfig, key, err)
		}
	}
	if err := a.db.SetSetting(key, value); err != nil {
		return err
	}
	a.logger.Info("setting updated", "key", key, "value", value)
	return nil
}

func checkSettingKey(key string) error {
	for _, k := range clip.SettingKeys {
		if k == key {
			return nil
		}
	}
	known := append([]string(nil), clip.SettingKeys...)
	sort.Strings(known)
	return fmt.Errorf("%w: unknown setting %q (known: %v)", clip.ErrConfig, key, known)
}

// InitKeys generates the snapshot key pair.
func (a *App) InitKeys(passphrase string) error {
	if err := a.encryptor.Setup(passphrase); err != nil {
		return fmt.Errorf("setting up encryption keys: %w", err)
	}
	a.logger.Info("encryption keys created",
		"public_key", a.cfg.Encryption.PublicKeyPath, "private_key", a.cfg.Encryption.PrivateKeyPath)
	return nil
}

// PushResult describes a snapshot push.
type PushResult struct {
	Version  int64
	Size     int64 // encrypted bytes uploaded
	Uploaded bool  // false when the vault already held this version
}

// SnapshotPush encrypts a consistent copy of the history database and
// uploads it, versioned by the highest history ID.
func (a *App) SnapshotPush(ctx context.Context) (*PushResult, error) {
	if a.vault == nil {
		return nil, fmt.Errorf("%w: no vault configured", clip.ErrConfig)
	}
	if !a.encryptor.IsConfigured() {
		return nil, fmt.Errorf("%w: encryption keys missing, run `clipvault keys init`", clip.ErrConfig)
	}
	if err := a.vault.ValidateSetup(ctx); err != nil {
		return nil, fmt.Errorf("vault not usable: %w", err)
	}

	local, err := a.db.MaxHistoryID()
	if err != nil {
		return nil, fmt.Errorf("checking local snapshot version: %w", err)
	}
	remote, err := a.vault.SnapshotVersion(ctx, a.cfg.HostID, SnapshotName)
	if err != nil {
		return nil, fmt.Errorf("checking remote snapshot version: %w", err)
	}
	if remote > local {
		return nil, fmt.Errorf("local history is behind the vault (local=%d, remote=%d): pull the snapshot first", local, remote)
	}
	if remote == local && local > 0 {
		a.logger.Info("snapshot already current", "version", local)
		return &PushResult{Version: local}, nil
	}

	tmpDir, err := os.MkdirTemp("", "clipvault-snapshot-")
	if err != nil {
		return nil, fmt.Errorf("creating snapshot dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	plainPath := filepath.Join(tmpDir, SnapshotName)
	if err := a.db.BackupTo(plainPath); err != nil {
		return nil, fmt.Errorf("snapshotting database: %w", err)
	}

	encPath := plainPath + ".age"
	if err := encryptFile(a.encryptor, plainPath, encPath); err != nil {
		return nil, err
	}

	f, err := os.Open(encPath)
	if err != nil {
		return nil, fmt.Errorf("opening encrypted snapshot: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat encrypted snapshot: %w", err)
	}

	if err := a.vault.PutSnapshot(ctx, a.cfg.HostID, SnapshotName, f, info.Size(), local); err != nil {
		return nil, fmt.Errorf("uploading snapshot: %w", err)
	}
	a.logger.Info("snapshot pushed", "version", local, "size", config.FormatSize(info.Size()))
	return &PushResult{Version: local, Size: info.Size(), Uploaded: true}, nil
}

// SnapshotPull downloads the latest snapshot and decrypts it to outPath,
// which must not exist.
func (a *App) SnapshotPull(ctx context.Context, passphrase, outPath string) (int64, error) {
	if a.vault == nil {
		return 0, fmt.Errorf("%w: no vault configured", clip.ErrConfig)
	}
	if _, err := os.Lstat(outPath); err == nil {
		return 0, fmt.Errorf("output %s already exists", outPath)
	}

	version, err := a.vault.SnapshotVersion(ctx, a.cfg.HostID, SnapshotName)
	if err != nil {
		return 0, fmt.Errorf("checking remote snapshot version: %w", err)
	}

	dec, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return 0, fmt.Errorf("unlocking private key: %w", err)
	}

	tmp, err := os.CreateTemp("", "clipvault-pull-*.age")
	if err != nil {
		return 0, fmt.Errorf("creating download file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := a.vault.GetSnapshot(ctx, a.cfg.HostID, SnapshotName, tmp); err != nil {
		return 0, fmt.Errorf("downloading snapshot: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewinding download: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return 0, fmt.Errorf("creating output dir: %w", err)
	}
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return 0, fmt.Errorf("creating output: %w", err)
	}
	if err := dec.Decrypt(tmp, out); err != nil {
		out.Close()
		os.Remove(outPath)
		return 0, fmt.Errorf("decrypting snapshot: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(outPath)
		return 0, fmt.Errorf("closing output: %w", err)
	}

	a.logger.Info("snapshot pulled", "version", version, "path", outPath)
	return version, nil
}

func encryptFile(enc clip.Encryptor, src, dest string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("creating encrypted snapshot: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("closing encrypted snapshot: %w", cerr)
		}
	}()

	if err := enc.Encrypt(in, out); err != nil {
		return fmt.Errorf("encrypting snapshot: %w", err)
	}
	return nil
}

// Fail marks the current operation as failed for the closing log line.
func (a *App) Fail() {
	a.op.Fail()
}

// Close releases the database and log file.
func (a *App) Close() error {
	a.logger.Debug("operation finished", "operation", a.op.Name, "status", a.op.Status)

	var errs []error
	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing log file: %w", err))
		}
	}
	return errors.Join(errs...)
}
